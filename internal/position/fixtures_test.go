package position

import (
	"time"

	"github.com/alanyoungcy/tradejournal/internal/domain"
)

var t0 = time.Date(2024, 3, 1, 14, 30, 0, 0, time.UTC)

// fill returns an execution on the default test pair placed at t0+at.
func fill(id int64, side string, qty int64, price float64, at time.Duration) domain.ExecutionRecord {
	return domain.ExecutionRecord{
		ID:         id,
		Account:    "SIM101",
		Instrument: "MNQ 03-24",
		Side:       side,
		Quantity:   qty,
		EntryPrice: price,
		EntryTime:  t0.Add(at),
	}
}

func linked(e domain.ExecutionRecord, group int64) domain.ExecutionRecord {
	e.LinkGroupID = &group
	return e
}

func on(e domain.ExecutionRecord, account, instrument string) domain.ExecutionRecord {
	e.Account = account
	e.Instrument = instrument
	return e
}

func withPnL(e domain.ExecutionRecord, dollars, commission float64) domain.ExecutionRecord {
	e.DollarsGainLoss = dollars
	e.Commission = commission
	return e
}

var testPair = domain.Pair{Account: "SIM101", Instrument: "MNQ 03-24"}

func ids(execs []domain.ExecutionRecord) []int64 {
	out := make([]int64, len(execs))
	for i, e := range execs {
		out[i] = e.ID
	}
	return out
}
