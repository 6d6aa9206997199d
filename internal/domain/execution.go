package domain

import (
	"strconv"
	"strings"
	"time"
)

// ExecutionRecord is a single fill as stored by the import workflow. The
// rebuild engine only ever changes LinkGroupID.
type ExecutionRecord struct {
	ID              int64      `json:"id"`
	Account         string     `json:"account"`
	Instrument      string     `json:"instrument"`
	Side            string     `json:"side"` // raw token, see ParseSide
	Quantity        int64      `json:"quantity"`
	EntryPrice      float64    `json:"entry_price"`
	ExitPrice       *float64   `json:"exit_price,omitempty"`
	EntryTime       time.Time  `json:"entry_time"`
	ExitTime        *time.Time `json:"exit_time,omitempty"`
	Commission      float64    `json:"commission"`
	DollarsGainLoss float64    `json:"dollars_gain_loss"`
	PointsGainLoss  float64    `json:"points_gain_loss"`
	LinkGroupID     *int64     `json:"link_group_id,omitempty"`
	ExecutionID     string     `json:"execution_id"` // external dedup key
	Deleted         bool       `json:"deleted,omitempty"`
}

// Pair returns the (account, instrument) key the execution belongs to.
func (e ExecutionRecord) Pair() Pair {
	return Pair{Account: e.Account, Instrument: e.Instrument}
}

// Pair identifies one independently rebuilt (account, instrument) group.
type Pair struct {
	Account    string `json:"account"`
	Instrument string `json:"instrument"`
}

func (p Pair) String() string {
	return p.Account + "/" + p.Instrument
}

// Key is an unambiguous encoding of the pair for lock and cache keys. The
// account is length-prefixed so no account or instrument spelling can make
// two pairs share a key.
func (p Pair) Key() string {
	return strconv.Itoa(len(p.Account)) + ":" + p.Account + ":" + p.Instrument
}

// Direction is the sign an execution contributes to the running quantity.
type Direction int

const (
	DirectionNone  Direction = 0
	DirectionLong  Direction = 1
	DirectionShort Direction = -1
)

// sideTokens maps normalized side tokens to a direction.
var sideTokens = map[string]Direction{
	"buy":        DirectionLong,
	"b":          DirectionLong,
	"long":       DirectionLong,
	"buytocover": DirectionLong,
	"cover":      DirectionLong,
	"sell":       DirectionShort,
	"s":          DirectionShort,
	"short":      DirectionShort,
	"sellshort":  DirectionShort,
}

// NormalizeSide lowercases a side token and strips separators so that
// "Buy To Cover", "buy_to_cover" and "BuyToCover" compare equal.
func NormalizeSide(side string) string {
	side = strings.ToLower(strings.TrimSpace(side))
	return strings.NewReplacer(" ", "", "_", "", "-", "").Replace(side)
}

// ParseSide converts a raw side token into a direction. It returns a
// *DataError wrapping ErrInvalidSide for unknown tokens.
func ParseSide(side string) (Direction, error) {
	if d, ok := sideTokens[NormalizeSide(side)]; ok {
		return d, nil
	}
	return DirectionNone, &DataError{Field: "side", Value: side, Err: ErrInvalidSide}
}

// SignedDelta returns the signed quantity change the execution applies to
// the running position. Malformed side or quantity yields a *DataError.
func (e ExecutionRecord) SignedDelta() (int64, error) {
	dir, err := ParseSide(e.Side)
	if err != nil {
		var de *DataError
		if asDataError(err, &de) {
			de.ExecutionID = e.ID
		}
		return 0, err
	}
	if e.Quantity <= 0 {
		return 0, &DataError{ExecutionID: e.ID, Field: "quantity", Value: e.Quantity, Err: ErrInvalidQuantity}
	}
	return int64(dir) * e.Quantity, nil
}

// ExecutionFilter scopes an execution listing. Empty fields match everything.
type ExecutionFilter struct {
	Account    string
	Instrument string
}

// Matches reports whether the pair falls inside the filter.
func (f ExecutionFilter) Matches(p Pair) bool {
	if f.Account != "" && f.Account != p.Account {
		return false
	}
	if f.Instrument != "" && f.Instrument != p.Instrument {
		return false
	}
	return true
}
