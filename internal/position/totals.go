package position

import (
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/tradejournal/internal/domain"
)

// Totals computes the aggregate figures of a built position. Prices and
// sums are accumulated in decimal so repeated runs give identical floats.
type Totals struct{}

// Compute returns p with its averages, P&L, commission and risk/reward
// filled in. Executions whose side cannot be parsed are ignored.
func (Totals) Compute(p domain.Position) domain.Position {
	dir := p.Type.Direction()

	var (
		entryNotional, entryQty = decimal.Zero, decimal.Zero
		exitNotional, exitQty   = decimal.Zero, decimal.Zero
		dollars, commission     = decimal.Zero, decimal.Zero
	)
	for _, e := range p.Executions {
		dollars = dollars.Add(decimal.NewFromFloat(e.DollarsGainLoss))
		commission = commission.Add(decimal.NewFromFloat(e.Commission))

		legDir, err := domain.ParseSide(e.Side)
		if err != nil || e.Quantity <= 0 {
			continue
		}
		qty := decimal.NewFromInt(e.Quantity)
		if legDir == dir {
			entryNotional = entryNotional.Add(decimal.NewFromFloat(e.EntryPrice).Mul(qty))
			entryQty = entryQty.Add(qty)
			continue
		}
		price := e.EntryPrice
		if e.ExitPrice != nil {
			price = *e.ExitPrice
		}
		exitNotional = exitNotional.Add(decimal.NewFromFloat(price).Mul(qty))
		exitQty = exitQty.Add(qty)
	}

	p.TotalDollarsPnL = dollars.InexactFloat64()
	p.TotalCommission = commission.InexactFloat64()
	p.ExecutionCount = len(p.Executions)

	avgEntry := decimal.Zero
	if entryQty.IsPositive() {
		avgEntry = entryNotional.Div(entryQty)
	}
	p.AverageEntryPrice = avgEntry.InexactFloat64()

	p.AverageExitPrice = nil
	p.TotalPointsPnL = 0
	p.RiskRewardRatio = nil
	if !p.IsClosed() {
		return p
	}

	if exitQty.IsPositive() {
		avgExit := exitNotional.Div(exitQty)
		v := avgExit.InexactFloat64()
		p.AverageExitPrice = &v

		points := avgExit.Sub(avgEntry)
		if p.Type == domain.PositionTypeShort {
			points = avgEntry.Sub(avgExit)
		}
		p.TotalPointsPnL = points.InexactFloat64()
	}

	p.RiskRewardRatio = riskReward(dollars, commission)
	return p
}

// riskReward is |pnl|/commission for winners and commission/|pnl| for
// losers. It is nil whenever the ratio would divide by zero.
func riskReward(pnl, commission decimal.Decimal) *float64 {
	if commission.IsZero() || pnl.IsZero() {
		return nil
	}
	var r decimal.Decimal
	if pnl.IsPositive() {
		r = pnl.Abs().Div(commission.Abs())
	} else {
		r = commission.Abs().Div(pnl.Abs())
	}
	v := r.InexactFloat64()
	return &v
}
