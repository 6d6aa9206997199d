package position

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/tradejournal/internal/domain"
)

func closedLong(execs ...domain.ExecutionRecord) domain.Position {
	res := NewBuilder().Build(execs)
	if len(res.Positions) != 1 {
		panic("fixture must build exactly one position")
	}
	return res.Positions[0]
}

func TestTotals_WeightedAverages(t *testing.T) {
	p := closedLong(
		fill(1, "Buy", 1, 100, 0),
		fill(2, "Buy", 3, 104, time.Minute),
		fill(3, "Sell", 2, 106, 2*time.Minute),
		fill(4, "Sell", 2, 104, 3*time.Minute),
	)
	assert.InDelta(t, 103.0, p.AverageEntryPrice, 1e-9)
	require.NotNil(t, p.AverageExitPrice)
	assert.InDelta(t, 105.0, *p.AverageExitPrice, 1e-9)
	assert.InDelta(t, 2.0, p.TotalPointsPnL, 1e-9)
}

func TestTotals_ExitLegPrefersExitPrice(t *testing.T) {
	exit := 103.5
	closing := fill(2, "Sell", 1, 0, time.Minute)
	closing.ExitPrice = &exit

	p := closedLong(fill(1, "Buy", 1, 100, 0), closing)
	require.NotNil(t, p.AverageExitPrice)
	assert.Equal(t, 103.5, *p.AverageExitPrice)
	assert.Equal(t, 3.5, p.TotalPointsPnL)
}

func TestTotals_DollarsCommissionAndRiskReward(t *testing.T) {
	tests := []struct {
		name       string
		dollars    float64
		commission float64
		want       *float64
	}{
		{"winner", 20, 1.25, ptr(8.0)},
		{"loser", -10, 1.25, ptr(0.25)},
		{"scratch", 0, 1.25, nil},
		{"no commission", 20, 0, nil},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			p := closedLong(
				withPnL(fill(1, "Buy", 2, 100, 0), 0, tc.commission),
				withPnL(fill(2, "Sell", 2, 105, time.Minute), tc.dollars, tc.commission),
			)
			assert.Equal(t, tc.dollars, p.TotalDollarsPnL)
			assert.Equal(t, 2*tc.commission, p.TotalCommission)
			if tc.want == nil {
				assert.Nil(t, p.RiskRewardRatio)
				return
			}
			require.NotNil(t, p.RiskRewardRatio)
			assert.InDelta(t, *tc.want, *p.RiskRewardRatio, 1e-9)
		})
	}
}

func TestTotals_OpenPositionHasNoExitFigures(t *testing.T) {
	res := NewBuilder().Build([]domain.ExecutionRecord{
		withPnL(fill(1, "Buy", 2, 100, 0), 0, 1),
		withPnL(fill(2, "Sell", 1, 110, time.Minute), 10, 1),
	})
	require.Len(t, res.Positions, 1)
	p := res.Positions[0]
	assert.True(t, p.IsOpen())
	assert.Nil(t, p.AverageExitPrice)
	assert.Nil(t, p.RiskRewardRatio)
	assert.Zero(t, p.TotalPointsPnL)
	assert.Equal(t, 10.0, p.TotalDollarsPnL)
	assert.Equal(t, 2.0, p.TotalCommission)
}

func TestTotals_Idempotent(t *testing.T) {
	p := closedLong(
		withPnL(fill(1, "Buy", 1, 100.25, 0), 0, 0.62),
		withPnL(fill(2, "Buy", 2, 100.75, time.Minute), 0, 1.24),
		withPnL(fill(3, "Sell", 3, 101.5, 2*time.Minute), 7.5, 1.86),
	)
	again := Totals{}.Compute(p)
	assert.Equal(t, p, again)
	assert.Equal(t, again, Totals{}.Compute(again))
}

func ptr(v float64) *float64 { return &v }
