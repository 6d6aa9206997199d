package position

import (
	"reflect"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/alanyoungcy/tradejournal/internal/domain"
)

func lots(maxLen int) gopter.Gen {
	return gen.IntRange(1, maxLen).FlatMap(func(n interface{}) gopter.Gen {
		return gen.SliceOfN(n.(int), gen.Int64Range(1, 20))
	}, reflect.TypeOf([]int64{}))
}

// scaleInOut buys every lot, then sells them back in reverse order so the
// running quantity never crosses zero.
func scaleInOut(buys []int64) []domain.ExecutionRecord {
	var execs []domain.ExecutionRecord
	var id int64
	for _, q := range buys {
		id++
		execs = append(execs, fill(id, "Buy", q, 100+float64(id), time.Duration(id)*time.Minute))
	}
	for i := len(buys) - 1; i >= 0; i-- {
		id++
		execs = append(execs, fill(id, "Sell", buys[i], 100+float64(id), time.Duration(id)*time.Minute))
	}
	return execs
}

func TestProperty_ZeroToZeroWalkBuildsOneClosedPosition(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("build yields one closed position at peak quantity", prop.ForAll(
		func(buys []int64) bool {
			var peak int64
			for _, q := range buys {
				peak += q
			}
			res := NewBuilder().Build(scaleInOut(buys))
			if len(res.Positions) != 1 || len(res.Issues) != 0 {
				return false
			}
			p := res.Positions[0]
			return p.IsClosed() && p.TotalQuantity == peak && p.ExitTime != nil && p.AverageExitPrice != nil
		},
		lots(8),
	))

	properties.Property("engine repairs the heuristic split back to one position", prop.ForAll(
		func(buys []int64) bool {
			res := NewEngine(0, 0).Run(testPair, scaleInOut(buys))
			return len(res.Positions) == 1 && res.Positions[0].IsClosed() && !res.Report.HasErrors()
		},
		lots(4),
	))

	properties.TestingRun(t)
}

// signedWalk turns deltas into executions three minutes apart. A zero delta
// becomes a row with an unparseable side.
func signedWalk(ds []int) []domain.ExecutionRecord {
	execs := make([]domain.ExecutionRecord, len(ds))
	for i, d := range ds {
		side, qty := "Buy", int64(d)
		switch {
		case d < 0:
			side, qty = "Sell", int64(-d)
		case d == 0:
			side, qty = "flat", 1
		}
		execs[i] = fill(int64(i+1), side, qty, 100+float64(i), time.Duration(i*3)*time.Minute)
	}
	return execs
}

func signedDeltas(maxLen int) gopter.Gen {
	return gen.IntRange(1, maxLen).FlatMap(func(n interface{}) gopter.Gen {
		return gen.SliceOfN(n.(int), gen.IntRange(-4, 4))
	}, reflect.TypeOf([]int{}))
}

func TestProperty_PositionsAreFlatOnlyAtTheirLastExecution(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 300
	properties := gopter.NewProperties(parameters)

	properties.Property("no position goes flat before its last execution", prop.ForAll(
		func(ds []int) bool {
			res := NewEngine(0, 0).Run(testPair, signedWalk(ds))
			for _, p := range res.Positions {
				var running int64
				for i, e := range p.Executions {
					delta, err := e.SignedDelta()
					if err != nil {
						return false
					}
					running += delta
					if running == 0 && i < len(p.Executions)-1 {
						return false
					}
				}
			}
			return true
		},
		signedDeltas(14),
	))

	properties.Property("every parseable execution lands in exactly one position", prop.ForAll(
		func(ds []int) bool {
			execs := signedWalk(ds)
			res := NewEngine(0, 0).Run(testPair, execs)
			seen := make(map[int64]int)
			for _, p := range res.Positions {
				for _, e := range p.Executions {
					seen[e.ID]++
				}
			}
			for _, e := range execs {
				_, err := e.SignedDelta()
				want := 1
				if err != nil {
					want = 0
				}
				if seen[e.ID] != want {
					return false
				}
			}
			return true
		},
		signedDeltas(14),
	))

	properties.TestingRun(t)
}

func TestProperty_EngineIsDeterministic(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("rebuilding unchanged input gives identical results", prop.ForAll(
		func(ds []int) bool {
			execs := signedWalk(ds)
			e := NewEngine(0, 0)
			first := e.Run(testPair, execs)
			second := e.Run(testPair, execs)
			return reflect.DeepEqual(first, second)
		},
		signedDeltas(12),
	))

	properties.Property("totals are idempotent", prop.ForAll(
		func(buys []int64) bool {
			p := NewBuilder().Build(scaleInOut(buys)).Positions[0]
			return reflect.DeepEqual(p, Totals{}.Compute(p))
		},
		lots(6),
	))

	properties.TestingRun(t)
}
