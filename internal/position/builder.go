package position

import (
	"fmt"
	"time"

	"github.com/alanyoungcy/tradejournal/internal/domain"
)

// BuildResult holds the positions reconstructed from one or more groups and
// the anomalies tolerated along the way.
type BuildResult struct {
	Positions []domain.Position
	Issues    []domain.ValidationIssue
}

// Builder runs the permissive zero-crossing state machine. It never rejects
// a group: anomalies become issues and construction continues.
type Builder struct {
	Totals Totals
}

// NewBuilder returns a Builder using the default totals calculator.
func NewBuilder() Builder {
	return Builder{}
}

// walkState is the builder's OPEN-state accumulator.
type walkState struct {
	pos     domain.Position
	running int64
	peak    int64
}

// Build turns one time-ordered group into positions.
func (b Builder) Build(executions []domain.ExecutionRecord) BuildResult {
	return b.build(executions, domain.Origin{})
}

// BuildGrouping builds every group of g and concatenates the results.
func (b Builder) BuildGrouping(g Grouping) BuildResult {
	var out BuildResult
	for i, span := range g.Groups {
		origin := domain.Origin{GroupIndex: i, LinkGroupID: span.LinkGroupID, Sequential: g.Mode == Sequential}
		res := b.build(g.Group(i), origin)
		out.Positions = append(out.Positions, res.Positions...)
		out.Issues = append(out.Issues, res.Issues...)
	}
	return out
}

func (b Builder) build(executions []domain.ExecutionRecord, origin domain.Origin) BuildResult {
	var out BuildResult
	if len(executions) == 0 {
		return out
	}

	ordered := make([]domain.ExecutionRecord, len(executions))
	copy(ordered, executions)
	domain.SortExecutions(ordered)

	var cur *walkState
	for _, e := range ordered {
		delta, err := e.SignedDelta()
		if err != nil {
			out.Issues = append(out.Issues, domain.ValidationIssue{
				Kind:         domain.IssueInvalidAction,
				Severity:     domain.SeverityWarning,
				ExecutionIDs: []int64{e.ID},
				Message:      fmt.Sprintf("skipped execution %d: %v", e.ID, err),
			})
			continue
		}

		if cur == nil {
			// FLAT -> OPEN
			cur = &walkState{
				pos: domain.Position{
					Account:    e.Account,
					Instrument: e.Instrument,
					Type:       typeFor(delta),
					EntryTime:  e.EntryTime,
					Status:     domain.PositionStatusOpen,
					Executions: []domain.ExecutionRecord{e},
					Origin:     origin,
				},
				running: delta,
				peak:    abs(delta),
			}
			continue
		}

		previous := cur.running
		cur.running += delta
		cur.pos.Executions = append(cur.pos.Executions, e)

		if cur.running == 0 {
			// OPEN -> FLAT
			cur.pos.Status = domain.PositionStatusClosed
			out.Positions = append(out.Positions, b.finish(cur))
			cur = nil
			continue
		}

		// OPEN -> OPEN
		if q := abs(cur.running); q > cur.peak {
			cur.peak = q
		}
		if sign(previous) != sign(cur.running) {
			out.Issues = append(out.Issues, domain.ValidationIssue{
				Kind:         domain.IssueDirectionChange,
				Severity:     domain.SeverityWarning,
				ExecutionIDs: []int64{e.ID},
				Message: fmt.Sprintf("execution %d moved running quantity from %d to %d without passing through zero",
					e.ID, previous, cur.running),
			})
		}
	}

	if cur != nil {
		out.Positions = append(out.Positions, b.finish(cur))
	}
	return out
}

// finish stamps the derived fields on a completed walk and runs totals.
func (b Builder) finish(w *walkState) domain.Position {
	p := w.pos
	p.TotalQuantity = w.peak
	p.OpenQuantity = abs(w.running)
	p.ExecutionCount = len(p.Executions)
	p.ID = domain.PositionID(p.Account, p.Instrument, p.ExecutionIDs())
	if p.IsClosed() {
		last := p.Executions[len(p.Executions)-1]
		exit := exitTimeOf(last)
		p.ExitTime = &exit
	}
	return b.Totals.Compute(p)
}

// exitTimeOf returns the time an execution closed exposure: its exit time
// when recorded, otherwise its fill time.
func exitTimeOf(e domain.ExecutionRecord) time.Time {
	if e.ExitTime != nil {
		return *e.ExitTime
	}
	return e.EntryTime
}

func typeFor(delta int64) domain.PositionType {
	if delta > 0 {
		return domain.PositionTypeLong
	}
	return domain.PositionTypeShort
}

func sign(v int64) int {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	}
	return 0
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
