// Package position reconstructs positions from execution records. All
// functions here are pure: they take executions in and hand positions,
// issues and traces back without touching storage or logging.
package position

import (
	"sort"
	"time"

	"github.com/alanyoungcy/tradejournal/internal/domain"
)

// DefaultProximityWindow is the largest entry-time gap that keeps two
// same-side executions in one heuristic group.
const DefaultProximityWindow = 5 * time.Minute

// GroupMode selects how executions without a link group are partitioned.
type GroupMode int

const (
	// Heuristic splits on account, instrument and side changes and on gaps
	// wider than the proximity window.
	Heuristic GroupMode = iota
	// Sequential keeps the remainder as one time-ordered group and lets the
	// zero-crossing walk decide the boundaries.
	Sequential
)

// SplitReason explains why a new group was started.
type SplitReason string

const (
	SplitLinkGroup         SplitReason = "link_group"
	SplitAccountChanged    SplitReason = "account_changed"
	SplitInstrumentChanged SplitReason = "instrument_changed"
	SplitSideChanged       SplitReason = "side_changed"
	SplitGapExceeded       SplitReason = "gap_exceeded"
	SplitFirst             SplitReason = "first"
)

// Span is a half-open index range [Start, End) into a Grouping's arena.
type Span struct {
	Start       int
	End         int
	LinkGroupID *int64
}

// Len returns the number of executions in the span.
func (s Span) Len() int { return s.End - s.Start }

// Explicit reports whether the span is a user link group.
func (s Span) Explicit() bool { return s.LinkGroupID != nil }

// SplitDecision is one entry of the grouping trace.
type SplitDecision struct {
	Index       int           `json:"index"` // arena index that starts the new group
	ExecutionID int64         `json:"execution_id"`
	Reason      SplitReason   `json:"reason"`
	Gap         time.Duration `json:"gap,omitempty"`
}

// Grouping is the Grouper's result: a sorted arena of executions plus the
// spans that partition it. Spans are contiguous, non-overlapping and each is
// time-ordered.
type Grouping struct {
	Mode   GroupMode
	Arena  []domain.ExecutionRecord
	Groups []Span
	Trace  []SplitDecision
}

// Group returns a copy of the executions of group i.
func (g Grouping) Group(i int) []domain.ExecutionRecord {
	s := g.Groups[i]
	out := make([]domain.ExecutionRecord, s.Len())
	copy(out, g.Arena[s.Start:s.End])
	return out
}

// Slices returns every group as its own slice, in group order.
func (g Grouping) Slices() [][]domain.ExecutionRecord {
	out := make([][]domain.ExecutionRecord, len(g.Groups))
	for i := range g.Groups {
		out[i] = g.Group(i)
	}
	return out
}

// Grouper partitions the executions of one (account, instrument) pair into
// candidate position groups.
type Grouper struct {
	Window time.Duration
	Mode   GroupMode
}

// NewGrouper returns a heuristic Grouper with the given proximity window.
// A non-positive window falls back to DefaultProximityWindow.
func NewGrouper(window time.Duration) Grouper {
	if window <= 0 {
		window = DefaultProximityWindow
	}
	return Grouper{Window: window, Mode: Heuristic}
}

// WithMode returns a copy of the grouper using mode.
func (g Grouper) WithMode(mode GroupMode) Grouper {
	g.Mode = mode
	return g
}

// Group partitions executions. Executions sharing a link group id always
// form one group; the remainder is split according to the grouper's mode.
func (g Grouper) Group(executions []domain.ExecutionRecord) Grouping {
	out := Grouping{Mode: g.Mode}
	if len(executions) == 0 {
		return out
	}

	linked := make(map[int64][]domain.ExecutionRecord)
	var rest []domain.ExecutionRecord
	for _, e := range executions {
		if e.LinkGroupID != nil {
			linked[*e.LinkGroupID] = append(linked[*e.LinkGroupID], e)
			continue
		}
		rest = append(rest, e)
	}

	linkIDs := make([]int64, 0, len(linked))
	for id := range linked {
		linkIDs = append(linkIDs, id)
	}
	sort.Slice(linkIDs, func(i, j int) bool { return linkIDs[i] < linkIDs[j] })

	out.Arena = make([]domain.ExecutionRecord, 0, len(executions))
	for _, id := range linkIDs {
		members := linked[id]
		domain.SortExecutions(members)
		start := len(out.Arena)
		out.Arena = append(out.Arena, members...)
		linkID := id
		out.Groups = append(out.Groups, Span{Start: start, End: len(out.Arena), LinkGroupID: &linkID})
		out.Trace = append(out.Trace, SplitDecision{Index: start, ExecutionID: members[0].ID, Reason: SplitLinkGroup})
	}

	if len(rest) == 0 {
		return out
	}

	base := len(out.Arena)
	if g.Mode == Sequential {
		domain.SortExecutions(rest)
		out.Arena = append(out.Arena, rest...)
		out.Groups = append(out.Groups, Span{Start: base, End: len(out.Arena)})
		out.Trace = append(out.Trace, SplitDecision{Index: base, ExecutionID: rest[0].ID, Reason: SplitFirst})
		return out
	}

	sortForHeuristic(rest)
	out.Arena = append(out.Arena, rest...)

	window := g.Window
	if window <= 0 {
		window = DefaultProximityWindow
	}
	// Heuristic spans share account, instrument and side, so the sort key
	// already leaves each one in (entry_time, id) order.
	spans, trace := splitHeuristic(out.Arena, base, window)
	out.Groups = append(out.Groups, spans...)
	out.Trace = append(out.Trace, trace...)
	return out
}

// splitHeuristic walks arena[base:] (already sorted by sortForHeuristic) and
// returns the spans and the reasons each one was started.
func splitHeuristic(arena []domain.ExecutionRecord, base int, window time.Duration) ([]Span, []SplitDecision) {
	spans := []Span{{Start: base, End: base + 1}}
	trace := []SplitDecision{{Index: base, ExecutionID: arena[base].ID, Reason: SplitFirst}}

	for i := base + 1; i < len(arena); i++ {
		prev, cur := arena[i-1], arena[i]
		var reason SplitReason
		var gap time.Duration
		switch {
		case cur.Account != prev.Account:
			reason = SplitAccountChanged
		case cur.Instrument != prev.Instrument:
			reason = SplitInstrumentChanged
		case sideKey(cur.Side) != sideKey(prev.Side):
			reason = SplitSideChanged
		default:
			gap = cur.EntryTime.Sub(prev.EntryTime)
			if gap > window {
				reason = SplitGapExceeded
			}
		}
		if reason == "" {
			spans[len(spans)-1].End = i + 1
			continue
		}
		spans = append(spans, Span{Start: i, End: i + 1})
		trace = append(trace, SplitDecision{Index: i, ExecutionID: cur.ID, Reason: reason, Gap: gap})
	}
	return spans, trace
}

// sideKey groups equivalent side tokens together. Unparseable tokens keep
// their normalized spelling so each bad token stays in its own bucket.
func sideKey(side string) string {
	switch dir, err := domain.ParseSide(side); {
	case err != nil:
		return "?" + domain.NormalizeSide(side)
	case dir == domain.DirectionLong:
		return "+"
	default:
		return "-"
	}
}

func sortForHeuristic(execs []domain.ExecutionRecord) {
	sort.SliceStable(execs, func(i, j int) bool {
		a, b := execs[i], execs[j]
		if a.Account != b.Account {
			return a.Account < b.Account
		}
		if a.Instrument != b.Instrument {
			return a.Instrument < b.Instrument
		}
		if ka, kb := sideKey(a.Side), sideKey(b.Side); ka != kb {
			return ka < kb
		}
		if !a.EntryTime.Equal(b.EntryTime) {
			return a.EntryTime.Before(b.EntryTime)
		}
		return a.ID < b.ID
	})
}
