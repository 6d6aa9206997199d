package position

import (
	"time"

	"github.com/alanyoungcy/tradejournal/internal/domain"
)

// ActionKind names a repair strategy.
type ActionKind string

const (
	ActionMerge   ActionKind = "merge"
	ActionRebuild ActionKind = "rebuild"
)

// Action records one repair applied to a pair's positions.
type Action struct {
	Kind      ActionKind       `json:"kind"`
	Reason    domain.IssueKind `json:"reason,omitempty"`
	SourceIDs []string         `json:"source_ids"`
	ResultIDs []string         `json:"result_ids"`
}

// RepairResult is the repaired position set plus the actions taken. An
// empty Actions slice means the input was returned unchanged.
type RepairResult struct {
	Positions []domain.Position
	Actions   []Action
}

// Repairer applies merge and rebuild strategies chosen from a validation
// report.
type Repairer struct {
	Window  time.Duration
	Builder Builder
}

// NewRepairer returns a Repairer whose adjacency merges use window.
func NewRepairer(window time.Duration) Repairer {
	if window <= 0 {
		window = DefaultProximityWindow
	}
	return Repairer{Window: window, Builder: NewBuilder()}
}

// Repair resolves the findings of report. Error-severity findings send the
// positions they name through a sequential rebuild; overlap warnings are
// merged. A merge whose combined walk would go flat before its last
// execution is rebuilt instead, which splits it at the zero crossing.
// executions is the pair's full input and is used when an error names no
// position.
func (r Repairer) Repair(positions []domain.Position, executions []domain.ExecutionRecord, report domain.ValidationReport) RepairResult {
	byID := make(map[string]domain.Position, len(positions))
	for _, p := range positions {
		byID[p.ID] = p
	}

	rebuild := make(map[string]bool)
	var rebuildReason domain.IssueKind
	for _, issue := range report.Errors {
		if issue.Kind == domain.IssueInvalidAction {
			continue
		}
		if rebuildReason == "" {
			rebuildReason = issue.Kind
		}
		if len(issue.PositionIDs) == 0 {
			for id := range byID {
				rebuild[id] = true
			}
			continue
		}
		for _, id := range issue.PositionIDs {
			if _, ok := byID[id]; ok {
				rebuild[id] = true
			}
		}
	}

	uf := newUnionFind()
	for _, issue := range report.Warnings {
		if len(issue.PositionIDs) < 2 || !mergeable(issue, byID) {
			continue
		}
		first := issue.PositionIDs[0]
		skip := false
		for _, id := range issue.PositionIDs {
			if _, ok := byID[id]; !ok || rebuild[id] {
				skip = true
				break
			}
		}
		if skip {
			continue
		}
		for _, id := range issue.PositionIDs[1:] {
			uf.union(first, id)
		}
	}

	var merges [][]string
	for _, set := range uf.sets() {
		var sources []domain.Position
		for _, id := range set {
			sources = append(sources, byID[id])
		}
		combined := executionsOf(sources)
		domain.SortExecutions(combined)
		if _, flat := flatBeforeEnd(combined); flat {
			if rebuildReason == "" {
				rebuildReason = domain.IssueTimeOverlap
			}
			for _, id := range set {
				rebuild[id] = true
			}
			continue
		}
		merges = append(merges, set)
	}

	var out RepairResult
	replaced := make(map[string]bool)
	if len(rebuild) > 0 {
		var sources []domain.Position
		for _, p := range positions {
			if rebuild[p.ID] {
				sources = append(sources, p)
			}
		}
		var execs []domain.ExecutionRecord
		if len(sources) == len(positions) {
			execs = executions
		} else {
			execs = executionsOf(sources)
		}
		rebuilt := r.RebuildPositions(execs)
		if !sameShape(sources, rebuilt.Positions) {
			for id := range rebuild {
				replaced[id] = true
			}
			out.Positions = append(out.Positions, rebuilt.Positions...)
			out.Actions = append(out.Actions, Action{
				Kind:      ActionRebuild,
				Reason:    rebuildReason,
				SourceIDs: idsOf(sources),
				ResultIDs: idsOf(rebuilt.Positions),
			})
		}
	}

	for _, set := range merges {
		var sources []domain.Position
		for _, id := range set {
			sources = append(sources, byID[id])
		}
		merged := MergePositions(sources...)
		out.Positions = append(out.Positions, merged)
		out.Actions = append(out.Actions, Action{
			Kind:      ActionMerge,
			Reason:    domain.IssueTimeOverlap,
			SourceIDs: set,
			ResultIDs: []string{merged.ID},
		})
		for _, id := range set {
			replaced[id] = true
		}
	}

	for _, p := range positions {
		if !replaced[p.ID] {
			out.Positions = append(out.Positions, p)
		}
	}
	domain.SortPositions(out.Positions)
	return out
}

// mergeable reports whether a warning calls for a merge. Only overlaps
// merge, and never across a link group: a position built from an explicit
// group is only merged with positions of that same group. Same-type
// neighbours are left as warnings; the earlier one is closed, so joining
// them would put a flat point inside the result.
func mergeable(issue domain.ValidationIssue, byID map[string]domain.Position) bool {
	if issue.Kind != domain.IssueTimeOverlap {
		return false
	}
	var link *int64
	for i, id := range issue.PositionIDs {
		p, ok := byID[id]
		if !ok {
			return false
		}
		if i == 0 {
			link = p.Origin.LinkGroupID
			continue
		}
		if !sameLink(link, p.Origin.LinkGroupID) {
			return false
		}
	}
	return true
}

func sameLink(a, b *int64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// RebuildPositions reruns grouping and construction permissively over
// executions, keeping link groups and letting the zero-crossing walk place
// every other boundary. The result is accepted as is.
func (r Repairer) RebuildPositions(executions []domain.ExecutionRecord) BuildResult {
	g := Grouper{Window: r.Window, Mode: Sequential}.Group(executions)
	return r.Builder.BuildGrouping(g)
}

// MergePositions unions the executions of ps into one position. Entry time
// is the earliest entry, exit time the latest exit, and the result is
// closed only if every source was closed.
func MergePositions(ps ...domain.Position) domain.Position {
	if len(ps) == 0 {
		return domain.Position{}
	}
	sources := make([]domain.Position, len(ps))
	copy(sources, ps)
	domain.SortPositions(sources)

	first := sources[0]
	merged := domain.Position{
		Account:    first.Account,
		Instrument: first.Instrument,
		Type:       first.Type,
		EntryTime:  first.EntryTime,
		Status:     domain.PositionStatusClosed,
		Origin:     first.Origin,
	}

	var exit *time.Time
	for _, p := range sources {
		merged.Executions = append(merged.Executions, p.Executions...)
		merged.SourcePositionIDs = append(merged.SourcePositionIDs, p.ID)
		if p.EntryTime.Before(merged.EntryTime) {
			merged.EntryTime = p.EntryTime
		}
		if p.IsOpen() {
			merged.Status = domain.PositionStatusOpen
		}
		if p.ExitTime != nil && (exit == nil || p.ExitTime.After(*exit)) {
			t := *p.ExitTime
			exit = &t
		}
	}
	domain.SortExecutions(merged.Executions)
	if merged.IsClosed() {
		merged.ExitTime = exit
	}

	var running, peak int64
	for _, e := range merged.Executions {
		delta, err := e.SignedDelta()
		if err != nil {
			continue
		}
		running += delta
		if q := abs(running); q > peak {
			peak = q
		}
	}
	merged.TotalQuantity = peak
	merged.OpenQuantity = abs(running)
	merged.ID = domain.PositionID(merged.Account, merged.Instrument, merged.ExecutionIDs())
	return Totals{}.Compute(merged)
}

func executionsOf(ps []domain.Position) []domain.ExecutionRecord {
	var out []domain.ExecutionRecord
	for _, p := range ps {
		out = append(out, p.Executions...)
	}
	return out
}

func idsOf(ps []domain.Position) []string {
	ids := make([]string, len(ps))
	for i, p := range ps {
		ids[i] = p.ID
	}
	return ids
}

// sameShape reports whether a rebuild reproduced its sources: the same
// ids with the same type, status and open quantity.
func sameShape(a, b []domain.Position) bool {
	if len(a) != len(b) {
		return false
	}
	shape := func(ps []domain.Position) map[string]domain.Position {
		m := make(map[string]domain.Position, len(ps))
		for _, p := range ps {
			m[p.ID] = p
		}
		return m
	}
	sa, sb := shape(a), shape(b)
	for id, p := range sa {
		q, ok := sb[id]
		if !ok || p.Type != q.Type || p.Status != q.Status || p.OpenQuantity != q.OpenQuantity {
			return false
		}
	}
	return true
}

// unionFind groups position ids that must be merged together.
type unionFind struct {
	parent map[string]string
	order  []string
}

func newUnionFind() *unionFind {
	return &unionFind{parent: make(map[string]string)}
}

func (u *unionFind) find(id string) string {
	if _, ok := u.parent[id]; !ok {
		u.parent[id] = id
		u.order = append(u.order, id)
	}
	for u.parent[id] != id {
		u.parent[id] = u.parent[u.parent[id]]
		id = u.parent[id]
	}
	return id
}

func (u *unionFind) union(a, b string) {
	ra, rb := u.find(a), u.find(b)
	if ra != rb {
		u.parent[rb] = ra
	}
}

// sets returns every set of two or more ids, in first-seen order.
func (u *unionFind) sets() [][]string {
	members := make(map[string][]string)
	var roots []string
	for _, id := range u.order {
		root := u.find(id)
		if _, ok := members[root]; !ok {
			roots = append(roots, root)
		}
		members[root] = append(members[root], id)
	}
	var out [][]string
	for _, root := range roots {
		if len(members[root]) > 1 {
			out = append(out, members[root])
		}
	}
	return out
}
