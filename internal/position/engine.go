package position

import (
	"time"

	"github.com/alanyoungcy/tradejournal/internal/domain"
)

// DefaultMaxRepairPasses bounds the validate/repair loop of one pair.
const DefaultMaxRepairPasses = 3

// PairResult is everything the engine produced for one (account,
// instrument) pair.
type PairResult struct {
	Pair            domain.Pair
	Positions       []domain.Position
	Trace           []SplitDecision
	GroupCount      int
	PreBuild        domain.ValidationReport
	BuildIssues     []domain.ValidationIssue
	Report          domain.ValidationReport
	Actions         []Action
	BlockedGroups   int
	Passes          int
	TradesProcessed int
}

// Blocked reports whether strict validation rejected any group of the pair.
func (r PairResult) Blocked() bool { return r.BlockedGroups > 0 }

// Engine chains grouping, strict validation, construction, post-build
// validation and repair for a single pair.
type Engine struct {
	Grouper   Grouper
	Builder   Builder
	Validator Validator
	Repairer  Repairer
	MaxPasses int
	// FailOpen rebuilds groups rejected by strict validation permissively
	// instead of leaving them without positions.
	FailOpen bool
}

// NewEngine returns an Engine with the given proximity window and repair
// pass bound. Blocked groups are rebuilt fail-open.
func NewEngine(window time.Duration, maxPasses int) *Engine {
	if maxPasses <= 0 {
		maxPasses = DefaultMaxRepairPasses
	}
	return &Engine{
		Grouper:   NewGrouper(window),
		Builder:   NewBuilder(),
		Repairer:  NewRepairer(window),
		MaxPasses: maxPasses,
		FailOpen:  true,
	}
}

// Run reconstructs the positions of one pair from its executions.
func (e *Engine) Run(pair domain.Pair, executions []domain.ExecutionRecord) PairResult {
	res := PairResult{Pair: pair, TradesProcessed: len(executions)}
	if len(executions) == 0 {
		return res
	}

	// Strict pass over the real time sequence: link groups on their own and
	// everything else as one walk.
	seq := e.Grouper.WithMode(Sequential).Group(executions)
	blocked := make(map[int64]bool)
	var held []domain.ExecutionRecord
	var heldReason domain.IssueKind
	for i := range seq.Groups {
		group := seq.Group(i)
		report := e.Validator.PreBuild(group)
		res.PreBuild.Merge(report)
		if !report.HasErrors() {
			continue
		}
		res.BlockedGroups++
		if heldReason == "" {
			heldReason = report.Errors[0].Kind
		}
		for _, ex := range group {
			blocked[ex.ID] = true
		}
		held = append(held, group...)
	}
	dataErrors := res.PreBuild.Has(domain.IssueInvalidAction)

	free := make([]domain.ExecutionRecord, 0, len(executions))
	for _, ex := range executions {
		if !blocked[ex.ID] {
			free = append(free, ex)
		}
	}

	grouping := e.Grouper.Group(free)
	res.Trace = grouping.Trace
	res.GroupCount = len(grouping.Groups)
	built := e.Builder.BuildGrouping(grouping)
	positions := built.Positions
	res.BuildIssues = built.Issues

	if len(held) > 0 && e.FailOpen {
		rebuilt := e.Repairer.RebuildPositions(held)
		positions = append(positions, rebuilt.Positions...)
		res.BuildIssues = append(res.BuildIssues, rebuilt.Issues...)
		res.Actions = append(res.Actions, Action{
			Kind:      ActionRebuild,
			Reason:    heldReason,
			ResultIDs: idsOf(rebuilt.Positions),
		})
	}
	domain.SortPositions(positions)

	scope := executions
	if !e.FailOpen {
		scope = free
	}
	report := e.Validator.PostBuild(positions, scope, dataErrors)
	for pass := 0; pass < e.MaxPasses; pass++ {
		repaired := e.Repairer.Repair(positions, scope, report)
		if len(repaired.Actions) == 0 {
			break
		}
		positions = repaired.Positions
		res.Actions = append(res.Actions, repaired.Actions...)
		res.Passes++
		report = e.Validator.PostBuild(positions, scope, dataErrors)
	}

	res.Positions = positions
	res.Report = report
	return res
}
