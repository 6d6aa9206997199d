package position

import (
	"fmt"

	"github.com/alanyoungcy/tradejournal/internal/domain"
)

// Validator detects structural errors before construction and boundary
// problems after it.
type Validator struct{}

// PreBuild strictly replays the zero-crossing walk over one group. Any
// unparseable side, non-positive quantity or direction change without a
// zero crossing is an error that blocks construction of the group.
func (Validator) PreBuild(executions []domain.ExecutionRecord) domain.ValidationReport {
	var report domain.ValidationReport

	ordered := make([]domain.ExecutionRecord, len(executions))
	copy(ordered, executions)
	domain.SortExecutions(ordered)

	var running int64
	for _, e := range ordered {
		delta, err := e.SignedDelta()
		if err != nil {
			report.Add(domain.ValidationIssue{
				Kind:         domain.IssueInvalidAction,
				Severity:     domain.SeverityError,
				ExecutionIDs: []int64{e.ID},
				Message:      err.Error(),
			})
			continue
		}
		previous := running
		running += delta
		if previous != 0 && running != 0 && sign(previous) != sign(running) {
			report.Add(domain.ValidationIssue{
				Kind:         domain.IssueDirectionChange,
				Severity:     domain.SeverityError,
				ExecutionIDs: []int64{e.ID},
				Message: fmt.Sprintf("execution %d reverses running quantity %d -> %d without a zero crossing",
					e.ID, previous, running),
			})
		}
	}
	return report
}

// PostBuild inspects constructed positions of one pair. executions is the
// full input the positions were built from; dataErrors escalates boundary
// warnings to errors when the pair also carried unparseable rows.
func (v Validator) PostBuild(positions []domain.Position, executions []domain.ExecutionRecord, dataErrors bool) domain.ValidationReport {
	var report domain.ValidationReport

	boundary := domain.SeverityWarning
	if dataErrors {
		boundary = domain.SeverityError
	}

	sorted := make([]domain.Position, len(positions))
	copy(sorted, positions)
	domain.SortPositions(sorted)

	for _, p := range sorted {
		for _, issue := range v.checkWalk(p) {
			report.Add(issue)
		}
	}

	for i := 0; i+1 < len(sorted); i++ {
		p1, p2 := sorted[i], sorted[i+1]
		if p1.Pair() != p2.Pair() {
			continue
		}
		ids := []string{p1.ID, p2.ID}

		switch {
		case p1.IsOpen():
			report.Add(domain.ValidationIssue{
				Kind:        domain.IssueTimeOverlap,
				Severity:    boundary,
				PositionIDs: ids,
				Message: fmt.Sprintf("position %s is still open when position %s starts at %s",
					p1.ID, p2.ID, p2.EntryTime.Format(timeLayout)),
			})
		case p1.ExitTime != nil && p1.ExitTime.After(p2.EntryTime):
			report.Add(domain.ValidationIssue{
				Kind:        domain.IssueTimeOverlap,
				Severity:    boundary,
				PositionIDs: ids,
				Message: fmt.Sprintf("position %s exits at %s after position %s enters at %s",
					p1.ID, p1.ExitTime.Format(timeLayout), p2.ID, p2.EntryTime.Format(timeLayout)),
			})
		}

		if p1.Type == p2.Type {
			report.Add(domain.ValidationIssue{
				Kind:        domain.IssueSameTypeAdj,
				Severity:    boundary,
				PositionIDs: ids,
				Message:     fmt.Sprintf("adjacent positions %s and %s are both %s", p1.ID, p2.ID, p1.Type),
			})
		}
	}

	for _, issue := range unclosed(sorted, executions) {
		issue.Severity = boundary
		report.Add(issue)
	}
	return report
}

// checkWalk replays one position's own executions and reports a
// reversal without a zero crossing, a walk that goes flat before its last
// execution, or a status that disagrees with the final running quantity.
func (Validator) checkWalk(p domain.Position) []domain.ValidationIssue {
	var issues []domain.ValidationIssue

	var running int64
	for _, e := range p.Executions {
		delta, err := e.SignedDelta()
		if err != nil {
			continue
		}
		previous := running
		running += delta
		if previous != 0 && running != 0 && sign(previous) != sign(running) {
			issues = append(issues, domain.ValidationIssue{
				Kind:         domain.IssueDirectionChange,
				Severity:     domain.SeverityError,
				ExecutionIDs: []int64{e.ID},
				PositionIDs:  []string{p.ID},
				Message: fmt.Sprintf("position %s reverses %d -> %d at execution %d without a zero crossing",
					p.ID, previous, running, e.ID),
			})
		}
	}

	if id, ok := flatBeforeEnd(p.Executions); ok {
		issues = append(issues, domain.ValidationIssue{
			Kind:         domain.IssueFlatInside,
			Severity:     domain.SeverityError,
			ExecutionIDs: []int64{id},
			PositionIDs:  []string{p.ID},
			Message:      fmt.Sprintf("position %s is flat after execution %d but holds later executions", p.ID, id),
		})
	}

	if (running == 0) != p.IsClosed() {
		issues = append(issues, domain.ValidationIssue{
			Kind:         domain.IssueStatusMismatch,
			Severity:     domain.SeverityError,
			ExecutionIDs: p.ExecutionIDs(),
			PositionIDs:  []string{p.ID},
			Message: fmt.Sprintf("position %s is %s but its executions net to %d",
				p.ID, p.Status, running),
		})
	}
	return issues
}

// flatBeforeEnd walks time-ordered executions and returns the execution
// after which the running quantity is zero while parseable executions
// still follow.
func flatBeforeEnd(executions []domain.ExecutionRecord) (int64, bool) {
	var running, flatAt int64
	flat := false
	for _, e := range executions {
		delta, err := e.SignedDelta()
		if err != nil {
			continue
		}
		if flat {
			return flatAt, true
		}
		running += delta
		if running == 0 {
			flat, flatAt = true, e.ID
		}
	}
	return 0, false
}

// unclosed reports pairs whose full walk ends away from zero while no
// position of that pair is open.
func unclosed(positions []domain.Position, executions []domain.ExecutionRecord) []domain.ValidationIssue {
	running := make(map[domain.Pair]int64)
	var order []domain.Pair
	for _, e := range executions {
		delta, err := e.SignedDelta()
		if err != nil {
			continue
		}
		if _, seen := running[e.Pair()]; !seen {
			order = append(order, e.Pair())
		}
		running[e.Pair()] += delta
	}

	open := make(map[domain.Pair]bool)
	for _, p := range positions {
		if p.IsOpen() {
			open[p.Pair()] = true
		}
	}

	var issues []domain.ValidationIssue
	for _, pair := range order {
		if q := running[pair]; q != 0 && !open[pair] {
			issues = append(issues, domain.ValidationIssue{
				Kind:     domain.IssueUnclosed,
				Severity: domain.SeverityWarning,
				Message:  fmt.Sprintf("%s ends with running quantity %d but no open position", pair, q),
			})
		}
	}
	return issues
}

const timeLayout = "2006-01-02T15:04:05Z07:00"
