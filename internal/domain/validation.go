package domain

import "fmt"

// IssueKind classifies a validation finding.
type IssueKind string

const (
	IssueDirectionChange IssueKind = "direction_change_without_zero"
	IssueTimeOverlap     IssueKind = "time_overlap"
	IssueSameTypeAdj     IssueKind = "same_type_adjacent"
	IssueUnclosed        IssueKind = "unclosed_position"
	IssueInvalidAction   IssueKind = "invalid_action"
	IssueStatusMismatch  IssueKind = "status_mismatch"
	IssueFlatInside      IssueKind = "flat_inside_position"
)

// Severity is the variant tag of a ValidationIssue.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// ValidationIssue is a transient finding produced by the builder or the
// validator. It is never persisted.
type ValidationIssue struct {
	Kind         IssueKind `json:"kind"`
	Severity     Severity  `json:"severity"`
	ExecutionIDs []int64   `json:"execution_ids,omitempty"`
	PositionIDs  []string  `json:"position_ids,omitempty"`
	Message      string    `json:"message"`
}

func (i ValidationIssue) IsError() bool { return i.Severity == SeverityError }

// Structural reports whether the issue describes a broken quantity walk
// rather than a boundary between otherwise valid positions.
func (i ValidationIssue) Structural() bool {
	switch i.Kind {
	case IssueDirectionChange, IssueStatusMismatch, IssueFlatInside, IssueUnclosed:
		return true
	}
	return false
}

// Err maps the issue onto the engine's error taxonomy.
func (i ValidationIssue) Err(pair Pair) error {
	switch i.Kind {
	case IssueInvalidAction:
		var id int64
		if len(i.ExecutionIDs) > 0 {
			id = i.ExecutionIDs[0]
		}
		return &DataError{ExecutionID: id, Field: "side/quantity", Value: i.Message, Err: ErrInvalidSide}
	case IssueDirectionChange, IssueStatusMismatch, IssueFlatInside:
		return &StructuralError{Pair: pair, ExecutionIDs: i.ExecutionIDs, Message: i.Message}
	default:
		return &OverlapWarning{Kind: i.Kind, PositionIDs: i.PositionIDs, Message: i.Message}
	}
}

func (i ValidationIssue) String() string {
	return fmt.Sprintf("%s %s: %s", i.Severity, i.Kind, i.Message)
}

// ValidationReport splits findings by severity.
type ValidationReport struct {
	Errors   []ValidationIssue `json:"errors"`
	Warnings []ValidationIssue `json:"warnings"`
}

// Add files the issue under its severity.
func (r *ValidationReport) Add(issue ValidationIssue) {
	if issue.IsError() {
		r.Errors = append(r.Errors, issue)
		return
	}
	r.Warnings = append(r.Warnings, issue)
}

// Merge appends every finding of other.
func (r *ValidationReport) Merge(other ValidationReport) {
	r.Errors = append(r.Errors, other.Errors...)
	r.Warnings = append(r.Warnings, other.Warnings...)
}

func (r ValidationReport) HasErrors() bool { return len(r.Errors) > 0 }

// Empty reports whether nothing was found.
func (r ValidationReport) Empty() bool { return len(r.Errors) == 0 && len(r.Warnings) == 0 }

// All returns errors followed by warnings.
func (r ValidationReport) All() []ValidationIssue {
	out := make([]ValidationIssue, 0, len(r.Errors)+len(r.Warnings))
	out = append(out, r.Errors...)
	return append(out, r.Warnings...)
}

// Has reports whether any finding has the given kind.
func (r ValidationReport) Has(kind IssueKind) bool {
	for _, i := range r.All() {
		if i.Kind == kind {
			return true
		}
	}
	return false
}

// Counts tallies findings per kind.
func (r ValidationReport) Counts() map[IssueKind]int {
	counts := make(map[IssueKind]int)
	for _, i := range r.All() {
		counts[i.Kind]++
	}
	return counts
}
