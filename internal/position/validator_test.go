package position

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/tradejournal/internal/domain"
)

func buildOne(t *testing.T, execs ...domain.ExecutionRecord) domain.Position {
	t.Helper()
	res := NewBuilder().Build(execs)
	require.Len(t, res.Positions, 1)
	return res.Positions[0]
}

func TestValidator_PreBuild(t *testing.T) {
	tests := []struct {
		name  string
		execs []domain.ExecutionRecord
		kinds []domain.IssueKind
	}{
		{
			name:  "clean round trip",
			execs: []domain.ExecutionRecord{fill(1, "Buy", 2, 100, 0), fill(2, "Sell", 2, 105, time.Minute)},
		},
		{
			name:  "reversal without flat",
			execs: []domain.ExecutionRecord{fill(1, "Buy", 3, 100, 0), fill(2, "Sell", 5, 98, time.Minute)},
			kinds: []domain.IssueKind{domain.IssueDirectionChange},
		},
		{
			name:  "unparseable side",
			execs: []domain.ExecutionRecord{fill(1, "exercise", 1, 100, 0)},
			kinds: []domain.IssueKind{domain.IssueInvalidAction},
		},
		{
			name:  "negative quantity",
			execs: []domain.ExecutionRecord{fill(1, "Buy", -1, 100, 0)},
			kinds: []domain.IssueKind{domain.IssueInvalidAction},
		},
		{
			name:  "open at end is not an error",
			execs: []domain.ExecutionRecord{fill(1, "Buy", 1, 100, 0)},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			report := Validator{}.PreBuild(tc.execs)
			assert.Empty(t, report.Warnings)
			require.Len(t, report.Errors, len(tc.kinds))
			for i, kind := range tc.kinds {
				assert.Equal(t, kind, report.Errors[i].Kind)
				assert.True(t, report.Errors[i].IsError())
			}
		})
	}
}

func TestValidator_PostBuildOpenThenOverlap(t *testing.T) {
	a := buildOne(t, fill(1, "Buy", 1, 100, 0))
	b := buildOne(t, fill(2, "Sell", 1, 101, time.Minute), fill(3, "Buy", 1, 100, 2*time.Minute))
	execs := append(append([]domain.ExecutionRecord{}, a.Executions...), b.Executions...)

	report := Validator{}.PostBuild([]domain.Position{b, a}, execs, false)
	assert.False(t, report.HasErrors())
	require.Len(t, report.Warnings, 1)
	assert.Equal(t, domain.IssueTimeOverlap, report.Warnings[0].Kind)
	assert.Equal(t, []string{a.ID, b.ID}, report.Warnings[0].PositionIDs)
}

func TestValidator_PostBuildClosedOverlap(t *testing.T) {
	a := buildOne(t, fill(1, "Buy", 1, 100, 0), fill(2, "Sell", 1, 101, 10*time.Minute))
	b := buildOne(t, fill(3, "Sell", 1, 101, 5*time.Minute), fill(4, "Buy", 1, 100, 6*time.Minute))
	execs := []domain.ExecutionRecord{a.Executions[0], a.Executions[1], b.Executions[0], b.Executions[1]}

	report := Validator{}.PostBuild([]domain.Position{a, b}, execs, false)
	assert.True(t, report.Has(domain.IssueTimeOverlap))
	assert.False(t, report.Has(domain.IssueSameTypeAdj))
}

func TestValidator_PostBuildSameTypeAdjacent(t *testing.T) {
	a := buildOne(t, fill(1, "Buy", 1, 100, 0), fill(2, "Sell", 1, 101, time.Minute))
	b := buildOne(t, fill(3, "Buy", 1, 100, 2*time.Minute), fill(4, "Sell", 1, 101, 3*time.Minute))
	execs := append(append([]domain.ExecutionRecord{}, a.Executions...), b.Executions...)

	report := Validator{}.PostBuild([]domain.Position{a, b}, execs, false)
	require.Len(t, report.Warnings, 1)
	assert.Equal(t, domain.IssueSameTypeAdj, report.Warnings[0].Kind)
	assert.Empty(t, report.Errors)

	escalated := Validator{}.PostBuild([]domain.Position{a, b}, execs, true)
	require.Len(t, escalated.Errors, 1)
	assert.Equal(t, domain.IssueSameTypeAdj, escalated.Errors[0].Kind)
	assert.Empty(t, escalated.Warnings)
}

func TestValidator_PostBuildIgnoresOtherPairs(t *testing.T) {
	a := buildOne(t, fill(1, "Buy", 1, 100, 0))
	b := buildOne(t, on(fill(2, "Buy", 1, 100, time.Minute), "SIM101", "ES 03-24"))
	execs := []domain.ExecutionRecord{a.Executions[0], b.Executions[0]}

	report := Validator{}.PostBuild([]domain.Position{a, b}, execs, false)
	assert.True(t, report.Empty())
}

func TestValidator_PostBuildUnclosed(t *testing.T) {
	p := buildOne(t, fill(1, "Buy", 1, 100, 0), fill(2, "Sell", 1, 101, time.Minute))
	execs := append(append([]domain.ExecutionRecord{}, p.Executions...), fill(3, "Buy", 2, 100, time.Hour))

	report := Validator{}.PostBuild([]domain.Position{p}, execs, false)
	require.Len(t, report.Warnings, 1)
	assert.Equal(t, domain.IssueUnclosed, report.Warnings[0].Kind)
	assert.Contains(t, report.Warnings[0].Message, "running quantity 2")
}

func TestValidator_PostBuildStatusMismatch(t *testing.T) {
	p := buildOne(t, fill(1, "Buy", 1, 100, 0), fill(2, "Sell", 1, 101, time.Minute))
	p.Status = domain.PositionStatusOpen
	p.ExitTime = nil

	report := Validator{}.PostBuild([]domain.Position{p}, p.Executions, false)
	require.Len(t, report.Errors, 1)
	assert.Equal(t, domain.IssueStatusMismatch, report.Errors[0].Kind)
	assert.Equal(t, []string{p.ID}, report.Errors[0].PositionIDs)
}

func TestValidator_PostBuildDirectionFlipIsAlwaysError(t *testing.T) {
	res := NewBuilder().Build([]domain.ExecutionRecord{
		fill(1, "Buy", 3, 100, 0),
		fill(2, "Sell", 5, 98, time.Minute),
	})
	require.Len(t, res.Positions, 1)

	report := Validator{}.PostBuild(res.Positions, res.Positions[0].Executions, false)
	require.Len(t, report.Errors, 1)
	assert.Equal(t, domain.IssueDirectionChange, report.Errors[0].Kind)
	assert.Equal(t, 1, report.Counts()[domain.IssueDirectionChange])
}

func TestValidator_PostBuildFlatInsidePosition(t *testing.T) {
	closed := buildOne(t, fill(1, "Buy", 1, 100, 0), fill(2, "Sell", 1, 101, time.Minute))
	open := buildOne(t, fill(3, "Buy", 1, 100, 30*time.Minute))
	merged := MergePositions(closed, open)
	require.True(t, merged.IsOpen())

	report := Validator{}.PostBuild([]domain.Position{merged}, merged.Executions, false)
	require.Len(t, report.Errors, 1)
	issue := report.Errors[0]
	assert.Equal(t, domain.IssueFlatInside, issue.Kind)
	assert.Equal(t, []int64{2}, issue.ExecutionIDs)
	assert.Equal(t, []string{merged.ID}, issue.PositionIDs)
	assert.True(t, issue.Structural())

	var structural *domain.StructuralError
	assert.ErrorAs(t, issue.Err(testPair), &structural)
}
