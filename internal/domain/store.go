package domain

import (
	"context"
	"time"
)

// ExecutionStore is the read/write contract of the execution repository.
// The rebuild engine reads executions and writes only link groups.
type ExecutionStore interface {
	// ListExecutions returns non-deleted executions ordered by account,
	// instrument, entry_time and id.
	ListExecutions(ctx context.Context, filter ExecutionFilter) ([]ExecutionRecord, error)
	// UpdateLinkGroup sets (or clears, when groupID is nil) the link group
	// of the given executions.
	UpdateLinkGroup(ctx context.Context, executionIDs []int64, groupID *int64) error
	// PairsOf returns the distinct pairs the given executions belong to.
	PairsOf(ctx context.Context, executionIDs []int64) ([]Pair, error)
	// NextLinkGroupID allocates an unused link group id.
	NextLinkGroupID(ctx context.Context) (int64, error)
}

// PositionStore persists derived positions.
type PositionStore interface {
	// ReplacePositions atomically deletes every position and link of the
	// pair and inserts the given set.
	ReplacePositions(ctx context.Context, pair Pair, positions []Position, links []PositionExecutionLink) error
	ListPositions(ctx context.Context, filter PositionFilter) ([]Position, error)
	// ListPairs returns the pairs that currently hold positions.
	ListPairs(ctx context.Context, filter ExecutionFilter) ([]Pair, error)
}

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Event  string
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// Audit events written by the rebuild service.
const (
	AuditRebuildCompleted   = "rebuild_completed"
	AuditExecutionsLinked   = "executions_linked"
	AuditExecutionsUnlinked = "executions_unlinked"
)

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64          `json:"id"`
	Event     string         `json:"event"`
	Detail    map[string]any `json:"detail"`
	CreatedAt time.Time      `json:"created_at"`
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
