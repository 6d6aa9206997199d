package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrLockHeld        = errors.New("lock already held")
	ErrInvalidSide     = errors.New("unparseable side")
	ErrInvalidQuantity = errors.New("non-positive quantity")
	ErrBlockedGroup    = errors.New("group blocked by structural errors")
	ErrNoExecutions    = errors.New("no executions")
)

// DataError describes a malformed field on a single execution. The engine
// skips the execution and carries on.
type DataError struct {
	ExecutionID int64
	Field       string
	Value       any
	Err         error
}

func (e *DataError) Error() string {
	return fmt.Sprintf("data error: execution %d: %s=%v: %v", e.ExecutionID, e.Field, e.Value, e.Err)
}

func (e *DataError) Unwrap() error {
	return e.Err
}

// StructuralError is raised by strict validation when a group's signed
// quantity walk changes direction without passing through zero. A group
// carrying one is blocked until the repair engine rebuilds it.
type StructuralError struct {
	Pair         Pair
	ExecutionIDs []int64
	Message      string
}

func (e *StructuralError) Error() string {
	return fmt.Sprintf("structural error [%s] executions %v: %s", e.Pair, e.ExecutionIDs, e.Message)
}

func (e *StructuralError) Unwrap() error {
	return ErrBlockedGroup
}

// OverlapWarning reports a non-blocking adjacency or overlap finding between
// two built positions.
type OverlapWarning struct {
	Kind        IssueKind
	PositionIDs []string
	Message     string
}

func (e *OverlapWarning) Error() string {
	return fmt.Sprintf("overlap warning [%s] positions %v: %s", e.Kind, e.PositionIDs, e.Message)
}

// PersistenceError wraps a store failure for one (account, instrument) pair.
// Only that pair's transaction is aborted.
type PersistenceError struct {
	Pair Pair
	Op   string
	Err  error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence error [%s] %s: %v", e.Pair, e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

func asDataError(err error, target **DataError) bool {
	return errors.As(err, target)
}
