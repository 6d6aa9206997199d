package domain

import (
	"context"
	"time"
)

// LockManager provides distributed locking. The rebuild service takes one
// lock per pair so concurrent rebuilds never race on delete-then-insert.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// SignalBus provides pub/sub between the import workflows and the rebuild
// loop.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}

// RateLimiter admits at most limit calls per window for each key.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// Signal bus channels.
const (
	ChannelExecutionsChanged = "executions.changed"
	ChannelPositionsRebuilt  = "positions.rebuilt"
)
