package pipeline

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/tradejournal/internal/domain"
	"github.com/alanyoungcy/tradejournal/internal/service"
)

type recordingRebuilder struct {
	mu    sync.Mutex
	full  int
	pairs [][]domain.Pair
}

func (r *recordingRebuilder) RebuildPositionsFromTrades(context.Context, service.RebuildFilter) (service.RebuildResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.full++
	return service.RebuildResult{RunID: "full"}, nil
}

func (r *recordingRebuilder) RebuildPairs(_ context.Context, pairs []domain.Pair) (service.RebuildResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pairs = append(r.pairs, pairs)
	return service.RebuildResult{RunID: "pairs"}, nil
}

func (r *recordingRebuilder) counts() (int, [][]domain.Pair) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.full, append([][]domain.Pair(nil), r.pairs...)
}

type chanBus struct {
	ch chan []byte
}

func (b *chanBus) Publish(_ context.Context, _ string, payload []byte) error {
	b.ch <- payload
	return nil
}

func (b *chanBus) Subscribe(context.Context, string) (<-chan []byte, error) {
	return b.ch, nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestOrchestrator_CoalescesPairChanges(t *testing.T) {
	rb := &recordingRebuilder{}
	bus := &chanBus{ch: make(chan []byte, 8)}
	o := NewOrchestrator(rb, bus, 0, 20*time.Millisecond, quietLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- o.Run(ctx) }()

	ev := []byte(`{"account":"SIM101","instrument":"MNQ 03-24"}`)
	require.NoError(t, bus.Publish(ctx, domain.ChannelExecutionsChanged, ev))
	require.NoError(t, bus.Publish(ctx, domain.ChannelExecutionsChanged, ev))
	require.NoError(t, bus.Publish(ctx, domain.ChannelExecutionsChanged, []byte(`not json`)))

	require.Eventually(t, func() bool {
		_, pairs := rb.counts()
		return len(pairs) >= 1
	}, time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)

	full, pairs := rb.counts()
	assert.Zero(t, full)
	assert.Equal(t, []domain.Pair{{Account: "SIM101", Instrument: "MNQ 03-24"}}, pairs[0])
}

func TestOrchestrator_WildcardChangeRebuildsEverything(t *testing.T) {
	rb := &recordingRebuilder{}
	bus := &chanBus{ch: make(chan []byte, 8)}
	o := NewOrchestrator(rb, bus, 0, 10*time.Millisecond, quietLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- o.Run(ctx) }()

	require.NoError(t, bus.Publish(ctx, domain.ChannelExecutionsChanged, []byte(`{"account":"SIM101"}`)))
	require.Eventually(t, func() bool {
		full, _ := rb.counts()
		return full == 1
	}, time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}

func TestOrchestrator_PeriodicRebuildRunsOnStart(t *testing.T) {
	rb := &recordingRebuilder{}
	o := NewOrchestrator(rb, nil, time.Hour, 0, quietLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- o.Run(ctx) }()

	require.Eventually(t, func() bool {
		full, _ := rb.counts()
		return full == 1
	}, time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}

func TestOrchestrator_ClosedSubscriptionFails(t *testing.T) {
	rb := &recordingRebuilder{}
	bus := &chanBus{ch: make(chan []byte)}
	close(bus.ch)
	o := NewOrchestrator(rb, bus, 0, time.Hour, quietLogger())

	err := o.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "subscription closed")
}
