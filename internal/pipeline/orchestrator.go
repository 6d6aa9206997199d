// Package pipeline keeps derived positions in step with the execution table
// while the journal runs unattended.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/tradejournal/internal/domain"
	"github.com/alanyoungcy/tradejournal/internal/service"
)

// Rebuilder is the part of the rebuild service the watch loop drives.
type Rebuilder interface {
	RebuildPositionsFromTrades(ctx context.Context, filter service.RebuildFilter) (service.RebuildResult, error)
	RebuildPairs(ctx context.Context, pairs []domain.Pair) (service.RebuildResult, error)
}

// ChangeEvent is the payload published on domain.ChannelExecutionsChanged
// by the import workflow. An event missing either field triggers a full
// rebuild.
type ChangeEvent struct {
	Account    string `json:"account"`
	Instrument string `json:"instrument"`
}

// Orchestrator runs a periodic full rebuild and rebuilds individual pairs
// as soon as their executions change.
type Orchestrator struct {
	rebuilder Rebuilder
	bus       domain.SignalBus
	interval  time.Duration
	debounce  time.Duration
	logger    *slog.Logger

	mu      sync.Mutex
	pending map[domain.Pair]bool
	all     bool
}

// NewOrchestrator creates an Orchestrator. bus may be nil, in which case
// only the periodic rebuild runs. Change notifications arriving within
// debounce of each other are coalesced into one rebuild.
func NewOrchestrator(rebuilder Rebuilder, bus domain.SignalBus, interval, debounce time.Duration, logger *slog.Logger) *Orchestrator {
	if debounce <= 0 {
		debounce = 2 * time.Second
	}
	return &Orchestrator{
		rebuilder: rebuilder,
		bus:       bus,
		interval:  interval,
		debounce:  debounce,
		logger:    logger.With(slog.String("component", "watch")),
		pending:   make(map[domain.Pair]bool),
	}
}

// Run blocks until ctx is cancelled or one of the loops fails.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.logger.InfoContext(ctx, "watch loop starting",
		slog.Duration("interval", o.interval),
		slog.Duration("debounce", o.debounce),
	)

	g, ctx := errgroup.WithContext(ctx)

	if o.interval > 0 {
		g.Go(func() error {
			err := o.runPeriodic(ctx)
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("periodic rebuild: %w", err)
		})
	}

	if o.bus != nil {
		changes, err := o.bus.Subscribe(ctx, domain.ChannelExecutionsChanged)
		if err != nil {
			return fmt.Errorf("pipeline: subscribe %s: %w", domain.ChannelExecutionsChanged, err)
		}
		g.Go(func() error {
			err := o.runChanges(ctx, changes)
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("change listener: %w", err)
		})
	}

	if err := g.Wait(); err != nil {
		o.logger.Error("watch loop stopped with error", slog.String("error", err.Error()))
		return err
	}
	o.logger.Info("watch loop stopped cleanly")
	return nil
}

func (o *Orchestrator) runPeriodic(ctx context.Context) error {
	o.rebuildAll(ctx, "startup")

	ticker := time.NewTicker(o.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			o.rebuildAll(ctx, "interval")
		}
	}
}

func (o *Orchestrator) runChanges(ctx context.Context, changes <-chan []byte) error {
	ticker := time.NewTicker(o.debounce)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-changes:
			if !ok {
				return errors.New("subscription closed")
			}
			o.note(ctx, msg)
		case <-ticker.C:
			o.flush(ctx)
		}
	}
}

// note records one change notification for the next flush.
func (o *Orchestrator) note(ctx context.Context, msg []byte) {
	var evt ChangeEvent
	if err := json.Unmarshal(msg, &evt); err != nil {
		o.logger.WarnContext(ctx, "ignoring malformed change event", slog.String("error", err.Error()))
		return
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if evt.Account == "" || evt.Instrument == "" {
		o.all = true
		return
	}
	o.pending[domain.Pair{Account: evt.Account, Instrument: evt.Instrument}] = true
}

// flush rebuilds whatever changed since the last flush.
func (o *Orchestrator) flush(ctx context.Context) {
	o.mu.Lock()
	all := o.all
	pairs := make([]domain.Pair, 0, len(o.pending))
	for p := range o.pending {
		pairs = append(pairs, p)
	}
	o.all = false
	o.pending = make(map[domain.Pair]bool)
	o.mu.Unlock()

	switch {
	case all:
		o.rebuildAll(ctx, "change")
	case len(pairs) > 0:
		sort.Slice(pairs, func(i, j int) bool { return pairs[i].String() < pairs[j].String() })
		res, err := o.rebuilder.RebuildPairs(ctx, pairs)
		o.report(ctx, "change", res, err)
	}
}

func (o *Orchestrator) rebuildAll(ctx context.Context, trigger string) {
	res, err := o.rebuilder.RebuildPositionsFromTrades(ctx, service.RebuildFilter{})
	o.report(ctx, trigger, res, err)
}

func (o *Orchestrator) report(ctx context.Context, trigger string, res service.RebuildResult, err error) {
	if err = errors.Join(err, res.Err()); err != nil {
		if ctx.Err() != nil {
			return
		}
		o.logger.ErrorContext(ctx, "rebuild failed",
			slog.String("trigger", trigger),
			slog.String("run_id", res.RunID),
			slog.String("error", err.Error()),
		)
		return
	}
	o.logger.InfoContext(ctx, "rebuild finished",
		slog.String("trigger", trigger),
		slog.String("run_id", res.RunID),
		slog.Int("positions", res.PositionsCreated),
		slog.Int("trades", res.TradesProcessed),
	)
}
