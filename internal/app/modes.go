package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/tradejournal/internal/pipeline"
	"github.com/alanyoungcy/tradejournal/internal/server"
	"github.com/alanyoungcy/tradejournal/internal/server/handler"
)

// RebuildMode runs one rebuild over the configured filter and writes the
// result as JSON. It fails when any pair could not be persisted.
func (a *App) RebuildMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting rebuild mode",
		slog.String("account", a.opts.Filter.Account),
		slog.String("instrument", a.opts.Filter.Instrument),
	)

	res, err := deps.Rebuild.RebuildPositionsFromTrades(ctx, a.opts.Filter)
	if err != nil {
		return fmt.Errorf("app: rebuild: %w", err)
	}

	enc := json.NewEncoder(a.opts.Output)
	enc.SetIndent("", "  ")
	if err := enc.Encode(res); err != nil {
		return fmt.Errorf("app: write result: %w", err)
	}

	if failed := res.Failed(); len(failed) > 0 {
		return fmt.Errorf("app: %d pair(s) failed: %w", len(failed), res.Err())
	}
	return nil
}

// WatchMode keeps positions current until ctx is cancelled.
func (a *App) WatchMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting watch mode")
	return a.newWatcher(deps).Run(ctx)
}

// ServerMode serves the HTTP API until ctx is cancelled.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")
	g, ctx := errgroup.WithContext(ctx)
	a.startServer(ctx, g, deps)
	return g.Wait()
}

// FullMode runs the watch loop and the HTTP API together.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")
	g, ctx := errgroup.WithContext(ctx)

	watcher := a.newWatcher(deps)
	g.Go(func() error {
		return watcher.Run(ctx)
	})
	a.startServer(ctx, g, deps)

	return g.Wait()
}

func (a *App) newWatcher(deps *Dependencies) *pipeline.Orchestrator {
	return pipeline.NewOrchestrator(
		deps.Rebuild,
		deps.SignalBus,
		a.cfg.Rebuild.WatchInterval.Duration,
		a.cfg.Rebuild.WatchDebounce.Duration,
		a.logger,
	)
}

func (a *App) startServer(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	handlers := server.Handlers{
		Health:    handler.NewHealthHandler(deps.Health, a.logger),
		Positions: handler.NewPositionHandler(deps.Rebuild, a.logger),
		Rebuild:   handler.NewRebuildHandler(deps.Rebuild, a.logger),
		Audit:     handler.NewAuditHandler(deps.AuditStore, a.logger),
	}
	srv := server.NewServer(server.Config{
		Port:             a.cfg.Server.Port,
		CORSOrigins:      a.cfg.Server.CORSOrigins,
		APIKey:           a.cfg.Server.APIKey,
		RebuildRateLimit: a.cfg.Server.RebuildRateLimit,
	}, handlers, deps.RateLimiter, a.logger)

	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}
