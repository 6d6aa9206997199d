package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/alanyoungcy/tradejournal/internal/blob/s3"
	"github.com/alanyoungcy/tradejournal/internal/cache/redis"
	"github.com/alanyoungcy/tradejournal/internal/config"
	"github.com/alanyoungcy/tradejournal/internal/domain"
	"github.com/alanyoungcy/tradejournal/internal/notify"
	"github.com/alanyoungcy/tradejournal/internal/position"
	"github.com/alanyoungcy/tradejournal/internal/server/handler"
	"github.com/alanyoungcy/tradejournal/internal/service"
	"github.com/alanyoungcy/tradejournal/internal/store/postgres"
)

// Dependencies bundles what the modes need. Redis-backed fields are nil
// when no redis addr is configured.
type Dependencies struct {
	ExecutionStore domain.ExecutionStore
	PositionStore  domain.PositionStore
	AuditStore     domain.AuditStore

	LockManager domain.LockManager
	SignalBus   domain.SignalBus
	RateLimiter domain.RateLimiter

	Archiver *s3blob.ReportArchiver
	Notifier *notify.Notifier
	Engine   *position.Engine
	Rebuild  *service.RebuildService

	// Health lists the dependencies reported by GET /api/health.
	Health map[string]handler.Pinger
}

type pingFunc func(context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

// Wire constructs every concrete dependency from cfg and returns them with
// a cleanup function releasing connections.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{Health: make(map[string]handler.Pinger)}

	// PostgreSQL
	pgClient, err := postgres.New(ctx, postgres.ClientConfig{
		DSN:             cfg.Postgres.DSN,
		Host:            cfg.Postgres.Host,
		Port:            cfg.Postgres.Port,
		Database:        cfg.Postgres.Database,
		User:            cfg.Postgres.User,
		Password:        cfg.Postgres.Password,
		SSLMode:         cfg.Postgres.SSLMode,
		MaxConns:        cfg.Postgres.PoolMaxConns,
		MinConns:        cfg.Postgres.PoolMinConns,
		MaxConnIdleTime: cfg.Postgres.MaxConnIdleTime.Duration,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("wire: postgres: %w", err)
	}
	closers = append(closers, pgClient.Close)
	deps.Health["postgres"] = pgClient

	if cfg.Postgres.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
		}
	}

	pool := pgClient.Pool()
	deps.ExecutionStore = postgres.NewExecutionStore(pool)
	deps.PositionStore = postgres.NewPositionStore(pool)
	deps.AuditStore = postgres.NewAuditStore(pool)

	// Redis
	if cfg.Redis.Enabled() {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
			KeyPrefix:  cfg.Redis.KeyPrefix,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })
		deps.Health["redis"] = redisClient

		deps.LockManager = redis.NewLockManager(redisClient)
		deps.SignalBus = redis.NewSignalBus(redisClient)
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
	} else {
		logger.WarnContext(ctx, "redis not configured: running without locks, change events or rate limits")
	}

	// S3
	if cfg.Rebuild.ArchiveReports {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		deps.Health["s3"] = pingFunc(s3Client.Health)
		deps.Archiver = s3blob.NewReportArchiver(s3blob.NewWriter(s3Client), cfg.S3.ReportPrefix)
	}

	// Notifications
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	// Engine and service
	deps.Engine = position.NewEngine(cfg.Rebuild.ProximityWindow.Duration, cfg.Rebuild.MaxRepairPasses)
	deps.Engine.FailOpen = cfg.Rebuild.FailOpen

	rebuildDeps := service.RebuildDeps{
		Executions: deps.ExecutionStore,
		Positions:  deps.PositionStore,
		Audit:      deps.AuditStore,
		Locks:      deps.LockManager,
		Bus:        deps.SignalBus,
		Alerts:     deps.Notifier,
		Engine:     deps.Engine,
	}
	if deps.Archiver != nil {
		rebuildDeps.Archiver = deps.Archiver
	}
	deps.Rebuild = service.NewRebuildService(rebuildDeps, service.RebuildConfig{
		Concurrency:    cfg.Rebuild.Concurrency,
		LockTTL:        cfg.Rebuild.LockTTL.Duration,
		ArchiveReports: cfg.Rebuild.ArchiveReports,
	}, logger)

	return deps, cleanup, nil
}
