package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads the TOML file at path over the built-in defaults, loads a .env
// file when present and applies JOURNAL_* environment overrides. An empty
// path skips the file. The result is not validated.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
	}

	_ = godotenv.Load()

	applyEnvOverrides(&cfg)
	return &cfg, nil
}

// applyEnvOverrides copies set JOURNAL_* variables onto cfg so secrets can
// be injected at deploy time.
func applyEnvOverrides(cfg *Config) {
	// Postgres
	setStr(&cfg.Postgres.DSN, "DATABASE_URL")
	setStr(&cfg.Postgres.DSN, "JOURNAL_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "JOURNAL_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "JOURNAL_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "JOURNAL_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "JOURNAL_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "JOURNAL_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "JOURNAL_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "JOURNAL_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "JOURNAL_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "JOURNAL_POSTGRES_RUN_MIGRATIONS")

	// Redis
	setStr(&cfg.Redis.Addr, "JOURNAL_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "JOURNAL_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "JOURNAL_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "JOURNAL_REDIS_POOL_SIZE")
	setBool(&cfg.Redis.TLSEnabled, "JOURNAL_REDIS_TLS_ENABLED")
	setStr(&cfg.Redis.KeyPrefix, "JOURNAL_REDIS_KEY_PREFIX")

	// S3
	setStr(&cfg.S3.Endpoint, "JOURNAL_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "JOURNAL_S3_REGION")
	setStr(&cfg.S3.Bucket, "JOURNAL_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "JOURNAL_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "JOURNAL_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "JOURNAL_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "JOURNAL_S3_FORCE_PATH_STYLE")

	// Rebuild
	setDuration(&cfg.Rebuild.ProximityWindow, "JOURNAL_REBUILD_PROXIMITY_WINDOW")
	setInt(&cfg.Rebuild.Concurrency, "JOURNAL_REBUILD_CONCURRENCY")
	setInt(&cfg.Rebuild.MaxRepairPasses, "JOURNAL_REBUILD_MAX_REPAIR_PASSES")
	setDuration(&cfg.Rebuild.LockTTL, "JOURNAL_REBUILD_LOCK_TTL")
	setDuration(&cfg.Rebuild.WatchInterval, "JOURNAL_REBUILD_WATCH_INTERVAL")
	setBool(&cfg.Rebuild.ArchiveReports, "JOURNAL_REBUILD_ARCHIVE_REPORTS")
	setBool(&cfg.Rebuild.FailOpen, "JOURNAL_REBUILD_FAIL_OPEN")

	// Server
	setInt(&cfg.Server.Port, "JOURNAL_SERVER_PORT")
	setStr(&cfg.Server.APIKey, "JOURNAL_SERVER_API_KEY")
	setStringSlice(&cfg.Server.CORSOrigins, "JOURNAL_SERVER_CORS_ORIGINS")
	setInt(&cfg.Server.RebuildRateLimit, "JOURNAL_SERVER_REBUILD_RATE_LIMIT")

	// Notify
	setStr(&cfg.Notify.TelegramToken, "JOURNAL_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "JOURNAL_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "JOURNAL_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "JOURNAL_NOTIFY_EVENTS")

	setStr(&cfg.Mode, "JOURNAL_MODE")
	setStr(&cfg.LogLevel, "JOURNAL_LOG_LEVEL")
}

// Each helper only touches dst when the variable is set and parses.

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	var cleaned []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			cleaned = append(cleaned, p)
		}
	}
	if len(cleaned) > 0 {
		*dst = cleaned
	}
}
