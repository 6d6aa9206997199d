// Package config defines the configuration of the trade journal rebuild
// engine and its validation rules.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration. Fields are populated from a TOML file
// and then optionally overridden by JOURNAL_* environment variables.
type Config struct {
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Rebuild  RebuildConfig  `toml:"rebuild"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// PostgresConfig holds the connection parameters of the journal database.
type PostgresConfig struct {
	DSN             string   `toml:"dsn"`
	Host            string   `toml:"host"`
	Port            int      `toml:"port"`
	Database        string   `toml:"database"`
	User            string   `toml:"user"`
	Password        string   `toml:"password"`
	SSLMode         string   `toml:"ssl_mode"`
	PoolMaxConns    int      `toml:"pool_max_conns"`
	PoolMinConns    int      `toml:"pool_min_conns"`
	MaxConnIdleTime duration `toml:"max_conn_idle_time"`
	RunMigrations   bool     `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters. Redis is optional: with an
// empty addr the journal runs without distributed locks, change
// notifications or API rate limiting.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
	KeyPrefix  string `toml:"key_prefix"`
}

// Enabled reports whether a Redis address is configured.
func (c RedisConfig) Enabled() bool { return strings.TrimSpace(c.Addr) != "" }

// S3Config holds the object store receiving rebuild reports.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
	ReportPrefix   string `toml:"report_prefix"`
}

// RebuildConfig tunes the reconstruction engine and the rebuild loop.
type RebuildConfig struct {
	// ProximityWindow is the largest gap between same-side executions that
	// still belong to one heuristic group.
	ProximityWindow duration `toml:"proximity_window"`
	Concurrency     int      `toml:"concurrency"`
	MaxRepairPasses int      `toml:"max_repair_passes"`
	LockTTL         duration `toml:"lock_ttl"`
	WatchInterval   duration `toml:"watch_interval"`
	WatchDebounce   duration `toml:"watch_debounce"`
	ArchiveReports  bool     `toml:"archive_reports"`
	// FailOpen rebuilds groups rejected by strict validation instead of
	// leaving them without positions.
	FailOpen bool `toml:"fail_open"`
}

// duration wraps time.Duration so TOML strings like "5m" decode.
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP API parameters.
type ServerConfig struct {
	Port        int      `toml:"port"`
	APIKey      string   `toml:"api_key"`
	CORSOrigins []string `toml:"cors_origins"`
	// RebuildRateLimit caps POST /api/rebuild calls per client per minute.
	// Zero disables the limit.
	RebuildRateLimit int `toml:"rebuild_rate_limit"`
}

// NotifyConfig holds alert channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config populated with the values of
// journal.example.toml.
func Defaults() Config {
	return Config{
		Postgres: PostgresConfig{
			Host:            "localhost",
			Port:            5432,
			Database:        "journal",
			User:            "postgres",
			SSLMode:         "disable",
			PoolMaxConns:    10,
			PoolMinConns:    2,
			MaxConnIdleTime: duration{5 * time.Minute},
			RunMigrations:   true,
		},
		Redis: RedisConfig{
			PoolSize:   10,
			MaxRetries: 3,
			KeyPrefix:  "journal",
		},
		S3: S3Config{
			Region:         "us-east-1",
			Bucket:         "journal-reports",
			ForcePathStyle: true,
			ReportPrefix:   "reports/rebuilds",
		},
		Rebuild: RebuildConfig{
			ProximityWindow: duration{5 * time.Minute},
			Concurrency:     4,
			MaxRepairPasses: 3,
			LockTTL:         duration{2 * time.Minute},
			WatchInterval:   duration{15 * time.Minute},
			WatchDebounce:   duration{2 * time.Second},
			FailOpen:        true,
		},
		Server: ServerConfig{
			Port:             8000,
			CORSOrigins:      []string{"http://localhost:3000", "http://localhost:5173"},
			RebuildRateLimit: 6,
		},
		Notify: NotifyConfig{
			Events: []string{"rebuild_failed", "group_blocked"},
		},
		Mode:     "rebuild",
		LogLevel: "info",
	}
}

var validModes = map[string]bool{
	"rebuild": true,
	"watch":   true,
	"server":  true,
	"full":    true,
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// NeedsServer reports whether the mode serves the HTTP API.
func (c *Config) NeedsServer() bool {
	m := strings.ToLower(c.Mode)
	return m == "server" || m == "full"
}

// Validate checks Config for invalid or missing values and returns one
// error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: rebuild, watch, server, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Postgres
	if strings.TrimSpace(c.Postgres.DSN) == "" {
		if c.Postgres.Host == "" {
			errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
		}
		if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
			errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
		}
		if c.Postgres.Database == "" {
			errs = append(errs, "postgres: database must not be empty")
		}
	}
	if c.Postgres.PoolMaxConns < 1 {
		errs = append(errs, "postgres: pool_max_conns must be >= 1")
	}
	if c.Postgres.PoolMinConns < 0 || c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		errs = append(errs, "postgres: pool_min_conns must be between 0 and pool_max_conns")
	}

	// Redis
	if c.Redis.Enabled() && c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// S3
	if c.Rebuild.ArchiveReports {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when rebuild.archive_reports is set")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty when rebuild.archive_reports is set")
		}
	}

	// Rebuild
	if c.Rebuild.ProximityWindow.Duration <= 0 {
		errs = append(errs, "rebuild: proximity_window must be > 0")
	}
	if c.Rebuild.Concurrency < 1 {
		errs = append(errs, "rebuild: concurrency must be >= 1")
	}
	if c.Rebuild.MaxRepairPasses < 1 {
		errs = append(errs, "rebuild: max_repair_passes must be >= 1")
	}
	if c.Rebuild.LockTTL.Duration <= 0 {
		errs = append(errs, "rebuild: lock_ttl must be > 0")
	}
	m := strings.ToLower(c.Mode)
	if (m == "watch" || m == "full") && c.Rebuild.WatchInterval.Duration <= 0 && !c.Redis.Enabled() {
		errs = append(errs, "rebuild: watch mode needs watch_interval > 0 or a redis addr for change events")
	}

	// Server
	if c.NeedsServer() {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RebuildRateLimit < 0 {
			errs = append(errs, "server: rebuild_rate_limit must be >= 0")
		}
	}

	// Notify
	if (c.Notify.TelegramToken == "") != (c.Notify.TelegramChatID == "") {
		errs = append(errs, "notify: telegram_token and telegram_chat_id must be set together")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
