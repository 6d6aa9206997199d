package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsValidate(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 5*time.Minute, cfg.Rebuild.ProximityWindow.Duration)
	assert.Equal(t, 3, cfg.Rebuild.MaxRepairPasses)
	assert.True(t, cfg.Rebuild.FailOpen)
	assert.False(t, cfg.Redis.Enabled())
}

func TestLoad_FileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "journal.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
mode = "full"

[rebuild]
proximity_window = "90s"
concurrency = 8
fail_open = false

[redis]
addr = "localhost:6379"
`), 0o600))

	t.Setenv("JOURNAL_REBUILD_CONCURRENCY", "2")
	t.Setenv("JOURNAL_SERVER_CORS_ORIGINS", " https://a.example , ,https://b.example")
	t.Setenv("JOURNAL_REBUILD_LOCK_TTL", "not-a-duration")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "full", cfg.Mode)
	assert.Equal(t, 90*time.Second, cfg.Rebuild.ProximityWindow.Duration)
	assert.Equal(t, 2, cfg.Rebuild.Concurrency)
	assert.False(t, cfg.Rebuild.FailOpen)
	assert.Equal(t, 2*time.Minute, cfg.Rebuild.LockTTL.Duration, "unparseable override is ignored")
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.CORSOrigins)
	assert.True(t, cfg.NeedsServer())
	require.NoError(t, cfg.Validate())
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	require.Error(t, err)
}

func TestValidate_CollectsEveryProblem(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "trade"
	cfg.LogLevel = "loud"
	cfg.Rebuild.Concurrency = 0
	cfg.Rebuild.ArchiveReports = true
	cfg.S3.Bucket = ""
	cfg.Notify.TelegramToken = "tok"

	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{
		`unknown mode "trade"`,
		`unknown log_level "loud"`,
		"rebuild: concurrency",
		"s3: bucket",
		"notify: telegram_token",
	} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestValidate_WatchNeedsATrigger(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "watch"
	cfg.Rebuild.WatchInterval.Duration = 0
	require.ErrorContains(t, cfg.Validate(), "watch mode")

	cfg.Redis.Addr = "localhost:6379"
	require.NoError(t, cfg.Validate())
}

func TestRedactedConfig(t *testing.T) {
	cfg := Defaults()
	cfg.Postgres.Password = "pw"
	cfg.Server.APIKey = "key"
	cfg.Notify.DiscordWebhookURL = "https://discord.example/hook"

	out := RedactedConfig(&cfg)
	assert.Equal(t, "***", out.Postgres.Password)
	assert.Equal(t, "***", out.Server.APIKey)
	assert.Equal(t, "***", out.Notify.DiscordWebhookURL)
	assert.Empty(t, out.Postgres.DSN)
	assert.Equal(t, "pw", cfg.Postgres.Password)

	out.Server.CORSOrigins[0] = "mutated"
	assert.NotEqual(t, "mutated", cfg.Server.CORSOrigins[0])
}
