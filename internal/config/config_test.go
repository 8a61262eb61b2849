package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/agentsync/internal/logger"
	"github.com/loykin/agentsync/internal/store"
)

func writeTOML(t *testing.T, data string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "agentsync.toml")
	require.NoError(t, os.WriteFile(p, []byte(data), 0o644))
	return p
}

func TestLoadDefaultsWithoutFile(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ".agent-status", cfg.Sync.StatusDirectory)
	assert.Equal(t, 3, cfg.Sync.RetryAttempts)
	assert.Equal(t, time.Second, cfg.Sync.RetryBaseDelay)
	assert.Equal(t, 300*time.Second, cfg.Sync.Timeout)
	assert.Equal(t, 5*time.Second, cfg.Sync.CheckInterval)
	assert.Equal(t, "file", cfg.Store.Type)
	assert.Equal(t, ".agent-status", cfg.Store.Dir)
	assert.Equal(t, ":8090", cfg.Server.Listen)
	assert.Equal(t, "/api", cfg.Server.BasePath)
	assert.Equal(t, "@every 30s", cfg.Server.HealthSchedule)
}

func TestLoadFromTOML(t *testing.T) {
	p := writeTOML(t, `
[sync]
status_directory = "/tmp/pipeline"
retry_attempts = 5
retry_base_delay = "250ms"
timeout = "10m"
check_interval = "2s"
legacy_layout = true

[store]
type = "redis"
dsn = "localhost:6379"
prefix = "demo"
ttl = "1h"

[history]
enabled = true
dsns = ["sqlite:///tmp/h.db"]

[log]
level = "debug"
format = "json"
`)
	cfg, err := Load(p)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/pipeline", cfg.Sync.StatusDirectory)
	assert.Equal(t, 5, cfg.Sync.RetryAttempts)
	assert.Equal(t, 250*time.Millisecond, cfg.Sync.RetryBaseDelay)
	assert.Equal(t, 10*time.Minute, cfg.Sync.Timeout)
	assert.Equal(t, "redis", cfg.Store.Type)
	assert.Equal(t, "demo", cfg.Store.Prefix)
	assert.Equal(t, time.Hour, cfg.Store.TTL)
	assert.True(t, cfg.Store.LegacyLayout)
	assert.Equal(t, []string{"sqlite:///tmp/h.db"}, cfg.History.DSNs)

	lc := cfg.Logger()
	assert.Equal(t, logger.LevelDebug, lc.Slog.Level)
	assert.Equal(t, logger.FormatJSON, lc.Slog.Format)
}

func TestEnvOverridesFile(t *testing.T) {
	p := writeTOML(t, "[sync]\ntimeout = \"1m\"\n")
	t.Setenv("AGENTSYNC_SYNC_TIMEOUT", "90s")
	t.Setenv("AGENTSYNC_SYNC_STATUS_DIRECTORY", "/var/lib/agents")
	cfg, err := Load(p)
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, cfg.Sync.Timeout)
	assert.Equal(t, "/var/lib/agents", cfg.Store.Dir)
}

func TestValidationNamesKey(t *testing.T) {
	cases := map[string]string{
		"[sync]\nretry_attempts = 0\n":                                     "sync.retry_attempts",
		"[sync]\ntimeout = \"0s\"\n":                                       "sync.timeout",
		"[sync]\ncheck_interval = \"-1s\"\n":                               "sync.check_interval",
		"[store]\ntype = \"sqlite\"\n":                                     "store.dsn",
		"[store]\ntype = \"etcd\"\n":                                       "store.type",
		"[history]\nenabled = true\n":                                      "history.dsns",
		"[log]\nformat = \"xml\"\n":                                        "log.format",
		"[sync]\nwatch = true\n[store]\ntype = \"redis\"\ndsn = \"x:1\"\n": "sync.watch",
		"[server.tls]\nenabled = true\n":                                   "server.tls",
	}
	for data, key := range cases {
		_, err := Load(writeTOML(t, data))
		require.Error(t, err, data)
		assert.Contains(t, err.Error(), key)
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "read config"))
}

func TestSaveRoundTrip(t *testing.T) {
	cfg := Default()
	cfg.Sync.Timeout = 42 * time.Second
	cfg.Sync.RetryBaseDelay = 1500 * time.Millisecond
	cfg.Server.Listen = "127.0.0.1:9999"

	p := filepath.Join(t.TempDir(), "nested", "agentsync.toml")
	require.NoError(t, Save(p, cfg))

	data, err := os.ReadFile(p)
	require.NoError(t, err)
	assert.Contains(t, string(data), "[sync]")
	assert.Contains(t, string(data), `timeout = "42s"`)

	back, err := Load(p)
	require.NoError(t, err)
	assert.Equal(t, 42*time.Second, back.Sync.Timeout)
	assert.Equal(t, 1500*time.Millisecond, back.Sync.RetryBaseDelay)
	assert.Equal(t, "127.0.0.1:9999", back.Server.Listen)
}

func TestSaveKeepsStoreSettings(t *testing.T) {
	cfg := Default()
	cfg.Sync.Watch = false
	cfg.Store = store.Config{
		Type:     "redis",
		DSN:      "127.0.0.1:6379",
		Password: "s3cret",
		DB:       2,
		Prefix:   "ci",
		TTL:      time.Hour,
	}
	p := filepath.Join(t.TempDir(), "redis.toml")
	require.NoError(t, Save(p, cfg))
	back, err := Load(p)
	require.NoError(t, err)
	assert.Equal(t, "s3cret", back.Store.Password)
	assert.Equal(t, 2, back.Store.DB)
	assert.Equal(t, "ci", back.Store.Prefix)
	assert.Equal(t, time.Hour, back.Store.TTL)

	cfg = Default()
	cfg.Store.Dir = filepath.Join(t.TempDir(), "elsewhere")
	cfg.Store.LegacyLayout = true
	p = filepath.Join(t.TempDir(), "file.toml")
	require.NoError(t, Save(p, cfg))
	back, err = Load(p)
	require.NoError(t, err)
	assert.Equal(t, cfg.Store.Dir, back.Store.Dir)
	assert.True(t, back.Store.LegacyLayout)
}

func TestLoadServerTLS(t *testing.T) {
	cfg, err := Load(writeTOML(t, "[server.tls]\nenabled = true\ndir = \"certs\"\nauto_generate = true\nhosts = [\"sync.local\"]\n"))
	require.NoError(t, err)
	assert.True(t, cfg.Server.TLS.Enabled)
	assert.True(t, cfg.Server.TLS.AutoGenerate)
	assert.Equal(t, []string{"sync.local"}, cfg.Server.TLS.Hosts)
}
