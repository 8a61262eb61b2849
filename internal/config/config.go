package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/spf13/viper"

	"github.com/loykin/agentsync/internal/logger"
	"github.com/loykin/agentsync/internal/store"
	tlsx "github.com/loykin/agentsync/internal/tls"
)

// EnvPrefix is prepended to every environment override, e.g.
// AGENTSYNC_SYNC_TIMEOUT=10m.
const EnvPrefix = "AGENTSYNC"

// Config represents the top-level TOML structure.
type Config struct {
	Sync    SyncConfig    `toml:"sync" mapstructure:"sync"`
	Store   store.Config  `toml:"store" mapstructure:"store"`
	History HistoryConfig `toml:"history" mapstructure:"history"`
	Log     LogConfig     `toml:"log" mapstructure:"log"`
	Server  ServerConfig  `toml:"server" mapstructure:"server"`
}

type SyncConfig struct {
	StatusDirectory string        `toml:"status_directory" mapstructure:"status_directory"`
	RetryAttempts   int           `toml:"retry_attempts" mapstructure:"retry_attempts"`
	RetryBaseDelay  time.Duration `toml:"retry_base_delay" mapstructure:"retry_base_delay"`
	Timeout         time.Duration `toml:"timeout" mapstructure:"timeout"`
	CheckInterval   time.Duration `toml:"check_interval" mapstructure:"check_interval"`
	Watch           bool          `toml:"watch" mapstructure:"watch"`
	LegacyLayout    bool          `toml:"legacy_layout" mapstructure:"legacy_layout"`
}

type HistoryConfig struct {
	Enabled bool     `toml:"enabled" mapstructure:"enabled"`
	DSNs    []string `toml:"dsns" mapstructure:"dsns"`
}

type LogConfig struct {
	Level      string `toml:"level" mapstructure:"level"`
	Format     string `toml:"format" mapstructure:"format"`
	Color      bool   `toml:"color" mapstructure:"color"`
	File       string `toml:"file" mapstructure:"file"`
	MaxSizeMB  int    `toml:"max_size_mb" mapstructure:"max_size_mb"`
	MaxBackups int    `toml:"max_backups" mapstructure:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days" mapstructure:"max_age_days"`
	Compress   bool   `toml:"compress" mapstructure:"compress"`
}

type ServerConfig struct {
	Listen         string      `toml:"listen" mapstructure:"listen"`
	BasePath       string      `toml:"base_path" mapstructure:"base_path"`
	Metrics        bool        `toml:"metrics" mapstructure:"metrics"`
	HealthSchedule string      `toml:"health_schedule" mapstructure:"health_schedule"`
	TLS            tlsx.Config `toml:"tls" mapstructure:"tls"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Sync: SyncConfig{
			StatusDirectory: ".agent-status",
			RetryAttempts:   3,
			RetryBaseDelay:  time.Second,
			Timeout:         300 * time.Second,
			CheckInterval:   5 * time.Second,
		},
		Store: store.Config{Type: "file"},
		Log: LogConfig{
			Level:      "info",
			Format:     "text",
			MaxSizeMB:  logger.DefaultMaxSizeMB,
			MaxBackups: logger.DefaultMaxBackups,
			MaxAgeDays: logger.DefaultMaxAgeDays,
		},
		Server: ServerConfig{
			Listen:         ":8090",
			BasePath:       "/api",
			Metrics:        true,
			HealthSchedule: "@every 30s",
		},
	}
}

func setDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("sync.status_directory", d.Sync.StatusDirectory)
	v.SetDefault("sync.retry_attempts", d.Sync.RetryAttempts)
	v.SetDefault("sync.retry_base_delay", d.Sync.RetryBaseDelay)
	v.SetDefault("sync.timeout", d.Sync.Timeout)
	v.SetDefault("sync.check_interval", d.Sync.CheckInterval)
	v.SetDefault("sync.watch", d.Sync.Watch)
	v.SetDefault("sync.legacy_layout", d.Sync.LegacyLayout)

	v.SetDefault("store.type", d.Store.Type)
	v.SetDefault("store.dir", "")
	v.SetDefault("store.dsn", "")
	v.SetDefault("store.password", "")
	v.SetDefault("store.db", 0)
	v.SetDefault("store.prefix", "")
	v.SetDefault("store.ttl", time.Duration(0))

	v.SetDefault("history.enabled", false)
	v.SetDefault("history.dsns", []string{})

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("log.color", d.Log.Color)
	v.SetDefault("log.file", d.Log.File)
	v.SetDefault("log.max_size_mb", d.Log.MaxSizeMB)
	v.SetDefault("log.max_backups", d.Log.MaxBackups)
	v.SetDefault("log.max_age_days", d.Log.MaxAgeDays)
	v.SetDefault("log.compress", d.Log.Compress)

	v.SetDefault("server.listen", d.Server.Listen)
	v.SetDefault("server.base_path", d.Server.BasePath)
	v.SetDefault("server.metrics", d.Server.Metrics)
	v.SetDefault("server.health_schedule", d.Server.HealthSchedule)
	v.SetDefault("server.tls.enabled", false)
	v.SetDefault("server.tls.cert_file", "")
	v.SetDefault("server.tls.key_file", "")
	v.SetDefault("server.tls.dir", "")
	v.SetDefault("server.tls.auto_generate", false)
	v.SetDefault("server.tls.min_version", "")
}

// Load reads the TOML file at path (optional) and applies AGENTSYNC_*
// environment overrides on top of the defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Normalize fills derived values: the file store lives in the sync
// status directory unless store.dir says otherwise.
func (c *Config) Normalize() {
	c.Store.Type = strings.ToLower(strings.TrimSpace(c.Store.Type))
	if c.Store.Type == "" {
		c.Store.Type = "file"
	}
	if c.Store.Dir == "" {
		c.Store.Dir = c.Sync.StatusDirectory
	}
	if c.Sync.LegacyLayout {
		c.Store.LegacyLayout = true
	}
}

// Validate checks value ranges; errors name the offending key.
func (c *Config) Validate() error {
	switch {
	case strings.TrimSpace(c.Sync.StatusDirectory) == "" && c.Store.Type == "file":
		return fmt.Errorf("sync.status_directory must not be empty")
	case c.Sync.RetryAttempts < 1:
		return fmt.Errorf("sync.retry_attempts must be >= 1, got %d", c.Sync.RetryAttempts)
	case c.Sync.RetryBaseDelay < 0:
		return fmt.Errorf("sync.retry_base_delay must not be negative, got %s", c.Sync.RetryBaseDelay)
	case c.Sync.Timeout <= 0:
		return fmt.Errorf("sync.timeout must be > 0, got %s", c.Sync.Timeout)
	case c.Sync.CheckInterval <= 0:
		return fmt.Errorf("sync.check_interval must be > 0, got %s", c.Sync.CheckInterval)
	}
	switch c.Store.Type {
	case "file":
	case "sqlite", "postgres", "postgresql", "redis":
		if c.Store.DSN == "" {
			return fmt.Errorf("store.dsn is required for store type %q", c.Store.Type)
		}
	default:
		return fmt.Errorf("store.type %q is not supported", c.Store.Type)
	}
	if c.History.Enabled && len(c.History.DSNs) == 0 {
		return fmt.Errorf("history.dsns must list at least one sink when history.enabled is true")
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}
	if err := c.Server.TLS.Validate(); err != nil {
		return err
	}
	if c.Sync.Watch && c.Store.Type != "file" {
		return fmt.Errorf("sync.watch requires store.type \"file\", got %q", c.Store.Type)
	}
	return nil
}

// Logger converts the [log] section for logger.Config.NewSlogger.
func (c *Config) Logger() logger.Config {
	lc := logger.DefaultConfig()
	lc.Slog.Level = logger.Level(c.Log.Level)
	lc.Slog.Format = logger.Format(strings.ToLower(c.Log.Format))
	lc.Slog.Color = c.Log.Color
	lc.File = logger.FileConfig{
		Path:       c.Log.File,
		MaxSizeMB:  c.Log.MaxSizeMB,
		MaxBackups: c.Log.MaxBackups,
		MaxAgeDays: c.Log.MaxAgeDays,
		Compress:   c.Log.Compress,
	}
	return lc
}

// fileView is the on-disk shape written by Save; durations are written as
// Go duration strings so Load reads them back unchanged.
type fileView struct {
	Sync struct {
		StatusDirectory string `toml:"status_directory"`
		RetryAttempts   int    `toml:"retry_attempts"`
		RetryBaseDelay  string `toml:"retry_base_delay"`
		Timeout         string `toml:"timeout"`
		CheckInterval   string `toml:"check_interval"`
		Watch           bool   `toml:"watch"`
		LegacyLayout    bool   `toml:"legacy_layout"`
	} `toml:"sync"`
	Store struct {
		Type         string `toml:"type"`
		Dir          string `toml:"dir,omitempty"`
		LegacyLayout bool   `toml:"legacy_layout,omitempty"`
		DSN          string `toml:"dsn"`
		Password     string `toml:"password,omitempty"`
		DB           int    `toml:"db,omitempty"`
		Prefix       string `toml:"prefix,omitempty"`
		TTL          string `toml:"ttl,omitempty"`
	} `toml:"store"`
	History HistoryConfig `toml:"history"`
	Log     LogConfig     `toml:"log"`
	Server  ServerConfig  `toml:"server"`
}

// Save writes cfg to path as TOML, creating parent directories.
func Save(path string, cfg *Config) error {
	var fv fileView
	fv.Sync.StatusDirectory = cfg.Sync.StatusDirectory
	fv.Sync.RetryAttempts = cfg.Sync.RetryAttempts
	fv.Sync.RetryBaseDelay = cfg.Sync.RetryBaseDelay.String()
	fv.Sync.Timeout = cfg.Sync.Timeout.String()
	fv.Sync.CheckInterval = cfg.Sync.CheckInterval.String()
	fv.Sync.Watch = cfg.Sync.Watch
	fv.Sync.LegacyLayout = cfg.Sync.LegacyLayout
	fv.Store.Type = cfg.Store.Type
	fv.Store.Dir = cfg.Store.Dir
	fv.Store.LegacyLayout = cfg.Store.LegacyLayout
	fv.Store.DSN = cfg.Store.DSN
	fv.Store.Password = cfg.Store.Password
	fv.Store.DB = cfg.Store.DB
	fv.Store.Prefix = cfg.Store.Prefix
	if cfg.Store.TTL > 0 {
		fv.Store.TTL = cfg.Store.TTL.String()
	}
	fv.History = cfg.History
	if fv.History.DSNs == nil {
		fv.History.DSNs = []string{}
	}
	fv.Log = cfg.Log
	fv.Server = cfg.Server

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()
	return toml.NewEncoder(f).Encode(fv)
}
