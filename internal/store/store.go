package store

import (
	"context"
	"time"

	"github.com/loykin/agentsync/internal/status"
)

// SentinelAgent is the reserved name used by health probes.
// It can never collide with a real agent because agents may not contain dots.
const SentinelAgent = ".health-check"

// Store persists the current status record of each agent.
// Get returns status.ErrNotFound when the agent has no record and a
// *status.ReadError when a record exists but cannot be read.
// Implementations must be safe for concurrent use.
type Store interface {
	Init(ctx context.Context) error
	Put(ctx context.Context, rec status.Record) error
	Get(ctx context.Context, agent string) (status.Record, error)
	List(ctx context.Context) ([]status.Record, error)
	DeleteAgent(ctx context.Context, agent string) error
	DeleteAll(ctx context.Context) error
	Close() error
}

// Prober is implemented by stores that can verify they are reachable and writable.
type Prober interface {
	Probe(ctx context.Context) error
}

// Config selects and configures a Store implementation.
type Config struct {
	Type string `toml:"type" mapstructure:"type"` // "file", "sqlite", "postgres", "redis"

	// file
	Dir          string `toml:"dir,omitempty" mapstructure:"dir"`
	LegacyLayout bool   `toml:"legacy_layout,omitempty" mapstructure:"legacy_layout"`

	// sqlite path, postgres URL or redis address
	DSN string `toml:"dsn,omitempty" mapstructure:"dsn"`

	// redis
	Password string        `toml:"password,omitempty" mapstructure:"password"`
	DB       int           `toml:"db,omitempty" mapstructure:"db"`
	Prefix   string        `toml:"prefix,omitempty" mapstructure:"prefix"`
	TTL      time.Duration `toml:"ttl,omitempty" mapstructure:"ttl"`
}
