package agentsync

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"

	cfg "github.com/loykin/agentsync/internal/config"
	"github.com/loykin/agentsync/internal/health"
	"github.com/loykin/agentsync/internal/history"
	hfactory "github.com/loykin/agentsync/internal/history/factory"
	"github.com/loykin/agentsync/internal/manager"
	"github.com/loykin/agentsync/internal/metrics"
	"github.com/loykin/agentsync/internal/notify"
	iapi "github.com/loykin/agentsync/internal/server"
	"github.com/loykin/agentsync/internal/status"
	"github.com/loykin/agentsync/internal/store"
	sfactory "github.com/loykin/agentsync/internal/store/factory"
	"github.com/loykin/agentsync/internal/watch"
)

// Re-export core types for external consumers.
// These are aliases so conversions are zero-cost.

type Record = status.Record

type State = status.State

const (
	StatePending    = status.StatePending
	StateInProgress = status.StateInProgress
	StateComplete   = status.StateComplete
	StateFailed     = status.StateFailed
)

type Manager = manager.Manager

type ManagerConfig = manager.Config

type Config = cfg.Config

type Store = store.Store

type StoreConfig = store.Config

type HistorySink = history.Sink

type HealthReport = health.Report

type Subscription = notify.Subscription

// Errors
var (
	ErrNotFound     = status.ErrNotFound
	ErrInvalidAgent = status.ErrInvalidAgent
	ErrInvalidState = status.ErrInvalidState
	ErrStale        = status.ErrStale
)

type (
	ReadError           = status.ReadError
	IOError             = status.IOError
	DirectoryInitError  = status.DirectoryInitError
	WriteExhaustedError = status.WriteExhaustedError
	AgentFailedError    = status.AgentFailedError
	TimeoutError        = status.TimeoutError
	StaleWriteError     = status.StaleWriteError
)

type (
	Option     = manager.Option
	SetOption  = manager.SetOption
	WaitOption = manager.WaitOption
)

// Options
var (
	WithMetadata     = manager.WithMetadata
	WithError        = manager.WithError
	WithTimeout      = manager.WithTimeout
	WithPollInterval = manager.WithPollInterval
	WithLogger       = manager.WithLogger
	WithSource       = manager.WithSource
)

func ParseState(v string) (State, error) { return status.ParseState(v) }

// DefaultConfig returns the built-in configuration.
func DefaultConfig() *Config { return cfg.Default() }

// LoadConfig reads a TOML file (optional) plus AGENTSYNC_* overrides.
func LoadConfig(path string) (*Config, error) { return cfg.Load(path) }

// SaveConfig writes cfg as TOML.
func SaveConfig(path string, c *Config) error { return cfg.Save(path, c) }

// ManagerConfigFrom extracts the manager settings from the [sync] section.
func ManagerConfigFrom(c *Config) ManagerConfig {
	return manager.Config{
		RetryAttempts:  c.Sync.RetryAttempts,
		RetryBaseDelay: c.Sync.RetryBaseDelay,
		Timeout:        c.Sync.Timeout,
		CheckInterval:  c.Sync.CheckInterval,
	}
}

// New builds a Manager from configuration: the configured store, a logger
// from [log] and, when enabled, history sinks. A nil cfg means defaults.
// The caller still has to call Initialize.
func New(c *Config, opts ...Option) (*Manager, error) {
	if c == nil {
		c = cfg.Default()
	}
	c.Normalize()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	st, err := sfactory.New(c.Store)
	if err != nil {
		return nil, fmt.Errorf("create store: %w", err)
	}
	mopts := []manager.Option{manager.WithLogger(c.Logger().NewSlogger())}
	if c.History.Enabled {
		sinks, err := hfactory.NewSinks(c.History.DSNs)
		if err != nil {
			_ = st.Close()
			return nil, fmt.Errorf("create history sinks: %w", err)
		}
		mopts = append(mopts, manager.WithHistorySinks(sinks...))
	}
	return manager.New(st, ManagerConfigFrom(c), append(mopts, opts...)...), nil
}

// NewWithStore wraps an already constructed store.
func NewWithStore(st Store, c ManagerConfig, opts ...Option) *Manager {
	return manager.New(st, c, opts...)
}

// NewHistorySinkFromDSN builds a history sink (sqlite, postgres, clickhouse,
// opensearch) from a DSN.
func NewHistorySinkFromDSN(dsn string) (HistorySink, error) { return hfactory.NewSinkFromDSN(dsn) }

// NewStoreFromDSN builds a store from a DSN (file, sqlite, postgres, redis).
func NewStoreFromDSN(dsn string) (Store, error) { return sfactory.NewFromDSN(dsn) }

// Metrics helpers

func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }

func RegisterMetricsDefault() error { return metrics.Register(prometheus.DefaultRegisterer) }

func MetricsHandler() http.Handler { return metrics.Handler() }

// HTTP API

type RouterOption = iapi.RouterOption

var (
	WithRouterMetrics = iapi.WithMetrics
	WithRouterMonitor = iapi.WithMonitor
	WithRouterLogger  = iapi.WithLogger
	WithRouterTLS     = iapi.WithTLS
)

// NewHTTPHandler returns the REST + websocket handler mounted under basePath.
func NewHTTPHandler(m *Manager, basePath string, opts ...RouterOption) http.Handler {
	return iapi.NewRouter(m, basePath, opts...).Handler()
}

// NewHTTPServer binds addr and serves the API in the background.
func NewHTTPServer(addr, basePath string, m *Manager, opts ...RouterOption) (*http.Server, error) {
	return iapi.NewServer(addr, basePath, m, opts...)
}

// NewHealthMonitor runs m.HealthCheck on a cron schedule such as "@every 30s".
func NewHealthMonitor(m *Manager, schedule string, logger *slog.Logger) (*health.Monitor, error) {
	return health.NewMonitor(m.HealthCheck, schedule, logger)
}

// NewWatcher republishes writes made by other processes in a file store
// directory through m's cache and notifier.
func NewWatcher(m *Manager, dir string, logger *slog.Logger) *watch.Watcher {
	return watch.New(dir, m.Cache(), m.Notifier(), logger)
}
