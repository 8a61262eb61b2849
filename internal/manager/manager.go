package manager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/loykin/agentsync/internal/cache"
	"github.com/loykin/agentsync/internal/health"
	"github.com/loykin/agentsync/internal/history"
	"github.com/loykin/agentsync/internal/metrics"
	"github.com/loykin/agentsync/internal/notify"
	"github.com/loykin/agentsync/internal/status"
	"github.com/loykin/agentsync/internal/store"
)

// Config holds the write and wait tunables.
type Config struct {
	RetryAttempts  int
	RetryBaseDelay time.Duration
	Timeout        time.Duration
	CheckInterval  time.Duration
}

func DefaultConfig() Config {
	return Config{
		RetryAttempts:  3,
		RetryBaseDelay: time.Second,
		Timeout:        300 * time.Second,
		CheckInterval:  5 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.RetryAttempts < 1 {
		c.RetryAttempts = d.RetryAttempts
	}
	if c.RetryBaseDelay < 0 {
		c.RetryBaseDelay = 0
	}
	if c.Timeout <= 0 {
		c.Timeout = d.Timeout
	}
	if c.CheckInterval <= 0 {
		c.CheckInterval = d.CheckInterval
	}
	return c
}

// Manager records agent statuses in a Store and lets callers wait on them.
// Each Manager owns a private cache; create one per process and share it.
type Manager struct {
	cfg      Config
	st       store.Store
	cache    *cache.Cache
	notifier *notify.Notifier
	logger   *slog.Logger
	source   string

	mu    sync.RWMutex
	sinks []history.Sink

	lastSeq atomic.Int64
	sleep   func(ctx context.Context, d time.Duration) error
}

type Option func(*Manager)

func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithNotifier shares a notifier between managers or with a watcher.
func WithNotifier(n *notify.Notifier) Option {
	return func(m *Manager) {
		if n != nil {
			m.notifier = n
		}
	}
}

// WithSource overrides the instance identifier written to history events.
func WithSource(id string) Option {
	return func(m *Manager) {
		if id != "" {
			m.source = id
		}
	}
}

func WithHistorySinks(sinks ...history.Sink) Option {
	return func(m *Manager) { m.SetHistorySinks(sinks...) }
}

func New(st store.Store, cfg Config, opts ...Option) *Manager {
	m := &Manager{
		cfg:    cfg.withDefaults(),
		st:     st,
		cache:  cache.New(st),
		logger: slog.Default(),
		source: uuid.NewString(),
		sleep:  sleepCtx,
	}
	for _, o := range opts {
		o(m)
	}
	m.logger = m.logger.With("component", "manager")
	if m.notifier == nil {
		m.notifier = notify.New(m.logger)
	}
	return m
}

// SetHistorySinks configures external history sinks (OpenSearch, ClickHouse, etc.).
// Passing nil or no sinks clears the list.
func (m *Manager) SetHistorySinks(sinks ...history.Sink) {
	m.mu.Lock()
	m.sinks = append([]history.Sink(nil), sinks...)
	m.mu.Unlock()
}

func (m *Manager) Config() Config             { return m.cfg }
func (m *Manager) Store() store.Store         { return m.st }
func (m *Manager) Cache() *cache.Cache        { return m.cache }
func (m *Manager) Notifier() *notify.Notifier { return m.notifier }
func (m *Manager) Source() string             { return m.source }

// Initialize prepares the backing store. It is idempotent.
func (m *Manager) Initialize(ctx context.Context) error {
	if err := m.st.Init(ctx); err != nil {
		return err
	}
	m.logger.Info("status store initialized")
	return nil
}

// nextSeq returns wall-clock nanoseconds, bumped so values from this
// process are strictly increasing.
func (m *Manager) nextSeq() int64 {
	for {
		last := m.lastSeq.Load()
		next := time.Now().UnixNano()
		if next <= last {
			next = last + 1
		}
		if m.lastSeq.CompareAndSwap(last, next) {
			return next
		}
	}
}

type setOptions struct {
	metadata map[string]any
	errMsg   string
}

// SetOption decorates the record written by SetStatus.
type SetOption func(*setOptions)

func WithMetadata(md map[string]any) SetOption {
	return func(o *setOptions) { o.metadata = md }
}

func WithError(msg string) SetOption {
	return func(o *setOptions) { o.errMsg = msg }
}

// SetStatus persists a new record for agent, retrying store failures with
// linear backoff. On success the cache is updated and subscribers notified.
// When the store holds a newer record it returns *status.StaleWriteError and
// leaves the cache, subscribers and history untouched.
func (m *Manager) SetStatus(ctx context.Context, agent string, state status.State, opts ...SetOption) (status.Record, error) {
	var o setOptions
	for _, fn := range opts {
		fn(&o)
	}
	rec := status.Record{
		Agent:     agent,
		Status:    state,
		Timestamp: time.Now().UTC(),
		Metadata:  o.metadata,
		Error:     o.errMsg,
	}
	if err := rec.Validate(); err != nil {
		return status.Record{}, err
	}
	rec.Seq = m.nextSeq()

	if err := m.putWithRetry(ctx, rec); err != nil {
		return status.Record{}, err
	}

	m.cache.Set(rec)
	m.notifier.PublishNew(rec)
	metrics.IncWrite(agent, string(state))
	m.record(ctx, history.EventSet, rec)
	return rec, nil
}

// GetStatus returns the current record for agent, reading through the cache.
// It returns status.ErrNotFound when the agent has no record and a
// *status.ReadError when the record cannot be read.
func (m *Manager) GetStatus(ctx context.Context, agent string) (status.Record, error) {
	if err := status.ValidateAgent(agent); err != nil {
		return status.Record{}, err
	}
	rec, err := m.cache.Get(ctx, agent)
	if err != nil {
		var re *status.ReadError
		if errors.As(err, &re) {
			metrics.IncReadError(agent)
		}
		return status.Record{}, err
	}
	return rec, nil
}

// GetAllStatus reads every agent's current record straight from the store.
// Unreadable agents are logged and left out.
func (m *Manager) GetAllStatus(ctx context.Context) (map[string]status.Record, error) {
	recs, err := m.st.List(ctx)
	if err != nil {
		skipped, fatal := splitReadErrors(err)
		if fatal != nil {
			return nil, fatal
		}
		for _, re := range skipped {
			metrics.IncReadError(re.Agent)
			m.logger.Warn("skipping unreadable status", "agent", re.Agent, "path", re.Path, "error", re.Err)
		}
	}
	out := make(map[string]status.Record, len(recs))
	for _, r := range recs {
		out[r.Agent] = r
	}
	return out, nil
}

// splitReadErrors separates per-agent read failures from errors that
// invalidate the whole listing.
func splitReadErrors(err error) ([]*status.ReadError, error) {
	var parts []error
	if j, ok := err.(interface{ Unwrap() []error }); ok {
		parts = j.Unwrap()
	} else {
		parts = []error{err}
	}
	var skipped []*status.ReadError
	var fatal []error
	for _, p := range parts {
		var re *status.ReadError
		if errors.As(p, &re) && re.Agent != "" && re.Agent != "*" {
			skipped = append(skipped, re)
			continue
		}
		fatal = append(fatal, p)
	}
	return skipped, errors.Join(fatal...)
}

// Cleanup deletes the records of agent, or of every agent when agent is "".
func (m *Manager) Cleanup(ctx context.Context, agent string) error {
	if agent == "" {
		if err := m.st.DeleteAll(ctx); err != nil {
			return fmt.Errorf("cleanup all: %w", err)
		}
		m.cache.Clear()
		m.logger.Info("cleaned up all agent statuses")
		m.record(ctx, history.EventDelete, status.Record{Agent: "*", Timestamp: time.Now().UTC()})
		return nil
	}
	if err := status.ValidateAgent(agent); err != nil {
		return err
	}
	if err := m.st.DeleteAgent(ctx, agent); err != nil {
		return fmt.Errorf("cleanup %s: %w", agent, err)
	}
	m.cache.Delete(agent)
	m.logger.Info("cleaned up agent status", "agent", agent)
	m.record(ctx, history.EventDelete, status.Record{Agent: agent, Timestamp: time.Now().UTC()})
	return nil
}

// HealthCheck probes the store. It never fails; see Report.Details.
func (m *Manager) HealthCheck(ctx context.Context) health.Report {
	r := health.Check(ctx, m.st)
	metrics.SetHealthy(r.Healthy)
	if !r.Healthy {
		m.logger.Warn("health check failed", "details", r.Details)
	}
	return r
}

// Subscribe registers fn for successful writes of agent made by this Manager
// (or by a watcher sharing its notifier).
func (m *Manager) Subscribe(agent string, fn notify.Func) *notify.Subscription {
	return m.notifier.Subscribe(agent, fn)
}

func (m *Manager) SubscribeAll(fn notify.Func) *notify.Subscription {
	return m.notifier.SubscribeAll(fn)
}

// record sends an event to the history sinks. Failures are logged only.
func (m *Manager) record(ctx context.Context, t history.EventType, rec status.Record) {
	m.mu.RLock()
	sinks := m.sinks
	m.mu.RUnlock()
	if len(sinks) == 0 {
		return
	}
	e := history.NewEvent(t, m.source, rec)
	for _, s := range sinks {
		if err := s.Send(context.WithoutCancel(ctx), e); err != nil {
			m.logger.Warn("history sink failed", "agent", rec.Agent, "event", t, "error", err)
		}
	}
}

// Close releases the store and any closable history sinks.
func (m *Manager) Close() error {
	m.mu.Lock()
	sinks := m.sinks
	m.sinks = nil
	m.mu.Unlock()
	errs := []error{history.Multi(sinks).Close()}
	if m.st != nil {
		errs = append(errs, m.st.Close())
	}
	return errors.Join(errs...)
}
