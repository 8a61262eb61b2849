package health

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/loykin/agentsync/internal/metrics"
)

// CheckFunc produces a report; usually a closure over Check and a store.
type CheckFunc func(ctx context.Context) Report

// Monitor runs a CheckFunc on a cron schedule and keeps the latest report.
type Monitor struct {
	check    CheckFunc
	schedule string
	timeout  time.Duration
	logger   *slog.Logger

	mu   sync.RWMutex
	last Report
	c    *cron.Cron
}

// NewMonitor validates schedule (standard 5-field expression or descriptors such as
// "@every 30s").
func NewMonitor(check CheckFunc, schedule string, logger *slog.Logger) (*Monitor, error) {
	if _, err := cron.ParseStandard(schedule); err != nil {
		return nil, fmt.Errorf("invalid health schedule %q: %w", schedule, err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		check:    check,
		schedule: schedule,
		timeout:  10 * time.Second,
		logger:   logger.With("component", "health"),
	}, nil
}

// RunOnce performs a check immediately and records it.
func (m *Monitor) RunOnce(ctx context.Context) Report {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	r := m.check(ctx)

	m.mu.Lock()
	prev := m.last
	m.last = r
	m.mu.Unlock()

	metrics.SetHealthy(r.Healthy)
	switch {
	case !r.Healthy:
		m.logger.Warn("status store unhealthy", "details", r.Details)
	case !prev.Healthy && !prev.CheckedAt.IsZero():
		m.logger.Info("status store recovered", "details", r.Details)
	}
	return r
}

// Start runs a first check and then schedules the rest. Stop ends the schedule.
func (m *Monitor) Start(ctx context.Context) {
	m.RunOnce(ctx)
	c := cron.New()
	_, _ = c.AddFunc(m.schedule, func() { m.RunOnce(ctx) })
	m.mu.Lock()
	m.c = c
	m.mu.Unlock()
	c.Start()
}

func (m *Monitor) Stop() {
	m.mu.Lock()
	c := m.c
	m.c = nil
	m.mu.Unlock()
	if c != nil {
		<-c.Stop().Done()
	}
}

// Last returns the most recent report, zero if none ran yet.
func (m *Monitor) Last() Report {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.last
}
