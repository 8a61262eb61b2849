package manager

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/loykin/agentsync/internal/metrics"
	"github.com/loykin/agentsync/internal/status"
)

type waitOptions struct {
	interval time.Duration
	timeout  time.Duration
}

type WaitOption func(*waitOptions)

// WithPollInterval sets how often the store is re-read.
func WithPollInterval(d time.Duration) WaitOption {
	return func(o *waitOptions) {
		if d > 0 {
			o.interval = d
		}
	}
}

// WithTimeout bounds the total wait.
func WithTimeout(d time.Duration) WaitOption {
	return func(o *waitOptions) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// WaitForCompletion blocks until agent reaches a terminal status.
//
// It returns the record on complete, *status.AgentFailedError on failed,
// *status.TimeoutError when the timeout elapses first and ctx.Err() when ctx
// is done. The store is polled every interval; writes made through this
// Manager wake the waiter immediately.
func (m *Manager) WaitForCompletion(ctx context.Context, agent string, opts ...WaitOption) (status.Record, error) {
	if err := status.ValidateAgent(agent); err != nil {
		return status.Record{}, err
	}
	o := waitOptions{interval: m.cfg.CheckInterval, timeout: m.cfg.Timeout}
	for _, fn := range opts {
		fn(&o)
	}

	start := time.Now()
	wake := make(chan struct{}, 1)
	sub := m.notifier.Subscribe(agent, func(status.Record) {
		select {
		case wake <- struct{}{}:
		default:
		}
	})
	defer sub.Cancel()

	ticker := time.NewTicker(o.interval)
	defer ticker.Stop()
	deadline := time.NewTimer(o.timeout)
	defer deadline.Stop()

	done := func(result string) {
		metrics.ObserveWait(agent, result, time.Since(start).Seconds())
	}

	for {
		rec, found := m.lookup(ctx, agent)
		if found {
			switch rec.Status {
			case status.StateComplete:
				done("complete")
				m.logger.Info("agent completed", "agent", agent, "waited", time.Since(start))
				return rec, nil
			case status.StateFailed:
				done("failed")
				return status.Record{}, &status.AgentFailedError{Agent: agent, Reason: rec.Error}
			}
		}
		if time.Since(start) >= o.timeout {
			done("timeout")
			return status.Record{}, &status.TimeoutError{Agent: agent, After: o.timeout}
		}
		m.logger.Debug("waiting for agent", "agent", agent, "found", found, "status", rec.Status)

		select {
		case <-ctx.Done():
			done("cancelled")
			return status.Record{}, ctx.Err()
		case <-wake:
		case <-ticker.C:
		case <-deadline.C:
		}
	}
}

// lookup returns the freshest record it can find. A terminal cached record
// is final; anything else is re-read from the store so writes by other
// processes become visible.
func (m *Manager) lookup(ctx context.Context, agent string) (status.Record, bool) {
	if rec, ok := m.cache.Peek(agent); ok && rec.Status.Terminal() {
		return rec, true
	}
	rec, err := m.cache.Refresh(ctx, agent)
	if err == nil {
		return rec, true
	}
	var re *status.ReadError
	switch {
	case errors.Is(err, status.ErrNotFound):
	case errors.As(err, &re):
		metrics.IncReadError(agent)
		m.logger.Warn("status unreadable while waiting", "agent", agent, "path", re.Path, "error", re.Err)
	default:
		m.logger.Debug("status lookup failed", "agent", agent, "error", err)
	}
	return status.Record{}, false
}

// WaitForMultiple waits for every agent concurrently and returns their
// records in input order. The first failure cancels the other waits.
func (m *Manager) WaitForMultiple(ctx context.Context, agents []string, opts ...WaitOption) ([]status.Record, error) {
	out := make([]status.Record, len(agents))
	g, gctx := errgroup.WithContext(ctx)
	for i, agent := range agents {
		g.Go(func() error {
			rec, err := m.WaitForCompletion(gctx, agent, opts...)
			if err != nil {
				return err
			}
			out[i] = rec
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
