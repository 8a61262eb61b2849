package manager

import (
	"context"
	"errors"
	"time"

	"github.com/loykin/agentsync/internal/metrics"
	"github.com/loykin/agentsync/internal/status"
)

// putWithRetry tries Put up to RetryAttempts times. After failed attempt i
// (1-based) it waits i*RetryBaseDelay before the next one. A stale write is
// returned at once; retrying the same seq cannot succeed.
func (m *Manager) putWithRetry(ctx context.Context, rec status.Record) error {
	attempts := m.cfg.RetryAttempts
	var lastErr error
	for i := 1; i <= attempts; i++ {
		err := m.st.Put(ctx, rec)
		metrics.IncWriteAttempt(rec.Agent, err == nil)
		if err == nil {
			m.logger.Info("status updated", "agent", rec.Agent, "status", rec.Status, "attempt", i)
			return nil
		}
		if errors.Is(err, status.ErrStale) {
			m.logger.Warn("status write rejected as stale", "agent", rec.Agent, "status", rec.Status, "seq", rec.Seq)
			return err
		}
		lastErr = err
		m.logger.Warn("status write failed", "agent", rec.Agent, "status", rec.Status,
			"attempt", i, "attempts", attempts, "error", err)
		if i < attempts {
			if err := m.sleep(ctx, time.Duration(i)*m.cfg.RetryBaseDelay); err != nil {
				return err
			}
		}
	}
	metrics.IncWriteExhausted(rec.Agent)
	m.logger.Error("status write gave up", "agent", rec.Agent, "status", rec.Status, "attempts", attempts, "error", lastErr)
	return &status.WriteExhaustedError{Agent: rec.Agent, Attempts: attempts, Err: lastErr}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
