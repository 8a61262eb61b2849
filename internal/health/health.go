package health

import (
	"context"
	"fmt"
	"time"

	"github.com/loykin/agentsync/internal/store"
)

// Report is the outcome of one health check.
type Report struct {
	Healthy   bool      `json:"healthy"`
	Details   string    `json:"details"`
	CheckedAt time.Time `json:"checked_at"`
}

// Check verifies the store is accessible and writable. It never returns an
// error: failures are described in Report.Details.
func Check(ctx context.Context, st store.Store) (r Report) {
	r.CheckedAt = time.Now().UTC()
	defer func() {
		if p := recover(); p != nil {
			r.Healthy = false
			r.Details = fmt.Sprintf("health check panicked: %v", p)
		}
	}()

	if st == nil {
		r.Details = "no status store configured"
		return r
	}
	if p, ok := st.(store.Prober); ok {
		if err := p.Probe(ctx); err != nil {
			r.Details = err.Error()
			return r
		}
		r.Healthy = true
		r.Details = "status store is accessible and writable"
		return r
	}
	recs, err := st.List(ctx)
	if err != nil {
		r.Details = err.Error()
		return r
	}
	r.Healthy = true
	r.Details = fmt.Sprintf("status store is readable (%d agents)", len(recs))
	return r
}
