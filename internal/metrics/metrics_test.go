package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func freshRegistry(t *testing.T) *prometheus.Registry {
	t.Helper()
	regOK.Store(false)
	reg := prometheus.NewRegistry()
	if err := Register(reg); err != nil {
		t.Fatalf("register: %v", err)
	}
	return reg
}

func TestRegisterIdempotentAndCountersWork(t *testing.T) {
	reg := freshRegistry(t)
	// idempotent: calling again should be no-op
	if err := Register(reg); err != nil {
		t.Fatalf("second register: %v", err)
	}

	IncWrite("a", "complete")
	IncWriteAttempt("a", true)
	IncWriteAttempt("a", false)
	IncWriteExhausted("a")
	ObserveWait("a", "complete", 1.25)
	IncReadError("a")
	IncCacheHit()
	IncCacheMiss()
	SetHealthy(true)

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	wantNames := map[string]bool{
		"agentsync_writes_total":          false,
		"agentsync_write_attempts_total":  false,
		"agentsync_write_exhausted_total": false,
		"agentsync_waits_total":           false,
		"agentsync_wait_duration_seconds": false,
		"agentsync_read_errors_total":     false,
		"agentsync_cache_hits_total":      false,
		"agentsync_cache_misses_total":    false,
		"agentsync_health_status":         false,
	}
	for _, mf := range mfs {
		n := mf.GetName()
		if _, ok := wantNames[n]; ok {
			wantNames[n] = true
			if len(mf.GetMetric()) == 0 {
				t.Fatalf("metric %s has no samples", n)
			}
		}
	}
	for n, ok := range wantNames {
		if !ok {
			t.Fatalf("expected to find metric %s", n)
		}
	}
}

func TestHealthGauge(t *testing.T) {
	freshRegistry(t)
	SetHealthy(true)
	if v := testutil.ToFloat64(healthStatus); v != 1 {
		t.Fatalf("healthy gauge = %v", v)
	}
	SetHealthy(false)
	if v := testutil.ToFloat64(healthStatus); v != 0 {
		t.Fatalf("unhealthy gauge = %v", v)
	}
}

func TestHandlerServesMetrics(t *testing.T) {
	regOK.Store(false)
	if err := Register(prometheus.DefaultRegisterer); err != nil {
		t.Fatal(err)
	}

	srv := httptest.NewServer(Handler())
	defer srv.Close()

	IncWrite("x", "pending")

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != 200 {
		t.Fatalf("status: %d", resp.StatusCode)
	}
	b, _ := io.ReadAll(resp.Body)
	s := string(b)
	if !strings.Contains(s, "agentsync_writes_total") {
		t.Fatalf("metrics output missing writes_total: %s", s[:min(200, len(s))])
	}
}

func TestConcurrentIncrements(t *testing.T) {
	reg := freshRegistry(t)
	before := testutil.ToFloat64(writeAttempts.WithLabelValues("c", "ok"))
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			IncWriteAttempt("c", true)
			IncWrite("c", "in_progress")
			IncCacheHit()
		}()
	}
	wg.Wait()
	if _, err := reg.Gather(); err != nil {
		t.Fatalf("gather: %v", err)
	}
	if got := testutil.ToFloat64(writeAttempts.WithLabelValues("c", "ok")) - before; got != 50 {
		t.Fatalf("attempts = %v, want 50", got)
	}
}

func TestMetricsBeforeRegister(t *testing.T) {
	originalState := regOK.Load()
	regOK.Store(false)
	defer regOK.Store(originalState)

	before := testutil.ToFloat64(writeExhausted.WithLabelValues("unregistered"))
	IncWrite("unregistered", "pending")
	IncWriteAttempt("unregistered", false)
	IncWriteExhausted("unregistered")
	ObserveWait("unregistered", "timeout", 1.0)
	IncReadError("unregistered")
	IncCacheHit()
	IncCacheMiss()
	SetHealthy(false)
	if after := testutil.ToFloat64(writeExhausted.WithLabelValues("unregistered")); after != before {
		t.Fatalf("helper recorded before Register: %v -> %v", before, after)
	}
}

func TestRegisterError(t *testing.T) {
	originalState := regOK.Load()
	regOK.Store(false)
	defer regOK.Store(originalState)

	err := Register(&errorRegisterer{shouldError: true})
	if err == nil {
		t.Fatal("Register should return error from failing registerer")
	}
	if err.Error() != "test registration error" {
		t.Fatalf("unexpected error: %v", err)
	}
	if regOK.Load() {
		t.Fatal("failed registration must leave helpers disabled")
	}
}

// Custom registerer for testing error handling
type errorRegisterer struct {
	shouldError bool
}

func (e *errorRegisterer) Register(prometheus.Collector) error {
	if e.shouldError {
		return errors.New("test registration error")
	}
	return nil
}

func (e *errorRegisterer) MustRegister(...prometheus.Collector) {}
func (e *errorRegisterer) Unregister(prometheus.Collector) bool { return false }
