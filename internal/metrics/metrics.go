package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "agentsync"

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	writes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "writes_total",
			Help:      "Number of status records written successfully.",
		}, []string{"agent", "status"},
	)
	writeAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "write_attempts_total",
			Help:      "Number of store write attempts by result (ok|error).",
		}, []string{"agent", "result"},
	)
	writeExhausted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "write_exhausted_total",
			Help:      "Number of status writes that failed after every retry.",
		}, []string{"agent"},
	)
	waits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "waits_total",
			Help:      "Number of completion waits by result (complete|failed|timeout|cancelled).",
		}, []string{"agent", "result"},
	)
	waitDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "wait_duration_seconds",
			Help:      "Time spent waiting for an agent to reach a terminal status.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600},
		}, []string{"agent"},
	)
	readErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "read_errors_total",
			Help:      "Number of status records that could not be read or decoded.",
		}, []string{"agent"},
	)
	cacheHits = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Status lookups served from the in-process cache.",
		},
	)
	cacheMisses = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_misses_total",
			Help:      "Status lookups that fell through to the store.",
		},
	)
	healthStatus = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "health_status",
			Help:      "Result of the last health check (1 = healthy, 0 = unhealthy).",
		},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{writes, writeAttempts, writeExhausted, waits, waitDuration, readErrors, cacheHits, cacheMisses, healthStatus}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			// already registered with this registerer: keep the existing one
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler returns an http.Handler that serves Prometheus metrics for the DefaultGatherer.
func Handler() http.Handler { return promhttp.Handler() }

// Below are lightweight helpers used by internal packages to record metrics.
// They no-op if Register hasn't been called.

func IncWrite(agent, status string) {
	if regOK.Load() {
		writes.WithLabelValues(agent, status).Inc()
	}
}

func IncWriteAttempt(agent string, ok bool) {
	if regOK.Load() {
		result := "ok"
		if !ok {
			result = "error"
		}
		writeAttempts.WithLabelValues(agent, result).Inc()
	}
}

func IncWriteExhausted(agent string) {
	if regOK.Load() {
		writeExhausted.WithLabelValues(agent).Inc()
	}
}

func ObserveWait(agent, result string, seconds float64) {
	if regOK.Load() {
		waits.WithLabelValues(agent, result).Inc()
		waitDuration.WithLabelValues(agent).Observe(seconds)
	}
}

func IncReadError(agent string) {
	if regOK.Load() {
		readErrors.WithLabelValues(agent).Inc()
	}
}

func IncCacheHit() {
	if regOK.Load() {
		cacheHits.Inc()
	}
}

func IncCacheMiss() {
	if regOK.Load() {
		cacheMisses.Inc()
	}
}

func SetHealthy(healthy bool) {
	if regOK.Load() {
		var v float64
		if healthy {
			v = 1
		}
		healthStatus.Set(v)
	}
}
