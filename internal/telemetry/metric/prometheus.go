// Package metric provides Prometheus metrics for KeyVault.
package metric

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry holds all storage subsystem metrics.
type Registry struct {
	// Backend operation metrics
	OpsTotal   *prometheus.CounterVec   // labels: backend, op, outcome
	OpDuration *prometheus.HistogramVec // labels: backend, op

	// Cache metrics
	CacheHits      prometheus.Counter
	CacheMisses    prometheus.Counter
	CacheEvictions *prometheus.CounterVec // labels: reason
	CacheEntries   prometheus.Gauge

	// Health metrics
	HealthState       *prometheus.GaugeVec   // labels: backend (0 unhealthy, 1 degraded, 2 healthy)
	HealthTransitions *prometheus.CounterVec // labels: backend, to

	// Router metrics
	Failovers        prometheus.Counter
	FallbackAttempts *prometheus.CounterVec // labels: backend

	// Batch metrics
	BatchSize      prometheus.Histogram
	BatchCoalesced prometheus.Counter

	// Invoke boundary metrics
	InvokeRejected *prometheus.CounterVec // labels: reason

	reg *prometheus.Registry
}

// NewRegistry creates a registry with all metrics registered against a
// private Prometheus registry, so multiple storage instances in one
// process do not collide.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()

	r := &Registry{
		OpsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "keyvault",
			Name:      "backend_ops_total",
			Help:      "Backend operations by backend, operation, and outcome.",
		}, []string{"backend", "op", "outcome"}),

		OpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "keyvault",
			Name:      "backend_op_duration_seconds",
			Help:      "Backend operation latency.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
		}, []string{"backend", "op"}),

		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "keyvault",
			Name:      "cache_hits_total",
			Help:      "Cache hits.",
		}),

		CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "keyvault",
			Name:      "cache_misses_total",
			Help:      "Cache misses (including expired entries).",
		}),

		CacheEvictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "keyvault",
			Name:      "cache_evictions_total",
			Help:      "Cache evictions by reason (lru, ttl, pressure, clear).",
		}, []string{"reason"}),

		CacheEntries: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "keyvault",
			Name:      "cache_entries",
			Help:      "Current number of cache entries.",
		}),

		HealthState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "keyvault",
			Name:      "backend_health_state",
			Help:      "Backend health (2 healthy, 1 degraded, 0 unhealthy).",
		}, []string{"backend"}),

		HealthTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "keyvault",
			Name:      "backend_health_transitions_total",
			Help:      "Health state transitions by backend and target state.",
		}, []string{"backend", "to"}),

		Failovers: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "keyvault",
			Name:      "failovers_total",
			Help:      "Completed automatic failovers.",
		}),

		FallbackAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "keyvault",
			Name:      "fallback_attempts_total",
			Help:      "Operations retried against a fallback backend.",
		}, []string{"backend"}),

		BatchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "keyvault",
			Name:      "batch_size",
			Help:      "Operations per executed batch.",
			Buckets:   prometheus.LinearBuckets(1, 5, 12),
		}),

		BatchCoalesced: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "keyvault",
			Name:      "batch_coalesced_total",
			Help:      "Read operations coalesced into an already-pending call.",
		}),

		InvokeRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "keyvault",
			Name:      "invoke_rejected_total",
			Help:      "Invoke boundary rejections by reason.",
		}, []string{"reason"}),

		reg: reg,
	}

	reg.MustRegister(
		r.OpsTotal, r.OpDuration,
		r.CacheHits, r.CacheMisses, r.CacheEvictions, r.CacheEntries,
		r.HealthState, r.HealthTransitions,
		r.Failovers, r.FallbackAttempts,
		r.BatchSize, r.BatchCoalesced,
		r.InvokeRejected,
	)

	return r
}

// Gatherer exposes the underlying registry for scrape wiring by the host
// application.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.reg
}

// Nop returns a registry whose metrics are registered nowhere-visible,
// for components constructed without telemetry.
func Nop() *Registry {
	return NewRegistry()
}
