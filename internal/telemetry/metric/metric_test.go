// Package metric provides Prometheus metrics for KeyVault.
package metric

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRegistry_Counters(t *testing.T) {
	r := NewRegistry()

	r.OpsTotal.WithLabelValues("memory", "store", "ok").Inc()
	r.OpsTotal.WithLabelValues("memory", "store", "ok").Inc()
	r.OpsTotal.WithLabelValues("memory", "retrieve", "error").Inc()

	got := testutil.ToFloat64(r.OpsTotal.WithLabelValues("memory", "store", "ok"))
	if got != 2 {
		t.Errorf("ops_total{store,ok} = %v, want 2", got)
	}

	r.CacheHits.Inc()
	r.CacheMisses.Inc()
	r.CacheMisses.Inc()
	if hits := testutil.ToFloat64(r.CacheHits); hits != 1 {
		t.Errorf("cache_hits = %v, want 1", hits)
	}
	if misses := testutil.ToFloat64(r.CacheMisses); misses != 2 {
		t.Errorf("cache_misses = %v, want 2", misses)
	}
}

func TestRegistry_HealthGauge(t *testing.T) {
	r := NewRegistry()

	r.HealthState.WithLabelValues("keychain").Set(2)
	r.HealthState.WithLabelValues("keychain").Set(1)

	if got := testutil.ToFloat64(r.HealthState.WithLabelValues("keychain")); got != 1 {
		t.Errorf("health_state = %v, want 1", got)
	}
}

func TestRegistry_Isolated(t *testing.T) {
	// Two registries must not collide on registration.
	a := NewRegistry()
	b := NewRegistry()

	a.Failovers.Inc()
	if got := testutil.ToFloat64(b.Failovers); got != 0 {
		t.Errorf("second registry failovers = %v, want 0", got)
	}

	if a.Gatherer() == nil || b.Gatherer() == nil {
		t.Error("Gatherer returned nil")
	}
}
