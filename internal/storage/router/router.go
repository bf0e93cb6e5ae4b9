// Package router fans storage operations across ranked backends.
//
// Backends are ordered once at construction, by security level then
// performance. Store and Retrieve hit the primary first and fall back
// down the ranking only for retryable failures; Remove and Clear run
// best-effort across every backend so a demoted backend never keeps an
// orphaned secret. When auto-failover is enabled, an unhealthy primary
// is migrated to the best healthy backend and the primary pointer swaps
// only after the migration completes.
package router

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tari-project/keyvault-go/internal/core/domain"
	"github.com/tari-project/keyvault-go/internal/storage"
	"github.com/tari-project/keyvault-go/internal/storage/health"
	"github.com/tari-project/keyvault-go/internal/storage/migrate"
	"github.com/tari-project/keyvault-go/internal/telemetry/logger"
	"github.com/tari-project/keyvault-go/internal/telemetry/metric"
)

// Config configures a Router.
type Config struct {
	// AllowFallbacks permits retrying Store/Retrieve against
	// lower-ranked backends after a retryable primary failure.
	AllowFallbacks bool

	// Monitor records operation outcomes and drives failover. Nil
	// disables health tracking and auto-failover.
	Monitor *health.Monitor

	// AutoFailover migrates off a primary that turns unhealthy.
	// Requires Monitor.
	AutoFailover bool

	// PreserveSource keeps data on the demoted primary after a
	// failover migration, as redundancy.
	PreserveSource bool

	// Logger is the structured logger. Nil uses the package default.
	Logger logger.Logger

	// Metrics receives router counters. Nil disables instrumentation.
	Metrics *metric.Registry
}

// Router implements storage.Backend over an ordered backend list.
type Router struct {
	cfg     Config
	log     logger.Logger
	ranked  []storage.Backend // fixed rank order, set at construction
	primary atomic.Int32      // index into ranked

	// failoverMu serializes failover attempts; reads and writes keep
	// using the old primary until the pointer swaps.
	failoverMu sync.Mutex
	closed     atomic.Bool
}

// New builds a router over backends. The slice is re-ordered by security
// level then performance; ties keep the caller's order. At least one
// backend is required.
func New(backends []storage.Backend, cfg Config) (*Router, error) {
	if len(backends) == 0 {
		return nil, domain.ErrNoBackendAvailable
	}
	log := cfg.Logger
	if log == nil {
		log = logger.Default()
	}

	ranked := make([]storage.Backend, len(backends))
	copy(ranked, backends)
	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i].Info(), ranked[j].Info()
		if a.SecurityLevel.Rank() != b.SecurityLevel.Rank() {
			return a.SecurityLevel.Rank() > b.SecurityLevel.Rank()
		}
		return a.Performance.Rank() > b.Performance.Rank()
	})

	r := &Router{
		cfg:    cfg,
		log:    log.With("component", "router"),
		ranked: ranked,
	}

	if cfg.Monitor != nil {
		for _, b := range ranked {
			cfg.Monitor.Register(b.Info().Type)
		}
		if cfg.AutoFailover {
			cfg.Monitor.Subscribe(r.onHealthTransition)
		}
	}

	r.log.Info("router assembled",
		"primary", string(ranked[0].Info().Type), "backends", len(ranked))
	return r, nil
}

// Primary returns the current primary backend.
func (r *Router) Primary() storage.Backend {
	return r.ranked[r.primary.Load()]
}

// Backends returns the ranked backend list.
func (r *Router) Backends() []storage.Backend {
	out := make([]storage.Backend, len(r.ranked))
	copy(out, r.ranked)
	return out
}

// Store persists value, primary first.
func (r *Router) Store(ctx context.Context, key string, value []byte, opts storage.StoreOptions) error {
	_, err := withFallback(r, ctx, "store", func(ctx context.Context, b storage.Backend) (struct{}, error) {
		return struct{}{}, b.Store(ctx, key, value, opts)
	})
	return err
}

// Retrieve reads key, primary first.
func (r *Router) Retrieve(ctx context.Context, key string) ([]byte, error) {
	return withFallback(r, ctx, "retrieve", func(ctx context.Context, b storage.Backend) ([]byte, error) {
		return b.Retrieve(ctx, key)
	})
}

// Exists checks key, primary first.
func (r *Router) Exists(ctx context.Context, key string) (bool, error) {
	return withFallback(r, ctx, "exists", func(ctx context.Context, b storage.Backend) (bool, error) {
		return b.Exists(ctx, key)
	})
}

// List returns the primary's keys.
func (r *Router) List(ctx context.Context) ([]string, error) {
	return withFallback(r, ctx, "list", func(ctx context.Context, b storage.Backend) ([]string, error) {
		return b.List(ctx)
	})
}

// GetMetadata reads key's record, primary first.
func (r *Router) GetMetadata(ctx context.Context, key string) (*domain.Metadata, error) {
	return withFallback(r, ctx, "metadata", func(ctx context.Context, b storage.Backend) (*domain.Metadata, error) {
		return b.GetMetadata(ctx, key)
	})
}

// Remove deletes key on every backend. It succeeds when any backend
// held and removed the key; a key absent everywhere is not found.
func (r *Router) Remove(ctx context.Context, key string) error {
	if err := domain.ValidateKey(key); err != nil {
		return err
	}

	removed := false
	var lastErr error
	for _, b := range r.ranked {
		err := r.record(b, "remove", func() error { return b.Remove(ctx, key) })
		switch {
		case err == nil:
			removed = true
		case domain.IsNotFound(err):
		default:
			lastErr = err
		}
	}

	if removed {
		return nil
	}
	if lastErr != nil {
		return lastErr
	}
	return domain.ErrKeyNotFound.WithDetails(key)
}

// Clear wipes every backend, best-effort. The first failure is returned
// after all backends were attempted.
func (r *Router) Clear(ctx context.Context) error {
	var firstErr error
	for _, b := range r.ranked {
		err := r.record(b, "clear", func() error { return b.Clear(ctx) })
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Info describes the current primary.
func (r *Router) Info() domain.BackendInfo {
	return r.Primary().Info()
}

// Test probes the current primary.
func (r *Router) Test(ctx context.Context) error {
	b := r.Primary()
	return r.record(b, "test", func() error { return b.Test(ctx) })
}

// Close closes every backend; the first error wins.
func (r *Router) Close() error {
	r.closed.Store(true)
	var firstErr error
	for _, b := range r.ranked {
		if err := b.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// withFallback runs op against the primary, then remaining backends in
// rank order when fallbacks are allowed. Only retryable errors continue
// down the chain; validation and auth errors surface immediately.
func withFallback[T any](r *Router, ctx context.Context, name string, op func(context.Context, storage.Backend) (T, error)) (T, error) {
	primaryIdx := int(r.primary.Load())
	primary := r.ranked[primaryIdx]

	v, err := recordT(r, primary, name, func() (T, error) { return op(ctx, primary) })
	if err == nil || !domain.Retryable(err) || !r.cfg.AllowFallbacks {
		return v, err
	}

	for i, b := range r.ranked {
		if i == primaryIdx {
			continue
		}
		if r.cfg.Metrics != nil {
			r.cfg.Metrics.FallbackAttempts.WithLabelValues(string(b.Info().Type)).Inc()
		}
		r.log.Warn("falling back",
			"op", name, "backend", string(b.Info().Type), "error", err.Error())

		v, err = recordT(r, b, name, func() (T, error) { return op(ctx, b) })
		if err == nil || !domain.Retryable(err) {
			return v, err
		}
	}
	return v, err
}

// record runs op against b and feeds the outcome into the monitor and
// metrics.
func (r *Router) record(b storage.Backend, name string, op func() error) error {
	_, err := recordT(r, b, name, func() (struct{}, error) { return struct{}{}, op() })
	return err
}

func recordT[T any](r *Router, b storage.Backend, name string, op func() (T, error)) (T, error) {
	start := time.Now()
	v, err := op()
	elapsed := time.Since(start)

	backend := string(b.Info().Type)
	if r.cfg.Monitor != nil {
		r.cfg.Monitor.Record(b.Info().Type, elapsed, err)
	}
	if r.cfg.Metrics != nil {
		outcome := "ok"
		if err != nil {
			outcome = string(domain.KindOf(err))
		}
		r.cfg.Metrics.OpsTotal.WithLabelValues(backend, name, outcome).Inc()
		r.cfg.Metrics.OpDuration.WithLabelValues(backend, name).Observe(elapsed.Seconds())
	}
	return v, err
}

// onHealthTransition reacts to the primary turning unhealthy.
func (r *Router) onHealthTransition(backend domain.BackendType, _, to domain.HealthStatus) {
	if to != domain.HealthUnhealthy || r.closed.Load() {
		return
	}
	if r.Primary().Info().Type != backend {
		return
	}
	r.failover()
}

// failover migrates the primary's data to the best healthy backend and
// swaps the primary pointer only after the migration completes. A
// failed migration rolls back and keeps the old primary; failover is
// self-healing and never raises to the application.
func (r *Router) failover() {
	r.failoverMu.Lock()
	defer r.failoverMu.Unlock()

	primaryIdx := int(r.primary.Load())
	primary := r.ranked[primaryIdx]
	if r.cfg.Monitor.Status(primary.Info().Type) != domain.HealthUnhealthy {
		// Another failover already handled it.
		return
	}

	targetIdx := r.bestHealthy(primaryIdx)
	if targetIdx < 0 {
		r.log.Error("failover skipped: no healthy backend available",
			"primary", string(primary.Info().Type))
		return
	}
	target := r.ranked[targetIdx]

	r.log.Warn("starting failover",
		"from", string(primary.Info().Type), "to", string(target.Info().Type))

	plan := migrate.NewPlan(primary, target, migrate.Options{
		Strategy:        migrate.StrategyValidate,
		RollbackEnabled: true,
		PreserveSource:  r.cfg.PreserveSource,
		Logger:          r.log,
	})
	if err := plan.Execute(context.Background()); err != nil {
		// Old primary stays authoritative.
		r.log.Error("failover migration failed, keeping primary",
			"error", err.Error(), "primary", string(primary.Info().Type))
		return
	}

	r.primary.Store(int32(targetIdx))
	if r.cfg.Metrics != nil {
		r.cfg.Metrics.Failovers.Inc()
	}
	r.log.Info("failover complete", "primary", string(target.Info().Type))
}

// bestHealthy picks the non-primary backend with the lowest failure
// score that is not unhealthy. Equal scores keep rank order.
func (r *Router) bestHealthy(primaryIdx int) int {
	best := -1
	bestScore := 0.0
	for i, b := range r.ranked {
		if i == primaryIdx {
			continue
		}
		t := b.Info().Type
		if r.cfg.Monitor.Status(t) == domain.HealthUnhealthy {
			continue
		}
		score := r.cfg.Monitor.Score(t)
		if best < 0 || score < bestScore {
			best = i
			bestScore = score
		}
	}
	return best
}
