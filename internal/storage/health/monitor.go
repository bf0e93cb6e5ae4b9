// Package health tracks per-backend operational state for KeyVault.
//
// The monitor owns every backend's health record. Operation outcomes feed
// a failure score: failures (and slow successes) raise it, successes lower
// it a smaller step, so a backend recovers gradually instead of flapping
// between states on a single good probe. Listeners fire on state
// transitions only, never on individual recordings.
package health

import (
	"context"
	"sync"
	"time"

	"github.com/tari-project/keyvault-go/internal/core/domain"
	"github.com/tari-project/keyvault-go/internal/storage"
	"github.com/tari-project/keyvault-go/internal/telemetry/logger"
	"github.com/tari-project/keyvault-go/internal/telemetry/metric"
)

// Default thresholds.
const (
	DefaultSoftThreshold    = 3.0
	DefaultHardThreshold    = 5.0
	DefaultRecoveryStep     = 0.25
	DefaultLatencyThreshold = 2 * time.Second
	DefaultProbeInterval    = 30 * time.Second
	DefaultProbeTimeout     = 5 * time.Second
)

// Score weights. A hard failure counts full, a slow success half, a
// success subtracts RecoveryStep.
const (
	failureWeight     = 1.0
	slowSuccessWeight = 0.5
)

// Config configures a Monitor.
type Config struct {
	// SoftThreshold is the score at which a backend degrades.
	// Zero uses DefaultSoftThreshold.
	SoftThreshold float64

	// HardThreshold is the score at which a backend becomes unhealthy.
	// Zero uses DefaultHardThreshold.
	HardThreshold float64

	// RecoveryStep is subtracted from the score per successful
	// operation. Zero uses DefaultRecoveryStep.
	RecoveryStep float64

	// LatencyThreshold marks a success as slow. Zero uses
	// DefaultLatencyThreshold.
	LatencyThreshold time.Duration

	// ProbeInterval is the periodic Test() probe interval for Start.
	// Zero uses DefaultProbeInterval.
	ProbeInterval time.Duration

	// ProbeTimeout bounds a single probe. Zero uses DefaultProbeTimeout.
	ProbeTimeout time.Duration

	// Logger is the structured logger. Nil uses the package default.
	Logger logger.Logger

	// Metrics receives health gauges and transition counters.
	// Nil disables instrumentation.
	Metrics *metric.Registry
}

// Listener is invoked synchronously when a backend's state changes.
type Listener func(backend domain.BackendType, from, to domain.HealthStatus)

// record is the live health state for one backend.
type record struct {
	status              domain.HealthStatus
	score               float64
	lastSuccess         time.Time
	lastError           string
	consecutiveFailures int

	// Exponentially weighted average latency.
	avgLatency time.Duration
}

// Monitor tracks health records for a set of backends.
type Monitor struct {
	cfg Config
	log logger.Logger

	mu        sync.Mutex
	records   map[domain.BackendType]*record
	listeners []Listener

	probeOnce sync.Once
	closeOnce sync.Once
	stopCh    chan struct{}
	doneCh    chan struct{}
}

// New creates a monitor.
func New(cfg Config) *Monitor {
	if cfg.SoftThreshold <= 0 {
		cfg.SoftThreshold = DefaultSoftThreshold
	}
	if cfg.HardThreshold <= cfg.SoftThreshold {
		cfg.HardThreshold = DefaultHardThreshold
	}
	if cfg.RecoveryStep <= 0 {
		cfg.RecoveryStep = DefaultRecoveryStep
	}
	if cfg.LatencyThreshold <= 0 {
		cfg.LatencyThreshold = DefaultLatencyThreshold
	}
	if cfg.ProbeInterval <= 0 {
		cfg.ProbeInterval = DefaultProbeInterval
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = DefaultProbeTimeout
	}
	log := cfg.Logger
	if log == nil {
		log = logger.Default()
	}

	return &Monitor{
		cfg:     cfg,
		log:     log.With("component", "health"),
		records: make(map[domain.BackendType]*record),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
}

// Register creates a healthy record for backend. Recording an operation
// against an unknown backend registers it implicitly.
func (m *Monitor) Register(backend domain.BackendType) {
	m.mu.Lock()
	m.ensureLocked(backend)
	m.mu.Unlock()
}

// Subscribe adds a transition listener. Listeners run synchronously in
// registration order, outside the monitor's lock, so they may read
// snapshots and scores.
func (m *Monitor) Subscribe(l Listener) {
	m.mu.Lock()
	m.listeners = append(m.listeners, l)
	m.mu.Unlock()
}

// Record feeds one operation outcome into backend's health record.
// Validation and not-found outcomes count as successes: they prove the
// backend responded, and retrying them elsewhere would be wrong anyway.
func (m *Monitor) Record(backend domain.BackendType, d time.Duration, err error) {
	failed := err != nil && domain.Retryable(err)

	m.mu.Lock()
	rec := m.ensureLocked(backend)
	from := rec.status

	if rec.avgLatency == 0 {
		rec.avgLatency = d
	} else {
		rec.avgLatency = (rec.avgLatency*7 + d) / 8
	}

	switch {
	case failed:
		rec.consecutiveFailures++
		rec.lastError = err.Error()
		rec.score += failureWeight
	case d > m.cfg.LatencyThreshold:
		rec.consecutiveFailures = 0
		rec.lastSuccess = time.Now()
		rec.score += slowSuccessWeight
	default:
		rec.consecutiveFailures = 0
		rec.lastSuccess = time.Now()
		rec.score -= m.cfg.RecoveryStep
		if rec.score < 0 {
			rec.score = 0
		}
	}
	if rec.score > m.cfg.HardThreshold+failureWeight {
		// Cap so recovery from a long outage is bounded.
		rec.score = m.cfg.HardThreshold + failureWeight
	}

	rec.status = m.statusFor(rec.score)
	to := rec.status

	var listeners []Listener
	if to != from {
		listeners = append(listeners, m.listeners...)
	}
	m.mu.Unlock()

	if m.cfg.Metrics != nil {
		m.cfg.Metrics.HealthState.WithLabelValues(string(backend)).Set(to.GaugeValue())
	}

	if to == from {
		return
	}

	m.log.Info("backend health transition",
		"backend", string(backend), "from", string(from), "to", string(to))
	if m.cfg.Metrics != nil {
		m.cfg.Metrics.HealthTransitions.WithLabelValues(string(backend), string(to)).Inc()
	}
	for _, l := range listeners {
		l(backend, from, to)
	}
}

// Status returns the backend's current state. Unknown backends report
// healthy: a backend with no recorded history has done nothing wrong.
func (m *Monitor) Status(backend domain.BackendType) domain.HealthStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec, ok := m.records[backend]; ok {
		return rec.status
	}
	return domain.HealthHealthy
}

// Score returns the backend's failure score; lower is healthier.
func (m *Monitor) Score(backend domain.BackendType) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec, ok := m.records[backend]; ok {
		return rec.score
	}
	return 0
}

// Snapshot returns a copy of backend's health record.
func (m *Monitor) Snapshot(backend domain.BackendType) (domain.BackendHealth, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[backend]
	if !ok {
		return domain.BackendHealth{}, false
	}
	return snapshotLocked(rec), true
}

// Snapshots returns copies of all health records.
func (m *Monitor) Snapshots() map[domain.BackendType]domain.BackendHealth {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[domain.BackendType]domain.BackendHealth, len(m.records))
	for t, rec := range m.records {
		out[t] = snapshotLocked(rec)
	}
	return out
}

// Start launches the periodic probe loop over backends. Each tick calls
// every backend's Test and records the outcome. Start is idempotent;
// Close stops the loop.
func (m *Monitor) Start(backends map[domain.BackendType]storage.Backend) {
	m.probeOnce.Do(func() {
		go m.probeLoop(backends)
	})
}

// Close stops the probe loop, if running. Safe to call repeatedly.
func (m *Monitor) Close() error {
	m.closeOnce.Do(func() {
		close(m.stopCh)
		m.probeOnce.Do(func() {
			// Loop never started; unblock waiters.
			close(m.doneCh)
		})
	})
	<-m.doneCh
	return nil
}

func (m *Monitor) probeLoop(backends map[domain.BackendType]storage.Backend) {
	defer close(m.doneCh)

	ticker := time.NewTicker(m.cfg.ProbeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			for t, b := range backends {
				m.probe(t, b)
			}
		case <-m.stopCh:
			return
		}
	}
}

func (m *Monitor) probe(t domain.BackendType, b storage.Backend) {
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.ProbeTimeout)
	defer cancel()

	start := time.Now()
	err := b.Test(ctx)
	if err != nil && !domain.Retryable(err) {
		err = domain.ErrBackendUnavailable.WithDetails("probe").WithCause(err)
	}
	m.Record(t, time.Since(start), err)
}

func (m *Monitor) ensureLocked(backend domain.BackendType) *record {
	rec, ok := m.records[backend]
	if !ok {
		rec = &record{status: domain.HealthHealthy}
		m.records[backend] = rec
	}
	return rec
}

func (m *Monitor) statusFor(score float64) domain.HealthStatus {
	switch {
	case score >= m.cfg.HardThreshold:
		return domain.HealthUnhealthy
	case score >= m.cfg.SoftThreshold:
		return domain.HealthDegraded
	default:
		return domain.HealthHealthy
	}
}

func snapshotLocked(rec *record) domain.BackendHealth {
	return domain.BackendHealth{
		Status:              rec.status,
		LastSuccess:         rec.lastSuccess,
		LastError:           rec.lastError,
		ConsecutiveFailures: rec.consecutiveFailures,
		AvgResponseTime:     rec.avgLatency,
	}
}
