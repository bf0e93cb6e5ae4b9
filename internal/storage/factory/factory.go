// Package factory discovers the backends available on a host and
// assembles them into a ready storage stack: backends under a failover
// router, optionally wrapped by the encrypting cache and the batch
// layer.
package factory

import (
	"context"
	"fmt"

	"github.com/tari-project/keyvault-go/internal/core/domain"
	"github.com/tari-project/keyvault-go/internal/storage"
	"github.com/tari-project/keyvault-go/internal/storage/badgerstore"
	"github.com/tari-project/keyvault-go/internal/storage/batch"
	"github.com/tari-project/keyvault-go/internal/storage/cache"
	"github.com/tari-project/keyvault-go/internal/storage/file"
	"github.com/tari-project/keyvault-go/internal/storage/health"
	"github.com/tari-project/keyvault-go/internal/storage/memory"
	"github.com/tari-project/keyvault-go/internal/storage/platform"
	"github.com/tari-project/keyvault-go/internal/storage/router"
	"github.com/tari-project/keyvault-go/internal/telemetry/logger"
	"github.com/tari-project/keyvault-go/internal/telemetry/metric"
)

// Config configures discovery and stack assembly.
type Config struct {
	// ForceBackend builds exactly this backend, skipping ranking and
	// fallbacks. Empty selects the best available candidate.
	ForceBackend domain.BackendType

	// AllowFallbacks permits the router to retry lower-ranked backends
	// after a retryable primary failure.
	AllowFallbacks bool

	// TestBackends runs a write-read-delete probe against each built
	// backend and drops the ones that fail.
	TestBackends bool

	// Service namespaces items in the platform stores. Empty uses
	// platform.DefaultService.
	Service string

	// Natives binds the platform system-call boundaries. A platform
	// backend is only a candidate when its native store is present and
	// probes clean.
	Natives map[domain.BackendType]platform.NativeStore

	// FileDir enables the encrypted-file backend when set. One of
	// FileKey or FilePassphrase must accompany it.
	FileDir        string
	FileKey        []byte
	FilePassphrase []byte

	// BadgerDir enables the Badger backend when set. BadgerMasterKey
	// is optional; without it Badger data is stored unencrypted and
	// the candidate ranks as plaintext.
	BadgerDir       string
	BadgerMasterKey []byte

	// EnableHealthMonitoring attaches a health monitor to the router
	// and starts its periodic probe loop.
	EnableHealthMonitoring bool

	// Health configures the monitor. Zero values use the monitor's
	// defaults.
	Health health.Config

	// EnableAutoFailover migrates off an unhealthy primary. Requires
	// EnableHealthMonitoring.
	EnableAutoFailover bool

	// PreserveSource keeps data on a demoted primary after failover.
	PreserveSource bool

	// EnableCaching wraps the router in the encrypting TTL/LRU cache.
	EnableCaching bool

	// Cache configures the cache layer. Zero values use the cache's
	// defaults (1000 entries, 5 minute TTL).
	Cache cache.Config

	// EnableBatching wraps the stack in the batch layer.
	EnableBatching bool

	// Batch configures the batch layer. Zero values use the batcher's
	// defaults (50 ops, 100ms debounce).
	Batch batch.Config

	// Logger is the structured logger. Nil uses the package default.
	Logger logger.Logger

	// Metrics receives counters from every layer. Nil disables
	// instrumentation.
	Metrics *metric.Registry
}

// Stack is the assembled storage subsystem. It implements
// storage.Backend through its top layer; Close tears down every layer
// and the monitor.
type Stack struct {
	storage.Backend

	// Router is the failover layer under any cache/batch wrapping.
	Router *router.Router

	// Monitor is the health monitor, nil when monitoring is disabled.
	Monitor *health.Monitor

	// Candidates is the discovery snapshot the stack was built from.
	Candidates []domain.BackendInfo
}

// Close shuts down the stack top-down, then stops the monitor.
func (s *Stack) Close() error {
	err := s.Backend.Close()
	if s.Monitor != nil {
		if merr := s.Monitor.Close(); err == nil {
			err = merr
		}
	}
	return err
}

// New discovers backends, builds the ones the config enables, and
// assembles the stack. At least one backend must come up; the memory
// backend needs no configuration, so a default Config always succeeds.
func New(ctx context.Context, cfg Config) (*Stack, error) {
	log := cfg.Logger
	if log == nil {
		log = logger.Default()
	}
	log = log.With("component", "factory")

	candidates := Discover(ctx, cfg)

	backends, err := buildBackends(cfg, log, candidates)
	if err != nil {
		return nil, err
	}

	if cfg.TestBackends {
		backends = proveBackends(ctx, log, backends)
	}
	if len(backends) == 0 {
		return nil, domain.ErrNoBackendAvailable
	}

	var monitor *health.Monitor
	if cfg.EnableHealthMonitoring {
		hc := cfg.Health
		if hc.Logger == nil {
			hc.Logger = cfg.Logger
		}
		if hc.Metrics == nil {
			hc.Metrics = cfg.Metrics
		}
		monitor = health.New(hc)
	}

	rt, err := router.New(backends, router.Config{
		AllowFallbacks: cfg.AllowFallbacks && cfg.ForceBackend == "",
		Monitor:        monitor,
		AutoFailover:   cfg.EnableAutoFailover && monitor != nil,
		PreserveSource: cfg.PreserveSource,
		Logger:         cfg.Logger,
		Metrics:        cfg.Metrics,
	})
	if err != nil {
		closeAll(backends)
		return nil, err
	}

	if monitor != nil {
		probed := make(map[domain.BackendType]storage.Backend, len(backends))
		for _, b := range backends {
			probed[b.Info().Type] = b
		}
		monitor.Start(probed)
	}

	var top storage.Backend = rt

	if cfg.EnableCaching {
		cc := cfg.Cache
		if cc.Logger == nil {
			cc.Logger = cfg.Logger
		}
		if cc.Metrics == nil {
			cc.Metrics = cfg.Metrics
		}
		cached, err := cache.New(top, cc)
		if err != nil {
			if monitor != nil {
				monitor.Close()
			}
			rt.Close()
			return nil, err
		}
		top = cached
	}

	if cfg.EnableBatching {
		bc := cfg.Batch
		if bc.Logger == nil {
			bc.Logger = cfg.Logger
		}
		if bc.Metrics == nil {
			bc.Metrics = cfg.Metrics
		}
		top = batch.New(top, bc)
	}

	log.Info("storage stack assembled",
		"backends", len(backends),
		"primary", string(rt.Primary().Info().Type),
		"caching", cfg.EnableCaching,
		"batching", cfg.EnableBatching)

	return &Stack{
		Backend:    top,
		Router:     rt,
		Monitor:    monitor,
		Candidates: candidates,
	}, nil
}

// buildBackends constructs one backend per available candidate, in
// ranked order. ForceBackend narrows the set to the named type.
func buildBackends(cfg Config, log logger.Logger, candidates []domain.BackendInfo) ([]storage.Backend, error) {
	var backends []storage.Backend
	for _, c := range candidates {
		if !c.Available {
			continue
		}
		if cfg.ForceBackend != "" && c.Type != cfg.ForceBackend {
			continue
		}

		b, err := buildOne(c.Type, cfg)
		if err != nil {
			if cfg.ForceBackend != "" {
				closeAll(backends)
				return nil, err
			}
			log.Warn("backend construction failed, skipping",
				"backend", string(c.Type), "error", err)
			continue
		}
		backends = append(backends, b)
	}

	if cfg.ForceBackend != "" && len(backends) == 0 {
		return nil, domain.ErrBackendUnavailable.WithDetails(
			fmt.Sprintf("forced backend %q is not available on this host", cfg.ForceBackend))
	}
	return backends, nil
}

func buildOne(t domain.BackendType, cfg Config) (storage.Backend, error) {
	opts := storage.BaseOptions{Logger: cfg.Logger}

	switch t {
	case domain.BackendKeychain, domain.BackendCredentialStore, domain.BackendSecretService:
		return platform.New(t, platform.Config{
			Service: cfg.Service,
			Native:  cfg.Natives[t],
		}, opts)

	case domain.BackendEncryptedFile:
		return file.New(file.Config{
			Dir:        cfg.FileDir,
			Key:        cfg.FileKey,
			Passphrase: cfg.FilePassphrase,
		}, opts)

	case domain.BackendBadger:
		return badgerstore.New(badgerstore.Config{
			Dir:       cfg.BadgerDir,
			MasterKey: cfg.BadgerMasterKey,
			Logger:    cfg.Logger,
		}, opts)

	case domain.BackendMemory:
		return memory.New(opts)

	default:
		return nil, domain.ErrInternal.WithDetails(fmt.Sprintf("unknown backend type: %s", t))
	}
}

// proveBackends keeps only the backends whose round-trip probe passes.
// Failing backends are closed and dropped.
func proveBackends(ctx context.Context, log logger.Logger, backends []storage.Backend) []storage.Backend {
	kept := backends[:0]
	for _, b := range backends {
		if err := b.Test(ctx); err != nil {
			log.Warn("backend failed its probe, dropping",
				"backend", string(b.Info().Type), "error", err)
			b.Close()
			continue
		}
		kept = append(kept, b)
	}
	return kept
}

func closeAll(backends []storage.Backend) {
	for _, b := range backends {
		b.Close()
	}
}
