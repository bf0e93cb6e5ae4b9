// Package cache wraps a backend with an encrypting TTL and LRU cache.
//
// Entries are encrypted under a random session-local key generated per
// cache instance, so cached material is opaque across process restarts
// and never readable from another instance. Expiry is authoritative: an
// expired entry is evicted and treated as a miss, never returned stale.
// Every eviction path zeroes the entry's bytes before release.
package cache

import (
	"container/list"
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/tari-project/keyvault-go/internal/core/domain"
	"github.com/tari-project/keyvault-go/internal/storage"
	"github.com/tari-project/keyvault-go/internal/telemetry/logger"
	"github.com/tari-project/keyvault-go/internal/telemetry/metric"
	"github.com/tari-project/keyvault-go/pkg/crypto/adaptive"
)

// Defaults.
const (
	DefaultMaxEntries       = 1000
	DefaultTTL              = 5 * time.Minute
	DefaultPressureRatio    = 0.85
	DefaultPressureFraction = 0.25
)

// Config configures a Cache.
type Config struct {
	// MaxEntries bounds the cache; LRU entries are evicted at capacity.
	// Zero uses DefaultMaxEntries.
	MaxEntries int

	// TTL is the entry lifetime. Zero uses DefaultTTL.
	TTL time.Duration

	// MemoryBudget is the heap size in bytes above which the
	// high-pressure eviction path engages. Zero disables pressure
	// checks.
	MemoryBudget uint64

	// PressureRatio is the fraction of MemoryBudget at which pressure
	// eviction triggers. Zero uses DefaultPressureRatio.
	PressureRatio float64

	// PressureFraction is the fraction of entries evicted per pressure
	// event. Zero uses DefaultPressureFraction.
	PressureFraction float64

	// Logger is the structured logger. Nil uses the package default.
	Logger logger.Logger

	// Metrics receives hit/miss/eviction counters. Nil disables
	// instrumentation.
	Metrics *metric.Registry
}

// entry is one cached value. The payload is ciphertext under the
// session key; plaintext only exists transiently during Get.
type entry struct {
	key          string
	sealed       []byte
	storedAt     time.Time
	expiresAt    time.Time
	lastAccessed time.Time
	accessCount  int64
	size         int
}

// Cache is a write-through, read-through encrypting cache over a
// Backend. It implements storage.Backend itself, so it stacks under the
// batch layer or directly under application code.
type Cache struct {
	backend storage.Backend
	cfg     Config
	cipher  adaptive.Cipher
	log     logger.Logger

	mu      sync.Mutex
	entries map[string]*list.Element // values are *entry
	lru     *list.List               // front = most recent
}

// New wraps backend. The session key is generated here and never leaves
// the cache.
func New(backend storage.Backend, cfg Config) (*Cache, error) {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = DefaultMaxEntries
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.PressureRatio <= 0 || cfg.PressureRatio > 1 {
		cfg.PressureRatio = DefaultPressureRatio
	}
	if cfg.PressureFraction <= 0 || cfg.PressureFraction > 1 {
		cfg.PressureFraction = DefaultPressureFraction
	}
	log := cfg.Logger
	if log == nil {
		log = logger.Default()
	}

	key, err := adaptive.GenerateKey(adaptive.KeySize)
	if err != nil {
		return nil, domain.ErrInternal.WithDetails("generate cache session key").WithCause(err)
	}
	cipher, err := adaptive.New(key)
	adaptive.Zero(key)
	if err != nil {
		return nil, domain.ErrInternal.WithDetails("init cache cipher").WithCause(err)
	}

	return &Cache{
		backend: backend,
		cfg:     cfg,
		cipher:  cipher,
		log:     log.With("component", "cache"),
		entries: make(map[string]*list.Element),
		lru:     list.New(),
	}, nil
}

// Store writes through to the backend and refreshes the cache entry.
// A backend failure is returned unchanged and leaves no cache entry,
// so the cache never claims a value the backend does not hold.
func (c *Cache) Store(ctx context.Context, key string, value []byte, opts storage.StoreOptions) error {
	if err := c.backend.Store(ctx, key, value, opts); err != nil {
		c.invalidate(key)
		return err
	}
	c.put(key, value)
	return nil
}

// Retrieve serves from the cache when the entry is live, falling
// through to the backend on a miss and caching the result.
func (c *Cache) Retrieve(ctx context.Context, key string) ([]byte, error) {
	if value, ok := c.get(key); ok {
		if c.cfg.Metrics != nil {
			c.cfg.Metrics.CacheHits.Inc()
		}
		return value, nil
	}
	if c.cfg.Metrics != nil {
		c.cfg.Metrics.CacheMisses.Inc()
	}

	value, err := c.backend.Retrieve(ctx, key)
	if err != nil {
		return nil, err
	}
	c.put(key, value)
	return value, nil
}

// Remove deletes from the backend and drops the cache entry.
func (c *Cache) Remove(ctx context.Context, key string) error {
	c.invalidate(key)
	return c.backend.Remove(ctx, key)
}

// Exists consults the cache first; a live entry proves presence without
// a backend call.
func (c *Cache) Exists(ctx context.Context, key string) (bool, error) {
	c.mu.Lock()
	el, ok := c.entries[key]
	live := ok && time.Now().Before(el.Value.(*entry).expiresAt)
	c.mu.Unlock()
	if live {
		return true, nil
	}
	return c.backend.Exists(ctx, key)
}

// List passes through; the cache holds no keys of its own.
func (c *Cache) List(ctx context.Context) ([]string, error) {
	return c.backend.List(ctx)
}

// GetMetadata passes through to the backend.
func (c *Cache) GetMetadata(ctx context.Context, key string) (*domain.Metadata, error) {
	return c.backend.GetMetadata(ctx, key)
}

// Clear wipes both the cache and the backend.
func (c *Cache) Clear(ctx context.Context) error {
	c.purge("clear")
	return c.backend.Clear(ctx)
}

// Info describes the wrapped backend.
func (c *Cache) Info() domain.BackendInfo {
	return c.backend.Info()
}

// Test probes the wrapped backend.
func (c *Cache) Test(ctx context.Context) error {
	return c.backend.Test(ctx)
}

// Close purges the cache and closes the backend. The session key dies
// with the process; nothing cached survives.
func (c *Cache) Close() error {
	c.purge("clear")
	return c.backend.Close()
}

// Len returns the current entry count.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// get returns the decrypted value for a live entry.
func (c *Cache) get(key string) ([]byte, bool) {
	c.mu.Lock()

	el, ok := c.entries[key]
	if !ok {
		c.mu.Unlock()
		return nil, false
	}
	ent := el.Value.(*entry)

	if !time.Now().Before(ent.expiresAt) {
		c.dropLocked(el, "ttl")
		c.mu.Unlock()
		return nil, false
	}

	ent.accessCount++
	ent.lastAccessed = time.Now()
	c.lru.MoveToFront(el)
	sealed := make([]byte, len(ent.sealed))
	copy(sealed, ent.sealed)
	c.mu.Unlock()

	value, err := c.cipher.Decrypt(sealed, []byte(key))
	if err != nil {
		// Undecryptable entries are useless; drop and miss.
		c.invalidate(key)
		return nil, false
	}
	return value, true
}

// put inserts or refreshes an entry.
func (c *Cache) put(key string, value []byte) {
	sealed, err := c.cipher.Encrypt(value, []byte(key))
	if err != nil {
		c.log.Warn("cache encrypt failed, skipping entry", "error", err.Error())
		return
	}

	now := time.Now()
	ent := &entry{
		key:          key,
		sealed:       sealed,
		storedAt:     now,
		expiresAt:    now.Add(c.cfg.TTL),
		lastAccessed: now,
		size:         len(sealed),
	}

	c.mu.Lock()
	if el, ok := c.entries[key]; ok {
		c.dropLocked(el, "lru")
	}

	if c.underPressure() {
		c.evictLocked(int(float64(c.lru.Len())*c.cfg.PressureFraction), "pressure")
	}
	for c.lru.Len() >= c.cfg.MaxEntries {
		c.evictLocked(1, "lru")
	}

	c.entries[key] = c.lru.PushFront(ent)
	if c.cfg.Metrics != nil {
		c.cfg.Metrics.CacheEntries.Set(float64(c.lru.Len()))
	}
	c.mu.Unlock()
}

// invalidate drops key's entry, if present.
func (c *Cache) invalidate(key string) {
	c.mu.Lock()
	if el, ok := c.entries[key]; ok {
		c.dropLocked(el, "lru")
	}
	c.mu.Unlock()
}

// purge drops every entry.
func (c *Cache) purge(reason string) {
	c.mu.Lock()
	for c.lru.Len() > 0 {
		c.dropLocked(c.lru.Back(), reason)
	}
	c.mu.Unlock()
}

// evictLocked removes n least-recently-used entries.
func (c *Cache) evictLocked(n int, reason string) {
	for i := 0; i < n; i++ {
		el := c.lru.Back()
		if el == nil {
			return
		}
		c.dropLocked(el, reason)
	}
}

// dropLocked removes one entry and zeroes its ciphertext.
func (c *Cache) dropLocked(el *list.Element, reason string) {
	ent := el.Value.(*entry)
	c.lru.Remove(el)
	delete(c.entries, ent.key)
	adaptive.Zero(ent.sealed)
	ent.sealed = nil

	if c.cfg.Metrics != nil {
		c.cfg.Metrics.CacheEvictions.WithLabelValues(reason).Inc()
		c.cfg.Metrics.CacheEntries.Set(float64(c.lru.Len()))
	}
}

// underPressure reports whether heap use exceeds the configured budget
// ratio.
func (c *Cache) underPressure() bool {
	if c.cfg.MemoryBudget == 0 {
		return false
	}
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return float64(ms.HeapAlloc) >= float64(c.cfg.MemoryBudget)*c.cfg.PressureRatio
}
