package confloader

import (
	"time"

	"github.com/tari-project/keyvault-go/internal/core/domain"
	"github.com/tari-project/keyvault-go/internal/storage/batch"
	"github.com/tari-project/keyvault-go/internal/storage/cache"
	"github.com/tari-project/keyvault-go/internal/storage/factory"
	"github.com/tari-project/keyvault-go/internal/storage/health"
)

// Settings is the declarative form of the factory configuration, the
// shape operators write in YAML or the environment. Keys are single
// words so the environment mapping stays unambiguous
// (KEYVAULT_CACHE_ENTRIES -> cache.entries).
//
// Native platform stores and raw key material are runtime values and
// never pass through configuration; the caller injects them after
// Factory().
type Settings struct {
	Backend BackendSettings `koanf:"backend"`
	File    FileSettings    `koanf:"file"`
	Badger  BadgerSettings  `koanf:"badger"`
	Health  HealthSettings  `koanf:"health"`
	Cache   CacheSettings   `koanf:"cache"`
	Batch   BatchSettings   `koanf:"batch"`
}

// BackendSettings selects and scopes the backends.
type BackendSettings struct {
	// Force pins a single backend type, bypassing ranking.
	Force string `koanf:"force"`

	// Fallbacks permits retrying lower-ranked backends.
	Fallbacks bool `koanf:"fallbacks"`

	// Probe runs a round-trip test against each backend at startup.
	Probe bool `koanf:"probe"`

	// Service namespaces items in the platform stores.
	Service string `koanf:"service"`
}

// FileSettings configures the encrypted-file backend.
type FileSettings struct {
	Dir string `koanf:"dir"`

	// Passphrase derives the master key. Prefer injecting a raw key at
	// runtime over writing a passphrase into a config file.
	Passphrase string `koanf:"passphrase"`
}

// BadgerSettings configures the Badger backend.
type BadgerSettings struct {
	Dir string `koanf:"dir"`
}

// HealthSettings configures monitoring and failover.
type HealthSettings struct {
	Enabled  bool          `koanf:"enabled"`
	Failover bool          `koanf:"failover"`
	Interval time.Duration `koanf:"interval"`
}

// CacheSettings configures the encrypting cache layer.
type CacheSettings struct {
	Enabled bool          `koanf:"enabled"`
	Entries int           `koanf:"entries"`
	TTL     time.Duration `koanf:"ttl"`
	Budget  uint64        `koanf:"budget"`
}

// BatchSettings configures the batch layer.
type BatchSettings struct {
	Enabled  bool          `koanf:"enabled"`
	Size     int           `koanf:"size"`
	Bytes    int           `koanf:"bytes"`
	Debounce time.Duration `koanf:"debounce"`
}

// Factory converts the settings into a factory assembly config. Zero
// values defer to each layer's documented defaults.
func (s Settings) Factory() factory.Config {
	return factory.Config{
		ForceBackend:   domain.BackendType(s.Backend.Force),
		AllowFallbacks: s.Backend.Fallbacks,
		TestBackends:   s.Backend.Probe,
		Service:        s.Backend.Service,

		FileDir:        s.File.Dir,
		FilePassphrase: passBytes(s.File.Passphrase),
		BadgerDir:      s.Badger.Dir,

		EnableHealthMonitoring: s.Health.Enabled,
		EnableAutoFailover:     s.Health.Failover,
		Health: health.Config{
			ProbeInterval: s.Health.Interval,
		},

		EnableCaching: s.Cache.Enabled,
		Cache: cache.Config{
			MaxEntries:   s.Cache.Entries,
			TTL:          s.Cache.TTL,
			MemoryBudget: s.Cache.Budget,
		},

		EnableBatching: s.Batch.Enabled,
		Batch: batch.Config{
			MaxBatchSize:  s.Batch.Size,
			MaxQueueBytes: s.Batch.Bytes,
			Debounce:      s.Batch.Debounce,
		},
	}
}

func passBytes(s string) []byte {
	if s == "" {
		return nil
	}
	return []byte(s)
}
