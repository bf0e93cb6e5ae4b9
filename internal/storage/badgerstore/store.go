package badgerstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v3"

	"github.com/tari-project/keyvault-go/internal/core/domain"
	"github.com/tari-project/keyvault-go/internal/storage"
	"github.com/tari-project/keyvault-go/internal/telemetry/logger"
	"github.com/tari-project/keyvault-go/pkg/crypto/adaptive"
)

// Default tuning values.
const (
	DefaultGCInterval  = 10 * time.Minute
	DefaultGCThreshold = 0.5
	DefaultCacheSize   = 32 << 20 // 32MB
)

// keySubkeyInfo separates this backend's encryption key from other
// consumers of the same master key.
const keySubkeyInfo = "badger-backend"

// Config configures the Badger backend.
type Config struct {
	// Dir is the database directory.
	Dir string

	// MasterKey encrypts items via an HKDF subkey. Empty disables
	// pipeline encryption (Badger files are then plaintext at rest).
	MasterKey []byte

	// GCInterval is the interval between value-log GC runs.
	// Zero uses DefaultGCInterval.
	GCInterval time.Duration

	// GCThreshold is the value-log discard ratio (0.0-1.0).
	// Zero uses DefaultGCThreshold.
	GCThreshold float64

	// CacheSize is the block cache size in bytes. Zero uses DefaultCacheSize.
	CacheSize int64

	// SyncWrites enables fsync after each write.
	SyncWrites bool

	// Logger is the structured logger. Nil uses the package default.
	Logger logger.Logger
}

// Info describes the Badger backend for discovery. The security level
// depends on whether a master key is configured.
func Info(encrypted bool) domain.BackendInfo {
	level := domain.SecurityPlaintext
	var limitations []string
	if encrypted {
		level = domain.SecurityEncrypted
	} else {
		limitations = []string{"no master key configured: data stored unencrypted"}
	}
	return domain.BackendInfo{
		Type:          domain.BackendBadger,
		Available:     true,
		SecurityLevel: level,
		Performance:   domain.PerformanceHigh,
		Limitations:   limitations,
		MaxItemSize:   storage.DefaultMaxItemSize,
	}
}

// New opens the Badger database and returns the backend.
func New(cfg Config, opts storage.BaseOptions) (*storage.Base, error) {
	if cfg.Dir == "" {
		return nil, domain.ErrInternal.WithDetails("badgerstore: dir is required")
	}
	log := cfg.Logger
	if log == nil {
		log = logger.Default()
	}
	if cfg.GCInterval <= 0 {
		cfg.GCInterval = DefaultGCInterval
	}
	if cfg.GCThreshold <= 0 {
		cfg.GCThreshold = DefaultGCThreshold
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = DefaultCacheSize
	}

	badgerOpts := badger.DefaultOptions(cfg.Dir)
	badgerOpts.Logger = &badgerLogger{log: log}
	badgerOpts.BlockCacheSize = cfg.CacheSize
	badgerOpts.SyncWrites = cfg.SyncWrites

	db, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, domain.ErrBackendUnavailable.WithDetails("open badger db").WithCause(err)
	}

	encrypted := len(cfg.MasterKey) > 0
	if encrypted && opts.Cipher == nil {
		subkey, err := adaptive.DeriveSubkey(cfg.MasterKey, keySubkeyInfo, adaptive.KeySize)
		if err != nil {
			_ = db.Close()
			return nil, err
		}
		cipher, err := adaptive.New(subkey)
		adaptive.Zero(subkey)
		if err != nil {
			_ = db.Close()
			return nil, domain.ErrInternal.WithDetails("init cipher").WithCause(err)
		}
		opts.Cipher = cipher
	}

	s := &items{
		db:          db,
		gcThreshold: cfg.GCThreshold,
		log:         log,
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}
	go s.gcLoop(cfg.GCInterval)

	log.Info("badger backend started", "dir", cfg.Dir, "gc_interval", cfg.GCInterval.String())

	return storage.NewBase(Info(encrypted), s, opts), nil
}

// items stores raw items in Badger.
type items struct {
	db          *badger.DB
	gcThreshold float64
	log         logger.Logger

	stopCh chan struct{}
	doneCh chan struct{}
}

func (s *items) GetItem(_ context.Context, name string) ([]byte, error) {
	var value []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(name))
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, domain.ErrKeyNotFound
	}
	if err != nil {
		return nil, domain.ErrInternal.WithDetails("badger get").WithCause(err)
	}
	return value, nil
}

func (s *items) SetItem(_ context.Context, name string, data []byte) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(name), data)
	})
	if err != nil {
		return domain.ErrInternal.WithDetails("badger set").WithCause(err)
	}
	return nil
}

func (s *items) DeleteItem(_ context.Context, name string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(name))
	})
	if err != nil {
		return domain.ErrInternal.WithDetails("badger delete").WithCause(err)
	}
	return nil
}

func (s *items) HasItem(_ context.Context, name string) (bool, error) {
	err := s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get([]byte(name))
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, domain.ErrInternal.WithDetails("badger get").WithCause(err)
	}
	return true, nil
}

func (s *items) ListItems(_ context.Context) ([]string, error) {
	var names []string
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			names = append(names, string(it.Item().Key()))
		}
		return nil
	})
	if err != nil {
		return nil, domain.ErrInternal.WithDetails("badger iterate").WithCause(err)
	}
	return names, nil
}

func (s *items) ClearItems(_ context.Context) error {
	if err := s.db.DropAll(); err != nil {
		return domain.ErrInternal.WithDetails("badger drop all").WithCause(err)
	}
	return nil
}

func (s *items) Ping(_ context.Context) error {
	if s.db.IsClosed() {
		return domain.ErrBackendClosed
	}
	return nil
}

func (s *items) Close() error {
	close(s.stopCh)
	<-s.doneCh

	if err := s.db.Close(); err != nil {
		return fmt.Errorf("badgerstore: close db: %w", err)
	}
	return nil
}

// gcLoop runs periodic value-log garbage collection.
func (s *items) gcLoop(interval time.Duration) {
	defer close(s.doneCh)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			// RunValueLogGC returns ErrNoRewrite when nothing was
			// collected; that is not a failure.
			if err := s.db.RunValueLogGC(s.gcThreshold); err != nil && !errors.Is(err, badger.ErrNoRewrite) {
				s.log.Warn("badger gc failed", "error", err.Error())
			}
		case <-s.stopCh:
			return
		}
	}
}

// badgerLogger adapts the structured logger to Badger's Logger interface.
type badgerLogger struct {
	log logger.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.log.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.log.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.log.Debug(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.log.Debug(fmt.Sprintf(format, args...))
}
