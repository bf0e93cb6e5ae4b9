// Package file provides the encrypted-file backend for KeyVault.
package file

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/argon2"

	"github.com/tari-project/keyvault-go/internal/core/domain"
	"github.com/tari-project/keyvault-go/internal/storage"
	"github.com/tari-project/keyvault-go/pkg/crypto/adaptive"
)

const (
	itemSuffix   = ".kv"
	saltFileName = ".kv.salt"

	// Argon2id parameters for passphrase-derived master keys, matching
	// the envelope header's iterations field.
	argonMemory  = 64 * 1024
	argonThreads = 4
)

// MinPassphraseLength is the minimum accepted passphrase length.
const MinPassphraseLength = 8

// ErrPassphraseTooWeak is returned for passphrases below the minimum.
var ErrPassphraseTooWeak = errors.New("file: passphrase too weak (minimum 8 characters)")

// Config configures the encrypted-file backend.
type Config struct {
	// Dir is the directory holding the item files.
	Dir string

	// Key is the raw 32-byte master key. Either Key or Passphrase must
	// be provided.
	Key []byte

	// Passphrase derives the master key via Argon2id when Key is empty.
	// The derivation salt persists in the backend directory.
	Passphrase []byte
}

// Info describes the file backend for discovery.
func Info() domain.BackendInfo {
	return domain.BackendInfo{
		Type:          domain.BackendEncryptedFile,
		Available:     true,
		SecurityLevel: domain.SecurityEncrypted,
		Performance:   domain.PerformanceMedium,
		Limitations:   []string{"master key must be supplied by the caller"},
		MaxItemSize:   storage.DefaultMaxItemSize,
	}
}

// New creates an encrypted-file backend rooted at cfg.Dir.
func New(cfg Config, opts storage.BaseOptions) (*storage.Base, error) {
	if cfg.Dir == "" {
		return nil, domain.ErrInternal.WithDetails("file: dir is required")
	}
	if err := os.MkdirAll(cfg.Dir, 0o700); err != nil {
		return nil, domain.ErrBackendUnavailable.WithDetails("create backend dir").WithCause(err)
	}

	masterKey, err := resolveMasterKey(cfg)
	if err != nil {
		return nil, err
	}

	// The envelope seals every item individually; the shared pipeline
	// only compresses and chunks.
	opts.Cipher = nil

	return storage.NewBase(Info(), &items{dir: cfg.Dir, masterKey: masterKey}, opts), nil
}

// resolveMasterKey returns the raw key, or derives one from the
// passphrase with a per-directory persistent salt.
func resolveMasterKey(cfg Config) ([]byte, error) {
	if len(cfg.Key) > 0 {
		if len(cfg.Key) < 16 {
			return nil, domain.ErrInternal.WithDetails("file: master key too short")
		}
		key := make([]byte, len(cfg.Key))
		copy(key, cfg.Key)
		return key, nil
	}

	if len(cfg.Passphrase) == 0 {
		return nil, domain.ErrInternal.WithDetails("file: key or passphrase required")
	}
	if len(cfg.Passphrase) < MinPassphraseLength {
		return nil, domain.ErrInternal.WithDetails(ErrPassphraseTooWeak.Error())
	}

	saltPath := filepath.Join(cfg.Dir, saltFileName)
	salt, err := os.ReadFile(saltPath)
	if errors.Is(err, os.ErrNotExist) {
		salt = make([]byte, saltLength)
		if _, err := rand.Read(salt); err != nil {
			return nil, domain.ErrInternal.WithDetails("generate kdf salt").WithCause(err)
		}
		if err := os.WriteFile(saltPath, salt, 0o600); err != nil {
			return nil, domain.ErrBackendUnavailable.WithDetails("persist kdf salt").WithCause(err)
		}
	} else if err != nil {
		return nil, domain.ErrBackendUnavailable.WithDetails("read kdf salt").WithCause(err)
	}

	return argon2.IDKey(cfg.Passphrase, salt, kdfTime, argonMemory, argonThreads, 32), nil
}

// items stores each raw item as an encrypted envelope file.
type items struct {
	dir       string
	masterKey []byte
}

func (s *items) path(name string) string {
	return filepath.Join(s.dir, name+itemSuffix)
}

func (s *items) GetItem(_ context.Context, name string) ([]byte, error) {
	envelope, err := os.ReadFile(s.path(name))
	if errors.Is(err, os.ErrNotExist) {
		return nil, domain.ErrKeyNotFound
	}
	if err != nil {
		return nil, domain.ErrBackendUnavailable.WithDetails("read item file").WithCause(err)
	}
	return openItem(s.masterKey, envelope)
}

func (s *items) SetItem(_ context.Context, name string, data []byte) error {
	envelope, err := sealItem(s.masterKey, data)
	if err != nil {
		return err
	}

	// Write-then-rename keeps a crash from exposing a torn item.
	path := s.path(name)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, envelope, 0o600); err != nil {
		return domain.ErrBackendUnavailable.WithDetails("write item file").WithCause(err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return domain.ErrBackendUnavailable.WithDetails("rename item file").WithCause(err)
	}
	return nil
}

func (s *items) DeleteItem(_ context.Context, name string) error {
	err := os.Remove(s.path(name))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return domain.ErrBackendUnavailable.WithDetails("delete item file").WithCause(err)
	}
	return nil
}

func (s *items) HasItem(_ context.Context, name string) (bool, error) {
	_, err := os.Stat(s.path(name))
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, domain.ErrBackendUnavailable.WithDetails("stat item file").WithCause(err)
	}
	return true, nil
}

func (s *items) ListItems(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, domain.ErrBackendUnavailable.WithDetails("read backend dir").WithCause(err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), itemSuffix) {
			continue
		}
		names = append(names, strings.TrimSuffix(e.Name(), itemSuffix))
	}
	return names, nil
}

func (s *items) ClearItems(ctx context.Context) error {
	names, err := s.ListItems(ctx)
	if err != nil {
		return err
	}
	for _, name := range names {
		if err := s.DeleteItem(ctx, name); err != nil {
			return err
		}
	}
	return nil
}

func (s *items) Ping(_ context.Context) error {
	info, err := os.Stat(s.dir)
	if err != nil {
		return domain.ErrBackendUnavailable.WithDetails("stat backend dir").WithCause(err)
	}
	if !info.IsDir() {
		return domain.ErrBackendUnavailable.WithDetails(fmt.Sprintf("%s is not a directory", s.dir))
	}
	return nil
}

func (s *items) Close() error {
	adaptive.Zero(s.masterKey)
	return nil
}
