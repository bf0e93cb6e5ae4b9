// Package memory provides the in-memory fallback backend for KeyVault.
package memory

import (
	"context"

	"github.com/tari-project/keyvault-go/internal/core/domain"
	"github.com/tari-project/keyvault-go/internal/storage"
	"github.com/tari-project/keyvault-go/pkg/cmap"
	"github.com/tari-project/keyvault-go/pkg/crypto/adaptive"
)

// Info describes the memory backend for discovery.
func Info() domain.BackendInfo {
	return domain.BackendInfo{
		Type:          domain.BackendMemory,
		Available:     true,
		SecurityLevel: domain.SecurityPlaintext,
		Performance:   domain.PerformanceHigh,
		Limitations:   []string{"volatile: data lost on process exit"},
		MaxItemSize:   storage.DefaultMaxItemSize,
	}
}

// New creates an in-memory backend. Values are encrypted with a random
// session key generated per instance.
func New(opts storage.BaseOptions) (*storage.Base, error) {
	if opts.Cipher == nil {
		key, err := adaptive.GenerateKey(adaptive.KeySize)
		if err != nil {
			return nil, err
		}
		cipher, err := adaptive.New(key)
		if err != nil {
			return nil, err
		}
		adaptive.Zero(key)
		opts.Cipher = cipher
	}

	return storage.NewBase(Info(), newItems(), opts), nil
}

// items is the raw item store backed by a sharded map.
type items struct {
	m *cmap.Map[string, []byte]
}

func newItems() *items {
	return &items{m: cmap.New[string, []byte]()}
}

func (s *items) GetItem(_ context.Context, name string) ([]byte, error) {
	data, ok := s.m.Get(name)
	if !ok {
		return nil, domain.ErrKeyNotFound
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

func (s *items) SetItem(_ context.Context, name string, data []byte) error {
	cp := make([]byte, len(data))
	copy(cp, data)
	s.m.Set(name, cp)
	return nil
}

func (s *items) DeleteItem(_ context.Context, name string) error {
	if data, ok := s.m.Pop(name); ok {
		adaptive.Zero(data)
	}
	return nil
}

func (s *items) HasItem(_ context.Context, name string) (bool, error) {
	return s.m.Has(name), nil
}

func (s *items) ListItems(_ context.Context) ([]string, error) {
	return s.m.Keys(), nil
}

func (s *items) ClearItems(_ context.Context) error {
	s.m.Range(func(_ string, data []byte) bool {
		adaptive.Zero(data)
		return true
	})
	s.m.Clear()
	return nil
}

func (s *items) Ping(_ context.Context) error { return nil }

func (s *items) Close() error {
	return s.ClearItems(context.Background())
}
