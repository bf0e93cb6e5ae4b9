// Package storage provides the secure multi-backend storage core for KeyVault.
package storage

import (
	"context"

	"github.com/tari-project/keyvault-go/internal/core/domain"
)

// Backend is the uniform contract every secret-storage provider exposes.
//
// Expected failure modes (missing key, backend unavailable, quota) are
// returned as *domain.StorageError values; implementations never panic
// for them. Keys follow the rules enforced by domain.ValidateKey.
type Backend interface {
	// Store persists value under key, compressing and encrypting the
	// payload and chunking it around the backend's item-size limit.
	Store(ctx context.Context, key string, value []byte, opts StoreOptions) error

	// Retrieve returns the payload previously stored under key.
	// A chunked entry with any chunk missing fails as a whole; partial
	// payloads are never returned.
	Retrieve(ctx context.Context, key string) ([]byte, error)

	// Remove deletes key and all derived records.
	Remove(ctx context.Context, key string) error

	// Exists reports whether key is present.
	Exists(ctx context.Context, key string) (bool, error)

	// List returns all logical keys, excluding derived chunk and
	// metadata records.
	List(ctx context.Context) ([]string, error)

	// GetMetadata returns the bookkeeping record for key.
	GetMetadata(ctx context.Context, key string) (*domain.Metadata, error)

	// Clear removes every entry.
	Clear(ctx context.Context) error

	// Info describes the backend's capabilities and ranking inputs.
	Info() domain.BackendInfo

	// Test probes the backend with a write/read/delete round trip.
	Test(ctx context.Context) error

	// Close releases backend resources.
	Close() error
}

// StoreOptions carries per-call store options.
type StoreOptions struct {
	// DisableCompression bypasses the compression stage regardless of
	// payload size.
	DisableCompression bool
}

// ItemStore is the minimal raw interface a physical store provides.
// Item names are derived by the chunking layer and are not the logical
// keys of the Backend contract.
//
// This abstraction keeps platform-specific code to a handful of calls;
// everything above it (validation, pipeline, chunking, metadata) is
// shared by all backends.
type ItemStore interface {
	// GetItem retrieves a raw item. Returns domain.ErrKeyNotFound if absent.
	GetItem(ctx context.Context, name string) ([]byte, error)

	// SetItem stores a raw item, replacing any existing value.
	SetItem(ctx context.Context, name string, data []byte) error

	// DeleteItem removes a raw item. Deleting an absent item is not an error.
	DeleteItem(ctx context.Context, name string) error

	// HasItem reports whether a raw item exists.
	HasItem(ctx context.Context, name string) (bool, error)

	// ListItems returns all raw item names.
	ListItems(ctx context.Context) ([]string, error)

	// ClearItems removes all raw items.
	ClearItems(ctx context.Context) error

	// Ping verifies the underlying store is reachable.
	Ping(ctx context.Context) error

	// Close releases store resources.
	Close() error
}
