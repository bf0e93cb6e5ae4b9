// Package platform provides the OS secret-store backends for KeyVault.
package platform

import (
	"context"
	"errors"
	"fmt"

	"github.com/tari-project/keyvault-go/internal/core/domain"
	"github.com/tari-project/keyvault-go/internal/storage"
)

// Per-store native item-size limits.
const (
	// CredentialStoreItemLimit reflects the credential manager's blob
	// cap (~2KB usable after encoding overhead).
	CredentialStoreItemLimit = 2048

	// KeychainItemLimit and SecretServiceItemLimit use the default.
	KeychainItemLimit      = storage.DefaultMaxItemSize
	SecretServiceItemLimit = storage.DefaultMaxItemSize
)

// DefaultService is the namespace used when none is configured.
const DefaultService = "keyvault"

// Config configures a platform backend.
type Config struct {
	// Service namespaces this instance's items in the platform store.
	Service string

	// Native is the platform system-call boundary.
	Native NativeStore
}

// Info returns the discovery descriptor for a platform backend type.
func Info(backendType domain.BackendType) (domain.BackendInfo, error) {
	switch backendType {
	case domain.BackendKeychain:
		return domain.BackendInfo{
			Type:          domain.BackendKeychain,
			SecurityLevel: domain.SecurityHardware,
			Performance:   domain.PerformanceMedium,
			Limitations:   []string{"may prompt the user for authorization"},
			MaxItemSize:   KeychainItemLimit,
		}, nil
	case domain.BackendCredentialStore:
		return domain.BackendInfo{
			Type:          domain.BackendCredentialStore,
			SecurityLevel: domain.SecurityOS,
			Performance:   domain.PerformanceMedium,
			Limitations:   []string{fmt.Sprintf("item size limited to %d bytes", CredentialStoreItemLimit)},
			MaxItemSize:   CredentialStoreItemLimit,
		}, nil
	case domain.BackendSecretService:
		return domain.BackendInfo{
			Type:          domain.BackendSecretService,
			SecurityLevel: domain.SecurityOS,
			Performance:   domain.PerformanceLow,
			Limitations:   []string{"requires a running secret-service daemon"},
			MaxItemSize:   SecretServiceItemLimit,
		}, nil
	default:
		return domain.BackendInfo{}, domain.ErrInternal.WithDetails(fmt.Sprintf("not a platform backend type: %s", backendType))
	}
}

// New creates a platform backend of the given type over the native store.
func New(backendType domain.BackendType, cfg Config, opts storage.BaseOptions) (*storage.Base, error) {
	if cfg.Native == nil {
		return nil, domain.ErrBackendUnavailable.WithDetails("platform: native store is required")
	}

	info, err := Info(backendType)
	if err != nil {
		return nil, err
	}
	info.Available = true

	service := cfg.Service
	if service == "" {
		service = DefaultService
	}

	return storage.NewBase(info, &items{native: cfg.Native, service: service}, opts), nil
}

// Probe reports whether the native store behind a backend type is
// usable on this host. The factory calls it once during discovery.
func Probe(ctx context.Context, native NativeStore) error {
	if native == nil {
		return domain.ErrBackendUnavailable.WithDetails("platform: no native store bound")
	}
	if err := native.Available(ctx); err != nil {
		return mapNativeErr(err, "probe")
	}
	return nil
}

// items adapts a NativeStore to the raw ItemStore interface.
type items struct {
	native  NativeStore
	service string
}

func (s *items) GetItem(ctx context.Context, name string) ([]byte, error) {
	secret, err := s.native.Get(ctx, s.service, name)
	if err != nil {
		return nil, mapNativeErr(err, "get item")
	}
	return secret, nil
}

func (s *items) SetItem(ctx context.Context, name string, data []byte) error {
	if err := s.native.Set(ctx, s.service, name, data); err != nil {
		return mapNativeErr(err, "set item")
	}
	return nil
}

func (s *items) DeleteItem(ctx context.Context, name string) error {
	err := s.native.Delete(ctx, s.service, name)
	if err != nil && !errors.Is(err, ErrNativeNotFound) {
		return mapNativeErr(err, "delete item")
	}
	return nil
}

func (s *items) HasItem(ctx context.Context, name string) (bool, error) {
	_, err := s.native.Get(ctx, s.service, name)
	if errors.Is(err, ErrNativeNotFound) {
		return false, nil
	}
	if err != nil {
		return false, mapNativeErr(err, "check item")
	}
	return true, nil
}

func (s *items) ListItems(ctx context.Context) ([]string, error) {
	names, err := s.native.List(ctx, s.service)
	if err != nil {
		return nil, mapNativeErr(err, "list items")
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

func (s *items) Ping(ctx context.Context) error {
	if err := s.native.Available(ctx); err != nil {
		return mapNativeErr(err, "ping")
	}
	return nil
}

func (s *items) Close() error { return nil }

// mapNativeErr converts native sentinel errors into the storage
// taxonomy, keeping the original as cause.
func mapNativeErr(err error, op string) error {
	switch {
	case errors.Is(err, ErrNativeNotFound):
		return domain.ErrKeyNotFound.WithCause(err)
	case errors.Is(err, ErrNativeAccessDenied):
		return domain.ErrAuthRequired.WithDetails(op).WithCause(err)
	case errors.Is(err, ErrNativeStoreFull):
		return domain.ErrQuotaExceeded.WithDetails(op).WithCause(err)
	case errors.Is(err, ErrNativeUnavailable):
		return domain.ErrBackendUnavailable.WithDetails(op).WithCause(err)
	default:
		return domain.ErrInternal.WithDetails(op).WithCause(err)
	}
}
