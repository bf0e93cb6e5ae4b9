// Package platform provides the OS secret-store backends for KeyVault.
package platform

import (
	"context"
	"errors"
)

// Sentinel errors a NativeStore implementation returns. The backend
// maps them onto the storage error taxonomy.
var (
	// ErrNativeNotFound marks an absent item.
	ErrNativeNotFound = errors.New("platform: item not found")

	// ErrNativeAccessDenied marks a denied or dismissed authorization prompt.
	ErrNativeAccessDenied = errors.New("platform: access denied")

	// ErrNativeStoreFull marks an exhausted platform store.
	ErrNativeStoreFull = errors.New("platform: store full")

	// ErrNativeUnavailable marks a platform API that is not present.
	ErrNativeUnavailable = errors.New("platform: store unavailable")
)

// NativeStore is the opaque boundary to the platform secret-store
// system calls (keychain, credential manager, secret-service daemon).
// Implementations are external collaborators; this package never
// inspects platform handles.
//
// Items live under (service, account) pairs: service namespaces one
// KeyVault instance, account is the raw item name.
type NativeStore interface {
	// Get retrieves an item's secret bytes.
	Get(ctx context.Context, service, account string) ([]byte, error)

	// Set stores an item's secret bytes, replacing existing data.
	Set(ctx context.Context, service, account string, secret []byte) error

	// Delete removes an item. Absent items are not an error.
	Delete(ctx context.Context, service, account string) error

	// List returns all account names under service.
	List(ctx context.Context, service string) ([]string, error)

	// Available verifies the platform API can be reached.
	Available(ctx context.Context) error
}
