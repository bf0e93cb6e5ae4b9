// Package domain defines the core domain models for KeyVault.
package domain

import "time"

// BackendType identifies a concrete secret-storage provider.
type BackendType string

const (
	BackendKeychain        BackendType = "keychain"
	BackendCredentialStore BackendType = "credential-store"
	BackendSecretService   BackendType = "secret-service"
	BackendEncryptedFile   BackendType = "encrypted-file"
	BackendBadger          BackendType = "badger"
	BackendMemory          BackendType = "memory"
)

// SecurityLevel classifies how a backend protects data at rest.
type SecurityLevel string

const (
	SecurityHardware  SecurityLevel = "hardware"
	SecurityOS        SecurityLevel = "os"
	SecurityEncrypted SecurityLevel = "encrypted"
	SecurityPlaintext SecurityLevel = "plaintext"
)

// Rank returns a comparable rank; higher is more secure.
func (s SecurityLevel) Rank() int {
	switch s {
	case SecurityHardware:
		return 3
	case SecurityOS:
		return 2
	case SecurityEncrypted:
		return 1
	default:
		return 0
	}
}

// Performance classifies a backend's expected operation latency.
type Performance string

const (
	PerformanceHigh   Performance = "high"
	PerformanceMedium Performance = "medium"
	PerformanceLow    Performance = "low"
)

// Rank returns a comparable rank; higher is faster.
func (p Performance) Rank() int {
	switch p {
	case PerformanceHigh:
		return 2
	case PerformanceMedium:
		return 1
	default:
		return 0
	}
}

// BackendInfo describes a discovered backend candidate.
// The factory ranks candidates by SecurityLevel then Performance;
// operators use the list to audit what is active on a host.
type BackendInfo struct {
	Type          BackendType   `json:"type"`
	Available     bool          `json:"available"`
	SecurityLevel SecurityLevel `json:"security_level"`
	Performance   Performance   `json:"performance"`
	Limitations   []string      `json:"limitations,omitempty"`

	// MaxItemSize is the backend's native per-item size limit in bytes.
	// Payloads above this are chunked.
	MaxItemSize int `json:"max_item_size,omitempty"`
}

// Metadata is the per-key bookkeeping record kept by every backend.
// When more than one chunk is produced it is persisted as a sidecar
// record under a derived key name; its presence signals chunked storage.
type Metadata struct {
	CreatedAt  int64  `json:"created"`  // Unix milliseconds
	ModifiedAt int64  `json:"modified"` // Unix milliseconds
	Size       int    `json:"size"`     // Stored (post-pipeline) size in bytes
	Chunks     int    `json:"chunks"`
	Encryption string `json:"encryption,omitempty"`
}

// NowMillis returns the current time in Unix milliseconds.
func NowMillis() int64 {
	return time.Now().UnixMilli()
}
