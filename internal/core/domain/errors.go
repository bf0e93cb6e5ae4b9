// Package domain defines the core domain models for KeyVault.
package domain

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a storage error for retry and surfacing decisions.
type ErrorKind string

const (
	// KindValidation marks caller bugs (bad key or payload shape). Never retried.
	KindValidation ErrorKind = "validation"

	// KindNotFound marks expected absence. Not an error condition for
	// callers checking existence.
	KindNotFound ErrorKind = "not_found"

	// KindUnavailable marks a backend or platform API that is not present
	// or not reachable.
	KindUnavailable ErrorKind = "unavailable"

	// KindAuthRequired marks a platform prompt that was denied.
	KindAuthRequired ErrorKind = "auth_required"

	// KindQuotaExceeded marks a full platform store.
	KindQuotaExceeded ErrorKind = "quota_exceeded"

	// KindRateLimited marks a rejected call at the invoke boundary.
	KindRateLimited ErrorKind = "rate_limited"

	// KindTimeout marks an operation that exceeded its deadline.
	KindTimeout ErrorKind = "timeout"

	// KindInternal marks unexpected failures, logged with sanitized detail.
	KindInternal ErrorKind = "internal"
)

// StorageError represents a storage error with a structured error code.
// Error codes follow the format KV-<AREA>-<NNNN>.
//
// @req RQ-0104
// @design DS-0104
type StorageError struct {
	Kind    ErrorKind // Classification for retry/surfacing policy
	Code    string    // Error code (e.g., "KV-STOR-4040")
	Message string    // Human-readable message
	Details string    // Optional additional details
	Cause   error     // Underlying error (if any)
}

// Error implements the error interface.
func (e *StorageError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Unwrap() support.
func (e *StorageError) Unwrap() error {
	return e.Cause
}

// Is implements errors.Is() support for error comparison.
func (e *StorageError) Is(target error) bool {
	t, ok := target.(*StorageError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// NewStorageError creates a new StorageError.
func NewStorageError(kind ErrorKind, code, message string) *StorageError {
	return &StorageError{
		Kind:    kind,
		Code:    code,
		Message: message,
	}
}

// WithDetails returns a copy of the error with additional details.
func (e *StorageError) WithDetails(details string) *StorageError {
	return &StorageError{
		Kind:    e.Kind,
		Code:    e.Code,
		Message: e.Message,
		Details: details,
		Cause:   e.Cause,
	}
}

// WithCause returns a copy of the error wrapping the given cause.
func (e *StorageError) WithCause(cause error) *StorageError {
	return &StorageError{
		Kind:    e.Kind,
		Code:    e.Code,
		Message: e.Message,
		Details: e.Details,
		Cause:   cause,
	}
}

// KindOf extracts the error kind, or KindInternal for foreign errors.
func KindOf(err error) ErrorKind {
	var se *StorageError
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindInternal
}

// IsKind checks if an error is a StorageError of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var se *StorageError
	if errors.As(err, &se) {
		return se.Kind == kind
	}
	return false
}

// IsNotFound reports whether the error marks expected absence.
func IsNotFound(err error) bool {
	return IsKind(err, KindNotFound)
}

// Retryable reports whether the router may retry the operation against
// the next-ranked backend. Validation and auth errors surface immediately.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindUnavailable, KindInternal, KindTimeout:
		return true
	default:
		return false
	}
}

// ============================================================================
// Storage Errors (STOR)
// ============================================================================

var (
	// ErrKeyNotFound indicates the requested key was not found.
	ErrKeyNotFound = NewStorageError(KindNotFound, "KV-STOR-4040", "key not found")

	// ErrChunkMissing indicates a chunked entry is missing one or more chunks.
	ErrChunkMissing = NewStorageError(KindInternal, "KV-STOR-5002", "chunk missing for chunked entry")

	// ErrCorruptPayload indicates stored data failed decryption or decoding.
	ErrCorruptPayload = NewStorageError(KindInternal, "KV-STOR-5003", "stored payload corrupt")

	// ErrBackendUnavailable indicates the backend or platform API is not present.
	ErrBackendUnavailable = NewStorageError(KindUnavailable, "KV-STOR-5030", "backend unavailable")

	// ErrBackendClosed indicates the backend has been closed.
	ErrBackendClosed = NewStorageError(KindUnavailable, "KV-STOR-5031", "backend closed")

	// ErrQuotaExceeded indicates the platform store is full.
	ErrQuotaExceeded = NewStorageError(KindQuotaExceeded, "KV-STOR-5070", "storage quota exceeded")

	// ErrAuthRequired indicates the platform prompted for and did not
	// receive user authorization.
	ErrAuthRequired = NewStorageError(KindAuthRequired, "KV-STOR-4010", "platform authorization required")
)

// ============================================================================
// Argument Errors (ARG)
// ============================================================================

var (
	// ErrEmptyKey indicates an empty storage key.
	ErrEmptyKey = NewStorageError(KindValidation, "KV-ARG-1001", "key must not be empty")

	// ErrKeyTooLong indicates a key exceeding MaxKeyLength.
	ErrKeyTooLong = NewStorageError(KindValidation, "KV-ARG-1002", "key exceeds maximum length")

	// ErrKeyInvalidChars indicates a key outside the allowed alphabet.
	ErrKeyInvalidChars = NewStorageError(KindValidation, "KV-ARG-1003", "key contains invalid characters")

	// ErrEmptyValue indicates an empty payload on store.
	ErrEmptyValue = NewStorageError(KindValidation, "KV-ARG-1004", "value must not be empty")

	// ErrValueTooLarge indicates a payload exceeding the configured maximum.
	ErrValueTooLarge = NewStorageError(KindValidation, "KV-ARG-1005", "value exceeds maximum size")
)

// ============================================================================
// Migration Errors (MIGR)
// ============================================================================

var (
	// ErrMigrationValidation indicates a copied key failed read-back validation.
	ErrMigrationValidation = NewStorageError(KindInternal, "KV-MIGR-5001", "migration validation failed")

	// ErrMigrationConflict indicates the plan was already executed.
	ErrMigrationConflict = NewStorageError(KindValidation, "KV-MIGR-4090", "migration plan already executed")
)

// ============================================================================
// Invoke Boundary Errors (INVK)
// ============================================================================

var (
	// ErrCommandNotAllowed indicates a command outside the invoke allow-list.
	ErrCommandNotAllowed = NewStorageError(KindValidation, "KV-INVK-4030", "command not in allow-list")

	// ErrPayloadTooLarge indicates an invoke payload above the size limit.
	ErrPayloadTooLarge = NewStorageError(KindValidation, "KV-INVK-4130", "payload exceeds maximum size")

	// ErrRateLimited indicates the sliding-window rate limit was hit.
	ErrRateLimited = NewStorageError(KindRateLimited, "KV-INVK-4290", "too many operations")

	// ErrInvokeTimeout indicates the invocation exceeded its timeout.
	ErrInvokeTimeout = NewStorageError(KindTimeout, "KV-INVK-5040", "invocation timed out")
)

// ============================================================================
// System Errors (SYS)
// ============================================================================

var (
	// ErrInternal indicates an unexpected internal failure.
	ErrInternal = NewStorageError(KindInternal, "KV-SYS-5000", "internal storage error")

	// ErrNoBackendAvailable indicates discovery found no usable backend.
	ErrNoBackendAvailable = NewStorageError(KindUnavailable, "KV-SYS-5031", "no storage backend available")
)
