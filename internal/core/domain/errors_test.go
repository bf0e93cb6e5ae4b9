// Package domain defines the core domain models for KeyVault.
package domain

import (
	"errors"
	"fmt"
	"testing"
)

func TestStorageError_Error(t *testing.T) {
	err := NewStorageError(KindNotFound, "KV-STOR-4040", "key not found")
	if got := err.Error(); got != "[KV-STOR-4040] key not found" {
		t.Errorf("Error() = %q", got)
	}

	withDetails := err.WithDetails("key wallet.seed")
	if got := withDetails.Error(); got != "[KV-STOR-4040] key not found: key wallet.seed" {
		t.Errorf("Error() with details = %q", got)
	}
}

func TestStorageError_Is(t *testing.T) {
	err := ErrKeyNotFound.WithDetails("k1")

	if !errors.Is(err, ErrKeyNotFound) {
		t.Error("errors.Is failed for same code")
	}
	if errors.Is(err, ErrBackendUnavailable) {
		t.Error("errors.Is matched a different code")
	}
}

func TestStorageError_Unwrap(t *testing.T) {
	cause := fmt.Errorf("disk full")
	err := ErrQuotaExceeded.WithCause(cause)

	if !errors.Is(err, cause) {
		t.Error("wrapped cause not reachable via errors.Is")
	}
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		err  error
		want ErrorKind
	}{
		{ErrKeyNotFound, KindNotFound},
		{ErrEmptyKey, KindValidation},
		{ErrBackendUnavailable, KindUnavailable},
		{ErrRateLimited, KindRateLimited},
		{fmt.Errorf("plain error"), KindInternal},
		{fmt.Errorf("wrapped: %w", ErrAuthRequired), KindAuthRequired},
	}

	for _, tt := range tests {
		if got := KindOf(tt.err); got != tt.want {
			t.Errorf("KindOf(%v) = %s, want %s", tt.err, got, tt.want)
		}
	}
}

func TestRetryable(t *testing.T) {
	if Retryable(ErrEmptyKey) {
		t.Error("validation errors must not be retryable")
	}
	if Retryable(ErrAuthRequired) {
		t.Error("auth errors must not be retryable")
	}
	if Retryable(ErrKeyNotFound) {
		t.Error("not_found must not be retryable")
	}
	if !Retryable(ErrBackendUnavailable) {
		t.Error("unavailable must be retryable")
	}
	if !Retryable(ErrInvokeTimeout) {
		t.Error("timeout must be retryable")
	}
	if !Retryable(fmt.Errorf("unknown failure")) {
		t.Error("foreign errors classify as internal and must be retryable")
	}
}

func TestValidateKey(t *testing.T) {
	longKey := make([]byte, MaxKeyLength+1)
	for i := range longKey {
		longKey[i] = 'a'
	}

	tests := []struct {
		name    string
		key     string
		wantErr error
	}{
		{"valid simple", "wallet.seed", nil},
		{"valid full alphabet", "a-Z_0.9", nil},
		{"empty", "", ErrEmptyKey},
		{"too long", string(longKey), ErrKeyTooLong},
		{"space", "wallet seed", ErrKeyInvalidChars},
		{"slash", "wallet/seed", ErrKeyInvalidChars},
		{"unicode", "wallét", ErrKeyInvalidChars},
		{"max length ok", string(longKey[:MaxKeyLength]), nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateKey(tt.key)
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("ValidateKey(%q) = %v, want nil", tt.key, err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("ValidateKey(%q) = %v, want %v", tt.key, err, tt.wantErr)
			}
			if KindOf(err) != KindValidation {
				t.Errorf("kind = %s, want validation", KindOf(err))
			}
		})
	}
}

func TestSecurityLevel_Rank(t *testing.T) {
	order := []SecurityLevel{SecurityPlaintext, SecurityEncrypted, SecurityOS, SecurityHardware}
	for i := 1; i < len(order); i++ {
		if order[i].Rank() <= order[i-1].Rank() {
			t.Errorf("%s rank %d not above %s rank %d",
				order[i], order[i].Rank(), order[i-1], order[i-1].Rank())
		}
	}
}
