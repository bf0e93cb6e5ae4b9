// Package domain defines the core domain models for KeyVault.
package domain

import "fmt"

// MaxKeyLength is the maximum length of a logical storage key.
const MaxKeyLength = 255

// ValidateKey checks a logical storage key against the contract rules:
// non-empty, at most MaxKeyLength characters, alphabet [a-zA-Z0-9._-].
// Violations are validation errors, never panics.
func ValidateKey(key string) error {
	if key == "" {
		return ErrEmptyKey
	}
	if len(key) > MaxKeyLength {
		return ErrKeyTooLong.WithDetails(fmt.Sprintf("length %d > %d", len(key), MaxKeyLength))
	}
	for i := 0; i < len(key); i++ {
		if !isKeyChar(key[i]) {
			return ErrKeyInvalidChars.WithDetails(fmt.Sprintf("byte %q at index %d", key[i], i))
		}
	}
	return nil
}

func isKeyChar(c byte) bool {
	switch {
	case c >= 'a' && c <= 'z':
		return true
	case c >= 'A' && c <= 'Z':
		return true
	case c >= '0' && c <= '9':
		return true
	case c == '.' || c == '_' || c == '-':
		return true
	default:
		return false
	}
}
