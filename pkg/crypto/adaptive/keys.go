// Package adaptive provides adaptive encryption with automatic algorithm selection.
//
// This file contains key material helpers shared by the storage backends:
// random key generation, HKDF subkey derivation, and secure zeroing.
package adaptive

import (
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// MinKeyLength is the minimum accepted key length in bytes.
const MinKeyLength = 16

// ErrKeyTooShort is returned for keys below MinKeyLength.
var ErrKeyTooShort = errors.New("adaptive: key too short (minimum 16 bytes)")

// GenerateKey generates a random key of the specified length.
func GenerateKey(length int) ([]byte, error) {
	if length < MinKeyLength {
		return nil, ErrKeyTooShort
	}

	key := make([]byte, length)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("adaptive: generate key: %w", err)
	}
	return key, nil
}

// DeriveSubkey derives a subkey from a master key using HKDF-SHA256.
// Separate info strings yield independent keys, so one master key can
// serve multiple consumers (e.g., the file backend and the badger
// backend) without key reuse.
func DeriveSubkey(masterKey []byte, info string, length int) ([]byte, error) {
	if len(masterKey) < MinKeyLength {
		return nil, ErrKeyTooShort
	}

	reader := hkdf.New(sha256.New, masterKey, nil, []byte(info))
	key := make([]byte, length)
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, fmt.Errorf("adaptive: derive subkey: %w", err)
	}
	return key, nil
}

// Zero overwrites key material in place.
// Call on every exit path that releases sensitive buffers.
func Zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
