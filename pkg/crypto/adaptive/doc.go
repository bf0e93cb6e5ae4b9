// Package adaptive provides adaptive authenticated encryption for KeyVault.
//
// This package implements a cipher abstraction that automatically
// selects the best available encryption algorithm based on hardware
// capabilities.
//
// Supported Algorithms:
//
//   - AES-256-GCM: Preferred when hardware AES support is available
//   - ChaCha20-Poly1305: Fallback for systems without AES-NI
//
// Features:
//
//   - Hardware Detection: Automatic selection based on CPU architecture
//   - AEAD: Authenticated encryption with associated data
//   - Subkeys: HKDF-based subkey derivation for per-purpose keys
//   - Thread Safety: All cipher operations are thread-safe
//
// Usage:
//
//	cipher, err := adaptive.New(key)
//	sealed, err := cipher.Encrypt(plaintext, aad)
//	plain, err := cipher.Decrypt(sealed, aad)
//
// @adr AD-0201
package adaptive
