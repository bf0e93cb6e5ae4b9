// Package file provides the encrypted-file backend for KeyVault.
//
// Each raw item is a separate file under the backend directory, sealed
// in a self-describing envelope:
//
//	[4-byte BE header length][JSON header][salt][iv][authTag][ciphertext]
//
// The JSON header {version, algorithm, kdf, iterations, saltSize,
// ivSize, tagSize, dataSize} is authoritative for deserialization; the
// version field allows forward evolution of the format.
//
// The directory master key comes from a raw key or an Argon2id-derived
// passphrase; per-item keys are HKDF subkeys bound to the item salt.
//
// @req RQ-0201
// @design DS-0201
package file
