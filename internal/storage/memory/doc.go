// Package memory provides the in-memory fallback backend for KeyVault.
//
// Data is held in a concurrent sharded map and encrypted with a random
// per-instance session key, so secrets are never resident in plaintext.
// The backend is volatile: everything is lost on process exit, which is
// why discovery ranks it last.
package memory
