// Package badgerstore provides a Badger-backed durable backend for
// KeyVault.
//
// It is the directory-store alternative to the encrypted-file backend:
// items live in an embedded Badger database, encrypted by the shared
// pipeline with a subkey of the caller's master key. A background loop
// runs value-log garbage collection.
//
// @req RQ-0401
// @design DS-0401
package badgerstore
