// Package storage provides the secure multi-backend storage core for
// KeyVault.
//
// It defines the uniform Backend contract implemented by every secret
// store, the raw ItemStore interface physical stores expose, and the
// shared payload pipeline (compression, authenticated encryption, and
// chunking around per-backend item-size limits).
//
// Subpackages provide the concrete backends (memory, file, platform,
// badgerstore) and the composition layers (health, router, migrate,
// cache, batch). The factory subpackage assembles them.
//
// @req RQ-0101
// @design DS-0102
package storage
