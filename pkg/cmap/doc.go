// Package cmap provides a concurrent-safe sharded map.
//
// It uses sharding to reduce lock contention, providing better
// performance than sync.Map for the hot read/write mix of the
// storage backends and the batch queue.
//
// @req RQ-0101
// @design DS-0102
package cmap
