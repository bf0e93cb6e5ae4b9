// Package domain defines the core domain models for KeyVault.
//
// It contains the storage error taxonomy, key validation rules, and
// the descriptor types shared by backends, the router, and the factory.
//
// @req RQ-0104
// @design DS-0104
package domain
