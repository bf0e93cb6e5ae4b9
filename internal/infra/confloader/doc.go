// Package confloader loads KeyVault configuration from files and the
// environment.
//
// It wraps koanf: YAML files first, then KEYVAULT_-prefixed environment
// variables on top, then explicit maps for tests and flag plumbing.
// Later sources override earlier ones. The typed Settings struct maps
// the merged tree onto the factory's assembly config, and Watcher
// reloads on file changes.
//
// @req RQ-0502
// @design DS-0502
package confloader
