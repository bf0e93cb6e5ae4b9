// Package metric provides Prometheus metrics for KeyVault.
//
// It exposes counters, gauges, and histograms for backend operations,
// cache behavior, health transitions, failover, and batching.
package metric
