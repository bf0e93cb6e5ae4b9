// Package logger provides structured logging for KeyVault.
//
// It wraps log/slog to provide JSON structured logging with automatic
// redaction of sensitive attributes, and exposes the message sanitizer
// used by the secure invoke boundary before errors cross the process
// boundary.
//
// @req RQ-0402
// @design DS-0502
package logger
