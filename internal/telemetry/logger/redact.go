// Package logger provides structured logging for KeyVault.
package logger

import (
	"log/slog"
	"regexp"
	"strings"
)

// Sensitive key patterns that should be redacted from log attributes.
var sensitiveKeyPatterns = []string{
	"password",
	"passphrase",
	"secret",
	"seed",
	"token",
	"key",
	"credential",
	"auth",
}

// redactedValue is the placeholder for redacted sensitive data.
const redactedValue = "***REDACTED***"

// Patterns stripped from messages before they leave the process.
// File paths, IP addresses, e-mail addresses, and base64-like tokens
// can all leak host or secret detail through error text.
var (
	rePath   = regexp.MustCompile(`(?:[A-Za-z]:)?(?:[\\/][\w.\- ]+){2,}`)
	reIP     = regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`)
	reEmail  = regexp.MustCompile(`\b[\w.+-]+@[\w-]+\.[\w.]+\b`)
	reBase64 = regexp.MustCompile(`\b[A-Za-z0-9+/]{24,}={0,2}\b`)
)

// redactSensitive checks if an attribute contains sensitive data
// and redacts it if necessary.
func redactSensitive(a slog.Attr) slog.Attr {
	if a.Value.Kind() == slog.KindString {
		keyLower := strings.ToLower(a.Key)
		for _, pattern := range sensitiveKeyPatterns {
			if strings.Contains(keyLower, pattern) {
				if a.Value.String() != "" {
					return slog.String(a.Key, redactedValue)
				}
				break
			}
		}
	}

	// Handle nested groups recursively
	if a.Value.Kind() == slog.KindGroup {
		attrs := a.Value.Group()
		newAttrs := make([]slog.Attr, len(attrs))
		for i, attr := range attrs {
			newAttrs[i] = redactSensitive(attr)
		}
		return slog.Attr{Key: a.Key, Value: slog.GroupValue(newAttrs...)}
	}

	return a
}

// IsSensitiveKey checks if a key name suggests sensitive content.
func IsSensitiveKey(key string) bool {
	keyLower := strings.ToLower(key)
	for _, pattern := range sensitiveKeyPatterns {
		if strings.Contains(keyLower, pattern) {
			return true
		}
	}
	return false
}

// SanitizeMessage redacts host and secret detail from a message before
// it is returned across the invoke boundary or written to logs.
func SanitizeMessage(msg string) string {
	msg = rePath.ReplaceAllString(msg, "[path]")
	msg = reIP.ReplaceAllString(msg, "[ip]")
	msg = reEmail.ReplaceAllString(msg, "[email]")
	msg = reBase64.ReplaceAllString(msg, "[data]")
	return msg
}
