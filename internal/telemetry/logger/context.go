// Package logger provides structured logging for KeyVault.
package logger

import "context"

type contextKey string

const requestIDKey contextKey = "request_id"

// WithRequestID returns a context carrying a request ID for log correlation.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestIDFrom extracts the request ID from a context, if present.
func RequestIDFrom(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(requestIDKey).(string)
	return id, ok
}

// FromContext returns the default logger enriched with the context's
// request ID when one is present.
func FromContext(ctx context.Context) Logger {
	l := Default()
	if id, ok := RequestIDFrom(ctx); ok {
		l = l.With("request_id", id)
	}
	return l.WithContext(ctx)
}
