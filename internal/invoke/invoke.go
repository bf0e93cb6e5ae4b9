// Package invoke guards calls that cross into a host-process command
// channel.
//
// Every call passes four gates: a fixed allow-list of command names, a
// payload size cap, a sliding-window rate limit with a penalty block on
// violation, and a timeout raced against the invocation. Outbound error
// messages are redacted before they reach the caller, so transport
// failures never leak paths, addresses, or token material.
package invoke

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/tari-project/keyvault-go/internal/core/domain"
	"github.com/tari-project/keyvault-go/internal/telemetry/logger"
	"github.com/tari-project/keyvault-go/internal/telemetry/metric"
)

// Defaults.
const (
	DefaultMaxPayloadSize = 1 << 20 // 1MB
	DefaultRateLimit      = 20      // operations per second
	DefaultPenalty        = time.Second
	DefaultTimeout        = 30 * time.Second
)

// Transport is the raw host channel underneath the boundary.
type Transport interface {
	Invoke(ctx context.Context, command string, payload []byte) ([]byte, error)
}

// Config configures a Boundary.
type Config struct {
	// AllowedCommands is the fixed command allow-list. Anything else
	// is rejected. Required.
	AllowedCommands []string

	// MaxPayloadSize caps a single invocation's payload. Zero uses
	// DefaultMaxPayloadSize.
	MaxPayloadSize int

	// RateLimit is the sustained operations-per-second budget. Zero
	// uses DefaultRateLimit.
	RateLimit int

	// Penalty extends the block after a rate-limit violation, on top
	// of the remainder of the window. Zero uses DefaultPenalty.
	Penalty time.Duration

	// Timeout bounds each invocation. Zero uses DefaultTimeout.
	Timeout time.Duration

	// Logger is the structured logger. Nil uses the package default.
	Logger logger.Logger

	// Metrics receives rejection counters. Nil disables
	// instrumentation.
	Metrics *metric.Registry
}

// Boundary wraps a Transport with the invoke gates. It satisfies the
// batch layer's Invoker interface.
type Boundary struct {
	transport Transport
	cfg       Config
	log       logger.Logger
	allowed   map[string]struct{}

	limiter *rate.Limiter

	mu           sync.Mutex
	blockedUntil time.Time
}

// New builds a boundary over transport.
func New(transport Transport, cfg Config) *Boundary {
	if cfg.MaxPayloadSize <= 0 {
		cfg.MaxPayloadSize = DefaultMaxPayloadSize
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = DefaultRateLimit
	}
	if cfg.Penalty <= 0 {
		cfg.Penalty = DefaultPenalty
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	log := cfg.Logger
	if log == nil {
		log = logger.Default()
	}

	allowed := make(map[string]struct{}, len(cfg.AllowedCommands))
	for _, c := range cfg.AllowedCommands {
		allowed[c] = struct{}{}
	}

	return &Boundary{
		transport: transport,
		cfg:       cfg,
		log:       log.With("component", "invoke"),
		allowed:   allowed,
		limiter:   rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateLimit),
	}
}

// Invoke sends command across the channel after passing every gate.
// The payload is treated as opaque; structured arguments go through
// InvokeArgs for sanitization first.
func (b *Boundary) Invoke(ctx context.Context, command string, payload []byte) ([]byte, error) {
	if _, ok := b.allowed[command]; !ok {
		b.reject("not_allowed")
		return nil, domain.ErrCommandNotAllowed.WithDetails(command)
	}
	if len(payload) > b.cfg.MaxPayloadSize {
		b.reject("payload_too_large")
		return nil, domain.ErrPayloadTooLarge.
			WithDetails(fmt.Sprintf("%d > %d bytes", len(payload), b.cfg.MaxPayloadSize))
	}
	if err := b.checkRate(); err != nil {
		b.reject("rate_limited")
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, b.cfg.Timeout)
	defer cancel()

	type outcome struct {
		data []byte
		err  error
	}
	done := make(chan outcome, 1)
	go func() {
		data, err := b.transport.Invoke(ctx, command, payload)
		done <- outcome{data, err}
	}()

	select {
	case out := <-done:
		if out.err != nil {
			return nil, b.sanitizeErr(command, out.err)
		}
		return out.data, nil
	case <-ctx.Done():
		b.reject("timeout")
		return nil, domain.ErrInvokeTimeout.WithDetails(command)
	}
}

// InvokeArgs sanitizes structured arguments, serializes them, and
// invokes command with the result.
func (b *Boundary) InvokeArgs(ctx context.Context, command string, args map[string]any) ([]byte, error) {
	payload, err := json.Marshal(SanitizeValue(args))
	if err != nil {
		return nil, domain.ErrInternal.WithDetails("encode arguments").WithCause(err)
	}
	return b.Invoke(ctx, command, payload)
}

// checkRate enforces the sliding window. A violation blocks all calls
// for the remainder of the window plus the penalty.
func (b *Boundary) checkRate() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	if now.Before(b.blockedUntil) {
		return domain.ErrRateLimited.
			WithDetails(fmt.Sprintf("blocked for %s", time.Until(b.blockedUntil).Round(time.Millisecond)))
	}

	if b.limiter.Allow() {
		return nil
	}

	// Remainder of the window is the wait until the next token.
	res := b.limiter.Reserve()
	remainder := res.DelayFrom(now)
	res.Cancel()

	b.blockedUntil = now.Add(remainder + b.cfg.Penalty)
	b.log.Warn("rate limit exceeded",
		"limit_per_sec", b.cfg.RateLimit, "blocked_for", (remainder + b.cfg.Penalty).String())
	return domain.ErrRateLimited.
		WithDetails(fmt.Sprintf("limit %d/s", b.cfg.RateLimit))
}

// sanitizeErr redacts the transport error before propagation and logs
// the full detail locally.
func (b *Boundary) sanitizeErr(command string, err error) error {
	b.log.Error("invocation failed", "command", command, "error", err.Error())

	if se, ok := err.(*domain.StorageError); ok {
		return &domain.StorageError{
			Kind:    se.Kind,
			Code:    se.Code,
			Message: se.Message,
			Details: logger.SanitizeMessage(se.Details),
		}
	}
	return domain.ErrInternal.WithDetails(logger.SanitizeMessage(err.Error()))
}

func (b *Boundary) reject(reason string) {
	if b.cfg.Metrics != nil {
		b.cfg.Metrics.InvokeRejected.WithLabelValues(reason).Inc()
	}
}
