package batch

import (
	"context"
	"time"

	"github.com/tari-project/keyvault-go/internal/core/domain"
	"github.com/tari-project/keyvault-go/internal/storage"
	"github.com/tari-project/keyvault-go/internal/telemetry/logger"
	"github.com/tari-project/keyvault-go/internal/telemetry/metric"
	"github.com/tari-project/keyvault-go/pkg/crypto/adaptive"
)

// Config configures a Batcher.
type Config struct {
	// MaxBatchSize flushes the queue when reached. Zero uses
	// DefaultMaxBatchSize.
	MaxBatchSize int

	// MaxQueueBytes flushes the queue when this much payload is
	// queued. Zero uses DefaultMaxBytes.
	MaxQueueBytes int

	// Debounce is the idle timer that flushes a partial batch.
	// Zero uses DefaultDebounce.
	Debounce time.Duration

	// Logger is the structured logger. Nil uses the package default.
	Logger logger.Logger

	// Metrics receives batch size and coalescing counters. Nil
	// disables instrumentation.
	Metrics *metric.Registry
}

// Batcher implements storage.Backend by queueing single-key operations
// and executing them in batches against the wrapped backend.
//
// Callers block until their operation's batch has executed, so the
// contract is unchanged; only the call pattern against the backend is.
type Batcher struct {
	backend storage.Backend
	log     logger.Logger
	q       *opQueue
}

// New wraps backend with batching.
func New(backend storage.Backend, cfg Config) *Batcher {
	log := cfg.Logger
	if log == nil {
		log = logger.Default()
	}

	b := &Batcher{
		backend: backend,
		log:     log.With("component", "batch"),
	}
	b.q = newOpQueue(queueConfig{
		maxSize:  cfg.MaxBatchSize,
		maxBytes: cfg.MaxQueueBytes,
		debounce: cfg.Debounce,
		metrics:  cfg.Metrics,
	}, b.execute)
	return b
}

// Store queues a write. Writes are never coalesced; two stores on the
// same key both execute, in issuance order.
func (b *Batcher) Store(ctx context.Context, key string, value []byte, opts storage.StoreOptions) error {
	if err := domain.ValidateKey(key); err != nil {
		return err
	}
	buf := make([]byte, len(value))
	copy(buf, value)

	ch, err := b.q.enqueue(&pending{typ: OpStore, key: key, value: buf, store: opts})
	if err != nil {
		return err
	}
	return b.waitErr(ctx, ch)
}

// Retrieve queues a read, coalescing with an identical pending read.
func (b *Batcher) Retrieve(ctx context.Context, key string) ([]byte, error) {
	if err := domain.ValidateKey(key); err != nil {
		return nil, err
	}
	ch, err := b.q.enqueue(&pending{typ: OpRetrieve, key: key})
	if err != nil {
		return nil, err
	}
	r, err := b.wait(ctx, ch)
	if err != nil {
		return nil, err
	}
	return r.value, r.err
}

// Remove queues a delete.
func (b *Batcher) Remove(ctx context.Context, key string) error {
	if err := domain.ValidateKey(key); err != nil {
		return err
	}
	ch, err := b.q.enqueue(&pending{typ: OpRemove, key: key})
	if err != nil {
		return err
	}
	return b.waitErr(ctx, ch)
}

// Exists queues an existence check, coalescing with an identical
// pending check.
func (b *Batcher) Exists(ctx context.Context, key string) (bool, error) {
	if err := domain.ValidateKey(key); err != nil {
		return false, err
	}
	ch, err := b.q.enqueue(&pending{typ: OpExists, key: key})
	if err != nil {
		return false, err
	}
	r, err := b.wait(ctx, ch)
	if err != nil {
		return false, err
	}
	return r.exists, r.err
}

// List flushes pending writes, then lists the backend.
func (b *Batcher) List(ctx context.Context) ([]string, error) {
	b.q.flush()
	return b.backend.List(ctx)
}

// GetMetadata flushes pending writes, then reads the record.
func (b *Batcher) GetMetadata(ctx context.Context, key string) (*domain.Metadata, error) {
	b.q.flush()
	return b.backend.GetMetadata(ctx, key)
}

// Clear flushes the queue, then clears the backend, so a queued store
// cannot resurrect data after the wipe.
func (b *Batcher) Clear(ctx context.Context) error {
	b.q.flush()
	return b.backend.Clear(ctx)
}

// Info describes the wrapped backend.
func (b *Batcher) Info() domain.BackendInfo {
	return b.backend.Info()
}

// Test probes the wrapped backend directly.
func (b *Batcher) Test(ctx context.Context) error {
	return b.backend.Test(ctx)
}

// Flush synchronously executes everything queued.
func (b *Batcher) Flush() {
	b.q.flush()
}

// Close drains the queue and closes the backend.
func (b *Batcher) Close() error {
	b.q.close()
	return b.backend.Close()
}

// execute runs one batch. Writes (stores and removes) execute in
// issuance order; reads are grouped afterward so a read queued after a
// write on the same key observes the write.
func (b *Batcher) execute(batch []*pending) {
	ctx := context.Background()

	var reads []*pending
	for _, op := range batch {
		switch op.typ {
		case OpStore:
			op.deliver(result{err: b.backend.Store(ctx, op.key, op.value, op.store)})
			adaptive.Zero(op.value)
		case OpRemove:
			op.deliver(result{err: b.backend.Remove(ctx, op.key)})
		default:
			reads = append(reads, op)
		}
	}

	// One backend call per distinct (type, key); duplicates that were
	// queued before coalescing could catch them share the result.
	type readKey struct {
		typ OpType
		key string
	}
	done := make(map[readKey]result)
	for _, op := range reads {
		rk := readKey{op.typ, op.key}
		r, ok := done[rk]
		if !ok {
			switch op.typ {
			case OpRetrieve:
				v, err := b.backend.Retrieve(ctx, op.key)
				r = result{value: v, err: err}
			case OpExists:
				present, err := b.backend.Exists(ctx, op.key)
				r = result{exists: present, err: err}
			}
			done[rk] = r
		}
		op.deliver(r)
	}
}

// wait blocks until the result arrives or ctx expires. An expired
// context abandons the waiter; the queued operation still executes.
func (b *Batcher) wait(ctx context.Context, ch chan result) (result, error) {
	select {
	case r := <-ch:
		return r, nil
	case <-ctx.Done():
		return result{}, domain.ErrInvokeTimeout.WithDetails("batched operation").WithCause(ctx.Err())
	}
}

func (b *Batcher) waitErr(ctx context.Context, ch chan result) error {
	r, err := b.wait(ctx, ch)
	if err != nil {
		return err
	}
	return r.err
}
