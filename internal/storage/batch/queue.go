// Package batch queues storage operations and dispatches them in
// batches to amortize per-call overhead.
//
// A batch fires when the queue reaches its size or memory threshold, a
// debounce timer elapses, or (IPC variant) a high-priority operation or
// expired deadline is queued. Pending retrieve and exists calls on the
// same key coalesce into one underlying call whose result fans out to
// every waiter; stores are never coalesced and execute in issuance
// order, so last-write-wins hazards cannot arise.
package batch

import (
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/tari-project/keyvault-go/internal/core/domain"
	"github.com/tari-project/keyvault-go/internal/storage"
	"github.com/tari-project/keyvault-go/internal/telemetry/metric"
)

// Defaults.
const (
	DefaultMaxBatchSize = 50
	DefaultDebounce     = 100 * time.Millisecond
	DefaultMaxBytes     = 1 << 20 // 1MB of queued payloads
)

// OpType identifies a queued operation.
type OpType string

const (
	OpStore    OpType = "store"
	OpRetrieve OpType = "retrieve"
	OpRemove   OpType = "remove"
	OpExists   OpType = "exists"
)

// Priority orders flush urgency. High-priority operations flush the
// queue immediately in the IPC variant.
type Priority int

const (
	PriorityNormal Priority = iota
	PriorityHigh
)

// OpOptions carries per-operation batching hints.
type OpOptions struct {
	// Priority marks the operation urgent.
	Priority Priority

	// Deadline bounds how long the operation may sit queued. An
	// expired deadline triggers an immediate flush rather than a drop.
	Deadline time.Time
}

// result is delivered to every waiter of a pending operation.
type result struct {
	value  []byte
	exists bool
	err    error
}

// pending is one queued operation with its fan-out subscribers.
type pending struct {
	id       string
	typ      OpType
	key      string
	value    []byte
	store    storage.StoreOptions
	priority Priority
	deadline time.Time
	subs     []chan result
}

// deliver sends r to every subscriber. Channels are buffered, so an
// abandoned waiter never blocks the flush.
func (p *pending) deliver(r result) {
	for _, ch := range p.subs {
		ch <- r
	}
}

// queueConfig tunes the shared queue machinery.
type queueConfig struct {
	maxSize  int
	maxBytes int
	debounce time.Duration

	// urgentFlush enables the IPC triggers: high priority or expired
	// deadline.
	urgentFlush bool

	metrics *metric.Registry
}

// opQueue collects pending operations and decides when to hand a batch
// to flushFn. flushFn runs on its own goroutine and must deliver a
// result to every operation it receives.
type opQueue struct {
	cfg     queueConfig
	flushFn func([]*pending)

	mu     sync.Mutex
	ops    []*pending
	bytes  int
	timer  *time.Timer
	closed bool
	wg     sync.WaitGroup
}

func newOpQueue(cfg queueConfig, flushFn func([]*pending)) *opQueue {
	if cfg.maxSize <= 0 {
		cfg.maxSize = DefaultMaxBatchSize
	}
	if cfg.maxBytes <= 0 {
		cfg.maxBytes = DefaultMaxBytes
	}
	if cfg.debounce <= 0 {
		cfg.debounce = DefaultDebounce
	}
	return &opQueue{cfg: cfg, flushFn: flushFn}
}

// enqueue queues op and returns the channel its result arrives on.
func (q *opQueue) enqueue(op *pending) (chan result, error) {
	ch := make(chan result, 1)

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil, domain.ErrBackendClosed
	}

	// Coalesce repeated reads on the same key.
	if op.typ == OpRetrieve || op.typ == OpExists {
		for _, p := range q.ops {
			if p.typ == op.typ && p.key == op.key {
				p.subs = append(p.subs, ch)
				q.mu.Unlock()
				if q.cfg.metrics != nil {
					q.cfg.metrics.BatchCoalesced.Inc()
				}
				return ch, nil
			}
		}
	}

	op.id = ulid.Make().String()
	op.subs = []chan result{ch}
	q.ops = append(q.ops, op)
	q.bytes += len(op.value)

	if q.shouldFlushLocked(op) {
		batch := q.takeLocked()
		q.wg.Add(1)
		q.mu.Unlock()
		go q.run(batch)
		return ch, nil
	}

	if q.timer == nil {
		q.timer = time.AfterFunc(q.cfg.debounce, q.onTimer)
	}
	q.mu.Unlock()
	return ch, nil
}

func (q *opQueue) shouldFlushLocked(latest *pending) bool {
	if len(q.ops) >= q.cfg.maxSize || q.bytes >= q.cfg.maxBytes {
		return true
	}
	if !q.cfg.urgentFlush {
		return false
	}
	if latest.priority == PriorityHigh {
		return true
	}
	return !latest.deadline.IsZero() && !time.Now().Before(latest.deadline)
}

// takeLocked removes and returns the whole queue.
func (q *opQueue) takeLocked() []*pending {
	batch := q.ops
	q.ops = nil
	q.bytes = 0
	if q.timer != nil {
		q.timer.Stop()
		q.timer = nil
	}
	return batch
}

func (q *opQueue) onTimer() {
	q.mu.Lock()
	q.timer = nil
	if len(q.ops) == 0 || q.closed {
		q.mu.Unlock()
		return
	}
	batch := q.takeLocked()
	q.wg.Add(1)
	q.mu.Unlock()
	q.run(batch)
}

func (q *opQueue) run(batch []*pending) {
	defer q.wg.Done()
	if q.cfg.metrics != nil {
		q.cfg.metrics.BatchSize.Observe(float64(len(batch)))
	}
	q.flushFn(batch)
}

// flush synchronously executes everything currently queued.
func (q *opQueue) flush() {
	q.mu.Lock()
	if len(q.ops) == 0 {
		q.mu.Unlock()
		q.wg.Wait()
		return
	}
	batch := q.takeLocked()
	q.wg.Add(1)
	q.mu.Unlock()
	q.run(batch)
	q.wg.Wait()
}

// close drains the queue and rejects further operations.
func (q *opQueue) close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	batch := q.takeLocked()
	if len(batch) > 0 {
		q.wg.Add(1)
	}
	q.mu.Unlock()

	if len(batch) > 0 {
		q.run(batch)
	}
	q.wg.Wait()
}
