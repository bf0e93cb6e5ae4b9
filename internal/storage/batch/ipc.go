package batch

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
	"golang.org/x/sync/semaphore"

	"github.com/tari-project/keyvault-go/internal/core/domain"
	"github.com/tari-project/keyvault-go/internal/telemetry/logger"
	"github.com/tari-project/keyvault-go/internal/telemetry/metric"
	"github.com/tari-project/keyvault-go/pkg/crypto/adaptive"
)

// IPC variant defaults.
const (
	DefaultMaxInFlight       = 3
	DefaultCompressThreshold = 4096

	// BatchCommand is the invoke-boundary command batches are sent as.
	BatchCommand = "storage.batch"
)

// Payload framing: one flag byte, then the JSON request, zstd-compressed
// when the flag is set.
const (
	frameRaw  = 0x00
	frameZstd = 0x01
)

// Invoker sends a command across the host-process IPC channel. The
// secure invoke boundary satisfies this.
type Invoker interface {
	Invoke(ctx context.Context, command string, payload []byte) ([]byte, error)
}

// IPCConfig configures an IPCBatcher.
type IPCConfig struct {
	// MaxBatchSize, MaxQueueBytes, Debounce as in Config.
	MaxBatchSize  int
	MaxQueueBytes int
	Debounce      time.Duration

	// MaxInFlight bounds concurrent cross-process invocations; callers
	// beyond the limit wait. Zero uses DefaultMaxInFlight.
	MaxInFlight int64

	// CompressThreshold is the serialized-batch size above which the
	// payload is zstd-compressed. Zero uses DefaultCompressThreshold.
	CompressThreshold int

	// Logger is the structured logger. Nil uses the package default.
	Logger logger.Logger

	// Metrics receives batch counters. Nil disables instrumentation.
	Metrics *metric.Registry
}

// IPCBatcher batches storage operations bound for a host-process
// command channel. Beyond the plain Batcher's triggers it also flushes
// on a high-priority operation or an already-expired deadline, bounds
// in-flight invocations with a weighted semaphore, and compresses large
// serialized batches.
type IPCBatcher struct {
	invoker  Invoker
	cfg      IPCConfig
	log      logger.Logger
	q        *opQueue
	inFlight *semaphore.Weighted
}

// NewIPC builds an IPC batcher over invoker.
func NewIPC(invoker Invoker, cfg IPCConfig) *IPCBatcher {
	if cfg.MaxInFlight <= 0 {
		cfg.MaxInFlight = DefaultMaxInFlight
	}
	if cfg.CompressThreshold <= 0 {
		cfg.CompressThreshold = DefaultCompressThreshold
	}
	log := cfg.Logger
	if log == nil {
		log = logger.Default()
	}

	b := &IPCBatcher{
		invoker:  invoker,
		cfg:      cfg,
		log:      log.With("component", "ipc-batch"),
		inFlight: semaphore.NewWeighted(cfg.MaxInFlight),
	}
	b.q = newOpQueue(queueConfig{
		maxSize:     cfg.MaxBatchSize,
		maxBytes:    cfg.MaxQueueBytes,
		debounce:    cfg.Debounce,
		urgentFlush: true,
		metrics:     cfg.Metrics,
	}, b.execute)
	return b
}

// Store queues a write for the next batch.
func (b *IPCBatcher) Store(ctx context.Context, key string, value []byte, opts OpOptions) error {
	if err := domain.ValidateKey(key); err != nil {
		return err
	}
	buf := make([]byte, len(value))
	copy(buf, value)

	ch, err := b.q.enqueue(&pending{
		typ: OpStore, key: key, value: buf,
		priority: opts.Priority, deadline: opts.Deadline,
	})
	if err != nil {
		return err
	}
	r, err := b.wait(ctx, ch)
	if err != nil {
		return err
	}
	return r.err
}

// Retrieve queues a read, coalescing with an identical pending read.
func (b *IPCBatcher) Retrieve(ctx context.Context, key string, opts OpOptions) ([]byte, error) {
	if err := domain.ValidateKey(key); err != nil {
		return nil, err
	}
	ch, err := b.q.enqueue(&pending{
		typ: OpRetrieve, key: key,
		priority: opts.Priority, deadline: opts.Deadline,
	})
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
func (b *IPCBatcher) Remove(ctx context.Context, key string, opts OpOptions) error {
	if err := domain.ValidateKey(key); err != nil {
		return err
	}
	ch, err := b.q.enqueue(&pending{
		typ: OpRemove, key: key,
		priority: opts.Priority, deadline: opts.Deadline,
	})
	if err != nil {
		return err
	}
	r, err := b.wait(ctx, ch)
	if err != nil {
		return err
	}
	return r.err
}

// Exists queues an existence check.
func (b *IPCBatcher) Exists(ctx context.Context, key string, opts OpOptions) (bool, error) {
	if err := domain.ValidateKey(key); err != nil {
		return false, err
	}
	ch, err := b.q.enqueue(&pending{
		typ: OpExists, key: key,
		priority: opts.Priority, deadline: opts.Deadline,
	})
	if err != nil {
		return false, err
	}
	r, err := b.wait(ctx, ch)
	if err != nil {
		return false, err
	}
	return r.exists, r.err
}

// Flush synchronously sends everything queued.
func (b *IPCBatcher) Flush() {
	b.q.flush()
}

// Close drains the queue and stops accepting operations.
func (b *IPCBatcher) Close() error {
	b.q.close()
	return nil
}

func (b *IPCBatcher) wait(ctx context.Context, ch chan result) (result, error) {
	select {
	case r := <-ch:
		return r, nil
	case <-ctx.Done():
		return result{}, domain.ErrInvokeTimeout.WithDetails("batched operation").WithCause(ctx.Err())
	}
}

// Op is one operation on the IPC wire.
type Op struct {
	ID       string `json:"id"`
	Type     OpType `json:"type"`
	Key      string `json:"key"`
	Value    []byte `json:"value,omitempty"`
	Priority int    `json:"priority,omitempty"`
}

// Request is the serialized batch.
type Request struct {
	Ops []Op `json:"ops"`
}

// OpResult is one operation's outcome on the wire.
type OpResult struct {
	ID        string `json:"id"`
	Value     []byte `json:"value,omitempty"`
	Exists    bool   `json:"exists,omitempty"`
	Error     string `json:"error,omitempty"`
	ErrorKind string `json:"error_kind,omitempty"`
}

// Response mirrors Request.
type Response struct {
	Results []OpResult `json:"results"`
}

// execute serializes one batch, sends it through the invoker, and fans
// results out to waiters. Duplicate reads collapse to one wire op.
func (b *IPCBatcher) execute(batch []*pending) {
	ops := make([]Op, 0, len(batch))
	waiters := make(map[string][]*pending, len(batch))

	type readKey struct {
		typ OpType
		key string
	}
	readIDs := make(map[readKey]string)

	for _, op := range batch {
		if op.typ == OpRetrieve || op.typ == OpExists {
			rk := readKey{op.typ, op.key}
			if id, ok := readIDs[rk]; ok {
				waiters[id] = append(waiters[id], op)
				if b.cfg.Metrics != nil {
					b.cfg.Metrics.BatchCoalesced.Inc()
				}
				continue
			}
			readIDs[rk] = op.id
		}
		ops = append(ops, Op{
			ID:       op.id,
			Type:     op.typ,
			Key:      op.key,
			Value:    op.value,
			Priority: int(op.priority),
		})
		waiters[op.id] = append(waiters[op.id], op)
	}

	resp, err := b.send(Request{Ops: ops})
	if err != nil {
		b.log.Error("batch invocation failed", "ops", len(ops), "error", err.Error())
		for _, op := range batch {
			op.deliver(result{err: err})
		}
		return
	}

	answered := make(map[string]bool, len(resp.Results))
	for _, wr := range resp.Results {
		r := result{value: wr.Value, exists: wr.Exists}
		if wr.Error != "" {
			r = result{err: wireError(wr.ErrorKind, wr.Error)}
		}
		for _, op := range waiters[wr.ID] {
			op.deliver(r)
			if op.typ == OpStore {
				adaptive.Zero(op.value)
			}
		}
		answered[wr.ID] = true
	}

	// A host that dropped an operation still owes its waiters an answer.
	for id, ops := range waiters {
		if answered[id] {
			continue
		}
		for _, op := range ops {
			op.deliver(result{err: domain.ErrInternal.WithDetails("no result for batched operation")})
		}
	}
}

// send frames, optionally compresses, and invokes one batch.
func (b *IPCBatcher) send(req Request) (*Response, error) {
	encoded, err := json.Marshal(req)
	if err != nil {
		return nil, domain.ErrInternal.WithDetails("encode batch").WithCause(err)
	}

	payload := make([]byte, 1, len(encoded)+1)
	payload[0] = frameRaw
	if len(encoded) > b.cfg.CompressThreshold {
		payload[0] = frameZstd
		payload = ipcEncoder().EncodeAll(encoded, payload)
	} else {
		payload = append(payload, encoded...)
	}

	ctx := context.Background()
	if err := b.inFlight.Acquire(ctx, 1); err != nil {
		return nil, domain.ErrInternal.WithDetails("acquire invocation slot").WithCause(err)
	}
	defer b.inFlight.Release(1)

	raw, err := b.invoker.Invoke(ctx, BatchCommand, payload)
	if err != nil {
		return nil, err
	}

	var resp Response
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, domain.ErrCorruptPayload.WithDetails("decode batch response").WithCause(err)
	}
	return &resp, nil
}

// DecodeRequest unframes a batch payload on the host side.
func DecodeRequest(payload []byte) (*Request, error) {
	if len(payload) == 0 {
		return nil, domain.ErrCorruptPayload.WithDetails("empty batch payload")
	}
	body := payload[1:]
	if payload[0] == frameZstd {
		var err error
		body, err = ipcDecoder().DecodeAll(body, nil)
		if err != nil {
			return nil, domain.ErrCorruptPayload.WithDetails("decompress batch").WithCause(err)
		}
	}
	var req Request
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, domain.ErrCorruptPayload.WithDetails("decode batch").WithCause(err)
	}
	return &req, nil
}

// wireError reconstructs a structured error from wire fields.
func wireError(kind, message string) error {
	k := domain.ErrorKind(kind)
	code := "KV-IPC-5000"
	if k == domain.KindNotFound {
		code = "KV-IPC-4040"
	}
	if k == "" {
		k = domain.KindInternal
	}
	return domain.NewStorageError(k, code, message)
}

// Shared zstd coders for batch framing.
var (
	ipcOnce sync.Once
	ipcEnc  *zstd.Encoder
	ipcDec  *zstd.Decoder
)

func ipcInit() {
	ipcEnc, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	ipcDec, _ = zstd.NewReader(nil)
}

func ipcEncoder() *zstd.Encoder {
	ipcOnce.Do(ipcInit)
	return ipcEnc
}

func ipcDecoder() *zstd.Decoder {
	ipcOnce.Do(ipcInit)
	return ipcDec
}
