package batch

import (
	"bytes"
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tari-project/keyvault-go/internal/core/domain"
	"github.com/tari-project/keyvault-go/internal/storage"
	"github.com/tari-project/keyvault-go/internal/storage/memory"
)

// counting wraps a backend and counts the calls that reach it.
type counting struct {
	storage.Backend
	stores    atomic.Int32
	retrieves atomic.Int32
	exists    atomic.Int32

	mu       sync.Mutex
	lastOpts storage.StoreOptions
}

func (c *counting) Store(ctx context.Context, key string, value []byte, opts storage.StoreOptions) error {
	c.stores.Add(1)
	c.mu.Lock()
	c.lastOpts = opts
	c.mu.Unlock()
	return c.Backend.Store(ctx, key, value, opts)
}

func (c *counting) Retrieve(ctx context.Context, key string) ([]byte, error) {
	c.retrieves.Add(1)
	return c.Backend.Retrieve(ctx, key)
}

func (c *counting) Exists(ctx context.Context, key string) (bool, error) {
	c.exists.Add(1)
	return c.Backend.Exists(ctx, key)
}

func newBatched(t *testing.T, cfg Config) (*Batcher, *counting) {
	t.Helper()
	mem, err := memory.New(storage.BaseOptions{})
	if err != nil {
		t.Fatalf("memory.New: %v", err)
	}
	backend := &counting{Backend: mem}
	b := New(backend, cfg)
	t.Cleanup(func() { b.Close() })
	return b, backend
}

func TestBatch_StoresNeverCoalesce(t *testing.T) {
	ctx := context.Background()
	b, backend := newBatched(t, Config{MaxBatchSize: 10, Debounce: 20 * time.Millisecond})

	// Two stores on the same key issued before the flush both execute,
	// in issuance order; the final value is the second.
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := b.Store(ctx, "k", []byte("first"), storage.StoreOptions{}); err != nil {
			t.Errorf("Store #1: %v", err)
		}
	}()
	time.Sleep(5 * time.Millisecond)
	if err := b.Store(ctx, "k", []byte("second"), storage.StoreOptions{}); err != nil {
		t.Fatalf("Store #2: %v", err)
	}
	wg.Wait()

	if got := backend.stores.Load(); got != 2 {
		t.Errorf("backend stores = %d, want 2 (no coalescing)", got)
	}
	got, err := b.Retrieve(ctx, "k")
	if err != nil || string(got) != "second" {
		t.Errorf("final value = %q, %v; want %q", got, err, "second")
	}
}

func TestBatch_StoreOptionsReachBackend(t *testing.T) {
	ctx := context.Background()
	b, backend := newBatched(t, Config{MaxBatchSize: 10, Debounce: time.Millisecond})

	opts := storage.StoreOptions{DisableCompression: true}
	if err := b.Store(ctx, "k", []byte("v"), opts); err != nil {
		t.Fatalf("Store: %v", err)
	}

	backend.mu.Lock()
	got := backend.lastOpts
	backend.mu.Unlock()
	if got != opts {
		t.Errorf("backend saw options %+v, want %+v", got, opts)
	}
}

func TestBatch_ReadsCoalesce(t *testing.T) {
	ctx := context.Background()
	b, backend := newBatched(t, Config{MaxBatchSize: 100, Debounce: 50 * time.Millisecond})

	if err := b.Store(ctx, "k", []byte("v"), storage.StoreOptions{}); err != nil {
		t.Fatalf("Store: %v", err)
	}
	backend.retrieves.Store(0)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := b.Retrieve(ctx, "k")
			if err != nil || !bytes.Equal(got, []byte("v")) {
				t.Errorf("Retrieve = %q, %v", got, err)
			}
		}()
	}
	wg.Wait()

	if got := backend.retrieves.Load(); got != 1 {
		t.Errorf("backend retrieves = %d, want 1 (coalesced fan-out)", got)
	}
}

func TestBatch_SizeThresholdFlushes(t *testing.T) {
	ctx := context.Background()
	// Debounce far beyond the test runtime: only the size trigger can
	// release the callers.
	b, backend := newBatched(t, Config{MaxBatchSize: 2, Debounce: time.Hour})

	var wg sync.WaitGroup
	for _, k := range []string{"a", "b"} {
		wg.Add(1)
		go func(key string) {
			defer wg.Done()
			if err := b.Store(ctx, key, []byte(key), storage.StoreOptions{}); err != nil {
				t.Errorf("Store(%q): %v", key, err)
			}
		}(k)
	}

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("size-triggered flush never fired")
	}

	if got := backend.stores.Load(); got != 2 {
		t.Errorf("backend stores = %d, want 2", got)
	}
}

func TestBatch_MemoryThresholdFlushes(t *testing.T) {
	ctx := context.Background()
	b, _ := newBatched(t, Config{MaxBatchSize: 100, MaxQueueBytes: 64, Debounce: time.Hour})

	// A single store above the byte threshold flushes immediately.
	payload := make([]byte, 128)
	for i := range payload {
		payload[i] = byte(i)
	}

	done := make(chan error, 1)
	go func() { done <- b.Store(ctx, "big", payload, storage.StoreOptions{}) }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Store error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("memory-triggered flush never fired")
	}
}

func TestBatch_ReadAfterWriteInSameBatch(t *testing.T) {
	ctx := context.Background()
	b, _ := newBatched(t, Config{MaxBatchSize: 100, Debounce: 50 * time.Millisecond})

	errCh := make(chan error, 1)
	go func() { errCh <- b.Store(ctx, "k", []byte("fresh"), storage.StoreOptions{}) }()
	time.Sleep(10 * time.Millisecond)

	// Queued behind the store; the flush executes writes before reads.
	got, err := b.Retrieve(ctx, "k")
	if err != nil || string(got) != "fresh" {
		t.Errorf("Retrieve = %q, %v; want write observed", got, err)
	}
	if err := <-errCh; err != nil {
		t.Errorf("Store error = %v", err)
	}
}

func TestBatch_ErrorsPassThrough(t *testing.T) {
	ctx := context.Background()
	b, _ := newBatched(t, Config{Debounce: 10 * time.Millisecond})

	if _, err := b.Retrieve(ctx, "absent"); !domain.IsNotFound(err) {
		t.Errorf("Retrieve(absent) = %v, want not found unchanged", err)
	}
	if err := b.Store(ctx, "bad key!", []byte("v"), storage.StoreOptions{}); !domain.IsKind(err, domain.KindValidation) {
		t.Errorf("Store(bad key) = %v, want validation before queueing", err)
	}
}

func TestBatch_ClearFlushesFirst(t *testing.T) {
	ctx := context.Background()
	b, backend := newBatched(t, Config{MaxBatchSize: 100, Debounce: time.Hour})

	go func() { _ = b.Store(ctx, "k", []byte("v"), storage.StoreOptions{}) }()
	time.Sleep(10 * time.Millisecond)

	if err := b.Clear(ctx); err != nil {
		t.Fatalf("Clear error = %v", err)
	}

	// The queued store executed before the wipe; nothing survives it.
	if got := backend.stores.Load(); got != 1 {
		t.Errorf("backend stores = %d, want queued store flushed by Clear", got)
	}
	keys, err := b.List(ctx)
	if err != nil {
		t.Fatalf("List error = %v", err)
	}
	if len(keys) != 0 {
		t.Errorf("keys after Clear = %v", keys)
	}
}

func TestBatch_CloseDrains(t *testing.T) {
	ctx := context.Background()
	mem, err := memory.New(storage.BaseOptions{})
	if err != nil {
		t.Fatalf("memory.New: %v", err)
	}
	backend := &counting{Backend: mem}
	b := New(backend, Config{MaxBatchSize: 100, Debounce: time.Hour})

	go func() { _ = b.Store(ctx, "k", []byte("v"), storage.StoreOptions{}) }()
	time.Sleep(10 * time.Millisecond)

	if err := b.Close(); err != nil {
		t.Fatalf("Close error = %v", err)
	}
	if got := backend.stores.Load(); got != 1 {
		t.Errorf("backend stores = %d, want queued work drained on Close", got)
	}
	if err := b.Remove(ctx, "k"); err == nil {
		t.Error("Remove after Close succeeded")
	}
}
