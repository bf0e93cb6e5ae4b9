// Package storage provides the secure multi-backend storage core for KeyVault.
package storage

import (
	"bytes"
	"context"
	"crypto/rand"
	"errors"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/tari-project/keyvault-go/internal/core/domain"
	"github.com/tari-project/keyvault-go/pkg/crypto/adaptive"
)

// fakeItems is an in-memory ItemStore for exercising the Base pipeline.
type fakeItems struct {
	mu    sync.Mutex
	items map[string][]byte

	// failSet, when non-nil, makes SetItem fail for the named item.
	failSet map[string]error
	calls   int
}

func newFakeItems() *fakeItems {
	return &fakeItems{items: make(map[string][]byte)}
}

func (f *fakeItems) GetItem(_ context.Context, name string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	data, ok := f.items[name]
	if !ok {
		return nil, domain.ErrKeyNotFound
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

func (f *fakeItems) SetItem(_ context.Context, name string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if err, ok := f.failSet[name]; ok {
		return err
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	f.items[name] = cp
	return nil
}

func (f *fakeItems) DeleteItem(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	delete(f.items, name)
	return nil
}

func (f *fakeItems) HasItem(_ context.Context, name string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.items[name]
	return ok, nil
}

func (f *fakeItems) ListItems(_ context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	names := make([]string, 0, len(f.items))
	for name := range f.items {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (f *fakeItems) ClearItems(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items = make(map[string][]byte)
	return nil
}

func (f *fakeItems) Ping(_ context.Context) error { return nil }
func (f *fakeItems) Close() error                 { return nil }

func testInfo(maxItem int) domain.BackendInfo {
	return domain.BackendInfo{
		Type:          domain.BackendMemory,
		Available:     true,
		SecurityLevel: domain.SecurityPlaintext,
		Performance:   domain.PerformanceHigh,
		MaxItemSize:   maxItem,
	}
}

func TestBase_RoundTrip(t *testing.T) {
	ctx := context.Background()
	items := newFakeItems()
	b := NewBase(testInfo(4096), items, BaseOptions{})

	payload := []byte("twelve word seed phrase goes here")
	if err := b.Store(ctx, "wallet.seed", payload, StoreOptions{}); err != nil {
		t.Fatalf("Store error = %v", err)
	}

	got, err := b.Retrieve(ctx, "wallet.seed")
	if err != nil {
		t.Fatalf("Retrieve error = %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("Retrieve = %q, want %q", got, payload)
	}
}

func TestBase_RoundTrip_Chunked(t *testing.T) {
	ctx := context.Background()
	items := newFakeItems()
	b := NewBase(testInfo(64), items, BaseOptions{})

	// 10x the per-item limit forces chunking.
	payload := make([]byte, 640)
	if _, err := rand.Read(payload); err != nil {
		t.Fatalf("rand: %v", err)
	}

	if err := b.Store(ctx, "wallet.seed", payload, StoreOptions{DisableCompression: true}); err != nil {
		t.Fatalf("Store error = %v", err)
	}

	meta, err := b.GetMetadata(ctx, "wallet.seed")
	if err != nil {
		t.Fatalf("GetMetadata error = %v", err)
	}
	if meta.Chunks != 10 {
		t.Errorf("Chunks = %d, want 10", meta.Chunks)
	}

	got, err := b.Retrieve(ctx, "wallet.seed")
	if err != nil {
		t.Fatalf("Retrieve error = %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Error("chunked round trip mismatch")
	}
}

func TestBase_KeysNeverCollideWithDerivedRecords(t *testing.T) {
	// A key whose name mimics a chunk suffix of another key must not
	// touch that key's chunk set: derived names carry a separator the
	// key charset forbids, so the namespaces are disjoint.
	ctx := context.Background()
	items := newFakeItems()
	b := NewBase(testInfo(64), items, BaseOptions{})

	chunked := make([]byte, 200)
	if _, err := rand.Read(chunked); err != nil {
		t.Fatalf("rand: %v", err)
	}
	if err := b.Store(ctx, "foo", chunked, StoreOptions{DisableCompression: true}); err != nil {
		t.Fatalf("Store chunked: %v", err)
	}

	shadow := []byte("unrelated entry")
	for _, key := range []string{"foo.kvc1", "foo.kv_meta", "foo.c1"} {
		if err := b.Store(ctx, key, shadow, StoreOptions{}); err != nil {
			t.Fatalf("Store %q: %v", key, err)
		}
	}

	got, err := b.Retrieve(ctx, "foo")
	if err != nil {
		t.Fatalf("Retrieve chunked after suffixed stores: %v", err)
	}
	if !bytes.Equal(got, chunked) {
		t.Error("chunked payload disturbed by suffixed keys")
	}

	keys, err := b.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	want := []string{"foo", "foo.c1", "foo.kv_meta", "foo.kvc1"}
	if len(keys) != len(want) {
		t.Fatalf("List = %v, want %v", keys, want)
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Fatalf("List = %v, want %v", keys, want)
		}
	}
}

func TestBase_ChunkAtomicity(t *testing.T) {
	// Concrete scenario: 256-byte payload, 64-byte chunk limit,
	// chunk index 2 deleted out-of-band.
	ctx := context.Background()
	items := newFakeItems()
	b := NewBase(testInfo(64), items, BaseOptions{})

	payload := make([]byte, 256)
	if _, err := rand.Read(payload); err != nil {
		t.Fatalf("rand: %v", err)
	}

	if err := b.Store(ctx, "wallet.seed", payload, StoreOptions{DisableCompression: true}); err != nil {
		t.Fatalf("Store error = %v", err)
	}

	meta, err := b.GetMetadata(ctx, "wallet.seed")
	if err != nil {
		t.Fatalf("GetMetadata error = %v", err)
	}
	if meta.Chunks != 4 {
		t.Fatalf("Chunks = %d, want 4", meta.Chunks)
	}

	if err := items.DeleteItem(ctx, chunkName("wallet.seed", 2)); err != nil {
		t.Fatalf("out-of-band delete: %v", err)
	}

	_, err = b.Retrieve(ctx, "wallet.seed")
	if err == nil {
		t.Fatal("Retrieve succeeded with a missing chunk")
	}
	if !errors.Is(err, domain.ErrChunkMissing) {
		t.Errorf("error = %v, want ErrChunkMissing", err)
	}
	if kind := domain.KindOf(err); kind != domain.KindInternal {
		t.Errorf("kind = %s, want internal", kind)
	}
}

func TestBase_ShrinkCleansStaleChunks(t *testing.T) {
	ctx := context.Background()
	items := newFakeItems()
	b := NewBase(testInfo(64), items, BaseOptions{})

	big := make([]byte, 640)
	small := []byte("small")
	if err := b.Store(ctx, "k", big, StoreOptions{DisableCompression: true}); err != nil {
		t.Fatalf("Store big: %v", err)
	}
	if err := b.Store(ctx, "k", small, StoreOptions{}); err != nil {
		t.Fatalf("Store small: %v", err)
	}

	names, _ := items.ListItems(ctx)
	for _, name := range names {
		if strings.Contains(name, chunkInfix) {
			t.Errorf("stale chunk %q left behind", name)
		}
		if strings.HasSuffix(name, metaSuffix) {
			t.Errorf("stale metadata %q left behind", name)
		}
	}

	got, err := b.Retrieve(ctx, "k")
	if err != nil || !bytes.Equal(got, small) {
		t.Errorf("Retrieve after shrink = %q, %v", got, err)
	}
}

func TestBase_Compression(t *testing.T) {
	ctx := context.Background()
	items := newFakeItems()
	b := NewBase(testInfo(1<<16), items, BaseOptions{})

	// Highly compressible and above the threshold.
	payload := bytes.Repeat([]byte("wallet-config-entry;"), 200)
	if err := b.Store(ctx, "app.config", payload, StoreOptions{}); err != nil {
		t.Fatalf("Store error = %v", err)
	}

	meta, err := b.GetMetadata(ctx, "app.config")
	if err != nil {
		t.Fatalf("GetMetadata error = %v", err)
	}
	if meta.Size >= len(payload) {
		t.Errorf("stored size %d not smaller than payload %d", meta.Size, len(payload))
	}

	got, err := b.Retrieve(ctx, "app.config")
	if err != nil {
		t.Fatalf("Retrieve error = %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Error("compressed round trip mismatch")
	}
}

func TestBase_Encryption(t *testing.T) {
	ctx := context.Background()
	items := newFakeItems()

	key := make([]byte, 32)
	cipher, err := adaptive.New(key)
	if err != nil {
		t.Fatalf("cipher: %v", err)
	}
	b := NewBase(testInfo(4096), items, BaseOptions{Cipher: cipher})

	payload := []byte("super secret seed")
	if err := b.Store(ctx, "wallet.seed", payload, StoreOptions{}); err != nil {
		t.Fatalf("Store error = %v", err)
	}

	// The raw item must not contain the plaintext.
	raw, err := items.GetItem(ctx, "wallet.seed")
	if err != nil {
		t.Fatalf("GetItem: %v", err)
	}
	if bytes.Contains(raw, payload) {
		t.Error("plaintext visible in stored item")
	}

	got, err := b.Retrieve(ctx, "wallet.seed")
	if err != nil || !bytes.Equal(got, payload) {
		t.Errorf("Retrieve = %q, %v", got, err)
	}
}

func TestBase_List(t *testing.T) {
	ctx := context.Background()
	items := newFakeItems()
	b := NewBase(testInfo(64), items, BaseOptions{})

	if err := b.Store(ctx, "small", []byte("v"), StoreOptions{}); err != nil {
		t.Fatalf("Store: %v", err)
	}
	big := make([]byte, 300)
	if err := b.Store(ctx, "big", big, StoreOptions{DisableCompression: true}); err != nil {
		t.Fatalf("Store: %v", err)
	}

	keys, err := b.List(ctx)
	if err != nil {
		t.Fatalf("List error = %v", err)
	}
	sort.Strings(keys)
	want := []string{"big", "small"}
	if len(keys) != len(want) || keys[0] != want[0] || keys[1] != want[1] {
		t.Errorf("List = %v, want %v", keys, want)
	}
}

func TestBase_Validation(t *testing.T) {
	ctx := context.Background()
	b := NewBase(testInfo(4096), newFakeItems(), BaseOptions{})

	if err := b.Store(ctx, "", []byte("v"), StoreOptions{}); !errors.Is(err, domain.ErrEmptyKey) {
		t.Errorf("empty key error = %v", err)
	}
	if err := b.Store(ctx, "bad key", []byte("v"), StoreOptions{}); !errors.Is(err, domain.ErrKeyInvalidChars) {
		t.Errorf("invalid chars error = %v", err)
	}
	if err := b.Store(ctx, "k", nil, StoreOptions{}); !errors.Is(err, domain.ErrEmptyValue) {
		t.Errorf("empty value error = %v", err)
	}

	small := NewBase(testInfo(4096), newFakeItems(), BaseOptions{MaxValueSize: 8})
	if err := small.Store(ctx, "k", make([]byte, 9), StoreOptions{}); !errors.Is(err, domain.ErrValueTooLarge) {
		t.Errorf("oversized value error = %v", err)
	}
}

func TestBase_RemoveAndExists(t *testing.T) {
	ctx := context.Background()
	items := newFakeItems()
	b := NewBase(testInfo(64), items, BaseOptions{})

	payload := make([]byte, 300)
	if err := b.Store(ctx, "k", payload, StoreOptions{DisableCompression: true}); err != nil {
		t.Fatalf("Store: %v", err)
	}

	ok, err := b.Exists(ctx, "k")
	if err != nil || !ok {
		t.Errorf("Exists = %v, %v; want true", ok, err)
	}

	if err := b.Remove(ctx, "k"); err != nil {
		t.Fatalf("Remove error = %v", err)
	}

	// All derived records must be gone too.
	names, _ := items.ListItems(ctx)
	if len(names) != 0 {
		t.Errorf("items left after Remove: %v", names)
	}

	if err := b.Remove(ctx, "k"); !errors.Is(err, domain.ErrKeyNotFound) {
		t.Errorf("Remove of absent key = %v, want ErrKeyNotFound", err)
	}
	ok, _ = b.Exists(ctx, "k")
	if ok {
		t.Error("Exists after Remove = true")
	}
}

func TestBase_TestProbe(t *testing.T) {
	ctx := context.Background()
	items := newFakeItems()
	b := NewBase(testInfo(4096), items, BaseOptions{})

	if err := b.Test(ctx); err != nil {
		t.Fatalf("Test error = %v", err)
	}

	// The probe must clean up after itself.
	names, _ := items.ListItems(ctx)
	if len(names) != 0 {
		t.Errorf("probe left items behind: %v", names)
	}
}

func TestBase_StoreFailurePropagates(t *testing.T) {
	ctx := context.Background()
	items := newFakeItems()
	items.failSet = map[string]error{"k": errors.New("disk full")}
	b := NewBase(testInfo(4096), items, BaseOptions{})

	err := b.Store(ctx, "k", []byte("v"), StoreOptions{})
	if err == nil {
		t.Fatal("expected store failure")
	}
	if domain.KindOf(err) != domain.KindInternal {
		t.Errorf("kind = %s, want internal", domain.KindOf(err))
	}
}
