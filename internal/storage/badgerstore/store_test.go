package badgerstore

import (
	"bytes"
	"context"
	"crypto/rand"
	"errors"
	"testing"
	"time"

	"github.com/tari-project/keyvault-go/internal/core/domain"
	"github.com/tari-project/keyvault-go/internal/storage"
	"github.com/tari-project/keyvault-go/pkg/crypto/adaptive"
)

func testKey(t *testing.T) []byte {
	t.Helper()
	key, err := adaptive.GenerateKey(adaptive.KeySize)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	return key
}

func open(t *testing.T, dir string, masterKey []byte) *storage.Base {
	t.Helper()
	b, err := New(Config{
		Dir:        dir,
		MasterKey:  masterKey,
		GCInterval: time.Hour,
	}, storage.BaseOptions{})
	if err != nil {
		t.Fatalf("New error = %v", err)
	}
	return b
}

func TestBadger_RoundTrip(t *testing.T) {
	ctx := context.Background()
	b := open(t, t.TempDir(), testKey(t))
	defer b.Close()

	payload := []byte("api token value")
	if err := b.Store(ctx, "service.token", payload, storage.StoreOptions{}); err != nil {
		t.Fatalf("Store error = %v", err)
	}
	got, err := b.Retrieve(ctx, "service.token")
	if err != nil {
		t.Fatalf("Retrieve error = %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("Retrieve = %q, want %q", got, payload)
	}

	info := b.Info()
	if info.Type != domain.BackendBadger {
		t.Errorf("Type = %q", info.Type)
	}
	if info.SecurityLevel != domain.SecurityEncrypted {
		t.Errorf("SecurityLevel = %q, want encrypted", info.SecurityLevel)
	}
}

func TestBadger_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	key := testKey(t)

	b := open(t, dir, key)
	if err := b.Store(ctx, "durable", []byte("survives restart"), storage.StoreOptions{}); err != nil {
		t.Fatalf("Store error = %v", err)
	}
	if err := b.Close(); err != nil {
		t.Fatalf("Close error = %v", err)
	}

	b = open(t, dir, key)
	defer b.Close()
	got, err := b.Retrieve(ctx, "durable")
	if err != nil {
		t.Fatalf("Retrieve after reopen error = %v", err)
	}
	if string(got) != "survives restart" {
		t.Errorf("Retrieve = %q", got)
	}
}

func TestBadger_WrongKeyFailsDecrypt(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	b := open(t, dir, testKey(t))
	if err := b.Store(ctx, "k", []byte("v"), storage.StoreOptions{}); err != nil {
		t.Fatalf("Store error = %v", err)
	}
	b.Close()

	b = open(t, dir, testKey(t))
	defer b.Close()
	if _, err := b.Retrieve(ctx, "k"); err == nil {
		t.Error("Retrieve with wrong master key succeeded")
	}
}

func TestBadger_ChunkedRoundTrip(t *testing.T) {
	ctx := context.Background()
	b := open(t, t.TempDir(), testKey(t))
	defer b.Close()

	payload := make([]byte, storage.DefaultMaxItemSize*6)
	if _, err := rand.Read(payload); err != nil {
		t.Fatalf("rand: %v", err)
	}
	if err := b.Store(ctx, "big", payload, storage.StoreOptions{}); err != nil {
		t.Fatalf("Store error = %v", err)
	}
	got, err := b.Retrieve(ctx, "big")
	if err != nil {
		t.Fatalf("Retrieve error = %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Error("chunked round trip mismatch")
	}

	meta, err := b.GetMetadata(ctx, "big")
	if err != nil {
		t.Fatalf("GetMetadata error = %v", err)
	}
	if meta.Chunks < 6 {
		t.Errorf("Chunks = %d, want >= 6", meta.Chunks)
	}
}

func TestBadger_NotFound(t *testing.T) {
	ctx := context.Background()
	b := open(t, t.TempDir(), testKey(t))
	defer b.Close()

	if _, err := b.Retrieve(ctx, "absent"); !errors.Is(err, domain.ErrKeyNotFound) {
		t.Errorf("Retrieve(absent) = %v, want ErrKeyNotFound", err)
	}
	if ok, err := b.Exists(ctx, "absent"); err != nil || ok {
		t.Errorf("Exists(absent) = %v, %v", ok, err)
	}
}

func TestBadger_ListAndClear(t *testing.T) {
	ctx := context.Background()
	b := open(t, t.TempDir(), testKey(t))
	defer b.Close()

	for _, k := range []string{"a", "b", "c"} {
		if err := b.Store(ctx, k, []byte(k), storage.StoreOptions{}); err != nil {
			t.Fatalf("Store(%q): %v", k, err)
		}
	}

	keys, err := b.List(ctx)
	if err != nil {
		t.Fatalf("List error = %v", err)
	}
	if len(keys) != 3 {
		t.Errorf("List = %v, want 3 keys", keys)
	}

	if err := b.Clear(ctx); err != nil {
		t.Fatalf("Clear error = %v", err)
	}
	keys, _ = b.List(ctx)
	if len(keys) != 0 {
		t.Errorf("List after Clear = %v", keys)
	}
}

func TestBadger_NoMasterKey(t *testing.T) {
	ctx := context.Background()
	b := open(t, t.TempDir(), nil)
	defer b.Close()

	info := b.Info()
	if info.SecurityLevel != domain.SecurityPlaintext {
		t.Errorf("SecurityLevel = %q, want plaintext", info.SecurityLevel)
	}
	if len(info.Limitations) == 0 {
		t.Error("plaintext backend must declare a limitation")
	}

	if err := b.Store(ctx, "k", []byte("v"), storage.StoreOptions{}); err != nil {
		t.Fatalf("Store error = %v", err)
	}
	got, err := b.Retrieve(ctx, "k")
	if err != nil || string(got) != "v" {
		t.Errorf("Retrieve = %q, %v", got, err)
	}
}

func TestBadger_TestProbe(t *testing.T) {
	b := open(t, t.TempDir(), testKey(t))
	defer b.Close()

	if err := b.Test(context.Background()); err != nil {
		t.Errorf("Test error = %v", err)
	}
}

func TestBadger_ClosedPing(t *testing.T) {
	b := open(t, t.TempDir(), testKey(t))
	if err := b.Close(); err != nil {
		t.Fatalf("Close error = %v", err)
	}
	if _, err := b.Retrieve(context.Background(), "k"); err == nil {
		t.Error("Retrieve after Close succeeded")
	}
}
