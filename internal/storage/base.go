// Package storage provides the secure multi-backend storage core for KeyVault.
package storage

import (
	"bytes"
	"context"
	"crypto/rand"
	"errors"
	"fmt"

	"github.com/oklog/ulid/v2"

	"github.com/tari-project/keyvault-go/internal/core/domain"
	"github.com/tari-project/keyvault-go/internal/telemetry/logger"
	"github.com/tari-project/keyvault-go/pkg/crypto/adaptive"
)

// DefaultMaxValueSize is the maximum accepted payload size.
const DefaultMaxValueSize = 1 << 20 // 1MB

// BaseOptions configures a Base backend.
type BaseOptions struct {
	// Cipher encrypts payloads before chunking. Nil means the item
	// store or platform provides at-rest protection itself.
	Cipher adaptive.Cipher

	// CompressThreshold is the payload size above which compression is
	// attempted. Zero uses DefaultCompressThreshold.
	CompressThreshold int

	// MaxValueSize bounds accepted payloads. Zero uses DefaultMaxValueSize.
	MaxValueSize int

	// Logger is the structured logger. Nil uses the package default.
	Logger logger.Logger
}

// Base implements the Backend contract over a raw ItemStore.
//
// It owns validation, the compress/encrypt pipeline, chunking, and the
// sidecar metadata records; concrete backends only supply the ItemStore
// and their BackendInfo.
type Base struct {
	info   domain.BackendInfo
	items  ItemStore
	codec  *codec
	maxVal int
	log    logger.Logger
}

// NewBase builds a Backend from a physical item store.
func NewBase(info domain.BackendInfo, items ItemStore, opts BaseOptions) *Base {
	if info.MaxItemSize <= 0 {
		info.MaxItemSize = DefaultMaxItemSize
	}
	maxVal := opts.MaxValueSize
	if maxVal <= 0 {
		maxVal = DefaultMaxValueSize
	}
	log := opts.Logger
	if log == nil {
		log = logger.Default()
	}

	return &Base{
		info:   info,
		items:  items,
		codec:  newCodec(opts.Cipher, opts.CompressThreshold),
		maxVal: maxVal,
		log:    log.With("backend", string(info.Type)),
	}
}

// Info describes the backend.
func (b *Base) Info() domain.BackendInfo {
	return b.info
}

// Store persists value under key.
func (b *Base) Store(ctx context.Context, key string, value []byte, opts StoreOptions) error {
	if err := domain.ValidateKey(key); err != nil {
		return err
	}
	if len(value) == 0 {
		return domain.ErrEmptyValue
	}
	if len(value) > b.maxVal {
		return domain.ErrValueTooLarge.WithDetails(fmt.Sprintf("%d > %d bytes", len(value), b.maxVal))
	}

	oldMeta, _ := b.readMeta(ctx, key)

	blob, compression, err := b.codec.encode(key, value, opts.DisableCompression)
	if err != nil {
		return err
	}

	chunks := splitChunks(blob, b.info.MaxItemSize)
	now := domain.NowMillis()

	meta := &entryMeta{
		Metadata: domain.Metadata{
			CreatedAt:  now,
			ModifiedAt: now,
			Size:       len(blob),
			Chunks:     len(chunks),
			Encryption: b.codec.encryptionMethod(),
		},
		Compression: compression,
	}
	if oldMeta != nil {
		meta.CreatedAt = oldMeta.CreatedAt
	}

	// Derived chunks first, sidecar second, base item last. A reader
	// that races the write either misses the base item or finds a
	// complete chunk set.
	for i := len(chunks) - 1; i >= 1; i-- {
		if err := b.items.SetItem(ctx, chunkName(key, i), chunks[i]); err != nil {
			return b.wrapf(err, "store chunk %d", i)
		}
	}

	needMeta := len(chunks) > 1 || compression != ""
	if needMeta {
		encoded, err := meta.marshal()
		if err != nil {
			return domain.ErrInternal.WithDetails("encode metadata record").WithCause(err)
		}
		if err := b.items.SetItem(ctx, metaName(key), encoded); err != nil {
			return b.wrapf(err, "store metadata")
		}
	}

	if err := b.items.SetItem(ctx, chunkName(key, 0), chunks[0]); err != nil {
		return b.wrapf(err, "store payload")
	}

	// Drop records the previous, larger entry no longer needs.
	if oldMeta != nil {
		for i := len(chunks); i < oldMeta.Chunks; i++ {
			_ = b.items.DeleteItem(ctx, chunkName(key, i))
		}
	}
	if !needMeta {
		_ = b.items.DeleteItem(ctx, metaName(key))
	}

	return nil
}

// Retrieve returns the payload stored under key.
func (b *Base) Retrieve(ctx context.Context, key string) ([]byte, error) {
	if err := domain.ValidateKey(key); err != nil {
		return nil, err
	}

	meta, err := b.readMeta(ctx, key)
	if err != nil {
		return nil, err
	}

	if meta == nil {
		blob, err := b.items.GetItem(ctx, key)
		if err != nil {
			if errors.Is(err, domain.ErrKeyNotFound) {
				return nil, domain.ErrKeyNotFound.WithDetails(key)
			}
			return nil, b.wrapf(err, "read payload")
		}
		return b.codec.decode(key, blob, "")
	}

	// Chunked (or compressed) entry: the metadata record is
	// authoritative. Exactly Chunks pieces must be present.
	var buf bytes.Buffer
	buf.Grow(meta.Size)
	for i := 0; i < meta.Chunks; i++ {
		chunk, err := b.items.GetItem(ctx, chunkName(key, i))
		if err != nil {
			if errors.Is(err, domain.ErrKeyNotFound) {
				return nil, domain.ErrChunkMissing.WithDetails(fmt.Sprintf("key %s chunk %d of %d", key, i, meta.Chunks))
			}
			return nil, b.wrapf(err, "read chunk %d", i)
		}
		buf.Write(chunk)
	}

	if buf.Len() != meta.Size {
		return nil, domain.ErrCorruptPayload.WithDetails(fmt.Sprintf("reassembled %d bytes, metadata says %d", buf.Len(), meta.Size))
	}

	return b.codec.decode(key, buf.Bytes(), meta.Compression)
}

// Remove deletes key and all derived records.
func (b *Base) Remove(ctx context.Context, key string) error {
	if err := domain.ValidateKey(key); err != nil {
		return err
	}

	meta, _ := b.readMeta(ctx, key)

	present, err := b.items.HasItem(ctx, key)
	if err != nil {
		return b.wrapf(err, "check payload")
	}
	if !present && meta == nil {
		return domain.ErrKeyNotFound.WithDetails(key)
	}

	chunks := 1
	if meta != nil {
		chunks = meta.Chunks
	}
	for i := 0; i < chunks; i++ {
		if err := b.items.DeleteItem(ctx, chunkName(key, i)); err != nil {
			return b.wrapf(err, "delete chunk %d", i)
		}
	}
	if err := b.items.DeleteItem(ctx, metaName(key)); err != nil {
		return b.wrapf(err, "delete metadata")
	}

	return nil
}

// Exists reports whether key is present.
func (b *Base) Exists(ctx context.Context, key string) (bool, error) {
	if err := domain.ValidateKey(key); err != nil {
		return false, err
	}
	ok, err := b.items.HasItem(ctx, key)
	if err != nil {
		return false, b.wrapf(err, "check payload")
	}
	return ok, nil
}

// List returns all logical keys.
func (b *Base) List(ctx context.Context) ([]string, error) {
	names, err := b.items.ListItems(ctx)
	if err != nil {
		return nil, b.wrapf(err, "list items")
	}

	keys := names[:0:0]
	for _, name := range names {
		if !isDerivedName(name) {
			keys = append(keys, name)
		}
	}
	return keys, nil
}

// GetMetadata returns the bookkeeping record for key. Entries without a
// sidecar record (single chunk, uncompressed) get a synthesized record
// with zero timestamps.
func (b *Base) GetMetadata(ctx context.Context, key string) (*domain.Metadata, error) {
	if err := domain.ValidateKey(key); err != nil {
		return nil, err
	}

	meta, err := b.readMeta(ctx, key)
	if err != nil {
		return nil, err
	}
	if meta != nil {
		m := meta.Metadata
		return &m, nil
	}

	blob, err := b.items.GetItem(ctx, key)
	if err != nil {
		if errors.Is(err, domain.ErrKeyNotFound) {
			return nil, domain.ErrKeyNotFound.WithDetails(key)
		}
		return nil, b.wrapf(err, "read payload")
	}

	return &domain.Metadata{
		Size:       len(blob),
		Chunks:     1,
		Encryption: b.codec.encryptionMethod(),
	}, nil
}

// Clear removes every entry.
func (b *Base) Clear(ctx context.Context) error {
	if err := b.items.ClearItems(ctx); err != nil {
		return b.wrapf(err, "clear")
	}
	return nil
}

// Test probes the backend with a write/read/delete round trip.
func (b *Base) Test(ctx context.Context) error {
	if err := b.items.Ping(ctx); err != nil {
		return b.wrapf(err, "ping")
	}

	// Probe names carry the derived prefix so they never surface in List.
	name := derivedPrefix + "probe." + ulid.Make().String()
	probe := make([]byte, 16)
	if _, err := rand.Read(probe); err != nil {
		return domain.ErrInternal.WithDetails("generate probe").WithCause(err)
	}

	if err := b.items.SetItem(ctx, name, probe); err != nil {
		return b.wrapf(err, "probe write")
	}
	got, err := b.items.GetItem(ctx, name)
	if err != nil {
		return b.wrapf(err, "probe read")
	}
	if !bytes.Equal(got, probe) {
		return domain.ErrCorruptPayload.WithDetails("probe round trip mismatch")
	}
	if err := b.items.DeleteItem(ctx, name); err != nil {
		return b.wrapf(err, "probe delete")
	}

	return nil
}

// Close releases backend resources.
func (b *Base) Close() error {
	return b.items.Close()
}

// readMeta returns the sidecar record for key, or nil when absent.
func (b *Base) readMeta(ctx context.Context, key string) (*entryMeta, error) {
	data, err := b.items.GetItem(ctx, metaName(key))
	if err != nil {
		if errors.Is(err, domain.ErrKeyNotFound) {
			return nil, nil
		}
		return nil, b.wrapf(err, "read metadata")
	}
	return unmarshalMeta(data)
}

// wrapf normalizes item-store errors into StorageError values while
// preserving already-classified ones.
func (b *Base) wrapf(err error, format string, args ...any) error {
	var se *domain.StorageError
	if errors.As(err, &se) && se.Kind != domain.KindNotFound {
		return err
	}
	return domain.ErrInternal.WithDetails(fmt.Sprintf(format, args...)).WithCause(err)
}
