// Package storage provides the secure multi-backend storage core for KeyVault.
//
// This file implements chunking around per-backend item-size limits and
// the naming scheme for derived records (chunks and sidecar metadata).
package storage

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spaolacci/murmur3"

	"github.com/tari-project/keyvault-go/internal/core/domain"
)

// DefaultMaxItemSize is the per-item size limit used when a backend
// does not declare one. Credential-manager-style backends override this
// with a smaller limit (~2KB).
const DefaultMaxItemSize = 4096

// Derived records (chunks, sidecar metadata, probes) share the item
// namespace with logical keys, so their names carry a separator the key
// charset forbids. A derived name can therefore never equal a valid
// logical key, and a stored key can never shadow a derived record.
const (
	derivedSep    = "#"
	metaSuffix    = "#meta"
	chunkInfix    = "#c"
	derivedPrefix = "kvd#"
)

// entryMeta is the sidecar record persisted when an entry is chunked or
// compressed. Its presence tells Retrieve how to reassemble the blob.
type entryMeta struct {
	domain.Metadata
	Compression string `json:"compression,omitempty"`
}

func (m *entryMeta) marshal() ([]byte, error) {
	return json.Marshal(m)
}

func unmarshalMeta(data []byte) (*entryMeta, error) {
	var m entryMeta
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, domain.ErrCorruptPayload.WithDetails("decode metadata record").WithCause(err)
	}
	if m.Chunks < 1 {
		return nil, domain.ErrCorruptPayload.WithDetails("metadata chunk count < 1")
	}
	return &m, nil
}

// splitChunks slices blob into pieces of at most limit bytes.
// Chunk 0 is stored under the logical key itself; only chunks 1..N-1
// get derived names.
func splitChunks(blob []byte, limit int) [][]byte {
	if limit <= 0 {
		limit = DefaultMaxItemSize
	}
	if len(blob) <= limit {
		return [][]byte{blob}
	}

	chunks := make([][]byte, 0, (len(blob)+limit-1)/limit)
	for off := 0; off < len(blob); off += limit {
		end := off + limit
		if end > len(blob) {
			end = len(blob)
		}
		chunks = append(chunks, blob[off:end])
	}
	return chunks
}

// chunkName returns the item name for chunk index i of key.
// Index 0 is the key itself.
func chunkName(key string, i int) string {
	if i == 0 {
		return key
	}
	return derivedName(key, fmt.Sprintf("%s%d", chunkInfix, i))
}

// metaName returns the item name of the sidecar metadata record.
func metaName(key string) string {
	return derivedName(key, metaSuffix)
}

// derivedName appends suffix to key, fingerprinting keys that would
// push the derived name past the key-length limit. The fingerprint is
// a murmur3 64-bit hash, so derived names stay stable per key.
func derivedName(key, suffix string) string {
	name := key + suffix
	if len(name) <= domain.MaxKeyLength {
		return name
	}
	h := murmur3.Sum64([]byte(key))
	return fmt.Sprintf("%s%016x%s", derivedPrefix, h, suffix)
}

// isDerivedName reports whether a raw item name is a chunk, metadata,
// or probe record rather than a logical key. The separator never
// appears in a validated key, so its presence is decisive.
func isDerivedName(name string) bool {
	return strings.Contains(name, derivedSep)
}
