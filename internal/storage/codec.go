// Package storage provides the secure multi-backend storage core for KeyVault.
//
// This file implements the payload pipeline: optional zstd compression
// followed by authenticated encryption. Chunking happens afterwards in
// chunk.go, on the encoded blob.
package storage

import (
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"

	"github.com/tari-project/keyvault-go/internal/core/domain"
	"github.com/tari-project/keyvault-go/pkg/crypto/adaptive"
)

// DefaultCompressThreshold is the payload size above which compression
// is attempted.
const DefaultCompressThreshold = 1024

// CompressionZstd is the compression method recorded in metadata.
const CompressionZstd = "zstd"

// Shared zstd coders; both are safe for concurrent use via EncodeAll /
// DecodeAll.
var (
	zstdOnce    sync.Once
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func zstdCoders() (*zstd.Encoder, *zstd.Decoder) {
	zstdOnce.Do(func() {
		zstdEncoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
		zstdDecoder, _ = zstd.NewReader(nil)
	})
	return zstdEncoder, zstdDecoder
}

// codec runs the compress-then-encrypt pipeline for one backend.
// A nil cipher means the backend relies on its item store (or the
// platform) for at-rest protection.
type codec struct {
	cipher            adaptive.Cipher
	compressThreshold int
}

func newCodec(cipher adaptive.Cipher, compressThreshold int) *codec {
	if compressThreshold <= 0 {
		compressThreshold = DefaultCompressThreshold
	}
	return &codec{cipher: cipher, compressThreshold: compressThreshold}
}

// encryptionMethod names the cipher for metadata records.
func (c *codec) encryptionMethod() string {
	if c.cipher == nil {
		return ""
	}
	return string(c.cipher.Type())
}

// encode compresses (when beneficial and allowed) and encrypts value.
// The logical key binds the ciphertext as additional data, so a blob
// moved to another key fails authentication.
func (c *codec) encode(key string, value []byte, disableCompression bool) (blob []byte, compression string, err error) {
	blob = value

	if !disableCompression && len(value) > c.compressThreshold {
		enc, _ := zstdCoders()
		if enc != nil {
			compressed := enc.EncodeAll(value, nil)
			if len(compressed) < len(value) {
				blob = compressed
				compression = CompressionZstd
			}
		}
	}

	if c.cipher != nil {
		sealed, err := c.cipher.Encrypt(blob, []byte(key))
		if err != nil {
			return nil, "", domain.ErrInternal.WithDetails("encrypt payload").WithCause(err)
		}
		blob = sealed
	}

	return blob, compression, nil
}

// decode reverses encode using the compression method recorded in the
// entry's metadata ("" for uncompressed).
func (c *codec) decode(key string, blob []byte, compression string) ([]byte, error) {
	if c.cipher != nil {
		plain, err := c.cipher.Decrypt(blob, []byte(key))
		if err != nil {
			return nil, domain.ErrCorruptPayload.WithDetails("decrypt payload").WithCause(err)
		}
		blob = plain
	}

	switch compression {
	case "":
		return blob, nil
	case CompressionZstd:
		_, dec := zstdCoders()
		if dec == nil {
			return nil, domain.ErrInternal.WithDetails("zstd decoder unavailable")
		}
		out, err := dec.DecodeAll(blob, nil)
		if err != nil {
			return nil, domain.ErrCorruptPayload.WithDetails("decompress payload").WithCause(err)
		}
		return out, nil
	default:
		return nil, domain.ErrCorruptPayload.WithDetails(fmt.Sprintf("unknown compression %q", compression))
	}
}
