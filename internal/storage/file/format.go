// Package file provides the encrypted-file backend for KeyVault.
package file

import (
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/tari-project/keyvault-go/internal/core/domain"
	"github.com/tari-project/keyvault-go/pkg/crypto/adaptive"
)

// FormatVersion is the current envelope format version.
const FormatVersion = 1

const (
	saltLength = 16
	kdfName    = "argon2id-hkdf"
	kdfTime    = 3

	// maxHeaderLength bounds the declared header size so a corrupt
	// length prefix cannot drive a huge allocation.
	maxHeaderLength = 4096
)

// envelopeHeader is the JSON header at the front of every item file.
// It is authoritative for deserialization.
type envelopeHeader struct {
	Version    int    `json:"version"`
	Algorithm  string `json:"algorithm"`
	KDF        string `json:"kdf"`
	Iterations int    `json:"iterations"`
	SaltSize   int    `json:"saltSize"`
	IVSize     int    `json:"ivSize"`
	TagSize    int    `json:"tagSize"`
	DataSize   int    `json:"dataSize"`
}

// sealItem encrypts data into the envelope format using a fresh salt
// and an HKDF subkey of the master key.
func sealItem(masterKey, data []byte) ([]byte, error) {
	salt := make([]byte, saltLength)
	if _, err := rand.Read(salt); err != nil {
		return nil, domain.ErrInternal.WithDetails("generate salt").WithCause(err)
	}

	itemKey, err := adaptive.DeriveSubkey(masterKey, "item:"+hex.EncodeToString(salt), adaptive.KeySize)
	if err != nil {
		return nil, domain.ErrInternal.WithDetails("derive item key").WithCause(err)
	}
	defer adaptive.Zero(itemKey)

	cipher, err := adaptive.New(itemKey)
	if err != nil {
		return nil, domain.ErrInternal.WithDetails("init cipher").WithCause(err)
	}

	sealed, err := cipher.Encrypt(data, nil)
	if err != nil {
		return nil, domain.ErrInternal.WithDetails("seal item").WithCause(err)
	}

	// adaptive ciphers return nonce||ciphertext||tag; the envelope
	// stores the three sections separately.
	ns, overhead := cipher.NonceSize(), cipher.Overhead()
	iv := sealed[:ns]
	body := sealed[ns:]
	tag := body[len(body)-overhead:]
	ciphertext := body[:len(body)-overhead]

	header := envelopeHeader{
		Version:    FormatVersion,
		Algorithm:  string(cipher.Type()),
		KDF:        kdfName,
		Iterations: kdfTime,
		SaltSize:   len(salt),
		IVSize:     ns,
		TagSize:    overhead,
		DataSize:   len(ciphertext),
	}
	headerJSON, err := json.Marshal(header)
	if err != nil {
		return nil, domain.ErrInternal.WithDetails("encode header").WithCause(err)
	}

	out := make([]byte, 0, 4+len(headerJSON)+len(salt)+ns+overhead+len(ciphertext))
	out = binary.BigEndian.AppendUint32(out, uint32(len(headerJSON)))
	out = append(out, headerJSON...)
	out = append(out, salt...)
	out = append(out, iv...)
	out = append(out, tag...)
	out = append(out, ciphertext...)
	return out, nil
}

// openItem decrypts an envelope produced by sealItem.
func openItem(masterKey, envelope []byte) ([]byte, error) {
	if len(envelope) < 4 {
		return nil, domain.ErrCorruptPayload.WithDetails("envelope shorter than length prefix")
	}

	headerLen := int(binary.BigEndian.Uint32(envelope[:4]))
	if headerLen <= 0 || headerLen > maxHeaderLength || 4+headerLen > len(envelope) {
		return nil, domain.ErrCorruptPayload.WithDetails(fmt.Sprintf("invalid header length %d", headerLen))
	}

	var header envelopeHeader
	if err := json.Unmarshal(envelope[4:4+headerLen], &header); err != nil {
		return nil, domain.ErrCorruptPayload.WithDetails("decode header").WithCause(err)
	}
	if header.Version != FormatVersion {
		return nil, domain.ErrCorruptPayload.WithDetails(fmt.Sprintf("unsupported format version %d", header.Version))
	}

	// Each declared size must be sane on its own before any slicing;
	// negative or oversized values can still sum to the body length.
	if header.SaltSize < 0 || header.SaltSize > maxHeaderLength ||
		header.IVSize < 0 || header.IVSize > maxHeaderLength ||
		header.TagSize < 0 || header.TagSize > maxHeaderLength ||
		header.DataSize < 0 {
		return nil, domain.ErrCorruptPayload.WithDetails(fmt.Sprintf(
			"invalid section sizes salt=%d iv=%d tag=%d data=%d",
			header.SaltSize, header.IVSize, header.TagSize, header.DataSize))
	}

	rest := envelope[4+headerLen:]
	want := header.SaltSize + header.IVSize + header.TagSize + header.DataSize
	if len(rest) != want {
		return nil, domain.ErrCorruptPayload.WithDetails(fmt.Sprintf("envelope body %d bytes, header says %d", len(rest), want))
	}

	salt := rest[:header.SaltSize]
	iv := rest[header.SaltSize : header.SaltSize+header.IVSize]
	tag := rest[header.SaltSize+header.IVSize : header.SaltSize+header.IVSize+header.TagSize]
	ciphertext := rest[header.SaltSize+header.IVSize+header.TagSize:]

	itemKey, err := adaptive.DeriveSubkey(masterKey, "item:"+hex.EncodeToString(salt), adaptive.KeySize)
	if err != nil {
		return nil, domain.ErrInternal.WithDetails("derive item key").WithCause(err)
	}
	defer adaptive.Zero(itemKey)

	cipher, err := adaptive.NewWithType(itemKey, adaptive.CipherType(header.Algorithm))
	if err != nil {
		return nil, domain.ErrCorruptPayload.WithDetails("unknown algorithm " + header.Algorithm).WithCause(err)
	}

	sealed := make([]byte, 0, header.IVSize+header.DataSize+header.TagSize)
	sealed = append(sealed, iv...)
	sealed = append(sealed, ciphertext...)
	sealed = append(sealed, tag...)

	plain, err := cipher.Decrypt(sealed, nil)
	if err != nil {
		return nil, domain.ErrCorruptPayload.WithDetails("open item").WithCause(err)
	}
	return plain, nil
}
