// Package storage provides the secure multi-backend storage core for KeyVault.
package storage

import (
	"strings"
	"testing"

	"github.com/tari-project/keyvault-go/internal/core/domain"
)

func TestSplitChunks(t *testing.T) {
	tests := []struct {
		name    string
		size    int
		limit   int
		want    int
		lastLen int
	}{
		{"fits", 100, 4096, 1, 100},
		{"exact multiple", 256, 64, 4, 64},
		{"remainder", 257, 64, 5, 1},
		{"one byte", 1, 64, 1, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			blob := make([]byte, tt.size)
			chunks := splitChunks(blob, tt.limit)
			if len(chunks) != tt.want {
				t.Fatalf("chunk count = %d, want %d", len(chunks), tt.want)
			}
			if got := len(chunks[len(chunks)-1]); got != tt.lastLen {
				t.Errorf("last chunk len = %d, want %d", got, tt.lastLen)
			}

			total := 0
			for _, c := range chunks {
				total += len(c)
			}
			if total != tt.size {
				t.Errorf("total = %d, want %d", total, tt.size)
			}
		})
	}
}

func TestChunkName(t *testing.T) {
	if got := chunkName("wallet.seed", 0); got != "wallet.seed" {
		t.Errorf("chunk 0 name = %q, want logical key", got)
	}
	if got := chunkName("wallet.seed", 2); got != "wallet.seed#c2" {
		t.Errorf("chunk 2 name = %q", got)
	}
	// Every derived name carries the reserved separator, so no valid
	// logical key can collide with it.
	if err := domain.ValidateKey(chunkName("wallet.seed", 2)); err == nil {
		t.Error("derived chunk name validates as a logical key")
	}
}

func TestDerivedName_LongKey(t *testing.T) {
	longKey := strings.Repeat("k", domain.MaxKeyLength)

	name := chunkName(longKey, 1)
	if len(name) > domain.MaxKeyLength {
		t.Errorf("derived name length %d exceeds limit", len(name))
	}
	if !strings.HasPrefix(name, derivedPrefix) {
		t.Errorf("long-key derived name %q missing fingerprint prefix", name)
	}

	// Deterministic per key.
	if again := chunkName(longKey, 1); again != name {
		t.Errorf("derived name not stable: %q vs %q", name, again)
	}

	// Different keys yield different fingerprints.
	other := chunkName(strings.Repeat("x", domain.MaxKeyLength), 1)
	if other == name {
		t.Error("different keys produced identical derived names")
	}
}

func TestIsDerivedName(t *testing.T) {
	derived := []string{
		chunkName("wallet.seed", 1),
		chunkName("wallet.seed", 12),
		metaName("wallet.seed"),
		derivedPrefix + "0011223344556677" + chunkInfix + "1",
		derivedPrefix + "probe.01ABC",
	}
	for _, name := range derived {
		if !isDerivedName(name) {
			t.Errorf("isDerivedName(%q) = false, want true", name)
		}
	}

	// Keys that merely resemble derived suffixes stay logical.
	logical := []string{
		"wallet.seed",
		"wallet.seed.kvc1",
		"wallet.seed.meta",
		"kvd.fingerprint",
		"app.config.v2",
	}
	for _, name := range logical {
		if isDerivedName(name) {
			t.Errorf("isDerivedName(%q) = true, want false", name)
		}
	}
}

func TestUnmarshalMeta_Invalid(t *testing.T) {
	if _, err := unmarshalMeta([]byte("not json")); err == nil {
		t.Error("expected error for malformed metadata")
	}
	if _, err := unmarshalMeta([]byte(`{"chunks":0}`)); err == nil {
		t.Error("expected error for zero chunk count")
	}
}
