package factory

import (
	"context"
	"sort"

	"github.com/tari-project/keyvault-go/internal/core/domain"
	"github.com/tari-project/keyvault-go/internal/storage/badgerstore"
	"github.com/tari-project/keyvault-go/internal/storage/file"
	"github.com/tari-project/keyvault-go/internal/storage/memory"
	"github.com/tari-project/keyvault-go/internal/storage/platform"
)

// platformTypes is the probe order for the OS secret stores.
var platformTypes = []domain.BackendType{
	domain.BackendKeychain,
	domain.BackendCredentialStore,
	domain.BackendSecretService,
}

// Discover probes every backend this configuration could build and
// returns their descriptors ranked by security level then performance.
// Unavailable candidates are included with Available false and a
// limitation naming the reason, so operators can audit a host.
func Discover(ctx context.Context, cfg Config) []domain.BackendInfo {
	var out []domain.BackendInfo

	for _, t := range platformTypes {
		info, err := platform.Info(t)
		if err != nil {
			continue
		}
		native := cfg.Natives[t]
		if native == nil {
			info.Limitations = append(info.Limitations, "platform API not bound")
		} else if err := platform.Probe(ctx, native); err != nil {
			info.Limitations = append(info.Limitations, "probe failed: "+err.Error())
		} else {
			info.Available = true
		}
		out = append(out, info)
	}

	fi := file.Info()
	switch {
	case cfg.FileDir == "":
		fi.Available = false
		fi.Limitations = append(fi.Limitations, "no directory configured")
	case len(cfg.FileKey) == 0 && len(cfg.FilePassphrase) == 0:
		fi.Available = false
		fi.Limitations = append(fi.Limitations, "no master key or passphrase configured")
	}
	out = append(out, fi)

	bi := badgerstore.Info(len(cfg.BadgerMasterKey) > 0)
	if cfg.BadgerDir == "" {
		bi.Available = false
		bi.Limitations = append(bi.Limitations, "no directory configured")
	}
	out = append(out, bi)

	out = append(out, memory.Info())

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].SecurityLevel.Rank() != out[j].SecurityLevel.Rank() {
			return out[i].SecurityLevel.Rank() > out[j].SecurityLevel.Rank()
		}
		return out[i].Performance.Rank() > out[j].Performance.Rank()
	})
	return out
}
