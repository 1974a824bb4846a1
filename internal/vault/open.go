package vault

import (
	"context"
	"fmt"

	"github.com/ppiankov/credible/internal/model"
)

// OpenBackend builds the backend selected by cfg. The returned close
// function releases connections held by the backend.
func OpenBackend(ctx context.Context, cfg model.VaultConfig) (Backend, func() error, error) {
	noop := func() error { return nil }
	switch cfg.Backend {
	case "", "memory":
		return NewMemoryBackend(), noop, nil
	case "disk":
		if cfg.Dir == "" {
			return nil, nil, fmt.Errorf("vault.dir is required for the disk backend")
		}
		return NewDiskBackend(cfg.Dir), noop, nil
	case "postgres":
		b, err := NewPostgresBackend(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, nil, err
		}
		return b, b.Close, nil
	case "s3":
		b, err := NewS3Backend(ctx, cfg)
		if err != nil {
			return nil, nil, err
		}
		return b, noop, nil
	default:
		return nil, nil, fmt.Errorf("unknown vault backend: %s (supported: memory, disk, postgres, s3)", cfg.Backend)
	}
}
