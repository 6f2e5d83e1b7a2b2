package persistence

import (
	"context"
	"fmt"

	"ctxcore/internal/config"
	"ctxcore/internal/store"
)

// NewPageStore selects and constructs a store.PageStore backend per
// cfg.Backend, mirroring the teacher's per-concern backend switch: file
// is the zero-value default, s3 and postgres require their respective
// connection settings.
func NewPageStore(ctx context.Context, cfg config.PersistenceConfig) (store.PageStore, error) {
	switch cfg.Backend {
	case "", "file":
		dir := cfg.SessionDir
		if dir == "" {
			dir = "./sessions"
		}
		return NewFileStore(dir), nil
	case "s3":
		if cfg.S3Bucket == "" {
			return nil, fmt.Errorf("persistence: backend s3 requires s3_bucket")
		}
		return NewS3Store(ctx, S3Config{Bucket: cfg.S3Bucket, Prefix: cfg.S3Prefix})
	case "postgres", "pg":
		if cfg.PostgresDSN == "" {
			return nil, fmt.Errorf("persistence: backend postgres requires postgres_dsn")
		}
		return NewPostgresStore(ctx, cfg.PostgresDSN)
	default:
		return nil, fmt.Errorf("persistence: unsupported backend %q", cfg.Backend)
	}
}
