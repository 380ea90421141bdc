// Package storage keeps copies of indexed images and index snapshots.
package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/aetherspritee/msirs/internal/config"
)

// ErrNotFound is returned by Get for missing keys.
var ErrNotFound = errors.New("storage: object not found")

// Store is a flat key/value blob store with slash-separated keys
type Store interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Get(ctx context.Context, key string) ([]byte, error)
	List(ctx context.Context, prefix string) ([]string, error)
	Delete(ctx context.Context, key string) error
}

// New builds the store selected by cfg.Backend
func New(ctx context.Context, cfg config.StorageConfig) (Store, error) {
	switch cfg.Backend {
	case "fs", "":
		return NewFS(cfg.Dir)
	case "s3":
		return NewS3(ctx, S3Config{
			Endpoint:  cfg.Endpoint,
			Region:    cfg.Region,
			AccessKey: cfg.AccessKey,
			SecretKey: cfg.SecretKey,
			Bucket:    cfg.Bucket,
			Prefix:    cfg.Prefix,
		})
	}
	return nil, fmt.Errorf("storage: unknown backend %q", cfg.Backend)
}
