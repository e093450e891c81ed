// Package blobstore abstracts the small-object store holding the progress
// ledger, catalog files, and attempt logs. The interface exposes the
// compare-and-swap capability the ledger depends on: every object read
// carries an opaque concurrency token, and conditional writes are gated on
// it.
package blobstore

import (
	"context"
	"errors"
	"fmt"

	"granule-reprocessing/internal/config"
)

var (
	// ErrNotFound is returned when the requested object does not exist.
	ErrNotFound = errors.New("object not found")
	// ErrConflict is returned when a conditional write loses: the object
	// already exists for PutIfAbsent, or the token is stale for PutIfMatch.
	ErrConflict = errors.New("conditional write conflict")
)

// Object is a stored blob plus the concurrency token observed at read time.
type Object struct {
	Body  []byte
	Token string
}

// Store is a blob store with conditional-write support. Tokens returned by
// Get, PutIfAbsent, and PutIfMatch gate subsequent PutIfMatch calls.
type Store interface {
	Get(ctx context.Context, key string) (Object, error)
	Put(ctx context.Context, key string, body []byte) error
	PutIfAbsent(ctx context.Context, key string, body []byte) (string, error)
	PutIfMatch(ctx context.Context, key string, body []byte, token string) (string, error)
	List(ctx context.Context, prefix string) ([]string, error)
	Copy(ctx context.Context, src, dst string) error
	Delete(ctx context.Context, key string) error
}

// New builds a store for one bucket from configuration. The redis backend
// exists for local development; production uses s3.
func New(ctx context.Context, cfg config.Config, bucket string) (Store, error) {
	switch cfg.StoreBackend {
	case "s3", "":
		return NewS3Store(ctx, cfg, bucket)
	case "redis":
		return NewRedisStore(cfg, bucket), nil
	default:
		return nil, fmt.Errorf("unknown blob store backend %q", cfg.StoreBackend)
	}
}
