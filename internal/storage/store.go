// Package storage abstracts the durable store that checkpoint files live in.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
)

var (
	// ErrExists is returned when a destination key already exists.
	ErrExists = errors.New("object already exists")

	// ErrNotExist is returned when a requested key does not exist.
	ErrNotExist = errors.New("object does not exist")
)

// Store is a path-addressed durable byte store. Keys use '/' separators
// regardless of backend.
type Store interface {
	// Create opens a writer for key with create-exclusive semantics:
	// it fails with ErrExists if the key is already present.
	Create(ctx context.Context, key string) (io.WriteCloser, error)

	// Open opens a reader for key. Fails with ErrNotExist if absent.
	Open(ctx context.Context, key string) (io.ReadCloser, error)

	// Rename moves oldKey to newKey without replacing an existing
	// destination: if newKey exists, it fails with ErrExists and leaves
	// both objects untouched. On the local backend this is atomic.
	Rename(ctx context.Context, oldKey, newKey string) error

	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// List returns the keys under prefix, sorted lexically.
	List(ctx context.Context, prefix string) ([]string, error)

	// Exists reports whether key is present.
	Exists(ctx context.Context, key string) (bool, error)

	// URI returns the canonical URI for the given key.
	URI(key string) string

	// Close releases any resources.
	Close() error
}

// Config selects and configures a backend.
type Config struct {
	Backend   string // "local" | "blob"
	LocalDir  string // base directory for the local backend
	BucketURL string // gocloud bucket URL for the blob backend
}

// New creates a durable store based on configuration.
func New(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Backend {
	case "local":
		if cfg.LocalDir == "" {
			return nil, fmt.Errorf("LocalDir required for local backend")
		}
		return NewLocalStore(cfg.LocalDir)
	case "blob":
		if cfg.BucketURL == "" {
			return nil, fmt.Errorf("BucketURL required for blob backend")
		}
		return NewBlobStore(ctx, cfg.BucketURL)
	default:
		return nil, fmt.Errorf("unknown storage backend: %s", cfg.Backend)
	}
}
