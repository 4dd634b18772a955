package repository

import (
	"context"
	"io"
)

// ObjectStore defines the interface for durable blob storage. Implementations
// must be safe for concurrent use; Delete must be idempotent (deleting an
// absent key succeeds).
type ObjectStore interface {
	// Put writes the blob under key. size is the exact byte count.
	Put(ctx context.Context, key string, body io.ReadSeeker, size int64, contentType string) error

	// Get returns the blob content, or entities.ErrNotFound.
	Get(ctx context.Context, key string) (io.ReadCloser, error)

	// Delete removes the blob. Absent keys are treated as success.
	Delete(ctx context.Context, key string) error

	// Exists checks for the blob without fetching it.
	Exists(ctx context.Context, key string) (bool, error)

	// List returns every key under the given prefix. Used by sweeps.
	List(ctx context.Context, prefix string) ([]string, error)
}
