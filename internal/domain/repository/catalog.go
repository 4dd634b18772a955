package repository

import (
	"context"

	"github.com/zots0127/filegate/internal/domain/entities"
)

// Catalog defines the interface for file metadata persistence. All state
// transitions go through UpdateState's compare-and-swap so concurrent
// operations on the same file ID linearize without external locks.
type Catalog interface {
	// Insert stores a new record. The record's FileID and StorageKey must be
	// unique among non-deleted records.
	Insert(ctx context.Context, rec *entities.FileRecord) error

	// Get returns the record regardless of state, or entities.ErrNotFound.
	Get(ctx context.Context, fileID string) (*entities.FileRecord, error)

	// UpdateState transitions the record from one state to another. Returns
	// entities.ErrStateConflict if the current state is not `from`, and
	// entities.ErrNotFound if no such record exists.
	UpdateState(ctx context.Context, fileID string, from, to entities.LifecycleState) error

	// List returns ACTIVE records matching filter, newest first, starting
	// after the opaque cursor. limit caps the page size.
	List(ctx context.Context, filter entities.ListFilter, cursor string, limit int) (*entities.ListPage, error)

	// ActiveStorageKeys returns the storage keys of every ACTIVE record.
	// Used by the orphan sweep to diff against the object store.
	ActiveStorageKeys(ctx context.Context) (map[string]bool, error)

	// DeletePermanently hard-deletes the record. Maintenance sweeps only;
	// the normal deletion path keeps a DELETED tombstone.
	DeletePermanently(ctx context.Context, fileID string) error
}
