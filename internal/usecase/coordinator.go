package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sort"
	"strings"
	"time"

	backoff "github.com/cenkalti/backoff/v4"

	"github.com/zots0127/filegate/internal/domain/entities"
	"github.com/zots0127/filegate/internal/domain/repository"
	"github.com/zots0127/filegate/internal/keys"
	"github.com/zots0127/filegate/internal/validation"
)

// RetryConfig bounds the backoff applied to blob I/O and metadata commits.
type RetryConfig struct {
	InitialInterval time.Duration
	MaxRetries      uint64
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		InitialInterval: 200 * time.Millisecond,
		MaxRetries:      3,
	}
}

// Coordinator orchestrates the two-phase relationship between the object
// store and the catalog. Uploads go PENDING -> blob write -> ACTIVE;
// deletions go ACTIVE -> DELETING -> blob delete -> DELETED. Every
// transition is a catalog CAS, so concurrent operations on the same file ID
// linearize without locks, and any failure leaves the system in a state the
// orphan sweep can reconcile: an ACTIVE record always has its blob.
type Coordinator struct {
	validator *validation.Validator
	alloc     *keys.Allocator
	store     repository.ObjectStore
	catalog   repository.Catalog
	retry     RetryConfig
	now       func() time.Time
}

func NewCoordinator(v *validation.Validator, a *keys.Allocator, store repository.ObjectStore, catalog repository.Catalog, retry RetryConfig) *Coordinator {
	return &Coordinator{
		validator: v,
		alloc:     a,
		store:     store,
		catalog:   catalog,
		retry:     retry,
		now:       time.Now,
	}
}

// Upload validates the stream, allocates identity, and drives the record
// through PENDING -> ACTIVE around the blob write. Validation failures abort
// before any I/O; a blob-write failure tombstones the PENDING record; a
// failed ACTIVE promotion leaves an orphan blob that ListOrphans reports.
func (c *Coordinator) Upload(ctx context.Context, name, declaredType string, declaredSize int64, folder string, body io.Reader) (*entities.UploadResult, error) {
	res, err := c.validator.Validate(name, declaredType, declaredSize, body)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := res.Close(); cerr != nil {
			log.Printf("failed to discard upload spool: %v", cerr)
		}
	}()

	fileID, storageKey := c.alloc.Allocate()
	rec := &entities.FileRecord{
		FileID:       fileID,
		StorageKey:   storageKey,
		OriginalName: name,
		ContentType:  res.ContentType,
		SizeBytes:    res.SizeBytes,
		Checksum:     res.Checksum,
		Folder:       sanitizeFolder(folder),
		CreatedAt:    c.now().UTC(),
		State:        entities.StatePending,
	}
	if err := c.catalog.Insert(ctx, rec); err != nil {
		return nil, fmt.Errorf("%w: %v", entities.ErrMetadataCommitFailed, err)
	}

	err = c.retryTransient(ctx, func() error {
		if _, err := res.Content.Seek(0, io.SeekStart); err != nil {
			return backoff.Permanent(err)
		}
		return c.store.Put(ctx, storageKey, res.Content, res.SizeBytes, res.ContentType)
	})
	if err != nil {
		// No blob was written; tombstone the PENDING record so it can
		// never surface. Detached from the request context: a client
		// that has already gone away must not strand the record in
		// PENDING, where neither listings nor the orphan sweep see it.
		tombCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if tombErr := c.catalog.UpdateState(tombCtx, fileID, entities.StatePending, entities.StateDeleted); tombErr != nil {
			log.Printf("failed to tombstone record %s after write failure: %v", fileID, tombErr)
		}
		return nil, fmt.Errorf("%w: %v", entities.ErrStorageWriteFailed, err)
	}

	err = c.retryTransient(ctx, func() error {
		err := c.catalog.UpdateState(ctx, fileID, entities.StatePending, entities.StateActive)
		if errors.Is(err, entities.ErrStateConflict) || errors.Is(err, entities.ErrNotFound) {
			return backoff.Permanent(err)
		}
		return err
	})
	if err != nil {
		// The blob exists without an ACTIVE record: an orphan. It stays
		// invisible to listings and the sweep will find it.
		return nil, fmt.Errorf("%w: %v", entities.ErrMetadataCommitFailed, err)
	}

	return &entities.UploadResult{
		FileID:      fileID,
		Name:        name,
		SizeBytes:   res.SizeBytes,
		ContentType: res.ContentType,
		Checksum:    res.Checksum,
		StorageKey:  storageKey,
		UploadedAt:  rec.CreatedAt,
	}, nil
}

// Delete hides the record immediately via ACTIVE -> DELETING, removes the
// blob, then commits DELETED. A second delete for the same ID observes the
// CAS loss and returns ErrNotFound rather than failing on the missing blob.
func (c *Coordinator) Delete(ctx context.Context, fileID string) error {
	rec, err := c.catalog.Get(ctx, fileID)
	if err != nil {
		return err
	}

	if rec.State != entities.StateActive {
		// Already deleted, mid-teardown, or never promoted. Terminal for
		// the caller either way; stalled DELETING records are the
		// sweep's to finish.
		return entities.ErrNotFound
	}
	if err := c.catalog.UpdateState(ctx, fileID, entities.StateActive, entities.StateDeleting); err != nil {
		if errors.Is(err, entities.ErrStateConflict) {
			// Lost the race; whoever won is tearing it down.
			return entities.ErrNotFound
		}
		return err
	}

	err = c.retryTransient(ctx, func() error {
		return c.store.Delete(ctx, rec.StorageKey)
	})
	if err != nil {
		// Record stays DELETING: hidden from listings, retryable later.
		return fmt.Errorf("%w: %v", entities.ErrStorageDeleteFailed, err)
	}

	err = c.retryTransient(ctx, func() error {
		err := c.catalog.UpdateState(ctx, fileID, entities.StateDeleting, entities.StateDeleted)
		if errors.Is(err, entities.ErrStateConflict) || errors.Is(err, entities.ErrNotFound) {
			return backoff.Permanent(err)
		}
		return err
	})
	if err != nil {
		if errors.Is(err, entities.ErrStateConflict) || errors.Is(err, entities.ErrNotFound) {
			// Another resumed delete finished the commit first.
			return nil
		}
		return fmt.Errorf("%w: %v", entities.ErrMetadataCommitFailed, err)
	}
	return nil
}

// Metadata returns the record for an ACTIVE file. Records in any other state
// are reported as not found; they are invisible outside the core.
func (c *Coordinator) Metadata(ctx context.Context, fileID string) (*entities.FileRecord, error) {
	rec, err := c.catalog.Get(ctx, fileID)
	if err != nil {
		return nil, err
	}
	if rec.State != entities.StateActive {
		return nil, entities.ErrNotFound
	}
	return rec, nil
}

// List pages through ACTIVE records matching the filter.
func (c *Coordinator) List(ctx context.Context, filter entities.ListFilter, cursor string, limit int) (*entities.ListPage, error) {
	return c.catalog.List(ctx, filter, cursor, limit)
}

// ListOrphans diffs the object store against ACTIVE records and returns the
// keys of blobs nothing points at. Scheduling the reconciliation that acts
// on them is the operator's business; this is the listing it consumes.
func (c *Coordinator) ListOrphans(ctx context.Context) ([]string, error) {
	stored, err := c.store.List(ctx, keys.KeyPrefix)
	if err != nil {
		return nil, err
	}
	active, err := c.catalog.ActiveStorageKeys(ctx)
	if err != nil {
		return nil, err
	}

	var orphans []string
	for _, key := range stored {
		if !active[key] {
			orphans = append(orphans, key)
		}
	}
	sort.Strings(orphans)
	return orphans, nil
}

// retryTransient runs op under bounded exponential backoff, honoring ctx.
func (c *Coordinator) retryTransient(ctx context.Context, op func() error) error {
	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = c.retry.InitialInterval
	b := backoff.WithContext(backoff.WithMaxRetries(expo, c.retry.MaxRetries), ctx)
	return backoff.Retry(op, b)
}

// sanitizeFolder reduces a caller-supplied folder to a flat label. It never
// reaches the storage key; it only scopes listings.
func sanitizeFolder(folder string) string {
	folder = strings.Trim(folder, "/")
	folder = strings.ReplaceAll(folder, "..", "")
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '-' || r == '_' || r == '/':
			return r
		}
		return -1
	}, folder)
}
