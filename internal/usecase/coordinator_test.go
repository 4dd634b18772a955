package usecase_test

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/zots0127/filegate/internal/catalog"
	"github.com/zots0127/filegate/internal/domain/entities"
	"github.com/zots0127/filegate/internal/keys"
	"github.com/zots0127/filegate/internal/objectstore"
	"github.com/zots0127/filegate/internal/usecase"
	"github.com/zots0127/filegate/internal/usecase/mocks"
	"github.com/zots0127/filegate/internal/validation"
)

func testRetry() usecase.RetryConfig {
	return usecase.RetryConfig{InitialInterval: time.Millisecond, MaxRetries: 2}
}

func newTestValidator(t *testing.T) *validation.Validator {
	t.Helper()
	policy, err := validation.NewPolicy(1<<20, []string{"document"})
	require.NoError(t, err)
	return validation.NewValidator(policy)
}

func newMockedCoordinator(t *testing.T) (*usecase.Coordinator, *mocks.MockObjectStore, *mocks.MockCatalog) {
	t.Helper()
	store := new(mocks.MockObjectStore)
	cat := new(mocks.MockCatalog)
	c := usecase.NewCoordinator(newTestValidator(t), keys.NewAllocator(), store, cat, testRetry())
	return c, store, cat
}

func TestUpload(t *testing.T) {
	ctx := context.Background()

	t.Run("accepted upload ends ACTIVE", func(t *testing.T) {
		c, store, cat := newMockedCoordinator(t)

		var inserted *entities.FileRecord
		cat.On("Insert", mock.Anything, mock.AnythingOfType("*entities.FileRecord")).
			Run(func(args mock.Arguments) {
				inserted = args.Get(1).(*entities.FileRecord)
			}).Return(nil)
		store.On("Put", mock.Anything, mock.AnythingOfType("string"), mock.Anything, int64(5), "text/plain").
			Return(nil)
		cat.On("UpdateState", mock.Anything, mock.AnythingOfType("string"), entities.StatePending, entities.StateActive).
			Return(nil)

		result, err := c.Upload(ctx, "a.txt", "text/plain", 5, "", strings.NewReader("hello"))
		require.NoError(t, err)

		assert.Equal(t, int64(5), result.SizeBytes)
		assert.Equal(t, "a.txt", result.Name)
		assert.Equal(t, "text/plain", result.ContentType)
		require.NotNil(t, inserted)
		assert.Equal(t, entities.StatePending, inserted.State, "record must be inserted PENDING before the blob write")
		assert.Equal(t, result.FileID, inserted.FileID)
		assert.Equal(t, result.StorageKey, inserted.StorageKey)
		cat.AssertExpectations(t)
		store.AssertExpectations(t)
	})

	t.Run("rejected extension touches no backend", func(t *testing.T) {
		c, store, cat := newMockedCoordinator(t)

		_, err := c.Upload(ctx, "a.exe", "application/octet-stream", 2, "", strings.NewReader("MZ"))

		assert.ErrorIs(t, err, entities.ErrInvalidExtension)
		store.AssertNotCalled(t, "Put", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
		cat.AssertNotCalled(t, "Insert", mock.Anything, mock.Anything)
	})

	t.Run("blob write failure tombstones the pending record", func(t *testing.T) {
		c, store, cat := newMockedCoordinator(t)

		cat.On("Insert", mock.Anything, mock.Anything).Return(nil)
		store.On("Put", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
			Return(errors.New("connection reset")).Times(3)
		cat.On("UpdateState", mock.Anything, mock.AnythingOfType("string"), entities.StatePending, entities.StateDeleted).
			Return(nil)

		_, err := c.Upload(ctx, "a.txt", "text/plain", 5, "", strings.NewReader("hello"))

		assert.ErrorIs(t, err, entities.ErrStorageWriteFailed)
		store.AssertExpectations(t)
		cat.AssertExpectations(t)
	})

	t.Run("blob write succeeds after transient failures", func(t *testing.T) {
		c, store, cat := newMockedCoordinator(t)

		cat.On("Insert", mock.Anything, mock.Anything).Return(nil)
		store.On("Put", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
			Return(errors.New("connection reset")).Twice()
		store.On("Put", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
			Return(nil).Once()
		cat.On("UpdateState", mock.Anything, mock.AnythingOfType("string"), entities.StatePending, entities.StateActive).
			Return(nil)

		_, err := c.Upload(ctx, "a.txt", "text/plain", 5, "", strings.NewReader("hello"))
		require.NoError(t, err)
		store.AssertExpectations(t)
	})

	t.Run("failed promotion surfaces commit failure", func(t *testing.T) {
		c, store, cat := newMockedCoordinator(t)

		cat.On("Insert", mock.Anything, mock.Anything).Return(nil)
		store.On("Put", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)
		cat.On("UpdateState", mock.Anything, mock.AnythingOfType("string"), entities.StatePending, entities.StateActive).
			Return(errors.New("catalog unavailable")).Times(3)

		_, err := c.Upload(ctx, "a.txt", "text/plain", 5, "", strings.NewReader("hello"))

		assert.ErrorIs(t, err, entities.ErrMetadataCommitFailed)
		cat.AssertExpectations(t)
	})
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	active := &entities.FileRecord{
		FileID:     "aabb-1",
		StorageKey: "files/aa/aabb-1",
		State:      entities.StateActive,
	}

	t.Run("active record is torn down", func(t *testing.T) {
		c, store, cat := newMockedCoordinator(t)

		cat.On("Get", mock.Anything, "aabb-1").Return(active, nil)
		cat.On("UpdateState", mock.Anything, "aabb-1", entities.StateActive, entities.StateDeleting).Return(nil)
		store.On("Delete", mock.Anything, "files/aa/aabb-1").Return(nil)
		cat.On("UpdateState", mock.Anything, "aabb-1", entities.StateDeleting, entities.StateDeleted).Return(nil)

		require.NoError(t, c.Delete(ctx, "aabb-1"))
		cat.AssertExpectations(t)
		store.AssertExpectations(t)
	})

	t.Run("missing record is not found", func(t *testing.T) {
		c, _, cat := newMockedCoordinator(t)
		cat.On("Get", mock.Anything, "nope").Return(nil, entities.ErrNotFound)
		assert.ErrorIs(t, c.Delete(ctx, "nope"), entities.ErrNotFound)
	})

	t.Run("already deleted record is terminal", func(t *testing.T) {
		c, store, cat := newMockedCoordinator(t)
		gone := &entities.FileRecord{FileID: "aabb-1", StorageKey: "files/aa/aabb-1", State: entities.StateDeleted}
		cat.On("Get", mock.Anything, "aabb-1").Return(gone, nil)

		assert.ErrorIs(t, c.Delete(ctx, "aabb-1"), entities.ErrNotFound)
		store.AssertNotCalled(t, "Delete", mock.Anything, mock.Anything)
	})

	t.Run("lost CAS race reports already deleted", func(t *testing.T) {
		c, store, cat := newMockedCoordinator(t)
		cat.On("Get", mock.Anything, "aabb-1").Return(active, nil)
		cat.On("UpdateState", mock.Anything, "aabb-1", entities.StateActive, entities.StateDeleting).
			Return(entities.ErrStateConflict)

		assert.ErrorIs(t, c.Delete(ctx, "aabb-1"), entities.ErrNotFound)
		store.AssertNotCalled(t, "Delete", mock.Anything, mock.Anything)
	})

	t.Run("blob delete failure leaves record DELETING", func(t *testing.T) {
		c, store, cat := newMockedCoordinator(t)
		cat.On("Get", mock.Anything, "aabb-1").Return(active, nil)
		cat.On("UpdateState", mock.Anything, "aabb-1", entities.StateActive, entities.StateDeleting).Return(nil)
		store.On("Delete", mock.Anything, "files/aa/aabb-1").Return(errors.New("timeout")).Times(3)

		err := c.Delete(ctx, "aabb-1")
		assert.ErrorIs(t, err, entities.ErrStorageDeleteFailed)
		cat.AssertNotCalled(t, "UpdateState", mock.Anything, "aabb-1", entities.StateDeleting, entities.StateDeleted)
	})

	t.Run("absent blob still completes", func(t *testing.T) {
		// The store treats deleting an absent key as success, so a
		// previously interrupted teardown reconciles cleanly.
		c, store, cat := newMockedCoordinator(t)
		cat.On("Get", mock.Anything, "aabb-1").Return(active, nil)
		cat.On("UpdateState", mock.Anything, "aabb-1", entities.StateActive, entities.StateDeleting).Return(nil)
		store.On("Delete", mock.Anything, "files/aa/aabb-1").Return(nil)
		cat.On("UpdateState", mock.Anything, "aabb-1", entities.StateDeleting, entities.StateDeleted).Return(nil)

		require.NoError(t, c.Delete(ctx, "aabb-1"))
	})
}

func TestMetadata(t *testing.T) {
	ctx := context.Background()

	t.Run("active record returned", func(t *testing.T) {
		c, _, cat := newMockedCoordinator(t)
		rec := &entities.FileRecord{FileID: "aabb-1", State: entities.StateActive}
		cat.On("Get", mock.Anything, "aabb-1").Return(rec, nil)

		got, err := c.Metadata(ctx, "aabb-1")
		require.NoError(t, err)
		assert.Equal(t, rec, got)
	})

	for _, state := range []entities.LifecycleState{entities.StatePending, entities.StateDeleting, entities.StateDeleted} {
		t.Run("hidden state "+string(state), func(t *testing.T) {
			c, _, cat := newMockedCoordinator(t)
			cat.On("Get", mock.Anything, "aabb-1").Return(&entities.FileRecord{FileID: "aabb-1", State: state}, nil)

			_, err := c.Metadata(ctx, "aabb-1")
			assert.ErrorIs(t, err, entities.ErrNotFound)
		})
	}
}

func TestListOrphans(t *testing.T) {
	ctx := context.Background()
	c, store, cat := newMockedCoordinator(t)

	store.On("List", mock.Anything, keys.KeyPrefix).
		Return([]string{"files/aa/orphan-2", "files/aa/active-1", "files/bb/orphan-1"}, nil)
	cat.On("ActiveStorageKeys", mock.Anything).
		Return(map[string]bool{"files/aa/active-1": true}, nil)

	orphans, err := c.ListOrphans(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"files/aa/orphan-2", "files/bb/orphan-1"}, orphans)
}

// The integration-flavored tests below run the coordinator against the real
// SQLite catalog and the local filesystem store.

func newIntegratedCoordinator(t *testing.T) (*usecase.Coordinator, *catalog.SQLiteCatalog, *objectstore.LocalStore) {
	t.Helper()
	cat, err := catalog.New(filepath.Join(t.TempDir(), "catalog.db"))
	require.NoError(t, err)
	t.Cleanup(func() { cat.Close() })

	store, err := objectstore.NewLocal(t.TempDir())
	require.NoError(t, err)

	c := usecase.NewCoordinator(newTestValidator(t), keys.NewAllocator(), store, cat, testRetry())
	return c, cat, store
}

func TestUploadDeleteRoundTrip(t *testing.T) {
	ctx := context.Background()
	c, cat, store := newIntegratedCoordinator(t)

	result, err := c.Upload(ctx, "a.txt", "text/plain", 5, "docs", strings.NewReader("hello"))
	require.NoError(t, err)

	rec, err := cat.Get(ctx, result.FileID)
	require.NoError(t, err)
	assert.Equal(t, entities.StateActive, rec.State)
	assert.Equal(t, "docs", rec.Folder)

	exists, err := store.Exists(ctx, result.StorageKey)
	require.NoError(t, err)
	assert.True(t, exists, "an ACTIVE record must have its blob")

	page, err := c.List(ctx, entities.ListFilter{}, "", 10)
	require.NoError(t, err)
	require.Len(t, page.Records, 1)

	require.NoError(t, c.Delete(ctx, result.FileID))

	rec, err = cat.Get(ctx, result.FileID)
	require.NoError(t, err)
	assert.Equal(t, entities.StateDeleted, rec.State)

	exists, err = store.Exists(ctx, result.StorageKey)
	require.NoError(t, err)
	assert.False(t, exists, "a DELETED record must not keep its blob")

	page, err = c.List(ctx, entities.ListFilter{}, "", 10)
	require.NoError(t, err)
	assert.Empty(t, page.Records)

	assert.ErrorIs(t, c.Delete(ctx, result.FileID), entities.ErrNotFound,
		"second delete must be terminal, not an error about a missing blob")

	orphans, err := c.ListOrphans(ctx)
	require.NoError(t, err)
	assert.Empty(t, orphans)
}

func TestConcurrentDeletes(t *testing.T) {
	const workers = 8
	ctx := context.Background()
	c, _, store := newIntegratedCoordinator(t)

	result, err := c.Upload(ctx, "a.txt", "text/plain", 5, "", strings.NewReader("hello"))
	require.NoError(t, err)

	var wg sync.WaitGroup
	results := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = c.Delete(ctx, result.FileID)
		}(i)
	}
	wg.Wait()

	var succeeded, alreadyDeleted int
	for _, err := range results {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, entities.ErrNotFound):
			alreadyDeleted++
		default:
			t.Fatalf("unexpected delete outcome: %v", err)
		}
	}
	assert.Equal(t, 1, succeeded, "exactly one delete wins the CAS")
	assert.Equal(t, workers-1, alreadyDeleted)

	exists, err := store.Exists(ctx, result.StorageKey)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestOrphanVisibleAfterFailedPromotion(t *testing.T) {
	ctx := context.Background()

	cat, err := catalog.New(filepath.Join(t.TempDir(), "catalog.db"))
	require.NoError(t, err)
	t.Cleanup(func() { cat.Close() })

	localStore, err := objectstore.NewLocal(t.TempDir())
	require.NoError(t, err)

	// Catalog wrapper that refuses the PENDING -> ACTIVE promotion.
	failing := &promotionFailingCatalog{SQLiteCatalog: cat}
	c := usecase.NewCoordinator(newTestValidator(t), keys.NewAllocator(), localStore, failing, testRetry())

	_, err = c.Upload(ctx, "a.txt", "text/plain", 5, "", strings.NewReader("hello"))
	require.ErrorIs(t, err, entities.ErrMetadataCommitFailed)
	assert.Equal(t, 3, failing.attempts, "promotion must be retried before giving up")

	page, err := c.List(ctx, entities.ListFilter{}, "", 10)
	require.NoError(t, err)
	assert.Empty(t, page.Records, "the stuck upload must stay invisible to listings")

	orphans, err := c.ListOrphans(ctx)
	require.NoError(t, err)
	require.Len(t, orphans, 1, "the written blob must be sweep-reconcilable")
	assert.True(t, strings.HasPrefix(orphans[0], keys.KeyPrefix))
}

type promotionFailingCatalog struct {
	*catalog.SQLiteCatalog
	attempts int
}

func (p *promotionFailingCatalog) UpdateState(ctx context.Context, fileID string, from, to entities.LifecycleState) error {
	if from == entities.StatePending && to == entities.StateActive {
		p.attempts++
		return errors.New("catalog unavailable")
	}
	return p.SQLiteCatalog.UpdateState(ctx, fileID, from, to)
}

// recordingCatalog remembers the last inserted file ID so tests can inspect
// records whose IDs a failed Upload never returns.
type recordingCatalog struct {
	*catalog.SQLiteCatalog
	lastID string
}

func (r *recordingCatalog) Insert(ctx context.Context, rec *entities.FileRecord) error {
	r.lastID = rec.FileID
	return r.SQLiteCatalog.Insert(ctx, rec)
}

// cancelAfterPutStore writes the blob, then cancels the request context, so
// the promotion that follows runs against a dead context.
type cancelAfterPutStore struct {
	*objectstore.LocalStore
	cancel context.CancelFunc
}

func (s *cancelAfterPutStore) Put(ctx context.Context, key string, body io.ReadSeeker, size int64, contentType string) error {
	if err := s.LocalStore.Put(ctx, key, body, size, contentType); err != nil {
		return err
	}
	s.cancel()
	return nil
}

func TestUploadCancelledAfterBlobWrite(t *testing.T) {
	cat, err := catalog.New(filepath.Join(t.TempDir(), "catalog.db"))
	require.NoError(t, err)
	t.Cleanup(func() { cat.Close() })

	localStore, err := objectstore.NewLocal(t.TempDir())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	store := &cancelAfterPutStore{LocalStore: localStore, cancel: cancel}
	recording := &recordingCatalog{SQLiteCatalog: cat}
	c := usecase.NewCoordinator(newTestValidator(t), keys.NewAllocator(), store, recording, testRetry())

	_, err = c.Upload(ctx, "a.txt", "text/plain", 5, "", strings.NewReader("hello"))
	require.ErrorIs(t, err, entities.ErrMetadataCommitFailed,
		"a cancellation between blob write and promotion is a commit failure")

	// The record never reached ACTIVE, so it stays out of listings while
	// the written blob surfaces in the orphan listing.
	rec, err := cat.Get(context.Background(), recording.lastID)
	require.NoError(t, err)
	assert.Equal(t, entities.StatePending, rec.State)

	page, err := c.List(context.Background(), entities.ListFilter{}, "", 10)
	require.NoError(t, err)
	assert.Empty(t, page.Records)

	orphans, err := c.ListOrphans(context.Background())
	require.NoError(t, err)
	require.Len(t, orphans, 1)
	assert.Equal(t, rec.StorageKey, orphans[0])
}

// cancelingFailingStore cancels the request context and fails the write,
// mimicking a client that disconnects mid-upload.
type cancelingFailingStore struct {
	*objectstore.LocalStore
	cancel context.CancelFunc
}

func (s *cancelingFailingStore) Put(ctx context.Context, key string, body io.ReadSeeker, size int64, contentType string) error {
	s.cancel()
	return errors.New("connection reset")
}

func TestTombstoneSurvivesRequestCancellation(t *testing.T) {
	cat, err := catalog.New(filepath.Join(t.TempDir(), "catalog.db"))
	require.NoError(t, err)
	t.Cleanup(func() { cat.Close() })

	localStore, err := objectstore.NewLocal(t.TempDir())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	store := &cancelingFailingStore{LocalStore: localStore, cancel: cancel}
	recording := &recordingCatalog{SQLiteCatalog: cat}
	c := usecase.NewCoordinator(newTestValidator(t), keys.NewAllocator(), store, recording, testRetry())

	_, err = c.Upload(ctx, "a.txt", "text/plain", 5, "", strings.NewReader("hello"))
	require.ErrorIs(t, err, entities.ErrStorageWriteFailed)

	// The tombstone runs detached from the dead request context, so the
	// record lands in DELETED instead of being stranded in PENDING.
	rec, err := cat.Get(context.Background(), recording.lastID)
	require.NoError(t, err)
	assert.Equal(t, entities.StateDeleted, rec.State)
}
