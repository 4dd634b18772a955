package entities

import (
	"time"
)

// LifecycleState tracks where a file record sits between the catalog and the
// object store. Only ACTIVE records are listable and downloadable.
type LifecycleState string

const (
	// StatePending is set before the blob write; the blob may not exist yet.
	StatePending LifecycleState = "PENDING"
	// StateActive means the blob is confirmed present under StorageKey.
	StateActive LifecycleState = "ACTIVE"
	// StateDeleting is set before the blob delete; hides the record immediately.
	StateDeleting LifecycleState = "DELETING"
	// StateDeleted is terminal; the blob is gone and the record is never reused.
	StateDeleted LifecycleState = "DELETED"
)

// Valid reports whether s is one of the four known states.
func (s LifecycleState) Valid() bool {
	switch s {
	case StatePending, StateActive, StateDeleting, StateDeleted:
		return true
	}
	return false
}

// Transient reports whether s is an in-flight state that a retry or sweep
// must eventually resolve.
func (s LifecycleState) Transient() bool {
	return s == StatePending || s == StateDeleting
}

// FileRecord is the catalog's system-of-record entry for one stored file.
// FileID and StorageKey are immutable once assigned; a new upload always
// gets a fresh FileID, records are never resurrected.
type FileRecord struct {
	FileID       string         `json:"file_id"`
	StorageKey   string         `json:"storage_key"`
	OriginalName string         `json:"original_name"`
	ContentType  string         `json:"content_type"`
	SizeBytes    int64          `json:"size_bytes"`
	Checksum     string         `json:"checksum"`
	Folder       string         `json:"folder,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	State        LifecycleState `json:"lifecycle_state"`
}

// ListFilter narrows a catalog listing. Zero values mean "no constraint".
// Listing only ever returns ACTIVE records regardless of filter.
type ListFilter struct {
	ContentType   string
	NameContains  string
	Folder        string
	CreatedAfter  *time.Time
	CreatedBefore *time.Time
}

// ListPage is one page of a catalog listing, ordered by CreatedAt descending.
// NextCursor is opaque; empty means the listing is exhausted.
type ListPage struct {
	Records    []*FileRecord `json:"files"`
	NextCursor string        `json:"next_cursor,omitempty"`
}

// UploadResult is what the upload path hands back once a record is ACTIVE.
type UploadResult struct {
	FileID      string    `json:"file_id"`
	Name        string    `json:"filename"`
	SizeBytes   int64     `json:"size_bytes"`
	ContentType string    `json:"content_type"`
	Checksum    string    `json:"checksum"`
	StorageKey  string    `json:"storage_key"`
	URL         string    `json:"url"`
	UploadedAt  time.Time `json:"uploaded_at"`
}
