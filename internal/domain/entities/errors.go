package entities

import "errors"

// Client input errors. Surfaced immediately, never retried.
var (
	ErrInvalidExtension   = errors.New("file extension not allowed")
	ErrInvalidContentType = errors.New("content type not allowed")
	ErrFileTooLarge       = errors.New("file exceeds maximum size")
	ErrInvalidCursor      = errors.New("invalid pagination cursor")
)

// I/O errors against the object store. Retried with bounded backoff before
// being surfaced.
var (
	ErrStorageWriteFailed  = errors.New("object store write failed")
	ErrStorageDeleteFailed = errors.New("object store delete failed")
)

// Consistency errors against the catalog.
var (
	// ErrMetadataCommitFailed means the blob exists but the record could not
	// be promoted; the key is reconcilable via the orphan sweep.
	ErrMetadataCommitFailed = errors.New("metadata commit failed")
	// ErrStateConflict is a CAS miss: the record's current state was not the
	// expected one. Resolved by re-reading, not by blind retry.
	ErrStateConflict = errors.New("lifecycle state conflict")
)

// ErrNotFound is terminal: the record is absent, deleted, or not ACTIVE.
var ErrNotFound = errors.New("file not found")
