package keys

import (
	"fmt"

	"github.com/google/uuid"
)

// KeyPrefix is the namespace every storage key lives under. Sweeps list the
// object store by this prefix.
const KeyPrefix = "files/"

// Allocator mints file IDs and derives their storage keys. IDs are random
// UUIDv4, so concurrent callers need no coordination and collisions are
// cryptographically negligible. The original filename never participates in
// key construction; attacker-controlled names cannot steer the key.
type Allocator struct{}

func NewAllocator() *Allocator {
	return &Allocator{}
}

// Allocate returns a fresh file ID and its storage key.
func (a *Allocator) Allocate() (fileID, storageKey string) {
	fileID = uuid.NewString()
	return fileID, StorageKey(fileID)
}

// StorageKey derives the object-store key for a file ID. The two-character
// fan-out keeps any single listing prefix from growing unbounded.
func StorageKey(fileID string) string {
	return fmt.Sprintf("%s%s/%s", KeyPrefix, fileID[:2], fileID)
}
