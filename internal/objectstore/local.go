package objectstore

import (
	"context"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/zots0127/filegate/internal/domain/entities"
)

// LocalStore keeps blobs on the local filesystem, mapping storage keys to
// paths under a base directory. It backs development and test setups; the
// S3 store is the production backend.
type LocalStore struct {
	basePath string
}

func NewLocal(basePath string) (*LocalStore, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, err
	}
	return &LocalStore{basePath: basePath}, nil
}

// Put spools to a temp file and renames into place so a failed write never
// leaves a partial blob under the key.
func (s *LocalStore) Put(ctx context.Context, key string, body io.ReadSeeker, size int64, contentType string) error {
	tempFile, err := os.CreateTemp(s.basePath, "upload-*")
	if err != nil {
		return err
	}
	defer os.Remove(tempFile.Name())

	if _, err := io.Copy(tempFile, body); err != nil {
		tempFile.Close()
		return err
	}
	if err := tempFile.Close(); err != nil {
		return err
	}

	targetPath := s.keyPath(key)
	if err := os.MkdirAll(filepath.Dir(targetPath), 0755); err != nil {
		return err
	}
	return os.Rename(tempFile.Name(), targetPath)
}

func (s *LocalStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	f, err := os.Open(s.keyPath(key))
	if os.IsNotExist(err) {
		return nil, entities.ErrNotFound
	}
	return f, err
}

func (s *LocalStore) Delete(ctx context.Context, key string) error {
	if err := os.Remove(s.keyPath(key)); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (s *LocalStore) Exists(ctx context.Context, key string) (bool, error) {
	_, err := os.Stat(s.keyPath(key))
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *LocalStore) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	err := filepath.WalkDir(s.basePath, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		rel, err := filepath.Rel(s.basePath, path)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return keys, nil
}

func (s *LocalStore) keyPath(key string) string {
	return filepath.Join(s.basePath, filepath.FromSlash(key))
}
