package storage

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/natefinch/atomic"
)

func bytesReader(data []byte) io.Reader {
	return bytes.NewReader(data)
}

// LocalFileStorage is an Engine implementation that stores object payloads
// on the local filesystem under the content-addressed-by-id layout
// described by PathResolver.
type LocalFileStorage struct {
	paths *PathResolver
}

// NewLocalFileStorage creates a LocalFileStorage rooted at dataDir.
func NewLocalFileStorage(dataDir string) *LocalFileStorage {
	return &LocalFileStorage{paths: NewPathResolver(dataDir)}
}

// Paths exposes the underlying resolver, e.g. for the metadata store to
// share the same root.
func (s *LocalFileStorage) Paths() *PathResolver {
	return s.paths
}

func (s *LocalFileStorage) PutPayload(bucket, id string, data []byte) error {
	path := s.paths.ContentPath(bucket, id)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create content dir: %w", err)
	}
	// atomic.WriteFile writes to a temp sibling, fsyncs, and renames into
	// place, matching the commit-order requirement for payload writes.
	if err := atomic.WriteFile(path, bytesReader(data)); err != nil {
		return fmt.Errorf("write payload: %w", err)
	}
	return nil
}

func (s *LocalFileStorage) GetPayload(bucket, id string) ([]byte, error) {
	path := s.paths.ContentPath(bucket, id)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read payload: %w", err)
	}
	return data, nil
}

func (s *LocalFileStorage) DeletePayload(bucket, id string) error {
	path := s.paths.ContentPath(bucket, id)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove payload: %w", err)
	}
	return nil
}

func (s *LocalFileStorage) DeleteBucket(bucket string) error {
	if err := os.RemoveAll(s.paths.BucketDir(bucket)); err != nil {
		return fmt.Errorf("remove bucket dir: %w", err)
	}
	return nil
}
