package metadata

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/natefinch/atomic"

	"sevino/pkg/storage"
)

// Store reads and writes the JSON records described by the data model,
// using PathResolver to locate each record and natefinch/atomic to commit
// writes: temp sibling, flush, rename into place.
type Store struct {
	paths *storage.PathResolver
}

// NewStore creates a metadata store rooted at the same data directory as
// the payload storage engine.
func NewStore(paths *storage.PathResolver) *Store {
	return &Store{paths: paths}
}

func writeJSONAtomic(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create metadata dir: %w", err)
	}
	buf, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	if err := atomic.WriteFile(path, bytes.NewReader(buf)); err != nil {
		return fmt.Errorf("commit metadata file: %w", err)
	}
	return nil
}

// SaveBucket persists a bucket record atomically.
func (s *Store) SaveBucket(b *Bucket) error {
	return writeJSONAtomic(s.paths.BucketMetaPath(b.Name), b)
}

// LoadBucket reads a bucket record. ok is false if no record exists.
func (s *Store) LoadBucket(name string) (*Bucket, bool, error) {
	data, err := os.ReadFile(s.paths.BucketMetaPath(name))
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read bucket metadata: %w", err)
	}
	var b Bucket
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, false, fmt.Errorf("decode bucket metadata: %w", err)
	}
	return &b, true, nil
}

// DeleteBucketRecord removes a bucket's own metadata record. It does not
// touch the bucket's object records or content tree.
func (s *Store) DeleteBucketRecord(name string) error {
	err := os.Remove(s.paths.BucketMetaPath(name))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove bucket metadata: %w", err)
	}
	return nil
}

// SaveObject persists an object version record atomically.
func (s *Store) SaveObject(o *Object) error {
	return writeJSONAtomic(s.paths.ObjectMetaPath(o.BucketName, o.ID), o)
}

// LoadObject reads an object version record by its globally unique id.
func (s *Store) LoadObject(bucket, id string) (*Object, bool, error) {
	data, err := os.ReadFile(s.paths.ObjectMetaPath(bucket, id))
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read object metadata: %w", err)
	}
	var o Object
	if err := json.Unmarshal(data, &o); err != nil {
		return nil, false, fmt.Errorf("decode object metadata: %w", err)
	}
	return &o, true, nil
}

// DeleteObject removes an object version record.
func (s *Store) DeleteObject(bucket, id string) error {
	err := os.Remove(s.paths.ObjectMetaPath(bucket, id))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove object metadata: %w", err)
	}
	return nil
}

// ScanBucket walks a bucket's objects directory and returns every record
// found, for use by the startup rebuild (feeds the in-memory index).
func (s *Store) ScanBucket(bucket string) ([]*Object, error) {
	dir := s.paths.ObjectsDir(bucket)
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan objects dir: %w", err)
	}

	var out []*Object
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", entry.Name(), err)
		}
		var o Object
		if err := json.Unmarshal(data, &o); err != nil {
			return nil, fmt.Errorf("decode %s: %w", entry.Name(), err)
		}
		out = append(out, &o)
	}
	return out, nil
}

// ScanBuckets lists every bucket directory under the data root that has a
// bucket metadata record, for full-process startup rebuild.
func (s *Store) ScanBuckets() ([]*Bucket, error) {
	entries, err := os.ReadDir(s.paths.Root())
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan data root: %w", err)
	}

	var out []*Bucket
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		b, ok, err := s.LoadBucket(entry.Name())
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, b)
		}
	}
	return out, nil
}
