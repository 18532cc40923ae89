// Package engine orchestrates the object and bucket operations external
// callers reach, wiring together the path resolver, content digest,
// metadata store, in-memory index, and dedup coordinator components, and
// enforcing the lock hierarchy that keeps them consistent under
// concurrent access.
package engine

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"sevino/internal/dedup"
	"sevino/internal/index"
	"sevino/pkg/metadata"
	"sevino/pkg/storage"
)

// Config controls the limits the engine enforces. It has no defaults of
// its own; the caller (internal/core) resolves defaults from environment.
type Config struct {
	DataDir     string
	MaxFileSize int64
}

// Engine is the process-wide storage engine: the single value from which
// both the object and bucket operations are derived. It holds no
// process-wide statics; every test instantiates its own against a temp
// directory.
type Engine struct {
	cfg Config

	paths    *storage.PathResolver
	payloads storage.Engine
	store    *metadata.Store
	index    *index.Index
	dedup    *dedup.Coordinator

	registryMu sync.RWMutex        // lock level 1: the set of known buckets
	buckets    map[string]struct{} // guarded by registryMu

	keyLocks    keyLock // lock level 2: per-(bucket,key) lock
	objectLocks keyLock // lock level 3: per-object-id (holder) metadata lock
}

// New constructs an Engine rooted at cfg.DataDir and rebuilds its
// in-memory index from whatever metadata already exists on disk.
func New(cfg Config) (*Engine, error) {
	paths := storage.NewPathResolver(cfg.DataDir)
	e := &Engine{
		cfg:      cfg,
		paths:    paths,
		payloads: storage.NewLocalFileStorage(cfg.DataDir),
		store:    metadata.NewStore(paths),
		index:    index.New(),
		buckets:  make(map[string]struct{}),
	}
	e.dedup = dedup.New(e.store)

	if err := e.rebuild(); err != nil {
		return nil, fmt.Errorf("engine: rebuild from %q: %w", cfg.DataDir, err)
	}
	return e, nil
}

// rebuild replays every bucket's persisted metadata into the in-memory
// index, recovering from a crash between the metadata commit step and the
// index update step (§4.8).
func (e *Engine) rebuild() error {
	buckets, err := e.store.ScanBuckets()
	if err != nil {
		return err
	}

	for _, b := range buckets {
		e.buckets[b.Name] = struct{}{}
		e.index.CreateBucket(b.Name)

		objs, err := e.store.ScanBucket(b.Name)
		if err != nil {
			return fmt.Errorf("scan bucket %q: %w", b.Name, err)
		}

		byKey := make(map[string][]*metadata.Object)
		for _, o := range objs {
			byKey[o.Key] = append(byKey[o.Key], o)
		}

		for key, versions := range byKey {
			sort.Slice(versions, func(i, j int) bool {
				vi, _ := strconv.Atoi(versions[i].VersionID)
				vj, _ := strconv.Atoi(versions[j].VersionID)
				if vi != vj {
					return vi < vj
				}
				return versions[i].CreatedAt.Before(versions[j].CreatedAt)
			})
			for _, v := range versions {
				if _, err := e.index.Put(b.Name, key, v.ID, v.ETag, v.ContentETag, v.Size); err != nil {
					return fmt.Errorf("replay %q/%q: %w", b.Name, key, err)
				}
			}
		}
	}
	return nil
}

func (e *Engine) bucketExists(name string) bool {
	e.registryMu.RLock()
	defer e.registryMu.RUnlock()
	_, ok := e.buckets[name]
	return ok
}

func deriveObjectID(bucket, key string, version int) string {
	return fmt.Sprintf("%s/%s@%d", bucket, key, version)
}

// derivePartKey builds the stable, collision-free key multipart_put stores
// a part under: the original key, the zero-padded part number, and the
// upload id, so concurrent uploads to the same key never collide.
func derivePartKey(key string, partNumber int, uploadID string) string {
	return fmt.Sprintf("%s.part-%05d.%s", key, partNumber, uploadID)
}

const maxKeyLength = 1024

func validateKey(key string) error {
	if key == "" {
		return fmt.Errorf("key must not be empty")
	}
	if len(key) > maxKeyLength {
		return fmt.Errorf("key exceeds %d bytes", maxKeyLength)
	}
	for i := 0; i < len(key); i++ {
		if key[i] < 0x20 || key[i] == 0x7f {
			return fmt.Errorf("key contains a control character")
		}
	}
	return nil
}

func validateUserMetadata(m map[string]string) error {
	for k, v := range m {
		if k == "" {
			return fmt.Errorf("user_metadata key must not be empty")
		}
		if strings.ContainsAny(k, "\x00\r\n") || strings.ContainsAny(v, "\x00\r\n") {
			return fmt.Errorf("user_metadata must not contain control characters")
		}
	}
	return nil
}

func nowUTC() time.Time {
	return time.Now().UTC()
}

// keyLock is a growable registry of per-key mutexes. Engine keeps one
// instance keyed by (bucket,key) (lock level 2) and one keyed by holder
// object id (lock level 3). Entries are never evicted, so the registry only
// grows; that is an accepted tradeoff for a process with a bounded,
// test-scale object population.
type keyLock struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (k *keyLock) lock(id string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*sync.Mutex)
	}
	m, ok := k.locks[id]
	if !ok {
		m = &sync.Mutex{}
		k.locks[id] = m
	}
	k.mu.Unlock()

	m.Lock()
	return m.Unlock
}
