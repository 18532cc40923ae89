// Package index maintains the in-memory bucket→key→object-id and
// bucket→etag→[object-id] mappings, updated atomically alongside every
// committed metadata write.
package index

import (
	"fmt"
	"strings"
	"sync"

	"github.com/google/btree"
)

const btreeDegree = 32

// keyItem orders current-version entries by key inside the per-bucket
// btree; only Key participates in ordering so a lookup item with an empty
// ID still locates the stored entry.
type keyItem struct {
	Key string
	ID  string
}

func (a keyItem) Less(than btree.Item) bool {
	return a.Key < than.(keyItem).Key
}

// bucketState holds every index structure scoped to one bucket.
type bucketState struct {
	mu sync.RWMutex

	current *btree.BTree // keyItem, current (key -> id) mapping only

	versions map[string][]string // key -> ids, oldest first, full retained history
	sizes    map[string]int64    // id -> logical size, for every installed version until removed

	byEtag        map[string][]string // caller-visible etag -> ids, insertion order
	byContentEtag map[string][]string // content-computed etag -> ids, insertion order

	objectCount int64
	totalSize   int64
}

func newBucketState() *bucketState {
	return &bucketState{
		current:       btree.New(btreeDegree),
		versions:      make(map[string][]string),
		sizes:         make(map[string]int64),
		byEtag:        make(map[string][]string),
		byContentEtag: make(map[string][]string),
	}
}

// Index is the process-wide in-memory index, sharded per bucket.
type Index struct {
	registryMu sync.RWMutex
	buckets    map[string]*bucketState
}

// New creates an empty index.
func New() *Index {
	return &Index{buckets: make(map[string]*bucketState)}
}

// CreateBucket initializes empty shards for a newly created bucket. It is
// a no-op if shards already exist.
func (ix *Index) CreateBucket(name string) {
	ix.registryMu.Lock()
	defer ix.registryMu.Unlock()
	if _, ok := ix.buckets[name]; !ok {
		ix.buckets[name] = newBucketState()
	}
}

// DropBucket discards a bucket's shards entirely.
func (ix *Index) DropBucket(name string) {
	ix.registryMu.Lock()
	defer ix.registryMu.Unlock()
	delete(ix.buckets, name)
}

func (ix *Index) bucket(name string) (*bucketState, bool) {
	ix.registryMu.RLock()
	defer ix.registryMu.RUnlock()
	b, ok := ix.buckets[name]
	return b, ok
}

// PutResult reports what Put found occupying the key before the write.
type PutResult struct {
	PreviousID  string
	HadPrevious bool
}

// Put installs id as the current version for (bucket,key), recording it in
// the key's version history and both etag maps, and adjusting the
// bucket's live object_count/total_size. If the key already had a current
// version, that id is retained in history but no longer counted live.
func (ix *Index) Put(bucket, key, id, etag, contentEtag string, size int64) (PutResult, error) {
	b, ok := ix.bucket(bucket)
	if !ok {
		return PutResult{}, fmt.Errorf("index: unknown bucket %q", bucket)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	var result PutResult
	if prev := b.current.Get(keyItem{Key: key}); prev != nil {
		result.PreviousID = prev.(keyItem).ID
		result.HadPrevious = true
	}

	b.current.ReplaceOrInsert(keyItem{Key: key, ID: id})
	b.versions[key] = append(b.versions[key], id)
	b.byEtag[etag] = append(b.byEtag[etag], id)
	b.byContentEtag[contentEtag] = append(b.byContentEtag[contentEtag], id)
	b.sizes[id] = size

	if result.HadPrevious {
		b.totalSize += size - b.sizes[result.PreviousID]
	} else {
		b.totalSize += size
		b.objectCount++
	}

	return result, nil
}

// Remove drops the current mapping for (bucket,key), provided id is still
// the current version, and removes id from all history/etag structures.
func (ix *Index) Remove(bucket, key, id, etag, contentEtag string) error {
	b, ok := ix.bucket(bucket)
	if !ok {
		return fmt.Errorf("index: unknown bucket %q", bucket)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	cur := b.current.Get(keyItem{Key: key})
	if cur == nil || cur.(keyItem).ID != id {
		return fmt.Errorf("index: %q is not the current version of %q", id, key)
	}

	b.current.Delete(keyItem{Key: key})
	b.versions[key] = removeString(b.versions[key], id)
	if len(b.versions[key]) == 0 {
		delete(b.versions, key)
	}
	b.byEtag[etag] = removeString(b.byEtag[etag], id)
	if len(b.byEtag[etag]) == 0 {
		delete(b.byEtag, etag)
	}
	b.byContentEtag[contentEtag] = removeString(b.byContentEtag[contentEtag], id)
	if len(b.byContentEtag[contentEtag]) == 0 {
		delete(b.byContentEtag, contentEtag)
	}

	b.totalSize -= b.sizes[id]
	b.objectCount--
	delete(b.sizes, id)

	return nil
}

// Lookup resolves the current object id for (bucket,key).
func (ix *Index) Lookup(bucket, key string) (string, bool) {
	b, ok := ix.bucket(bucket)
	if !ok {
		return "", false
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	item := b.current.Get(keyItem{Key: key})
	if item == nil {
		return "", false
	}
	return item.(keyItem).ID, true
}

// DedupCandidates returns the ids of every object, current or historical,
// whose content-computed etag matches, in insertion order. The dedup
// coordinator's holder election does not depend on this order.
func (ix *Index) DedupCandidates(bucket, contentEtag string) []string {
	b, ok := ix.bucket(bucket)
	if !ok {
		return nil
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]string(nil), b.byContentEtag[contentEtag]...)
}

// EditEtag moves id from the old caller-visible etag bucket to the new one.
// The content-etag map is never touched here: dedup candidacy must survive
// a metadata edit unchanged.
func (ix *Index) EditEtag(bucket, id, oldEtag, newEtag string) error {
	b, ok := ix.bucket(bucket)
	if !ok {
		return fmt.Errorf("index: unknown bucket %q", bucket)
	}
	if oldEtag == newEtag {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	b.byEtag[oldEtag] = removeString(b.byEtag[oldEtag], id)
	if len(b.byEtag[oldEtag]) == 0 {
		delete(b.byEtag, oldEtag)
	}
	b.byEtag[newEtag] = append(b.byEtag[newEtag], id)
	return nil
}

// Versions returns every retained version id for (bucket,key), newest
// first.
func (ix *Index) Versions(bucket, key string) []string {
	b, ok := ix.bucket(bucket)
	if !ok {
		return nil
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	src := b.versions[key]
	out := make([]string, len(src))
	for i, id := range src {
		out[len(src)-1-i] = id
	}
	return out
}

// Stat reports the bucket's live object_count/total_size.
func (ix *Index) Stat(bucket string) (objectCount, totalSize int64, ok bool) {
	b, exists := ix.bucket(bucket)
	if !exists {
		return 0, 0, false
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.objectCount, b.totalSize, true
}

// Entry is one row of a List result.
type Entry struct {
	Key string
	ID  string
}

// ListResult is the paginated output of List.
type ListResult struct {
	Entries        []Entry
	CommonPrefixes []string
	NextMarker     string
	Truncated      bool
}

// List paginates lexicographically over current keys, honoring prefix
// match and optional delimiter-based common-prefix grouping, returning up
// to max entries (keys plus common prefixes combined) strictly after
// marker.
func (ix *Index) List(bucket, prefix, delimiter, marker string, max int) (ListResult, error) {
	b, ok := ix.bucket(bucket)
	if !ok {
		return ListResult{}, fmt.Errorf("index: unknown bucket %q", bucket)
	}
	if max <= 0 {
		max = 1000
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	var (
		result       ListResult
		seenPrefixes = make(map[string]struct{})
		count        int
		resumeMarker string
	)

	b.current.AscendGreaterOrEqual(keyItem{Key: marker}, func(it btree.Item) bool {
		ki := it.(keyItem)
		key := ki.Key

		if key == marker {
			return true // exclusive marker: skip the boundary itself
		}
		if prefix != "" && !strings.HasPrefix(key, prefix) {
			if key > prefix {
				return false // ascending order means we're past every possible prefix match
			}
			return true // haven't reached the prefix range yet
		}

		if delimiter != "" {
			rel := strings.TrimPrefix(key, prefix)
			if idx := strings.Index(rel, delimiter); idx != -1 {
				cp := prefix + rel[:idx+1]
				if _, dup := seenPrefixes[cp]; dup {
					return true
				}
				if count >= max {
					result.Truncated = true
					return false
				}
				seenPrefixes[cp] = struct{}{}
				result.CommonPrefixes = append(result.CommonPrefixes, cp)
				count++
				// Every key sharing this common prefix sorts strictly
				// between cp and cp+"\xff", so resuming there skips the
				// whole group in one jump instead of re-scanning it.
				resumeMarker = cp + "\xff"
				return true
			}
		}

		if count >= max {
			result.Truncated = true
			return false
		}
		result.Entries = append(result.Entries, Entry{Key: key, ID: ki.ID})
		count++
		resumeMarker = key
		return true
	})

	if result.Truncated {
		result.NextMarker = resumeMarker
	}

	return result, nil
}

func removeString(s []string, target string) []string {
	out := s[:0:0]
	for _, v := range s {
		if v != target {
			out = append(out, v)
		}
	}
	return out
}

