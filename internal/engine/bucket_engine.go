package engine

import (
	"fmt"
	"regexp"
	"sort"

	"github.com/google/uuid"

	"sevino/pkg/metadata"
)

var bucketNameRE = regexp.MustCompile(`^[a-z0-9_-]{3,63}$`)

func validateBucketName(name string) error {
	if !bucketNameRE.MatchString(name) {
		return fmt.Errorf("bucket name %q must be 3-63 chars of lowercase letters, digits, '-', '_'", name)
	}
	return nil
}

// CreateBucket validates name, persists its metadata record, and
// initializes empty index shards.
func (e *Engine) CreateBucket(name string) (*metadata.Bucket, error) {
	if err := validateBucketName(name); err != nil {
		return nil, wrapErr(KindInvalidKey, err.Error(), err)
	}

	e.registryMu.Lock()
	defer e.registryMu.Unlock()

	if _, ok := e.buckets[name]; ok {
		return nil, newErr(KindBucketExists, fmt.Sprintf("bucket %q already exists", name))
	}

	b := &metadata.Bucket{ID: uuid.NewString(), Name: name, CreatedAt: nowUTC()}
	if err := e.store.SaveBucket(b); err != nil {
		return nil, wrapErr(KindIoError, "save bucket metadata", err)
	}

	e.buckets[name] = struct{}{}
	e.index.CreateBucket(name)

	return e.statLocked(b)
}

// DeleteBucket cascades: every live object is deleted following §4.5
// delete rules, then the bucket's own metadata and content tree are
// removed. Because dedup candidates are always scoped to a single
// bucket, every holder's references live in the same bucket, so the
// two-pass cascade below is always able to complete: references first
// (freeing their holders), then the now-free former holders.
func (e *Engine) DeleteBucket(name string) error {
	e.registryMu.Lock()
	defer e.registryMu.Unlock()

	if _, ok := e.buckets[name]; !ok {
		return newErr(KindBucketNotFound, fmt.Sprintf("bucket %q not found", name))
	}

	if err := e.cascadeDeleteObjects(name); err != nil {
		return err
	}

	if err := e.payloads.DeleteBucket(name); err != nil {
		return wrapErr(KindIoError, "remove bucket content tree", err)
	}
	if err := e.store.DeleteBucketRecord(name); err != nil {
		return wrapErr(KindIoError, "remove bucket metadata", err)
	}

	e.index.DropBucket(name)
	delete(e.buckets, name)
	return nil
}

func (e *Engine) cascadeDeleteObjects(bucket string) error {
	for pass := 0; pass < 2; pass++ {
		keys, err := e.liveKeys(bucket)
		if err != nil {
			return err
		}
		if len(keys) == 0 {
			return nil
		}
		progressed := false
		for _, key := range keys {
			if err := e.Delete(bucket, key); err != nil {
				if ferr, ok := err.(*Error); ok && ferr.Kind == KindHolderHasReferences {
					continue // retry on the next pass, once its references are gone
				}
				return err
			}
			progressed = true
		}
		if !progressed {
			break
		}
	}

	remaining, err := e.liveKeys(bucket)
	if err != nil {
		return err
	}
	if len(remaining) > 0 {
		return newErr(KindHolderHasReferences, fmt.Sprintf("bucket %q still has %d objects held by cross-bucket references", bucket, len(remaining)))
	}
	return nil
}

func (e *Engine) liveKeys(bucket string) ([]string, error) {
	var keys []string
	marker := ""
	for {
		page, err := e.index.List(bucket, "", "", marker, 1000)
		if err != nil {
			return nil, wrapErr(KindIoError, "list bucket keys", err)
		}
		for _, entry := range page.Entries {
			keys = append(keys, entry.Key)
		}
		if !page.Truncated {
			break
		}
		marker = page.NextMarker
	}
	return keys, nil
}

// GetBucket returns a bucket's summary, merging its immutable persisted
// record with the index's live object_count/total_size.
func (e *Engine) GetBucket(name string) (*metadata.Bucket, error) {
	e.registryMu.RLock()
	defer e.registryMu.RUnlock()

	if _, ok := e.buckets[name]; !ok {
		return nil, newErr(KindBucketNotFound, fmt.Sprintf("bucket %q not found", name))
	}
	b, ok, err := e.store.LoadBucket(name)
	if err != nil {
		return nil, wrapErr(KindIoError, "load bucket metadata", err)
	}
	if !ok {
		return nil, wrapErr(KindCorruptMetadata, fmt.Sprintf("registry has %q but no metadata record", name), nil)
	}
	return e.statLocked(b)
}

func (e *Engine) statLocked(b *metadata.Bucket) (*metadata.Bucket, error) {
	count, size, ok := e.index.Stat(b.Name)
	if ok {
		b.ObjectCount = count
		b.TotalSize = size
	}
	return b, nil
}

// ListBuckets returns every bucket's summary, sorted by name.
func (e *Engine) ListBuckets() ([]*metadata.Bucket, error) {
	e.registryMu.RLock()
	names := make([]string, 0, len(e.buckets))
	for name := range e.buckets {
		names = append(names, name)
	}
	e.registryMu.RUnlock()
	sort.Strings(names)

	out := make([]*metadata.Bucket, 0, len(names))
	for _, name := range names {
		b, err := e.GetBucket(name)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, nil
}
