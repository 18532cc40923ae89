package engine

import (
	"errors"
	"fmt"
	"path"
	"strconv"

	"github.com/dustin/go-humanize"

	"sevino/internal/dedup"
	"sevino/pkg/digest"
	"sevino/pkg/metadata"
)

// Put stores a new version of (bucket,key). Re-uploading to an existing
// key creates a new version and advances the live pointer; the previous
// version's metadata is retained and addressable via ListVersions.
func (e *Engine) Put(bucket, key string, data []byte, contentType string, userMeta map[string]string, mode dedup.Mode) (*metadata.Object, error) {
	if !e.bucketExists(bucket) {
		return nil, newErr(KindBucketNotFound, fmt.Sprintf("bucket %q not found", bucket))
	}
	if err := validateKey(key); err != nil {
		return nil, wrapErr(KindInvalidKey, err.Error(), err)
	}
	if err := validateUserMetadata(userMeta); err != nil {
		return nil, wrapErr(KindInvalidCustomMetadata, err.Error(), err)
	}
	if e.cfg.MaxFileSize > 0 && int64(len(data)) > e.cfg.MaxFileSize {
		return nil, newErr(KindPayloadTooLarge, fmt.Sprintf(
			"payload of %s exceeds the configured limit of %s",
			humanize.Bytes(uint64(len(data))), humanize.Bytes(uint64(e.cfg.MaxFileSize))))
	}

	unlock := e.keyLocks.lock(bucket + "\x00" + key)
	defer unlock()

	contentEtag := digest.Compute(data)
	candidates := e.index.DedupCandidates(bucket, contentEtag)
	decision, err := e.dedup.Resolve(bucket, mode, candidates)
	if err != nil {
		if errors.Is(err, dedup.ErrDuplicateContent) {
			return nil, newErr(KindDuplicateContent, fmt.Sprintf("an object with etag %s already exists", contentEtag))
		}
		return nil, wrapErr(KindIoError, "resolve deduplication", err)
	}

	nextVersion := len(e.index.Versions(bucket, key)) + 1
	id := deriveObjectID(bucket, key, nextVersion)
	now := nowUTC()

	record := &metadata.Object{
		ID:           id,
		Key:          key,
		BucketName:   bucket,
		Size:         int64(len(data)),
		ETag:         contentEtag,
		ContentETag:  contentEtag,
		ContentType:  contentType,
		CreatedAt:    now,
		LastModified: now,
		UserMetadata: userMeta,
		VersionID:    strconv.Itoa(nextVersion),
	}

	if decision.Reference {
		record.DataHolderID = decision.HolderID
		record.ReferenceCount = 0
		if _, err := e.attachReference(bucket, decision.HolderID); err != nil {
			return nil, wrapErr(KindIoError, "attach reference to holder", err)
		}
	} else {
		record.DataHolderID = "self"
		record.ReferenceCount = 0
		if err := e.payloads.PutPayload(bucket, id, data); err != nil {
			return nil, wrapErr(KindIoError, "write payload", err)
		}
	}

	if err := e.store.SaveObject(record); err != nil {
		return nil, wrapErr(KindIoError, "save object metadata", err)
	}

	if _, err := e.index.Put(bucket, key, id, record.ETag, record.ContentETag, record.Size); err != nil {
		return nil, wrapErr(KindIoError, "update index", err)
	}

	return record.Clone(), nil
}

// PutMetadataEdit describes the fields a metadata edit may change. A nil
// field means "leave unchanged".
type PutMetadataEdit struct {
	ContentType  *string
	UserMetadata map[string]string
	CustomETag   *string
}

// PutMetadata edits an existing object's content type, user metadata,
// and/or caller-visible etag. Holder state and size never change.
func (e *Engine) PutMetadata(bucket, key string, edit PutMetadataEdit) (*metadata.Object, error) {
	id, ok := e.index.Lookup(bucket, key)
	if !ok {
		return nil, newErr(KindNotFound, fmt.Sprintf("%s/%s not found", bucket, key))
	}

	unlock := e.keyLocks.lock(bucket + "\x00" + key)
	defer unlock()

	record, ok, err := e.store.LoadObject(bucket, id)
	if err != nil {
		return nil, wrapErr(KindIoError, "load object metadata", err)
	}
	if !ok {
		return nil, wrapErr(KindCorruptMetadata, fmt.Sprintf("index points at missing record %q", id), nil)
	}

	if edit.CustomETag != nil {
		if err := digest.ValidateCustom(*edit.CustomETag); err != nil {
			return nil, wrapErr(KindInvalidETag, err.Error(), err)
		}
		if err := e.index.EditEtag(bucket, id, record.ETag, *edit.CustomETag); err != nil {
			return nil, wrapErr(KindIoError, "edit etag index", err)
		}
		record.ETag = *edit.CustomETag
	}
	if edit.ContentType != nil {
		record.ContentType = *edit.ContentType
	}
	if edit.UserMetadata != nil {
		if err := validateUserMetadata(edit.UserMetadata); err != nil {
			return nil, wrapErr(KindInvalidCustomMetadata, err.Error(), err)
		}
		record.UserMetadata = edit.UserMetadata
	}
	record.LastModified = nowUTC()

	if err := e.store.SaveObject(record); err != nil {
		return nil, wrapErr(KindIoError, "save object metadata", err)
	}
	return record.Clone(), nil
}

// MultipartPut stores a single part as its own addressable object. No
// server-side assembly is performed; the client owns part lifecycle.
func (e *Engine) MultipartPut(bucket, key string, data []byte, partNumber, totalParts int, uploadID, contentType string) (*metadata.Object, error) {
	if partNumber < 1 || totalParts < 1 || partNumber > totalParts {
		return nil, newErr(KindInvalidMultipart, "part_number and total_parts must satisfy 1 <= part_number <= total_parts")
	}
	if uploadID == "" {
		return nil, newErr(KindInvalidMultipart, "upload_id must not be empty")
	}

	partKey := derivePartKey(key, partNumber, uploadID)
	userMeta := map[string]string{
		"multipart_upload_id": uploadID,
		"part_number":         strconv.Itoa(partNumber),
		"total_parts":         strconv.Itoa(totalParts),
	}
	return e.Put(bucket, partKey, data, contentType, userMeta, dedup.ModeAllow)
}

// Get resolves key to its current version, transparently following a
// reference to its holder, and returns the payload bytes and metadata.
func (e *Engine) Get(bucket, key string) ([]byte, *metadata.Object, error) {
	record, err := e.GetMetadata(bucket, key)
	if err != nil {
		return nil, nil, err
	}

	holderID := record.ID
	if !record.IsHolder() {
		holderID = record.DataHolderID
	}
	data, err := e.payloads.GetPayload(bucket, holderID)
	if err != nil {
		return nil, nil, wrapErr(KindIoError, "read payload", err)
	}
	return data, record, nil
}

// GetMetadata returns the current version's metadata record for key.
func (e *Engine) GetMetadata(bucket, key string) (*metadata.Object, error) {
	id, ok := e.index.Lookup(bucket, key)
	if !ok {
		return nil, newErr(KindNotFound, fmt.Sprintf("%s/%s not found", bucket, key))
	}
	record, ok, err := e.store.LoadObject(bucket, id)
	if err != nil {
		return nil, wrapErr(KindIoError, "load object metadata", err)
	}
	if !ok {
		return nil, wrapErr(KindCorruptMetadata, fmt.Sprintf("index points at missing record %q", id), nil)
	}
	return record.Clone(), nil
}

// Delete removes the current version of (bucket,key), applying the §4.5
// delete rules: a reference decrements and may free its holder; a
// holder with live references is refused; a free holder drops both its
// metadata and its payload.
func (e *Engine) Delete(bucket, key string) error {
	id, ok := e.index.Lookup(bucket, key)
	if !ok {
		return newErr(KindNotFound, fmt.Sprintf("%s/%s not found", bucket, key))
	}

	unlock := e.keyLocks.lock(bucket + "\x00" + key)
	defer unlock()

	record, ok, err := e.store.LoadObject(bucket, id)
	if err != nil {
		return wrapErr(KindIoError, "load object metadata", err)
	}
	if !ok {
		return wrapErr(KindCorruptMetadata, fmt.Sprintf("index points at missing record %q", id), nil)
	}

	if record.IsHolder() {
		// Guards against a concurrent Put(mode=reference) electing this
		// object as holder and calling attachReference between the
		// refcount check and the payload/metadata removal below:
		// attachReference/detachReference take the same lock on id.
		unlockHolder := e.objectLocks.lock(id)
		defer unlockHolder()

		record, ok, err = e.store.LoadObject(bucket, id)
		if err != nil {
			return wrapErr(KindIoError, "reload object metadata", err)
		}
		if !ok {
			return wrapErr(KindCorruptMetadata, fmt.Sprintf("index points at missing record %q", id), nil)
		}
		if record.ReferenceCount > 0 {
			return newErr(KindHolderHasReferences, fmt.Sprintf("%q is a holder with %d live references", id, record.ReferenceCount))
		}
		if err := e.payloads.DeletePayload(bucket, id); err != nil {
			return wrapErr(KindIoError, "delete payload", err)
		}
	} else {
		if _, err := e.detachReference(bucket, record.DataHolderID); err != nil {
			return wrapErr(KindIoError, "detach reference from holder", err)
		}
	}

	if err := e.store.DeleteObject(bucket, id); err != nil {
		return wrapErr(KindIoError, "delete object metadata", err)
	}
	if err := e.index.Remove(bucket, key, id, record.ETag, record.ContentETag); err != nil {
		return wrapErr(KindIoError, "update index", err)
	}
	return nil
}

func (e *Engine) attachReference(bucket, holderID string) (*metadata.Object, error) {
	unlock := e.objectLocks.lock(holderID)
	defer unlock()
	return e.dedup.Attach(bucket, holderID)
}

func (e *Engine) detachReference(bucket, holderID string) (*metadata.Object, error) {
	unlock := e.objectLocks.lock(holderID)
	defer unlock()
	return e.dedup.Detach(bucket, holderID)
}

// ListOptions constrains a List call.
type ListOptions struct {
	Prefix              string
	Delimiter           string
	MaxKeys             int
	Marker              string
	ETagFilter          string
	UserMetadataFilters map[string]string
}

// ListResult is the paginated output of List.
type ListResult struct {
	Objects        []*metadata.Object
	CommonPrefixes []string
	NextMarker     string
	Truncated      bool
}

// List returns a page of the bucket's current objects matching opts.
func (e *Engine) List(bucket string, opts ListOptions) (*ListResult, error) {
	if !e.bucketExists(bucket) {
		return nil, newErr(KindBucketNotFound, fmt.Sprintf("bucket %q not found", bucket))
	}
	maxKeys := opts.MaxKeys
	if maxKeys <= 0 {
		maxKeys = 1000
	}

	page, err := e.index.List(bucket, opts.Prefix, opts.Delimiter, opts.Marker, maxKeys)
	if err != nil {
		return nil, wrapErr(KindIoError, "list index", err)
	}

	result := &ListResult{CommonPrefixes: page.CommonPrefixes, NextMarker: page.NextMarker, Truncated: page.Truncated}
	for _, entry := range page.Entries {
		obj, ok, err := e.store.LoadObject(bucket, entry.ID)
		if err != nil {
			return nil, wrapErr(KindIoError, "load object metadata", err)
		}
		if !ok {
			continue
		}
		if opts.ETagFilter != "" {
			if matched, _ := path.Match(opts.ETagFilter, obj.ETag); !matched {
				continue
			}
		}
		if !matchesUserMetadataFilters(obj.UserMetadata, opts.UserMetadataFilters) {
			continue
		}
		result.Objects = append(result.Objects, obj.Clone())
	}
	return result, nil
}

func matchesUserMetadataFilters(meta map[string]string, filters map[string]string) bool {
	for k, want := range filters {
		if meta[k] != want {
			return false
		}
	}
	return true
}

// ListVersions returns every retained version of (bucket,key), newest
// first.
func (e *Engine) ListVersions(bucket, key string) ([]*metadata.Object, error) {
	if !e.bucketExists(bucket) {
		return nil, newErr(KindBucketNotFound, fmt.Sprintf("bucket %q not found", bucket))
	}
	ids := e.index.Versions(bucket, key)
	if len(ids) == 0 {
		return nil, newErr(KindNotFound, fmt.Sprintf("%s/%s not found", bucket, key))
	}

	out := make([]*metadata.Object, 0, len(ids))
	for _, id := range ids {
		obj, ok, err := e.store.LoadObject(bucket, id)
		if err != nil {
			return nil, wrapErr(KindIoError, "load object metadata", err)
		}
		if ok {
			out = append(out, obj.Clone())
		}
	}
	return out, nil
}
