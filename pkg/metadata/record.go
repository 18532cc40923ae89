// Package metadata serializes and deserializes bucket and object metadata
// records to and from JSON files, and provides the atomic-write discipline
// required by the rest of the engine.
package metadata

import "time"

// Bucket is the persisted record for a named container of objects.
type Bucket struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	CreatedAt   time.Time `json:"created_at"`
	ObjectCount int64     `json:"object_count"`
	TotalSize   int64     `json:"total_size"`
}

// Object is the persisted record for a single object version.
//
// ContentETag is an addition beyond the literal attribute list: it
// carries the content-computed MD5 etag at put time, distinct from the
// caller-visible ETag field, which a metadata edit may override. Dedup
// candidate selection is always driven by ContentETag so that renaming an
// object's visible etag can never corrupt the reference graph.
type Object struct {
	ID              string            `json:"id"`
	Key             string            `json:"key"`
	BucketName      string            `json:"bucket_name"`
	Size            int64             `json:"size"`
	ETag            string            `json:"etag"`
	ContentETag     string            `json:"content_etag"`
	ContentType     string            `json:"content_type"`
	CreatedAt       time.Time         `json:"created_at"`
	LastModified    time.Time         `json:"last_modified"`
	UserMetadata    map[string]string `json:"user_metadata"`
	DataHolderID    string            `json:"data_holder_id"` // "self" or another object's id
	ReferenceCount  int               `json:"reference_count"`
	VersionID       string            `json:"version_id"`
}

// IsHolder reports whether this object physically owns its payload.
func (o *Object) IsHolder() bool {
	return o.DataHolderID == "self"
}

// Clone returns a deep-enough copy safe to hand to a caller without
// sharing the UserMetadata map.
func (o *Object) Clone() *Object {
	c := *o
	if o.UserMetadata != nil {
		c.UserMetadata = make(map[string]string, len(o.UserMetadata))
		for k, v := range o.UserMetadata {
			c.UserMetadata[k] = v
		}
	}
	return &c
}
