package storage

// Engine is the payload storage contract used by the object engine. An
// object's payload is addressed by its globally unique object id, never by
// content hash: two objects with identical bytes still get distinct
// payload files unless the dedup coordinator explicitly routes one of them
// as a reference with no payload at all.
type Engine interface {
	// PutPayload writes data for the object identified by id in bucket,
	// atomically: temp file, fsync, rename into place.
	PutPayload(bucket, id string, data []byte) error

	// GetPayload reads back the payload previously written for id.
	GetPayload(bucket, id string) ([]byte, error)

	// DeletePayload removes the payload file for id. It is not an error to
	// delete a payload that does not exist.
	DeletePayload(bucket, id string) error

	// DeleteBucket removes a bucket's entire content tree.
	DeleteBucket(bucket string) error
}
