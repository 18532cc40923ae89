// Package storage resolves on-disk paths for bucket directories, metadata
// files, and content files, and implements the payload storage engine.
package storage

import (
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"
)

const metaDirName = ".sevino.meta"

// PathResolver derives the on-disk layout rooted at a single data
// directory. It is stateless; every method is a pure function of its
// arguments and the configured root.
type PathResolver struct {
	root string
}

// NewPathResolver creates a resolver rooted at dataDir.
func NewPathResolver(dataDir string) *PathResolver {
	return &PathResolver{root: dataDir}
}

// Root returns the configured data root.
func (p *PathResolver) Root() string {
	return p.root
}

// BucketDir returns the directory holding a bucket's content tree and
// metadata.
func (p *PathResolver) BucketDir(bucket string) string {
	return filepath.Join(p.root, bucket)
}

// idDigest hashes an object id to derive the two-level fan-out prefix and
// the content file name. Hashing the id, rather than using it directly,
// keeps directory names fixed-width regardless of key length.
func idDigest(id string) string {
	sum := sha256.Sum256([]byte(id))
	return hex.EncodeToString(sum[:])
}

// ContentPath returns the deterministic payload path for an object id:
// {data_root}/{bucket}/{h1}/{h2}/{id_digest}.
func (p *PathResolver) ContentPath(bucket, id string) string {
	digest := idDigest(id)
	h1, h2 := digest[0:2], digest[2:4]
	return filepath.Join(p.BucketDir(bucket), h1, h2, digest)
}

// MetaDir returns the directory holding a bucket's sidecar metadata.
func (p *PathResolver) MetaDir(bucket string) string {
	return filepath.Join(p.BucketDir(bucket), metaDirName)
}

// BucketMetaPath returns the path to a bucket's own metadata record.
func (p *PathResolver) BucketMetaPath(bucket string) string {
	return filepath.Join(p.MetaDir(bucket), "bucket.json")
}

// sanitizeID maps an arbitrary object id to a filesystem-safe, injective
// name: hex-encoding is a bijection over byte strings, so no two distinct
// ids can collide and the mapping can be inverted if ever needed.
func sanitizeID(id string) string {
	return hex.EncodeToString([]byte(id))
}

// ObjectMetaPath returns the path to a single object version's metadata
// record, addressed by its globally unique id.
func (p *PathResolver) ObjectMetaPath(bucket, id string) string {
	return filepath.Join(p.MetaDir(bucket), "objects", sanitizeID(id)+".json")
}

// ObjectsDir returns the directory scanned at startup to rebuild the index.
func (p *PathResolver) ObjectsDir(bucket string) string {
	return filepath.Join(p.MetaDir(bucket), "objects")
}
