package engine

import (
	"testing"

	"github.com/stretchr/testify/require"

	"sevino/internal/dedup"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := New(Config{DataDir: t.TempDir(), MaxFileSize: 1 << 20})
	require.NoError(t, err)
	return e
}

func TestBasicRoundTrip(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.CreateBucket("bkt")
	require.NoError(t, err)

	obj, err := e.Put("bkt", "x", []byte("hello"), "text/plain", nil, dedup.ModeAllow)
	require.NoError(t, err)
	require.Equal(t, `"5d41402abc4b2a76b9719d911017c592"`, obj.ETag)

	data, meta, err := e.Get("bkt", "x")
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), data)
	require.Equal(t, obj.ETag, meta.ETag)
}

func TestRejectDedup(t *testing.T) {
	e := newTestEngine(t)
	_, _ = e.CreateBucket("bkt")
	_, err := e.Put("bkt", "x", []byte("hello"), "", nil, dedup.ModeAllow)
	require.NoError(t, err)

	_, err = e.Put("bkt", "y", []byte("hello"), "", nil, dedup.ModeReject)
	require.Error(t, err)
	require.Equal(t, KindDuplicateContent, err.(*Error).Kind)

	_, err = e.Put("bkt", "y", []byte("world"), "", nil, dedup.ModeReject)
	require.NoError(t, err)
}

func TestReferenceDedupAndHolderPinning(t *testing.T) {
	e := newTestEngine(t)
	_, _ = e.CreateBucket("bkt")
	_, err := e.Put("bkt", "x", []byte("hello"), "", nil, dedup.ModeAllow)
	require.NoError(t, err)

	y, err := e.Put("bkt", "y", []byte("hello"), "", nil, dedup.ModeReference)
	require.NoError(t, err)
	require.NotEqual(t, "self", y.DataHolderID)
	require.Equal(t, 0, y.ReferenceCount)

	xMeta, err := e.GetMetadata("bkt", "x")
	require.NoError(t, err)
	require.Equal(t, 1, xMeta.ReferenceCount)

	err = e.Delete("bkt", "x")
	require.Error(t, err)
	require.Equal(t, KindHolderHasReferences, err.(*Error).Kind)

	require.NoError(t, e.Delete("bkt", "y"))

	xMeta, err = e.GetMetadata("bkt", "x")
	require.NoError(t, err)
	require.Equal(t, 0, xMeta.ReferenceCount)

	require.NoError(t, e.Delete("bkt", "x"))

	_, _, err = e.Get("bkt", "x")
	require.Error(t, err)
	require.Equal(t, KindNotFound, err.(*Error).Kind)
}

func TestAllowModeDoesNotDedup(t *testing.T) {
	e := newTestEngine(t)
	_, _ = e.CreateBucket("bkt")
	_, err := e.Put("bkt", "x", []byte("hello"), "", nil, dedup.ModeAllow)
	require.NoError(t, err)

	z, err := e.Put("bkt", "z", []byte("hello"), "", nil, dedup.ModeAllow)
	require.NoError(t, err)
	require.Equal(t, "self", z.DataHolderID)
}

func TestCustomMetadataFilter(t *testing.T) {
	e := newTestEngine(t)
	_, _ = e.CreateBucket("bkt")
	_, err := e.Put("bkt", "a", []byte("A"), "", map[string]string{"bizid": "1"}, dedup.ModeAllow)
	require.NoError(t, err)
	_, err = e.Put("bkt", "b", []byte("B"), "", map[string]string{"bizid": "2"}, dedup.ModeAllow)
	require.NoError(t, err)

	res, err := e.List("bkt", ListOptions{UserMetadataFilters: map[string]string{"bizid": "1"}})
	require.NoError(t, err)
	require.Len(t, res.Objects, 1)
	require.Equal(t, "a", res.Objects[0].Key)
}

func TestMetadataEditPreservesBytesAndDedupCandidacy(t *testing.T) {
	e := newTestEngine(t)
	_, _ = e.CreateBucket("bkt")
	_, err := e.Put("bkt", "x", []byte("hello"), "", nil, dedup.ModeAllow)
	require.NoError(t, err)

	tag := `"my-tag"`
	_, err = e.PutMetadata("bkt", "x", PutMetadataEdit{CustomETag: &tag})
	require.NoError(t, err)

	data, meta, err := e.Get("bkt", "x")
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), data)
	require.Equal(t, tag, meta.ETag)

	// A later reference-mode put against the same bytes must still find
	// the holder via its content etag, unaffected by the visible rename.
	y, err := e.Put("bkt", "y", []byte("hello"), "", nil, dedup.ModeReference)
	require.NoError(t, err)
	require.NotEqual(t, "self", y.DataHolderID)
}

func TestListVersionsNewestFirst(t *testing.T) {
	e := newTestEngine(t)
	_, _ = e.CreateBucket("bkt")
	_, err := e.Put("bkt", "x", []byte("v1"), "", nil, dedup.ModeAllow)
	require.NoError(t, err)
	_, err = e.Put("bkt", "x", []byte("v2"), "", nil, dedup.ModeAllow)
	require.NoError(t, err)

	versions, err := e.ListVersions("bkt", "x")
	require.NoError(t, err)
	require.Len(t, versions, 2)
	require.Equal(t, "2", versions[0].VersionID)
	require.Equal(t, "1", versions[1].VersionID)
}

func TestBucketCascadeDelete(t *testing.T) {
	e := newTestEngine(t)
	_, _ = e.CreateBucket("bkt")
	_, err := e.Put("bkt", "x", []byte("hello"), "", nil, dedup.ModeAllow)
	require.NoError(t, err)
	_, err = e.Put("bkt", "y", []byte("hello"), "", nil, dedup.ModeReference)
	require.NoError(t, err)

	require.NoError(t, e.DeleteBucket("bkt"))

	_, err = e.GetBucket("bkt")
	require.Error(t, err)
	require.Equal(t, KindBucketNotFound, err.(*Error).Kind)
}

func TestStartupRecovery(t *testing.T) {
	dir := t.TempDir()
	e, err := New(Config{DataDir: dir, MaxFileSize: 1 << 20})
	require.NoError(t, err)
	_, _ = e.CreateBucket("bkt")
	_, err = e.Put("bkt", "x", []byte("hello"), "", nil, dedup.ModeAllow)
	require.NoError(t, err)

	e2, err := New(Config{DataDir: dir, MaxFileSize: 1 << 20})
	require.NoError(t, err)

	data, meta, err := e2.Get("bkt", "x")
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), data)
	require.Equal(t, `"5d41402abc4b2a76b9719d911017c592"`, meta.ETag)
}

func TestMultipartPutStoresAndRetrievesEachPart(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.CreateBucket("bkt")
	require.NoError(t, err)

	part1, err := e.MultipartPut("bkt", "big.bin", []byte("first-chunk"), 1, 2, "upload-1", "application/octet-stream")
	require.NoError(t, err)
	part2, err := e.MultipartPut("bkt", "big.bin", []byte("second-chunk"), 2, 2, "upload-1", "application/octet-stream")
	require.NoError(t, err)

	require.NotEqual(t, part1.Key, part2.Key)
	require.Equal(t, "1", part1.UserMetadata["part_number"])
	require.Equal(t, "2", part1.UserMetadata["total_parts"])
	require.Equal(t, "upload-1", part1.UserMetadata["multipart_upload_id"])

	data1, meta1, err := e.Get("bkt", part1.Key)
	require.NoError(t, err)
	require.Equal(t, []byte("first-chunk"), data1)
	require.Equal(t, part1.ETag, meta1.ETag)

	data2, _, err := e.Get("bkt", part2.Key)
	require.NoError(t, err)
	require.Equal(t, []byte("second-chunk"), data2)
}

func TestMultipartPutRejectsInvalidPartNumbers(t *testing.T) {
	e := newTestEngine(t)
	_, _ = e.CreateBucket("bkt")

	_, err := e.MultipartPut("bkt", "big.bin", []byte("x"), 0, 2, "upload-1", "")
	require.Error(t, err)
	require.Equal(t, KindInvalidMultipart, err.(*Error).Kind)

	_, err = e.MultipartPut("bkt", "big.bin", []byte("x"), 3, 2, "upload-1", "")
	require.Error(t, err)
	require.Equal(t, KindInvalidMultipart, err.(*Error).Kind)

	_, err = e.MultipartPut("bkt", "big.bin", []byte("x"), 1, 2, "", "")
	require.Error(t, err)
	require.Equal(t, KindInvalidMultipart, err.(*Error).Kind)
}
