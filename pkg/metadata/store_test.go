package metadata

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"sevino/pkg/storage"
)

func TestBucketRoundTrip(t *testing.T) {
	store := NewStore(storage.NewPathResolver(t.TempDir()))

	b := &Bucket{ID: "id-1", Name: "mybucket", CreatedAt: time.Now().UTC()}
	require.NoError(t, store.SaveBucket(b))

	got, ok, err := store.LoadBucket("mybucket")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, b.ID, got.ID)
	require.Equal(t, b.Name, got.Name)
}

func TestLoadBucketMissing(t *testing.T) {
	store := NewStore(storage.NewPathResolver(t.TempDir()))
	_, ok, err := store.LoadBucket("nope")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestObjectRoundTripAndScan(t *testing.T) {
	store := NewStore(storage.NewPathResolver(t.TempDir()))

	o1 := &Object{ID: "b/x@1", Key: "x", BucketName: "b", DataHolderID: "self", VersionID: "1"}
	o2 := &Object{ID: "b/y@1", Key: "y", BucketName: "b", DataHolderID: "self", VersionID: "1"}
	require.NoError(t, store.SaveObject(o1))
	require.NoError(t, store.SaveObject(o2))

	got, ok, err := store.LoadObject("b", "b/x@1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "x", got.Key)

	all, err := store.ScanBucket("b")
	require.NoError(t, err)
	require.Len(t, all, 2)

	require.NoError(t, store.DeleteObject("b", "b/x@1"))
	all, err = store.ScanBucket("b")
	require.NoError(t, err)
	require.Len(t, all, 1)
}

func TestScanBuckets(t *testing.T) {
	store := NewStore(storage.NewPathResolver(t.TempDir()))
	require.NoError(t, store.SaveBucket(&Bucket{ID: "1", Name: "a"}))
	require.NoError(t, store.SaveBucket(&Bucket{ID: "2", Name: "b"}))

	all, err := store.ScanBuckets()
	require.NoError(t, err)
	require.Len(t, all, 2)
}
