package dedup

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"sevino/pkg/metadata"
	"sevino/pkg/storage"
)

func TestResolveNoCandidatesAlwaysFresh(t *testing.T) {
	store := metadata.NewStore(storage.NewPathResolver(t.TempDir()))
	c := New(store)

	for _, mode := range []Mode{ModeAllow, ModeReject, ModeReference} {
		d, err := c.Resolve("b", mode, nil)
		require.NoError(t, err)
		require.False(t, d.Reference)
	}
}

func TestResolveRejectWithDuplicate(t *testing.T) {
	store := metadata.NewStore(storage.NewPathResolver(t.TempDir()))
	c := New(store)

	_, err := c.Resolve("b", ModeReject, []string{"id-1"})
	require.ErrorIs(t, err, ErrDuplicateContent)
}

func TestResolveReferencePicksHighestRefcountHolder(t *testing.T) {
	store := metadata.NewStore(storage.NewPathResolver(t.TempDir()))
	c := New(store)

	base := time.Now().UTC()
	require.NoError(t, store.SaveObject(&metadata.Object{
		ID: "h1", BucketName: "b", DataHolderID: "self", ReferenceCount: 1, CreatedAt: base,
	}))
	require.NoError(t, store.SaveObject(&metadata.Object{
		ID: "h2", BucketName: "b", DataHolderID: "self", ReferenceCount: 3, CreatedAt: base.Add(time.Second),
	}))

	d, err := c.Resolve("b", ModeReference, []string{"h1", "h2"})
	require.NoError(t, err)
	require.True(t, d.Reference)
	require.Equal(t, "h2", d.HolderID)
}

func TestResolveReferenceTieBreaksByCreatedAtThenID(t *testing.T) {
	store := metadata.NewStore(storage.NewPathResolver(t.TempDir()))
	c := New(store)

	base := time.Now().UTC()
	require.NoError(t, store.SaveObject(&metadata.Object{
		ID: "hb", BucketName: "b", DataHolderID: "self", ReferenceCount: 0, CreatedAt: base,
	}))
	require.NoError(t, store.SaveObject(&metadata.Object{
		ID: "ha", BucketName: "b", DataHolderID: "self", ReferenceCount: 0, CreatedAt: base,
	}))

	d, err := c.Resolve("b", ModeReference, []string{"hb", "ha"})
	require.NoError(t, err)
	require.Equal(t, "ha", d.HolderID)
}

func TestAttachAndDetach(t *testing.T) {
	store := metadata.NewStore(storage.NewPathResolver(t.TempDir()))
	c := New(store)
	require.NoError(t, store.SaveObject(&metadata.Object{ID: "h1", BucketName: "b", DataHolderID: "self"}))

	h, err := c.Attach("b", "h1")
	require.NoError(t, err)
	require.Equal(t, 1, h.ReferenceCount)

	h, err = c.Detach("b", "h1")
	require.NoError(t, err)
	require.Equal(t, 0, h.ReferenceCount)
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("")
	require.NoError(t, err)
	require.Equal(t, ModeAllow, m)

	m, err = ParseMode("reject")
	require.NoError(t, err)
	require.Equal(t, ModeReject, m)

	_, err = ParseMode("bogus")
	require.Error(t, err)
}
