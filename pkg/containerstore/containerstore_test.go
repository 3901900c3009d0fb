package containerstore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dedupv1/dedupv1-go/pkg/bitmap"
	"github.com/dedupv1/dedupv1-go/pkg/fp"
	"github.com/dedupv1/dedupv1-go/pkg/kvindex/boltindex"
	"github.com/dedupv1/dedupv1-go/pkg/kvindex/diskhash"
)

func newTestStore(t *testing.T) *ContainerStore {
	t.Helper()
	dir := t.TempDir()

	bitmapBacking, err := diskhash.Open("bitmap", filepath.Join(dir, "bitmap"), 64, 8192)
	require.NoError(t, err)
	t.Cleanup(func() { _ = bitmapBacking.Close() })
	allocator := bitmap.New(bitmapBacking)

	metadataIndex, err := boltindex.Open("metadata", filepath.Join(dir, "metadata.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = metadataIndex.Close() })

	file := NewContainerFile(filepath.Join(dir, "containers.dat"), 64*1024)

	cs, err := New(Options{
		Files:         []*ContainerFile{file},
		ContainerSize: 64 * 1024,
		WriteSlots:    1,
		Allocator:     allocator,
		MetadataIndex: metadataIndex,
	})
	require.NoError(t, err)
	require.NoError(t, cs.Start(context.Background()))
	t.Cleanup(func() { _ = cs.Stop(context.Background()) })
	return cs
}

func TestWriteThenReadServesFromOpenContainer(t *testing.T) {
	cs := newTestStore(t)
	ctx := context.Background()
	f := fp.Of([]byte("hello"))

	id, err := cs.Write(ctx, f, []byte("hello"))
	require.NoError(t, err)

	got, err := cs.Read(ctx, id, f)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), got)
	assert.Equal(t, CommitStateNotCommitted, cs.IsCommitted(id))
}

func TestFlushCommitsAndReadStillWorksFromDisk(t *testing.T) {
	cs := newTestStore(t)
	ctx := context.Background()
	f := fp.Of([]byte("payload"))

	id, err := cs.Write(ctx, f, []byte("payload"))
	require.NoError(t, err)
	require.NoError(t, cs.Flush(ctx))

	assert.Equal(t, CommitStateCommitted, cs.IsCommitted(id))

	got, err := cs.Read(ctx, id, f)
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), got)
}

func TestItemsReturnsFingerprintsAfterCommit(t *testing.T) {
	cs := newTestStore(t)
	ctx := context.Background()
	f1 := fp.Of([]byte("one"))
	f2 := fp.Of([]byte("two"))

	id, err := cs.Write(ctx, f1, []byte("one"))
	require.NoError(t, err)
	id2, err := cs.Write(ctx, f2, []byte("two"))
	require.NoError(t, err)
	require.Equal(t, id, id2, "single write slot should round-robin back to the same open container")
	require.NoError(t, cs.Flush(ctx))

	items, err := cs.Items(ctx, id)
	require.NoError(t, err)
	assert.ElementsMatch(t, []fp.Fingerprint{f1, f2}, items)
}

func TestDeleteContainerRejectsNonEmptyContainer(t *testing.T) {
	cs := newTestStore(t)
	ctx := context.Background()
	f := fp.Of([]byte("still referenced"))

	id, err := cs.Write(ctx, f, []byte("still referenced"))
	require.NoError(t, err)
	require.NoError(t, cs.Flush(ctx))

	err = cs.DeleteContainer(ctx, id)
	assert.Error(t, err, "a container with live items must be merged or cleared before it can be deleted")
	assert.Equal(t, CommitStateCommitted, cs.IsCommitted(id), "a rejected delete must not touch the container's commit state")
}

func TestTryMergeContainerCombinesTwoCommittedContainers(t *testing.T) {
	cs := newTestStore(t)
	ctx := context.Background()
	fA := fp.Of([]byte("container a item"))
	fB := fp.Of([]byte("container b item"))

	idA, err := cs.Write(ctx, fA, []byte("container a item"))
	require.NoError(t, err)
	require.NoError(t, cs.Flush(ctx))
	idB, err := cs.Write(ctx, fB, []byte("container b item"))
	require.NoError(t, err)
	require.NoError(t, cs.Flush(ctx))

	mergedID, err := cs.TryMergeContainer(ctx, idA, idB)
	require.NoError(t, err)

	itemsA, err := cs.Items(ctx, mergedID)
	require.NoError(t, err)
	assert.Contains(t, itemsA, fA)
	assert.Contains(t, itemsA, fB)

	gotA, err := cs.Read(ctx, mergedID, fA)
	require.NoError(t, err)
	assert.Equal(t, []byte("container a item"), gotA)
}

func TestWriteRejectsItemLargerThanContainer(t *testing.T) {
	cs := newTestStore(t)
	ctx := context.Background()
	tooBig := make([]byte, 128*1024)
	_, err := cs.Write(ctx, fp.Of(tooBig), tooBig)
	assert.Error(t, err)
}
