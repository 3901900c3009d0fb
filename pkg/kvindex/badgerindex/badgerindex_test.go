package badgerindex

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dedupv1/dedupv1-go/pkg/kvindex"
)

func openTestIndex(t *testing.T) *Index {
	t.Helper()
	idx, err := Open("test", t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { idx.Close() })
	return idx
}

func TestPutLookupDelete(t *testing.T) {
	ctx := context.Background()
	idx := openTestIndex(t)

	res := idx.Lookup(ctx, []byte("k1"))
	assert.Equal(t, kvindex.LookupNotFound, res.Kind)

	put := idx.Put(ctx, []byte("k1"), []byte("v1"))
	assert.Equal(t, kvindex.PutOK, put.Kind)

	res = idx.Lookup(ctx, []byte("k1"))
	require.Equal(t, kvindex.LookupFound, res.Kind)
	assert.Equal(t, []byte("v1"), res.Value)

	del := idx.Delete(ctx, []byte("k1"))
	assert.Equal(t, kvindex.DeleteOK, del.Kind)

	del = idx.Delete(ctx, []byte("k1"))
	assert.Equal(t, kvindex.DeleteNotFound, del.Kind)
}

func TestCompareAndSwap(t *testing.T) {
	ctx := context.Background()
	idx := openTestIndex(t)
	idx.Put(ctx, []byte("k1"), []byte("v1"))

	cas := idx.CompareAndSwap(ctx, []byte("k1"), []byte("v2"), []byte("wrong"))
	assert.Equal(t, kvindex.CASKept, cas.Kind)
	assert.Equal(t, []byte("v1"), cas.Actual)

	cas = idx.CompareAndSwap(ctx, []byte("k1"), []byte("v2"), []byte("v1"))
	assert.Equal(t, kvindex.CASOK, cas.Kind)

	res := idx.Lookup(ctx, []byte("k1"))
	assert.Equal(t, []byte("v2"), res.Value)
}

func TestWriteBackOverlayLifecycle(t *testing.T) {
	ctx := context.Background()
	idx := openTestIndex(t)

	idx.PutDirty(ctx, []byte("k1"), []byte("v1"), true)
	assert.Equal(t, 1, idx.DirtyCount())

	res, dirty, pinned := idx.LookupDirty(ctx, []byte("k1"))
	require.Equal(t, kvindex.LookupFound, res.Kind)
	assert.True(t, dirty)
	assert.True(t, pinned)

	n, err := idx.TryPersistDirtyItem(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	idx.ChangePinningState(ctx, []byte("k1"), false)
	n, err = idx.TryPersistDirtyItem(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 0, idx.DirtyCount())

	// the value itself is durable regardless of overlay state
	lookup := idx.Lookup(ctx, []byte("k1"))
	require.Equal(t, kvindex.LookupFound, lookup.Kind)
	assert.Equal(t, []byte("v1"), lookup.Value)
}

func TestPutBatchClearsOverlay(t *testing.T) {
	ctx := context.Background()
	idx := openTestIndex(t)
	idx.PutDirty(ctx, []byte("k1"), []byte("v0"), true)

	err := idx.PutBatch(ctx, []kvindex.Entry{
		{Key: []byte("k1"), Value: []byte("v1")},
		{Key: []byte("k2"), Value: []byte("v2")},
	})
	require.NoError(t, err)
	assert.Equal(t, 0, idx.DirtyCount())

	res := idx.Lookup(ctx, []byte("k2"))
	require.Equal(t, kvindex.LookupFound, res.Kind)
	assert.Equal(t, []byte("v2"), res.Value)
}

func TestItemCountAndIterator(t *testing.T) {
	ctx := context.Background()
	idx := openTestIndex(t)
	idx.Put(ctx, []byte("a"), []byte("1"))
	idx.Put(ctx, []byte("b"), []byte("2"))

	count, err := idx.ItemCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	it, err := idx.CreateIterator(ctx)
	require.NoError(t, err)
	defer it.Close()

	seen := map[string]string{}
	for it.Next() {
		e := it.Entry()
		seen[string(e.Key)] = string(e.Value)
	}
	require.NoError(t, it.Err())
	assert.Equal(t, map[string]string{"a": "1", "b": "2"}, seen)
}
