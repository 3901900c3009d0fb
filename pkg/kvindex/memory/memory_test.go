package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dedupv1/dedupv1-go/pkg/kvindex"
)

func TestPutLookupDelete(t *testing.T) {
	ctx := context.Background()
	idx := New("test")

	res := idx.Lookup(ctx, []byte("k1"))
	assert.Equal(t, kvindex.LookupNotFound, res.Kind)

	put := idx.Put(ctx, []byte("k1"), []byte("v1"))
	assert.Equal(t, kvindex.PutOK, put.Kind)

	res = idx.Lookup(ctx, []byte("k1"))
	require.Equal(t, kvindex.LookupFound, res.Kind)
	assert.Equal(t, []byte("v1"), res.Value)

	put = idx.Put(ctx, []byte("k1"), []byte("v1"))
	assert.Equal(t, kvindex.PutKept, put.Kind)

	del := idx.Delete(ctx, []byte("k1"))
	assert.Equal(t, kvindex.DeleteOK, del.Kind)

	del = idx.Delete(ctx, []byte("k1"))
	assert.Equal(t, kvindex.DeleteNotFound, del.Kind)
}

func TestLookupValueIsClonedNotAliased(t *testing.T) {
	ctx := context.Background()
	idx := New("test")

	original := []byte("v1")
	idx.Put(ctx, []byte("k1"), original)
	original[0] = 'X'

	res := idx.Lookup(ctx, []byte("k1"))
	require.Equal(t, kvindex.LookupFound, res.Kind)
	assert.Equal(t, []byte("v1"), res.Value)

	res.Value[0] = 'Y'
	res2 := idx.Lookup(ctx, []byte("k1"))
	assert.Equal(t, []byte("v1"), res2.Value)
}

func TestPutIfAbsent(t *testing.T) {
	ctx := context.Background()
	idx := New("test")

	put := idx.PutIfAbsent(ctx, []byte("k1"), []byte("v1"))
	assert.Equal(t, kvindex.PutOK, put.Kind)

	put = idx.PutIfAbsent(ctx, []byte("k1"), []byte("v2"))
	assert.Equal(t, kvindex.PutKept, put.Kind)

	res := idx.Lookup(ctx, []byte("k1"))
	assert.Equal(t, []byte("v1"), res.Value)
}

func TestCompareAndSwap(t *testing.T) {
	ctx := context.Background()
	idx := New("test")
	idx.Put(ctx, []byte("k1"), []byte("v1"))

	cas := idx.CompareAndSwap(ctx, []byte("k1"), []byte("v2"), []byte("wrong"))
	assert.Equal(t, kvindex.CASKept, cas.Kind)
	assert.Equal(t, []byte("v1"), cas.Actual)

	cas = idx.CompareAndSwap(ctx, []byte("k1"), []byte("v2"), []byte("v1"))
	assert.Equal(t, kvindex.CASOK, cas.Kind)

	res := idx.Lookup(ctx, []byte("k1"))
	assert.Equal(t, []byte("v2"), res.Value)
}

func TestIteratorOrderedAndStable(t *testing.T) {
	ctx := context.Background()
	idx := New("test")
	idx.Put(ctx, []byte("b"), []byte("2"))
	idx.Put(ctx, []byte("a"), []byte("1"))
	idx.Put(ctx, []byte("c"), []byte("3"))

	it, err := idx.CreateIterator(ctx)
	require.NoError(t, err)
	defer it.Close()

	var keys []string
	for it.Next() {
		keys = append(keys, string(it.Entry().Key))
	}
	require.NoError(t, it.Err())
	assert.Equal(t, []string{"a", "b", "c"}, keys)
}

func TestIteratorDetectsConcurrentModification(t *testing.T) {
	ctx := context.Background()
	idx := New("test")
	idx.Put(ctx, []byte("a"), []byte("1"))

	it, err := idx.CreateIterator(ctx)
	require.NoError(t, err)

	idx.Put(ctx, []byte("b"), []byte("2"))

	assert.False(t, it.Next())
	assert.Error(t, it.Err())
}

func TestWriteBackCacheDirtyLifecycle(t *testing.T) {
	ctx := context.Background()
	idx := New("test")

	idx.PutDirty(ctx, []byte("k1"), []byte("v1"), true)
	assert.Equal(t, 1, idx.DirtyCount())

	_, dirty, pinned := idx.LookupDirty(ctx, []byte("k1"))
	assert.True(t, dirty)
	assert.True(t, pinned)

	n, err := idx.TryPersistDirtyItem(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 0, n, "pinned entry must not be persisted")

	del := idx.ChangePinningState(ctx, []byte("k1"), false)
	assert.Equal(t, kvindex.DeleteOK, del.Kind)

	n, err = idx.TryPersistDirtyItem(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 0, idx.DirtyCount())
}

func TestCursorNavigation(t *testing.T) {
	ctx := context.Background()
	idx := New("test")
	idx.Put(ctx, []byte("a"), []byte("1"))
	idx.Put(ctx, []byte("b"), []byte("2"))
	idx.Put(ctx, []byte("c"), []byte("3"))

	c, err := idx.OpenCursor(ctx)
	require.NoError(t, err)
	defer c.Close()

	e, ok := c.First()
	require.True(t, ok)
	assert.Equal(t, "a", string(e.Key))

	e, ok = c.Next()
	require.True(t, ok)
	assert.Equal(t, "b", string(e.Key))

	e, ok = c.Last()
	require.True(t, ok)
	assert.Equal(t, "c", string(e.Key))

	e, ok = c.Jump([]byte("b"))
	require.True(t, ok)
	assert.Equal(t, "b", string(e.Key))

	require.NoError(t, c.Remove())
	res := idx.Lookup(ctx, []byte("b"))
	assert.Equal(t, kvindex.LookupNotFound, res.Kind)
}

func TestItemCount(t *testing.T) {
	ctx := context.Background()
	idx := New("test")
	idx.Put(ctx, []byte("a"), []byte("1"))
	idx.Put(ctx, []byte("b"), []byte("2"))

	n, err := idx.ItemCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}
