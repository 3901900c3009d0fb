package boltindex

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dedupv1/dedupv1-go/pkg/kvindex"
)

func openTestIndex(t *testing.T) *Index {
	t.Helper()
	idx, err := Open("test", filepath.Join(t.TempDir(), "index.db"))
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

func TestPutIfAbsent(t *testing.T) {
	ctx := context.Background()
	idx := openTestIndex(t)

	put := idx.PutIfAbsent(ctx, []byte("k1"), []byte("v1"))
	assert.Equal(t, kvindex.PutOK, put.Kind)

	put = idx.PutIfAbsent(ctx, []byte("k1"), []byte("v2"))
	assert.Equal(t, kvindex.PutKept, put.Kind)

	res := idx.Lookup(ctx, []byte("k1"))
	assert.Equal(t, []byte("v1"), res.Value)
}

func TestIteratorOrdered(t *testing.T) {
	ctx := context.Background()
	idx := openTestIndex(t)
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
	assert.Equal(t, []string{"a", "b", "c"}, keys)
}

func TestCursorNavigation(t *testing.T) {
	ctx := context.Background()
	idx := openTestIndex(t)
	idx.Put(ctx, []byte("a"), []byte("1"))
	idx.Put(ctx, []byte("b"), []byte("2"))
	idx.Put(ctx, []byte("c"), []byte("3"))

	c, err := idx.OpenCursor(ctx)
	require.NoError(t, err)

	e, ok := c.First()
	require.True(t, ok)
	assert.Equal(t, "a", string(e.Key))

	e, ok = c.Jump([]byte("b"))
	require.True(t, ok)
	assert.Equal(t, "b", string(e.Key))

	require.NoError(t, c.Remove())
	require.NoError(t, c.Close())

	res := idx.Lookup(ctx, []byte("b"))
	assert.Equal(t, kvindex.LookupNotFound, res.Kind)
}

func TestItemCount(t *testing.T) {
	ctx := context.Background()
	idx := openTestIndex(t)
	idx.Put(ctx, []byte("a"), []byte("1"))
	idx.Put(ctx, []byte("b"), []byte("2"))

	n, err := idx.ItemCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestPutBatch(t *testing.T) {
	ctx := context.Background()
	idx := openTestIndex(t)
	err := idx.PutBatch(ctx, []kvindex.Entry{
		{Key: []byte("a"), Value: []byte("1")},
		{Key: []byte("b"), Value: []byte("2")},
	})
	require.NoError(t, err)

	n, err := idx.ItemCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}
