package diskhash

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
	idx, err := Open("test", filepath.Join(t.TempDir(), "index.dat"), 64, 256)
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

func TestPutOverwritesExisting(t *testing.T) {
	ctx := context.Background()
	idx := openTestIndex(t)

	idx.Put(ctx, []byte("k1"), []byte("v1"))
	idx.Put(ctx, []byte("k1"), []byte("v2"))

	res := idx.Lookup(ctx, []byte("k1"))
	require.Equal(t, kvindex.LookupFound, res.Kind)
	assert.Equal(t, []byte("v2"), res.Value)
}

func TestCollisionProbing(t *testing.T) {
	ctx := context.Background()
	idx := openTestIndex(t)

	for i := 0; i < 50; i++ {
		key := []byte{byte(i), byte(i >> 8)}
		put := idx.Put(ctx, key, []byte("val"))
		require.Equal(t, kvindex.PutOK, put.Kind)
	}
	for i := 0; i < 50; i++ {
		key := []byte{byte(i), byte(i >> 8)}
		res := idx.Lookup(ctx, key)
		require.Equal(t, kvindex.LookupFound, res.Kind, "key %d", i)
	}
}

func TestDeleteThenReinsertStillFindsOtherKeys(t *testing.T) {
	ctx := context.Background()
	idx := openTestIndex(t)

	idx.Put(ctx, []byte("a"), []byte("1"))
	idx.Put(ctx, []byte("b"), []byte("2"))
	idx.Put(ctx, []byte("c"), []byte("3"))

	idx.Delete(ctx, []byte("b"))

	res := idx.Lookup(ctx, []byte("a"))
	assert.Equal(t, kvindex.LookupFound, res.Kind)
	res = idx.Lookup(ctx, []byte("c"))
	assert.Equal(t, kvindex.LookupFound, res.Kind)
}

func TestRawPageAccess(t *testing.T) {
	idx := openTestIndex(t)

	data := make([]byte, idx.RawPageSize())
	for i := range data {
		data[i] = 0x42
	}
	require.NoError(t, idx.WriteRawPage(5, data))

	got, err := idx.ReadRawPage(5)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}
