package bitmap

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dedupv1/dedupv1-go/pkg/kvindex/memory"
)

func TestAllocateSkipsReservedSlot(t *testing.T) {
	a := New(memory.New("bitmap"))
	a.RegisterFile(1)

	fid, pos, ok := a.Allocate(1000)
	require.True(t, ok)
	assert.Equal(t, uint64(1), fid)
	assert.NotEqual(t, uint64(0), pos, "position 0 is reserved")
}

func TestAllocateRoundRobinsAcrossFiles(t *testing.T) {
	a := New(memory.New("bitmap"))
	a.RegisterFile(1)
	a.RegisterFile(2)

	fid1, _, ok := a.Allocate(1000)
	require.True(t, ok)
	fid2, _, ok := a.Allocate(1000)
	require.True(t, ok)

	assert.NotEqual(t, fid1, fid2)
}

func TestAllocateDoesNotReuseOccupiedSlot(t *testing.T) {
	a := New(memory.New("bitmap"))
	a.RegisterFile(1)

	seen := map[uint64]bool{}
	for i := 0; i < 20; i++ {
		_, pos, ok := a.Allocate(1000)
		require.True(t, ok)
		require.False(t, seen[pos], "position %d allocated twice", pos)
		seen[pos] = true
	}
}

func TestFreeAllowsReallocation(t *testing.T) {
	a := New(memory.New("bitmap"))
	a.RegisterFile(1)

	_, pos, ok := a.Allocate(1000)
	require.True(t, ok)
	require.NoError(t, a.Free(1, pos))
	assert.False(t, a.IsAllocated(1, pos))
}

func TestEnsurePagePersistedRoundTrips(t *testing.T) {
	ctx := context.Background()
	idx := memory.New("pages")
	a := New(idx)
	a.RegisterFile(1)

	_, _, ok := a.Allocate(1000)
	require.True(t, ok)
	require.NoError(t, a.EnsurePagePersisted(ctx, 1))

	n, err := idx.ItemCount(ctx)
	require.NoError(t, err)
	assert.Greater(t, n, int64(0))
}

func TestLoadFromPersistedReconstructsBitmap(t *testing.T) {
	ctx := context.Background()
	idx := memory.New("pages")

	a := New(idx)
	a.RegisterFile(1)
	_, pos, ok := a.Allocate(1000)
	require.True(t, ok)
	require.NoError(t, a.EnsurePagePersisted(ctx, 1))

	b := New(idx)
	b.RegisterFile(1)
	require.NoError(t, b.LoadFromPersisted(ctx, 1, 4))
	assert.True(t, b.IsAllocated(1, pos))
}
