package blockindex

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreBlockInsertsAndFiresVolatile(t *testing.T) {
	vs := NewVolatileBlockStore(nil, nil)
	aux := NewAuxiliaryBlockIndex(nil, vs)

	m := BlockMapping{BlockID: 1, Version: 1}
	require.NoError(t, aux.StoreBlock(context.Background(), BlockMapping{}, m))

	got, ok := aux.Get(1)
	require.True(t, ok)
	assert.Equal(t, uint64(1), got.Version)
	assert.Equal(t, 1, aux.Size())
}

func TestInsertIgnoresOlderVersion(t *testing.T) {
	aux := NewAuxiliaryBlockIndex(nil, nil)
	aux.insert(BlockMapping{BlockID: 1, Version: 2})
	aux.insert(BlockMapping{BlockID: 1, Version: 1})

	got, ok := aux.Get(1)
	require.True(t, ok)
	assert.Equal(t, uint64(2), got.Version)
}

func TestRemoveIfVersionOnlyRemovesMatchingVersion(t *testing.T) {
	aux := NewAuxiliaryBlockIndex(nil, nil)
	aux.insert(BlockMapping{BlockID: 1, Version: 2})

	aux.removeIfVersion(1, 1)
	_, ok := aux.Get(1)
	assert.True(t, ok, "stale version must not remove a newer entry")

	aux.removeIfVersion(1, 2)
	_, ok = aux.Get(1)
	assert.False(t, ok)
}

func TestCommitVolatileBlockWithoutImporterIsNoop(t *testing.T) {
	aux := NewAuxiliaryBlockIndex(nil, nil)
	err := aux.CommitVolatileBlock(context.Background(), 1, BlockMapping{BlockID: 1, Version: 3}, 100)
	require.NoError(t, err, "no importer wired is a no-op, not an error")
}

func TestCommitVolatileBlockHandsOffToImporter(t *testing.T) {
	aux := NewAuxiliaryBlockIndex(nil, nil)
	imp := NewBackgroundImporter(ImporterOptions{Aux: aux})
	aux.SetImporter(imp)

	require.NoError(t, aux.CommitVolatileBlock(context.Background(), 1, BlockMapping{BlockID: 1, Version: 3}, 100))
	imp.mu.Lock()
	defer imp.mu.Unlock()
	assert.Equal(t, []readyEntry{{blockID: 1, version: 3}}, imp.queue)
}
