package blockindex

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dedupv1/dedupv1-go/pkg/kvindex/memory"
)

func newTestImporter(t *testing.T) (*AuxiliaryBlockIndex, *PersistentBlockIndex, *BackgroundImporter) {
	t.Helper()
	aux := NewAuxiliaryBlockIndex(nil, nil)
	persistent := NewPersistentBlockIndex(memory.New("blocks"))
	imp := NewBackgroundImporter(ImporterOptions{
		Aux:            aux,
		Persistent:     persistent,
		BatchSize:      8,
		NormalDelay:    time.Millisecond,
		SoftLimitDelay: time.Millisecond,
		HardLimitDelay: time.Millisecond,
		IdleDelay:      5 * time.Millisecond,
	})
	aux.SetImporter(imp)
	return aux, persistent, imp
}

func TestImportOnePromotesAndClearsAux(t *testing.T) {
	aux, persistent, imp := newTestImporter(t)
	m := BlockMapping{BlockID: 1, Version: 1}
	aux.insert(m)

	require.NoError(t, imp.importOne(context.Background(), 1, 1))

	got, found, err := persistent.Lookup(context.Background(), 1)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, uint64(1), got.Version)

	_, stillAux := aux.Get(1)
	assert.False(t, stillAux)
}

func TestImportOneSkipsWhenPersistentAlreadyNewer(t *testing.T) {
	aux, persistent, imp := newTestImporter(t)
	require.NoError(t, persistent.Put(context.Background(), BlockMapping{BlockID: 1, Version: 5}))
	aux.insert(BlockMapping{BlockID: 1, Version: 3})

	require.NoError(t, imp.importOne(context.Background(), 1, 3))

	got, _, err := persistent.Lookup(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), got.Version, "a stale ready entry must never clobber a newer persisted version")
}

func TestImportOneErrorsWhenAuxMissingOrStale(t *testing.T) {
	_, _, imp := newTestImporter(t)
	err := imp.importOne(context.Background(), 42, 1)
	assert.Error(t, err)
}

func TestShouldSlowDownAtSoftLimit(t *testing.T) {
	aux, _, imp := newTestImporter(t)
	imp.opts.SoftLimit = 1
	aux.insert(BlockMapping{BlockID: 1, Version: 1})
	assert.True(t, imp.ShouldSlowDown())
}

func TestRunDrainsQueuedEntries(t *testing.T) {
	aux, persistent, imp := newTestImporter(t)
	aux.insert(BlockMapping{BlockID: 7, Version: 1})

	ctx, cancel := context.WithCancel(context.Background())
	imp.Start(ctx)
	require.NoError(t, imp.Enqueue(context.Background(), 7, 1))

	require.Eventually(t, func() bool {
		_, found, err := persistent.Lookup(context.Background(), 7)
		return err == nil && found
	}, time.Second, 5*time.Millisecond)

	cancel()
	imp.Stop()
}
