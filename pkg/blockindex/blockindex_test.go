package blockindex

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dedupv1/dedupv1-go/pkg/kvindex/memory"
	"github.com/dedupv1/dedupv1-go/pkg/oplog"
)

func newTestBlockIndex(t *testing.T) *BlockIndex {
	t.Helper()
	return NewBlockIndex(Config{
		Persistent: memory.New("blocks"),
		Failed:     memory.New("failed"),
	})
}

func TestBlockIndexLookupPrefersAuxOverPersistent(t *testing.T) {
	bi := newTestBlockIndex(t)
	require.NoError(t, bi.Persistent.Put(context.Background(), BlockMapping{BlockID: 1, Version: 1}))
	require.NoError(t, bi.StoreBlock(context.Background(), BlockMapping{}, BlockMapping{BlockID: 1, Version: 2}))

	m, ok, err := bi.Lookup(context.Background(), 1)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint64(2), m.Version)
}

func TestReplayContainerCommittedReleasesVolatileEntry(t *testing.T) {
	bi := newTestBlockIndex(t)
	require.NoError(t, bi.Aux.StoreBlock(context.Background(), BlockMapping{}, BlockMapping{BlockID: 1, Version: 1, Items: []Item{{DataAddress: 9, Size: 4096}}}))
	assert.Equal(t, 1, bi.Volatile.PendingCount())

	rec := oplog.Record{EventType: oplog.EventContainerCommitted, Payload: oplog.EncodeContainerCommitted(oplog.ContainerCommittedPayload{ID: 9})}
	require.NoError(t, bi.Replay(oplog.LogReplayContext{ReplayMode: oplog.ReplayDirect}, rec))
	assert.Equal(t, 0, bi.Volatile.PendingCount())
}

func TestReplayBlockMappingWrittenReconstructsAuxOnDirtyStart(t *testing.T) {
	bi := newTestBlockIndex(t)
	pair := Pair{BlockID: 1, Previous: BlockMapping{BlockID: 1}, Modified: BlockMapping{BlockID: 1, Version: 3}}
	payload := oplog.EncodeBlockMappingWritten(oplog.BlockMappingWrittenPayload{
		BlockID:      1,
		Version:      3,
		ContainerIDs: nil,
		PairBlob:     pair.Marshal(),
	})
	rec := oplog.Record{LogID: 55, EventType: oplog.EventBlockMappingWritten, Payload: payload}

	require.NoError(t, bi.Replay(oplog.LogReplayContext{ReplayMode: oplog.ReplayDirtyStart}, rec))

	m, ok := bi.Aux.Get(1)
	require.True(t, ok)
	assert.Equal(t, uint64(3), m.Version)
}

func TestReplayBlockMappingWrittenIsNoopOnDirectMode(t *testing.T) {
	bi := newTestBlockIndex(t)
	pair := Pair{BlockID: 1, Previous: BlockMapping{BlockID: 1}, Modified: BlockMapping{BlockID: 1, Version: 3}}
	payload := oplog.EncodeBlockMappingWritten(oplog.BlockMappingWrittenPayload{BlockID: 1, Version: 3, PairBlob: pair.Marshal()})
	rec := oplog.Record{EventType: oplog.EventBlockMappingWritten, Payload: payload}

	require.NoError(t, bi.Replay(oplog.LogReplayContext{ReplayMode: oplog.ReplayDirect}, rec))

	_, ok := bi.Aux.Get(1)
	assert.False(t, ok, "direct replay must not redo what StoreBlock already did inline")
}

func TestMarkBlockWriteAsFailedFailsVolatileEntryAndRecordsFailure(t *testing.T) {
	bi := newTestBlockIndex(t)
	require.NoError(t, bi.Aux.StoreBlock(context.Background(), BlockMapping{}, BlockMapping{BlockID: 1, Version: 1, Items: []Item{{DataAddress: 9, Size: 4096}}}))

	pair := Pair{BlockID: 1, Previous: BlockMapping{}, Modified: BlockMapping{BlockID: 1, Version: 1}}
	require.NoError(t, bi.MarkBlockWriteAsFailed(context.Background(), pair, 100))

	assert.True(t, bi.Failed.Contains(context.Background(), 1, 1))

	// A failed entry is never fired and is never removed from the
	// volatile store's bookkeeping, by design: the alternative (dropping
	// it) risks silently skipping a version.
	rec := oplog.Record{EventType: oplog.EventContainerCommitted, Payload: oplog.EncodeContainerCommitted(oplog.ContainerCommittedPayload{ID: 9})}
	require.NoError(t, bi.Replay(oplog.LogReplayContext{ReplayMode: oplog.ReplayDirect}, rec))
	assert.Equal(t, 1, bi.Volatile.PendingCount())
}

func TestReplayBlockMappingWriteFailedClearsFailedRecord(t *testing.T) {
	bi := newTestBlockIndex(t)
	pair := Pair{BlockID: 1, Previous: BlockMapping{}, Modified: BlockMapping{BlockID: 1, Version: 1}}
	require.NoError(t, bi.Failed.MarkBlockWriteAsFailed(context.Background(), pair, 100))

	payload := oplog.EncodeBlockMappingWriteFailed(oplog.BlockMappingWriteFailedPayload{BlockID: 1, Version: 1, WriteEventLogID: 100, PairBlob: pair.Marshal()})
	rec := oplog.Record{EventType: oplog.EventBlockMappingWriteFailed, Payload: payload}

	require.NoError(t, bi.Replay(oplog.LogReplayContext{ReplayMode: oplog.ReplayBackground}, rec))
	assert.False(t, bi.Failed.Contains(context.Background(), 1, 1))
}
