package chunkindex

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dedupv1/dedupv1-go/pkg/fp"
	"github.com/dedupv1/dedupv1-go/pkg/kvindex/badgerindex"
	"github.com/dedupv1/dedupv1-go/pkg/kvindex/memory"
	"github.com/dedupv1/dedupv1-go/pkg/oplog"
)

func newTestIndex(t *testing.T, source ContainerItemSource) *Index {
	t.Helper()
	backend, err := badgerindex.Open("chunks", t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = backend.Close() })

	tracker := NewContainerTracker(memory.New("tracker"))
	idx, err := New(Options{Backend: backend, Tracker: tracker, Source: source})
	require.NoError(t, err)
	return idx
}

func TestLookupNotFound(t *testing.T) {
	idx := newTestIndex(t, nil)
	res := idx.Lookup(context.Background(), fp.Of([]byte("missing")))
	assert.Equal(t, LookupNotFound, res.Kind)
}

func TestPutThenLookup(t *testing.T) {
	idx := newTestIndex(t, nil)
	f := fp.Of([]byte("hello"))
	require.NoError(t, idx.Put(context.Background(), f, Mapping{ContainerID: 7, BlockHint: 3}, true))

	res := idx.Lookup(context.Background(), f)
	require.Equal(t, LookupFound, res.Kind)
	assert.Equal(t, uint64(7), res.Mapping.ContainerID)
	assert.Equal(t, uint64(3), res.Mapping.BlockHint)
}

func TestInCombatHidesLookup(t *testing.T) {
	idx := newTestIndex(t, nil)
	f := fp.Of([]byte("combat"))
	require.NoError(t, idx.Put(context.Background(), f, Mapping{ContainerID: 9}, false))

	idx.EnterCombat(f, 9)
	res := idx.Lookup(context.Background(), f)
	assert.Equal(t, LookupNotFound, res.Kind)

	idx.LeaveCombat(f, 9)
	res = idx.Lookup(context.Background(), f)
	assert.Equal(t, LookupFound, res.Kind)
}

func TestChangePinningStateUnpinsAndEnsurePersistent(t *testing.T) {
	idx := newTestIndex(t, nil)
	f := fp.Of([]byte("pinned"))
	require.NoError(t, idx.Put(context.Background(), f, Mapping{ContainerID: 1}, true))

	require.NoError(t, idx.ChangePinningState(context.Background(), f, false))
	require.NoError(t, idx.EnsurePersistent(context.Background(), f))
}

type fakeSource struct {
	items map[uint64][]fp.Fingerprint
}

func (s *fakeSource) Items(_ context.Context, containerID uint64) ([]fp.Fingerprint, error) {
	return s.items[containerID], nil
}

func TestReplayDirectUnpinsContainerItems(t *testing.T) {
	a := fp.Of([]byte("a"))
	b := fp.Of([]byte("b"))
	source := &fakeSource{items: map[uint64][]fp.Fingerprint{5: {a, b}}}
	idx := newTestIndex(t, source)

	require.NoError(t, idx.Put(context.Background(), a, Mapping{ContainerID: 5}, true))
	require.NoError(t, idx.Put(context.Background(), b, Mapping{ContainerID: 5}, true))

	rec := oplog.Record{EventType: oplog.EventContainerCommitted, Payload: oplog.EncodeContainerCommitted(oplog.ContainerCommittedPayload{ID: 5})}
	err := idx.Replay(oplog.LogReplayContext{ReplayMode: oplog.ReplayDirect}, rec)
	require.NoError(t, err)
}

func TestReplayDirtyStartImportsUntrackedContainer(t *testing.T) {
	a := fp.Of([]byte("dirty-a"))
	source := &fakeSource{items: map[uint64][]fp.Fingerprint{11: {a}}}
	idx := newTestIndex(t, source)

	rec := oplog.Record{EventType: oplog.EventContainerCommitted, Payload: oplog.EncodeContainerCommitted(oplog.ContainerCommittedPayload{ID: 11})}
	require.NoError(t, idx.Replay(oplog.LogReplayContext{ReplayMode: oplog.ReplayDirtyStart}, rec))

	res := idx.Lookup(context.Background(), a)
	require.Equal(t, LookupFound, res.Kind)
	assert.Equal(t, uint64(11), res.Mapping.ContainerID)
	assert.True(t, idx.tracker.Contains(context.Background(), 11))

	// Replaying again must be a no-op, not an error, since the tracker
	// already knows about container 11.
	require.NoError(t, idx.Replay(oplog.LogReplayContext{ReplayMode: oplog.ReplayDirtyStart}, rec))
}
