package engine

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dedupv1/dedupv1-go/pkg/bitmap"
	"github.com/dedupv1/dedupv1-go/pkg/blockindex"
	"github.com/dedupv1/dedupv1-go/pkg/chunkindex"
	"github.com/dedupv1/dedupv1-go/pkg/container"
	"github.com/dedupv1/dedupv1-go/pkg/containerstore"
	"github.com/dedupv1/dedupv1-go/pkg/kvindex/badgerindex"
	"github.com/dedupv1/dedupv1-go/pkg/kvindex/boltindex"
	"github.com/dedupv1/dedupv1-go/pkg/kvindex/diskhash"
	"github.com/dedupv1/dedupv1-go/pkg/kvindex/memory"
	"github.com/dedupv1/dedupv1-go/pkg/oplog"
)

func newTestEngine(t *testing.T) (*Engine, *containerstore.ContainerStore) {
	t.Helper()
	dir := t.TempDir()

	log, err := oplog.Open(filepath.Join(dir, "oplog"), 1<<20)
	require.NoError(t, err)
	t.Cleanup(func() { _ = log.Close() })

	allocatorBacking, err := diskhash.Open("bitmap", filepath.Join(dir, "bitmap"), 64, 8192)
	require.NoError(t, err)
	t.Cleanup(func() { _ = allocatorBacking.Close() })
	allocator := bitmap.New(allocatorBacking)

	metadataIndex, err := boltindex.Open("metadata", filepath.Join(dir, "metadata.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = metadataIndex.Close() })

	file := containerstore.NewContainerFile(filepath.Join(dir, "containers.dat"), container.DefaultSize)

	cs, err := containerstore.New(containerstore.Options{
		Files:         []*containerstore.ContainerFile{file},
		Allocator:     allocator,
		MetadataIndex: metadataIndex,
		Log:           log,
	})
	require.NoError(t, err)
	require.NoError(t, cs.Start(context.Background()))
	t.Cleanup(func() { _ = cs.Stop(context.Background()) })

	chunksBackend, err := badgerindex.Open("chunks", filepath.Join(dir, "chunks"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = chunksBackend.Close() })
	tracker := chunkindex.NewContainerTracker(memory.New("tracker"))
	chunks, err := chunkindex.New(chunkindex.Options{Backend: chunksBackend, Tracker: tracker, Source: cs})
	require.NoError(t, err)
	log.RegisterConsumer("chunkindex", chunks)

	persistentBlocks, err := badgerindex.Open("blocks", filepath.Join(dir, "blocks"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = persistentBlocks.Close() })
	failedBlocks, err := badgerindex.Open("failed", filepath.Join(dir, "failed"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = failedBlocks.Close() })

	blocks := blockindex.NewBlockIndex(blockindex.Config{
		Log:        log,
		Persistent: persistentBlocks,
		Failed:     failedBlocks,
		Checker:    &commitChecker{store: cs},
	})

	e, err := New(Options{
		Containers: cs,
		Chunks:     chunks,
		Blocks:     blocks,
		Log:        log,
		BlockSize:  4096,
	})
	require.NoError(t, err)
	return e, cs
}

func TestWriteThenReadRoundTrips(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	data := make([]byte, 4096)
	for i := range data {
		data[i] = byte(i)
	}
	require.NoError(t, e.Write(ctx, 1, 0, data))

	got, err := e.Read(ctx, 1, 0, 4096)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestReadUnwrittenBlockIsZeroFilled(t *testing.T) {
	e, _ := newTestEngine(t)
	got, err := e.Read(context.Background(), 42, 0, 1024)
	require.NoError(t, err)
	assert.Equal(t, make([]byte, 1024), got)
}

func TestPartialWritePreservesUntouchedRegion(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	full := make([]byte, 4096)
	for i := range full {
		full[i] = 0xAA
	}
	require.NoError(t, e.Write(ctx, 2, 0, full))

	patch := make([]byte, 512)
	for i := range patch {
		patch[i] = 0xBB
	}
	require.NoError(t, e.Write(ctx, 2, 1024, patch))

	got, err := e.Read(ctx, 2, 0, 4096)
	require.NoError(t, err)
	assert.Equal(t, byte(0xAA), got[0])
	assert.Equal(t, byte(0xAA), got[1023])
	assert.Equal(t, byte(0xBB), got[1024])
	assert.Equal(t, byte(0xBB), got[1535])
	assert.Equal(t, byte(0xAA), got[1536])
}

func TestWriteDeduplicatesIdenticalContentAcrossBlocks(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	data := make([]byte, 4096)
	for i := range data {
		data[i] = 0x42
	}
	require.NoError(t, e.Write(ctx, 10, 0, data))
	require.NoError(t, e.Write(ctx, 11, 0, data))

	m1, found1, err := e.opts.Blocks.Lookup(ctx, 10)
	require.NoError(t, err)
	require.True(t, found1)
	m2, found2, err := e.opts.Blocks.Lookup(ctx, 11)
	require.NoError(t, err)
	require.True(t, found2)

	assert.Equal(t, m1.Items[0].DataAddress, m2.Items[0].DataAddress)
}

func TestDeleteClearsBlockContent(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	data := make([]byte, 4096)
	for i := range data {
		data[i] = 7
	}
	require.NoError(t, e.Write(ctx, 5, 0, data))
	require.NoError(t, e.Delete(ctx, 5))

	got, err := e.Read(ctx, 5, 0, 4096)
	require.NoError(t, err)
	assert.Equal(t, make([]byte, 4096), got)
}

func TestIdleDetectorForceIdleFiresCallback(t *testing.T) {
	d := NewIdleDetector()
	fired := make(chan struct{}, 1)
	d.RegisterCallback(idleCallbackFunc{onStart: func() { fired <- struct{}{} }})
	d.ForceIdle()
	select {
	case <-fired:
	default:
		t.Fatal("expected OnIdleStart to fire")
	}
}

type idleCallbackFunc struct {
	onStart func()
	onEnd   func()
}

func (f idleCallbackFunc) OnIdleStart() {
	if f.onStart != nil {
		f.onStart()
	}
}
func (f idleCallbackFunc) OnIdleEnd() {
	if f.onEnd != nil {
		f.onEnd()
	}
}
