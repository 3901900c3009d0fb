// Package bootstrap assembles a full Engine from a loaded config.Config,
// choosing concrete kvindex backends per the config's backend selectors and
// wiring them the same way pkg/engine's own test helper does, grounded on
// the teacher's pkg/config.InitializeRegistry (cmd/dittofs/commands/start.go
// calls it to turn static configuration into a running object graph before
// handing it to the server).
package bootstrap

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/dedupv1/dedupv1-go/pkg/bitmap"
	"github.com/dedupv1/dedupv1-go/pkg/blockindex"
	"github.com/dedupv1/dedupv1-go/pkg/chunkindex"
	"github.com/dedupv1/dedupv1-go/pkg/config"
	"github.com/dedupv1/dedupv1-go/pkg/container"
	"github.com/dedupv1/dedupv1-go/pkg/containerstore"
	"github.com/dedupv1/dedupv1-go/pkg/engine"
	"github.com/dedupv1/dedupv1-go/pkg/kvindex"
	"github.com/dedupv1/dedupv1-go/pkg/kvindex/badgerindex"
	"github.com/dedupv1/dedupv1-go/pkg/kvindex/boltindex"
	"github.com/dedupv1/dedupv1-go/pkg/kvindex/diskhash"
	"github.com/dedupv1/dedupv1-go/pkg/kvindex/memory"
	"github.com/dedupv1/dedupv1-go/pkg/metrics"
	"github.com/dedupv1/dedupv1-go/pkg/oplog"
)

// defaultBitmapBuckets and defaultBitmapPageSize size the bitmap allocator's
// diskhash backing. Not config-exposed: the bitmap's own page layout is an
// implementation detail of pkg/bitmap, not a deployment knob.
const (
	defaultBitmapBuckets  = 4096
	defaultBitmapPageSize = 8192
)

// System is the fully wired engine and the pieces a caller needs to manage
// its lifecycle (start, stop, and report on) beyond the Engine's own
// Write/Read/Delete surface.
type System struct {
	Engine     *engine.Engine
	Containers *containerstore.ContainerStore
	Chunks     *chunkindex.Index
	Blocks     *blockindex.BlockIndex
	Log        *oplog.Log
	Idle       *engine.IdleDetector
	Metrics    *metrics.Metrics

	closers []func() error
}

// Build constructs a System from cfg. registry may be nil, in which case
// metrics are created but not exposed on a Prometheus endpoint.
func Build(cfg *config.Config, registry prometheus.Registerer) (*System, error) {
	sys := &System{}

	if err := os.MkdirAll(cfg.Storage.Dir, 0755); err != nil {
		return nil, fmt.Errorf("bootstrap: creating storage directory: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(cfg.OpLog.Path), 0755); err != nil {
		return nil, fmt.Errorf("bootstrap: creating operation log directory: %w", err)
	}

	log, err := oplog.Open(cfg.OpLog.Path, cfg.OpLog.InitialSize)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: opening operation log: %w", err)
	}
	sys.Log = log
	sys.addCloser(log.Close)

	allocatorBacking, err := diskhash.Open("bitmap", filepath.Join(cfg.Storage.Dir, "bitmap"), defaultBitmapBuckets, defaultBitmapPageSize)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: opening bitmap allocator: %w", err)
	}
	sys.addCloser(allocatorBacking.Close)
	allocator := bitmap.New(allocatorBacking)

	metadataIndex, closeMetadata, err := openIndex(cfg.KVIndex.MetadataBackend, "metadata", filepath.Join(cfg.Storage.Dir, "metadata"))
	if err != nil {
		return nil, fmt.Errorf("bootstrap: opening metadata index: %w", err)
	}
	sys.addCloser(closeMetadata)

	file := containerstore.NewContainerFile(filepath.Join(cfg.Storage.Dir, "containers.dat"), cfg.Container.Size)
	compression := container.CompressionNone
	if cfg.Container.Compression == "zstd" {
		compression = container.CompressionZstd
	}

	cs, err := containerstore.New(containerstore.Options{
		Files:            []*containerstore.ContainerFile{file},
		ContainerSize:    cfg.Container.Size,
		MetadataAreaSize: cfg.Container.MetadataAreaSize,
		Compression:      compression,
		WriteSlots:       cfg.Cache.WriteCacheContainers,
		ReadCacheSize:    cfg.Cache.ReadCacheContainers,
		TimeoutSeconds:   int(cfg.Cache.CommitTimeout.Seconds()),
		MetadataIndex:    metadataIndex,
		Allocator:        allocator,
		Log:              log,
	})
	if err != nil {
		return nil, fmt.Errorf("bootstrap: constructing container store: %w", err)
	}
	if err := cs.Start(context.Background()); err != nil {
		return nil, fmt.Errorf("bootstrap: starting container store: %w", err)
	}
	sys.Containers = cs

	chunksBackend, closeChunks, err := openWriteBackIndex(cfg.KVIndex.ChunkIndexBackend, "chunks", filepath.Join(cfg.Storage.Dir, "chunks"))
	if err != nil {
		return nil, fmt.Errorf("bootstrap: opening chunk index backend: %w", err)
	}
	sys.addCloser(closeChunks)
	trackerBackend, closeTracker, err := openIndex(cfg.KVIndex.ChunkIndexBackend, "tracker", filepath.Join(cfg.Storage.Dir, "tracker"))
	if err != nil {
		return nil, fmt.Errorf("bootstrap: opening container tracker index: %w", err)
	}
	sys.addCloser(closeTracker)
	tracker := chunkindex.NewContainerTracker(trackerBackend)
	chunks, err := chunkindex.New(chunkindex.Options{Backend: chunksBackend, Tracker: tracker, Source: cs})
	if err != nil {
		return nil, fmt.Errorf("bootstrap: constructing chunk index: %w", err)
	}
	log.RegisterConsumer("chunkindex", chunks)
	sys.Chunks = chunks

	persistentBlocks, closePersistent, err := openIndex(cfg.KVIndex.BlockIndexBackend, "blocks", filepath.Join(cfg.Storage.Dir, "blocks"))
	if err != nil {
		return nil, fmt.Errorf("bootstrap: opening block index backend: %w", err)
	}
	sys.addCloser(closePersistent)
	failedBlocks, closeFailed, err := openIndex(cfg.KVIndex.BlockIndexBackend, "failed", filepath.Join(cfg.Storage.Dir, "failed"))
	if err != nil {
		return nil, fmt.Errorf("bootstrap: opening failed-block index backend: %w", err)
	}
	sys.addCloser(closeFailed)

	blocks := blockindex.NewBlockIndex(blockindex.Config{
		Log:        log,
		Persistent: persistentBlocks,
		Failed:     failedBlocks,
		Checker:    engine.NewCommitChecker(cs),
	})
	sys.Blocks = blocks

	// Clear the tracker so every ContainerCommitted event since the last
	// clean shutdown is re-applied to the chunk index during dirty-start
	// replay instead of being skipped as "already imported".
	if err := tracker.Reset(context.Background()); err != nil {
		return nil, fmt.Errorf("bootstrap: resetting container tracker: %w", err)
	}

	// Every consumer (chunk index, block index) is registered above; replay
	// any records left over from an unclean shutdown before serving writes.
	if err := log.ReplayDirtyStart(); err != nil {
		return nil, fmt.Errorf("bootstrap: replaying operation log: %w", err)
	}

	importerCtx, cancelImporter := context.WithCancel(context.Background())
	blocks.Importer.Start(importerCtx)
	sys.addCloser(func() error {
		cancelImporter()
		blocks.Importer.Stop()
		return nil
	})

	// Registered after the importer's closer (and thus run before it on
	// shutdown) so the final force-commit's resulting ContainerCommitted
	// events are enqueued into a still-running importer rather than a
	// stopped one.
	sys.addCloser(func() error { return cs.Stop(context.Background()) })

	idle := engine.NewIdleDetector()
	idle.Start()
	sys.addCloser(func() error { idle.Stop(); return nil })
	sys.Idle = idle

	m := metrics.NewMetrics(registry)
	sys.Metrics = m

	eng, err := engine.New(engine.Options{
		Containers: cs,
		Chunks:     chunks,
		Blocks:     blocks,
		Log:        log,
		Idle:       idle,
		Metrics:    m,
	})
	if err != nil {
		return nil, fmt.Errorf("bootstrap: constructing engine: %w", err)
	}
	sys.Engine = eng

	return sys, nil
}

// Close tears down every opened resource in reverse acquisition order.
func (s *System) Close() error {
	var firstErr error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (s *System) addCloser(f func() error) {
	s.closers = append(s.closers, f)
}

// openIndex opens a plain kvindex.Index backend by name ("memory", "bolt",
// or "badger"), returning its close function.
func openIndex(backend, name, path string) (kvindex.Index, func() error, error) {
	switch backend {
	case "memory":
		idx := memory.New(name)
		return idx, idx.Close, nil
	case "bolt":
		idx, err := boltindex.Open(name, path+".db")
		if err != nil {
			return nil, nil, err
		}
		return idx, idx.Close, nil
	case "badger":
		idx, err := badgerindex.Open(name, path)
		if err != nil {
			return nil, nil, err
		}
		return idx, idx.Close, nil
	default:
		return nil, nil, fmt.Errorf("bootstrap: unknown index backend %q", backend)
	}
}

// openWriteBackIndex is openIndex restricted to backends implementing
// kvindex.WriteBackCache, as the chunk index requires.
func openWriteBackIndex(backend, name, path string) (kvindex.WriteBackCache, func() error, error) {
	switch backend {
	case "memory":
		idx := memory.New(name)
		return idx, idx.Close, nil
	case "badger":
		idx, err := badgerindex.Open(name, path)
		if err != nil {
			return nil, nil, err
		}
		return idx, idx.Close, nil
	default:
		return nil, nil, fmt.Errorf("bootstrap: unknown write-back index backend %q", backend)
	}
}
