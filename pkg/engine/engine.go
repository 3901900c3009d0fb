package engine

import (
	"context"
	"sort"
	"time"

	"github.com/dedupv1/dedupv1-go/pkg/blockindex"
	"github.com/dedupv1/dedupv1-go/pkg/chunkindex"
	"github.com/dedupv1/dedupv1-go/pkg/containerstore"
	"github.com/dedupv1/dedupv1-go/pkg/engineerr"
	"github.com/dedupv1/dedupv1-go/pkg/fp"
	"github.com/dedupv1/dedupv1-go/pkg/metrics"
	"github.com/dedupv1/dedupv1-go/pkg/oplog"
	"github.com/dedupv1/dedupv1-go/pkg/striped"
)

// DefaultBlockSize is the default logical block size in bytes, matching the
// original engine's default (4 KiB volume block granularity).
const DefaultBlockSize = 4096

// DefaultLockCount sizes Engine's own BlockLocks/ChunkLocks tables when the
// caller doesn't supply one.
const DefaultLockCount = 1024

// Options configures an Engine.
type Options struct {
	Containers *containerstore.ContainerStore
	Chunks     *chunkindex.Index
	Blocks     *blockindex.BlockIndex
	Log        *oplog.Log

	BlockSize     uint32
	Chunker       Chunker
	Fingerprinter Fingerprinter

	BlockLocks *striped.Table
	ChunkLocks *striped.Table

	Idle    *IdleDetector
	Metrics *metrics.Metrics
}

func (o *Options) withDefaults() {
	if o.BlockSize == 0 {
		o.BlockSize = DefaultBlockSize
	}
	if o.Chunker == nil {
		o.Chunker = WholeBlockChunker{}
	}
	if o.Fingerprinter == nil {
		o.Fingerprinter = SHA256Fingerprinter{}
	}
	if o.BlockLocks == nil {
		o.BlockLocks = striped.New(DefaultLockCount)
	}
	if o.ChunkLocks == nil {
		o.ChunkLocks = striped.New(DefaultLockCount)
	}
}

// Engine wires the container store, chunk index, and block index into the
// volume-facing Write/Read/Delete operations, per spec.md §2's data flow:
// chunk, fingerprint, classify against the chunk index, append unknown
// chunks to the container store, assemble the block mapping, and hand it to
// the block index.
type Engine struct {
	opts Options
}

// New constructs an Engine. Containers, Chunks, Blocks and Log must already
// be started by the caller.
func New(opts Options) (*Engine, error) {
	opts.withDefaults()
	if opts.Containers == nil || opts.Chunks == nil || opts.Blocks == nil {
		return nil, engineerr.New(engineerr.KindConfiguration, "engine.New", "", nil)
	}
	if opts.Idle != nil && opts.Metrics != nil {
		opts.Idle.RegisterCallback(idleMetricsCallback{metrics: opts.Metrics})
	}
	return &Engine{opts: opts}, nil
}

// idleMetricsCallback mirrors the idle detector's state onto the idle_state
// gauge so a scrape reflects the most recent transition without polling.
type idleMetricsCallback struct {
	metrics *metrics.Metrics
}

func (c idleMetricsCallback) OnIdleStart() { c.metrics.SetIdle(true) }
func (c idleMetricsCallback) OnIdleEnd()   { c.metrics.SetIdle(false) }

// Write stores data at (blockID, offset) within the block, chunking it via
// the configured Chunker, deduplicating each chunk against the chunk index,
// and assembling a new block mapping version. Per spec.md §2, a write
// returns once the mapping is recorded in the auxiliary block index; it
// need not wait for referenced containers to commit.
func (e *Engine) Write(ctx context.Context, blockID uint64, offset uint32, data []byte) error {
	start := timeNow()
	defer func() { e.opts.Metrics.ObserveOperation(metrics.OpWrite, time.Since(start), len(data)) }()

	if len(data) == 0 {
		return nil
	}

	lock, wasFree := e.opts.BlockLocks.AcquireWrite(blockID)
	defer lock.Unlock()
	e.opts.Blocks.Stats.RecordLock(wasFree)

	previous, found, err := e.opts.Blocks.Lookup(ctx, blockID)
	if err != nil {
		return err
	}
	if !found {
		previous = blockindex.InitialMapping(blockID, e.opts.BlockSize)
	}

	newItems, err := e.storeChunks(ctx, offset, data)
	if err != nil {
		return err
	}

	modified := blockindex.BlockMapping{
		BlockID: blockID,
		Version: previous.Version + 1,
		Items:   mergeItems(previous.Items, offset, uint32(len(data)), newItems),
	}

	if err := e.opts.Blocks.StoreBlock(ctx, previous, modified); err != nil {
		return err
	}
	if e.opts.Idle != nil {
		e.opts.Idle.Touch()
	}
	return nil
}

// storeChunks chunks data, classifies each chunk against the chunk index,
// writes unknown chunks through the container store, and returns the
// resulting items positioned at their offset within data (relative to
// data[0], the caller adds the block-relative write offset).
func (e *Engine) storeChunks(ctx context.Context, writeOffset uint32, data []byte) ([]blockindex.Item, error) {
	chunks := e.opts.Chunker.Chunk(data)
	items := make([]blockindex.Item, 0, len(chunks))

	var pos uint32
	for _, chunk := range chunks {
		f := e.opts.Fingerprinter.Fingerprint(chunk)

		chunkLock, wasFree := e.opts.ChunkLocks.AcquireWrite(chunkKeyHash(f))
		e.opts.Blocks.Stats.RecordLock(wasFree)
		containerID, err := e.classifyAndStore(ctx, f, chunk)
		chunkLock.Unlock()
		if err != nil {
			return nil, err
		}

		items = append(items, blockindex.Item{
			FP:            f,
			DataAddress:   containerID,
			ChunkOffset:   writeOffset + pos,
			PayloadOffset: 0,
			Size:          uint32(len(chunk)),
		})
		pos += uint32(len(chunk))
	}
	return items, nil
}

// classifyAndStore implements spec.md §2's filter-chain classification:
// strong-known chunks reuse their existing container id; unknown chunks are
// appended to the container store and recorded pinned in the chunk index
// (pinned because the container they landed in may not yet be committed).
func (e *Engine) classifyAndStore(ctx context.Context, f fp.Fingerprint, chunk []byte) (uint64, error) {
	res := e.opts.Chunks.Lookup(ctx, f)
	switch res.Kind {
	case chunkindex.LookupError:
		return 0, res.Err
	case chunkindex.LookupFound:
		e.opts.Metrics.ObserveChunkDeduplicated()
		return res.Mapping.ContainerID, nil
	}

	containerID, err := e.opts.Containers.Write(ctx, f, chunk)
	if err != nil {
		return 0, err
	}
	if err := e.opts.Chunks.Put(ctx, f, chunkindex.Mapping{ContainerID: containerID}, true); err != nil {
		return 0, err
	}
	e.opts.Metrics.ObserveChunkWritten()
	return containerID, nil
}

// Read reconstructs size bytes of blockID's content starting at offset,
// zero-filling any region not covered by a stored item (a block that was
// never fully written, or a hole).
func (e *Engine) Read(ctx context.Context, blockID uint64, offset, size uint32) ([]byte, error) {
	start := timeNow()
	defer func() { e.opts.Metrics.ObserveOperation(metrics.OpRead, time.Since(start), int(size)) }()

	out := make([]byte, size)

	m, found, err := e.opts.Blocks.Lookup(ctx, blockID)
	if err != nil {
		return nil, err
	}
	if !found {
		return out, nil
	}

	end := offset + size
	for _, item := range m.Items {
		itemEnd := item.ChunkOffset + item.Size
		if itemEnd <= offset || item.ChunkOffset >= end {
			continue
		}
		if item.FP.IsEmpty() || item.DataAddress == blockindex.EmptyDataAddress {
			continue
		}

		chunk, err := e.opts.Containers.Read(ctx, item.DataAddress, item.FP)
		if err != nil {
			return nil, err
		}

		overlapStart := max32(offset, item.ChunkOffset)
		overlapEnd := min32(end, itemEnd)
		srcStart := item.PayloadOffset + (overlapStart - item.ChunkOffset)
		srcEnd := item.PayloadOffset + (overlapEnd - item.ChunkOffset)
		if int(srcEnd) > len(chunk) {
			return nil, engineerr.New(engineerr.KindCorruption, "engine.Read", item.FP.String(), nil)
		}
		copy(out[overlapStart-offset:overlapEnd-offset], chunk[srcStart:srcEnd])
	}
	return out, nil
}

// Delete replaces blockID's mapping with an empty one, freeing its logical
// content. The actual garbage collection of now-unreferenced chunks and
// containers is the external GC policy's job (spec.md §1's Non-goals); this
// only records that the block no longer references anything.
func (e *Engine) Delete(ctx context.Context, blockID uint64) error {
	start := timeNow()
	defer func() { e.opts.Metrics.ObserveOperation(metrics.OpDelete, time.Since(start), 0) }()

	lock, wasFree := e.opts.BlockLocks.AcquireWrite(blockID)
	defer lock.Unlock()
	e.opts.Blocks.Stats.RecordLock(wasFree)

	previous, found, err := e.opts.Blocks.Lookup(ctx, blockID)
	if err != nil {
		return err
	}
	if !found {
		return nil
	}

	modified := blockindex.InitialMapping(blockID, e.opts.BlockSize)
	modified.Version = previous.Version + 1
	return e.opts.Blocks.StoreBlock(ctx, previous, modified)
}

// mergeItems produces the full set of items covering a block after a write
// of writeSize bytes at writeOffset: previous items outside the written
// range are kept verbatim, clipped at the boundary; new items fill the
// written range. A clipped fragment keeps pointing at the same stored chunk
// as its parent item, adjusting PayloadOffset by however far the fragment's
// block-relative start moved from the parent's.
func mergeItems(previous []blockindex.Item, writeOffset, writeSize uint32, newItems []blockindex.Item) []blockindex.Item {
	writeEnd := writeOffset + writeSize
	merged := make([]blockindex.Item, 0, len(previous)+len(newItems))

	for _, it := range previous {
		itEnd := it.ChunkOffset + it.Size
		if itEnd <= writeOffset || it.ChunkOffset >= writeEnd {
			merged = append(merged, it)
			continue
		}
		if it.ChunkOffset < writeOffset {
			merged = append(merged, blockindex.Item{
				FP: it.FP, DataAddress: it.DataAddress,
				ChunkOffset: it.ChunkOffset, PayloadOffset: it.PayloadOffset,
				Size: writeOffset - it.ChunkOffset,
			})
		}
		if itEnd > writeEnd {
			merged = append(merged, blockindex.Item{
				FP: it.FP, DataAddress: it.DataAddress,
				ChunkOffset: writeEnd, PayloadOffset: it.PayloadOffset + (writeEnd - it.ChunkOffset),
				Size: itEnd - writeEnd,
			})
		}
	}

	merged = append(merged, newItems...)
	sort.Slice(merged, func(i, j int) bool { return merged[i].ChunkOffset < merged[j].ChunkOffset })
	return merged
}

func chunkKeyHash(f fp.Fingerprint) uint64 {
	var h uint64 = 1469598103934665603 // FNV offset basis
	for _, b := range f.Bytes() {
		h ^= uint64(b)
		h *= 1099511628211 // FNV prime
	}
	return h
}

func max32(a, b uint32) uint32 {
	if a > b {
		return a
	}
	return b
}

func min32(a, b uint32) uint32 {
	if a < b {
		return a
	}
	return b
}
