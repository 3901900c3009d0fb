package blockindex

import (
	"context"
	"time"

	"github.com/dedupv1/dedupv1-go/pkg/oplog"
)

var _ oplog.Consumer = (*BlockIndex)(nil)

// BlockIndex aggregates the auxiliary index, persistent index, volatile
// coordinator, background importer and failed-write index into the single
// log consumer pkg/engine wires into the operation log, per spec.md §4.6.
type BlockIndex struct {
	Aux        *AuxiliaryBlockIndex
	Persistent *PersistentBlockIndex
	Volatile   *VolatileBlockStore
	Importer   *BackgroundImporter
	Failed     *FailedBlockIndex
	Stats      Stats
}

// Lookup returns blockID's current mapping, preferring the auxiliary
// index's unpromoted version over the persistent index.
func (b *BlockIndex) Lookup(ctx context.Context, blockID uint64) (BlockMapping, bool, error) {
	start := time.Now()
	defer func() { b.Stats.RecordRead(time.Since(start)) }()

	if m, ok := b.Aux.Get(blockID); ok {
		return m, true, nil
	}
	return b.Persistent.Lookup(ctx, blockID)
}

// StoreBlock records a new version of modified, per spec.md §4.6.1/§4.6.2.
func (b *BlockIndex) StoreBlock(ctx context.Context, previous, modified BlockMapping) error {
	start := time.Now()
	defer func() { b.Stats.RecordWrite(time.Since(start)) }()
	return b.Aux.StoreBlock(ctx, previous, modified)
}

// MarkBlockWriteAsFailed records that pair's write failed and marks any
// volatile entry it may have created as failed, so neither it nor its
// successors ever fire.
func (b *BlockIndex) MarkBlockWriteAsFailed(ctx context.Context, pair Pair, writeEventLogID uint64) error {
	b.Volatile.FailVersion(pair.BlockID, pair.Modified.Version)
	return b.Failed.MarkBlockWriteAsFailed(ctx, pair, writeEventLogID)
}

// Replay implements oplog.Consumer. Direct replay mirrors work this
// engine already did inline when the event was first appended (the
// in-memory structures are unaffected by a crash that never happened);
// DirtyStart/Background replay reconstruct aux/volatile state from the
// log, since those structures are not themselves persisted.
func (b *BlockIndex) Replay(ctx oplog.LogReplayContext, rec oplog.Record) error {
	start := time.Now()
	defer func() { b.Stats.RecordReplay(time.Since(start)) }()

	background := context.Background()

	switch rec.EventType {
	case oplog.EventBlockMappingWritten:
		if ctx.ReplayMode == oplog.ReplayDirect {
			return nil
		}
		p := oplog.DecodeBlockMappingWritten(rec.Payload)
		pair, err := UnmarshalPair(p.PairBlob)
		if err != nil {
			return err
		}
		pair.Modified.EventLogID = rec.LogID
		b.Aux.insert(pair.Modified)
		return b.Volatile.AddBlock(background, pair.Previous, pair.Modified, p.ContainerIDs, rec.LogID)

	case oplog.EventBlockMappingWriteFailed:
		p := oplog.DecodeBlockMappingWriteFailed(rec.Payload)
		b.Volatile.FailVersion(p.BlockID, p.Version)
		return b.Failed.clear(background, p.BlockID, p.Version)

	case oplog.EventContainerCommitted:
		p := oplog.DecodeContainerCommitted(rec.Payload)
		return b.Volatile.Commit(background, p.ID)

	default:
		return nil
	}
}
