package blockindex

import (
	"context"
	"encoding/binary"

	"github.com/dedupv1/dedupv1-go/pkg/engineerr"
	"github.com/dedupv1/dedupv1-go/pkg/kvindex"
	"github.com/dedupv1/dedupv1-go/pkg/oplog"
)

// FailedBlockIndex is the persistent (block_id, version) -> failure record
// set, per spec.md §4.6.4: writes whose failure has been logged but whose
// BlockMappingWriteFailed event hasn't fully replayed yet.
type FailedBlockIndex struct {
	backend kvindex.Index
	log     *oplog.Log
}

// NewFailedBlockIndex wraps backend as a FailedBlockIndex, logging through
// log (nil permitted for tests).
func NewFailedBlockIndex(backend kvindex.Index, log *oplog.Log) *FailedBlockIndex {
	return &FailedBlockIndex{backend: backend, log: log}
}

func failedKey(blockID, version uint64) []byte {
	b := make([]byte, 16)
	binary.BigEndian.PutUint64(b[0:8], blockID)
	binary.BigEndian.PutUint64(b[8:16], version)
	return b
}

// MarkBlockWriteAsFailed records that pair.Modified's write failed: emits
// BlockMappingWriteFailed and inserts (block_id, version) into the
// failed-block-write index.
func (f *FailedBlockIndex) MarkBlockWriteAsFailed(ctx context.Context, pair Pair, writeEventLogID uint64) error {
	if f.log != nil {
		_, err := f.log.Append(oplog.EventBlockMappingWriteFailed, oplog.EncodeBlockMappingWriteFailed(oplog.BlockMappingWriteFailedPayload{
			BlockID:         pair.BlockID,
			Version:         pair.Modified.Version,
			WriteEventLogID: writeEventLogID,
			PairBlob:        pair.Marshal(),
		}))
		if err != nil {
			return engineerr.New(engineerr.KindIO, "blockindex.MarkBlockWriteAsFailed", "", err)
		}
	}
	if res := f.backend.Put(ctx, failedKey(pair.BlockID, pair.Modified.Version), pair.Marshal()); res.Kind == kvindex.PutError {
		return engineerr.New(engineerr.KindIO, "blockindex.MarkBlockWriteAsFailed", "", res.Err)
	}
	return nil
}

// Contains reports whether (blockID, version) is recorded as failed.
func (f *FailedBlockIndex) Contains(ctx context.Context, blockID, version uint64) bool {
	res := f.backend.Lookup(ctx, failedKey(blockID, version))
	return res.Kind == kvindex.LookupFound
}

// clear removes (blockID, version)'s failure record once its failed event
// has been fully replayed and any still-volatile entry cleaned up.
func (f *FailedBlockIndex) clear(ctx context.Context, blockID, version uint64) error {
	if res := f.backend.Delete(ctx, failedKey(blockID, version)); res.Kind == kvindex.DeleteError {
		return engineerr.New(engineerr.KindIO, "blockindex.FailedBlockIndex.clear", "", res.Err)
	}
	return nil
}
