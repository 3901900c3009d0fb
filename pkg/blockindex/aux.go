package blockindex

import (
	"context"
	"sync"

	"github.com/dedupv1/dedupv1-go/pkg/engineerr"
	"github.com/dedupv1/dedupv1-go/pkg/oplog"
)

var _ CommitCallback = (*AuxiliaryBlockIndex)(nil)

// AuxiliaryBlockIndex is the in-memory map of block versions not yet
// promoted to the persistent index, per spec.md §4.6.2.
type AuxiliaryBlockIndex struct {
	mu   sync.RWMutex
	data map[uint64]BlockMapping

	log      *oplog.Log
	volatile *VolatileBlockStore
	importer *BackgroundImporter
}

// NewAuxiliaryBlockIndex constructs an auxiliary index that logs through
// log (nil permitted for tests) and hands new versions to volatile to
// track until promotion is safe.
func NewAuxiliaryBlockIndex(log *oplog.Log, volatile *VolatileBlockStore) *AuxiliaryBlockIndex {
	return &AuxiliaryBlockIndex{data: make(map[uint64]BlockMapping), log: log, volatile: volatile}
}

// SetImporter wires the background importer this index's commit callback
// notifies. Split from the constructor because the importer is itself
// constructed with a reference to this index.
func (a *AuxiliaryBlockIndex) SetImporter(imp *BackgroundImporter) { a.importer = imp }

// Get returns blockID's most recent auxiliary-held mapping, if any.
func (a *AuxiliaryBlockIndex) Get(blockID uint64) (BlockMapping, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	m, ok := a.data[blockID]
	return m, ok
}

// Size reports the number of entries currently held, consulted by the
// background importer's soft/hard throttle limits.
func (a *AuxiliaryBlockIndex) Size() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.data)
}

// removeIfVersion removes blockID's entry iff it is still exactly version,
// so a newer write racing in after promotion started is never clobbered.
func (a *AuxiliaryBlockIndex) removeIfVersion(blockID, version uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if m, ok := a.data[blockID]; ok && m.Version == version {
		delete(a.data, blockID)
	}
}

// insert unconditionally records m, used both by StoreBlock and by dirty
// replay of BlockMappingWritten events.
func (a *AuxiliaryBlockIndex) insert(m BlockMapping) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if existing, ok := a.data[m.BlockID]; ok && existing.Version >= m.Version {
		return
	}
	a.data[m.BlockID] = m
}

// StoreBlock records a new version of modified.BlockID, per spec.md
// §4.6.2: emit BlockMappingWritten, insert into the auxiliary index, then
// hand the version to the volatile block store.
func (a *AuxiliaryBlockIndex) StoreBlock(ctx context.Context, previous, modified BlockMapping) error {
	containerIDs := usedContainers(modified)
	pair := Pair{BlockID: modified.BlockID, Previous: previous, Modified: modified}

	var eventLogID uint64
	if a.log != nil {
		id, err := a.log.Append(oplog.EventBlockMappingWritten, oplog.EncodeBlockMappingWritten(oplog.BlockMappingWrittenPayload{
			BlockID:      modified.BlockID,
			Version:      modified.Version,
			ContainerIDs: containerIDs,
			PairBlob:     pair.Marshal(),
		}))
		if err != nil {
			return engineerr.New(engineerr.KindIO, "blockindex.StoreBlock", "", err)
		}
		eventLogID = id
	}
	modified.EventLogID = eventLogID

	a.insert(modified)

	if a.volatile == nil {
		return nil
	}
	return a.volatile.AddBlock(ctx, previous, modified, containerIDs, eventLogID)
}

// CommitVolatileBlock implements CommitCallback: once the volatile block
// store decides modified's version is safe to promote, hand it to the
// background importer's ready queue.
func (a *AuxiliaryBlockIndex) CommitVolatileBlock(ctx context.Context, blockID uint64, modified BlockMapping, eventLogID uint64) error {
	if a.importer == nil {
		return nil
	}
	return a.importer.Enqueue(ctx, blockID, modified.Version)
}
