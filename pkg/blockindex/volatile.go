package blockindex

import (
	"context"
	"sync"
)

// CommitCallback receives a block version once the volatile block store
// has determined it is safe to promote: every container it references is
// committed, and every earlier version of the same block has already
// fired. Implemented by AuxiliaryBlockIndex.
type CommitCallback interface {
	CommitVolatileBlock(ctx context.Context, blockID uint64, modified BlockMapping, eventLogID uint64) error
}

// CommitChecker lets the volatile block store live-check a container's
// commit state against the container store directly, for the case where
// ContainerCommitted was already replayed before AddBlock runs (the
// container store and the block index process the same append
// independently; see pkg/engine's wiring of this interface to
// pkg/containerstore.ContainerStore.IsCommitted).
type CommitChecker interface {
	IsCommitted(containerID uint64) bool
}

// handle identifies one UncommittedBlockEntry: the (block_id, entry
// sequence) pair this repository's Open Questions resolved spec.md's
// "arena + stable keys" Design Note to, replacing the original's
// multimap-iterator adjacency lists with a plain map lookup.
type handle struct {
	blockID uint64
	seq     uint64
}

// blockEntry is an UncommittedBlockEntry: a block version waiting on open
// containers and/or earlier versions of the same block before it can be
// safely promoted to the persistent index.
type blockEntry struct {
	handle     handle
	version    uint64
	previous   BlockMapping
	modified   BlockMapping
	eventLogID uint64

	openContainerCount   int
	openPredecessorCount int
	successors           []handle
	failed               bool
}

// VolatileBlockStore is the linchpin of write-time consistency: it holds
// every block version not yet safe to promote, and fires CommitCallback in
// per-block version order as dependencies clear.
type VolatileBlockStore struct {
	mu sync.Mutex

	entries     map[handle]*blockEntry
	byBlock     map[uint64][]handle
	byContainer map[uint64][]handle

	committedContainers map[uint64]bool

	nextSeq uint64

	callback CommitCallback
	checker  CommitChecker
}

// NewVolatileBlockStore constructs a store that invokes callback once a
// version becomes commit-ready. checker may be nil, in which case only
// Commit calls (driven by replaying ContainerCommitted events) ever mark a
// container committed.
func NewVolatileBlockStore(callback CommitCallback, checker CommitChecker) *VolatileBlockStore {
	return &VolatileBlockStore{
		entries:              make(map[handle]*blockEntry),
		byBlock:              make(map[uint64][]handle),
		byContainer:          make(map[uint64][]handle),
		committedContainers:  make(map[uint64]bool),
		callback:             callback,
		checker:              checker,
	}
}

// AddBlock registers a newly written block version, per spec.md §4.6.1.
// If none of its referenced containers are still open and no earlier
// version of the same block is still pending, the commit callback fires
// before AddBlock returns; otherwise the version is tracked until Commit
// (or Abort) calls clear its dependencies.
func (vs *VolatileBlockStore) AddBlock(ctx context.Context, previous, modified BlockMapping, containerIDs []uint64, eventLogID uint64) error {
	vs.mu.Lock()

	var openIDs []uint64
	for _, id := range containerIDs {
		if vs.committedContainers[id] {
			continue
		}
		if vs.checker != nil && vs.checker.IsCommitted(id) {
			vs.committedContainers[id] = true
			continue
		}
		openIDs = append(openIDs, id)
	}

	var predecessors []handle
	for _, h := range vs.byBlock[modified.BlockID] {
		e := vs.entries[h]
		if e == nil || e.failed {
			continue
		}
		if e.version < modified.Version {
			predecessors = append(predecessors, h)
		}
	}

	if len(openIDs) == 0 && len(predecessors) == 0 {
		vs.mu.Unlock()
		return vs.invoke(ctx, modified, eventLogID)
	}

	vs.nextSeq++
	h := handle{blockID: modified.BlockID, seq: vs.nextSeq}
	e := &blockEntry{
		handle:               h,
		version:              modified.Version,
		previous:             previous,
		modified:             modified,
		eventLogID:           eventLogID,
		openContainerCount:   len(openIDs),
		openPredecessorCount: len(predecessors),
	}
	vs.entries[h] = e
	vs.byBlock[modified.BlockID] = append(vs.byBlock[modified.BlockID], h)
	for _, id := range openIDs {
		vs.byContainer[id] = append(vs.byContainer[id], h)
	}
	for _, ph := range predecessors {
		pe := vs.entries[ph]
		pe.successors = append(pe.successors, h)
	}
	vs.mu.Unlock()
	return nil
}

// Commit releases every entry waiting on containerID, firing any that
// become commit-ready as a result, and cascades readiness to their
// successors in version order. Never holds the store mutex while invoking
// callback, per spec.md §5's locking rules.
func (vs *VolatileBlockStore) Commit(ctx context.Context, containerID uint64) error {
	vs.mu.Lock()
	vs.committedContainers[containerID] = true
	handles := vs.byContainer[containerID]
	delete(vs.byContainer, containerID)

	var ready []handle
	for _, h := range handles {
		e := vs.entries[h]
		if e == nil || e.failed {
			continue
		}
		if e.openContainerCount > 0 {
			e.openContainerCount--
		}
		if e.openContainerCount == 0 && e.openPredecessorCount == 0 {
			ready = append(ready, h)
		}
	}
	vs.mu.Unlock()

	return vs.fireReady(ctx, ready)
}

// fireReady drains a worklist of commit-ready handles, invoking callback
// for each outside the lock and, on success, cascading readiness to
// successors whose last predecessor just cleared. Per spec.md §4.6.1's
// failure policy, a callback failure removes the failed entry but its
// successors are never fired — they remain pending forever rather than
// risk skipping a version in the persistent index.
func (vs *VolatileBlockStore) fireReady(ctx context.Context, ready []handle) error {
	for len(ready) > 0 {
		h := ready[0]
		ready = ready[1:]

		vs.mu.Lock()
		e := vs.entries[h]
		if e == nil || e.failed {
			vs.mu.Unlock()
			continue
		}
		delete(vs.entries, h)
		vs.removeFromBlockListLocked(h)
		successors := e.successors
		vs.mu.Unlock()

		if err := vs.invoke(ctx, e.modified, e.eventLogID); err != nil {
			return err
		}

		vs.mu.Lock()
		for _, sh := range successors {
			se := vs.entries[sh]
			if se == nil || se.failed {
				continue
			}
			if se.openPredecessorCount > 0 {
				se.openPredecessorCount--
			}
			if se.openPredecessorCount == 0 && se.openContainerCount == 0 {
				ready = append(ready, sh)
			}
		}
		vs.mu.Unlock()
	}
	return nil
}

func (vs *VolatileBlockStore) invoke(ctx context.Context, modified BlockMapping, eventLogID uint64) error {
	if vs.callback == nil {
		return nil
	}
	return vs.callback.CommitVolatileBlock(ctx, modified.BlockID, modified, eventLogID)
}

func (vs *VolatileBlockStore) removeFromBlockListLocked(h handle) {
	list := vs.byBlock[h.blockID]
	for i, cur := range list {
		if cur == h {
			vs.byBlock[h.blockID] = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(vs.byBlock[h.blockID]) == 0 {
		delete(vs.byBlock, h.blockID)
	}
}

// Abort marks every entry waiting on containerID as failed and cascades
// the failure to their successors, since a later version built on the
// assumption that this one would succeed is no longer valid.
func (vs *VolatileBlockStore) Abort(containerID uint64) {
	vs.mu.Lock()
	defer vs.mu.Unlock()

	handles := vs.byContainer[containerID]
	delete(vs.byContainer, containerID)

	visited := make(map[handle]bool)
	var cascade func(h handle)
	cascade = func(h handle) {
		if visited[h] {
			return
		}
		visited[h] = true
		e := vs.entries[h]
		if e == nil {
			return
		}
		e.failed = true
		for _, s := range e.successors {
			cascade(s)
		}
	}
	for _, h := range handles {
		cascade(h)
	}
}

// PendingCount reports the number of block versions currently tracked
// (every entry not yet fired, including entries marked failed, which stay
// tracked), for monitor/stats surfaces.
func (vs *VolatileBlockStore) PendingCount() int {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	return len(vs.entries)
}

// FailVersion marks blockID's entry at version as failed, if still
// tracked, cascading the failure to its successors. Used when replaying a
// BlockMappingWriteFailed event to mark failed any volatile entry the failed
// write created before the failure was durably logged; the entry is not
// removed.
func (vs *VolatileBlockStore) FailVersion(blockID, version uint64) {
	vs.mu.Lock()
	defer vs.mu.Unlock()

	var target handle
	found := false
	for _, h := range vs.byBlock[blockID] {
		if e := vs.entries[h]; e != nil && e.version == version {
			target = h
			found = true
			break
		}
	}
	if !found {
		return
	}

	visited := make(map[handle]bool)
	var cascade func(h handle)
	cascade = func(h handle) {
		if visited[h] {
			return
		}
		visited[h] = true
		e := vs.entries[h]
		if e == nil {
			return
		}
		e.failed = true
		for _, s := range e.successors {
			cascade(s)
		}
	}
	cascade(target)
}
