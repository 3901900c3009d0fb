// Package chunkindex implements the global fingerprint-to-location map:
// the index that makes deduplication possible by letting a write path ask
// "have I already stored this content, and where". Grounded on
// core/include/core/chunk_index.h for the operation set and on the
// teacher's pkg/metadata/store/badger for the Go idiom of a backend-typed
// wrapper over a capability-checked kvindex.Index.
package chunkindex

import (
	"context"

	"github.com/dedupv1/dedupv1-go/pkg/engineerr"
	"github.com/dedupv1/dedupv1-go/pkg/fp"
	"github.com/dedupv1/dedupv1-go/pkg/kvindex"
)

// ContainerItemSource is the subset of pkg/containerstore.ContainerStore
// the chunk index needs: the ability to list a committed container's live
// fingerprints for import. Declared as a narrow interface here so the
// importer and replay logic are testable without a real container store.
type ContainerItemSource interface {
	Items(ctx context.Context, containerID uint64) ([]fp.Fingerprint, error)
}

// LookupKind enumerates Lookup's outcomes.
type LookupKind int

const (
	LookupNotFound LookupKind = iota
	LookupFound
	LookupError
)

// LookupResult is the sum type returned by Lookup.
type LookupResult struct {
	Kind    LookupKind
	Mapping Mapping
	Err     error
}

// Index is the fingerprint-to-location map. Its backend must support the
// write-back cache capability (badgerindex does) so a newly written
// fingerprint can be inserted pinned while its container is still open.
type Index struct {
	backend kvindex.WriteBackCache
	tracker *ContainerTracker
	combat  *inCombatSet
	source  ContainerItemSource
}

// Options configures a new Index.
type Options struct {
	Backend   kvindex.WriteBackCache
	Tracker   *ContainerTracker
	Source    ContainerItemSource // the container store items are imported from
}

// New constructs a chunk index over the given write-back-capable backend.
func New(opts Options) (*Index, error) {
	if opts.Backend == nil {
		return nil, engineerr.New(engineerr.KindConfiguration, "chunkindex.New", "", nil)
	}
	if opts.Tracker == nil {
		return nil, engineerr.New(engineerr.KindConfiguration, "chunkindex.New", "", nil)
	}
	return &Index{
		backend: opts.Backend,
		tracker: opts.Tracker,
		combat:  newInCombatSet(),
		source:  opts.Source,
	}, nil
}

// Lookup retrieves fp's mapping, if any, hiding chunks currently in-combat
// for garbage collection so no new block write can pick up a reference to
// a chunk about to be deleted.
func (idx *Index) Lookup(ctx context.Context, f fp.Fingerprint) LookupResult {
	res := idx.backend.Lookup(ctx, f.Bytes())
	switch res.Kind {
	case kvindex.LookupError:
		return LookupResult{Kind: LookupError, Err: res.Err}
	case kvindex.LookupNotFound:
		return LookupResult{Kind: LookupNotFound}
	}

	m := UnmarshalMapping(res.Value)
	if idx.combat.Contains(f, m.ContainerID) {
		return LookupResult{Kind: LookupNotFound}
	}
	return LookupResult{Kind: LookupFound, Mapping: m}
}

// Put inserts f's mapping as a dirty entry, pinned iff pin is true. A
// freshly written chunk is pinned until its container commits, so the
// write-back cache never flushes a fingerprint pointing at a container
// that might still fail to land on disk.
func (idx *Index) Put(ctx context.Context, f fp.Fingerprint, m Mapping, pin bool) error {
	res := idx.backend.PutDirty(ctx, f.Bytes(), m.Marshal(), pin)
	if res.Kind == kvindex.PutError {
		return engineerr.New(engineerr.KindIO, "chunkindex.Put", f.String(), res.Err)
	}
	return nil
}

// EnsurePersistent flushes f's dirty entry to durable storage unless it
// is still pinned.
func (idx *Index) EnsurePersistent(ctx context.Context, f fp.Fingerprint) error {
	res := idx.backend.EnsurePersistent(ctx, f.Bytes())
	if res.Kind == kvindex.PutError {
		return engineerr.New(engineerr.KindIO, "chunkindex.EnsurePersistent", f.String(), res.Err)
	}
	return nil
}

// ChangePinningState updates f's pin bit, called on container commit to
// unpin every chunk the container holds.
func (idx *Index) ChangePinningState(ctx context.Context, f fp.Fingerprint, pinned bool) error {
	res := idx.backend.ChangePinningState(ctx, f.Bytes(), pinned)
	if res.Kind == kvindex.DeleteError {
		return engineerr.New(engineerr.KindIO, "chunkindex.ChangePinningState", f.String(), res.Err)
	}
	return nil
}

// PutOverwrite unconditionally overwrites f's mapping, bypassing the
// pinned/dirty overlay. Used only by the garbage collector, which already
// holds authoritative knowledge of the new mapping (e.g. after a merge
// moved the chunk's container).
func (idx *Index) PutOverwrite(ctx context.Context, f fp.Fingerprint, m Mapping) error {
	res := idx.backend.Put(ctx, f.Bytes(), m.Marshal())
	if res.Kind == kvindex.PutError {
		return engineerr.New(engineerr.KindIO, "chunkindex.PutOverwrite", f.String(), res.Err)
	}
	return nil
}

// Delete removes f's mapping entirely. Used by the garbage collector once
// a chunk's last reference has been collected.
func (idx *Index) Delete(ctx context.Context, f fp.Fingerprint) error {
	res := idx.backend.Delete(ctx, f.Bytes())
	if res.Kind == kvindex.DeleteError {
		return engineerr.New(engineerr.KindIO, "chunkindex.Delete", f.String(), res.Err)
	}
	return nil
}

// EnterCombat and LeaveCombat expose the in-combat set to the (external,
// policy-owned) garbage collector so it can shield a chunk it is
// considering for deletion, per spec.md §4.5.
func (idx *Index) EnterCombat(f fp.Fingerprint, containerID uint64) { idx.combat.Enter(f, containerID) }
func (idx *Index) LeaveCombat(f fp.Fingerprint, containerID uint64) { idx.combat.Leave(f, containerID) }
func (idx *Index) InCombat(f fp.Fingerprint, containerID uint64) bool {
	return idx.combat.Contains(f, containerID)
}

// Tracker exposes the container tracker for startup (Reset on dirty
// restart) and for tests.
func (idx *Index) Tracker() *ContainerTracker { return idx.tracker }
