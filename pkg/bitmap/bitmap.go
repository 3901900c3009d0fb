// Package bitmap implements the free-space bitmap allocator: one bitmap per
// container file, tracking which container-file slots are occupied so the
// container storage subsystem can hand out fresh addresses without
// scanning the whole file, grounded on the teacher's cache coverage-bitmap
// helpers (pkg/cache/types.go, which already tracks "which byte ranges of a
// cached chunk are populated" as a plain []byte bitset) and generalized per
// spec to multi-file, multi-bitmap allocation with lazy persistence driven
// by operation-log replay.
package bitmap

import (
	"context"
	"sync"

	"github.com/dedupv1/dedupv1-go/pkg/engineerr"
	"github.com/dedupv1/dedupv1-go/pkg/kvindex"
	"github.com/dedupv1/dedupv1-go/pkg/oplog"
)

const bitsPerPage = 8 * 4096 // one OS page (4 KiB) of bitmap bits per persisted page

// fileBitmap is the in-memory state for one container file's allocation
// bitmap: a plain bitset plus a dirty-page set driven by log replay, so a
// page is only written to the backing kvindex once events confirm the
// allocation is durable (ContainerOpened/Committed/Merged/Moved/Deleted).
type fileBitmap struct {
	bits        []byte // bits[i/8] bit (i%8)
	lastFreePos uint64
	dirtyPages  map[uint32]bool
	reserved    uint64 // one slot reserved per file for merge/delete bookkeeping
}

func newFileBitmap() *fileBitmap {
	return &fileBitmap{dirtyPages: make(map[uint32]bool)}
}

func (fb *fileBitmap) ensureBit(pos uint64) {
	need := pos/8 + 1
	if uint64(len(fb.bits)) < need {
		grown := make([]byte, need)
		copy(grown, fb.bits)
		fb.bits = grown
	}
}

func (fb *fileBitmap) isSet(pos uint64) bool {
	if pos/8 >= uint64(len(fb.bits)) {
		return false
	}
	return fb.bits[pos/8]&(1<<(pos%8)) != 0
}

func (fb *fileBitmap) set(pos uint64, pageSize uint64) {
	fb.ensureBit(pos)
	fb.bits[pos/8] |= 1 << (pos % 8)
	fb.dirtyPages[uint32(pos/pageSize)] = true
}

func (fb *fileBitmap) clear(pos uint64, pageSize uint64) {
	if pos/8 < uint64(len(fb.bits)) {
		fb.bits[pos/8] &^= 1 << (pos % 8)
	}
	fb.dirtyPages[uint32(pos/pageSize)] = true
}

// Allocator tracks one bitmap per container file and round-robins
// allocation across files so writes spread evenly instead of filling one
// file before touching the next.
type Allocator struct {
	mu sync.Mutex

	index    kvindex.Index // persisted page store, keyed by encodeKey(fileID, pageNum)
	pageBits uint64        // bits represented per persisted page (bitsPerPage by default)

	files      map[uint64]*fileBitmap
	fileOrder  []uint64 // stable round-robin order
	nextFile   int
}

// New creates an Allocator backed by index, which should be a raw-capable
// backend (pkg/kvindex/diskhash.Index) or any kvindex.Index willing to hold
// opaque page-sized blobs.
func New(index kvindex.Index) *Allocator {
	return &Allocator{
		index:    index,
		pageBits: bitsPerPage,
		files:    make(map[uint64]*fileBitmap),
	}
}

// RegisterFile adds fileID to the round-robin rotation with a reserved slot
// (position 0) that Allocate never hands out, per the allocator's
// one-reserved-slot-per-file exception used by merge/delete bookkeeping.
func (a *Allocator) RegisterFile(fileID uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.files[fileID]; ok {
		return
	}
	fb := newFileBitmap()
	fb.reserved = 1
	fb.set(0, a.pageBits)
	a.files[fileID] = fb
	a.fileOrder = append(a.fileOrder, fileID)
}

// Allocate finds a free position in the next file in round-robin order
// (starting the scan from that file's last_free_pos_), sets it occupied,
// and returns (fileID, position, true). Returns false if every registered
// file is exhausted within maxScan positions past its last free pos.
func (a *Allocator) Allocate(maxScan uint64) (fileID uint64, pos uint64, ok bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if len(a.fileOrder) == 0 {
		return 0, 0, false
	}

	for attempt := 0; attempt < len(a.fileOrder); attempt++ {
		idx := a.nextFile
		a.nextFile = (a.nextFile + 1) % len(a.fileOrder)
		fid := a.fileOrder[idx]
		fb := a.files[fid]

		start := fb.lastFreePos
		if start == 0 {
			start = fb.reserved
		}
		for i := uint64(0); i < maxScan; i++ {
			candidate := start + i
			if !fb.isSet(candidate) {
				fb.set(candidate, a.pageBits)
				fb.lastFreePos = candidate + 1
				return fid, candidate, true
			}
		}
	}
	return 0, 0, false
}

// MarkUsed marks fileID's position pos as occupied, idempotently. Used by
// dirty-replay of ContainerCommitted to reconstruct the in-memory bitmap
// from the log alone when starting from an empty bitmap after an unclean
// shutdown.
func (a *Allocator) MarkUsed(fileID, pos uint64) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	fb, ok := a.files[fileID]
	if !ok {
		return engineerr.New(engineerr.KindNotFound, "bitmap.MarkUsed", "", nil)
	}
	fb.set(pos, a.pageBits)
	return nil
}

// Free marks fileID's position pos as unoccupied.
func (a *Allocator) Free(fileID, pos uint64) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	fb, ok := a.files[fileID]
	if !ok {
		return engineerr.New(engineerr.KindNotFound, "bitmap.Free", "", nil)
	}
	fb.clear(pos, a.pageBits)
	if pos < fb.lastFreePos {
		fb.lastFreePos = pos
	}
	return nil
}

// IsAllocated reports whether pos is currently occupied in fileID's bitmap.
func (a *Allocator) IsAllocated(fileID, pos uint64) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	fb, ok := a.files[fileID]
	if !ok {
		return false
	}
	return fb.isSet(pos)
}

func encodeKey(fileID uint64, pageNum uint32) []byte {
	key := make([]byte, 12)
	key[0], key[1], key[2], key[3] = byte(fileID>>56), byte(fileID>>48), byte(fileID>>40), byte(fileID>>32)
	key[4], key[5], key[6], key[7] = byte(fileID>>24), byte(fileID>>16), byte(fileID>>8), byte(fileID)
	key[8], key[9], key[10], key[11] = byte(pageNum>>24), byte(pageNum>>16), byte(pageNum>>8), byte(pageNum)
	return key
}

// EnsurePagePersisted flushes every dirty page of fileID's bitmap to the
// backing kvindex. It is driven by operation-log replay (pkg/containerstore's
// Replay) rather than called eagerly on every Allocate/Free, so a crash between an
// Allocate and its container commit simply loses the bit — the container's
// own commit/abort event is what ultimately decides whether the slot stays
// claimed, and replaying that event calls EnsurePagePersisted again.
func (a *Allocator) EnsurePagePersisted(ctx context.Context, fileID uint64) error {
	a.mu.Lock()
	fb, ok := a.files[fileID]
	if !ok {
		a.mu.Unlock()
		return engineerr.New(engineerr.KindNotFound, "bitmap.EnsurePagePersisted", "", nil)
	}
	dirty := make([]uint32, 0, len(fb.dirtyPages))
	for p := range fb.dirtyPages {
		dirty = append(dirty, p)
	}
	pageBytes := a.pageBits / 8
	a.mu.Unlock()

	for _, pageNum := range dirty {
		a.mu.Lock()
		start := uint64(pageNum) * pageBytes
		end := start + pageBytes
		if end > uint64(len(fb.bits)) {
			end = uint64(len(fb.bits))
		}
		page := make([]byte, pageBytes)
		if start < end {
			copy(page, fb.bits[start:end])
		}
		a.mu.Unlock()

		res := a.index.Put(ctx, encodeKey(fileID, pageNum), page)
		if res.Kind == kvindex.PutError {
			return res.Err
		}

		a.mu.Lock()
		delete(fb.dirtyPages, pageNum)
		a.mu.Unlock()
	}
	return nil
}

// LoadFromPersisted rebuilds fileID's in-memory bitmap from the backing
// kvindex, for use after an allocator restart before dirty-replay begins.
func (a *Allocator) LoadFromPersisted(ctx context.Context, fileID uint64, pageCount uint32) error {
	a.mu.Lock()
	fb, ok := a.files[fileID]
	a.mu.Unlock()
	if !ok {
		return engineerr.New(engineerr.KindNotFound, "bitmap.LoadFromPersisted", "", nil)
	}

	pageBytes := a.pageBits / 8
	for pn := uint32(0); pn < pageCount; pn++ {
		res := a.index.Lookup(ctx, encodeKey(fileID, pn))
		if res.Kind != kvindex.LookupFound {
			continue
		}
		a.mu.Lock()
		start := uint64(pn) * pageBytes
		fb.ensureBit((start+pageBytes)*8 - 1)
		copy(fb.bits[start:start+uint64(len(res.Value))], res.Value)
		a.mu.Unlock()
	}
	return nil
}

// Replay implements oplog.Consumer as a no-op for every event: container
// lifecycle events imply a bit flip in that container's owning file's
// bitmap, but the re-derivation and persistence of those bits happens in
// pkg/containerstore's replay, not here.
func (a *Allocator) Replay(ctx oplog.LogReplayContext, rec oplog.Record) error {
	switch rec.EventType {
	case oplog.EventContainerOpened, oplog.EventContainerCommitted,
		oplog.EventContainerMerged, oplog.EventContainerMoved, oplog.EventContainerDeleted:
		// Concrete payload decoding (container id -> file id, position) is
		// owned by pkg/containerstore, which registers the bitmap
		// allocator's EnsurePagePersisted as a side effect of applying
		// these events to its own address table.
		return nil
	default:
		return nil
	}
}
