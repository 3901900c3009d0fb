package containerstore

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dedupv1/dedupv1-go/pkg/container"
	"github.com/dedupv1/dedupv1-go/pkg/engineerr"
	"github.com/dedupv1/dedupv1-go/pkg/fp"
	"github.com/dedupv1/dedupv1-go/pkg/oplog"
)

// openSlot is one round-robin write-cache slot: a container currently
// accepting new items, plus when it was opened (for the timeout
// committer).
type openSlot struct {
	mu        sync.Mutex
	container *container.Container
	openedAt  time.Time
}

// writeCache round-robins incoming writes across a fixed number of
// simultaneously open containers, so concurrent writers from different
// goroutines rarely contend on the same container's lock. Full or
// timed-out containers are handed to the committer and replaced with a
// freshly opened one in the same slot.
type writeCache struct {
	store *ContainerStore
	slots []*openSlot
	next  atomic.Uint32 // round-robin cursor
}

func newWriteCache(store *ContainerStore, numSlots int) *writeCache {
	wc := &writeCache{store: store, slots: make([]*openSlot, numSlots)}
	for i := range wc.slots {
		wc.slots[i] = &openSlot{}
	}
	return wc
}

// put adds (f, data) to the next slot in round-robin order, opening a new
// container there if the slot is empty or full, and handing a full
// container to the committer before replacing it.
func (wc *writeCache) put(ctx context.Context, f fp.Fingerprint, data []byte) (uint64, error) {
	idx := wc.next.Add(1) % uint32(len(wc.slots))
	slot := wc.slots[idx]

	slot.mu.Lock()
	defer slot.mu.Unlock()

	if slot.container == nil {
		if err := wc.openLocked(slot); err != nil {
			return 0, err
		}
	}

	err := slot.container.AddItem(f, data)
	if err == nil {
		wc.store.addressMu.Lock()
		wc.store.addressMap[slot.container.Id()] = address{}
		wc.store.addressMu.Unlock()
		return slot.container.Id(), nil
	}
	if !engineerr.Is(err, engineerr.KindFull) {
		return 0, err
	}

	// Container is full: hand it to the committer and open a fresh one in
	// its place before retrying the write.
	full := slot.container
	if err := wc.store.committer.commit(ctx, full); err != nil {
		return 0, err
	}
	if err := wc.openLocked(slot); err != nil {
		return 0, err
	}
	if err := slot.container.AddItem(f, data); err != nil {
		return 0, err
	}
	wc.store.addressMu.Lock()
	wc.store.addressMap[slot.container.Id()] = address{}
	wc.store.addressMu.Unlock()
	return slot.container.Id(), nil
}

func (wc *writeCache) openLocked(slot *openSlot) error {
	id := wc.store.getNewContainerID()
	c, err := container.New(id, wc.store.opts.ContainerSize, wc.store.opts.MetadataAreaSize, wc.store.opts.Compression)
	if err != nil {
		return err
	}
	slot.container = c
	slot.openedAt = time.Now()

	if wc.store.log != nil {
		if _, err := wc.store.log.Append(oplog.EventContainerOpened, encodeOpened(id)); err != nil {
			return err
		}
	}
	return nil
}

// tryRead serves a read from an open write-cache slot without touching
// disk, if containerID is currently open there. ok is false if no open
// slot currently holds that container id.
func (wc *writeCache) tryRead(containerID uint64, f fp.Fingerprint) (data []byte, ok bool, err error) {
	for _, slot := range wc.slots {
		slot.mu.Lock()
		if slot.container != nil && slot.container.Id() == containerID {
			data, err = slot.container.CopyRawData(f)
			slot.mu.Unlock()
			return data, true, err
		}
		slot.mu.Unlock()
	}
	return nil, false, nil
}

// flushAll commits every slot's open container, even if not full.
func (wc *writeCache) flushAll(ctx context.Context) error {
	for _, slot := range wc.slots {
		slot.mu.Lock()
		c := slot.container
		slot.container = nil
		slot.mu.Unlock()

		if c == nil || c.ItemCount() == 0 {
			continue
		}
		if err := wc.store.committer.commit(ctx, c); err != nil {
			return err
		}
	}
	return nil
}

// checkTimeouts commits any slot whose container has been open longer
// than timeout and has at least one item, per the timeout committer.
func (wc *writeCache) checkTimeouts(ctx context.Context, timeout time.Duration) {
	now := time.Now()
	for _, slot := range wc.slots {
		slot.mu.Lock()
		c := slot.container
		stale := c != nil && c.ItemCount() > 0 && now.Sub(slot.openedAt) >= timeout
		if stale {
			slot.container = nil
		}
		slot.mu.Unlock()

		if stale {
			_ = wc.store.committer.commit(ctx, c)
		}
	}
}

func (wc *writeCache) activeDataSize() uint64 {
	var total uint64
	for _, slot := range wc.slots {
		slot.mu.Lock()
		if slot.container != nil {
			total += uint64(slot.container.ActiveDataSize())
		}
		slot.mu.Unlock()
	}
	return total
}
