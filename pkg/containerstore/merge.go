package containerstore

import (
	"context"
	"encoding/binary"
	"time"

	"github.com/dedupv1/dedupv1-go/pkg/container"
	"github.com/dedupv1/dedupv1-go/pkg/engineerr"
	"github.com/dedupv1/dedupv1-go/pkg/kvindex"
	"github.com/dedupv1/dedupv1-go/pkg/oplog"
)

func (cs *ContainerStore) newContainerForID(id uint64) (*container.Container, error) {
	return container.New(id, cs.opts.ContainerSize, cs.opts.MetadataAreaSize, cs.opts.Compression)
}

// resolveAddressLocked looks up id's current address via the metadata
// index. Caller must hold (at least) a read lock on id's container lock.
func (cs *ContainerStore) resolveAddressLocked(ctx context.Context, id uint64) (address, error) {
	res := cs.metadataIndex.Lookup(ctx, encodeContainerIDKey(id))
	if res.Kind != kvindex.LookupFound {
		return address{}, engineerr.New(engineerr.KindNotFound, "containerstore.resolveAddress", "", nil)
	}
	return decodeAddress(binary.BigEndian.Uint64(res.Value)), nil
}

// TryMergeContainer merges two committed, sparsely-populated containers
// (both GC candidates per ActiveDataSize) into a freshly allocated one,
// per spec.md §4.3 "Merge". Locks are acquired in ascending id order to
// match the package's documented lock hierarchy and avoid deadlock against
// a concurrent merge touching the same pair in reverse.
func (cs *ContainerStore) TryMergeContainer(ctx context.Context, idA, idB uint64) (uint64, error) {
	first, second := idA, idB
	if first > second {
		first, second = second, first
	}

	lockA := cs.containerLock(first)
	lockA.Lock()
	defer lockA.Unlock()
	if second != first {
		lockB := cs.containerLock(second)
		lockB.Lock()
		defer lockB.Unlock()
	}

	addrA, err := cs.resolveAddressLocked(ctx, idA)
	if err != nil {
		return 0, err
	}
	addrB, err := cs.resolveAddressLocked(ctx, idB)
	if err != nil {
		return 0, err
	}

	ca, err := cs.loadContainer(ctx, idA)
	if err != nil {
		return 0, err
	}
	cb, err := cs.loadContainer(ctx, idB)
	if err != nil {
		return 0, err
	}

	newID := cs.getNewContainerID()
	merged, err := cs.newContainerForID(newID)
	if err != nil {
		return 0, err
	}
	if err := merged.MergeContainer(ca); err != nil {
		return 0, err
	}
	if err := merged.MergeContainer(cb); err != nil {
		return 0, err
	}

	newAddr, err := cs.allocateAddress()
	if err != nil {
		return 0, err
	}
	if err := merged.Commit(time.Now().UnixNano()); err != nil {
		_ = cs.allocator.Free(newAddr.FileID, newAddr.Slot)
		return 0, err
	}
	if err := cs.storeContainerAt(newAddr, merged); err != nil {
		_ = cs.allocator.Free(newAddr.FileID, newAddr.Slot)
		return 0, err
	}

	value := make([]byte, 8)
	binary.BigEndian.PutUint64(value, newAddr.encode())
	for _, id := range []uint64{idA, idB, newID} {
		if res := cs.metadataIndex.Put(ctx, encodeContainerIDKey(id), value); res.Kind == kvindex.PutError {
			return 0, res.Err
		}
	}

	cs.readCache.Remove(idA)
	cs.readCache.Remove(idB)
	cs.readCache.Add(newID, merged)

	if err := cs.allocator.Free(addrA.FileID, addrA.Slot); err != nil {
		return 0, err
	}
	if err := cs.allocator.Free(addrB.FileID, addrB.Slot); err != nil {
		return 0, err
	}

	if cs.log != nil {
		payload := encodeMerged(idA, idB, newID, addrA, addrB, newAddr)
		if _, err := cs.log.Append(oplog.EventContainerMerged, payload); err != nil {
			return 0, err
		}
	}

	return newID, nil
}

// DeleteContainer removes a committed, empty container (ActiveDataSize==0)
// from the metadata index and frees its address. Per spec.md §4.3, delete
// only applies to already-empty containers; a non-empty container must be
// merged (or have every item deleted) first.
func (cs *ContainerStore) DeleteContainer(ctx context.Context, id uint64) error {
	lock := cs.containerLock(id)
	lock.Lock()
	defer lock.Unlock()

	addr, err := cs.resolveAddressLocked(ctx, id)
	if err != nil {
		return err
	}
	c, err := cs.loadContainer(ctx, id)
	if err != nil {
		return err
	}
	if c.ActiveDataSize() != 0 {
		return engineerr.New(engineerr.KindInternal, "containerstore.DeleteContainer", "", nil)
	}

	if res := cs.metadataIndex.Delete(ctx, encodeContainerIDKey(id)); res.Kind == kvindex.DeleteError {
		return res.Err
	}
	cs.readCache.Remove(id)
	if err := cs.allocator.Free(addr.FileID, addr.Slot); err != nil {
		return err
	}

	if cs.log != nil {
		payload := encodeDeleted(id, addr)
		if _, err := cs.log.Append(oplog.EventContainerDeleted, payload); err != nil {
			return err
		}
	}
	return nil
}

// MoveContainer rewrites id's committed image at a freshly allocated
// address, e.g. for defragmentation, without changing its contents or id.
func (cs *ContainerStore) MoveContainer(ctx context.Context, id uint64) error {
	lock := cs.containerLock(id)
	lock.Lock()
	defer lock.Unlock()

	oldAddr, err := cs.resolveAddressLocked(ctx, id)
	if err != nil {
		return err
	}
	c, err := cs.loadContainer(ctx, id)
	if err != nil {
		return err
	}

	newAddr, err := cs.allocateAddress()
	if err != nil {
		return err
	}
	if err := cs.storeContainerAt(newAddr, c); err != nil {
		_ = cs.allocator.Free(newAddr.FileID, newAddr.Slot)
		return err
	}

	value := make([]byte, 8)
	binary.BigEndian.PutUint64(value, newAddr.encode())
	if res := cs.metadataIndex.Put(ctx, encodeContainerIDKey(id), value); res.Kind == kvindex.PutError {
		return res.Err
	}
	cs.readCache.Add(id, c)

	if err := cs.allocator.Free(oldAddr.FileID, oldAddr.Slot); err != nil {
		return err
	}

	if cs.log != nil {
		payload := encodeMoved(id, oldAddr, newAddr)
		if _, err := cs.log.Append(oplog.EventContainerMoved, payload); err != nil {
			return err
		}
	}
	return nil
}
