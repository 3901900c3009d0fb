package containerstore

import "github.com/dedupv1/dedupv1-go/pkg/oplog"

// Thin adapters between this package's (FileID, Slot) address type and
// pkg/oplog's exported event payload codecs, which every consumer that
// needs to decode a container lifecycle event (chunk index, bitmap
// allocator via this package, this package's own Replay) shares — see
// pkg/oplog/events_payload.go's doc comment for why the codec lives there
// rather than duplicated per-consumer.

func encodeOpened(id uint64) []byte {
	return oplog.EncodeContainerOpened(oplog.ContainerOpenedPayload{ID: id})
}

func encodeCommitted(id uint64, addr address, activeDataSize, itemCount uint32) []byte {
	return oplog.EncodeContainerCommitted(oplog.ContainerCommittedPayload{
		ID:             id,
		FileID:         addr.FileID,
		Slot:           addr.Slot,
		ActiveDataSize: activeDataSize,
		ItemCount:      itemCount,
	})
}

func encodeCommitFailed(id uint64) []byte {
	return oplog.EncodeContainerCommitFailed(oplog.ContainerCommitFailedPayload{ID: id})
}

func encodeMerged(a, b, newID uint64, oldA, oldB, newAddr address) []byte {
	return oplog.EncodeContainerMerged(oplog.ContainerMergedPayload{
		A: a, B: b, New: newID,
		OldFileIDA: oldA.FileID, OldSlotA: oldA.Slot,
		OldFileIDB: oldB.FileID, OldSlotB: oldB.Slot,
		NewFileID: newAddr.FileID, NewSlot: newAddr.Slot,
	})
}

func encodeMoved(id uint64, oldAddr, newAddr address) []byte {
	return oplog.EncodeContainerMoved(oplog.ContainerMovedPayload{
		ID:        id,
		OldFileID: oldAddr.FileID, OldSlot: oldAddr.Slot,
		NewFileID: newAddr.FileID, NewSlot: newAddr.Slot,
	})
}

func encodeDeleted(id uint64, addr address) []byte {
	return oplog.EncodeContainerDeleted(oplog.ContainerDeletedPayload{ID: id, FileID: addr.FileID, Slot: addr.Slot})
}
