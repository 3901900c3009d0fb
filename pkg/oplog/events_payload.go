package oplog

import "encoding/binary"

// Payload codecs for the event kinds named in spec.md §3 that more than one
// subsystem needs to decode (the container store writes these events, but
// the chunk index and bitmap allocator also replay them). Kept in this leaf
// package — rather than duplicated per-consumer or hidden behind an
// unexported type in pkg/containerstore — so every consumer shares one wire
// format, per spec.md §3's note that a wire format is binary.LittleEndian
// struct packing rather than a schema'd codec (see SPEC_FULL.md §3).

// ContainerOpenedPayload corresponds to the ContainerOpened event: a fresh
// container id has been opened in the write cache. No address is assigned
// yet (this engine defers address allocation to commit time), so only the
// id is carried.
type ContainerOpenedPayload struct {
	ID uint64
}

func EncodeContainerOpened(p ContainerOpenedPayload) []byte {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, p.ID)
	return buf
}

func DecodeContainerOpened(b []byte) ContainerOpenedPayload {
	return ContainerOpenedPayload{ID: binary.LittleEndian.Uint64(b)}
}

// ContainerCommittedPayload corresponds to ContainerCommitted: a container
// has been durably written at (FileID, Slot).
type ContainerCommittedPayload struct {
	ID             uint64
	FileID, Slot   uint32
	ActiveDataSize uint32
	ItemCount      uint32
}

func EncodeContainerCommitted(p ContainerCommittedPayload) []byte {
	buf := make([]byte, 24)
	binary.LittleEndian.PutUint64(buf[0:8], p.ID)
	binary.LittleEndian.PutUint32(buf[8:12], p.FileID)
	binary.LittleEndian.PutUint32(buf[12:16], p.Slot)
	binary.LittleEndian.PutUint32(buf[16:20], p.ActiveDataSize)
	binary.LittleEndian.PutUint32(buf[20:24], p.ItemCount)
	return buf
}

func DecodeContainerCommitted(b []byte) ContainerCommittedPayload {
	return ContainerCommittedPayload{
		ID:             binary.LittleEndian.Uint64(b[0:8]),
		FileID:         binary.LittleEndian.Uint32(b[8:12]),
		Slot:           binary.LittleEndian.Uint32(b[12:16]),
		ActiveDataSize: binary.LittleEndian.Uint32(b[16:20]),
		ItemCount:      binary.LittleEndian.Uint32(b[20:24]),
	}
}

// ContainerCommitFailedPayload corresponds to ContainerCommitFailed.
type ContainerCommitFailedPayload struct {
	ID uint64
}

func EncodeContainerCommitFailed(p ContainerCommitFailedPayload) []byte {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, p.ID)
	return buf
}

func DecodeContainerCommitFailed(b []byte) ContainerCommitFailedPayload {
	return ContainerCommitFailedPayload{ID: binary.LittleEndian.Uint64(b)}
}

// ContainerMergedPayload corresponds to ContainerMerged: A and B's content
// was absorbed into a fresh container New at (NewFileID, NewSlot); their own
// former addresses are carried too so a from-scratch dirty replay can free
// them in the bitmap allocator without a metadata-index lookup.
type ContainerMergedPayload struct {
	A, B, New              uint64
	OldFileIDA, OldSlotA   uint32
	OldFileIDB, OldSlotB   uint32
	NewFileID, NewSlot     uint32
}

func EncodeContainerMerged(p ContainerMergedPayload) []byte {
	buf := make([]byte, 48)
	binary.LittleEndian.PutUint64(buf[0:8], p.A)
	binary.LittleEndian.PutUint64(buf[8:16], p.B)
	binary.LittleEndian.PutUint64(buf[16:24], p.New)
	binary.LittleEndian.PutUint32(buf[24:28], p.OldFileIDA)
	binary.LittleEndian.PutUint32(buf[28:32], p.OldSlotA)
	binary.LittleEndian.PutUint32(buf[32:36], p.OldFileIDB)
	binary.LittleEndian.PutUint32(buf[36:40], p.OldSlotB)
	binary.LittleEndian.PutUint32(buf[40:44], p.NewFileID)
	binary.LittleEndian.PutUint32(buf[44:48], p.NewSlot)
	return buf
}

func DecodeContainerMerged(b []byte) ContainerMergedPayload {
	return ContainerMergedPayload{
		A:          binary.LittleEndian.Uint64(b[0:8]),
		B:          binary.LittleEndian.Uint64(b[8:16]),
		New:        binary.LittleEndian.Uint64(b[16:24]),
		OldFileIDA: binary.LittleEndian.Uint32(b[24:28]),
		OldSlotA:   binary.LittleEndian.Uint32(b[28:32]),
		OldFileIDB: binary.LittleEndian.Uint32(b[32:36]),
		OldSlotB:   binary.LittleEndian.Uint32(b[36:40]),
		NewFileID:  binary.LittleEndian.Uint32(b[40:44]),
		NewSlot:    binary.LittleEndian.Uint32(b[44:48]),
	}
}

// ContainerMovedPayload corresponds to ContainerMoved: id was rewritten from
// (OldFileID, OldSlot) to (NewFileID, NewSlot) without content change.
type ContainerMovedPayload struct {
	ID                   uint64
	OldFileID, OldSlot   uint32
	NewFileID, NewSlot   uint32
}

func EncodeContainerMoved(p ContainerMovedPayload) []byte {
	buf := make([]byte, 24)
	binary.LittleEndian.PutUint64(buf[0:8], p.ID)
	binary.LittleEndian.PutUint32(buf[8:12], p.OldFileID)
	binary.LittleEndian.PutUint32(buf[12:16], p.OldSlot)
	binary.LittleEndian.PutUint32(buf[16:20], p.NewFileID)
	binary.LittleEndian.PutUint32(buf[20:24], p.NewSlot)
	return buf
}

func DecodeContainerMoved(b []byte) ContainerMovedPayload {
	return ContainerMovedPayload{
		ID:        binary.LittleEndian.Uint64(b[0:8]),
		OldFileID: binary.LittleEndian.Uint32(b[8:12]),
		OldSlot:   binary.LittleEndian.Uint32(b[12:16]),
		NewFileID: binary.LittleEndian.Uint32(b[16:20]),
		NewSlot:   binary.LittleEndian.Uint32(b[20:24]),
	}
}

// ContainerDeletedPayload corresponds to ContainerDeleted: id, formerly at
// (FileID, Slot), has been removed (its active data size was zero).
type ContainerDeletedPayload struct {
	ID           uint64
	FileID, Slot uint32
}

func EncodeContainerDeleted(p ContainerDeletedPayload) []byte {
	buf := make([]byte, 16)
	binary.LittleEndian.PutUint64(buf[0:8], p.ID)
	binary.LittleEndian.PutUint32(buf[8:12], p.FileID)
	binary.LittleEndian.PutUint32(buf[12:16], p.Slot)
	return buf
}

func DecodeContainerDeleted(b []byte) ContainerDeletedPayload {
	return ContainerDeletedPayload{
		ID:     binary.LittleEndian.Uint64(b[0:8]),
		FileID: binary.LittleEndian.Uint32(b[8:12]),
		Slot:   binary.LittleEndian.Uint32(b[12:16]),
	}
}

// BlockMappingWrittenPayload corresponds to BlockMappingWritten: the
// serialized block-mapping pair (previous/modified), plus the set of
// container ids the modified mapping newly references. Serialization of the
// mappings themselves is owned by pkg/blockindex (BlockMapping.Marshal); this
// envelope only frames that blob alongside the block id/version and the
// container id set the volatile block store needs.
type BlockMappingWrittenPayload struct {
	BlockID       uint64
	Version       uint64
	ContainerIDs  []uint64
	PairBlob      []byte
}

func EncodeBlockMappingWritten(p BlockMappingWrittenPayload) []byte {
	buf := make([]byte, 0, 24+8*len(p.ContainerIDs)+4+len(p.PairBlob))
	tmp := make([]byte, 8)
	binary.LittleEndian.PutUint64(tmp, p.BlockID)
	buf = append(buf, tmp...)
	binary.LittleEndian.PutUint64(tmp, p.Version)
	buf = append(buf, tmp...)
	cnt := make([]byte, 4)
	binary.LittleEndian.PutUint32(cnt, uint32(len(p.ContainerIDs)))
	buf = append(buf, cnt...)
	for _, id := range p.ContainerIDs {
		binary.LittleEndian.PutUint64(tmp, id)
		buf = append(buf, tmp...)
	}
	blobLen := make([]byte, 4)
	binary.LittleEndian.PutUint32(blobLen, uint32(len(p.PairBlob)))
	buf = append(buf, blobLen...)
	buf = append(buf, p.PairBlob...)
	return buf
}

func DecodeBlockMappingWritten(b []byte) BlockMappingWrittenPayload {
	p := BlockMappingWrittenPayload{}
	off := 0
	p.BlockID = binary.LittleEndian.Uint64(b[off : off+8])
	off += 8
	p.Version = binary.LittleEndian.Uint64(b[off : off+8])
	off += 8
	count := binary.LittleEndian.Uint32(b[off : off+4])
	off += 4
	p.ContainerIDs = make([]uint64, count)
	for i := range p.ContainerIDs {
		p.ContainerIDs[i] = binary.LittleEndian.Uint64(b[off : off+8])
		off += 8
	}
	blobLen := binary.LittleEndian.Uint32(b[off : off+4])
	off += 4
	p.PairBlob = append([]byte(nil), b[off:off+int(blobLen)]...)
	return p
}

// BlockMappingWriteFailedPayload corresponds to BlockMappingWriteFailed.
type BlockMappingWriteFailedPayload struct {
	BlockID         uint64
	Version         uint64
	WriteEventLogID uint64
	PairBlob        []byte
}

func EncodeBlockMappingWriteFailed(p BlockMappingWriteFailedPayload) []byte {
	buf := make([]byte, 0, 24+4+len(p.PairBlob))
	tmp := make([]byte, 8)
	binary.LittleEndian.PutUint64(tmp, p.BlockID)
	buf = append(buf, tmp...)
	binary.LittleEndian.PutUint64(tmp, p.Version)
	buf = append(buf, tmp...)
	binary.LittleEndian.PutUint64(tmp, p.WriteEventLogID)
	buf = append(buf, tmp...)
	blobLen := make([]byte, 4)
	binary.LittleEndian.PutUint32(blobLen, uint32(len(p.PairBlob)))
	buf = append(buf, blobLen...)
	buf = append(buf, p.PairBlob...)
	return buf
}

func DecodeBlockMappingWriteFailed(b []byte) BlockMappingWriteFailedPayload {
	p := BlockMappingWriteFailedPayload{}
	off := 0
	p.BlockID = binary.LittleEndian.Uint64(b[off : off+8])
	off += 8
	p.Version = binary.LittleEndian.Uint64(b[off : off+8])
	off += 8
	p.WriteEventLogID = binary.LittleEndian.Uint64(b[off : off+8])
	off += 8
	blobLen := binary.LittleEndian.Uint32(b[off : off+4])
	off += 4
	p.PairBlob = append([]byte(nil), b[off:off+int(blobLen)]...)
	return p
}

// OrphanChunksPayload corresponds to OrphanChunks: a list of fingerprints
// that are candidates for GC because the block write that introduced them
// failed.
type OrphanChunksPayload struct {
	Fingerprints [][]byte
}

func EncodeOrphanChunks(p OrphanChunksPayload) []byte {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, uint32(len(p.Fingerprints)))
	for _, f := range p.Fingerprints {
		l := make([]byte, 2)
		binary.LittleEndian.PutUint16(l, uint16(len(f)))
		buf = append(buf, l...)
		buf = append(buf, f...)
	}
	return buf
}

func DecodeOrphanChunks(b []byte) OrphanChunksPayload {
	count := binary.LittleEndian.Uint32(b[0:4])
	off := 4
	fps := make([][]byte, count)
	for i := range fps {
		l := binary.LittleEndian.Uint16(b[off : off+2])
		off += 2
		fps[i] = append([]byte(nil), b[off:off+int(l)]...)
		off += int(l)
	}
	return OrphanChunksPayload{Fingerprints: fps}
}
