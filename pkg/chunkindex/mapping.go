package chunkindex

import "encoding/binary"

// Mapping records where a fingerprint's content lives: which container
// holds it, which oplog entry last changed its usage count, and an
// opaque block-id hint used by the garbage collector to find a likely
// referencing block without a full scan. Grounded on
// core/include/core/chunk_mapping.h's ChunkMapping.
type Mapping struct {
	ContainerID           uint64
	UsageCountChangeLogID uint64
	BlockHint             uint64
}

// Marshal encodes m as a fixed 24-byte little-endian record. The
// fingerprint itself is never part of the value: it is always the key
// under which a Mapping is stored.
func (m Mapping) Marshal() []byte {
	buf := make([]byte, 24)
	binary.LittleEndian.PutUint64(buf[0:8], m.ContainerID)
	binary.LittleEndian.PutUint64(buf[8:16], m.UsageCountChangeLogID)
	binary.LittleEndian.PutUint64(buf[16:24], m.BlockHint)
	return buf
}

// UnmarshalMapping decodes a value written by Marshal.
func UnmarshalMapping(b []byte) Mapping {
	return Mapping{
		ContainerID:           binary.LittleEndian.Uint64(b[0:8]),
		UsageCountChangeLogID: binary.LittleEndian.Uint64(b[8:16]),
		BlockHint:             binary.LittleEndian.Uint64(b[16:24]),
	}
}
