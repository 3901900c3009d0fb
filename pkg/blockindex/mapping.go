// Package blockindex implements the per-volume logical-to-content map: an
// auxiliary in-memory index fronting a persistent on-disk index, kept
// consistent across crashes by a volatile coordinator that defers
// promotion until every container and earlier version a write depends on
// has committed. Grounded on core/include/core/block_index.h and
// core/src/volatile_block_store.cc.
package blockindex

import (
	"encoding/binary"

	"github.com/dedupv1/dedupv1-go/pkg/engineerr"
	"github.com/dedupv1/dedupv1-go/pkg/fp"
)

// EmptyDataAddress is the reserved container id meaning "this region is
// zero-filled", never allocated by the bitmap/container subsystem.
const EmptyDataAddress uint64 = 0

// Item is one (fingerprint, container, block offset, payload offset, size)
// tile of a block mapping. Item.Size fields across a BlockMapping must sum
// exactly to the volume's block size, with no gap or overlap — enforced by
// callers in pkg/engine, not by this package, since block size is a
// per-volume, externally supplied parameter. ChunkOffset and PayloadOffset
// are independent: ChunkOffset positions the item within the block, while
// PayloadOffset positions it within the stored chunk's own raw bytes — they
// diverge once a chunk originally written as one item is later split by a
// partial overwrite of a neighboring region, leaving two items that each
// reference a different byte range of the same stored chunk.
type Item struct {
	FP            fp.Fingerprint
	DataAddress   uint64
	ChunkOffset   uint32
	PayloadOffset uint32
	Size          uint32
}

// BlockMapping is one version of a single logical block's content.
type BlockMapping struct {
	BlockID    uint64
	Version    uint64
	EventLogID uint64
	Items      []Item
}

// InitialMapping returns the mapping a freshly created block starts with:
// a single empty-data item spanning the whole block.
func InitialMapping(blockID uint64, blockSize uint32) BlockMapping {
	return BlockMapping{
		BlockID: blockID,
		Version: 0,
		Items:   []Item{{FP: fp.Empty, DataAddress: EmptyDataAddress, ChunkOffset: 0, PayloadOffset: 0, Size: blockSize}},
	}
}

// Marshal encodes m as a length-prefixed little-endian record.
func (m BlockMapping) Marshal() []byte {
	buf := make([]byte, 0, 24+len(m.Items)*(1+fp.MaxSize+16))
	var tmp8 [8]byte
	var tmp4 [4]byte

	binary.LittleEndian.PutUint64(tmp8[:], m.BlockID)
	buf = append(buf, tmp8[:]...)
	binary.LittleEndian.PutUint64(tmp8[:], m.Version)
	buf = append(buf, tmp8[:]...)
	binary.LittleEndian.PutUint64(tmp8[:], m.EventLogID)
	buf = append(buf, tmp8[:]...)
	binary.LittleEndian.PutUint32(tmp4[:], uint32(len(m.Items)))
	buf = append(buf, tmp4[:]...)

	for _, it := range m.Items {
		digest := it.FP.Bytes()
		buf = append(buf, byte(len(digest)))
		buf = append(buf, digest...)
		binary.LittleEndian.PutUint64(tmp8[:], it.DataAddress)
		buf = append(buf, tmp8[:]...)
		binary.LittleEndian.PutUint32(tmp4[:], it.ChunkOffset)
		buf = append(buf, tmp4[:]...)
		binary.LittleEndian.PutUint32(tmp4[:], it.PayloadOffset)
		buf = append(buf, tmp4[:]...)
		binary.LittleEndian.PutUint32(tmp4[:], it.Size)
		buf = append(buf, tmp4[:]...)
	}
	return buf
}

// UnmarshalBlockMapping decodes a value written by Marshal.
func UnmarshalBlockMapping(b []byte) (BlockMapping, error) {
	var m BlockMapping
	if len(b) < 24 {
		return m, engineerr.New(engineerr.KindCorruption, "blockindex.UnmarshalBlockMapping", "", nil)
	}
	off := 0
	m.BlockID = binary.LittleEndian.Uint64(b[off : off+8])
	off += 8
	m.Version = binary.LittleEndian.Uint64(b[off : off+8])
	off += 8
	m.EventLogID = binary.LittleEndian.Uint64(b[off : off+8])
	off += 8
	count := binary.LittleEndian.Uint32(b[off : off+4])
	off += 4

	m.Items = make([]Item, count)
	for i := range m.Items {
		l := int(b[off])
		off++
		digest := append([]byte(nil), b[off:off+l]...)
		off += l
		f, err := fp.New(digest)
		if err != nil {
			return BlockMapping{}, err
		}
		addr := binary.LittleEndian.Uint64(b[off : off+8])
		off += 8
		chunkOffset := binary.LittleEndian.Uint32(b[off : off+4])
		off += 4
		payloadOffset := binary.LittleEndian.Uint32(b[off : off+4])
		off += 4
		size := binary.LittleEndian.Uint32(b[off : off+4])
		off += 4
		m.Items[i] = Item{FP: f, DataAddress: addr, ChunkOffset: chunkOffset, PayloadOffset: payloadOffset, Size: size}
	}
	return m, nil
}

// Pair is the diff between two successive versions of a block, the
// canonical payload of BlockMappingWritten/BlockMappingWriteFailed.
type Pair struct {
	BlockID  uint64
	Previous BlockMapping
	Modified BlockMapping
}

// Marshal encodes p as two length-prefixed BlockMapping blobs.
func (p Pair) Marshal() []byte {
	prev := p.Previous.Marshal()
	mod := p.Modified.Marshal()
	buf := make([]byte, 0, 8+4+len(prev)+4+len(mod))
	var tmp8 [8]byte
	var tmp4 [4]byte

	binary.LittleEndian.PutUint64(tmp8[:], p.BlockID)
	buf = append(buf, tmp8[:]...)
	binary.LittleEndian.PutUint32(tmp4[:], uint32(len(prev)))
	buf = append(buf, tmp4[:]...)
	buf = append(buf, prev...)
	binary.LittleEndian.PutUint32(tmp4[:], uint32(len(mod)))
	buf = append(buf, tmp4[:]...)
	buf = append(buf, mod...)
	return buf
}

// UnmarshalPair decodes a value written by Marshal.
func UnmarshalPair(b []byte) (Pair, error) {
	var p Pair
	if len(b) < 16 {
		return p, engineerr.New(engineerr.KindCorruption, "blockindex.UnmarshalPair", "", nil)
	}
	off := 0
	p.BlockID = binary.LittleEndian.Uint64(b[off : off+8])
	off += 8
	prevLen := int(binary.LittleEndian.Uint32(b[off : off+4]))
	off += 4
	prev, err := UnmarshalBlockMapping(b[off : off+prevLen])
	if err != nil {
		return Pair{}, err
	}
	off += prevLen
	modLen := int(binary.LittleEndian.Uint32(b[off : off+4]))
	off += 4
	mod, err := UnmarshalBlockMapping(b[off : off+modLen])
	if err != nil {
		return Pair{}, err
	}
	off += modLen

	p.Previous = prev
	p.Modified = mod
	return p, nil
}

// usedContainers returns the distinct non-reserved container ids m's
// items reference, per auxiliary block index's StoreBlock step 1.
func usedContainers(m BlockMapping) []uint64 {
	seen := make(map[uint64]bool, len(m.Items))
	var ids []uint64
	for _, it := range m.Items {
		if it.DataAddress == EmptyDataAddress || seen[it.DataAddress] {
			continue
		}
		seen[it.DataAddress] = true
		ids = append(ids, it.DataAddress)
	}
	return ids
}
