// Package container implements the fixed-size, self-describing,
// append-only storage unit every chunk is ultimately written into,
// grounded on the teacher's block-sizing conventions (pkg/payload/block:
// 4 MiB default unit size) and on the original engine's container.cc
// (metadata area layout, fp-sorted item descriptors, copy-on-merge GC
// discipline). Compression uses klauspost/compress's zstd, the codec the
// wider example pack reaches for over the stdlib's flate/gzip.
package container

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/adler32"
	"sort"
	"sync"

	"github.com/klauspost/compress/zstd"

	"github.com/dedupv1/dedupv1-go/pkg/engineerr"
	"github.com/dedupv1/dedupv1-go/pkg/fp"
)

// DefaultSize is the default container size in bytes (4 MiB), matching the
// teacher's block.Size convention for the physical storage unit.
const DefaultSize = 4 * 1024 * 1024

// DefaultMetadataAreaSize is the default reserved header size (4 KiB).
const DefaultMetadataAreaSize = 4 * 1024

// kMinCompressedChunkSize: an item smaller than this is stored raw even
// when compression is enabled, since zstd's frame overhead would make a
// tiny item larger compressed than uncompressed.
const kMinCompressedChunkSize = 256

const (
	metaMagic   = "DCON"
	metaVersion = uint16(1)
)

// State is a container's lifecycle stage.
type State int

const (
	StateOpen State = iota
	StateCommitted
	StateFailed
)

// Compression selects the codec applied to each item's data.
type Compression int

const (
	CompressionNone Compression = iota
	CompressionZstd
)

// itemDescriptor is the on-disk record for one stored item: its
// fingerprint, its offset/length within the data area, and whether its
// stored bytes are zstd-compressed.
type itemDescriptor struct {
	FP         fp.Fingerprint
	Offset     uint32
	RawLen     uint32 // length before compression
	StoredLen  uint32 // length actually stored (== RawLen if uncompressed)
	Compressed bool
	Deleted    bool // tombstoned by DeleteItem; bytes stay until a merge copies live items forward
}

// Container is one fixed-size append-only storage unit. Items are kept
// sorted by fingerprint so FindItem can binary search, and merge can walk
// two containers' item lists in lockstep.
type Container struct {
	mu sync.RWMutex

	size             uint32
	metadataAreaSize uint32
	compression      Compression

	primaryID   uint64
	secondaryID []uint64 // ids absorbed via MergeContainer

	state State

	commitTimestamp int64

	items []itemDescriptor // kept sorted by FP
	data  []byte           // the data area, length == size - metadataAreaSize

	activeDataSize uint32 // bytes of data currently referenced by items
	nextOffset     uint32 // next free offset within data

	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

// New creates an empty open container with primaryID id.
func New(id uint64, size, metadataAreaSize uint32, compression Compression) (*Container, error) {
	if size == 0 {
		size = DefaultSize
	}
	if metadataAreaSize == 0 {
		metadataAreaSize = DefaultMetadataAreaSize
	}
	if metadataAreaSize >= size {
		return nil, fmt.Errorf("container: metadata area %d >= container size %d", metadataAreaSize, size)
	}

	c := &Container{
		size:             size,
		metadataAreaSize: metadataAreaSize,
		compression:      compression,
		primaryID:        id,
		state:            StateOpen,
		data:             make([]byte, size-metadataAreaSize),
	}

	if compression == CompressionZstd {
		enc, err := zstd.NewWriter(nil)
		if err != nil {
			return nil, err
		}
		dec, err := zstd.NewReader(nil)
		if err != nil {
			return nil, err
		}
		c.encoder = enc
		c.decoder = dec
	}

	return c, nil
}

// Id returns the container's primary id.
func (c *Container) Id() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.primaryID
}

// HasId reports whether id is the primary id or one absorbed via a prior
// MergeContainer call, so a lookup keyed by a stale secondary id still
// resolves to this container.
func (c *Container) HasId(id uint64) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if id == c.primaryID {
		return true
	}
	for _, s := range c.secondaryID {
		if s == id {
			return true
		}
	}
	return false
}

func (c *Container) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// ActiveDataSize returns the number of data-area bytes currently referenced
// by a live item, the invariant that decides whether this container is a
// GC merge candidate.
func (c *Container) ActiveDataSize() uint32 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.activeDataSize
}

func (c *Container) ItemCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// Items returns the fingerprints of every live (non-deleted) item, in
// sorted order. Used by the chunk index's container importer to insert
// every chunk a just-committed container holds.
func (c *Container) Items() []fp.Fingerprint {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]fp.Fingerprint, 0, len(c.items))
	for _, desc := range c.items {
		if desc.Deleted {
			continue
		}
		out = append(out, desc.FP)
	}
	return out
}

func (c *Container) findIndexLocked(f fp.Fingerprint) (int, bool) {
	i := sort.Search(len(c.items), func(i int) bool {
		return bytes.Compare(c.items[i].FP.Bytes(), f.Bytes()) >= 0
	})
	if i < len(c.items) && c.items[i].FP.Equal(f) {
		return i, true
	}
	return i, false
}

// AddItem stores raw under fingerprint f. Returns engineerr.KindFull if the
// container's data area cannot hold it, and engineerr.KindAlreadyExists if
// f is already present (callers must DeleteItem first to overwrite).
func (c *Container) AddItem(f fp.Fingerprint, raw []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateOpen {
		return engineerr.New(engineerr.KindNotStarted, "container.AddItem", "", fmt.Errorf("container not open"))
	}
	if idx, found := c.findIndexLocked(f); found && !c.items[idx].Deleted {
		return engineerr.New(engineerr.KindAlreadyExists, "container.AddItem", f.String(), nil)
	}

	stored := raw
	compressed := false
	if c.compression == CompressionZstd && len(raw) >= kMinCompressedChunkSize {
		candidate := c.encoder.EncodeAll(raw, nil)
		if len(candidate) < len(raw) {
			stored = candidate
			compressed = true
		}
	}

	if uint32(len(stored)) > uint32(len(c.data))-c.nextOffset {
		return engineerr.New(engineerr.KindFull, "container.AddItem", f.String(), nil)
	}

	offset := c.nextOffset
	copy(c.data[offset:], stored)
	c.nextOffset += uint32(len(stored))

	desc := itemDescriptor{
		FP:         f,
		Offset:     offset,
		RawLen:     uint32(len(raw)),
		StoredLen:  uint32(len(stored)),
		Compressed: compressed,
	}

	idx, found := c.findIndexLocked(f)
	if found {
		// Re-adding over a tombstone: overwrite in place, no reinsertion.
		c.items[idx] = desc
	} else {
		c.items = append(c.items, itemDescriptor{})
		copy(c.items[idx+1:], c.items[idx:])
		c.items[idx] = desc
	}

	c.activeDataSize += desc.RawLen
	return nil
}

// FindItem reports whether f is present and not deleted.
func (c *Container) FindItem(f fp.Fingerprint) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	idx, found := c.findIndexLocked(f)
	return found && !c.items[idx].Deleted
}

// FindItemIncludingDeleted reports whether f's descriptor is present at all,
// live or tombstoned. Used by GC bookkeeping that needs to distinguish
// "never stored here" from "stored here, then deleted".
func (c *Container) FindItemIncludingDeleted(f fp.Fingerprint) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, found := c.findIndexLocked(f)
	return found
}

// CopyRawData returns the decompressed bytes stored under f.
func (c *Container) CopyRawData(f fp.Fingerprint) ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	idx, found := c.findIndexLocked(f)
	if !found || c.items[idx].Deleted {
		return nil, engineerr.New(engineerr.KindNotFound, "container.CopyRawData", f.String(), nil)
	}
	desc := c.items[idx]
	stored := c.data[desc.Offset : desc.Offset+desc.StoredLen]

	if !desc.Compressed {
		out := make([]byte, len(stored))
		copy(out, stored)
		return out, nil
	}
	return c.decoder.DecodeAll(stored, make([]byte, 0, desc.RawLen))
}

// DeleteItem marks f's descriptor deleted in place. The descriptor and its
// underlying data bytes stay put — per the copy-on-merge discipline, space
// is only reclaimed when this container is merged into a fresh one, which
// copies forward only the still-live descriptors.
func (c *Container) DeleteItem(f fp.Fingerprint) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	idx, found := c.findIndexLocked(f)
	if !found || c.items[idx].Deleted {
		return engineerr.New(engineerr.KindNotFound, "container.DeleteItem", f.String(), nil)
	}
	c.items[idx].Deleted = true
	c.activeDataSize -= c.items[idx].RawLen
	return nil
}

// Commit transitions the container from open to committed, recording the
// wall-clock commit timestamp (as a caller-supplied Unix nanosecond value,
// since this package must not call time.Now() directly for replay
// determinism — the caller, typically the containerstore committer, stamps
// it once).
func (c *Container) Commit(timestamp int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateOpen {
		return engineerr.New(engineerr.KindNotStarted, "container.Commit", "", fmt.Errorf("container not open"))
	}
	c.state = StateCommitted
	c.commitTimestamp = timestamp
	return nil
}

// Fail transitions an open container to the failed state; its address may
// be reused after this.
func (c *Container) Fail() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = StateFailed
}

// MergeContainer absorbs other's live items into c, provided c has room.
// other's primary and secondary ids are recorded as c's secondary ids so a
// lookup keyed by any of other's former ids still resolves here. Per the
// copy-on-merge rule, c must be a freshly created container — merging never
// overwrites bytes already committed to c in place.
func (c *Container) MergeContainer(other *Container) error {
	other.mu.RLock()
	otherItems := append([]itemDescriptor(nil), other.items...)
	otherData := other.data
	otherID := other.primaryID
	otherSecondary := append([]uint64(nil), other.secondaryID...)
	other.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()

	for _, desc := range otherItems {
		if desc.Deleted {
			continue // tombstoned items are exactly what a merge reclaims space from
		}
		raw := otherData[desc.Offset : desc.Offset+desc.StoredLen]
		if desc.Compressed {
			decoded, err := other.decoder.DecodeAll(raw, make([]byte, 0, desc.RawLen))
			if err != nil {
				return err
			}
			raw = decoded
		}
		if uint32(len(raw)) > uint32(len(c.data))-c.nextOffset {
			return engineerr.New(engineerr.KindFull, "container.MergeContainer", "", nil)
		}

		stored := raw
		compressed := false
		if c.compression == CompressionZstd && len(raw) >= kMinCompressedChunkSize {
			candidate := c.encoder.EncodeAll(raw, nil)
			if len(candidate) < len(raw) {
				stored = candidate
				compressed = true
			}
		}

		offset := c.nextOffset
		copy(c.data[offset:], stored)
		c.nextOffset += uint32(len(stored))

		newDesc := itemDescriptor{FP: desc.FP, Offset: offset, RawLen: desc.RawLen, StoredLen: uint32(len(stored)), Compressed: compressed}
		idx, exists := c.findIndexLocked(desc.FP)
		if exists {
			continue // c already has a live copy; other's is stale
		}
		c.items = append(c.items, itemDescriptor{})
		copy(c.items[idx+1:], c.items[idx:])
		c.items[idx] = newDesc
		c.activeDataSize += newDesc.RawLen
	}

	c.secondaryID = append(c.secondaryID, otherID)
	c.secondaryID = append(c.secondaryID, otherSecondary...)
	return nil
}

// Serialize returns the container's full on-disk image (metadata area
// followed by the data area) as a byte slice.
func (c *Container) Serialize() ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	buf := make([]byte, c.size)
	meta := buf[:c.metadataAreaSize]

	copy(meta[0:4], metaMagic)
	binary.LittleEndian.PutUint16(meta[4:6], metaVersion)
	binary.LittleEndian.PutUint64(meta[6:14], c.primaryID)
	binary.LittleEndian.PutUint32(meta[14:18], uint32(c.state))
	binary.LittleEndian.PutUint64(meta[18:26], uint64(c.commitTimestamp))
	binary.LittleEndian.PutUint32(meta[26:30], uint32(len(c.items)))
	binary.LittleEndian.PutUint32(meta[30:34], uint32(len(c.secondaryID)))

	off := 34
	for _, sid := range c.secondaryID {
		binary.LittleEndian.PutUint64(meta[off:off+8], sid)
		off += 8
	}
	for _, desc := range c.items {
		fpBytes := desc.FP.Bytes()
		meta[off] = byte(len(fpBytes))
		off++
		copy(meta[off:], fpBytes)
		off += len(fpBytes)
		binary.LittleEndian.PutUint32(meta[off:off+4], desc.Offset)
		off += 4
		binary.LittleEndian.PutUint32(meta[off:off+4], desc.RawLen)
		off += 4
		binary.LittleEndian.PutUint32(meta[off:off+4], desc.StoredLen)
		off += 4
		var flags byte
		if desc.Compressed {
			flags |= 1 << 0
		}
		if desc.Deleted {
			flags |= 1 << 1
		}
		meta[off] = flags
		off++
	}

	copy(buf[c.metadataAreaSize:], c.data)

	checksum := adler32.Checksum(meta[:len(meta)-4])
	binary.LittleEndian.PutUint32(meta[len(meta)-4:], checksum)

	return buf, nil
}

// Deserialize rebuilds a Container from a full on-disk image produced by
// Serialize, verifying the metadata area's Adler-32 checksum first.
func Deserialize(buf []byte, metadataAreaSize uint32, compression Compression) (*Container, error) {
	if uint32(len(buf)) <= metadataAreaSize {
		return nil, engineerr.New(engineerr.KindCorruption, "container.Deserialize", "", fmt.Errorf("buffer too small"))
	}
	meta := buf[:metadataAreaSize]

	storedChecksum := binary.LittleEndian.Uint32(meta[len(meta)-4:])
	actualChecksum := adler32.Checksum(meta[:len(meta)-4])
	if storedChecksum != actualChecksum {
		return nil, engineerr.New(engineerr.KindCorruption, "container.Deserialize", "", fmt.Errorf("metadata checksum mismatch"))
	}
	if string(meta[0:4]) != metaMagic {
		return nil, engineerr.New(engineerr.KindCorruption, "container.Deserialize", "", fmt.Errorf("bad magic"))
	}

	c := &Container{
		size:             uint32(len(buf)),
		metadataAreaSize: metadataAreaSize,
		compression:      compression,
	}
	c.primaryID = binary.LittleEndian.Uint64(meta[6:14])
	c.state = State(binary.LittleEndian.Uint32(meta[14:18]))
	c.commitTimestamp = int64(binary.LittleEndian.Uint64(meta[18:26]))
	itemCount := binary.LittleEndian.Uint32(meta[26:30])
	secondaryCount := binary.LittleEndian.Uint32(meta[30:34])

	off := 34
	for i := uint32(0); i < secondaryCount; i++ {
		c.secondaryID = append(c.secondaryID, binary.LittleEndian.Uint64(meta[off:off+8]))
		off += 8
	}

	c.items = make([]itemDescriptor, 0, itemCount)
	var maxOffset uint32
	for i := uint32(0); i < itemCount; i++ {
		fpLen := int(meta[off])
		off++
		fpBytes := meta[off : off+fpLen]
		off += fpLen
		f, err := fp.New(fpBytes)
		if err != nil {
			return nil, err
		}
		desc := itemDescriptor{FP: f}
		desc.Offset = binary.LittleEndian.Uint32(meta[off : off+4])
		off += 4
		desc.RawLen = binary.LittleEndian.Uint32(meta[off : off+4])
		desc.StoredLen = binary.LittleEndian.Uint32(meta[off+4 : off+8])
		flags := meta[off+8]
		desc.Compressed = flags&(1<<0) != 0
		desc.Deleted = flags&(1<<1) != 0
		off += 9
		c.items = append(c.items, desc)
		if !desc.Deleted {
			c.activeDataSize += desc.RawLen
		}
		if end := desc.Offset + desc.StoredLen; end > maxOffset {
			maxOffset = end
		}
	}
	c.nextOffset = maxOffset
	c.data = append([]byte(nil), buf[metadataAreaSize:]...)

	if compression == CompressionZstd {
		enc, err := zstd.NewWriter(nil)
		if err != nil {
			return nil, err
		}
		dec, err := zstd.NewReader(nil)
		if err != nil {
			return nil, err
		}
		c.encoder = enc
		c.decoder = dec
	}

	return c, nil
}
