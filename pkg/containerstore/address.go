package containerstore

import (
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"sync"

	"github.com/dedupv1/dedupv1-go/pkg/bufpool"
	"github.com/dedupv1/dedupv1-go/pkg/container"
	"github.com/dedupv1/dedupv1-go/pkg/engineerr"
	"github.com/dedupv1/dedupv1-go/pkg/kvindex"
)

// address locates a container within the store's set of files: which file
// it lives in, and which fixed-size slot within that file. Matches the
// original's "file and file offset merged into a single 64-bit value"
// metadata index value, kept here as two uint32s for readability.
type address struct {
	FileID uint32
	Slot   uint32
}

func (a address) encode() uint64 {
	return uint64(a.FileID)<<32 | uint64(a.Slot)
}

func decodeAddress(v uint64) address {
	return address{FileID: uint32(v >> 32), Slot: uint32(v)}
}

func encodeContainerIDKey(id uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, id)
	return key
}

// ContainerFile is one fixed-slot backing file for containers. Each slot
// holds exactly one ContainerSize-byte container image, addressed by slot
// index rather than raw byte offset so the bitmap allocator's bit
// positions map directly onto slots.
type ContainerFile struct {
	mu            sync.Mutex
	path          string
	containerSize uint32
	f             *os.File
}

// NewContainerFile describes a backing file at path; it is created or
// opened when Start registers it with the owning store.
func NewContainerFile(path string, containerSize uint32) *ContainerFile {
	if containerSize == 0 {
		containerSize = container.DefaultSize
	}
	return &ContainerFile{path: path, containerSize: containerSize}
}

func (cf *ContainerFile) open() error {
	cf.mu.Lock()
	defer cf.mu.Unlock()
	f, err := os.OpenFile(cf.path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return engineerr.New(engineerr.KindIO, "containerfile.open", cf.path, err)
	}
	cf.f = f
	return nil
}

func (cf *ContainerFile) close() error {
	cf.mu.Lock()
	defer cf.mu.Unlock()
	if cf.f == nil {
		return nil
	}
	err := cf.f.Close()
	cf.f = nil
	return err
}

// writeSlot writes buf (a full serialized container image) to slot.
func (cf *ContainerFile) writeSlot(slot uint32, buf []byte) error {
	cf.mu.Lock()
	defer cf.mu.Unlock()
	off := int64(slot) * int64(cf.containerSize)
	if _, err := cf.f.WriteAt(buf, off); err != nil {
		return engineerr.New(engineerr.KindIO, "containerfile.writeSlot", cf.path, err)
	}
	if err := cf.f.Sync(); err != nil {
		return engineerr.New(engineerr.KindIO, "containerfile.writeSlot", cf.path, err)
	}
	return nil
}

// readSlot reads the ContainerSize-byte image at slot into a pooled
// buffer. The caller owns the returned slice until container.Deserialize
// has copied its data area out (Deserialize never retains buf), at which
// point it should be returned via bufpool.Put.
func (cf *ContainerFile) readSlot(slot uint32) ([]byte, error) {
	cf.mu.Lock()
	defer cf.mu.Unlock()
	buf := bufpool.GetUint32(cf.containerSize)
	off := int64(slot) * int64(cf.containerSize)
	if _, err := cf.f.ReadAt(buf, off); err != nil {
		bufpool.Put(buf)
		return nil, engineerr.New(engineerr.KindIO, "containerfile.readSlot", cf.path, err)
	}
	return buf, nil
}

// storeContainerAt serializes c and writes it to addr's slot in the
// matching file. It does not allocate: addr must already name a slot.
func (cs *ContainerStore) storeContainerAt(addr address, c *container.Container) error {
	if int(addr.FileID) >= len(cs.files) {
		return fmt.Errorf("containerstore: file id %d out of range", addr.FileID)
	}
	buf, err := c.Serialize()
	if err != nil {
		return err
	}
	return cs.files[addr.FileID].writeSlot(addr.Slot, buf)
}

// allocateAddress claims a free slot via the round-robin bitmap allocator.
func (cs *ContainerStore) allocateAddress() (address, error) {
	fileID, slot, ok := cs.allocator.Allocate(cs.opts.MaxScanPerAllocate)
	if !ok {
		return address{}, engineerr.New(engineerr.KindFull, "containerstore.allocateAddress", "", nil)
	}
	return address{FileID: uint32(fileID), Slot: uint32(slot)}, nil
}

// loadContainer resolves containerID to its committed image, consulting
// the read cache first, then the metadata index and backing file. The
// caller must hold at least a read lock on the container's containerLock.
func (cs *ContainerStore) loadContainer(ctx context.Context, containerID uint64) (*container.Container, error) {
	if c, ok := cs.readCache.Get(containerID); ok {
		return c, nil
	}

	res := cs.metadataIndex.Lookup(ctx, encodeContainerIDKey(containerID))
	if res.Kind != kvindex.LookupFound {
		return nil, engineerr.New(engineerr.KindNotFound, "containerstore.loadContainer", fmt.Sprintf("%d", containerID), nil)
	}
	addr := decodeAddress(binary.BigEndian.Uint64(res.Value))

	if int(addr.FileID) >= len(cs.files) {
		return nil, fmt.Errorf("containerstore: file id %d out of range", addr.FileID)
	}
	buf, err := cs.files[addr.FileID].readSlot(addr.Slot)
	if err != nil {
		return nil, err
	}
	c, err := container.Deserialize(buf, cs.opts.MetadataAreaSize, cs.opts.Compression)
	bufpool.Put(buf)
	if err != nil {
		return nil, err
	}
	cs.readCache.Add(containerID, c)
	return c, nil
}
