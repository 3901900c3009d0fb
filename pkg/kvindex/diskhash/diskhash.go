// Package diskhash implements a fixed-page disk hash table with a per-page
// write-ahead transaction area, grounded on the teacher's append-only mmap
// WAL (pkg/wal/mmap.go: magic-tagged header, binary.LittleEndian framing,
// unix.Mmap/Munmap/Msync) but restructured around in-place page overwrites
// instead of an append-only log, since a hash table needs random-access
// updates. Used for the bitmap allocator's page store, where page size and
// transaction area are both bounded to 1 MiB.
//
// # Transaction area and recovery
//
// Every page write goes through a two-phase protocol: first the new page
// content is written to a transaction slot (one per writer bucket, chosen
// by pageNumber % numBuckets) together with the CRC32 the *current* on-disk
// page had before the overwrite; only then is the main page overwritten in
// place. On Open, each transaction slot still marked valid is inspected: if
// the main page's current CRC32 still equals the slot's recorded
// previous_crc, the main write never landed (crash between the two writes)
// and the slot's new page is replayed onto the main page. If the CRC
// differs, the main write already completed and the slot is simply
// invalidated. This makes in-place page writes crash-safe without an
// unbounded log.
package diskhash

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"os"
	"sync"
)

// DefaultPageSize is the OS page size used when the caller doesn't specify
// one; matches the assumption the allocator makes about its bitmap pages.
const DefaultPageSize = 4096

// MaxPageSize and MaxTransactionAreaSize bound both areas at 1 MiB.
const (
	MaxPageSize            = 1 << 20
	MaxTransactionAreaSize = 1 << 20
)

const (
	txnSlotMagic      = 0x54584e31 // "TXN1"
	txnSlotHeaderSize = 4 + 1 + 8 + 4 + 4 // magic + valid + pageNum + prevCRC + newCRC
)

// Store is a fixed-page file with transactional overwrite protection. It is
// not itself a key-value index; PageStore adapts it into one.
type Store struct {
	mu sync.Mutex

	f    *os.File
	path string

	pageSize      uint32
	numBuckets    uint32
	txnSlotSize   uint32
	txnAreaOffset int64
	txnAreaSize   int64
	pageAreaOffset int64

	numPages uint32
}

// Options configures a new or reopened Store.
type Options struct {
	PageSize          uint32 // defaults to DefaultPageSize
	NumWriterBuckets  uint32 // defaults to 16; bounds concurrent in-flight transactions
	InitialPageCount  uint32 // number of pages to preallocate
}

func (o Options) withDefaults() Options {
	if o.PageSize == 0 {
		o.PageSize = DefaultPageSize
	}
	if o.NumWriterBuckets == 0 {
		o.NumWriterBuckets = 16
	}
	return o
}

// OpenStore opens or creates a page store at path.
func OpenStore(path string, opts Options) (*Store, error) {
	opts = opts.withDefaults()
	if opts.PageSize > MaxPageSize {
		return nil, fmt.Errorf("diskhash: page size %d exceeds max %d", opts.PageSize, MaxPageSize)
	}

	txnSlotSize := uint32(txnSlotHeaderSize) + opts.PageSize
	txnAreaSize := int64(txnSlotSize) * int64(opts.NumWriterBuckets)
	if txnAreaSize > MaxTransactionAreaSize {
		return nil, fmt.Errorf("diskhash: transaction area %d exceeds max %d", txnAreaSize, MaxTransactionAreaSize)
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return nil, err
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}

	s := &Store{
		f:              f,
		path:           path,
		pageSize:       opts.PageSize,
		numBuckets:     opts.NumWriterBuckets,
		txnSlotSize:    txnSlotSize,
		txnAreaOffset:  0,
		txnAreaSize:    txnAreaSize,
		pageAreaOffset: txnAreaSize,
	}

	if info.Size() == 0 {
		if err := s.initializeFile(opts.InitialPageCount); err != nil {
			f.Close()
			return nil, err
		}
	} else {
		s.numPages = uint32((info.Size() - s.pageAreaOffset) / int64(s.pageSize))
		if err := s.recover(); err != nil {
			f.Close()
			return nil, err
		}
	}

	return s, nil
}

func (s *Store) initializeFile(initialPages uint32) error {
	if initialPages == 0 {
		initialPages = 1
	}
	total := s.pageAreaOffset + int64(initialPages)*int64(s.pageSize)
	if err := s.f.Truncate(total); err != nil {
		return err
	}
	s.numPages = initialPages

	// clear all transaction slots as invalid
	empty := make([]byte, s.txnSlotSize)
	for i := uint32(0); i < s.numBuckets; i++ {
		if _, err := s.f.WriteAt(empty, int64(i)*int64(s.txnSlotSize)); err != nil {
			return err
		}
	}
	return s.f.Sync()
}

// recover replays any in-flight transaction left by an unclean shutdown.
func (s *Store) recover() error {
	slot := make([]byte, s.txnSlotSize)
	for i := uint32(0); i < s.numBuckets; i++ {
		off := int64(i) * int64(s.txnSlotSize)
		if _, err := s.f.ReadAt(slot, off); err != nil {
			return err
		}
		magic := binary.LittleEndian.Uint32(slot[0:4])
		valid := slot[4]
		if magic != txnSlotMagic || valid == 0 {
			continue
		}
		pageNum := binary.LittleEndian.Uint64(slot[5:13])
		prevCRC := binary.LittleEndian.Uint32(slot[13:17])
		newPage := slot[txnSlotHeaderSize:]

		current := make([]byte, s.pageSize)
		pageOff := s.pageAreaOffset + int64(pageNum)*int64(s.pageSize)
		if _, err := s.f.ReadAt(current, pageOff); err != nil {
			return err
		}
		actualCRC := crc32.ChecksumIEEE(current)

		if actualCRC == prevCRC {
			// main write never landed; replay the transaction's new page.
			if _, err := s.f.WriteAt(newPage, pageOff); err != nil {
				return err
			}
		}
		// either way, the transaction is resolved: invalidate the slot.
		binary.LittleEndian.PutUint32(slot[0:4], txnSlotMagic)
		slot[4] = 0
		if _, err := s.f.WriteAt(slot[:5], off); err != nil {
			return err
		}
	}
	return s.f.Sync()
}

// ensurePage grows the page area to include pageNum, zero-filling new pages.
func (s *Store) ensurePage(pageNum uint32) error {
	if pageNum < s.numPages {
		return nil
	}
	newCount := pageNum + 1
	total := s.pageAreaOffset + int64(newCount)*int64(s.pageSize)
	if err := s.f.Truncate(total); err != nil {
		return err
	}
	s.numPages = newCount
	return nil
}

// WritePage transactionally overwrites pageNum with data, which must be
// exactly PageSize() bytes (callers pad short pages themselves).
func (s *Store) WritePage(pageNum uint32, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if uint32(len(data)) != s.pageSize {
		return fmt.Errorf("diskhash: page data length %d != page size %d", len(data), s.pageSize)
	}
	if err := s.ensurePage(pageNum); err != nil {
		return err
	}

	pageOff := s.pageAreaOffset + int64(pageNum)*int64(s.pageSize)
	current := make([]byte, s.pageSize)
	if _, err := s.f.ReadAt(current, pageOff); err != nil {
		return err
	}
	prevCRC := crc32.ChecksumIEEE(current)
	newCRC := crc32.ChecksumIEEE(data)

	bucket := pageNum % s.numBuckets
	slotOff := int64(bucket) * int64(s.txnSlotSize)

	slot := make([]byte, s.txnSlotSize)
	binary.LittleEndian.PutUint32(slot[0:4], txnSlotMagic)
	slot[4] = 1
	binary.LittleEndian.PutUint64(slot[5:13], uint64(pageNum))
	binary.LittleEndian.PutUint32(slot[13:17], prevCRC)
	binary.LittleEndian.PutUint32(slot[17:21], newCRC)
	copy(slot[txnSlotHeaderSize:], data)

	if _, err := s.f.WriteAt(slot, slotOff); err != nil {
		return err
	}
	if err := s.f.Sync(); err != nil {
		return err
	}

	if _, err := s.f.WriteAt(data, pageOff); err != nil {
		return err
	}
	if err := s.f.Sync(); err != nil {
		return err
	}

	// invalidate the slot; the main write is now durable.
	if _, err := s.f.WriteAt([]byte{0}, slotOff+4); err != nil {
		return err
	}
	return s.f.Sync()
}

// ReadPage reads pageNum's current content. Reading a page beyond the
// current page count returns a zero-filled page, matching a never-written
// bitmap page.
func (s *Store) ReadPage(pageNum uint32) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	buf := make([]byte, s.pageSize)
	if pageNum >= s.numPages {
		return buf, nil
	}
	pageOff := s.pageAreaOffset + int64(pageNum)*int64(s.pageSize)
	if _, err := s.f.ReadAt(buf, pageOff); err != nil {
		return nil, err
	}
	return buf, nil
}

// PageSize returns the configured page size in bytes.
func (s *Store) PageSize() uint32 { return s.pageSize }

// PageCount returns the number of pages currently allocated on disk.
func (s *Store) PageCount() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.numPages
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.f.Close()
}
