package diskhash

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"hash/fnv"

	"github.com/dedupv1/dedupv1-go/pkg/engineerr"
	"github.com/dedupv1/dedupv1-go/pkg/kvindex"
)

// maxKeyLen bounds keys to a fixed slot so every page has the same layout:
// occupancy(1) + keyLen(1) + valueLen(4) + key(maxKeyLen) + value(...).
const maxKeyLen = 32

const pageHeaderSize = 1 + 1 + 4 + maxKeyLen

const (
	slotEmpty    byte = 0
	slotOccupied byte = 1
	slotTombstone byte = 2
)

// Index is an open-addressed hash table over a diskhash.Store, probing
// linearly on collision. The table size is fixed at creation time (one page
// per bucket); callers size it generously since it never grows, matching
// the allocator's one-bitmap-per-container-file usage where the key space
// is bounded by container count.
type Index struct {
	name  string
	store *Store
}

var _ kvindex.Index = (*Index)(nil)

// Open opens or creates a fixed-capacity disk hash index with numBuckets
// slots, each backed by one page of the given page size.
func Open(name, path string, numBuckets uint32, pageSize uint32) (*Index, error) {
	if pageSize == 0 {
		pageSize = DefaultPageSize
	}
	if pageSize <= pageHeaderSize {
		return nil, fmt.Errorf("diskhash: page size %d too small for header %d", pageSize, pageHeaderSize)
	}
	store, err := OpenStore(path, Options{PageSize: pageSize, InitialPageCount: numBuckets})
	if err != nil {
		return nil, err
	}
	if store.PageCount() < numBuckets {
		if err := store.ensurePage(numBuckets - 1); err != nil {
			store.Close()
			return nil, err
		}
	}
	return &Index{name: name, store: store}, nil
}

func (idx *Index) Name() string { return idx.name }

func (idx *Index) Capabilities() kvindex.Capability {
	return kvindex.CapRawAccess
}

func bucketOf(key []byte, numBuckets uint32) uint32 {
	h := fnv.New32a()
	h.Write(key)
	return h.Sum32() % numBuckets
}

func decodePage(page []byte) (occ byte, key []byte, value []byte) {
	occ = page[0]
	keyLen := page[1]
	valLen := binary.LittleEndian.Uint32(page[2:6])
	key = page[6 : 6+int(keyLen)]
	value = page[pageHeaderSize : pageHeaderSize+int(valLen)]
	return
}

func encodePage(pageSize uint32, occ byte, key, value []byte) ([]byte, error) {
	if len(key) > maxKeyLen {
		return nil, fmt.Errorf("diskhash: key length %d exceeds max %d", len(key), maxKeyLen)
	}
	if pageHeaderSize+len(value) > int(pageSize) {
		return nil, fmt.Errorf("diskhash: value length %d exceeds page capacity %d", len(value), int(pageSize)-pageHeaderSize)
	}
	page := make([]byte, pageSize)
	page[0] = occ
	page[1] = byte(len(key))
	binary.LittleEndian.PutUint32(page[2:6], uint32(len(value)))
	copy(page[6:6+len(key)], key)
	copy(page[pageHeaderSize:], value)
	return page, nil
}

// find probes starting at the home bucket for key, returning the page
// number it occupies (if found), the first tombstone/empty slot seen (for
// insertion), and whether key was found.
func (idx *Index) find(key []byte) (pageNum uint32, insertAt uint32, hasInsertAt bool, found bool, err error) {
	numBuckets := idx.store.PageCount()
	home := bucketOf(key, numBuckets)
	for i := uint32(0); i < numBuckets; i++ {
		pn := (home + i) % numBuckets
		page, rerr := idx.store.ReadPage(pn)
		if rerr != nil {
			return 0, 0, false, false, rerr
		}
		occ, k, _ := decodePage(page)
		switch occ {
		case slotEmpty:
			if !hasInsertAt {
				insertAt, hasInsertAt = pn, true
			}
			return 0, insertAt, hasInsertAt, false, nil
		case slotTombstone:
			if !hasInsertAt {
				insertAt, hasInsertAt = pn, true
			}
		case slotOccupied:
			if bytes.Equal(k, key) {
				return pn, 0, false, true, nil
			}
		}
	}
	return 0, insertAt, hasInsertAt, false, nil
}

func (idx *Index) Lookup(ctx context.Context, key []byte) kvindex.LookupResult {
	if err := ctx.Err(); err != nil {
		return kvindex.LookupResult{Kind: kvindex.LookupError, Err: err}
	}
	pn, _, _, found, err := idx.find(key)
	if err != nil {
		return kvindex.LookupResult{Kind: kvindex.LookupError, Err: err}
	}
	if !found {
		return kvindex.LookupResult{Kind: kvindex.LookupNotFound}
	}
	page, err := idx.store.ReadPage(pn)
	if err != nil {
		return kvindex.LookupResult{Kind: kvindex.LookupError, Err: err}
	}
	_, _, v := decodePage(page)
	value := append([]byte(nil), v...)
	return kvindex.LookupResult{Kind: kvindex.LookupFound, Value: value}
}

func (idx *Index) Put(ctx context.Context, key, value []byte) kvindex.PutResult {
	if err := ctx.Err(); err != nil {
		return kvindex.PutResult{Kind: kvindex.PutError, Err: err}
	}
	pn, insertAt, hasInsertAt, found, err := idx.find(key)
	if err != nil {
		return kvindex.PutResult{Kind: kvindex.PutError, Err: err}
	}
	target := insertAt
	if found {
		target = pn
	} else if !hasInsertAt {
		return kvindex.PutResult{Kind: kvindex.PutError, Err: engineerr.New(engineerr.KindFull, "diskhash.Put", idx.name, fmt.Errorf("hash table full"))}
	}
	page, err := encodePage(idx.store.PageSize(), slotOccupied, key, value)
	if err != nil {
		return kvindex.PutResult{Kind: kvindex.PutError, Err: err}
	}
	if err := idx.store.WritePage(target, page); err != nil {
		return kvindex.PutResult{Kind: kvindex.PutError, Err: err}
	}
	return kvindex.PutResult{Kind: kvindex.PutOK}
}

func (idx *Index) Delete(ctx context.Context, key []byte) kvindex.DeleteResult {
	if err := ctx.Err(); err != nil {
		return kvindex.DeleteResult{Kind: kvindex.DeleteError, Err: err}
	}
	pn, _, _, found, err := idx.find(key)
	if err != nil {
		return kvindex.DeleteResult{Kind: kvindex.DeleteError, Err: err}
	}
	if !found {
		return kvindex.DeleteResult{Kind: kvindex.DeleteNotFound}
	}
	page, err := encodePage(idx.store.PageSize(), slotTombstone, nil, nil)
	if err != nil {
		return kvindex.DeleteResult{Kind: kvindex.DeleteError, Err: err}
	}
	if err := idx.store.WritePage(pn, page); err != nil {
		return kvindex.DeleteResult{Kind: kvindex.DeleteError, Err: err}
	}
	return kvindex.DeleteResult{Kind: kvindex.DeleteOK}
}

func (idx *Index) CreateIterator(_ context.Context) (kvindex.Iterator, error) {
	return nil, kvindex.ErrNoIterator
}

func (idx *Index) Close() error { return idx.store.Close() }

// ReadRawPage and WriteRawPage expose the underlying page store directly,
// per CapRawAccess, for the bitmap allocator which addresses pages by
// number rather than by an opaque key.
func (idx *Index) ReadRawPage(pageNum uint32) ([]byte, error) { return idx.store.ReadPage(pageNum) }
func (idx *Index) WriteRawPage(pageNum uint32, data []byte) error {
	return idx.store.WritePage(pageNum, data)
}
func (idx *Index) RawPageSize() uint32 { return idx.store.PageSize() }
