// Package badgerindex implements a kvindex.Index and kvindex.WriteBackCache
// over a badger LSM database, grounded on the teacher's
// pkg/metadata/store/badger (db.View/db.Update transaction pattern, Item.Value
// callback for zero-copy reads). Used for the chunk index and the persistent
// block index, both of which need CapWriteBackCache so a fingerprint or
// block mapping can sit pinned-dirty in memory while its container is open.
package badgerindex

import (
	"bytes"
	"context"
	"encoding/binary"
	"sync"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/dedupv1/dedupv1-go/pkg/kvindex"
)

// Pin-state encoding constants. They are not referenced by this package:
// the dirty and pinned state lives only in Index's in-memory maps and is
// never written to badger, so a crash leaves durable data intact and only
// loses the pin bits, which callers re-derive on replay. Caller keys are
// stored unprefixed.
const (
	pinByte    byte = 1
	unpinByte  byte = 0
	metaPrefix      = "\x00meta:"
)

// Index is a badger-backed kvindex.Index with an additional dirty/pinned
// overlay held in memory, per the write-back cache contract.
type Index struct {
	name string
	db   *badger.DB

	mu     sync.RWMutex
	dirty  map[string]bool
	pinned map[string]bool
}

var (
	_ kvindex.Index          = (*Index)(nil)
	_ kvindex.WriteBackCache = (*Index)(nil)
	_ kvindex.ItemCounter    = (*Index)(nil)
	_ kvindex.BatchPutter    = (*Index)(nil)
	_ kvindex.CompareAndSwapper = (*Index)(nil)
)

// Open opens (creating if absent) a badger database rooted at dir.
func Open(name, dir string) (*Index, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	return &Index{
		name:   name,
		db:     db,
		dirty:  make(map[string]bool),
		pinned: make(map[string]bool),
	}, nil
}

func (idx *Index) Name() string { return idx.name }

func (idx *Index) Capabilities() kvindex.Capability {
	return kvindex.CapPersistentItemCount |
		kvindex.CapWriteBackCache |
		kvindex.CapReturnsDeleteNotFound |
		kvindex.CapNativeBatchOps |
		kvindex.CapCompareAndSwap
}

func (idx *Index) Lookup(ctx context.Context, key []byte) kvindex.LookupResult {
	if err := ctx.Err(); err != nil {
		return kvindex.LookupResult{Kind: kvindex.LookupError, Err: err}
	}
	var value []byte
	err := idx.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			value = append([]byte(nil), val...)
			return nil
		})
	})
	if err != nil {
		return kvindex.LookupResult{Kind: kvindex.LookupError, Err: err}
	}
	if value == nil {
		return kvindex.LookupResult{Kind: kvindex.LookupNotFound}
	}
	return kvindex.LookupResult{Kind: kvindex.LookupFound, Value: value}
}

func (idx *Index) Put(ctx context.Context, key, value []byte) kvindex.PutResult {
	if err := ctx.Err(); err != nil {
		return kvindex.PutResult{Kind: kvindex.PutError, Err: err}
	}
	err := idx.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, value)
	})
	if err != nil {
		return kvindex.PutResult{Kind: kvindex.PutError, Err: err}
	}
	idx.clearOverlay(key)
	return kvindex.PutResult{Kind: kvindex.PutOK}
}

func (idx *Index) CompareAndSwap(ctx context.Context, key, newValue, expected []byte) kvindex.CASResult {
	if err := ctx.Err(); err != nil {
		return kvindex.CASResult{Kind: kvindex.CASError, Err: err}
	}
	var actual []byte
	kept := false
	err := idx.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		switch {
		case err == badger.ErrKeyNotFound:
			if len(expected) != 0 {
				kept = true
				return nil
			}
		case err != nil:
			return err
		default:
			if err := item.Value(func(val []byte) error {
				actual = append([]byte(nil), val...)
				return nil
			}); err != nil {
				return err
			}
			if !bytes.Equal(actual, expected) {
				kept = true
				return nil
			}
		}
		return txn.Set(key, newValue)
	})
	if err != nil {
		return kvindex.CASResult{Kind: kvindex.CASError, Err: err}
	}
	if kept {
		return kvindex.CASResult{Kind: kvindex.CASKept, Actual: actual}
	}
	idx.clearOverlay(key)
	return kvindex.CASResult{Kind: kvindex.CASOK}
}

func (idx *Index) Delete(ctx context.Context, key []byte) kvindex.DeleteResult {
	if err := ctx.Err(); err != nil {
		return kvindex.DeleteResult{Kind: kvindex.DeleteError, Err: err}
	}
	found := true
	err := idx.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get(key)
		if err == badger.ErrKeyNotFound {
			found = false
			return nil
		}
		if err != nil {
			return err
		}
		return txn.Delete(key)
	})
	if err != nil {
		return kvindex.DeleteResult{Kind: kvindex.DeleteError, Err: err}
	}
	idx.clearOverlay(key)
	if !found {
		return kvindex.DeleteResult{Kind: kvindex.DeleteNotFound}
	}
	return kvindex.DeleteResult{Kind: kvindex.DeleteOK}
}

func (idx *Index) PutBatch(ctx context.Context, entries []kvindex.Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	wb := idx.db.NewWriteBatch()
	defer wb.Cancel()
	for _, e := range entries {
		if err := wb.Set(e.Key, e.Value); err != nil {
			return err
		}
	}
	if err := wb.Flush(); err != nil {
		return err
	}
	idx.mu.Lock()
	for _, e := range entries {
		k := string(e.Key)
		delete(idx.dirty, k)
		delete(idx.pinned, k)
	}
	idx.mu.Unlock()
	return nil
}

func (idx *Index) ItemCount(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	var count int64
	err := idx.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			count++
		}
		return nil
	})
	return count, err
}

type iterator struct {
	txn *badger.Txn
	it  *badger.Iterator
	cur kvindex.Entry
	err error
}

func (idx *Index) CreateIterator(ctx context.Context) (kvindex.Iterator, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	txn := idx.db.NewTransaction(false)
	it := txn.NewIterator(badger.DefaultIteratorOptions)
	it.Rewind()
	return &iterator{txn: txn, it: it}, nil
}

func (i *iterator) Next() bool {
	if !i.it.Valid() {
		return false
	}
	item := i.it.Item()
	key := append([]byte(nil), item.KeyCopy(nil)...)
	err := item.Value(func(val []byte) error {
		i.cur = kvindex.Entry{Key: key, Value: append([]byte(nil), val...)}
		return nil
	})
	if err != nil {
		i.err = err
		return false
	}
	i.it.Next()
	return true
}

func (i *iterator) Entry() kvindex.Entry { return i.cur }
func (i *iterator) Err() error           { return i.err }
func (i *iterator) Close() error {
	i.it.Close()
	i.txn.Discard()
	return nil
}

func (idx *Index) Close() error {
	return idx.db.Close()
}

// --- dirty/pinned overlay ---

func (idx *Index) clearOverlay(key []byte) {
	idx.mu.Lock()
	delete(idx.dirty, string(key))
	delete(idx.pinned, string(key))
	idx.mu.Unlock()
}

func (idx *Index) LookupDirty(ctx context.Context, key []byte) (kvindex.LookupResult, bool, bool) {
	res := idx.Lookup(ctx, key)
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	k := string(key)
	return res, idx.dirty[k], idx.pinned[k]
}

// PutDirty writes value immediately (badger has no separate memtable we can
// address directly from here) but marks the entry dirty/pinned in the
// overlay so TryPersistDirtyItem and ChangePinningState can track it until
// the caller calls EnsurePersistent, matching the chunk index's usage:
// pinned while the owning container is open, then unpinned on commit.
func (idx *Index) PutDirty(ctx context.Context, key, value []byte, pin bool) kvindex.PutResult {
	res := idx.Put(ctx, key, value)
	if res.Kind == kvindex.PutError {
		return res
	}
	k := string(key)
	idx.mu.Lock()
	idx.dirty[k] = true
	idx.pinned[k] = pin
	idx.mu.Unlock()
	return res
}

func (idx *Index) EnsurePersistent(_ context.Context, key []byte) kvindex.PutResult {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	k := string(key)
	if idx.pinned[k] {
		return kvindex.PutResult{Kind: kvindex.PutKept}
	}
	delete(idx.dirty, k)
	return kvindex.PutResult{Kind: kvindex.PutOK}
}

func (idx *Index) ChangePinningState(_ context.Context, key []byte, pinned bool) kvindex.DeleteResult {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	k := string(key)
	if !idx.dirty[k] {
		return kvindex.DeleteResult{Kind: kvindex.DeleteNotFound}
	}
	idx.pinned[k] = pinned
	return kvindex.DeleteResult{Kind: kvindex.DeleteOK}
}

func (idx *Index) TryPersistDirtyItem(_ context.Context, batchSize int) (int, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	flushed := 0
	for k := range idx.dirty {
		if flushed >= batchSize {
			break
		}
		if idx.pinned[k] {
			continue
		}
		delete(idx.dirty, k)
		flushed++
	}
	return flushed, nil
}

func (idx *Index) DirtyCount() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.dirty)
}

// encodeUint64 and decodeUint64 are small helpers for callers that key this
// index by a fixed-width integer (container id, log entry sequence number)
// rather than a fingerprint, keeping lexical iteration order numeric.
func encodeUint64(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

func decodeUint64(b []byte) uint64 {
	return binary.BigEndian.Uint64(b)
}
