// Package memory implements an in-memory kvindex.Index, grounded on the
// teacher's memory metadata store (pkg/metadata/store/memory): a
// sync.RWMutex-protected map, cloning values in and out so callers can't
// mutate index-owned bytes through an aliased slice.
package memory

import (
	"bytes"
	"context"
	"sort"
	"sync"

	"github.com/dedupv1/dedupv1-go/pkg/engineerr"
	"github.com/dedupv1/dedupv1-go/pkg/kvindex"
)

// Index is a sorted in-memory kvindex.Index. It also implements
// kvindex.CursorOpener and kvindex.WriteBackCache so it can stand in for
// any backend in tests without a disk dependency.
type Index struct {
	name string

	mu      sync.RWMutex
	data    map[string][]byte
	dirty   map[string]bool
	pinned  map[string]bool
	version uint64 // bumped on every mutation; invalidates live iterators
}

var (
	_ kvindex.Index          = (*Index)(nil)
	_ kvindex.PutIfAbsenter  = (*Index)(nil)
	_ kvindex.CompareAndSwapper = (*Index)(nil)
	_ kvindex.BatchPutter    = (*Index)(nil)
	_ kvindex.ItemCounter    = (*Index)(nil)
	_ kvindex.WriteBackCache = (*Index)(nil)
	_ kvindex.CursorOpener   = (*Index)(nil)
)

// New creates an empty in-memory index named name (used only in logs and error messages).
func New(name string) *Index {
	return &Index{
		name:   name,
		data:   make(map[string][]byte),
		dirty:  make(map[string]bool),
		pinned: make(map[string]bool),
	}
}

func (idx *Index) Name() string { return idx.name }

func (idx *Index) Capabilities() kvindex.Capability {
	return kvindex.CapPersistentItemCount |
		kvindex.CapHasIterator |
		kvindex.CapWriteBackCache |
		kvindex.CapReturnsDeleteNotFound |
		kvindex.CapNativeBatchOps |
		kvindex.CapCompareAndSwap |
		kvindex.CapPutIfAbsent
}

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	cp := make([]byte, len(b))
	copy(cp, b)
	return cp
}

func (idx *Index) Lookup(_ context.Context, key []byte) kvindex.LookupResult {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	v, ok := idx.data[string(key)]
	if !ok {
		return kvindex.LookupResult{Kind: kvindex.LookupNotFound}
	}
	return kvindex.LookupResult{Kind: kvindex.LookupFound, Value: clone(v)}
}

func (idx *Index) Put(_ context.Context, key, value []byte) kvindex.PutResult {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	k := string(key)
	if existing, ok := idx.data[k]; ok && bytes.Equal(existing, value) {
		return kvindex.PutResult{Kind: kvindex.PutKept}
	}
	idx.data[k] = clone(value)
	idx.version++
	return kvindex.PutResult{Kind: kvindex.PutOK}
}

func (idx *Index) PutIfAbsent(_ context.Context, key, value []byte) kvindex.PutResult {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	k := string(key)
	if _, ok := idx.data[k]; ok {
		return kvindex.PutResult{Kind: kvindex.PutKept}
	}
	idx.data[k] = clone(value)
	idx.version++
	return kvindex.PutResult{Kind: kvindex.PutOK}
}

func (idx *Index) CompareAndSwap(_ context.Context, key, newValue, expected []byte) kvindex.CASResult {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	k := string(key)
	current := idx.data[k]
	if !bytes.Equal(current, expected) {
		return kvindex.CASResult{Kind: kvindex.CASKept, Actual: clone(current)}
	}
	idx.data[k] = clone(newValue)
	idx.version++
	return kvindex.CASResult{Kind: kvindex.CASOK}
}

func (idx *Index) Delete(_ context.Context, key []byte) kvindex.DeleteResult {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	k := string(key)
	if _, ok := idx.data[k]; !ok {
		return kvindex.DeleteResult{Kind: kvindex.DeleteNotFound}
	}
	delete(idx.data, k)
	delete(idx.dirty, k)
	delete(idx.pinned, k)
	idx.version++
	return kvindex.DeleteResult{Kind: kvindex.DeleteOK}
}

func (idx *Index) PutBatch(_ context.Context, entries []kvindex.Entry) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	for _, e := range entries {
		idx.data[string(e.Key)] = clone(e.Value)
	}
	idx.version++
	return nil
}

func (idx *Index) ItemCount(_ context.Context) (int64, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return int64(len(idx.data)), nil
}

func (idx *Index) Close() error { return nil }

// sortedKeys returns a snapshot of keys in ascending order, used by both
// the iterator and the cursor so traversal order is deterministic.
func (idx *Index) sortedKeys() []string {
	keys := make([]string, 0, len(idx.data))
	for k := range idx.data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

type iterator struct {
	idx          *Index
	keys         []string
	pos          int
	startVersion uint64
	cur          kvindex.Entry
	err          error
}

func (idx *Index) CreateIterator(_ context.Context) (kvindex.Iterator, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return &iterator{idx: idx, keys: idx.sortedKeys(), pos: -1, startVersion: idx.version}, nil
}

func (it *iterator) Next() bool {
	it.idx.mu.RLock()
	defer it.idx.mu.RUnlock()
	if it.idx.version != it.startVersion {
		it.err = engineerr.New(engineerr.KindConcurrentModification, "memory.Iterator.Next", it.idx.name, nil)
		return false
	}
	it.pos++
	for it.pos < len(it.keys) {
		k := it.keys[it.pos]
		v, ok := it.idx.data[k]
		if ok {
			it.cur = kvindex.Entry{Key: []byte(k), Value: clone(v)}
			return true
		}
		it.pos++
	}
	return false
}

func (it *iterator) Entry() kvindex.Entry { return it.cur }
func (it *iterator) Err() error           { return it.err }
func (it *iterator) Close() error         { return nil }

// --- WriteBackCache ---

func (idx *Index) LookupDirty(ctx context.Context, key []byte) (kvindex.LookupResult, bool, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	k := string(key)
	v, ok := idx.data[k]
	if !ok {
		return kvindex.LookupResult{Kind: kvindex.LookupNotFound}, false, false
	}
	return kvindex.LookupResult{Kind: kvindex.LookupFound, Value: clone(v)}, idx.dirty[k], idx.pinned[k]
}

func (idx *Index) PutDirty(_ context.Context, key, value []byte, pin bool) kvindex.PutResult {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	k := string(key)
	idx.data[k] = clone(value)
	idx.dirty[k] = true
	idx.pinned[k] = pin
	idx.version++
	return kvindex.PutResult{Kind: kvindex.PutOK}
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

// --- Cursor ---

type cursor struct {
	idx  *Index
	keys []string
	pos  int
}

func (idx *Index) OpenCursor(_ context.Context) (kvindex.Cursor, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return &cursor{idx: idx, keys: idx.sortedKeys(), pos: -1}, nil
}

func (c *cursor) entryAt(pos int) (kvindex.Entry, bool) {
	if pos < 0 || pos >= len(c.keys) {
		return kvindex.Entry{}, false
	}
	c.idx.mu.RLock()
	defer c.idx.mu.RUnlock()
	v, ok := c.idx.data[c.keys[pos]]
	if !ok {
		return kvindex.Entry{}, false
	}
	return kvindex.Entry{Key: []byte(c.keys[pos]), Value: clone(v)}, true
}

func (c *cursor) First() (kvindex.Entry, bool) {
	c.pos = 0
	return c.entryAt(c.pos)
}

func (c *cursor) Last() (kvindex.Entry, bool) {
	c.pos = len(c.keys) - 1
	return c.entryAt(c.pos)
}

func (c *cursor) Jump(key []byte) (kvindex.Entry, bool) {
	target := string(key)
	idx := sort.SearchStrings(c.keys, target)
	c.pos = idx
	return c.entryAt(c.pos)
}

func (c *cursor) Next() (kvindex.Entry, bool) {
	c.pos++
	return c.entryAt(c.pos)
}

func (c *cursor) Get() (kvindex.Entry, bool) {
	return c.entryAt(c.pos)
}

func (c *cursor) Put(key, value []byte) error {
	c.idx.mu.Lock()
	defer c.idx.mu.Unlock()
	c.idx.data[string(key)] = clone(value)
	c.idx.version++
	return nil
}

func (c *cursor) Remove() error {
	if c.pos < 0 || c.pos >= len(c.keys) {
		return kvindex.ErrNoCursor
	}
	c.idx.mu.Lock()
	defer c.idx.mu.Unlock()
	delete(c.idx.data, c.keys[c.pos])
	c.idx.version++
	return nil
}

func (c *cursor) IsValidPosition() bool {
	return c.pos >= 0 && c.pos < len(c.keys)
}

func (c *cursor) Close() error { return nil }
