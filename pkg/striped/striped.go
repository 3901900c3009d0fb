// Package striped implements a fixed-size array of read-write locks keyed
// by a hash of a caller-supplied id, grounded on the teacher's
// pkg/metadata/lock sharded-lock manager and on the original engine's
// base/include/base/locks.h paged_lock, used by spec.md §5's BlockLocks and
// ChunkLocks so a hot key never has to share a single mutex with every
// other key in the system.
package striped

import "sync"

// Table is a fixed-size array of sync.RWMutex; Lock(id) always returns the
// same mutex for the same id mod the table size.
type Table struct {
	locks []sync.RWMutex
}

// New creates a Table with n stripes. n must be > 0.
func New(n int) *Table {
	if n <= 0 {
		n = 1
	}
	return &Table{locks: make([]sync.RWMutex, n)}
}

// Lock returns the stripe id maps to.
func (t *Table) Lock(id uint64) *sync.RWMutex {
	return &t.locks[id%uint64(len(t.locks))]
}

// AcquireWrite locks the stripe id maps to and reports whether the
// acquisition was immediate (free) or had to wait (busy), for callers that
// feed spec.md §9's per-call lock-free/lock-busy statistics.
func (t *Table) AcquireWrite(id uint64) (mu *sync.RWMutex, wasFree bool) {
	mu = t.Lock(id)
	if mu.TryLock() {
		return mu, true
	}
	mu.Lock()
	return mu, false
}
