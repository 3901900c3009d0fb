// Package kvindex defines a uniform key-value index abstraction over
// multiple concrete backends (an in-memory map, a disk B-tree, a disk LSM,
// and a fixed-page disk hash with per-page write-ahead transactions),
// grounded on the teacher's metadata-store backend split
// (pkg/metadata/store/{memory,badger}) and on the original engine's
// base/include/base/index.h capability-trait design.
//
// Every result is a sum type (a Kind plus an optional payload) rather than
// a bare bool/error, per the Design Notes: callers must switch on Kind
// instead of overloading a single error return for "not found" vs. "ok"
// vs. "value already identical".
package kvindex

import (
	"context"
	"errors"
)

// Capability flags a backend may advertise. The engine consults these at
// wiring time rather than type-asserting concrete backend types.
type Capability int

const (
	CapPersistentItemCount Capability = 1 << iota
	CapHasIterator
	CapWriteBackCache
	CapReturnsDeleteNotFound
	CapNativeBatchOps
	CapCompareAndSwap
	CapPutIfAbsent
	CapRawAccess
)

// Has reports whether flags contains cap.
func (flags Capability) Has(cap Capability) bool {
	return flags&cap != 0
}

// LookupKind enumerates Lookup's possible outcomes.
type LookupKind int

const (
	LookupNotFound LookupKind = iota
	LookupFound
	LookupError
)

// LookupResult is the sum type returned by Lookup.
type LookupResult struct {
	Kind  LookupKind
	Value []byte
	Err   error
}

// PutKind enumerates Put's possible outcomes.
type PutKind int

const (
	PutOK PutKind = iota
	PutKept // identical value already present; backend chose not to rewrite
	PutError
)

// PutResult is the sum type returned by Put/PutIfAbsent.
type PutResult struct {
	Kind PutKind
	Err  error
}

// DeleteKind enumerates Delete's possible outcomes.
type DeleteKind int

const (
	DeleteOK DeleteKind = iota
	DeleteNotFound
	DeleteError
)

// DeleteResult is the sum type returned by Delete.
type DeleteResult struct {
	Kind DeleteKind
	Err  error
}

// CASKind enumerates CompareAndSwap's possible outcomes.
type CASKind int

const (
	CASOK CASKind = iota
	CASKept // expected did not match; Actual carries the current value
	CASError
)

// CASResult is the sum type returned by CompareAndSwap.
type CASResult struct {
	Kind   CASKind
	Actual []byte
	Err    error
}

// Entry is a single (key, value) pair, used by iteration and batch puts.
type Entry struct {
	Key   []byte
	Value []byte
}

// Iterator walks an index's entries in backend-defined order. Iteration is
// best-effort: a concurrent modification may surface as Err returning a
// ConcurrentModification-kind error from pkg/engineerr, per §4.1.
type Iterator interface {
	// Next advances to the next entry and reports whether one was produced.
	Next() bool
	// Entry returns the current entry; valid only after Next returns true.
	Entry() Entry
	// Err returns any error encountered during iteration.
	Err() error
	// Close releases iterator resources.
	Close() error
}

// Index is the core key-value index interface every backend satisfies.
type Index interface {
	// Name identifies this index instance for logging/monitor output.
	Name() string

	// Capabilities reports which optional operations this backend supports.
	Capabilities() Capability

	// Lookup retrieves the value stored under key.
	Lookup(ctx context.Context, key []byte) LookupResult

	// Put stores value under key, creating or overwriting the entry.
	Put(ctx context.Context, key, value []byte) PutResult

	// Delete removes key. Per CapReturnsDeleteNotFound, some backends
	// distinguish "didn't exist" from "removed"; others always report OK.
	Delete(ctx context.Context, key []byte) DeleteResult

	// CreateIterator returns an Iterator over all entries, if
	// CapHasIterator is set; otherwise returns an error.
	CreateIterator(ctx context.Context) (Iterator, error)

	// Close releases any resources (file handles, background goroutines)
	// held by the backend.
	Close() error
}

// PutIfAbsenter is implemented by backends advertising CapPutIfAbsent.
type PutIfAbsenter interface {
	PutIfAbsent(ctx context.Context, key, value []byte) PutResult
}

// CompareAndSwapper is implemented by backends advertising CapCompareAndSwap.
type CompareAndSwapper interface {
	CompareAndSwap(ctx context.Context, key, newValue, expected []byte) CASResult
}

// BatchPutter is implemented by backends advertising CapNativeBatchOps.
type BatchPutter interface {
	PutBatch(ctx context.Context, entries []Entry) error
}

// ItemCounter is implemented by backends advertising CapPersistentItemCount.
type ItemCounter interface {
	ItemCount(ctx context.Context) (int64, error)
}

// WriteBackCache is implemented by backends advertising CapWriteBackCache:
// entries may be held dirty-and-pinned in memory before being flushed to
// the backend's durable storage. This is the interface the chunk index
// uses to insert a fingerprint pinned while its container is still open.
type WriteBackCache interface {
	Index

	// LookupDirty is like Lookup but also returns whether the hit is
	// still dirty (not yet flushed) and, if dirty, whether it is pinned.
	LookupDirty(ctx context.Context, key []byte) (result LookupResult, dirty bool, pinned bool)

	// PutDirty inserts value as a dirty entry, pinned iff pin is true. A
	// pinned entry is never selected by TryPersistDirtyItem until unpinned.
	PutDirty(ctx context.Context, key, value []byte, pin bool) PutResult

	// EnsurePersistent flushes key's dirty entry to durable storage unless
	// it is still pinned, in which case it reports CASKept-style "kept".
	EnsurePersistent(ctx context.Context, key []byte) PutResult

	// ChangePinningState updates the pin bit of an existing dirty entry.
	// Returns DeleteNotFound-shaped result if key has no dirty entry.
	ChangePinningState(ctx context.Context, key []byte, pinned bool) DeleteResult

	// TryPersistDirtyItem flushes up to batchSize unpinned dirty entries
	// to durable storage, returning how many were flushed.
	TryPersistDirtyItem(ctx context.Context, batchSize int) (int, error)

	// DirtyCount reports the number of entries currently dirty (pinned or not).
	DirtyCount() int
}

// Cursor is implemented by order-preserving backends (bolt, memory) per
// §4.1's optional cursor capability.
type Cursor interface {
	First() (Entry, bool)
	Last() (Entry, bool)
	Jump(key []byte) (Entry, bool)
	Next() (Entry, bool)
	Get() (Entry, bool)
	Put(key, value []byte) error
	Remove() error
	IsValidPosition() bool
	Close() error
}

// CursorOpener is implemented by backends advertising cursor support.
type CursorOpener interface {
	OpenCursor(ctx context.Context) (Cursor, error)
}

// ErrNoIterator is returned by CreateIterator when CapHasIterator is unset.
var ErrNoIterator = errors.New("kvindex: backend does not support iteration")

// ErrNoCursor is returned by OpenCursor when the backend has no cursor support.
var ErrNoCursor = errors.New("kvindex: backend does not support cursors")
