// Package boltindex implements kvindex.Index, kvindex.CursorOpener and
// kvindex.PutIfAbsenter over a single bbolt bucket, grounded on the bbolt
// usage pattern seen across the example pack (db.Update/db.View transactions,
// a single top-level bucket, bucket.Cursor for ordered scans). Used for the
// metadata index, which needs strict fp-order iteration to resolve
// secondary-to-primary container ids during GC.
package boltindex

import (
	"context"

	bolt "go.etcd.io/bbolt"

	"github.com/dedupv1/dedupv1-go/pkg/kvindex"
)

var bucketName = []byte("index")

// Index is a bbolt-backed kvindex.Index over a single bucket in a single
// database file.
type Index struct {
	name string
	db   *bolt.DB
}

var (
	_ kvindex.Index         = (*Index)(nil)
	_ kvindex.PutIfAbsenter = (*Index)(nil)
	_ kvindex.ItemCounter   = (*Index)(nil)
	_ kvindex.BatchPutter   = (*Index)(nil)
	_ kvindex.CursorOpener  = (*Index)(nil)
)

// Open opens (creating if absent) the bolt database file at path.
func Open(name, path string) (*Index, error) {
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketName)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Index{name: name, db: db}, nil
}

func (idx *Index) Name() string { return idx.name }

func (idx *Index) Capabilities() kvindex.Capability {
	return kvindex.CapPersistentItemCount |
		kvindex.CapHasIterator |
		kvindex.CapReturnsDeleteNotFound |
		kvindex.CapNativeBatchOps |
		kvindex.CapPutIfAbsent |
		kvindex.CapRawAccess
}

func (idx *Index) Lookup(ctx context.Context, key []byte) kvindex.LookupResult {
	if err := ctx.Err(); err != nil {
		return kvindex.LookupResult{Kind: kvindex.LookupError, Err: err}
	}
	var value []byte
	err := idx.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketName).Get(key)
		if v != nil {
			value = append([]byte(nil), v...)
		}
		return nil
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
	err := idx.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketName).Put(key, value)
	})
	if err != nil {
		return kvindex.PutResult{Kind: kvindex.PutError, Err: err}
	}
	return kvindex.PutResult{Kind: kvindex.PutOK}
}

func (idx *Index) PutIfAbsent(ctx context.Context, key, value []byte) kvindex.PutResult {
	if err := ctx.Err(); err != nil {
		return kvindex.PutResult{Kind: kvindex.PutError, Err: err}
	}
	kept := false
	err := idx.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketName)
		if b.Get(key) != nil {
			kept = true
			return nil
		}
		return b.Put(key, value)
	})
	if err != nil {
		return kvindex.PutResult{Kind: kvindex.PutError, Err: err}
	}
	if kept {
		return kvindex.PutResult{Kind: kvindex.PutKept}
	}
	return kvindex.PutResult{Kind: kvindex.PutOK}
}

func (idx *Index) Delete(ctx context.Context, key []byte) kvindex.DeleteResult {
	if err := ctx.Err(); err != nil {
		return kvindex.DeleteResult{Kind: kvindex.DeleteError, Err: err}
	}
	found := true
	err := idx.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketName)
		if b.Get(key) == nil {
			found = false
			return nil
		}
		return b.Delete(key)
	})
	if err != nil {
		return kvindex.DeleteResult{Kind: kvindex.DeleteError, Err: err}
	}
	if !found {
		return kvindex.DeleteResult{Kind: kvindex.DeleteNotFound}
	}
	return kvindex.DeleteResult{Kind: kvindex.DeleteOK}
}

func (idx *Index) PutBatch(ctx context.Context, entries []kvindex.Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return idx.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketName)
		for _, e := range entries {
			if err := b.Put(e.Key, e.Value); err != nil {
				return err
			}
		}
		return nil
	})
}

func (idx *Index) ItemCount(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	var count int64
	err := idx.db.View(func(tx *bolt.Tx) error {
		count = int64(tx.Bucket(bucketName).Stats().KeyN)
		return nil
	})
	return count, err
}

type iterator struct {
	tx      *bolt.Tx
	c       *bolt.Cursor
	started bool
	cur     kvindex.Entry
}

func (idx *Index) CreateIterator(ctx context.Context) (kvindex.Iterator, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	tx, err := idx.db.Begin(false)
	if err != nil {
		return nil, err
	}
	return &iterator{tx: tx, c: tx.Bucket(bucketName).Cursor()}, nil
}

func (it *iterator) Next() bool {
	var k, v []byte
	if !it.started {
		it.started = true
		k, v = it.c.First()
	} else {
		k, v = it.c.Next()
	}
	if k == nil {
		return false
	}
	it.cur = kvindex.Entry{Key: append([]byte(nil), k...), Value: append([]byte(nil), v...)}
	return true
}

func (it *iterator) Entry() kvindex.Entry { return it.cur }
func (it *iterator) Err() error           { return nil }
func (it *iterator) Close() error         { return it.tx.Rollback() }

func (idx *Index) Close() error { return idx.db.Close() }

// --- Cursor (kvindex.Cursor), backed by a writable bolt transaction ---

type cursor struct {
	tx *bolt.Tx
	c  *bolt.Cursor
	k  []byte
	v  []byte
}

func (idx *Index) OpenCursor(ctx context.Context) (kvindex.Cursor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	tx, err := idx.db.Begin(true)
	if err != nil {
		return nil, err
	}
	return &cursor{tx: tx, c: tx.Bucket(bucketName).Cursor()}, nil
}

func entryOf(k, v []byte) (kvindex.Entry, bool) {
	if k == nil {
		return kvindex.Entry{}, false
	}
	return kvindex.Entry{Key: append([]byte(nil), k...), Value: append([]byte(nil), v...)}, true
}

func (c *cursor) First() (kvindex.Entry, bool) {
	c.k, c.v = c.c.First()
	return entryOf(c.k, c.v)
}

func (c *cursor) Last() (kvindex.Entry, bool) {
	c.k, c.v = c.c.Last()
	return entryOf(c.k, c.v)
}

func (c *cursor) Jump(key []byte) (kvindex.Entry, bool) {
	c.k, c.v = c.c.Seek(key)
	return entryOf(c.k, c.v)
}

func (c *cursor) Next() (kvindex.Entry, bool) {
	c.k, c.v = c.c.Next()
	return entryOf(c.k, c.v)
}

func (c *cursor) Get() (kvindex.Entry, bool) {
	return entryOf(c.k, c.v)
}

func (c *cursor) Put(key, value []byte) error {
	return c.tx.Bucket(bucketName).Put(key, value)
}

func (c *cursor) Remove() error {
	if c.k == nil {
		return kvindex.ErrNoCursor
	}
	return c.c.Delete()
}

func (c *cursor) IsValidPosition() bool {
	return c.k != nil
}

func (c *cursor) Close() error { return c.tx.Commit() }
