package chunkindex

import (
	"context"
	"encoding/binary"

	"github.com/dedupv1/dedupv1-go/pkg/engineerr"
	"github.com/dedupv1/dedupv1-go/pkg/kvindex"
)

// ContainerTracker is the persistent set of container ids already imported
// into the chunk index, per spec.md §4.5's "container tracker". Dirty and
// background replay consult it so a container's items are inserted at most
// once regardless of how many times its ContainerCommitted event is
// replayed.
type ContainerTracker struct {
	backend kvindex.Index
}

// NewContainerTracker wraps backend (a persistent kvindex backend, opened
// the same way as every other on-disk index so the tracked set survives a
// restart) as a ContainerTracker.
func NewContainerTracker(backend kvindex.Index) *ContainerTracker {
	return &ContainerTracker{backend: backend}
}

func trackerKey(containerID uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, containerID)
	return b
}

// Contains reports whether containerID has already been imported.
func (t *ContainerTracker) Contains(ctx context.Context, containerID uint64) bool {
	res := t.backend.Lookup(ctx, trackerKey(containerID))
	return res.Kind == kvindex.LookupFound
}

// MarkImported records containerID as imported.
func (t *ContainerTracker) MarkImported(ctx context.Context, containerID uint64) error {
	if res := t.backend.Put(ctx, trackerKey(containerID), []byte{1}); res.Kind == kvindex.PutError {
		return res.Err
	}
	return nil
}

// Reset clears every tracked container id, per
// VolatileBlockStore::ResetTracker: called once at dirty-start so every
// ContainerCommitted event since the last clean shutdown is re-applied to
// the chunk index instead of being skipped as "already imported".
func (t *ContainerTracker) Reset(ctx context.Context) error {
	it, err := t.backend.CreateIterator(ctx)
	if err != nil {
		return engineerr.New(engineerr.KindInternal, "chunkindex.ContainerTracker.Reset", "", err)
	}
	defer it.Close()

	var keys [][]byte
	for it.Next() {
		e := it.Entry()
		keys = append(keys, append([]byte(nil), e.Key...))
	}
	if err := it.Err(); err != nil {
		return err
	}
	for _, k := range keys {
		if res := t.backend.Delete(ctx, k); res.Kind == kvindex.DeleteError {
			return res.Err
		}
	}
	return nil
}
