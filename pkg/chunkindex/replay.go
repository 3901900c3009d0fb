package chunkindex

import (
	"context"

	"github.com/dedupv1/dedupv1-go/pkg/oplog"
)

var _ oplog.Consumer = (*Index)(nil)

// Replay implements oplog.Consumer. On direct replay (the producer's own
// commit path, synchronous with ContainerStore.committer.commit) it simply
// unpins every chunk the just-committed container holds, since those
// entries are already present (they were inserted pinned when written).
// On dirty-start or background replay it additionally imports the
// container's items from scratch if the container tracker doesn't yet
// know about it — the path taken when this process crashed before the
// direct replay ran, per spec.md §4.5 "Log-driven promotion".
func (idx *Index) Replay(ctx oplog.LogReplayContext, rec oplog.Record) error {
	if rec.EventType != oplog.EventContainerCommitted {
		return nil
	}
	p := oplog.DecodeContainerCommitted(rec.Payload)
	background := context.Background()

	if ctx.ReplayMode == oplog.ReplayDirect {
		return idx.unpinContainer(background, p.ID)
	}

	if idx.tracker.Contains(background, p.ID) {
		return nil
	}
	return idx.importContainer(background, p.ID)
}

// unpinContainer clears the pin bit on every fingerprint the container
// holds, per "unpins every chunk whose address equals id".
func (idx *Index) unpinContainer(ctx context.Context, containerID uint64) error {
	if idx.source == nil {
		return nil
	}
	items, err := idx.source.Items(ctx, containerID)
	if err != nil {
		return err
	}
	for _, f := range items {
		if err := idx.ChangePinningState(ctx, f, false); err != nil {
			return err
		}
		if err := idx.EnsurePersistent(ctx, f); err != nil {
			return err
		}
	}
	return nil
}

// importContainer loads containerID's items from disk and inserts each as
// an unpinned mapping, then marks the container imported so a repeated
// replay of the same event is a no-op.
func (idx *Index) importContainer(ctx context.Context, containerID uint64) error {
	if idx.source == nil {
		return nil
	}
	items, err := idx.source.Items(ctx, containerID)
	if err != nil {
		return err
	}
	for _, f := range items {
		m := Mapping{ContainerID: containerID}
		if err := idx.PutOverwrite(ctx, f, m); err != nil {
			return err
		}
	}
	return idx.tracker.MarkImported(ctx, containerID)
}
