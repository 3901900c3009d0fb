package blockindex

import (
	"context"
	"sync"
	"time"

	"github.com/dedupv1/dedupv1-go/pkg/engineerr"
	"github.com/dedupv1/dedupv1-go/pkg/striped"
)

// DefaultImportBatchSize is the default number of ready (block_id,
// version) pairs promoted to the persistent index per batch.
const DefaultImportBatchSize = 256

// DefaultSoftLimit bounds the auxiliary index size (in entries) before
// data-path callers are asked to slow down.
const DefaultSoftLimit = 16 * 1024

// DefaultLockCount sizes the importer's default BlockLocks table.
const DefaultLockCount = 256

type readyEntry struct {
	blockID uint64
	version uint64
}

// ImporterOptions configures a BackgroundImporter.
type ImporterOptions struct {
	Aux        *AuxiliaryBlockIndex
	Persistent *PersistentBlockIndex
	BlockLocks *striped.Table
	Stats      *Stats

	BatchSize int
	SoftLimit int
	HardLimit int

	NormalDelay     time.Duration
	SoftLimitDelay  time.Duration
	HardLimitDelay  time.Duration
	IdleDelay       time.Duration
}

func (o *ImporterOptions) withDefaults() {
	if o.BatchSize == 0 {
		o.BatchSize = DefaultImportBatchSize
	}
	if o.SoftLimit == 0 {
		o.SoftLimit = DefaultSoftLimit
	}
	if o.HardLimit == 0 {
		o.HardLimit = o.SoftLimit * 2
		if o.HardLimit < 32*1024 {
			o.HardLimit = 32 * 1024
		}
	}
	if o.NormalDelay == 0 {
		o.NormalDelay = 10 * time.Millisecond
	}
	if o.SoftLimitDelay == 0 {
		o.SoftLimitDelay = time.Millisecond
	}
	if o.HardLimitDelay == 0 {
		o.HardLimitDelay = 50 * time.Millisecond
	}
	if o.IdleDelay == 0 {
		o.IdleDelay = 200 * time.Millisecond
	}
}

// BackgroundImporter drains the ready queue AuxiliaryBlockIndex populates
// (via its CommitVolatileBlock callback) and promotes each version to the
// persistent block index, throttling itself against the auxiliary
// index's soft/hard size limits, per spec.md §4.6.3.
type BackgroundImporter struct {
	opts ImporterOptions

	mu    sync.Mutex
	queue []readyEntry

	notify chan struct{}

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewBackgroundImporter constructs an importer over opts.
func NewBackgroundImporter(opts ImporterOptions) *BackgroundImporter {
	opts.withDefaults()
	if opts.BlockLocks == nil {
		opts.BlockLocks = striped.New(DefaultLockCount)
	}
	return &BackgroundImporter{
		opts:   opts,
		notify: make(chan struct{}, 1),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// Enqueue adds (blockID, version) to the ready queue.
func (imp *BackgroundImporter) Enqueue(_ context.Context, blockID, version uint64) error {
	imp.mu.Lock()
	imp.queue = append(imp.queue, readyEntry{blockID: blockID, version: version})
	imp.mu.Unlock()
	select {
	case imp.notify <- struct{}{}:
	default:
	}
	return nil
}

func (imp *BackgroundImporter) drainBatch() []readyEntry {
	imp.mu.Lock()
	defer imp.mu.Unlock()
	n := len(imp.queue)
	if n > imp.opts.BatchSize {
		n = imp.opts.BatchSize
	}
	batch := imp.queue[:n]
	imp.queue = imp.queue[n:]
	return batch
}

// Start launches the importer's drain loop in a new goroutine.
func (imp *BackgroundImporter) Start(ctx context.Context) {
	go imp.run(ctx)
}

// Stop signals the drain loop to exit and waits for it to do so.
func (imp *BackgroundImporter) Stop() {
	imp.stopOnce.Do(func() { close(imp.stopCh) })
	<-imp.doneCh
}

func (imp *BackgroundImporter) run(ctx context.Context) {
	defer close(imp.doneCh)
	for {
		select {
		case <-ctx.Done():
			return
		case <-imp.stopCh:
			return
		case <-imp.notify:
		case <-time.After(imp.opts.IdleDelay):
		}

		batch := imp.drainBatch()
		if len(batch) == 0 {
			continue
		}
		if err := imp.importBatch(ctx, batch); err != nil {
			continue
		}
		time.Sleep(imp.delayFor())
	}
}

func (imp *BackgroundImporter) delayFor() time.Duration {
	size := imp.opts.Aux.Size()
	switch {
	case size >= imp.opts.HardLimit:
		return imp.opts.HardLimitDelay
	case size >= imp.opts.SoftLimit:
		return imp.opts.SoftLimitDelay
	default:
		return imp.opts.NormalDelay
	}
}

func (imp *BackgroundImporter) importBatch(ctx context.Context, batch []readyEntry) error {
	for _, e := range batch {
		if err := imp.importOne(ctx, e.blockID, e.version); err != nil {
			return err
		}
	}
	return nil
}

// importOne implements spec.md §4.6.3's per-entry import: acquire
// BlockLocks[block_id], drop the entry if the persistent index is already
// at or past this version, otherwise promote it and remove it from the
// auxiliary index if it's still that exact version.
func (imp *BackgroundImporter) importOne(ctx context.Context, blockID, version uint64) error {
	start := time.Now()
	lock, wasFree := imp.opts.BlockLocks.AcquireWrite(blockID)
	defer lock.Unlock()
	if imp.opts.Stats != nil {
		imp.opts.Stats.RecordLock(wasFree)
		defer func() { imp.opts.Stats.RecordImport(time.Since(start)) }()
	}

	current, found, err := imp.opts.Persistent.Lookup(ctx, blockID)
	if err != nil {
		return err
	}
	if found && current.Version >= version {
		return nil
	}

	m, ok := imp.opts.Aux.Get(blockID)
	if !ok || m.Version != version {
		return engineerr.New(engineerr.KindInternal, "blockindex.importOne", "", nil)
	}
	if err := imp.opts.Persistent.Put(ctx, m); err != nil {
		return err
	}
	imp.opts.Aux.removeIfVersion(blockID, version)
	return nil
}

// Throttle blocks until the auxiliary index's size drops below the hard
// limit, per spec.md §4.6.3.
func (imp *BackgroundImporter) Throttle(ctx context.Context) error {
	if imp.opts.Aux.Size() >= imp.opts.HardLimit && imp.opts.Stats != nil {
		imp.opts.Stats.RecordThrottle(true)
	}
	for imp.opts.Aux.Size() >= imp.opts.HardLimit {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(imp.opts.HardLimitDelay):
		}
	}
	return nil
}

// ShouldSlowDown reports whether the auxiliary index has crossed the soft
// limit; data-path callers should back off (KindThrottled) when true.
func (imp *BackgroundImporter) ShouldSlowDown() bool {
	slow := imp.opts.Aux.Size() >= imp.opts.SoftLimit
	if slow && imp.opts.Stats != nil {
		imp.opts.Stats.RecordThrottle(false)
	}
	return slow
}
