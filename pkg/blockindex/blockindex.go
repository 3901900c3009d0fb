package blockindex

import (
	"github.com/dedupv1/dedupv1-go/pkg/kvindex"
	"github.com/dedupv1/dedupv1-go/pkg/oplog"
)

// Config assembles a BlockIndex's constituent pieces from their storage
// backends, wiring the volatile store's commit callback to the auxiliary
// index and its commit checker to the caller's container store adapter
// (pkg/engine's commitChecker), per spec.md §4.6's dependency graph:
// volatile store -> auxiliary index -> background importer -> persistent
// index, with the failed-block-write index alongside.
type Config struct {
	Log        *oplog.Log
	Persistent kvindex.Index // typically badgerindex
	Failed     kvindex.Index // typically badgerindex or diskhash
	Checker    CommitChecker // typically pkg/engine's containerstore adapter
	Importer   ImporterOptions
}

// NewBlockIndex constructs a fully wired BlockIndex.
func NewBlockIndex(cfg Config) *BlockIndex {
	persistent := NewPersistentBlockIndex(cfg.Persistent)
	failed := NewFailedBlockIndex(cfg.Failed, cfg.Log)

	bi := &BlockIndex{Persistent: persistent, Failed: failed}

	volatile := NewVolatileBlockStore(nil, cfg.Checker)
	aux := NewAuxiliaryBlockIndex(cfg.Log, volatile)

	cfg.Importer.Aux = aux
	cfg.Importer.Persistent = persistent
	cfg.Importer.Stats = &bi.Stats
	importer := NewBackgroundImporter(cfg.Importer)
	aux.SetImporter(importer)
	volatile.callback = aux

	bi.Aux = aux
	bi.Volatile = volatile
	bi.Importer = importer

	if cfg.Log != nil {
		cfg.Log.RegisterConsumer("blockindex", bi)
	}
	return bi
}
