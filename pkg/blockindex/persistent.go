package blockindex

import (
	"context"
	"encoding/binary"

	"github.com/dedupv1/dedupv1-go/pkg/engineerr"
	"github.com/dedupv1/dedupv1-go/pkg/kvindex"
)

// PersistentBlockIndex is the durable block_id -> BlockMapping map,
// grounded on core/include/core/block_index.h's persistent index, backed
// by any kvindex.Index (typically badgerindex, per DESIGN.md).
type PersistentBlockIndex struct {
	backend kvindex.Index
}

// NewPersistentBlockIndex wraps backend as a PersistentBlockIndex.
func NewPersistentBlockIndex(backend kvindex.Index) *PersistentBlockIndex {
	return &PersistentBlockIndex{backend: backend}
}

func blockKey(blockID uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, blockID)
	return b
}

// Lookup retrieves blockID's current persistent mapping.
func (p *PersistentBlockIndex) Lookup(ctx context.Context, blockID uint64) (BlockMapping, bool, error) {
	res := p.backend.Lookup(ctx, blockKey(blockID))
	switch res.Kind {
	case kvindex.LookupNotFound:
		return BlockMapping{}, false, nil
	case kvindex.LookupError:
		return BlockMapping{}, false, engineerr.New(engineerr.KindIO, "blockindex.PersistentBlockIndex.Lookup", "", res.Err)
	}
	m, err := UnmarshalBlockMapping(res.Value)
	if err != nil {
		return BlockMapping{}, false, engineerr.New(engineerr.KindCorruption, "blockindex.PersistentBlockIndex.Lookup", "", err)
	}
	return m, true, nil
}

// Put durably stores m, overwriting any prior version.
func (p *PersistentBlockIndex) Put(ctx context.Context, m BlockMapping) error {
	if res := p.backend.Put(ctx, blockKey(m.BlockID), m.Marshal()); res.Kind == kvindex.PutError {
		return engineerr.New(engineerr.KindIO, "blockindex.PersistentBlockIndex.Put", "", res.Err)
	}
	return nil
}
