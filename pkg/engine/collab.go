// Package engine wires the container store, chunk index, block index and
// operation log into the Write/Read/Delete entry points a volume front end
// calls, per spec.md §2's data flow and dependency order. Grounded on the
// teacher's pkg/content (top-level orchestration over lower packages).
package engine

import (
	"github.com/dedupv1/dedupv1-go/pkg/fp"
)

// Chunker splits a block-sized buffer into content-defined or fixed-size
// chunks. Chunking policy itself is an external collaborator (spec.md §1's
// Non-goals); the engine only needs the boundaries back.
type Chunker interface {
	Chunk(data []byte) [][]byte
}

// Fingerprinter computes a chunk's content address. Hashing policy is an
// external collaborator; the engine only needs a stable digest.
type Fingerprinter interface {
	Fingerprint(chunk []byte) fp.Fingerprint
}

// WholeBlockChunker is the trivial reference Chunker: the whole buffer is
// one chunk. Not a production chunking policy — sufficient to exercise the
// engine end to end.
type WholeBlockChunker struct{}

func (WholeBlockChunker) Chunk(data []byte) [][]byte {
	if len(data) == 0 {
		return nil
	}
	return [][]byte{data}
}

// SHA256Fingerprinter is the trivial reference Fingerprinter, delegating to
// fp.Of.
type SHA256Fingerprinter struct{}

func (SHA256Fingerprinter) Fingerprint(chunk []byte) fp.Fingerprint { return fp.Of(chunk) }

// DedupClassification is the filter chain's verdict for one chunk, per
// spec.md §2: "unknown / strong-known / weak-known". The filter-chain
// policy itself is an external collaborator; this engine implements only
// the strong-known path (fingerprint already in the chunk index) since
// weak/fuzzy matching needs a policy this engine does not specify.
type DedupClassification int

const (
	ClassificationUnknown DedupClassification = iota
	ClassificationStrongKnown
)
