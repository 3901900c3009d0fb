// Package fp defines the Fingerprint type used throughout the engine to
// address chunk content, grounded on the teacher's ContentHash pattern
// (pkg/metadata/object.go) but generalized to a variable digest size since
// the chunk index's fingerprinting algorithm is an external collaborator
// (see pkg/engine's Fingerprinter interface) and need not always be SHA-256.
package fp

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Size is the digest size in bytes for the default (SHA-256) fingerprinter.
const Size = sha256.Size

// MaxSize bounds the digest length the wire formats in pkg/container and
// pkg/oplog will accept, so a corrupt length-prefixed record fails fast
// instead of driving an enormous allocation.
const MaxSize = 64

// Fingerprint is an opaque, content-derived chunk identifier. One reserved
// value, Empty, is never produced by a real fingerprinter and marks an
// unallocated block-mapping slot; no separate illegal-value sentinel is
// defined.
type Fingerprint struct {
	b []byte
}

// Empty is the zero-value fingerprint, used to mark an unmapped block.
var Empty = Fingerprint{}

// New wraps a digest byte slice as a Fingerprint. The slice is copied so
// callers may safely reuse their buffer.
func New(digest []byte) (Fingerprint, error) {
	if len(digest) == 0 {
		return Empty, nil
	}
	if len(digest) > MaxSize {
		return Fingerprint{}, fmt.Errorf("fp: digest length %d exceeds max %d", len(digest), MaxSize)
	}
	cp := make([]byte, len(digest))
	copy(cp, digest)
	return Fingerprint{b: cp}, nil
}

// Of computes the default (SHA-256) fingerprint of data.
func Of(data []byte) Fingerprint {
	sum := sha256.Sum256(data)
	return Fingerprint{b: sum[:]}
}

// Bytes returns the fingerprint's raw digest bytes. Callers must not
// mutate the returned slice.
func (f Fingerprint) Bytes() []byte { return f.b }

// IsEmpty reports whether f is the unmapped sentinel.
func (f Fingerprint) IsEmpty() bool { return len(f.b) == 0 }

// Equal reports whether two fingerprints have identical digest bytes.
func (f Fingerprint) Equal(other Fingerprint) bool {
	return bytes.Equal(f.b, other.b)
}

// String renders the fingerprint as a lowercase hex string, the canonical
// form used in logs and monitor JSON responses.
func (f Fingerprint) String() string {
	if f.IsEmpty() {
		return ""
	}
	return hex.EncodeToString(f.b)
}

// Parse decodes a hex-encoded fingerprint string produced by String.
func Parse(s string) (Fingerprint, error) {
	if s == "" {
		return Empty, nil
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return Fingerprint{}, fmt.Errorf("fp: invalid hex %q: %w", s, err)
	}
	return New(b)
}

// Key returns a value suitable for use as a Go map key (fixed arrays are
// comparable; []byte is not). Used by in-memory indexes and the in-combat
// chunk set.
func (f Fingerprint) Key() string {
	return string(f.b)
}
