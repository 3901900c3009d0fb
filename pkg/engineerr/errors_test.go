package engineerr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorFormatting(t *testing.T) {
	err := New(KindNotFound, "chunkindex.Lookup", "fp=deadbeef", nil)
	assert.Contains(t, err.Error(), "chunkindex.Lookup")
	assert.Contains(t, err.Error(), "not_found")
	assert.Contains(t, err.Error(), "fp=deadbeef")
}

func TestErrorWrapsCause(t *testing.T) {
	cause := errors.New("disk full")
	err := New(KindIO, "container.StoreToFile", "container-7", cause)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "disk full")
}

func TestIsMatchesByKindAcrossWrapping(t *testing.T) {
	err := New(KindNotFound, "blockindex.Lookup", "block=42", nil)
	wrapped := fmt.Errorf("lookup failed: %w", err)

	assert.True(t, errors.Is(wrapped, ErrNotFound))
	assert.False(t, errors.Is(wrapped, ErrAlreadyExists))
	assert.Equal(t, KindNotFound, KindOf(wrapped))
}

func TestIsHelper(t *testing.T) {
	err := New(KindFull, "bitmap.Allocate", "", nil)
	assert.True(t, Is(err, KindFull))
	assert.False(t, Is(err, KindIO))
	assert.False(t, Is(errors.New("plain"), KindFull))
}
