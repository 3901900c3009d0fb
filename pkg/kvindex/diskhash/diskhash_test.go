package diskhash

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteReadPageRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.dat")
	s, err := OpenStore(path, Options{PageSize: 256, InitialPageCount: 4})
	require.NoError(t, err)
	defer s.Close()

	data := bytes.Repeat([]byte{0xAB}, 256)
	require.NoError(t, s.WritePage(2, data))

	got, err := s.ReadPage(2)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestReadPageBeyondCountIsZeroFilled(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.dat")
	s, err := OpenStore(path, Options{PageSize: 256, InitialPageCount: 1})
	require.NoError(t, err)
	defer s.Close()

	got, err := s.ReadPage(5)
	require.NoError(t, err)
	assert.Equal(t, make([]byte, 256), got)
}

func TestWritePageGrowsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.dat")
	s, err := OpenStore(path, Options{PageSize: 128, InitialPageCount: 1})
	require.NoError(t, err)
	defer s.Close()

	data := bytes.Repeat([]byte{0x01}, 128)
	require.NoError(t, s.WritePage(10, data))
	assert.Equal(t, uint32(11), s.PageCount())
}

func TestReopenPreservesData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.dat")
	s, err := OpenStore(path, Options{PageSize: 256, InitialPageCount: 4})
	require.NoError(t, err)

	data := bytes.Repeat([]byte{0x7F}, 256)
	require.NoError(t, s.WritePage(1, data))
	require.NoError(t, s.Close())

	s2, err := OpenStore(path, Options{PageSize: 256, InitialPageCount: 4})
	require.NoError(t, err)
	defer s2.Close()

	got, err := s2.ReadPage(1)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}
