package blockindex

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dedupv1/dedupv1-go/pkg/fp"
)

func TestBlockMappingMarshalRoundTrips(t *testing.T) {
	f1 := fp.Of([]byte("chunk one"))
	f2 := fp.Of([]byte("chunk two"))
	m := BlockMapping{
		BlockID:    7,
		Version:    3,
		EventLogID: 99,
		Items: []Item{
			{FP: f1, DataAddress: 11, ChunkOffset: 0, PayloadOffset: 0, Size: 1024},
			{FP: f2, DataAddress: 12, ChunkOffset: 1024, PayloadOffset: 512, Size: 2048},
		},
	}

	got, err := UnmarshalBlockMapping(m.Marshal())
	require.NoError(t, err)
	assert.Equal(t, m, got)
}

func TestBlockMappingUnmarshalRejectsShortInput(t *testing.T) {
	_, err := UnmarshalBlockMapping([]byte{1, 2, 3})
	assert.Error(t, err)
}

func TestPairMarshalRoundTrips(t *testing.T) {
	f := fp.Of([]byte("a chunk"))
	p := Pair{
		BlockID:  4,
		Previous: BlockMapping{BlockID: 4, Version: 1, Items: []Item{{FP: fp.Empty, Size: 4096}}},
		Modified: BlockMapping{BlockID: 4, Version: 2, Items: []Item{{FP: f, DataAddress: 5, Size: 4096}}},
	}

	got, err := UnmarshalPair(p.Marshal())
	require.NoError(t, err)
	assert.Equal(t, p, got)
}

func TestInitialMappingCoversWholeBlockAsEmpty(t *testing.T) {
	m := InitialMapping(1, 4096)
	require.Len(t, m.Items, 1)
	assert.Equal(t, EmptyDataAddress, m.Items[0].DataAddress)
	assert.Equal(t, uint32(4096), m.Items[0].Size)
	assert.True(t, m.Items[0].FP.IsEmpty())
}

func TestUsedContainersDedupesAndSkipsEmpty(t *testing.T) {
	m := BlockMapping{Items: []Item{
		{DataAddress: EmptyDataAddress, Size: 100},
		{DataAddress: 1, Size: 100},
		{DataAddress: 1, Size: 100},
		{DataAddress: 2, Size: 100},
	}}
	assert.ElementsMatch(t, []uint64{1, 2}, usedContainers(m))
}
