package fp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOfIsDeterministic(t *testing.T) {
	a := Of([]byte("hello world"))
	b := Of([]byte("hello world"))
	assert.True(t, a.Equal(b))

	c := Of([]byte("hello world!"))
	assert.False(t, a.Equal(c))
}

func TestEmptyFingerprint(t *testing.T) {
	assert.True(t, Empty.IsEmpty())
	assert.Equal(t, "", Empty.String())
	assert.False(t, Of([]byte("x")).IsEmpty())
}

func TestStringParseRoundTrip(t *testing.T) {
	original := Of([]byte("round trip me"))
	parsed, err := Parse(original.String())
	require.NoError(t, err)
	assert.True(t, original.Equal(parsed))
}

func TestParseInvalidHex(t *testing.T) {
	_, err := Parse("not-hex!!")
	require.Error(t, err)
}

func TestNewRejectsOversizedDigest(t *testing.T) {
	_, err := New(make([]byte, MaxSize+1))
	require.Error(t, err)
}

func TestKeyIsUsableAsMapKey(t *testing.T) {
	a := Of([]byte("a"))
	b := Of([]byte("b"))

	m := map[string]int{}
	m[a.Key()] = 1
	m[b.Key()] = 2

	assert.Equal(t, 1, m[a.Key()])
	assert.Equal(t, 2, m[b.Key()])
}
