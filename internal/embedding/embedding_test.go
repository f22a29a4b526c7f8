package embedding

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEmbed_Deterministic(t *testing.T) {
	a := Embed("hello world", 256)
	b := Embed("hello world", 256)
	require.Len(t, a, 256)
	require.Equal(t, a, b)
}

func TestEmbed_Normalized(t *testing.T) {
	v := Embed("the quick brown fox jumps over the lazy dog", 64)
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	require.InDelta(t, 1.0, sum, 1e-6)
}

func TestEmbed_CaseInsensitive(t *testing.T) {
	require.Equal(t, Embed("Hello World", 32), Embed("hello world", 32))
}

func TestEmbed_ZeroVector(t *testing.T) {
	v := Embed("... !!!", 16)
	require.Len(t, v, 16)
	for _, x := range v {
		require.Zero(t, x)
	}
	require.Zero(t, CosineSimilarity(v, v))
}

func TestEmbed_DefaultDim(t *testing.T) {
	require.Len(t, Embed("x", 0), DefaultDim)
}

func TestCosineSimilarity(t *testing.T) {
	v := Embed("hello world", 256)
	require.InDelta(t, 1.0, CosineSimilarity(v, v), 1e-6)

	near := Embed("hello world again", 256)
	far := Embed("completely unrelated sentence", 256)
	require.Greater(t, CosineSimilarity(v, near), CosineSimilarity(v, far))

	require.Zero(t, CosineSimilarity(v, Embed("hello", 128)))
	require.Zero(t, CosineSimilarity(nil, v))
	require.Zero(t, CosineSimilarity(nil, nil))
}

func TestEncodeDecode(t *testing.T) {
	v := []float32{0, 1, -0.5, float32(math.Pi)}
	got, err := Decode(Encode(v), 4)
	require.NoError(t, err)
	require.Equal(t, v, got)

	_, err = Decode(Encode(v), 8)
	require.Error(t, err)

	_, err = Decode([]byte{1, 2, 3}, 0)
	require.Error(t, err)
}
