// Package embedding implements the hashed bag-of-words vectorizer used for
// snippet similarity. Vectors are reproducible fingerprints, not learned
// embeddings: lexically disjoint texts will not cluster.
package embedding

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/cespare/xxhash/v2"

	"github.com/hpungsan/clipvault/internal/enrich"
)

// DefaultDim is the vector length used when none is configured.
const DefaultDim = 256

// Embed tokenizes text the same way keyword extraction does, counts each
// token into bucket xxhash64(token) mod dim, and L2-normalizes the result.
// Text without tokens yields the zero vector.
func Embed(text string, dim int) []float32 {
	if dim <= 0 {
		dim = DefaultDim
	}
	counts := make([]float64, dim)
	for _, tok := range enrich.Tokenize(text) {
		counts[xxhash.Sum64String(tok)%uint64(dim)]++
	}

	var norm float64
	for _, c := range counts {
		norm += c * c
	}
	norm = math.Sqrt(norm)

	vec := make([]float32, dim)
	if norm == 0 {
		return vec
	}
	for i, c := range counts {
		vec[i] = float32(c / norm)
	}
	return vec
}

// CosineSimilarity returns the dot product of a and b.
// Both are expected to be normalized; mismatched or empty vectors score 0.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot
}

// Encode packs a vector as little-endian float32s.
func Encode(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(v))
	}
	return buf
}

// Decode unpacks a vector written by Encode and checks it against dim.
func Decode(blob []byte, dim int) ([]float32, error) {
	if len(blob)%4 != 0 {
		return nil, fmt.Errorf("embedding blob length %d is not a multiple of 4", len(blob))
	}
	n := len(blob) / 4
	if dim > 0 && n != dim {
		return nil, fmt.Errorf("embedding has %d values, want %d", n, dim)
	}
	vec := make([]float32, n)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[4*i:]))
	}
	return vec, nil
}
