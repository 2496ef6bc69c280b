// Package embedding provides the intent embedding oracle used by drift
// scoring. The default oracle is a deterministic token-hash projection so
// the runtime works offline; deployments can plug in a real model behind
// the same interface.
package embedding

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
)

// DefaultDimension is the vector width of the built-in hashing oracle.
const DefaultDimension = 128

// Oracle converts free text into a fixed-width intent vector.
type Oracle interface {
	// Embed returns a unit-length vector for the given text. It must be
	// deterministic for identical input.
	Embed(ctx context.Context, text string) ([]float64, error)

	// Dimension reports the width of vectors produced by Embed.
	Dimension() int
}

// HashingOracle is a dependency-free Oracle. Tokens are lowercased,
// hashed with FNV-1a, and accumulated into signed buckets before L2
// normalization. Similar token sets land near each other, which is all
// drift scoring needs from a baseline signal.
type HashingOracle struct {
	dimension int
}

// NewHashingOracle returns a hashing oracle of the given width. A
// non-positive dimension falls back to DefaultDimension.
func NewHashingOracle(dimension int) *HashingOracle {
	if dimension <= 0 {
		dimension = DefaultDimension
	}
	return &HashingOracle{dimension: dimension}
}

// Embed implements Oracle.
func (o *HashingOracle) Embed(_ context.Context, text string) ([]float64, error) {
	vec := make([]float64, o.dimension)
	for _, token := range tokenize(text) {
		h := fnv.New64a()
		h.Write([]byte(token))
		sum := h.Sum64()
		bucket := int(sum % uint64(o.dimension))
		sign := 1.0
		if (sum>>63)&1 == 1 {
			sign = -1.0
		}
		vec[bucket] += sign
	}
	normalize(vec)
	return vec, nil
}

// Dimension implements Oracle.
func (o *HashingOracle) Dimension() int { return o.dimension }

func tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !('a' <= r && r <= 'z') && !('0' <= r && r <= '9')
	})
	return fields
}

func normalize(vec []float64) {
	var sum float64
	for _, v := range vec {
		sum += v * v
	}
	if sum == 0 {
		return
	}
	norm := math.Sqrt(sum)
	for i := range vec {
		vec[i] /= norm
	}
}

// CosineDistance returns 1 minus the cosine similarity of a and b,
// clamped to [0, 1]. Mismatched lengths or zero vectors score the
// maximum distance because nothing useful can be said about them.
func CosineDistance(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 1.0
	}
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 1.0
	}
	sim := dot / (math.Sqrt(na) * math.Sqrt(nb))
	dist := 1.0 - sim
	if dist < 0 {
		return 0
	}
	if dist > 1 {
		return 1
	}
	return dist
}

// Mean returns the element-wise mean of the given vectors. It returns
// nil when the slice is empty.
func Mean(vectors [][]float64) []float64 {
	if len(vectors) == 0 {
		return nil
	}
	mean := make([]float64, len(vectors[0]))
	for _, v := range vectors {
		for i := range mean {
			if i < len(v) {
				mean[i] += v[i]
			}
		}
	}
	for i := range mean {
		mean[i] /= float64(len(vectors))
	}
	return mean
}
