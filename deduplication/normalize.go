package deduplication

import (
	"fmt"
	"math"
)

// NormalizeL2 scales v in place to unit length so that inner product equals cosine similarity.
// A zero or non-finite vector cannot be normalized and yields ErrEmbeddingFailure.
func NormalizeL2(v []float32) error {
	var sumSq float64
	for _, x := range v {
		sumSq += float64(x) * float64(x)
	}
	if sumSq == 0 || math.IsNaN(sumSq) || math.IsInf(sumSq, 0) {
		return fmt.Errorf("%w: vector norm is %v", ErrEmbeddingFailure, math.Sqrt(sumSq))
	}

	inv := 1 / math.Sqrt(sumSq)
	for i, x := range v {
		v[i] = float32(float64(x) * inv)
	}
	return nil
}

// Dot returns the inner product of two equal-length vectors.
func Dot(a, b []float32) float32 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return float32(sum)
}
