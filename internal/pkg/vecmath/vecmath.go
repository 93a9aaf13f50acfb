// Package vecmath holds the vector math shared by the embedding generator and the
// in-process search path.
package vecmath

import (
	"fmt"
	"math"
)

// DimensionMismatchError is returned when two vectors that must share a dimension do not.
// It is always fatal: vectors are never padded or truncated to fit.
type DimensionMismatchError struct {
	Expected int
	Actual   int
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("vector dimension mismatch: got %d, expected %d", e.Actual, e.Expected)
}

// CheckDimension returns a *DimensionMismatchError when len(v) != expected.
func CheckDimension(v []float32, expected int) error {
	if len(v) != expected {
		return &DimensionMismatchError{Expected: expected, Actual: len(v)}
	}
	return nil
}

// CosineSimilarity returns the cosine of the angle between a and b, in [-1, 1].
// A zero-magnitude vector yields 0 rather than NaN.
func CosineSimilarity(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, &DimensionMismatchError{Expected: len(a), Actual: len(b)}
	}
	var dot, normA, normB float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		normA += x * x
		normB += y * y
	}
	if normA == 0 || normB == 0 {
		return 0, nil
	}
	sim := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	// rounding can push |v·v| / |v|² a hair past 1
	if sim > 1 {
		sim = 1
	} else if sim < -1 {
		sim = -1
	}
	return sim, nil
}
