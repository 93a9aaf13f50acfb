package vecmath

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCosineSimilarity(t *testing.T) {
	t.Run("identical non-zero vectors", func(t *testing.T) {
		for _, v := range [][]float32{{1, 2, 3}, {0.5, -0.25}, {1e-3, 7, -9, 4}} {
			got, err := CosineSimilarity(v, v)
			require.NoError(t, err)
			assert.InDelta(t, 1.0, got, 1e-9)
		}
	})

	t.Run("orthogonal vectors", func(t *testing.T) {
		got, err := CosineSimilarity([]float32{1, 0}, []float32{0, 1})
		require.NoError(t, err)
		assert.Equal(t, 0.0, got)
	})

	t.Run("opposite vectors", func(t *testing.T) {
		got, err := CosineSimilarity([]float32{1, 1}, []float32{-1, -1})
		require.NoError(t, err)
		assert.InDelta(t, -1.0, got, 1e-9)
	})

	t.Run("zero magnitude returns zero", func(t *testing.T) {
		got, err := CosineSimilarity([]float32{0, 0}, []float32{1, 1})
		require.NoError(t, err)
		assert.Equal(t, 0.0, got)

		got, err = CosineSimilarity([]float32{1, 1}, []float32{0, 0})
		require.NoError(t, err)
		assert.Equal(t, 0.0, got)
	})

	t.Run("mismatched lengths", func(t *testing.T) {
		_, err := CosineSimilarity([]float32{1, 0, 0}, []float32{1, 0})
		require.Error(t, err)

		var dimErr *DimensionMismatchError
		require.True(t, errors.As(err, &dimErr))
		assert.Equal(t, 3, dimErr.Expected)
		assert.Equal(t, 2, dimErr.Actual)
	})
}

func TestCheckDimension(t *testing.T) {
	assert.NoError(t, CheckDimension([]float32{1, 2}, 2))

	err := CheckDimension([]float32{1, 2}, 3)
	var dimErr *DimensionMismatchError
	require.ErrorAs(t, err, &dimErr)
	assert.Equal(t, "vector dimension mismatch: got 2, expected 3", err.Error())
}
