package semscore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPearson(t *testing.T) {
	r, err := Pearson([]float64{1, 2, 3, 4, 5}, []float64{3, 5, 7, 9, 11})
	require.NoError(t, err)
	assert.InDelta(t, 1.0, r, 1e-12, "affine map of x correlates perfectly")

	r, err = Pearson([]float64{1, 2, 3}, []float64{-1, -2, -3})
	require.NoError(t, err)
	assert.InDelta(t, -1.0, r, 1e-12)

	r, err = Pearson([]float64{1, 2, 3}, []float64{1, 3, 2})
	require.NoError(t, err)
	assert.InDelta(t, 0.5, r, 1e-12)
}

func TestPearsonErrors(t *testing.T) {
	_, err := Pearson([]float64{1, 2}, []float64{1})
	assert.Error(t, err)

	_, err = Pearson([]float64{1}, []float64{1})
	assert.Error(t, err)

	// Zero variance makes the coefficient undefined.
	_, err = Pearson([]float64{2, 2, 2}, []float64{1, 2, 3})
	assert.Error(t, err)
	_, err = Pearson([]float64{1, 2, 3}, []float64{7, 7, 7})
	assert.Error(t, err)
}
