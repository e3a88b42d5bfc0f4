package semscore

import (
	"testing"

	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/graph/graphtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pearsonLossOnce(t *testing.T, labels, predictions []float32) float32 {
	t.Helper()
	backend := graphtest.BuildTestBackend()
	got, err := ExecOnce(backend, func(labels, predictions *Node) *Node {
		return PearsonLoss([]*Node{labels}, []*Node{predictions})
	}, labels, predictions)
	require.NoError(t, err)
	return got.Value().(float32)
}

func TestPearsonLoss(t *testing.T) {
	// Perfect correlation: loss 1 - r = 0, even under an affine offset.
	loss := pearsonLossOnce(t, []float32{0.1, 0.5, 0.9}, []float32{0.3, 0.5, 0.7})
	assert.InDelta(t, 0.0, loss, 1e-5)

	// Anti-correlation: loss 1 - (-1) = 2.
	loss = pearsonLossOnce(t, []float32{0.1, 0.5, 0.9}, []float32{0.9, 0.5, 0.1})
	assert.InDelta(t, 2.0, loss, 1e-5)
}

func TestPearsonLossDegenerateFallback(t *testing.T) {
	// Constant predictions make the correlation undefined: the loss falls
	// back to plain MSE instead of propagating a NaN.
	labels := []float32{0.0, 0.5, 1.0}
	predictions := []float32{0.5, 0.5, 0.5}
	loss := pearsonLossOnce(t, labels, predictions)

	wantMSE := float32((0.25 + 0.0 + 0.25) / 3.0)
	assert.InDelta(t, wantMSE, loss, 1e-6)
}
