package encoder

import (
	"testing"

	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/graph/graphtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// hidden states [batch=2, seqLen=3, dim=2].
var testHidden = [][][]float32{
	{{1, 2}, {3, 4}, {5, 6}},
	{{10, 20}, {30, 40}, {50, 60}},
}

func TestFirstToken(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	got, err := ExecOnce(backend, func(hidden *Node) *Node {
		return FirstToken(hidden)
	}, testHidden)
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{1, 2}, {10, 20}}, got.Value())
}

func TestMaskedMeanAllOnes(t *testing.T) {
	// With an all-ones mask, masked mean pooling is the plain average.
	backend := graphtest.BuildTestBackend()
	mask := [][]int64{{1, 1, 1}, {1, 1, 1}}
	got, err := ExecOnce(backend, func(hidden, mask *Node) *Node {
		return MaskedMean(hidden, mask)
	}, testHidden, mask)
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{3, 4}, {30, 40}}, got.Value())
}

func TestMaskedMeanExcludesPadding(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	mask := [][]int64{{1, 1, 0}, {1, 0, 0}}
	run := func(hidden [][][]float32) [][]float32 {
		got, err := ExecOnce(backend, func(hidden, mask *Node) *Node {
			return MaskedMean(hidden, mask)
		}, hidden, mask)
		require.NoError(t, err)
		return got.Value().([][]float32)
	}

	pooled := run(testHidden)
	assert.Equal(t, [][]float32{{2, 3}, {10, 20}}, pooled)

	// Changing a padded token's embedding must not change the pooled output.
	modified := [][][]float32{
		{{1, 2}, {3, 4}, {-100, 77}},
		{{10, 20}, {8, 8}, {9, 9}},
	}
	assert.Equal(t, pooled, run(modified))
}
