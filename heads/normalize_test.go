package heads

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustHead(t *testing.T, arch Arch) Scorer {
	t.Helper()
	s, err := New(arch, Config{EmbedDim: 4, HiddenDim: 8})
	require.NoError(t, err)
	return s
}

func TestExternalScoreBounded(t *testing.T) {
	for _, arch := range []Arch{ArchConcat, ArchCrossAttention} {
		s := mustHead(t, arch)
		require.True(t, s.Bounded())
		assert.Equal(t, 0.0, ExternalScore(s, 0.0))
		assert.Equal(t, 2.5, ExternalScore(s, 0.5))
		assert.Equal(t, 5.0, ExternalScore(s, 1.0))
	}
}

func TestExternalScoreSiamese(t *testing.T) {
	s := mustHead(t, ArchSiamese)
	require.False(t, s.Bounded())

	// A raw 0 sits at the middle of the scale; the squashing keeps any raw
	// output inside [0, 5].
	assert.Equal(t, 2.5, ExternalScore(s, 0.0))
	assert.InDelta(t, 5.0, ExternalScore(s, 100.0), 1e-6)
	assert.InDelta(t, 0.0, ExternalScore(s, -100.0), 1e-6)
	for _, raw := range []float64{-3, -0.7, 0.1, 2, 50} {
		got := ExternalScore(s, raw)
		assert.GreaterOrEqual(t, got, 0.0)
		assert.LessOrEqual(t, got, 5.0)
	}
}

func TestExternalScoreRoundTrip(t *testing.T) {
	// The inverse maps recover the raw output within floating tolerance.
	bounded := mustHead(t, ArchConcat)
	for _, raw := range []float64{0.0, 0.25, 0.99} {
		assert.InDelta(t, raw, ExternalScore(bounded, raw)/ExternalScale, 1e-9)
	}

	siamese := mustHead(t, ArchSiamese)
	for _, raw := range []float64{-1.5, 0.0, 0.3, 2.0} {
		external := ExternalScore(siamese, raw)
		recovered := math.Atanh(external/(ExternalScale/2) - 1)
		assert.InDelta(t, raw, recovered, 1e-9)
	}
}
