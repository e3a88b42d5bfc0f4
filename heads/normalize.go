package heads

import (
	"math"

	. "github.com/gomlx/gomlx/pkg/core/graph"
)

// ExternalScale is the annotation scale of the external similarity data: raw
// scores map back to [0, ExternalScale].
const ExternalScale = 5.0

// ExternalScore maps a head's raw output to the external 0 to 5 similarity
// scale. Bounded heads are already in [0, 1] and only need re-scaling;
// unbounded heads get squashed through tanh first, centered on the scale's
// midpoint.
func ExternalScore(s Scorer, raw float64) float64 {
	if s.Bounded() {
		return raw * ExternalScale
	}
	return math.Tanh(raw)*ExternalScale/2 + ExternalScale/2
}

// ExternalScoreGraph is the graph-side version of ExternalScore, for scoring
// whole batches in one execution.
func ExternalScoreGraph(s Scorer, raw *Node) *Node {
	if s.Bounded() {
		return MulScalar(raw, ExternalScale)
	}
	return AddScalar(MulScalar(Tanh(raw), ExternalScale/2), ExternalScale/2)
}
