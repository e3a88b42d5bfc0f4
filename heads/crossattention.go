package heads

import (
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/layers/attention"

	"github.com/semscore/semscore/encoder"
)

// crossAttentionHead lets the first sentence's pooled vector attend over a
// two-element sequence holding both sides' pooled vectors. The attention axis
// is the per-example sequence axis, so examples in a batch never attend to
// each other.
type crossAttentionHead struct {
	cfg Config
}

func newCrossAttentionHead(cfg Config) Scorer { return &crossAttentionHead{cfg: cfg} }

func (h *crossAttentionHead) Arch() Arch    { return ArchCrossAttention }
func (h *crossAttentionHead) Bounded() bool { return true }

func (h *crossAttentionHead) ScoreGraph(ctx *context.Context, hidden1, mask1, hidden2, mask2 *Node) *Node {
	ctx = ctx.In("crossattention")
	v1 := encoder.MaskedMean(hidden1, mask1) // [batch, dim]
	v2 := encoder.MaskedMean(hidden2, mask2)
	query := InsertAxes(v1, 1) // [batch, 1, dim]
	keysValues := Concatenate([]*Node{InsertAxes(v1, 1), InsertAxes(v2, 1)}, 1) // [batch, 2, dim]
	attended := attention.MultiHeadAttention(ctx.In("pair_attention"),
		query, keysValues, keysValues, 1, h.cfg.EmbedDim).Done()
	attended = Squeeze(attended, 1)                        // [batch, dim]
	combined := Concatenate([]*Node{v1, attended}, -1)     // [batch, 2*dim]
	return Sigmoid(regressor(ctx, combined, h.cfg.HiddenDim))
}
