package heads

import (
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/ml/context"

	"github.com/semscore/semscore/encoder"
)

// concatHead is the baseline architecture: take the summary token of each
// side, concatenate, regress, squash with a sigmoid.
type concatHead struct {
	cfg Config
}

func newConcatHead(cfg Config) Scorer { return &concatHead{cfg: cfg} }

func (h *concatHead) Arch() Arch    { return ArchConcat }
func (h *concatHead) Bounded() bool { return true }

func (h *concatHead) ScoreGraph(ctx *context.Context, hidden1, mask1, hidden2, mask2 *Node) *Node {
	ctx = ctx.In("concat")
	v1 := encoder.FirstToken(hidden1)
	v2 := encoder.FirstToken(hidden2)
	combined := Concatenate([]*Node{v1, v2}, -1) // [batch, 2*dim]
	return Sigmoid(regressor(ctx, combined, h.cfg.HiddenDim))
}
