package heads

import (
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/ml/context"

	"github.com/semscore/semscore/encoder"
)

// siameseHead combines the two summary vectors through element-wise absolute
// difference and product, plus the first side's vector on its own. Keeping
// that third term makes the head order-sensitive: swapping the sentences can
// change the score, and that asymmetry is preserved on purpose.
//
// Its raw output is unbounded; see ExternalScore for the squashing applied at
// inference time.
type siameseHead struct {
	cfg Config
}

func newSiameseHead(cfg Config) Scorer { return &siameseHead{cfg: cfg} }

func (h *siameseHead) Arch() Arch    { return ArchSiamese }
func (h *siameseHead) Bounded() bool { return false }

func (h *siameseHead) ScoreGraph(ctx *context.Context, hidden1, mask1, hidden2, mask2 *Node) *Node {
	ctx = ctx.In("siamese")
	v1 := encoder.FirstToken(hidden1)
	v2 := encoder.FirstToken(hidden2)
	diff := Abs(Sub(v1, v2))
	prod := Mul(v1, v2)
	combined := Concatenate([]*Node{diff, prod, v1}, -1) // [batch, 3*dim]
	return regressor(ctx, combined, h.cfg.HiddenDim)
}
