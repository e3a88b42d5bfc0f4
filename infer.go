package semscore

import (
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/pkg/errors"

	"github.com/semscore/semscore/heads"
	"github.com/semscore/semscore/stsb"
)

// Score runs inference on one sentence pair and returns its similarity on
// the external 0 to 5 scale, using the best-validation snapshot held by the
// result. The first call compiles the inference graph; later calls with the
// same tokenized lengths reuse it.
func (r *TrainingResult) Score(sentence1, sentence2 string) (float64, error) {
	if r.enc == nil {
		return 0, errors.New("result already closed")
	}
	tok := r.enc.Tokenizer()
	pairs, err := stsb.TokenizePairs(tok, []stsb.Example{
		{Sentence1: sentence1, Sentence2: sentence2},
	}, r.maxLen)
	if err != nil {
		return 0, err
	}
	batch, err := stsb.Collate(pairs, tok.PadID())
	if err != nil {
		return 0, err
	}

	if r.exec == nil {
		r.exec, err = context.NewExec(r.backend, r.ctx.Reuse(), r.scoreGraph)
		if err != nil {
			return 0, errors.WithMessage(err, "failed to build inference executor")
		}
	}
	output, err := r.exec.Exec1(batch.IDs1, batch.Mask1, batch.IDs2, batch.Mask2)
	if err != nil {
		return 0, errors.WithMessagef(err, "inference failed for %q / %q", sentence1, sentence2)
	}
	scores := output.Value().([]float32)
	return float64(scores[0]), nil
}

// scoreGraph is the inference graph: encoder, scoring head, then the
// head-specific normalization to the external scale.
func (r *TrainingResult) scoreGraph(ctx *context.Context, ids1, mask1, ids2, mask2 *Node) *Node {
	hidden1 := r.enc.HiddenStates(ctx, ids1, mask1)
	hidden2 := r.enc.HiddenStates(ctx, ids2, mask2)
	raw := r.scorer.ScoreGraph(ctx, hidden1, mask1, hidden2, mask2)
	return heads.ExternalScoreGraph(r.scorer, raw)
}
