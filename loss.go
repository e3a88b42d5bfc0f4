package semscore

import (
	. "github.com/gomlx/gomlx/pkg/core/graph"
)

// degenerateVarianceEpsilon is the threshold under which a batch's variance
// product is treated as zero and the batch correlation as undefined.
const degenerateVarianceEpsilon = 1e-10

// batchPearson computes the Pearson correlation of two flat vectors of the
// same dtype and length, plus a boolean scalar flagging a degenerate batch
// (near-zero variance on either side, where the correlation is undefined).
// The returned r is safe to differentiate even on degenerate batches.
func batchPearson(x, y *Node) (r, degenerate *Node) {
	cx := Sub(x, ReduceAllMean(x))
	cy := Sub(y, ReduceAllMean(y))
	cov := ReduceAllMean(Mul(cx, cy))
	varX := ReduceAllMean(Square(cx))
	varY := ReduceAllMean(Square(cy))
	varProduct := Mul(varX, varY)
	degenerate = LessOrEqual(varProduct, ConstAs(varProduct, degenerateVarianceEpsilon))
	// MaxScalar keeps the Sqrt gradient finite on degenerate batches, whose
	// r is discarded by the caller anyway.
	r = Div(cov, Sqrt(MaxScalar(varProduct, degenerateVarianceEpsilon)))
	return r, degenerate
}

// PearsonLoss is a train.LossFn returning 1 - Pearson(labels, predictions)
// over the batch: minimizing it maximizes the batch correlation directly.
// On degenerate batches, where the correlation is undefined, it falls back
// to mean squared error; such batches are counted by the metric from
// NewDegenerateBatchMetric.
func PearsonLoss(labels, predictions []*Node) *Node {
	x := Reshape(predictions[0], -1)
	y := ConvertDType(Reshape(labels[0], -1), x.DType())
	r, degenerate := batchPearson(x, y)
	mse := ReduceAllMean(Square(Sub(x, y)))
	return Where(degenerate, mse, OneMinus(r))
}
