package encoder

import (
	. "github.com/gomlx/gomlx/pkg/core/graph"
)

// FirstToken pools hidden states [batch, seqLen, dim] down to the first
// ("summary") token vector of each example, shaped [batch, dim].
func FirstToken(hidden *Node) *Node {
	return Squeeze(Slice(hidden, AxisRange(), AxisElem(0), AxisRange()), 1)
}

// MaskedMean pools hidden states [batch, seqLen, dim] to the mean of the
// unmasked positions of each example, shaped [batch, dim]. Padded positions
// (mask == 0) do not contribute.
//
// Every example must have at least one unmasked position: empty tokenizations
// are rejected at ingestion (stsb.TokenizePairs), so the divisor is always
// positive for data that reaches the graph.
func MaskedMean(hidden, mask *Node) *Node {
	fmask := ConvertDType(mask, hidden.DType())           // [batch, seqLen]
	weighted := Mul(hidden, InsertAxes(fmask, -1))        // zero out padding
	summed := ReduceSum(weighted, 1)                      // [batch, dim]
	counts := InsertAxes(ReduceSum(fmask, -1), -1)        // [batch, 1]
	return Div(summed, counts)
}
