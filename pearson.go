// Package semscore trains and evaluates sentence-pair similarity scorers:
// three scoring-head architectures over a shared pretrained encoder, trained
// on the STS Benchmark and compared by Pearson correlation on its dev split.
package semscore

import (
	"math"

	"github.com/pkg/errors"
)

// Pearson computes the Pearson correlation coefficient between x and y.
// It errors on mismatched lengths, fewer than two points, or zero variance
// in either slice, where the coefficient is undefined.
func Pearson(x, y []float64) (float64, error) {
	if len(x) != len(y) {
		return 0, errors.Errorf("length mismatch: %d vs %d values", len(x), len(y))
	}
	if len(x) < 2 {
		return 0, errors.Errorf("correlation needs at least 2 points, got %d", len(x))
	}
	n := float64(len(x))
	var meanX, meanY float64
	for i := range x {
		meanX += x[i]
		meanY += y[i]
	}
	meanX /= n
	meanY /= n

	var cov, varX, varY float64
	for i := range x {
		dx := x[i] - meanX
		dy := y[i] - meanY
		cov += dx * dy
		varX += dx * dx
		varY += dy * dy
	}
	denom := math.Sqrt(varX * varY)
	if denom == 0 {
		return 0, errors.New("correlation undefined: at least one side has zero variance")
	}
	return cov / denom, nil
}
