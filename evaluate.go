package semscore

import (
	"github.com/gomlx/gomlx/pkg/ml/train"
	"github.com/pkg/errors"
)

// Evaluate runs the trainer's evaluation metrics over the whole dataset and
// returns the Pearson correlation between predictions and labels, in [-1, 1].
// It runs in evaluation mode: no gradients, no parameter mutation, so for a
// fixed model and dataset the result is deterministic.
//
// The trainer must have been built with the metric from NewPearsonMetric
// among its eval metrics. The dataset is reset after the pass so it can be
// evaluated again on the next epoch.
func Evaluate(trainer *train.Trainer, ds train.Dataset) (float64, error) {
	values, err := trainer.Eval(ds)
	if err != nil {
		return 0, errors.WithMessagef(err, "evaluation on dataset %q failed", ds.Name())
	}
	ds.Reset()
	for idx, metric := range trainer.EvalMetrics() {
		if metric.ShortName() != PearsonShortName {
			continue
		}
		switch v := values[idx].Value().(type) {
		case float64:
			return v, nil
		case float32:
			return float64(v), nil
		default:
			return 0, errors.Errorf("Pearson metric returned %T, expected a float scalar", v)
		}
	}
	return 0, errors.Errorf("trainer has no %q eval metric; build it with NewPearsonMetric", PearsonShortName)
}
