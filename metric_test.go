package semscore

import (
	"testing"

	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/graph/graphtest"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/train/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func updateExec(t *testing.T, ctx *context.Context, metric metrics.Interface) *context.Exec {
	t.Helper()
	backend := graphtest.BuildTestBackend()
	return context.MustNewExec(backend, ctx,
		func(ctx *context.Context, labels, predictions *Node) *Node {
			return metric.UpdateGraph(ctx, []*Node{labels}, []*Node{predictions})
		})
}

func TestPearsonMetricStreaming(t *testing.T) {
	// Feeding the split in two batches must give the exact correlation of
	// the whole split, not an average of per-batch correlations.
	metric := NewPearsonMetric()
	ctx := context.New()
	exec := updateExec(t, ctx, metric)

	labels1, preds1 := []float32{0.1, 0.9, 0.4}, []float32{0.2, 0.7, 0.1}
	labels2, preds2 := []float32{0.6, 0.3}, []float32{0.9, 0.35}
	exec.MustExec(labels1, preds1)
	got := exec.MustExec(labels2, preds2)[0].Value().(float64)

	want, err := Pearson(
		[]float64{0.2, 0.7, 0.1, 0.9, 0.35},
		[]float64{0.1, 0.9, 0.4, 0.6, 0.3})
	require.NoError(t, err)
	assert.InDelta(t, want, got, 1e-9)

	// A second identical pass after Reset reproduces the value exactly.
	metric.Reset(ctx)
	exec.MustExec(labels1, preds1)
	second := exec.MustExec(labels2, preds2)[0].Value().(float64)
	assert.Equal(t, got, second)
}

func TestPearsonMetricDegenerate(t *testing.T) {
	// Constant predictions leave the correlation undefined: report 0, never NaN.
	metric := NewPearsonMetric()
	ctx := context.New()
	exec := updateExec(t, ctx, metric)

	got := exec.MustExec([]float32{0.1, 0.5, 0.9}, []float32{0.4, 0.4, 0.4})[0].Value().(float64)
	assert.Equal(t, 0.0, got)
}

func TestDegenerateBatchMetric(t *testing.T) {
	metric := NewDegenerateBatchMetric()
	ctx := context.New()
	exec := updateExec(t, ctx, metric)

	count := exec.MustExec([]float32{0.1, 0.5, 0.9}, []float32{0.4, 0.4, 0.4})[0].Value().(float64)
	assert.Equal(t, 1.0, count)

	// A healthy batch does not increment the counter.
	count = exec.MustExec([]float32{0.1, 0.5, 0.9}, []float32{0.2, 0.5, 0.8})[0].Value().(float64)
	assert.Equal(t, 1.0, count)

	count = exec.MustExec([]float32{0.5, 0.5, 0.5}, []float32{0.2, 0.5, 0.8})[0].Value().(float64)
	assert.Equal(t, 2.0, count)

	metric.Reset(ctx)
	count = exec.MustExec([]float32{0.1, 0.5, 0.9}, []float32{0.2, 0.5, 0.8})[0].Value().(float64)
	assert.Equal(t, 0.0, count)
}
