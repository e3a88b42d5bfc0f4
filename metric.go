package semscore

import (
	"fmt"

	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/dtypes"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/train/metrics"
)

const (
	// PearsonShortName identifies the evaluation metric on trainers and
	// progress bars.
	PearsonShortName = "r"

	// PearsonMetricType groups the correlation metrics for plotting.
	PearsonMetricType = "pearson"
)

// pearsonMetric is a stateful metrics.Interface that accumulates the
// sufficient statistics of the correlation (n, Σx, Σy, Σxy, Σx², Σy²) in
// context variables, one batch at a time. After a full pass over a dataset it
// yields the exact correlation of the whole split, not an average of
// per-batch correlations.
type pearsonMetric struct {
	name, shortName, scopeName string
}

// NewPearsonMetric creates the streaming Pearson correlation metric between
// labels and predictions. Accumulation is in float64 regardless of the model
// dtype.
func NewPearsonMetric() metrics.Interface {
	return &pearsonMetric{
		name:      "Pearson correlation",
		shortName: PearsonShortName,
		scopeName: "pearson_correlation",
	}
}

func (m *pearsonMetric) Name() string       { return m.name }
func (m *pearsonMetric) ShortName() string  { return m.shortName }
func (m *pearsonMetric) ScopeName() string  { return m.scopeName }
func (m *pearsonMetric) MetricType() string { return PearsonMetricType }

// statNames index the accumulator variables, all scalar float64.
var statNames = []string{"count", "sum_x", "sum_y", "sum_xy", "sum_xx", "sum_yy"}

func (m *pearsonMetric) UpdateGraph(ctx *context.Context, labels, predictions []*Node) *Node {
	g := predictions[0].Graph()
	x := ConvertDType(Reshape(predictions[0], -1), dtypes.Float64)
	y := ConvertDType(Reshape(labels[0], -1), dtypes.Float64)

	// Metric state lives outside the model's variable reuse checks.
	ctx = ctx.Checked(false).In(metrics.Scope).In(m.ScopeName())
	vars := make([]*context.Variable, len(statNames))
	for i, name := range statNames {
		vars[i] = ctx.VariableWithValue(name, float64(0)).SetTrainable(false)
	}
	updates := []*Node{
		metrics.BatchSize(x),
		ReduceAllSum(x),
		ReduceAllSum(y),
		ReduceAllSum(Mul(x, y)),
		ReduceAllSum(Square(x)),
		ReduceAllSum(Square(y)),
	}
	stats := make([]*Node, len(vars))
	for i, v := range vars {
		stats[i] = Add(v.ValueGraph(g), updates[i])
		v.SetValueGraph(stats[i])
	}

	n, sumX, sumY, sumXY, sumXX, sumYY := stats[0], stats[1], stats[2], stats[3], stats[4], stats[5]
	cov := Sub(Mul(n, sumXY), Mul(sumX, sumY))
	varX := Sub(Mul(n, sumXX), Square(sumX))
	varY := Sub(Mul(n, sumYY), Square(sumY))
	denom := Sqrt(Mul(varX, varY))

	// Degenerate accumulations (constant predictions or labels so far) report
	// 0 rather than NaN.
	zero := ZerosLike(denom)
	defined := GreaterThan(denom, zero)
	safeDenom := Where(defined, denom, OnesLike(denom))
	return Where(defined, Div(cov, safeDenom), zero)
}

func (m *pearsonMetric) PrettyPrint(value *tensors.Tensor) string {
	return fmt.Sprintf("%.4f", value.Value())
}

func (m *pearsonMetric) Reset(ctx *context.Context) {
	ctx = ctx.Reuse().In(metrics.Scope).In(m.ScopeName())
	for _, name := range statNames {
		v := ctx.GetVariableByScopeAndName(ctx.Scope(), name)
		if v == nil {
			// Called before the first graph build, nothing to reset yet.
			return
		}
		v.MustSetValue(tensors.FromScalar(float64(0)))
	}
}

// degenerateBatchMetric counts the training batches whose Pearson loss had to
// fall back to mean squared error because the batch correlation was
// undefined. A non-zero count at the end of training is a data quality
// signal, not an error.
type degenerateBatchMetric struct {
	scopeName string
}

// NewDegenerateBatchMetric creates the degenerate-batch counter, to be
// attached as a train metric next to the Pearson loss.
func NewDegenerateBatchMetric() metrics.Interface {
	return &degenerateBatchMetric{scopeName: "degenerate_batches"}
}

func (m *degenerateBatchMetric) Name() string       { return "Degenerate correlation batches" }
func (m *degenerateBatchMetric) ShortName() string  { return "#degen" }
func (m *degenerateBatchMetric) ScopeName() string  { return m.scopeName }
func (m *degenerateBatchMetric) MetricType() string { return "counter" }

func (m *degenerateBatchMetric) UpdateGraph(ctx *context.Context, labels, predictions []*Node) *Node {
	g := predictions[0].Graph()
	x := Reshape(predictions[0], -1)
	y := ConvertDType(Reshape(labels[0], -1), x.DType())
	_, degenerate := batchPearson(x, y)

	ctx = ctx.Checked(false).In(metrics.Scope).In(m.ScopeName())
	countVar := ctx.VariableWithValue("count", float64(0)).SetTrainable(false)
	increment := ConvertDType(degenerate, dtypes.Float64)
	count := Add(countVar.ValueGraph(g), increment)
	countVar.SetValueGraph(count)
	return count
}

func (m *degenerateBatchMetric) PrettyPrint(value *tensors.Tensor) string {
	return fmt.Sprintf("%.0f", value.Value())
}

func (m *degenerateBatchMetric) Reset(ctx *context.Context) {
	ctx = ctx.Reuse().In(metrics.Scope).In(m.ScopeName())
	v := ctx.GetVariableByScopeAndName(ctx.Scope(), "count")
	if v != nil {
		v.MustSetValue(tensors.FromScalar(float64(0)))
	}
}
