package linearschedule_test

import (
	"testing"

	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/dtypes"
	"github.com/gomlx/gomlx/pkg/core/graph/graphtest"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/train/optimizers"
	"github.com/stretchr/testify/require"

	_ "github.com/gomlx/gomlx/backends/default"

	"github.com/semscore/semscore/linearschedule"
)

func TestLinearSchedule(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	const totalSteps = 100
	const minLearningRate = 0.001
	const baseLearningRate = 1.0

	t.Run("explicit configuration", func(t *testing.T) {
		ctx := context.New().Checked(false)
		exec, err := context.NewExec(backend, ctx, func(ctx *context.Context, graph *Graph) *Node {
			ctx.SetTraining(graph, true)
			linearschedule.New(ctx, graph, dtypes.Float32).
				TotalSteps(totalSteps).
				LearningRate(baseLearningRate).
				MinLearningRate(minLearningRate).
				Done()
			return optimizers.LearningRateVar(ctx, dtypes.Float32, 1e3).ValueGraph(graph)
		})
		require.NoError(t, err)

		for ii := range 2 * totalSteps {
			lrT, err := exec.Exec1()
			require.NoErrorf(t, err, "failed for step %d", ii)
			lr := tensors.ToScalar[float32](lrT)

			fraction := min(float64(ii)/float64(totalSteps), 1.0)
			wantLR := (1.0-fraction)*(baseLearningRate-minLearningRate) + minLearningRate
			require.InDeltaf(t, float32(wantLR), lr, 1e-4, "step=%d", ii)
		}
	})

	t.Run("context configuration", func(t *testing.T) {
		ctx := context.New().Checked(false)
		ctx.SetParam(optimizers.ParamLearningRate, baseLearningRate)
		ctx.SetParam(linearschedule.ParamTotalSteps, totalSteps)
		ctx.SetParam(linearschedule.ParamMinLearningRate, minLearningRate)
		exec, err := context.NewExec(backend, ctx, func(ctx *context.Context, graph *Graph) *Node {
			ctx.SetTraining(graph, true)
			linearschedule.New(ctx, graph, dtypes.Float32).FromContext().Done()
			return optimizers.LearningRateVar(ctx, dtypes.Float32, 1e3).ValueGraph(graph)
		})
		require.NoError(t, err)

		first, err := exec.Exec1()
		require.NoError(t, err)
		require.InDelta(t, float32(baseLearningRate), tensors.ToScalar[float32](first), 1e-4)

		var last float32
		for range totalSteps {
			lrT, err := exec.Exec1()
			require.NoError(t, err)
			last = tensors.ToScalar[float32](lrT)
		}
		require.InDelta(t, float32(minLearningRate), last, 1e-4)
	})

	t.Run("disabled at zero steps", func(t *testing.T) {
		ctx := context.New().Checked(false)
		exec, err := context.NewExec(backend, ctx, func(ctx *context.Context, graph *Graph) *Node {
			ctx.SetTraining(graph, true)
			linearschedule.New(ctx, graph, dtypes.Float32).
				TotalSteps(0).
				LearningRate(baseLearningRate).
				Done()
			return optimizers.LearningRateVar(ctx, dtypes.Float32, baseLearningRate).ValueGraph(graph)
		})
		require.NoError(t, err)
		lrT, err := exec.Exec1()
		require.NoError(t, err)
		require.InDelta(t, float32(baseLearningRate), tensors.ToScalar[float32](lrT), 1e-6)
	})
}
