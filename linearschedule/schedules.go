// Package linearschedule implements a linear decay schedule for the learning
// rate: it falls linearly from the configured learning rate down to a minimum
// over a fixed number of training steps, then stays at the minimum.
//
// See New for details and example of usage.
package linearschedule

import (
	"github.com/gomlx/exceptions"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/dtypes"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/train/optimizers"
)

var (
	// ParamTotalSteps enables the linear decay schedule for the learning rate.
	//
	// It defines the number of steps over which the learning rate decays from
	// the value of optimizers.ParamLearningRate to ParamMinLearningRate.
	//
	//   - 0: Disables the schedule (default).
	//   - Positive value: decay over that many steps.
	//
	// Requires calling `New().FromContext().Done()` at the start of your model.
	//
	// Only affects training; no effect during inference or evaluation.
	ParamTotalSteps = "linear_schedule_steps"

	// ParamMinLearningRate is the learning rate at the end of (and after) the
	// decay. Defaults to 0.0.
	ParamMinLearningRate = "linear_schedule_min_learning_rate"
)

// Config of the linear decay schedule.
// New creates it and once configured, call Config.Done to add it into the
// computation graph.
type Config struct {
	graph                         *Graph
	ctx                           *context.Context
	dtype                         dtypes.DType
	learningRate, minLearningRate float64
	totalSteps                    int
}

// New creates a configuration to apply a linear decay schedule for the
// learning rate.
//
// It returns a Config that can be configured. When finished configuring, call
// Done and it will generate the computation graph that updates the learning
// rate at every training step.
//
// Typically the hyperparameters come from the context (see ParamTotalSteps
// and ParamMinLearningRate):
//
//	func modelGraph(ctx *context.Context, inputs []*Node) *Node {
//		...
//		g := inputs[0].Graph()
//		linearschedule.New(ctx, g, dtypes.Float32).FromContext().Done()
//	}
func New(ctx *context.Context, graph *Graph, dtype dtypes.DType) *Config {
	return &Config{
		ctx:   ctx,
		graph: graph,
		dtype: dtype,
	}
}

// FromContext configures the schedule from the context, using the keys
// [ParamTotalSteps] and [ParamMinLearningRate].
func (opt *Config) FromContext() *Config {
	opt.totalSteps = context.GetParamOr(opt.ctx, ParamTotalSteps, 0)
	opt.learningRate = context.GetParamOr(opt.ctx, optimizers.ParamLearningRate, 0.0)
	opt.minLearningRate = context.GetParamOr(opt.ctx, ParamMinLearningRate, 0.0)
	return opt
}

// TotalSteps sets the number of steps over which the learning rate decays.
// If set to 0, the schedule is silently disabled.
func (opt *Config) TotalSteps(totalSteps int) *Config {
	opt.totalSteps = totalSteps
	return opt
}

// MinLearningRate at the end of the decay. Defaults to 0.0.
func (opt *Config) MinLearningRate(minLearningRate float64) *Config {
	opt.minLearningRate = minLearningRate
	return opt
}

// LearningRate at the start of the decay.
// If not given, it will try to read from the context params (keyed by
// optimizers.ParamLearningRate).
func (opt *Config) LearningRate(learningRate float64) *Config {
	opt.learningRate = learningRate
	return opt
}

// Scope used for the schedule's own step counter.
const Scope = "linear_schedule"

// Done finalizes the configuration of New and generates the computation
// graph code to implement it.
//
// If invalid options are given, an error is raised in the Graph.
func (opt *Config) Done() {
	ctx := opt.ctx.Checked(false)
	graph := opt.graph

	if !ctx.IsTraining(opt.graph) || opt.totalSteps == 0 {
		return
	}
	if opt.totalSteps < 0 {
		exceptions.Panicf("invalid %s=%d, must be non-negative", ParamTotalSteps, opt.totalSteps)
		return
	}

	lrValue := opt.learningRate
	if lrValue == 0 {
		lrValue = context.GetParamOr(opt.ctx, optimizers.ParamLearningRate, 0.0)
		if lrValue == 0 {
			exceptions.Panicf("learning rate not configured for New and also "+
				"not set in the context as parameter %q", optimizers.ParamLearningRate)
			return
		}
	}
	lrMinValue := opt.minLearningRate

	// Current training step: the schedule keeps its own "global step" counter.
	step := optimizers.IncrementGlobalStepGraph(ctx.In(optimizers.Scope).In(Scope), graph, opt.dtype)
	step = MinusOne(step) // Since the count starts at 1.

	// Fraction of the decay completed, clipped to [0, 1].
	fraction := DivScalar(step, float64(opt.totalSteps))
	fraction = MinScalar(MaxScalar(fraction, 0), 1)

	lr := AddScalar(MulScalar(OneMinus(fraction), lrValue-lrMinValue), lrMinValue)

	// Update learning rate.
	lrVar := optimizers.LearningRateVarWithValue(ctx, opt.dtype, lrValue)
	lrVar.SetValueGraph(lr)
}
