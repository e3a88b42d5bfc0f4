package semscore

import (
	"fmt"
	"math"
	"math/rand"
	"os"
	"path"

	"github.com/gomlx/gomlx/backends"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/dtypes"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/context/checkpoints"
	"github.com/gomlx/gomlx/pkg/ml/train"
	"github.com/gomlx/gomlx/pkg/ml/train/losses"
	"github.com/gomlx/gomlx/pkg/ml/train/metrics"
	"github.com/gomlx/gomlx/pkg/ml/train/optimizers"
	"github.com/gomlx/gomlx/pkg/support/fsutil"
	"github.com/gomlx/gomlx/ui/commandline"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/semscore/semscore/encoder"
	"github.com/semscore/semscore/heads"
	"github.com/semscore/semscore/linearschedule"
	"github.com/semscore/semscore/stsb"
)

// DType used by the models.
var DType = dtypes.Float32

// ParamsExcludedFromLoading is the list of parameters (see
// CreateDefaultContext) that shouldn't be reloaded from a previous
// checkpoint, and may be overwritten in further training sessions.
var ParamsExcludedFromLoading = []string{
	"data_dir", "num_checkpoints", "epochs",
}

// CreateDefaultContext sets the context with default hyperparameters to use
// with TrainArchitecture.
func CreateDefaultContext() *context.Context {
	ctx := context.New()
	ctx.ResetRNGState()
	ctx.SetParams(map[string]any{
		// Seed governing shuffling and initialization of the untrained layers.
		"seed": int64(42),

		// Encoder repository on HuggingFace.
		"encoder_repo": encoder.DefaultRepo,

		// batch_size for training.
		"batch_size": 32,

		// eval_batch_size can be larger than training, it's more efficient.
		"eval_batch_size": 200,

		// Number of passes over the training split. Each epoch ends with an
		// evaluation on the dev split and a checkpoint decision.
		"epochs": 4,

		"num_checkpoints": 3,

		// Truncation bound for each side of a pair, in tokens.
		"max_len": 128,

		// Number of topmost encoder layers left trainable; the layers below
		// stay at their pretrained values.
		"freeze_depth": 2,

		// Width of the scoring heads' regressor hidden layer.
		"head_hidden_dim": 256,

		optimizers.ParamOptimizer:    "adamw",
		optimizers.ParamLearningRate: 2e-5,
		optimizers.ParamAdamEpsilon:  1e-7,
		optimizers.ParamAdamDType:    "",

		// If left at 0, the schedule is sized to epochs * stepsPerEpoch.
		linearschedule.ParamTotalSteps:      0,
		linearschedule.ParamMinLearningRate: 0.0,
	})
	return ctx
}

// EpochStats is one row of the training history. MeanTrainLoss is the exact
// mean of the training loss over the epoch's batches, weighted by batch size.
type EpochStats struct {
	Epoch         int
	MeanTrainLoss float64
	DevPearson    float64
}

// TrainingResult is what TrainArchitecture returns: the history of one run
// plus the best-validation snapshot, ready for inference with Score.
type TrainingResult struct {
	Arch           heads.Arch
	History        []EpochStats
	BestDevPearson float64

	// TestPearson is only filled when evaluateOnEnd was requested.
	TestPearson float64

	// DegenerateBatches counts training batches whose correlation loss fell
	// back to MSE, accumulated over all epochs. Always 0 for the MSE-trained
	// architectures.
	DegenerateBatches int

	backend backends.Backend
	ctx     *context.Context
	enc     *encoder.Encoder
	scorer  heads.Scorer
	maxLen  int
	exec    *context.Exec
}

// Close releases the result's encoder resources.
func (r *TrainingResult) Close() {
	if r.enc != nil {
		r.enc.Close()
		r.enc = nil
	}
}

// TrainArchitecture trains one scoring-head architecture end to end with the
// hyperparameters given in ctx: download the corpus, load and partially
// freeze the encoder, run the epoch loop with per-epoch dev evaluation, and
// checkpoint only on strict improvement of the dev Pearson, so the latest
// checkpoint is always the best one. The returned result holds the
// best-validation snapshot.
//
// Errors raised inside graph building surface as exceptions; wrap calls with
// exceptions.TryCatch at the top level.
func TrainArchitecture(
	ctx *context.Context,
	arch heads.Arch,
	dataDir, checkpointPath string,
	paramsSet []string,
	evaluateOnEnd bool,
	verbosity int,
) (*TrainingResult, error) {
	// Configuration errors are fatal before any download or training work.
	batchSize := context.GetParamOr(ctx, "batch_size", 0)
	if batchSize <= 0 {
		return nil, errors.Errorf("batch_size must be > 0, got %d", batchSize)
	}
	evalBatchSize := context.GetParamOr(ctx, "eval_batch_size", 0)
	if evalBatchSize <= 0 {
		evalBatchSize = batchSize
	}
	epochs := context.GetParamOr(ctx, "epochs", 0)
	if epochs <= 0 {
		return nil, errors.Errorf("epochs must be > 0, got %d", epochs)
	}
	maxLen := context.GetParamOr(ctx, "max_len", 128)
	if maxLen < 2 {
		return nil, errors.Errorf("max_len must be >= 2 to fit the sentence delimiter tokens, got %d", maxLen)
	}
	freezeDepth := context.GetParamOr(ctx, "freeze_depth", 0)
	hiddenDim := context.GetParamOr(ctx, "head_hidden_dim", 256)
	seed := context.GetParamOr(ctx, "seed", int64(42))
	repoID := context.GetParamOr(ctx, "encoder_repo", encoder.DefaultRepo)

	dataDir = fsutil.MustReplaceTildeInDir(dataDir)
	if !fsutil.MustFileExists(dataDir) {
		if err := os.MkdirAll(dataDir, 0777); err != nil {
			return nil, errors.Wrapf(err, "failed to create data dir %q", dataDir)
		}
	}
	corpus, err := stsb.Download(dataDir)
	if err != nil {
		return nil, err
	}

	backend := backends.MustNew()
	if verbosity >= 1 {
		fmt.Printf("Backend %q:\t%s\n", backend.Name(), backend.Description())
	}

	_ = ctx.SetRNGStateFromSeed(seed)

	enc, err := encoder.Load(repoID)
	if err != nil {
		return nil, err
	}
	scorer, err := heads.New(arch, heads.Config{EmbedDim: enc.EmbedDim, HiddenDim: hiddenDim})
	if err != nil {
		enc.Close()
		return nil, err
	}
	if verbosity >= 1 {
		fmt.Printf("Architecture: %s (encoder %s)\n", arch, repoID)
	}

	// Freeze depth is validated before any training happens.
	if err = enc.AttachWeights(ctx); err != nil {
		enc.Close()
		return nil, err
	}
	if err = enc.ApplyFreezePolicy(ctx, freezeDepth); err != nil {
		enc.Close()
		return nil, err
	}

	tok := enc.Tokenizer()
	trainPairs, err := stsb.TokenizePairs(tok, corpus.Train, maxLen)
	if err != nil {
		enc.Close()
		return nil, err
	}
	devPairs, err := stsb.TokenizePairs(tok, corpus.Dev, maxLen)
	if err != nil {
		enc.Close()
		return nil, err
	}
	testPairs, err := stsb.TokenizePairs(tok, corpus.Test, maxLen)
	if err != nil {
		enc.Close()
		return nil, err
	}

	rng := rand.New(rand.NewSource(seed))
	trainDS := stsb.NewDataset("train", trainPairs, tok.PadID(), batchSize).
		Shuffle(rng).Infinite(true)
	devDS := stsb.NewDataset("dev", devPairs, tok.PadID(), evalBatchSize)
	testDS := stsb.NewDataset("test", testPairs, tok.PadID(), evalBatchSize)

	stepsPerEpoch := trainDS.NumBatches()
	if stepsPerEpoch == 0 {
		enc.Close()
		return nil, errors.Errorf("train split (%d pairs) smaller than one batch of %d", len(trainPairs), batchSize)
	}
	// The linear decay spans the whole run, unless explicitly configured.
	if context.GetParamOr(ctx, linearschedule.ParamTotalSteps, 0) == 0 {
		ctx.SetParam(linearschedule.ParamTotalSteps, epochs*stepsPerEpoch)
	}

	// Checkpoints are kept in one subdirectory per architecture.
	var checkpoint *checkpoints.Handler
	numCheckpoints := context.GetParamOr(ctx, "num_checkpoints", 3)
	checkpointDir := ""
	if checkpointPath != "" {
		checkpointDir = path.Join(checkpointPath, string(arch))
		checkpoint, err = checkpoints.Build(ctx).
			DirFromBase(checkpointDir, dataDir).
			Keep(numCheckpoints).
			ExcludeParams(append(paramsSet, ParamsExcludedFromLoading...)...).
			Done()
		if err != nil {
			enc.Close()
			return nil, errors.WithMessagef(err, "failed to set up checkpoints in %q", checkpointDir)
		}
		if verbosity >= 1 {
			fmt.Printf("Checkpoint: %q\n", checkpoint.Dir())
		}
	}
	if verbosity >= 2 {
		fmt.Println(commandline.SprintContextSettings(ctx))
		fmt.Println(corpus.ScoreSummary())
		corpus.PrintSample(stsb.Train, 3, rand.New(rand.NewSource(seed)))
	}

	modelFn := func(mctx *context.Context, spec any, inputs []*Node) []*Node {
		_ = spec
		g := inputs[0].Graph()
		linearschedule.New(mctx, g, DType).FromContext().Done()
		ids1, mask1, ids2, mask2 := inputs[0], inputs[1], inputs[2], inputs[3]
		hidden1 := enc.HiddenStates(mctx, ids1, mask1)
		hidden2 := enc.HiddenStates(mctx, ids2, mask2)
		return []*Node{scorer.ScoreGraph(mctx, hidden1, mask1, hidden2, mask2)}
	}

	// Architecture-specific loss: the siamese head trains on batch
	// correlation directly, the bounded heads on MSE over [0,1] labels.
	var loss train.LossFn = losses.MeanSquaredError
	var trainMetrics []metrics.Interface
	if arch == heads.ArchSiamese {
		loss = PearsonLoss
		trainMetrics = append(trainMetrics, NewDegenerateBatchMetric())
	}
	// The trainer's built-in loss metrics are the last batch's loss and a
	// moving average; the history wants the exact epoch mean, weighted by
	// batch size, so it gets its own accumulator.
	meanLossMetric := metrics.NewMeanMetric("Mean Training Loss", "mloss", metrics.LossMetricType,
		func(_ *context.Context, labels, predictions []*Node) *Node {
			return loss(labels, predictions)
		}, nil)
	trainMetrics = append(trainMetrics, meanLossMetric)
	evalMetrics := []metrics.Interface{NewPearsonMetric()}

	trainer := train.NewTrainer(backend, ctx, modelFn,
		loss,
		optimizers.FromContext(ctx),
		trainMetrics,
		evalMetrics)
	loop := train.NewLoop(trainer)
	if verbosity >= 0 {
		commandline.AttachProgressBar(loop)
	}

	result := &TrainingResult{
		Arch:           arch,
		BestDevPearson: math.Inf(-1),
		backend:        backend,
		ctx:            ctx,
		enc:            enc,
		scorer:         scorer,
		maxLen:         maxLen,
	}
	improved := false
	var bestParams map[string]*tensors.Tensor
	for epoch := range epochs {
		metricsValues, err := loop.RunSteps(trainDS, stepsPerEpoch)
		if err != nil {
			return nil, errors.WithMessagef(err, "training epoch %d failed", epoch)
		}
		meanLoss := trainMetricValue(trainer, metricsValues, "mloss", "~loss", "#loss")
		degen, _ := findTrainMetric(trainer, metricsValues, "#degen")

		devPearson, err := Evaluate(trainer, devDS)
		if err != nil {
			return nil, err
		}
		result.recordEpoch(epoch, meanLoss, devPearson, degen)
		if verbosity >= 1 {
			fmt.Printf("Epoch %d/%d: train loss %.4f, dev Pearson %.4f\n",
				epoch+1, epochs, meanLoss, devPearson)
		}

		// Persist only on strict improvement: the latest checkpoint is
		// therefore always the best one. Without a checkpoint store the best
		// parameters are kept in memory instead.
		if shouldCheckpoint(result.BestDevPearson, devPearson) {
			result.BestDevPearson = devPearson
			improved = true
			if checkpoint != nil {
				if err = checkpoint.Save(); err != nil {
					return nil, errors.WithMessagef(err, "failed to save checkpoint at epoch %d", epoch)
				}
			} else if bestParams, err = snapshotTrainables(ctx); err != nil {
				return nil, errors.WithMessagef(err, "failed to snapshot parameters at epoch %d", epoch)
			}
		}
	}

	if !improved {
		klog.Warningf("architecture %q: no epoch improved the dev Pearson; returning last-trained parameters", arch)
	} else if checkpoint != nil {
		bestCtx, err := loadBestSnapshot(enc, checkpointDir, dataDir, numCheckpoints)
		if err != nil {
			return nil, err
		}
		result.ctx = bestCtx
		trainer.SetContext(bestCtx.Reuse())
	} else if err = restoreTrainables(ctx, bestParams); err != nil {
		return nil, errors.WithMessage(err, "failed to restore best-epoch parameters")
	}
	if result.DegenerateBatches > 0 {
		klog.Warningf("architecture %q: %d training batches had an undefined correlation and fell back to MSE",
			arch, result.DegenerateBatches)
	}

	if evaluateOnEnd {
		result.TestPearson, err = Evaluate(trainer, testDS)
		if err != nil {
			return nil, err
		}
		if verbosity >= 1 {
			fmt.Printf("Test Pearson (best snapshot): %.4f\n", result.TestPearson)
		}
	}
	return result, nil
}

// recordEpoch appends one epoch's stats to the history and folds the epoch's
// degenerate-batch count into the running total. The per-epoch counter is
// reset by the loop at the start of every epoch, so the total has to
// accumulate here.
func (r *TrainingResult) recordEpoch(epoch int, meanLoss, devPearson, degenerateBatches float64) {
	r.History = append(r.History, EpochStats{
		Epoch:         epoch,
		MeanTrainLoss: meanLoss,
		DevPearson:    devPearson,
	})
	r.DegenerateBatches += int(degenerateBatches)
}

// shouldCheckpoint reports whether an epoch's dev metric strictly improves on
// the best seen so far. Ties keep the earlier snapshot, so a stored
// snapshot's metric is always >= every validation metric seen before it.
// A NaN metric never checkpoints.
func shouldCheckpoint(best, current float64) bool {
	return current > best
}

// snapshotTrainables clones the current values of all trainable variables,
// keyed by scope and name. Frozen encoder layers never change during training
// and need not be part of the snapshot.
func snapshotTrainables(ctx *context.Context) (map[string]*tensors.Tensor, error) {
	snapshot := make(map[string]*tensors.Tensor)
	var err error
	ctx.EnumerateVariables(func(v *context.Variable) {
		if err != nil || !v.Trainable {
			return
		}
		value, vErr := v.Value()
		if vErr != nil {
			err = errors.WithMessagef(vErr, "failed to read variable %q for snapshot", v.ScopeAndName())
			return
		}
		snapshot[v.ScopeAndName()], vErr = value.LocalClone()
		if vErr != nil {
			err = errors.WithMessagef(vErr, "failed to clone variable %q for snapshot", v.ScopeAndName())
		}
	})
	if err != nil {
		return nil, err
	}
	return snapshot, nil
}

// restoreTrainables sets back the values saved by snapshotTrainables.
// Variables outside the snapshot (frozen layers, optimizer and metric state)
// are left untouched.
func restoreTrainables(ctx *context.Context, snapshot map[string]*tensors.Tensor) error {
	var err error
	ctx.EnumerateVariables(func(v *context.Variable) {
		if err != nil {
			return
		}
		value, found := snapshot[v.ScopeAndName()]
		if !found {
			return
		}
		if sErr := v.SetValue(value); sErr != nil {
			err = errors.WithMessagef(sErr, "failed to restore variable %q", v.ScopeAndName())
		}
	})
	return err
}

// loadBestSnapshot rebuilds a context with the pretrained encoder weights and
// then overlays the latest (== best) checkpoint on top of them.
func loadBestSnapshot(enc *encoder.Encoder, checkpointDir, dataDir string, keep int) (*context.Context, error) {
	ctx := CreateDefaultContext()
	if err := enc.AttachWeights(ctx); err != nil {
		return nil, err
	}
	_, err := checkpoints.Build(ctx).
		DirFromBase(checkpointDir, dataDir).
		Keep(keep).
		Done()
	if err != nil {
		return nil, errors.WithMessagef(err, "failed to reload best checkpoint from %q", checkpointDir)
	}
	return ctx, nil
}

// trainMetricValue returns the value of the first train metric matching any
// of the given short names, in order of preference. Missing metrics yield
// NaN, which only happens if the trainer's default loss metrics change.
func trainMetricValue(trainer *train.Trainer, values []*tensors.Tensor, shortNames ...string) float64 {
	for _, shortName := range shortNames {
		if v, found := findTrainMetric(trainer, values, shortName); found {
			return v
		}
	}
	return math.NaN()
}

func findTrainMetric(trainer *train.Trainer, values []*tensors.Tensor, shortName string) (float64, bool) {
	for idx, metric := range trainer.TrainMetrics() {
		if metric.ShortName() != shortName || idx >= len(values) {
			continue
		}
		switch v := values[idx].Value().(type) {
		case float64:
			return v, true
		case float32:
			return float64(v), true
		}
	}
	return 0, false
}
