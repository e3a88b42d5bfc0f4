package encoder

import (
	"regexp"
	"strconv"

	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/pkg/errors"
)

// TrainableLayers computes the freeze policy: given layerCount encoder layers
// and a freezeDepth counted from the top, it returns trainable[i] == true for
// exactly the top freezeDepth layers. It is a pure function of its arguments,
// so the policy is deterministic for a given configuration.
//
// The embedding tables are outside this policy and always stay trainable.
func TrainableLayers(layerCount, freezeDepth int) ([]bool, error) {
	if layerCount <= 0 {
		return nil, errors.Errorf("layerCount must be positive, got %d", layerCount)
	}
	if freezeDepth < 0 || freezeDepth > layerCount {
		return nil, errors.Errorf("freeze depth %d out of range: must be in [0, %d]", freezeDepth, layerCount)
	}
	trainable := make([]bool, layerCount)
	for i := layerCount - freezeDepth; i < layerCount; i++ {
		trainable[i] = true
	}
	return trainable, nil
}

// matches e.g. "encoder.layer.3.attention.self.query.weight".
var reEncoderLayer = regexp.MustCompile(`encoder\.layer\.(\d+)\.`)

// ApplyFreezePolicy marks the variables of the bottom NumLayers-freezeDepth
// encoder layers as non-trainable in ctx. Must run after AttachWeights and
// before the trainer is created. An invalid freezeDepth is a configuration
// error and aborts before any training happens.
func (e *Encoder) ApplyFreezePolicy(ctx *context.Context, freezeDepth int) error {
	trainable, err := TrainableLayers(e.NumLayers, freezeDepth)
	if err != nil {
		return err
	}
	frozen := 0
	ctx.EnumerateVariables(func(v *context.Variable) {
		m := reEncoderLayer.FindStringSubmatch(v.Name())
		if m == nil {
			return
		}
		layer, convErr := strconv.Atoi(m[1])
		if convErr != nil || layer >= e.NumLayers {
			return
		}
		if !trainable[layer] {
			v.SetTrainable(false)
			frozen++
		}
	})
	if freezeDepth < e.NumLayers && frozen == 0 {
		return errors.Errorf("freeze policy found no encoder layer variables in context: "+
			"was AttachWeights called, and does %q use the encoder.layer.N naming?", e.RepoID)
	}
	return nil
}
