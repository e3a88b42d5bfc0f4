// Package heads implements the three scoring-head architectures that turn a
// pair of encoded sentences into a similarity score, plus the normalizer
// mapping raw head outputs back to the external 0 to 5 annotation scale.
//
// All heads pool the per-token representations down to one vector per
// sentence before combining them: that bounds the head's parameter count and
// keeps the same regressor shape working across sequence lengths.
package heads

import (
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/layers/activations"
	"github.com/gomlx/gomlx/pkg/ml/layers/fnn"
	"github.com/pkg/errors"
	"golang.org/x/exp/maps"
)

// Arch tags one of the scoring-head architectures.
type Arch string

const (
	ArchConcat         Arch = "concat"
	ArchSiamese        Arch = "siamese"
	ArchCrossAttention Arch = "crossattention"
)

// All lists the architectures in their canonical reporting order.
var All = []Arch{ArchConcat, ArchSiamese, ArchCrossAttention}

// Config carries the scoring-head hyperparameters.
type Config struct {
	// EmbedDim is the encoder's embedding dimension (D).
	EmbedDim int

	// HiddenDim is the width of the regressor's hidden layer.
	HiddenDim int
}

// Scorer is the shared contract of the three architectures: combine the two
// sides' encoded representations into one raw score per example.
type Scorer interface {
	// Arch returns this head's architecture tag.
	Arch() Arch

	// Bounded reports whether raw scores are already constrained to [0, 1]
	// (sigmoid heads). Unbounded heads need squashing before un-scaling.
	Bounded() bool

	// ScoreGraph builds the scoring computation. hidden1/hidden2 are the
	// per-token encodings [batch, len, dim] of each side, mask1/mask2 their
	// attention masks [batch, len]. The result is (float32)[batch].
	ScoreGraph(ctx *context.Context, hidden1, mask1, hidden2, mask2 *Node) *Node
}

// ValidArchitectures maps architecture tags to their constructors, selected
// by configuration rather than subclassing.
var ValidArchitectures = map[Arch]func(Config) Scorer{
	ArchConcat:         newConcatHead,
	ArchSiamese:        newSiameseHead,
	ArchCrossAttention: newCrossAttentionHead,
}

// New creates the scoring head for the given architecture tag.
func New(arch Arch, cfg Config) (Scorer, error) {
	build, found := ValidArchitectures[arch]
	if !found {
		return nil, errors.Errorf("unknown architecture %q, must be one of %v", arch, maps.Keys(ValidArchitectures))
	}
	if cfg.EmbedDim <= 0 || cfg.HiddenDim <= 0 {
		return nil, errors.Errorf("invalid head config %+v: dimensions must be positive", cfg)
	}
	return build(cfg), nil
}

// regressor is the small feed-forward net shared by all heads: combined
// features in, one raw score per example out.
func regressor(ctx *context.Context, combined *Node, hiddenDim int) *Node {
	logits := fnn.New(ctx.In("regressor"), combined, 1).
		NumHiddenLayers(1, hiddenDim).
		Activation(activations.TypeRelu).
		Done()
	return Squeeze(logits, -1)
}
