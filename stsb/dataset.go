package stsb

import (
	"io"
	"math/rand"

	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/train"
	"github.com/pkg/errors"
)

// Tokenizer converts a sentence into subword ids. It must truncate to the
// requested bound but never pad: padding is owned by the batch collator, and
// pre-padded inputs would corrupt the batch-local padding widths.
type Tokenizer interface {
	// Encode returns the token ids of text, at most maxLen of them.
	Encode(text string, maxLen int) []int

	// PadID returns the id used to pad batches.
	PadID() int
}

// TokenizedPair is one example after tokenization, before batching. The two
// sides are tokenized and truncated independently and may differ in length.
// Masks are all-ones here; zeros only appear once the collator pads.
type TokenizedPair struct {
	IDs1, Mask1 []int
	IDs2, Mask2 []int
	Label       float32
}

// TokenizePairs tokenizes both sides of every example. An example whose
// tokenization comes out empty is rejected: downstream mean-pooling divides
// by the mask sum, which must stay positive.
func TokenizePairs(tok Tokenizer, examples []Example, maxLen int) ([]TokenizedPair, error) {
	pairs := make([]TokenizedPair, 0, len(examples))
	for i, example := range examples {
		ids1 := tok.Encode(example.Sentence1, maxLen)
		ids2 := tok.Encode(example.Sentence2, maxLen)
		if len(ids1) == 0 || len(ids2) == 0 {
			return nil, errors.Errorf("example %d tokenized to an empty sequence (%q / %q)",
				i, example.Sentence1, example.Sentence2)
		}
		pairs = append(pairs, TokenizedPair{
			IDs1: ids1, Mask1: onesMask(len(ids1)),
			IDs2: ids2, Mask2: onesMask(len(ids2)),
			Label: example.Label,
		})
	}
	return pairs, nil
}

func onesMask(n int) []int {
	mask := make([]int, n)
	for i := range mask {
		mask[i] = 1
	}
	return mask
}

// Batch is one collated unit of training data. Each side is padded to its own
// batch-local maximum length, so Len1 and Len2 usually differ.
type Batch struct {
	IDs1, Mask1 *tensors.Tensor // (int64)[batch, len1]
	IDs2, Mask2 *tensors.Tensor // (int64)[batch, len2]
	Labels      *tensors.Tensor // (float32)[batch]
}

// Collate pads the given pairs into stacked tensors. Input order is preserved
// and the pairs themselves are not modified.
func Collate(pairs []TokenizedPair, padID int) (*Batch, error) {
	if len(pairs) == 0 {
		return nil, errors.New("cannot collate an empty batch")
	}
	for i, pair := range pairs {
		if len(pair.IDs1) != len(pair.Mask1) || len(pair.IDs2) != len(pair.Mask2) {
			return nil, errors.Errorf("pair %d has mismatched ids/mask lengths", i)
		}
	}
	ids1, mask1 := padSide(pairs, padID, func(p *TokenizedPair) ([]int, []int) { return p.IDs1, p.Mask1 })
	ids2, mask2 := padSide(pairs, padID, func(p *TokenizedPair) ([]int, []int) { return p.IDs2, p.Mask2 })
	labels := make([]float32, len(pairs))
	for i, pair := range pairs {
		labels[i] = pair.Label
	}
	return &Batch{
		IDs1: ids1, Mask1: mask1,
		IDs2: ids2, Mask2: mask2,
		Labels: tensors.FromFlatDataAndDimensions(labels, len(pairs)),
	}, nil
}

// padSide pads one side of the batch to that side's maximum length.
func padSide(pairs []TokenizedPair, padID int, side func(*TokenizedPair) ([]int, []int)) (ids, mask *tensors.Tensor) {
	maxLen := 0
	for i := range pairs {
		seq, _ := side(&pairs[i])
		maxLen = max(maxLen, len(seq))
	}
	batchSize := len(pairs)
	flatIDs := make([]int64, batchSize*maxLen)
	flatMask := make([]int64, batchSize*maxLen)
	for i := range pairs {
		seq, seqMask := side(&pairs[i])
		row := i * maxLen
		for j := range maxLen {
			if j < len(seq) {
				flatIDs[row+j] = int64(seq[j])
				flatMask[row+j] = int64(seqMask[j])
			} else {
				flatIDs[row+j] = int64(padID)
				// flatMask stays 0 on padding.
			}
		}
	}
	return tensors.FromFlatDataAndDimensions(flatIDs, batchSize, maxLen),
		tensors.FromFlatDataAndDimensions(flatMask, batchSize, maxLen)
}

// Dataset yields collated batches of tokenized sentence pairs, implementing
// train.Dataset. Inputs are [ids1, mask1, ids2, mask2] and labels [labels].
type Dataset struct {
	name      string
	pairs     []TokenizedPair
	padID     int
	batchSize int

	rng      *rand.Rand
	infinite bool

	order []int
	pos   int
}

// Compile-time check.
var _ train.Dataset = (*Dataset)(nil)

// NewDataset creates a dataset over the given pre-tokenized pairs. By default
// it iterates once in input order; see Shuffle and Infinite.
func NewDataset(name string, pairs []TokenizedPair, padID, batchSize int) *Dataset {
	ds := &Dataset{
		name:      name,
		pairs:     pairs,
		padID:     padID,
		batchSize: batchSize,
		order:     make([]int, len(pairs)),
	}
	for i := range ds.order {
		ds.order[i] = i
	}
	return ds
}

// Shuffle makes the dataset iterate in random order, reshuffled at every
// epoch. The rng is given explicitly so runs are reproducible for a fixed
// seed.
func (ds *Dataset) Shuffle(rng *rand.Rand) *Dataset {
	ds.rng = rng
	ds.reshuffle()
	return ds
}

// Infinite makes the dataset loop forever, reshuffling (if shuffling) at each
// wrap-around. Used for training with Loop.RunSteps; don't use with RunEpochs.
func (ds *Dataset) Infinite(infinite bool) *Dataset {
	ds.infinite = infinite
	return ds
}

// NumBatches returns how many full batches one pass over the data yields.
func (ds *Dataset) NumBatches() int {
	return len(ds.pairs) / ds.batchSize
}

// Name implements train.Dataset.
func (ds *Dataset) Name() string { return ds.name }

// Reset implements train.Dataset, restarting (and reshuffling, if configured)
// the iteration order.
func (ds *Dataset) Reset() {
	ds.pos = 0
	ds.reshuffle()
}

func (ds *Dataset) reshuffle() {
	if ds.rng == nil {
		return
	}
	ds.rng.Shuffle(len(ds.order), func(i, j int) {
		ds.order[i], ds.order[j] = ds.order[j], ds.order[i]
	})
}

// Yield implements train.Dataset. For finite datasets the last batch may be
// smaller than the configured batch size; the infinite variant always yields
// full batches, restarting an epoch when fewer than batchSize examples remain.
func (ds *Dataset) Yield() (spec any, inputs []*tensors.Tensor, labels []*tensors.Tensor, err error) {
	remaining := len(ds.order) - ds.pos
	if remaining < ds.batchSize && ds.infinite {
		ds.Reset()
		remaining = len(ds.order)
	}
	if remaining == 0 {
		return nil, nil, nil, io.EOF
	}
	n := min(ds.batchSize, remaining)
	batchPairs := make([]TokenizedPair, n)
	for i := range n {
		batchPairs[i] = ds.pairs[ds.order[ds.pos+i]]
	}
	ds.pos += n

	batch, err := Collate(batchPairs, ds.padID)
	if err != nil {
		return nil, nil, nil, err
	}
	inputs = []*tensors.Tensor{batch.IDs1, batch.Mask1, batch.IDs2, batch.Mask2}
	labels = []*tensors.Tensor{batch.Labels}
	return ds, inputs, labels, nil
}
