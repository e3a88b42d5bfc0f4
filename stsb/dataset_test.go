package stsb

import (
	"io"
	"math/rand"
	"testing"

	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testPadID = 99

func rangeIDs(start, n int) []int {
	ids := make([]int, n)
	for i := range ids {
		ids[i] = start + i
	}
	return ids
}

func testPair(len1, len2 int, label float32) TokenizedPair {
	return TokenizedPair{
		IDs1: rangeIDs(1, len1), Mask1: onesMask(len1),
		IDs2: rangeIDs(101, len2), Mask2: onesMask(len2),
		Label: label,
	}
}

func TestCollatePadding(t *testing.T) {
	// Side-1 lengths {5, 12, 8} must pad to the batch-local maximum 12, not
	// any global constant; side 2 pads independently.
	pairs := []TokenizedPair{
		testPair(5, 3, 0.1),
		testPair(12, 7, 0.2),
		testPair(8, 2, 0.3),
	}
	batch, err := Collate(pairs, testPadID)
	require.NoError(t, err)

	assert.Equal(t, []int{3, 12}, batch.IDs1.Shape().Dimensions)
	assert.Equal(t, []int{3, 12}, batch.Mask1.Shape().Dimensions)
	assert.Equal(t, []int{3, 7}, batch.IDs2.Shape().Dimensions)
	assert.Equal(t, []int{3, 7}, batch.Mask2.Shape().Dimensions)
	assert.Equal(t, []int{3}, batch.Labels.Shape().Dimensions)

	trueLens := []int{5, 12, 8}
	tensors.MustConstFlatData[int64](batch.Mask1, func(mask []int64) {
		for row := range 3 {
			for col := range 12 {
				want := int64(0)
				if col < trueLens[row] {
					want = 1
				}
				assert.Equal(t, want, mask[row*12+col], "mask1[%d][%d]", row, col)
			}
		}
	})
	tensors.MustConstFlatData[int64](batch.IDs1, func(ids []int64) {
		// Padding positions carry the pad id.
		assert.Equal(t, int64(testPadID), ids[0*12+5])
		assert.Equal(t, int64(testPadID), ids[2*12+11])
	})

	// Order of the labels matches input order.
	tensors.MustConstFlatData[float32](batch.Labels, func(labels []float32) {
		assert.Equal(t, []float32{0.1, 0.2, 0.3}, labels)
	})
}

func TestCollateDoesNotMutate(t *testing.T) {
	pairs := []TokenizedPair{testPair(2, 4, 0.5), testPair(6, 3, 0.9)}
	wantIDs1 := append([]int{}, pairs[0].IDs1...)
	wantMask2 := append([]int{}, pairs[1].Mask2...)

	_, err := Collate(pairs, testPadID)
	require.NoError(t, err)

	assert.Equal(t, wantIDs1, pairs[0].IDs1)
	assert.Equal(t, wantMask2, pairs[1].Mask2)
	assert.Len(t, pairs[0].IDs1, 2, "collation must not extend the stored sequences")
}

func TestCollateValidation(t *testing.T) {
	_, err := Collate(nil, testPadID)
	assert.Error(t, err)

	broken := testPair(4, 4, 0.0)
	broken.Mask1 = broken.Mask1[:2]
	_, err = Collate([]TokenizedPair{broken}, testPadID)
	assert.Error(t, err)
}

func yieldLabels(t *testing.T, ds *Dataset) []float32 {
	t.Helper()
	_, _, labels, err := ds.Yield()
	require.NoError(t, err)
	var out []float32
	tensors.MustConstFlatData[float32](labels[0], func(data []float32) {
		out = append(out, data...)
	})
	return out
}

func TestDatasetFinite(t *testing.T) {
	pairs := make([]TokenizedPair, 5)
	for i := range pairs {
		pairs[i] = testPair(3, 3, float32(i))
	}
	ds := NewDataset("finite", pairs, testPadID, 2)
	assert.Equal(t, 2, ds.NumBatches())

	assert.Equal(t, []float32{0, 1}, yieldLabels(t, ds))
	assert.Equal(t, []float32{2, 3}, yieldLabels(t, ds))
	// Finite iteration keeps the smaller tail batch.
	assert.Equal(t, []float32{4}, yieldLabels(t, ds))

	_, _, _, err := ds.Yield()
	assert.Equal(t, io.EOF, err)

	ds.Reset()
	assert.Equal(t, []float32{0, 1}, yieldLabels(t, ds))
}

func TestDatasetInfinite(t *testing.T) {
	pairs := make([]TokenizedPair, 5)
	for i := range pairs {
		pairs[i] = testPair(3, 3, float32(i))
	}
	ds := NewDataset("infinite", pairs, testPadID, 2).Infinite(true)
	// The tail example (fewer than batchSize remaining) restarts the epoch.
	for range 10 {
		labels := yieldLabels(t, ds)
		assert.Len(t, labels, 2)
	}
}

func TestDatasetShuffleDeterminism(t *testing.T) {
	pairs := make([]TokenizedPair, 20)
	for i := range pairs {
		pairs[i] = testPair(3, 3, float32(i))
	}
	collect := func(seed int64) []float32 {
		ds := NewDataset("shuffled", pairs, testPadID, 4).Shuffle(rand.New(rand.NewSource(seed)))
		var all []float32
		for range ds.NumBatches() {
			all = append(all, yieldLabels(t, ds)...)
		}
		return all
	}

	first := collect(42)
	second := collect(42)
	assert.Equal(t, first, second, "same seed must give the same epoch order")

	other := collect(7)
	assert.NotEqual(t, first, other, "different seeds should give different orders")
}

func TestDatasetReshufflesBetweenEpochs(t *testing.T) {
	pairs := make([]TokenizedPair, 32)
	for i := range pairs {
		pairs[i] = testPair(3, 3, float32(i))
	}
	ds := NewDataset("reshuffle", pairs, testPadID, 32).Shuffle(rand.New(rand.NewSource(1)))
	first := yieldLabels(t, ds)
	ds.Reset()
	second := yieldLabels(t, ds)
	assert.NotEqual(t, first, second, "Reset must reshuffle the epoch order")
	assert.ElementsMatch(t, first, second)
}
