package ml

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStratifiedSplit(t *testing.T) {
	_, labels, err := BuildTrainingSet(syntheticRecords(), TrainingFeatures(false))
	require.NoError(t, err)

	split, err := StratifiedSplit(labels, 0.2, 42)
	require.NoError(t, err)
	assert.Len(t, split.Test, 32) // 12 + 3 + 17
	assert.Len(t, split.Train, len(labels)-32)

	all := append(append([]int(nil), split.Train...), split.Test...)
	sort.Ints(all)
	for i, idx := range all {
		require.Equal(t, i, idx, "every row appears exactly once")
	}

	counts := make(map[int]int)
	for _, idx := range split.Test {
		counts[labels[idx]]++
	}
	assert.Equal(t, map[int]int{0: 3, 1: 17, 2: 12}, counts)
}

func TestStratifiedSplitDeterministic(t *testing.T) {
	_, labels, err := BuildTrainingSet(syntheticRecords(), TrainingFeatures(false))
	require.NoError(t, err)

	a, err := StratifiedSplit(labels, 0.2, 42)
	require.NoError(t, err)
	b, err := StratifiedSplit(labels, 0.2, 42)
	require.NoError(t, err)
	assert.Equal(t, a, b)

	c, err := StratifiedSplit(labels, 0.2, 7)
	require.NoError(t, err)
	assert.NotEqual(t, a.Test, c.Test)
}

func TestStratifiedSplitErrors(t *testing.T) {
	_, err := StratifiedSplit(nil, 0.2, 42)
	assert.Error(t, err)

	_, err = StratifiedSplit([]int{0, 0, 1}, 0.2, 42)
	assert.ErrorIs(t, err, ErrTooFewSamples)

	_, err = StratifiedSplit([]int{0, 0, 1, 1}, 1.5, 42)
	assert.Error(t, err)
}

func TestStratifiedSplitKeepsSmallClassesOnBothSides(t *testing.T) {
	labels := []int{0, 0, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1}
	split, err := StratifiedSplit(labels, 0.2, 42)
	require.NoError(t, err)

	var trainZero, testZero int
	for _, i := range split.Train {
		if labels[i] == 0 {
			trainZero++
		}
	}
	for _, i := range split.Test {
		if labels[i] == 0 {
			testZero++
		}
	}
	assert.Equal(t, 1, trainZero)
	assert.Equal(t, 1, testZero)
}

func TestBalancedClassWeights(t *testing.T) {
	labels := []int{0, 1, 1, 1, 2, 2}
	w := BalancedClassWeights(labels)
	assert.InDelta(t, 2.0, w[0], 1e-9)
	assert.InDelta(t, 2.0/3, w[1], 1e-9)
	assert.InDelta(t, 1.0, w[2], 1e-9)

	sw := SampleWeights(labels, w)
	assert.InDelta(t, float64(len(labels)), sum(sw), 1e-9)

	w = BalancedClassWeights([]int{1, 1, 2, 2})
	assert.Equal(t, 0.0, w[0])
	assert.InDelta(t, 1.0, w[1], 1e-9)
}
