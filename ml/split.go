package ml

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sort"
)

// ErrTooFewSamples is returned when a class cannot be represented in both
// halves of a stratified split.
var ErrTooFewSamples = errors.New("too few samples to stratify")

// Split holds row indices of a train/test partition.
type Split struct {
	Train []int
	Test  []int
}

// StratifiedSplit partitions row indices so that every class keeps roughly
// its share in both halves. Each class contributes round(testRatio*n) rows to
// the test side, clamped so both sides get at least one row. The result is
// deterministic for a given seed.
func StratifiedSplit(labels []int, testRatio float64, seed int64) (Split, error) {
	if len(labels) == 0 {
		return Split{}, errors.New("labels is empty")
	}
	if testRatio <= 0 || testRatio >= 1 {
		return Split{}, fmt.Errorf("test ratio %.2f out of range (0, 1)", testRatio)
	}

	byClass := make(map[int][]int)
	for i, l := range labels {
		byClass[l] = append(byClass[l], i)
	}
	classes := make([]int, 0, len(byClass))
	for c := range byClass {
		classes = append(classes, c)
	}
	sort.Ints(classes)

	rnd := rand.New(rand.NewSource(seed))
	var split Split
	for _, c := range classes {
		rows := byClass[c]
		if len(rows) < 2 {
			return Split{}, fmt.Errorf("%w: class %d has %d row(s)", ErrTooFewSamples, c, len(rows))
		}
		rnd.Shuffle(len(rows), func(i, j int) { rows[i], rows[j] = rows[j], rows[i] })

		nTest := int(math.Round(float64(len(rows)) * testRatio))
		nTest = max(1, min(nTest, len(rows)-1))
		split.Test = append(split.Test, rows[:nTest]...)
		split.Train = append(split.Train, rows[nTest:]...)
	}

	// interleave classes so row order carries no class information
	rnd.Shuffle(len(split.Train), func(i, j int) { split.Train[i], split.Train[j] = split.Train[j], split.Train[i] })
	rnd.Shuffle(len(split.Test), func(i, j int) { split.Test[i], split.Test[j] = split.Test[j], split.Test[i] })
	return split, nil
}

// Take selects rows of a feature matrix and label vector by index.
func Take(features [][]float64, labels []int, idx []int) ([][]float64, []int) {
	x := make([][]float64, len(idx))
	y := make([]int, len(idx))
	for i, j := range idx {
		x[i] = features[j]
		y[i] = labels[j]
	}
	return x, y
}

// BalancedClassWeights computes n / (k * count_c) for every class present in
// labels, where k is the number of distinct classes. Absent classes get 0.
func BalancedClassWeights(labels []int) [NumClasses]float64 {
	counts := ClassCounts(labels)
	present := 0
	for _, c := range counts {
		if c > 0 {
			present++
		}
	}
	var weights [NumClasses]float64
	if present == 0 {
		return weights
	}
	n := float64(len(labels))
	for c, count := range counts {
		if count > 0 {
			weights[c] = n / (float64(present) * float64(count))
		}
	}
	return weights
}

// SampleWeights expands per-class weights into one weight per row.
func SampleWeights(labels []int, classWeights [NumClasses]float64) []float64 {
	w := make([]float64, len(labels))
	for i, l := range labels {
		w[i] = classWeights[l]
	}
	return w
}
