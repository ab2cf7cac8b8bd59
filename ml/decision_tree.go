package ml

import (
	"errors"
	"math/rand"
	"sort"
)

// DecisionTree is a CART classifier stored as a flat node slice. The root is
// node 0; every internal node's left subtree starts at index+1.
type DecisionTree struct {
	Nodes       []TreeNode `json:"nodes"`
	NumFeatures int        `json:"num_features"`

	params TreeParams
	rng    *rand.Rand
}

type TreeNode struct {
	FeatureIdx   int       `json:"feature_idx"`
	Threshold    float64   `json:"threshold"`
	LeftChild    int       `json:"left_child"`
	RightChild   int       `json:"right_child"`
	ClassLabel   int       `json:"class_label"`
	IsLeaf       bool      `json:"is_leaf"`
	Distribution []float64 `json:"distribution,omitempty"`
}

// TreeParams controls tree growth. Zero values mean: unlimited depth, split
// nodes with at least two samples, consider every feature at each split.
type TreeParams struct {
	MaxDepth        int `json:"max_depth" yaml:"max_depth"`
	MinSamplesSplit int `json:"min_samples_split" yaml:"min_samples_split"`
	MaxFeatures     int `json:"max_features" yaml:"max_features"`
}

// NewDecisionTree returns an untrained tree. rng drives feature sampling and
// may be nil when MaxFeatures covers every feature.
func NewDecisionTree(params TreeParams, rng *rand.Rand) *DecisionTree {
	if params.MinSamplesSplit < 2 {
		params.MinSamplesSplit = 2
	}
	return &DecisionTree{params: params, rng: rng}
}

// Fit grows the tree on the rows of features. weights holds one non-negative
// weight per row; rows with zero weight are ignored. A nil weights slice
// weighs every row equally.
func (dt *DecisionTree) Fit(features [][]float64, labels []int, weights []float64) error {
	if len(features) == 0 || len(labels) == 0 {
		return errors.New("features or labels empty")
	}
	if len(features) != len(labels) {
		return errors.New("features and labels size mismatch")
	}
	if weights != nil && len(weights) != len(labels) {
		return errors.New("weights and labels size mismatch")
	}
	for _, l := range labels {
		if l < 0 || l >= NumClasses {
			return ErrUnknownLabel
		}
	}
	if dt.params.MinSamplesSplit < 2 {
		dt.params.MinSamplesSplit = 2
	}

	dt.NumFeatures = len(features[0])
	for _, row := range features {
		if len(row) != dt.NumFeatures {
			return errors.New("ragged feature matrix")
		}
	}

	w := weights
	if w == nil {
		w = make([]float64, len(labels))
		for i := range w {
			w[i] = 1
		}
	}
	samples := make([]int, 0, len(labels))
	for i, weight := range w {
		if weight > 0 {
			samples = append(samples, i)
		}
	}
	if len(samples) == 0 {
		return errors.New("all sample weights are zero")
	}

	b := &treeBuilder{
		tree:     dt,
		features: features,
		labels:   labels,
		weights:  w,
	}
	dt.Nodes = b.buildNode(samples, 0)
	return nil
}

// PredictProba returns the class distribution of the leaf reached by x.
func (dt *DecisionTree) PredictProba(x []float64) ([]float64, error) {
	if len(dt.Nodes) == 0 {
		return nil, errors.New("model not trained")
	}
	if len(x) < dt.NumFeatures {
		return nil, errors.New("feature vector too short")
	}
	idx := 0
	for {
		node := dt.Nodes[idx]
		if node.IsLeaf {
			return node.Distribution, nil
		}
		if node.FeatureIdx < 0 || node.FeatureIdx >= len(x) {
			return nil, errors.New("feature index out of range")
		}
		if x[node.FeatureIdx] <= node.Threshold {
			idx = node.LeftChild
		} else {
			idx = node.RightChild
		}
		if idx < 0 || idx >= len(dt.Nodes) {
			return nil, errors.New("invalid tree state")
		}
	}
}

// Predict returns the most probable class and its probability.
func (dt *DecisionTree) Predict(x []float64) (int, float64, error) {
	proba, err := dt.PredictProba(x)
	if err != nil {
		return 0, 0, err
	}
	label := argmax(proba)
	return label, proba[label], nil
}

// Depth returns the length of the longest root-to-leaf path.
func (dt *DecisionTree) Depth() int {
	if len(dt.Nodes) == 0 {
		return 0
	}
	var walk func(idx int) int
	walk = func(idx int) int {
		node := dt.Nodes[idx]
		if node.IsLeaf {
			return 0
		}
		l, r := walk(node.LeftChild), walk(node.RightChild)
		if l > r {
			return l + 1
		}
		return r + 1
	}
	return walk(0)
}

type treeBuilder struct {
	tree     *DecisionTree
	features [][]float64
	labels   []int
	weights  []float64
}

func (b *treeBuilder) buildNode(samples []int, depth int) []TreeNode {
	dist := b.classWeights(samples)
	leaf := leafNode(dist)

	params := b.tree.params
	if (params.MaxDepth > 0 && depth >= params.MaxDepth) ||
		len(samples) < params.MinSamplesSplit ||
		isPure(dist) {
		return []TreeNode{leaf}
	}

	bestFeature, threshold, ok := b.findBestSplit(samples)
	if !ok {
		return []TreeNode{leaf}
	}

	left, right := splitSamples(b.features, samples, bestFeature, threshold)
	if len(left) == 0 || len(right) == 0 {
		return []TreeNode{leaf}
	}

	leftNodes := b.buildNode(left, depth+1)
	rightNodes := b.buildNode(right, depth+1)

	root := TreeNode{
		FeatureIdx: bestFeature,
		Threshold:  threshold,
		LeftChild:  1,
		RightChild: 1 + len(leftNodes),
		ClassLabel: leaf.ClassLabel,
		IsLeaf:     false,
	}

	nodes := make([]TreeNode, 0, 1+len(leftNodes)+len(rightNodes))
	nodes = append(nodes, root)
	nodes = append(nodes, offsetNodes(leftNodes, 1)...)
	nodes = append(nodes, offsetNodes(rightNodes, 1+len(leftNodes))...)
	return nodes
}

// offsetNodes shifts child pointers of a subtree placed at position base.
func offsetNodes(nodes []TreeNode, base int) []TreeNode {
	for i := range nodes {
		if nodes[i].IsLeaf {
			continue
		}
		nodes[i].LeftChild += base
		nodes[i].RightChild += base
	}
	return nodes
}

func (b *treeBuilder) findBestSplit(samples []int) (int, float64, bool) {
	featureCount := b.tree.NumFeatures
	maxFeatures := b.tree.params.MaxFeatures
	if maxFeatures <= 0 || maxFeatures > featureCount {
		maxFeatures = featureCount
	}

	order := make([]int, featureCount)
	if b.tree.rng != nil && maxFeatures < featureCount {
		order = b.tree.rng.Perm(featureCount)
	} else {
		for i := range order {
			order[i] = i
		}
	}

	bestFeature := -1
	bestThreshold := 0.0
	bestImpurity := 0.0
	visited := 0

	sorted := make([]int, len(samples))
	for _, featureIdx := range order {
		if visited >= maxFeatures {
			break
		}
		copy(sorted, samples)
		sort.SliceStable(sorted, func(i, j int) bool {
			return b.features[sorted[i]][featureIdx] < b.features[sorted[j]][featureIdx]
		})
		first := b.features[sorted[0]][featureIdx]
		last := b.features[sorted[len(sorted)-1]][featureIdx]
		if first == last {
			// constant features do not count towards maxFeatures
			continue
		}
		visited++

		threshold, impurity, ok := b.scanFeature(sorted, featureIdx)
		if !ok {
			continue
		}
		if bestFeature == -1 || impurity < bestImpurity {
			bestImpurity = impurity
			bestFeature = featureIdx
			bestThreshold = threshold
		}
	}
	if bestFeature == -1 {
		return -1, 0, false
	}
	return bestFeature, bestThreshold, true
}

// scanFeature sweeps the samples sorted by one feature and returns the
// threshold with the lowest weighted Gini impurity.
func (b *treeBuilder) scanFeature(sorted []int, featureIdx int) (float64, float64, bool) {
	total := b.classWeights(sorted)
	totalWeight := sum(total[:])

	var left [NumClasses]float64
	right := total

	found := false
	bestImpurity := 0.0
	bestThreshold := 0.0
	for i := 0; i < len(sorted)-1; i++ {
		s := sorted[i]
		w := b.weights[s]
		left[b.labels[s]] += w
		right[b.labels[s]] -= w

		current := b.features[s][featureIdx]
		next := b.features[sorted[i+1]][featureIdx]
		if current == next {
			continue
		}

		lw, rw := sum(left[:]), sum(right[:])
		impurity := (lw/totalWeight)*gini(left[:], lw) + (rw/totalWeight)*gini(right[:], rw)
		if !found || impurity < bestImpurity {
			found = true
			bestImpurity = impurity
			bestThreshold = current + (next-current)/2
			if bestThreshold == next {
				bestThreshold = current
			}
		}
	}
	return bestThreshold, bestImpurity, found
}

func (b *treeBuilder) classWeights(samples []int) [NumClasses]float64 {
	var dist [NumClasses]float64
	for _, s := range samples {
		dist[b.labels[s]] += b.weights[s]
	}
	return dist
}

func splitSamples(features [][]float64, samples []int, featureIdx int, threshold float64) ([]int, []int) {
	left := make([]int, 0, len(samples))
	right := make([]int, 0, len(samples))
	for _, s := range samples {
		if features[s][featureIdx] <= threshold {
			left = append(left, s)
		} else {
			right = append(right, s)
		}
	}
	return left, right
}

func leafNode(dist [NumClasses]float64) TreeNode {
	total := sum(dist[:])
	proba := make([]float64, NumClasses)
	for i, w := range dist {
		if total > 0 {
			proba[i] = w / total
		}
	}
	return TreeNode{
		FeatureIdx:   -1,
		LeftChild:    -1,
		RightChild:   -1,
		ClassLabel:   argmax(proba),
		IsLeaf:       true,
		Distribution: proba,
	}
}

func gini(classWeights []float64, total float64) float64 {
	if total <= 0 {
		return 0
	}
	impurity := 1.0
	for _, w := range classWeights {
		p := w / total
		impurity -= p * p
	}
	return impurity
}

func isPure(dist [NumClasses]float64) bool {
	nonZero := 0
	for _, w := range dist {
		if w > 0 {
			nonZero++
		}
	}
	return nonZero <= 1
}

// argmax returns the index of the largest value; ties go to the lowest index.
func argmax(values []float64) int {
	best := 0
	for i := 1; i < len(values); i++ {
		if values[i] > values[best] {
			best = i
		}
	}
	return best
}

func sum(values []float64) float64 {
	var total float64
	for _, v := range values {
		total += v
	}
	return total
}
