package ml

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"strconv"

	"golang.org/x/sync/errgroup"
)

// ForestParams configures a random forest.
type ForestParams struct {
	NEstimators int
	Seed        int64
	Bootstrap   bool
	Jobs        int
	Tree        TreeParams
}

// RandomForest is a bagged ensemble of decision trees whose prediction is the
// mean of the per-tree class distributions.
type RandomForest struct {
	Trees       []*DecisionTree `json:"trees"`
	NumFeatures int             `json:"num_features"`

	params ForestParams
}

// NewRandomForest returns an untrained forest.
func NewRandomForest(params ForestParams) *RandomForest {
	if params.NEstimators <= 0 {
		params.NEstimators = 100
	}
	if params.Jobs <= 0 {
		params.Jobs = 1
	}
	return &RandomForest{params: params}
}

// Fit trains the forest without cancellation.
func (rf *RandomForest) Fit(features [][]float64, labels []int, weights []float64) error {
	return rf.FitContext(context.Background(), features, labels, weights)
}

// FitContext trains every tree on its own bootstrap sample. Tree seeds are
// drawn up front from the forest seed, so the result does not depend on
// the number of workers.
func (rf *RandomForest) FitContext(ctx context.Context, features [][]float64, labels []int, weights []float64) error {
	if len(features) == 0 || len(labels) == 0 {
		return errors.New("features or labels empty")
	}
	if len(features) != len(labels) {
		return errors.New("features and labels size mismatch")
	}
	if weights != nil && len(weights) != len(labels) {
		return errors.New("weights and labels size mismatch")
	}

	n := len(labels)
	master := rand.New(rand.NewSource(rf.params.Seed))
	seeds := make([]int64, rf.params.NEstimators)
	for i := range seeds {
		seeds[i] = master.Int63()
	}

	trees := make([]*DecisionTree, rf.params.NEstimators)
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(rf.params.Jobs)
	for i := range trees {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			rng := rand.New(rand.NewSource(seeds[i]))
			sampleWeights := make([]float64, n)
			if rf.params.Bootstrap {
				counts := make([]int, n)
				for j := 0; j < n; j++ {
					counts[rng.Intn(n)]++
				}
				for j := range sampleWeights {
					sampleWeights[j] = float64(counts[j]) * baseWeight(weights, j)
				}
			} else {
				for j := range sampleWeights {
					sampleWeights[j] = baseWeight(weights, j)
				}
			}

			tree := NewDecisionTree(rf.params.Tree, rng)
			if err := tree.Fit(features, labels, sampleWeights); err != nil {
				return fmt.Errorf("tree %d: %w", i, err)
			}
			trees[i] = tree
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	rf.Trees = trees
	rf.NumFeatures = len(features[0])
	return nil
}

// PredictProba averages the class distributions of all trees.
func (rf *RandomForest) PredictProba(x []float64) ([]float64, error) {
	if len(rf.Trees) == 0 {
		return nil, errors.New("model not trained")
	}
	proba := make([]float64, NumClasses)
	for _, tree := range rf.Trees {
		p, err := tree.PredictProba(x)
		if err != nil {
			return nil, err
		}
		for c := range proba {
			if c < len(p) {
				proba[c] += p[c]
			}
		}
	}
	for c := range proba {
		proba[c] /= float64(len(rf.Trees))
	}
	return proba, nil
}

// Predict returns the class with the highest mean probability.
func (rf *RandomForest) Predict(x []float64) (int, float64, error) {
	proba, err := rf.PredictProba(x)
	if err != nil {
		return 0, 0, err
	}
	label := argmax(proba)
	return label, proba[label], nil
}

// ResolveMaxFeatures turns a max_features setting into a feature count:
// "sqrt", "log2", "all" (or empty) or a positive integer.
func ResolveMaxFeatures(setting string, numFeatures int) (int, error) {
	if numFeatures <= 0 {
		return 0, errors.New("no features")
	}
	switch setting {
	case "sqrt":
		return max(1, int(math.Sqrt(float64(numFeatures)))), nil
	case "log2":
		return max(1, int(math.Log2(float64(numFeatures)))), nil
	case "", "all":
		return numFeatures, nil
	}
	n, err := strconv.Atoi(setting)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid max_features %q", setting)
	}
	return min(n, numFeatures), nil
}

func baseWeight(weights []float64, i int) float64 {
	if weights == nil {
		return 1
	}
	return weights[i]
}
