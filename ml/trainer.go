package ml

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

// ErrMissingClass is returned when the dataset lacks one of the scarcity classes.
var ErrMissingClass = errors.New("dataset is missing a scarcity class")

// TrainerConfig holds the hyper-parameters of a training run.
type TrainerConfig struct {
	ModelType       string
	NEstimators     int
	Seed            int64
	TestRatio       float64
	MaxDepth        int
	MinSamplesSplit int
	MaxFeatures     string
	IncludeAnnual   bool
	Jobs            int
}

// DefaultTrainerConfig mirrors the reference training run: 100 trees, seed
// 42, an 80/20 split and sqrt(features) candidates per split.
func DefaultTrainerConfig() TrainerConfig {
	return TrainerConfig{
		ModelType:       ModelTypeRandomForest,
		NEstimators:     100,
		Seed:            42,
		TestRatio:       0.2,
		MinSamplesSplit: 2,
		MaxFeatures:     "sqrt",
		Jobs:            1,
	}
}

// TrainingResult is everything a training run produces.
type TrainingResult struct {
	Artifact     *Artifact
	Report       *Report
	ClassCounts  map[ScarcityLabel]int
	ClassWeights map[ScarcityLabel]float64
	TrainSize    int
	TestSize     int
	Duration     time.Duration
}

// Trainer runs the labelling, split, fit and evaluation pipeline.
type Trainer struct {
	config TrainerConfig
	logger *zap.Logger
	clock  clockwork.Clock
}

func NewTrainer(config TrainerConfig, logger *zap.Logger, clock clockwork.Clock) *Trainer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if config.ModelType == "" {
		config.ModelType = ModelTypeRandomForest
	}
	return &Trainer{config: config, logger: logger, clock: clock}
}

// Train labels the records, fits a classifier on a stratified training split
// and evaluates it on the held-out rows. Any malformed input aborts the run.
func (t *Trainer) Train(ctx context.Context, records []RainfallRecord) (*TrainingResult, error) {
	start := t.clock.Now()
	cfg := t.config

	featureNames := TrainingFeatures(cfg.IncludeAnnual)
	features, labels, err := BuildTrainingSet(records, featureNames)
	if err != nil {
		return nil, fmt.Errorf("build training set: %w", err)
	}

	counts := ClassCounts(labels)
	for c, n := range counts {
		if n == 0 {
			return nil, fmt.Errorf("%w: no rows labelled %q", ErrMissingClass, ClassOrder[c])
		}
	}

	split, err := StratifiedSplit(labels, cfg.TestRatio, cfg.Seed)
	if err != nil {
		return nil, fmt.Errorf("split dataset: %w", err)
	}
	trainX, trainY := Take(features, labels, split.Train)
	testX, testY := Take(features, labels, split.Test)

	classWeights := BalancedClassWeights(trainY)
	t.logger.Info("training started",
		zap.String("model_type", cfg.ModelType),
		zap.Int("rows", len(records)),
		zap.Int("train_rows", len(trainY)),
		zap.Int("test_rows", len(testY)),
		zap.Strings("features", featureNames),
		zap.Float64s("class_weights", classWeights[:]),
	)

	forest, nEstimators, err := t.newModel(len(featureNames))
	if err != nil {
		return nil, err
	}
	if err := forest.FitContext(ctx, trainX, trainY, SampleWeights(trainY, classWeights)); err != nil {
		return nil, fmt.Errorf("fit model: %w", err)
	}

	predicted := make([]int, len(testX))
	for i, x := range testX {
		label, _, err := forest.Predict(x)
		if err != nil {
			return nil, fmt.Errorf("evaluate row %d: %w", i, err)
		}
		predicted[i] = label
	}
	report, err := Evaluate(testY, predicted)
	if err != nil {
		return nil, fmt.Errorf("evaluate model: %w", err)
	}

	result := &TrainingResult{
		Artifact: &Artifact{
			Format:       ArtifactFormat,
			ModelType:    cfg.ModelType,
			FeatureNames: featureNames,
			Classes:      ClassNames(),
			Forest:       forest,
			NEstimators:  nEstimators,
			Seed:         cfg.Seed,
			TrainedAt:    t.clock.Now().UTC(),
			TrainRows:    len(trainY),
		},
		Report:       report,
		ClassCounts:  make(map[ScarcityLabel]int, NumClasses),
		ClassWeights: make(map[ScarcityLabel]float64, NumClasses),
		TrainSize:    len(trainY),
		TestSize:     len(testY),
	}
	for c, label := range ClassOrder {
		result.ClassCounts[label] = counts[c]
		result.ClassWeights[label] = classWeights[c]
	}
	result.Duration = t.clock.Since(start)

	t.logger.Info("training finished",
		zap.Float64("accuracy", report.Accuracy),
		zap.Duration("duration", result.Duration),
	)
	return result, nil
}

func (t *Trainer) newModel(numFeatures int) (*RandomForest, int, error) {
	cfg := t.config
	switch cfg.ModelType {
	case ModelTypeRandomForest:
		maxFeatures, err := ResolveMaxFeatures(cfg.MaxFeatures, numFeatures)
		if err != nil {
			return nil, 0, err
		}
		n := cfg.NEstimators
		if n <= 0 {
			n = 100
		}
		return NewRandomForest(ForestParams{
			NEstimators: n,
			Seed:        cfg.Seed,
			Bootstrap:   true,
			Jobs:        cfg.Jobs,
			Tree: TreeParams{
				MaxDepth:        cfg.MaxDepth,
				MinSamplesSplit: cfg.MinSamplesSplit,
				MaxFeatures:     maxFeatures,
			},
		}), n, nil
	case ModelTypeDecisionTree:
		return NewRandomForest(ForestParams{
			NEstimators: 1,
			Seed:        cfg.Seed,
			Jobs:        1,
			Tree: TreeParams{
				MaxDepth:        cfg.MaxDepth,
				MinSamplesSplit: cfg.MinSamplesSplit,
			},
		}), 1, nil
	default:
		return nil, 0, fmt.Errorf("unsupported model type %q", cfg.ModelType)
	}
}
