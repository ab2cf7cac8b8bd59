package ml

import "context"

// MLModel is a trainable multi-class classifier over dense feature vectors.
type MLModel interface {
	Fit(features [][]float64, labels []int, weights []float64) error
	PredictProba(features []float64) ([]float64, error)
	Predict(features []float64) (int, float64, error)
}

// ModelProvider classifies a named-feature request.
type ModelProvider interface {
	Predict(ctx context.Context, req PredictionRequest) (*Prediction, error)
}

var (
	_ MLModel       = (*DecisionTree)(nil)
	_ MLModel       = (*RandomForest)(nil)
	_ ModelProvider = (*Predictor)(nil)
	_ ModelProvider = (*ModelHandle)(nil)
)
