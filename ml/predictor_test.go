package ml

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPredictor(t *testing.T, opts PredictorOptions) *Predictor {
	t.Helper()
	p, err := NewPredictor(trainedResult(t).Artifact, opts, nil)
	require.NoError(t, err)
	return p
}

func TestPredictorQuickRequests(t *testing.T) {
	p := newTestPredictor(t, PredictorOptions{})
	ctx := context.Background()

	tests := []struct {
		annual float64
		want   ScarcityLabel
	}{
		{500, SevereScarcity},
		{800, SevereScarcity},
		{1200, NoScarcity},
		{1800, NoScarcity},
	}
	for _, tt := range tests {
		pred, err := p.Predict(ctx, QuickRequest(tt.annual))
		require.NoError(t, err)
		assert.Equal(t, tt.want, pred.Label, "annual=%v", tt.annual)
		assert.Contains(t, ClassNames(), string(pred.Label))
		assert.InDelta(t, 1.0, pred.Probabilities[ModerateScarcity]+pred.Probabilities[NoScarcity]+pred.Probabilities[SevereScarcity], 1e-9)
		assert.Empty(t, pred.Missing)
		assert.Equal(t, []string{AnnualColumn}, pred.Ignored)
	}
}

func TestPredictorZeroRequest(t *testing.T) {
	p := newTestPredictor(t, PredictorOptions{})

	pred, err := p.Predict(context.Background(), DetailedRequest(nil))
	require.NoError(t, err)
	assert.Equal(t, SevereScarcity, pred.Label)
	assert.Equal(t, 2, pred.ClassIndex)
}

func TestPredictorMissingFeatureIsZeroFilled(t *testing.T) {
	p := newTestPredictor(t, PredictorOptions{})
	req := QuickRequest(1200)
	delete(req, "DEC")

	pred, err := p.Predict(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, []string{"DEC"}, pred.Missing)
	assert.Contains(t, ClassNames(), string(pred.Label))

	req["DEC"] = 0
	explicit, err := p.Predict(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, pred.Label, explicit.Label)
	assert.Equal(t, pred.Probabilities, explicit.Probabilities)
}

func TestPredictorStrict(t *testing.T) {
	p := newTestPredictor(t, PredictorOptions{})
	req := QuickRequest(1200)
	delete(req, "DEC")
	delete(req, "MAR")

	_, err := p.PredictStrict(context.Background(), req)
	require.ErrorIs(t, err, ErrMissingFeature)
	assert.Contains(t, err.Error(), "MAR, DEC")

	delete(req, AnnualColumn)
	req["DEC"], req["MAR"] = 100, 100
	pred, err := p.PredictStrict(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, NoScarcity, pred.Label)
}

func TestPredictorIdempotent(t *testing.T) {
	p := newTestPredictor(t, PredictorOptions{})
	req := QuickRequest(1100)

	first, err := p.Predict(context.Background(), req)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := p.Predict(context.Background(), req)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestPredictorCache(t *testing.T) {
	p := newTestPredictor(t, PredictorOptions{CacheSize: 8})
	req := QuickRequest(1200)

	first, err := p.Predict(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, CacheMiss, first.Cache)

	second, err := p.Predict(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, CacheHit, second.Cache)
	assert.Equal(t, first.Label, second.Label)
	assert.Equal(t, first.Probabilities, second.Probabilities)
}

func TestPredictorWithoutCacheReportsNoLookup(t *testing.T) {
	p := newTestPredictor(t, PredictorOptions{})
	for i := 0; i < 2; i++ {
		pred, err := p.Predict(context.Background(), QuickRequest(1200))
		require.NoError(t, err)
		assert.Empty(t, pred.Cache)
	}
}

func TestPredictorConcurrent(t *testing.T) {
	p := newTestPredictor(t, PredictorOptions{CacheSize: 4})
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(annual float64) {
			defer wg.Done()
			_, err := p.Predict(context.Background(), QuickRequest(annual))
			assert.NoError(t, err)
		}(float64(400 + 100*i))
	}
	wg.Wait()
}

func TestPredictorCancelledContext(t *testing.T) {
	p := newTestPredictor(t, PredictorOptions{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := p.Predict(ctx, QuickRequest(1200))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewPredictorRejectsInvalidArtifact(t *testing.T) {
	_, err := NewPredictor(nil, PredictorOptions{}, nil)
	assert.ErrorIs(t, err, ErrInvalidArtifact)

	_, err = NewPredictor(&Artifact{Format: ArtifactFormat}, PredictorOptions{}, nil)
	assert.ErrorIs(t, err, ErrInvalidArtifact)
}
