package ml

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
)

// Cache lookup outcomes reported on a Prediction. Empty when the predictor
// has no cache.
const (
	CacheHit  = "hit"
	CacheMiss = "miss"
)

var (
	// ErrMissingFeature is returned by strict prediction when monthly fields are absent.
	ErrMissingFeature = errors.New("missing required feature")
	// ErrModelUnavailable wraps failures to load the model artifact.
	ErrModelUnavailable = errors.New("model unavailable")
)

// Prediction is the decoded result of one inference.
type Prediction struct {
	Label         ScarcityLabel             `json:"label"`
	ClassIndex    int                       `json:"class_index"`
	Probabilities map[ScarcityLabel]float64 `json:"probabilities"`
	Missing       []string                  `json:"missing_features,omitempty"`
	Ignored       []string                  `json:"ignored_features,omitempty"`
	Cache         string                    `json:"-"`
}

// PredictorOptions tunes a Predictor. CacheSize 0 disables the result cache.
type PredictorOptions struct {
	CacheSize int
}

type cachedResult struct {
	class int
	proba []float64
}

// Predictor serves predictions from one immutable artifact. It is safe for
// concurrent use.
type Predictor struct {
	artifact *Artifact
	cache    *lru.Cache[string, cachedResult]
	logger   *zap.Logger
}

func NewPredictor(artifact *Artifact, opts PredictorOptions, logger *zap.Logger) (*Predictor, error) {
	if artifact == nil {
		return nil, fmt.Errorf("%w: nil artifact", ErrInvalidArtifact)
	}
	if err := artifact.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Predictor{artifact: artifact, logger: logger}
	if opts.CacheSize > 0 {
		cache, err := lru.New[string, cachedResult](opts.CacheSize)
		if err != nil {
			return nil, err
		}
		p.cache = cache
	}
	return p, nil
}

// FeatureNames returns the feature order the model was trained on.
func (p *Predictor) FeatureNames() []string {
	return append([]string(nil), p.artifact.FeatureNames...)
}

// Artifact returns the artifact backing the predictor. Callers must not modify it.
func (p *Predictor) Artifact() *Artifact {
	return p.artifact
}

// Predict aligns req to the model's features, zero-filling anything absent,
// and returns the decoded label. Missing features are reported on the result.
func (p *Predictor) Predict(ctx context.Context, req PredictionRequest) (*Prediction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	alignment := Align(req, p.artifact.FeatureNames)
	if len(alignment.Missing) > 0 {
		p.logger.Warn("prediction request missing features, filled with zero",
			zap.Strings("missing", alignment.Missing))
	}

	key := vectorKey(alignment.Vector)
	lookup := ""
	if p.cache != nil {
		if hit, ok := p.cache.Get(key); ok {
			return p.decode(hit, alignment, CacheHit)
		}
		lookup = CacheMiss
	}

	proba, err := p.artifact.Forest.PredictProba(alignment.Vector)
	if err != nil {
		return nil, fmt.Errorf("predict: %w", err)
	}
	result := cachedResult{class: argmax(proba), proba: proba}
	if p.cache != nil {
		p.cache.Add(key, result)
	}
	return p.decode(result, alignment, lookup)
}

// PredictStrict behaves like Predict but rejects requests that lack any of
// the twelve monthly fields. Seasonal aggregates and ANNUAL stay optional.
func (p *Predictor) PredictStrict(ctx context.Context, req PredictionRequest) (*Prediction, error) {
	if missing := MissingMonths(req); len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrMissingFeature, strings.Join(missing, ", "))
	}
	return p.Predict(ctx, req)
}

func (p *Predictor) decode(r cachedResult, alignment Alignment, lookup string) (*Prediction, error) {
	label, err := DecodeLabel(r.class)
	if err != nil {
		return nil, err
	}
	proba := make(map[ScarcityLabel]float64, NumClasses)
	for i, l := range ClassOrder {
		proba[l] = r.proba[i]
	}
	return &Prediction{
		Label:         label,
		ClassIndex:    r.class,
		Probabilities: proba,
		Missing:       alignment.Missing,
		Ignored:       alignment.Ignored,
		Cache:         lookup,
	}, nil
}

func vectorKey(vector []float64) string {
	var b strings.Builder
	for i, v := range vector {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(v, 'g', -1, 64))
	}
	return b.String()
}
