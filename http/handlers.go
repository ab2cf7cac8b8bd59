package http

import (
	"context"
	"errors"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"rainguard/db"
	"rainguard/ml"
	"rainguard/monitoring"
	"rainguard/pipeline"
)

// Prediction modes, used as metric labels and persisted with each prediction.
const (
	ModeFeatures = "features"
	ModeQuick    = "quick"
	ModeDetailed = "detailed"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
	defaultFromYear     = 2000
)

// Store is the persistence the handlers need. *db.Store satisfies it.
type Store interface {
	Ping(ctx context.Context) error
	SavePrediction(ctx context.Context, p db.PredictionRecord) error
	RecentPredictions(ctx context.Context, limit int) ([]db.PredictionRecord, error)
	AnnualSeries(ctx context.Context, region string, fromYear int) ([]db.AnnualPoint, error)
	Regions(ctx context.Context) ([]string, error)
	LoadTrainingLog(ctx context.Context, limit int) ([]db.TrainingLog, error)
}

// Deps are the collaborators of Handlers. Store and Publisher are optional.
type Deps struct {
	Model     *ml.ModelHandle
	Store     Store
	Publisher pipeline.Publisher
	Metrics   *monitoring.Metrics
	Clock     clockwork.Clock
	Logger    *zap.Logger
}

// Handlers serves the prediction API.
type Handlers struct {
	model     *ml.ModelHandle
	store     Store
	publisher pipeline.Publisher
	metrics   *monitoring.Metrics
	clock     clockwork.Clock
	logger    *zap.Logger
	validate  *validator.Validate
}

func NewHandlers(deps Deps) *Handlers {
	h := &Handlers{
		model:     deps.Model,
		store:     deps.Store,
		publisher: deps.Publisher,
		metrics:   deps.Metrics,
		clock:     deps.Clock,
		logger:    deps.Logger,
		validate:  validator.New(validator.WithRequiredStructEnabled()),
	}
	if h.publisher == nil {
		h.publisher = pipeline.NopPublisher{}
	}
	if h.metrics == nil {
		h.metrics = monitoring.NewMetrics(nil)
	}
	if h.clock == nil {
		h.clock = clockwork.NewRealClock()
	}
	if h.logger == nil {
		h.logger = zap.NewNop()
	}
	h.validate.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return h
}

// RegisterRoutes mounts the JSON API on r.
func (h *Handlers) RegisterRoutes(r chi.Router) {
	r.Get("/api/health", h.handleHealth)
	r.Get("/api/model", h.handleModel)
	r.Post("/api/predict", h.handlePredict)
	r.Post("/api/predict/quick", h.handlePredictQuick)
	r.Post("/api/predict/detailed", h.handlePredictDetailed)
	r.Get("/api/predictions", h.handlePredictions)
	r.Get("/api/rainfall/annual", h.handleAnnualRainfall)
	r.Get("/api/rainfall/regions", h.handleRegions)
}

// PredictRequest carries named features. Unknown names are ignored and
// absent training features are zero-filled unless Strict is set.
type PredictRequest struct {
	Features map[string]float64 `json:"features" validate:"required"`
	Strict   bool               `json:"strict"`
}

// QuickPredictRequest classifies from an annual total alone.
type QuickPredictRequest struct {
	AnnualRainfall *float64 `json:"annual_rainfall" validate:"required"`
}

// DetailedPredictRequest classifies from all twelve monthly totals.
type DetailedPredictRequest struct {
	Months map[string]float64 `json:"months" validate:"required,len=12,dive,keys,oneof=JAN FEB MAR APR MAY JUN JUL AUG SEP OCT NOV DEC,endkeys"`
}

// PredictionResponse is returned by every prediction endpoint.
type PredictionResponse struct {
	ID            string             `json:"id"`
	Mode          string             `json:"mode"`
	Prediction    ml.ScarcityLabel   `json:"prediction"`
	ClassIndex    int                `json:"class_index"`
	Probabilities map[string]float64 `json:"probabilities"`
	Annual        float64            `json:"annual_rainfall"`
	Missing       []string           `json:"missing_features,omitempty"`
	Ignored       []string           `json:"ignored_features,omitempty"`
	CreatedAt     time.Time          `json:"created_at"`
}

type healthResponse struct {
	Status      string    `json:"status"`
	ModelLoaded bool      `json:"model_loaded"`
	Database    string    `json:"database"`
	Time        time.Time `json:"time"`
}

func (h *Handlers) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:      "ok",
		ModelLoaded: h.model != nil && h.model.Loaded(),
		Database:    "disabled",
		Time:        h.clock.Now().UTC(),
	}
	if h.store != nil {
		resp.Database = "ok"
		if err := h.store.Ping(r.Context()); err != nil {
			h.logger.Warn("database ping failed", zap.Error(err))
			resp.Status = "degraded"
			resp.Database = "unreachable"
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

type thresholdsResponse struct {
	SevereBelow   float64 `json:"severe_below"`
	ModerateBelow float64 `json:"moderate_below"`
}

type modelResponse struct {
	ModelType    string             `json:"model_type"`
	FeatureNames []string           `json:"feature_names"`
	Classes      []string           `json:"classes"`
	NEstimators  int                `json:"n_estimators"`
	Seed         int64              `json:"seed"`
	TrainedAt    time.Time          `json:"trained_at"`
	TrainRows    int                `json:"train_rows"`
	Thresholds   thresholdsResponse `json:"thresholds"`
	LastTraining *db.TrainingLog    `json:"last_training,omitempty"`
}

func (h *Handlers) handleModel(w http.ResponseWriter, r *http.Request) {
	p, err := h.predictor()
	if err != nil {
		h.logger.Warn("model unavailable", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "model unavailable")
		return
	}
	a := p.Artifact()
	resp := modelResponse{
		ModelType:    a.ModelType,
		FeatureNames: p.FeatureNames(),
		Classes:      ml.ClassNames(),
		NEstimators:  a.NEstimators,
		Seed:         a.Seed,
		TrainedAt:    a.TrainedAt,
		TrainRows:    a.TrainRows,
		Thresholds:   thresholdsResponse{SevereBelow: ml.SevereBelow, ModerateBelow: ml.ModerateBelow},
	}
	if h.store != nil {
		logs, err := h.store.LoadTrainingLog(r.Context(), 1)
		if err != nil {
			h.logger.Warn("load training log failed", zap.Error(err))
		} else if len(logs) > 0 {
			resp.LastTraining = &logs[0]
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handlers) handlePredict(w http.ResponseWriter, r *http.Request) {
	var req PredictRequest
	if rerr := decodeJSON(r, h.validate, &req); rerr != nil {
		h.metrics.ObservePredictionError(ModeFeatures, "bad_request")
		rerr.write(w)
		return
	}
	h.respond(w, r, ModeFeatures, ml.PredictionRequest(req.Features), req.Strict)
}

func (h *Handlers) handlePredictQuick(w http.ResponseWriter, r *http.Request) {
	var req QuickPredictRequest
	if rerr := decodeJSON(r, h.validate, &req); rerr != nil {
		h.metrics.ObservePredictionError(ModeQuick, "bad_request")
		rerr.write(w)
		return
	}
	h.respond(w, r, ModeQuick, ml.QuickRequest(*req.AnnualRainfall), false)
}

func (h *Handlers) handlePredictDetailed(w http.ResponseWriter, r *http.Request) {
	var req DetailedPredictRequest
	if rerr := decodeJSON(r, h.validate, &req); rerr != nil {
		h.metrics.ObservePredictionError(ModeDetailed, "bad_request")
		rerr.write(w)
		return
	}
	h.respond(w, r, ModeDetailed, ml.DetailedRequest(req.Months), true)
}

func (h *Handlers) respond(w http.ResponseWriter, r *http.Request, mode string, req ml.PredictionRequest, strict bool) {
	resp, err := h.predict(r.Context(), mode, req, strict)
	if err != nil {
		status, message := predictionStatus(err)
		if status >= http.StatusInternalServerError {
			h.logger.Error("prediction failed",
				zap.String("request_id", GetRequestID(r.Context())),
				zap.String("mode", mode),
				zap.Error(err))
		}
		writeError(w, status, message)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// predict runs one prediction, then records it in the store and on the
// event sink. Persistence failures are logged and do not fail the request.
func (h *Handlers) predict(ctx context.Context, mode string, req ml.PredictionRequest, strict bool) (*PredictionResponse, error) {
	start := h.clock.Now()
	p, err := h.predictor()
	if err != nil {
		h.metrics.ObservePredictionError(mode, "model_unavailable")
		return nil, err
	}

	var pred *ml.Prediction
	if strict {
		pred, err = p.PredictStrict(ctx, req)
	} else {
		pred, err = p.Predict(ctx, req)
	}
	if err != nil {
		h.metrics.ObservePredictionError(mode, errorReason(err))
		return nil, err
	}
	h.metrics.ObservePrediction(mode, pred.Label.String(), pred.Missing, pred.Cache, h.clock.Since(start))

	resp := &PredictionResponse{
		ID:            uuid.NewString(),
		Mode:          mode,
		Prediction:    pred.Label,
		ClassIndex:    pred.ClassIndex,
		Probabilities: make(map[string]float64, len(pred.Probabilities)),
		Annual:        requestAnnual(req),
		Missing:       pred.Missing,
		Ignored:       pred.Ignored,
		CreatedAt:     h.clock.Now().UTC(),
	}
	for label, prob := range pred.Probabilities {
		resp.Probabilities[label.String()] = prob
	}

	h.record(ctx, resp, pred.Probabilities[pred.Label])
	return resp, nil
}

func (h *Handlers) record(ctx context.Context, resp *PredictionResponse, confidence float64) {
	if h.store != nil {
		err := h.store.SavePrediction(ctx, db.PredictionRecord{
			ID:         resp.ID,
			Mode:       resp.Mode,
			Label:      resp.Prediction.String(),
			ClassIndex: resp.ClassIndex,
			Confidence: confidence,
			Annual:     resp.Annual,
			Missing:    resp.Missing,
			CreatedAt:  resp.CreatedAt,
		})
		if err != nil {
			h.logger.Warn("save prediction failed", zap.String("id", resp.ID), zap.Error(err))
		}
	}

	err := h.publisher.Publish(ctx, pipeline.PredictionEvent{
		ID:            resp.ID,
		Mode:          resp.Mode,
		Label:         resp.Prediction.String(),
		ClassIndex:    resp.ClassIndex,
		Probabilities: resp.Probabilities,
		Annual:        resp.Annual,
		Missing:       resp.Missing,
		CreatedAt:     resp.CreatedAt,
	})
	h.metrics.ObservePublish(err)
	if err != nil {
		h.logger.Warn("publish prediction failed", zap.String("id", resp.ID), zap.Error(err))
	}
}

func (h *Handlers) predictor() (*ml.Predictor, error) {
	if h.model == nil {
		return nil, ml.ErrModelUnavailable
	}
	return h.model.Predictor()
}

func (h *Handlers) handlePredictions(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		writeError(w, http.StatusServiceUnavailable, "prediction history is disabled")
		return
	}
	limit, err := intParam(r, "limit", defaultHistoryLimit)
	if err != nil || limit < 1 || limit > maxHistoryLimit {
		writeError(w, http.StatusBadRequest, "limit must be between 1 and "+strconv.Itoa(maxHistoryLimit))
		return
	}
	records, err := h.store.RecentPredictions(r.Context(), limit)
	if err != nil {
		h.logger.Error("load predictions failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load predictions")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"predictions": records, "count": len(records)})
}

func (h *Handlers) handleAnnualRainfall(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		writeError(w, http.StatusServiceUnavailable, "rainfall history is disabled")
		return
	}
	from, err := intParam(r, "from", defaultFromYear)
	if err != nil {
		writeError(w, http.StatusBadRequest, "from must be a year")
		return
	}
	region := r.URL.Query().Get("region")
	series, err := h.store.AnnualSeries(r.Context(), region, from)
	if err != nil {
		h.logger.Error("load rainfall series failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load rainfall series")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"region": region, "from": from, "series": series})
}

func (h *Handlers) handleRegions(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		writeError(w, http.StatusServiceUnavailable, "rainfall history is disabled")
		return
	}
	regions, err := h.store.Regions(r.Context())
	if err != nil {
		h.logger.Error("load regions failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load regions")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"regions": regions})
}

func predictionStatus(err error) (int, string) {
	switch {
	case errors.Is(err, ml.ErrMissingFeature):
		return http.StatusUnprocessableEntity, err.Error()
	case errors.Is(err, ml.ErrModelUnavailable):
		return http.StatusServiceUnavailable, "model unavailable"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "prediction timed out"
	case errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable, "request cancelled"
	default:
		return http.StatusInternalServerError, "prediction failed"
	}
}

func errorReason(err error) string {
	switch {
	case errors.Is(err, ml.ErrMissingFeature):
		return "missing_feature"
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return "cancelled"
	default:
		return "internal"
	}
}

// requestAnnual is the ANNUAL field when present, otherwise the monthly sum.
func requestAnnual(req ml.PredictionRequest) float64 {
	if v, ok := req[ml.AnnualColumn]; ok {
		return v
	}
	return ml.SumMonths(req, ml.MonthColumns[:]...)
}

func intParam(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}
