package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "rainguard"

// Metrics holds the Prometheus collectors of the prediction service.
type Metrics struct {
	Predictions        *prometheus.CounterVec   // labels: mode, label
	PredictionErrors   *prometheus.CounterVec   // labels: mode, reason
	PredictionDuration *prometheus.HistogramVec // labels: mode
	MissingFeatures    *prometheus.CounterVec   // labels: feature
	CacheLookups       *prometheus.CounterVec   // labels: result={hit,miss}
	ModelLoads         prometheus.Counter
	ModelLoadFailures  prometheus.Counter
	ModelLoaded        prometheus.Gauge
	EventsPublished    *prometheus.CounterVec // labels: outcome={success,error}

	HTTPRequests *prometheus.CounterVec   // labels: method, route, status
	HTTPDuration *prometheus.HistogramVec // labels: route
}

// NewMetrics creates the collectors and registers them with reg. Each server
// passes its own registry so tests can build several side by side.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Predictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "predictions_total",
			Help:      "Predictions served by request mode and predicted label.",
		}, []string{"mode", "label"}),
		PredictionErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "prediction_errors_total",
			Help:      "Failed prediction requests by mode and reason.",
		}, []string{"mode", "reason"}),
		PredictionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "prediction_duration_seconds",
			Help:      "Time spent producing a prediction.",
			Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
		}, []string{"mode"}),
		MissingFeatures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "missing_features_total",
			Help:      "Features absent from prediction requests and filled with zero.",
		}, []string{"feature"}),
		CacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "prediction_cache_total",
			Help:      "Prediction cache lookups by result.",
		}, []string{"result"}),
		ModelLoads: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "model_loads_total",
			Help:      "Successful model artifact loads.",
		}),
		ModelLoadFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "model_load_failures_total",
			Help:      "Failed model artifact loads and reloads.",
		}),
		ModelLoaded: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "model_loaded",
			Help:      "1 when a model is loaded and serving, 0 otherwise.",
		}),
		EventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_published_total",
			Help:      "Prediction events sent to the event sink by outcome.",
		}, []string{"outcome"}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route pattern and status code.",
		}, []string{"method", "route", "status"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route pattern.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
	}

	if reg != nil {
		reg.MustRegister(
			m.Predictions,
			m.PredictionErrors,
			m.PredictionDuration,
			m.MissingFeatures,
			m.CacheLookups,
			m.ModelLoads,
			m.ModelLoadFailures,
			m.ModelLoaded,
			m.EventsPublished,
			m.HTTPRequests,
			m.HTTPDuration,
		)
	}
	return m
}

// ObservePrediction records one successful prediction. cache is "hit" or
// "miss", or empty when no cache was consulted.
func (m *Metrics) ObservePrediction(mode, label string, missing []string, cache string, elapsed time.Duration) {
	m.Predictions.WithLabelValues(mode, label).Inc()
	m.PredictionDuration.WithLabelValues(mode).Observe(elapsed.Seconds())
	for _, f := range missing {
		m.MissingFeatures.WithLabelValues(f).Inc()
	}
	if cache != "" {
		m.CacheLookups.WithLabelValues(cache).Inc()
	}
}

func (m *Metrics) ObservePredictionError(mode, reason string) {
	m.PredictionErrors.WithLabelValues(mode, reason).Inc()
}

// ObserveModelLoad marks a freshly loaded model.
func (m *Metrics) ObserveModelLoad() {
	m.ModelLoads.Inc()
	m.ModelLoaded.Set(1)
}

// ObserveModelLoadFailure counts a failed load. serving tells whether an
// earlier model is still answering requests.
func (m *Metrics) ObserveModelLoadFailure(serving bool) {
	m.ModelLoadFailures.Inc()
	if serving {
		m.ModelLoaded.Set(1)
	} else {
		m.ModelLoaded.Set(0)
	}
}

func (m *Metrics) ObservePublish(err error) {
	if err != nil {
		m.EventsPublished.WithLabelValues("error").Inc()
		return
	}
	m.EventsPublished.WithLabelValues("success").Inc()
}
