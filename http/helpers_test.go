package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"rainguard/db"
	"rainguard/ml"
	"rainguard/monitoring"
	"rainguard/pipeline"
)

var (
	artifactOnce sync.Once
	artifact     *ml.Artifact
	artifactErr  error
)

// testArtifact trains a small forest on evenly split annual totals from 400
// to 2000mm, the same shape QuickRequest produces.
func testArtifact(t *testing.T) *ml.Artifact {
	t.Helper()
	artifactOnce.Do(func() {
		var records []ml.RainfallRecord
		year := 1901
		for annual := 400.0; annual <= 2000; annual += 10 {
			avg := annual / 12
			rec := ml.RainfallRecord{Region: fmt.Sprintf("R%d", year%4), Year: year, Annual: annual}
			for i := range rec.Months {
				rec.Months[i] = avg
			}
			rec.JanFeb, rec.MarMay, rec.JunSep = avg*2, avg*3, avg*4
			records = append(records, rec)
			year++
		}
		cfg := ml.DefaultTrainerConfig()
		cfg.NEstimators = 15
		result, err := ml.NewTrainer(cfg, nil, clockwork.NewFakeClock()).Train(context.Background(), records)
		if err != nil {
			artifactErr = err
			return
		}
		artifact = result.Artifact
	})
	require.NoError(t, artifactErr)
	return artifact
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []pipeline.PredictionEvent
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, e pipeline.PredictionEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return p.err
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) Events() []pipeline.PredictionEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]pipeline.PredictionEvent(nil), p.events...)
}

type testEnv struct {
	handler   http.Handler
	store     *db.Store
	publisher *recordingPublisher
	registry  *prometheus.Registry
	metrics   *monitoring.Metrics
	clock     *clockwork.FakeClock
}

type envOption func(*ServerConfig, *Deps)

func withoutStore() envOption {
	return func(_ *ServerConfig, d *Deps) { d.Store = nil }
}

func withModel(h *ml.ModelHandle) envOption {
	return func(_ *ServerConfig, d *Deps) { d.Model = h }
}

func withServerConfig(fn func(*ServerConfig)) envOption {
	return func(c *ServerConfig, _ *Deps) { fn(c) }
}

func newTestEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()
	predictor, err := ml.NewPredictor(testArtifact(t), ml.PredictorOptions{CacheSize: 16}, nil)
	require.NoError(t, err)

	store, err := db.Open(filepath.Join(t.TempDir(), "rainguard.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	env := &testEnv{
		store:     store,
		publisher: &recordingPublisher{},
		registry:  prometheus.NewRegistry(),
		clock:     clockwork.NewFakeClockAt(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)),
	}
	metrics := monitoring.NewMetrics(env.registry)
	env.metrics = metrics

	cfg := DefaultServerConfig()
	deps := Deps{
		Model:     ml.NewStaticHandle(predictor),
		Store:     store,
		Publisher: env.publisher,
		Metrics:   metrics,
		Clock:     env.clock,
		Logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(&cfg, &deps)
	}
	env.handler = NewServer(cfg, NewHandlers(deps), metrics, env.registry, zap.NewNop()).Handler()
	return env
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	e.handler.ServeHTTP(rr, req)
	return rr
}

func decodeBody[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &v), rr.Body.String())
	return v
}

func monthly(value float64) map[string]float64 {
	months := make(map[string]float64, len(ml.MonthColumns))
	for _, m := range ml.MonthColumns {
		months[m] = value
	}
	return months
}
