package ml

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// LoadModel reads an artifact and checks it was trained as modelType.
// An empty modelType accepts any supported type.
func LoadModel(modelType, path string) (*Artifact, error) {
	artifact, err := LoadArtifact(path)
	if err != nil {
		return nil, err
	}
	switch modelType {
	case "":
	case ModelTypeRandomForest, ModelTypeDecisionTree:
		if artifact.ModelType != modelType {
			return nil, fmt.Errorf("%w: model type %q, expected %q", ErrInvalidArtifact, artifact.ModelType, modelType)
		}
	default:
		return nil, fmt.Errorf("unsupported model type %q", modelType)
	}
	return artifact, nil
}

// ModelHandle owns the predictor for one artifact path. The artifact is read
// on first use and then shared read-only; Reload swaps in a whole new
// predictor.
type ModelHandle struct {
	path      string
	modelType string
	opts      PredictorOptions
	logger    *zap.Logger

	mu      sync.Mutex
	current atomic.Pointer[Predictor]
	onLoad  func(*Predictor)
	onError func(error)
}

func NewModelHandle(path, modelType string, opts PredictorOptions, logger *zap.Logger) *ModelHandle {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ModelHandle{path: path, modelType: modelType, opts: opts, logger: logger}
}

// NewStaticHandle wraps an already built predictor. Reload is a no-op.
func NewStaticHandle(p *Predictor) *ModelHandle {
	h := &ModelHandle{logger: zap.NewNop()}
	h.current.Store(p)
	return h
}

// OnLoad registers a callback invoked after every successful load.
func (h *ModelHandle) OnLoad(fn func(*Predictor)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onLoad = fn
}

// OnLoadError registers a callback invoked after every failed load or reload.
func (h *ModelHandle) OnLoadError(fn func(error)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onError = fn
}

// Loaded reports whether a predictor is available without loading.
func (h *ModelHandle) Loaded() bool {
	return h.current.Load() != nil
}

// Predictor returns the current predictor, loading the artifact on first call.
func (h *ModelHandle) Predictor() (*Predictor, error) {
	if p := h.current.Load(); p != nil {
		return p, nil
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if p := h.current.Load(); p != nil {
		return p, nil
	}
	p, err := h.load()
	if err != nil {
		return nil, err
	}
	h.current.Store(p)
	return p, nil
}

// Predict implements ModelProvider.
func (h *ModelHandle) Predict(ctx context.Context, req PredictionRequest) (*Prediction, error) {
	p, err := h.Predictor()
	if err != nil {
		return nil, err
	}
	return p.Predict(ctx, req)
}

// Reload re-reads the artifact. On failure the previous predictor stays active.
func (h *ModelHandle) Reload() error {
	if h.path == "" {
		return nil
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	p, err := h.load()
	if err != nil {
		return err
	}
	h.current.Store(p)
	return nil
}

// Watch reloads the artifact whenever its file is replaced, until ctx ends.
// The parent directory is watched because SaveArtifact renames over the file.
func (h *ModelHandle) Watch(ctx context.Context) error {
	if h.path == "" {
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	dir := filepath.Dir(h.path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	target := filepath.Clean(h.path)
	h.logger.Info("watching model artifact", zap.String("path", target))

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target || event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if err := h.Reload(); err != nil {
				h.logger.Warn("model reload failed, keeping previous model", zap.Error(err))
				continue
			}
			h.logger.Info("model reloaded", zap.String("path", target))
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			h.logger.Warn("model watcher error", zap.Error(err))
		}
	}
}

func (h *ModelHandle) load() (*Predictor, error) {
	p, err := h.read()
	if err != nil {
		if h.onError != nil {
			h.onError(err)
		}
		return nil, err
	}
	if h.onLoad != nil {
		h.onLoad(p)
	}
	return p, nil
}

func (h *ModelHandle) read() (*Predictor, error) {
	if h.path == "" {
		return nil, fmt.Errorf("%w: no model path configured", ErrModelUnavailable)
	}
	artifact, err := LoadModel(h.modelType, h.path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrModelUnavailable, err)
	}
	p, err := NewPredictor(artifact, h.opts, h.logger)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrModelUnavailable, err)
	}
	h.logger.Info("model loaded",
		zap.String("path", h.path),
		zap.String("model_type", artifact.ModelType),
		zap.Int("trees", len(artifact.Forest.Trees)),
		zap.Strings("features", artifact.FeatureNames),
	)
	return p, nil
}
