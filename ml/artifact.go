package ml

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/klauspost/compress/zstd"
)

// ArtifactFormat identifies the on-disk model layout.
const ArtifactFormat = "rainguard/forest"

// Model types accepted in configuration and recorded on artifacts.
const (
	ModelTypeRandomForest = "random_forest"
	ModelTypeDecisionTree = "decision_tree"
)

// ErrInvalidArtifact is returned when a model file cannot be used.
var ErrInvalidArtifact = errors.New("invalid model artifact")

// Artifact is the persisted result of a training run: the trained ensemble
// together with the feature order and class table it was trained with.
type Artifact struct {
	Format       string        `json:"format"`
	ModelType    string        `json:"model_type"`
	FeatureNames []string      `json:"feature_names"`
	Classes      []string      `json:"classes"`
	Forest       *RandomForest `json:"forest"`
	NEstimators  int           `json:"n_estimators"`
	Seed         int64         `json:"seed"`
	TrainedAt    time.Time     `json:"trained_at"`
	TrainRows    int           `json:"train_rows"`
}

// Validate checks that the artifact is complete and uses the current class table.
func (a *Artifact) Validate() error {
	if a.Format != ArtifactFormat {
		return fmt.Errorf("%w: format %q", ErrInvalidArtifact, a.Format)
	}
	if !slices.Equal(a.Classes, ClassNames()) {
		return fmt.Errorf("%w: class table %v does not match %v", ErrInvalidArtifact, a.Classes, ClassNames())
	}
	if len(a.FeatureNames) == 0 {
		return fmt.Errorf("%w: no feature names", ErrInvalidArtifact)
	}
	known := RequestFields()
	for _, name := range a.FeatureNames {
		if !slices.Contains(known, name) {
			return fmt.Errorf("%w: unknown feature %q", ErrInvalidArtifact, name)
		}
	}
	if a.Forest == nil || len(a.Forest.Trees) == 0 {
		return fmt.Errorf("%w: no trees", ErrInvalidArtifact)
	}
	for i, tree := range a.Forest.Trees {
		if tree == nil || len(tree.Nodes) == 0 {
			return fmt.Errorf("%w: tree %d is empty", ErrInvalidArtifact, i)
		}
		if tree.NumFeatures != len(a.FeatureNames) {
			return fmt.Errorf("%w: tree %d expects %d features, artifact lists %d",
				ErrInvalidArtifact, i, tree.NumFeatures, len(a.FeatureNames))
		}
	}
	return nil
}

// SaveArtifact writes the artifact as zstd-compressed JSON. The file is
// replaced atomically so readers never observe a partial model.
func SaveArtifact(path string, a *Artifact) error {
	if err := a.Validate(); err != nil {
		return err
	}
	payload, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("encode artifact: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	enc, err := zstd.NewWriter(tmp)
	if err != nil {
		tmp.Close()
		return err
	}
	if _, err := enc.Write(payload); err != nil {
		enc.Close()
		tmp.Close()
		return fmt.Errorf("compress artifact: %w", err)
	}
	if err := enc.Close(); err != nil {
		tmp.Close()
		return fmt.Errorf("compress artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// LoadArtifact reads and validates a model file written by SaveArtifact.
func LoadArtifact(path string) (*Artifact, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArtifact, err)
	}
	defer dec.Close()

	var a Artifact
	if err := json.NewDecoder(dec).Decode(&a); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArtifact, err)
	}
	if err := a.Validate(); err != nil {
		return nil, err
	}
	return &a, nil
}
