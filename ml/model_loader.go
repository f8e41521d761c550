package ml

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// LoadModel reads a model file of the given type. "gbtree" is the only type.
func LoadModel(modelType, path string) (Model, error) {
	switch modelType {
	case "gbtree", "":
		return LoadEnsemble(path)
	default:
		return nil, errors.New("unsupported model type")
	}
}

// Artifacts is a model together with the feature list it was trained on.
type Artifacts struct {
	Schema   *Schema
	Model    Model
	LoadedAt time.Time
}

// LoadArtifacts reads both files and refuses a model that does not fit the schema.
func LoadArtifacts(modelType, modelPath, featuresPath string) (*Artifacts, error) {
	schema, err := LoadSchema(featuresPath)
	if err != nil {
		return nil, fmt.Errorf("load feature list: %w", err)
	}
	model, err := LoadModel(modelType, modelPath)
	if err != nil {
		return nil, fmt.Errorf("load model: %w", err)
	}
	if err := model.Validate(schema.Len()); err != nil {
		return nil, err
	}
	return &Artifacts{Schema: schema, Model: model, LoadedAt: time.Now()}, nil
}

// Registry holds the artifacts currently used for scoring. Swaps are atomic
// so a reload never mixes an old schema with a new model.
type Registry struct {
	modelType    string
	modelPath    string
	featuresPath string
	numeric      []string
	current      atomic.Pointer[Artifacts]
	logger       *zap.Logger
}

// NewRegistry returns an empty registry; call Load before serving.
func NewRegistry(modelType, modelPath, featuresPath string, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		modelType:    modelType,
		modelPath:    modelPath,
		featuresPath: featuresPath,
		logger:       logger,
	}
}

// SetNumericFeatures sets the typed inputs applied to every loaded schema.
func (r *Registry) SetNumericFeatures(names []string) {
	r.numeric = append([]string(nil), names...)
}

// Load reads the artifacts and makes them current.
func (r *Registry) Load() error {
	artifacts, err := LoadArtifacts(r.modelType, r.modelPath, r.featuresPath)
	if err != nil {
		return err
	}
	if len(r.numeric) > 0 {
		artifacts.Schema.SetNumericFeatures(r.numeric)
	}
	r.current.Store(artifacts)
	r.logger.Info("model artifacts loaded",
		zap.String("model", r.modelPath),
		zap.String("features", r.featuresPath),
		zap.Int("feature_count", artifacts.Schema.Len()))
	return nil
}

// Reload is Load that keeps the previous artifacts when the new ones are broken.
func (r *Registry) Reload() error {
	if err := r.Load(); err != nil {
		r.logger.Warn("model reload failed, keeping previous artifacts", zap.Error(err))
		return err
	}
	return nil
}

// Current returns the live artifacts, or ErrModelNotLoaded before the first Load.
func (r *Registry) Current() (*Artifacts, error) {
	artifacts := r.current.Load()
	if artifacts == nil {
		return nil, ErrModelNotLoaded
	}
	return artifacts, nil
}

// Paths returns the watched artifact files.
func (r *Registry) Paths() []string {
	return []string{r.modelPath, r.featuresPath}
}
