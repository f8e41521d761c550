package ml

import "errors"

// Errors returned while loading artifacts and building input rows.
var (
	ErrModelNotLoaded  = errors.New("model not loaded")
	ErrSchemaMismatch  = errors.New("model does not match feature schema")
	ErrEmptySchema     = errors.New("feature schema is empty")
	ErrUnknownCategory = errors.New("unknown category")
	ErrUnknownFeature  = errors.New("unknown feature")
)

// Classifier scores a single aligned feature row.
type Classifier interface {
	// PredictProba returns the probability of the positive (churn) class.
	PredictProba(row []float64) (float64, error)
}

// Explainer attributes a prediction to the features of the row.
type Explainer interface {
	Explain(row []float64) (*Explanation, error)
}

// Model is what the dashboard needs from a loaded artifact.
type Model interface {
	Classifier
	Explainer
	Validate(featureCount int) error
}
