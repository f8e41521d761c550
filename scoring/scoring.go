// Package scoring runs one customer through the loaded model.
package scoring

import (
	"fmt"

	"churnsight/ml"
	"churnsight/risk"
)

// Result is a scored customer.
type Result struct {
	Probability   float64            `json:"probability"`
	Percent       float64            `json:"percent"`
	Level         risk.Level         `json:"level"`
	RevenueAtRisk float64            `json:"revenue_at_risk"`
	Row           []float64          `json:"-"`
	Record        map[string]float64 `json:"-"`
}

// Score builds the aligned row for input and asks the model for the churn
// probability. Revenue at risk uses the customer's Sales figure.
func Score(artifacts *ml.Artifacts, input ml.CustomerInput) (*Result, error) {
	if artifacts == nil || artifacts.Model == nil || artifacts.Schema == nil {
		return nil, ml.ErrModelNotLoaded
	}
	row, record, err := ml.BuildRow(artifacts.Schema, input)
	if err != nil {
		return nil, err
	}
	p, err := artifacts.Model.PredictProba(row)
	if err != nil {
		return nil, fmt.Errorf("predict: %w", err)
	}
	return &Result{
		Probability:   p,
		Percent:       risk.Percent(p),
		Level:         risk.Classify(p),
		RevenueAtRisk: risk.RevenueAtRisk(input.Sales(), p),
		Row:           row,
		Record:        record,
	}, nil
}

// Explain attributes a previously scored row, naming features from the schema.
func Explain(artifacts *ml.Artifacts, row []float64) (*ml.Explanation, error) {
	if artifacts == nil || artifacts.Model == nil || artifacts.Schema == nil {
		return nil, ml.ErrModelNotLoaded
	}
	if len(row) != artifacts.Schema.Len() {
		return nil, fmt.Errorf("%w: row has %d columns, schema %d", ml.ErrSchemaMismatch, len(row), artifacts.Schema.Len())
	}
	x, err := artifacts.Model.Explain(row)
	if err != nil {
		return nil, err
	}
	return x.Named(artifacts.Schema), nil
}
