package ml

import (
	"fmt"
	"math"
	"sort"
)

// Contribution is the share of the margin credited to one feature.
type Contribution struct {
	Feature string  `json:"feature"`
	Value   float64 `json:"value"`
	Effect  float64 `json:"effect"`
}

// Explanation decomposes one prediction: BaseValue + sum(Effects) == Margin.
type Explanation struct {
	BaseValue     float64        `json:"base_value"`
	Margin        float64        `json:"margin"`
	Probability   float64        `json:"probability"`
	Contributions []Contribution `json:"contributions"`
}

// Explain attributes the row's margin to its features by following each
// tree's decision path. Contributions are indexed like the row.
func (e *Ensemble) Explain(row []float64) (*Explanation, error) {
	effects := make([]float64, len(row))
	base := e.baseMargin
	for i := range e.trees {
		rootExpected, err := e.trees[i].attribute(row, effects)
		if err != nil {
			return nil, fmt.Errorf("tree %d: %w", i, err)
		}
		base += rootExpected
	}
	margin, err := e.Margin(row)
	if err != nil {
		return nil, err
	}

	contributions := make([]Contribution, len(row))
	for i := range row {
		contributions[i] = Contribution{Value: row[i], Effect: effects[i]}
	}
	return &Explanation{
		BaseValue:     base,
		Margin:        margin,
		Probability:   sigmoid(margin),
		Contributions: contributions,
	}, nil
}

// Named fills the feature names of the contributions from the schema.
func (x *Explanation) Named(schema *Schema) *Explanation {
	names := schema.Names()
	for i := range x.Contributions {
		if i < len(names) {
			x.Contributions[i].Feature = names[i]
		}
	}
	return x
}

// Top returns the n contributions with the largest absolute effect,
// dropping zero effects. Ties keep model order.
func (x *Explanation) Top(n int) []Contribution {
	ranked := make([]Contribution, 0, len(x.Contributions))
	for _, c := range x.Contributions {
		if c.Effect != 0 {
			ranked = append(ranked, c)
		}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return math.Abs(ranked[i].Effect) > math.Abs(ranked[j].Effect)
	})
	if n > 0 && len(ranked) > n {
		ranked = ranked[:n]
	}
	return ranked
}

// WaterfallStep is one bar of the waterfall view, from Start to End.
type WaterfallStep struct {
	Feature string  `json:"feature"`
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
}

// Waterfall walks from the base value through the top n effects. The
// remaining effects are folded into a final "other features" step.
func (x *Explanation) Waterfall(n int) []WaterfallStep {
	top := x.Top(n)
	steps := make([]WaterfallStep, 0, len(top)+1)
	current := x.BaseValue
	shown := 0.0
	for _, c := range top {
		steps = append(steps, WaterfallStep{Feature: c.Feature, Start: current, End: current + c.Effect})
		current += c.Effect
		shown += c.Effect
	}
	rest := x.Margin - x.BaseValue - shown
	if math.Abs(rest) > 1e-12 {
		steps = append(steps, WaterfallStep{Feature: "other features", Start: current, End: current + rest})
	}
	return steps
}
