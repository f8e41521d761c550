package ml

import (
	"fmt"
	"sort"
)

// CustomerInput is what the prediction form collects for one customer.
type CustomerInput struct {
	Numeric    map[string]float64 `json:"numeric"`
	Selections map[string]string  `json:"selections"`
}

// Sales returns the revenue figure used for revenue at risk.
func (c CustomerInput) Sales() float64 {
	return c.Numeric["Sales"]
}

// Align builds a row whose columns are exactly required, in that order.
// Names absent from values default to zero; extra keys in values are ignored.
func Align(required []string, values map[string]float64) []float64 {
	row := make([]float64, len(required))
	for i, name := range required {
		if v, ok := values[name]; ok {
			row[i] = v
		}
	}
	return row
}

// BuildInput turns form values into the sparse input record keyed by feature name.
// Numeric names outside the schema's numeric inputs are ErrUnknownFeature, and
// selections for a group the schema does not have are ErrUnknownCategory.
func BuildInput(schema *Schema, input CustomerInput) (map[string]float64, error) {
	numeric := schema.NumericFeatures()
	if err := checkNames(input.Numeric, numeric, ErrUnknownFeature); err != nil {
		return nil, err
	}
	groups := schema.Groups()
	groupNames := make([]string, 0, len(groups))
	for _, g := range groups {
		if len(g.Columns) > 0 {
			groupNames = append(groupNames, g.Name)
		}
	}
	if err := checkNames(input.Selections, groupNames, ErrUnknownCategory); err != nil {
		return nil, err
	}

	record := make(map[string]float64, schema.Len())
	for _, name := range numeric {
		record[name] = input.Numeric[name]
	}

	for _, group := range groups {
		selected, ok := input.Selections[group.Name]
		if ok && selected != "" && !group.Has(selected) {
			return nil, fmt.Errorf("%w: %s %q", ErrUnknownCategory, group.Name, selected)
		}
		target := group.Column(selected)
		for _, col := range group.Columns {
			if ok && col == target {
				record[col] = 1
			} else {
				record[col] = 0
			}
		}
	}
	return record, nil
}

// BuildRow is BuildInput followed by Align against the schema.
func BuildRow(schema *Schema, input CustomerInput) ([]float64, map[string]float64, error) {
	record, err := BuildInput(schema, input)
	if err != nil {
		return nil, nil, err
	}
	return Align(schema.Names(), record), record, nil
}

// checkNames reports every key of values missing from allowed, sorted.
func checkNames[V any](values map[string]V, allowed []string, sentinel error) error {
	known := make(map[string]bool, len(allowed))
	for _, name := range allowed {
		known[name] = true
	}
	var unknown []string
	for name := range values {
		if !known[name] {
			unknown = append(unknown, name)
		}
	}
	if len(unknown) == 0 {
		return nil
	}
	sort.Strings(unknown)
	return fmt.Errorf("%w %q, expected one of %q", sentinel, unknown, allowed)
}
