package ml

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// Group prefixes used by the exported one-hot columns.
const (
	RegionPrefix    = "Region_"
	SubregionPrefix = "Subregion_"
	IndustryPrefix  = "Industry_"
	SegmentPrefix   = "Segment_"
)

// Group names in the order the prediction form shows them.
const (
	GroupRegion    = "Region"
	GroupSubregion = "Subregion"
	GroupIndustry  = "Industry"
	GroupSegment   = "Segment"
)

var groupPrefixes = []struct {
	name   string
	prefix string
}{
	{GroupRegion, RegionPrefix},
	{GroupSubregion, SubregionPrefix},
	{GroupIndustry, IndustryPrefix},
	{GroupSegment, SegmentPrefix},
}

// DefaultNumericFeatures are the directly typed customer inputs.
func DefaultNumericFeatures() []string {
	return []string{"Sales", "Quantity", "Discount", "Profit", "risk_score"}
}

// Schema is the ordered list of feature names the model was trained on.
type Schema struct {
	names   []string
	index   map[string]int
	numeric []string
}

// Group is a family of mutually exclusive indicator columns.
type Group struct {
	Name    string   `json:"name"`
	Prefix  string   `json:"prefix"`
	Columns []string `json:"columns"`
}

// Options returns the category labels of the group, in model order.
func (g Group) Options() []string {
	options := make([]string, len(g.Columns))
	for i, col := range g.Columns {
		options[i] = strings.TrimPrefix(col, g.Prefix)
	}
	return options
}

// Column returns the indicator column for a category label.
func (g Group) Column(option string) string {
	return g.Prefix + option
}

// Has reports whether the category label belongs to the group.
func (g Group) Has(option string) bool {
	col := g.Column(option)
	for _, c := range g.Columns {
		if c == col {
			return true
		}
	}
	return false
}

// NewSchema builds a schema from the ordered feature names. Names must be
// non-empty and unique.
func NewSchema(names []string) (*Schema, error) {
	if len(names) == 0 {
		return nil, ErrEmptySchema
	}
	index := make(map[string]int, len(names))
	for i, name := range names {
		if name == "" {
			return nil, fmt.Errorf("feature %d has an empty name", i)
		}
		if _, dup := index[name]; dup {
			return nil, fmt.Errorf("duplicate feature name %q", name)
		}
		index[name] = i
	}
	return &Schema{
		names:   append([]string(nil), names...),
		index:   index,
		numeric: DefaultNumericFeatures(),
	}, nil
}

// LoadSchema reads the ordered feature list exported next to the model.
func LoadSchema(path string) (*Schema, error) {
	payload, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var names []string
	if err := json.Unmarshal(payload, &names); err != nil {
		return nil, fmt.Errorf("parse feature list %s: %w", path, err)
	}
	return NewSchema(names)
}

// Names returns a copy of the feature names in model order.
func (s *Schema) Names() []string {
	return append([]string(nil), s.names...)
}

// Len is the width of an aligned row.
func (s *Schema) Len() int {
	return len(s.names)
}

// Index returns the column of a feature in model order.
func (s *Schema) Index(name string) (int, bool) {
	idx, ok := s.index[name]
	return idx, ok
}

// SetNumericFeatures overrides the list of typed inputs shown on the form.
func (s *Schema) SetNumericFeatures(names []string) {
	s.numeric = append([]string(nil), names...)
}

// NumericFeatures returns the typed inputs.
func (s *Schema) NumericFeatures() []string {
	return append([]string(nil), s.numeric...)
}

// Groups discovers the one-hot groups by column prefix.
func (s *Schema) Groups() []Group {
	groups := make([]Group, 0, len(groupPrefixes))
	for _, gp := range groupPrefixes {
		g := Group{Name: gp.name, Prefix: gp.prefix}
		for _, name := range s.names {
			if strings.HasPrefix(name, gp.prefix) {
				g.Columns = append(g.Columns, name)
			}
		}
		groups = append(groups, g)
	}
	return groups
}

// Group looks up a one-hot group by name.
func (s *Schema) Group(name string) (Group, bool) {
	for _, g := range s.Groups() {
		if g.Name == name {
			return g, true
		}
	}
	return Group{}, false
}
