package ml

import (
	"errors"
	"math/rand"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestAlignOrderAndPadding(t *testing.T) {
	required := []string{"b", "a", "c", "d"}
	values := map[string]float64{"a": 1.5, "c": -2, "extra": 9}

	got := Align(required, values)
	want := []float64{0, 1.5, -2, 0}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("aligned row mismatch (-want +got):\n%s", diff)
	}
}

func TestAlignRandomInputs(t *testing.T) {
	rnd := rand.New(rand.NewSource(7))
	for iter := 0; iter < 200; iter++ {
		n := rnd.Intn(30)
		required := make([]string, n)
		values := make(map[string]float64)
		for i := range required {
			required[i] = "f" + strings.Repeat("x", i)
			if rnd.Intn(2) == 0 {
				values[required[i]] = rnd.NormFloat64()
			}
		}
		row := Align(required, values)
		if len(row) != len(required) {
			t.Fatalf("expected %d columns, got %d", len(required), len(row))
		}
		for i, name := range required {
			want, ok := values[name]
			if !ok {
				want = 0
			}
			if row[i] != want {
				t.Fatalf("column %s: expected %v, got %v", name, want, row[i])
			}
		}
	}
}

func TestBuildInputOneHot(t *testing.T) {
	schema := loadTestSchema(t)
	input := CustomerInput{
		Numeric: map[string]float64{"Sales": 10000, "Quantity": 3, "Discount": 0.2, "Profit": 120, "risk_score": 0.7},
		Selections: map[string]string{
			GroupRegion:    "EMEA",
			GroupSubregion: "UKIR",
			GroupIndustry:  "Finance",
			GroupSegment:   "SMB",
		},
	}

	record, err := BuildInput(schema, input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(record) != schema.Len() {
		t.Fatalf("expected %d entries, got %d", schema.Len(), len(record))
	}
	for _, g := range schema.Groups() {
		ones := 0
		for _, col := range g.Columns {
			switch record[col] {
			case 1:
				ones++
				if col != g.Column(input.Selections[g.Name]) {
					t.Fatalf("unexpected indicator %s set", col)
				}
			case 0:
			default:
				t.Fatalf("indicator %s has value %v", col, record[col])
			}
		}
		if ones != 1 {
			t.Fatalf("group %s: expected exactly one indicator, got %d", g.Name, ones)
		}
	}
	if record["Sales"] != 10000 || record["risk_score"] != 0.7 {
		t.Fatalf("numeric inputs not copied: %+v", record)
	}
}

func TestBuildInputEveryOption(t *testing.T) {
	schema := loadTestSchema(t)
	for _, g := range schema.Groups() {
		for _, option := range g.Options() {
			record, err := BuildInput(schema, CustomerInput{Selections: map[string]string{g.Name: option}})
			if err != nil {
				t.Fatalf("%s=%s: %v", g.Name, option, err)
			}
			sum := 0.0
			for _, col := range g.Columns {
				sum += record[col]
			}
			if sum != 1 || record[g.Column(option)] != 1 {
				t.Fatalf("%s=%s: expected a single indicator", g.Name, option)
			}
		}
	}
}

func TestBuildInputUnknownCategory(t *testing.T) {
	schema := loadTestSchema(t)
	_, err := BuildInput(schema, CustomerInput{Selections: map[string]string{GroupRegion: "Mars"}})
	if !errors.Is(err, ErrUnknownCategory) {
		t.Fatalf("expected ErrUnknownCategory, got %v", err)
	}
}

func TestBuildInputMissingSelectionLeavesGroupZero(t *testing.T) {
	schema := loadTestSchema(t)
	record, err := BuildInput(schema, CustomerInput{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, name := range schema.Names() {
		if record[name] != 0 {
			t.Fatalf("expected %s to be zero, got %v", name, record[name])
		}
	}
}

func TestBuildRowMatchesSchemaOrder(t *testing.T) {
	schema := loadTestSchema(t)
	row, record, err := BuildRow(schema, CustomerInput{
		Numeric:    map[string]float64{"Sales": 5, "Profit": -1},
		Selections: map[string]string{GroupSegment: "Strategic"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if diff := cmp.Diff(Align(schema.Names(), record), row); diff != "" {
		t.Fatalf("row mismatch (-want +got):\n%s", diff)
	}
	idx, _ := schema.Index("Segment_Strategic")
	if row[idx] != 1 {
		t.Fatalf("expected Segment_Strategic set")
	}
	idx, _ = schema.Index("Profit")
	if row[idx] != -1 {
		t.Fatalf("expected Profit -1, got %v", row[idx])
	}
}

func TestBuildInputRejectsUnknownNames(t *testing.T) {
	schema := loadTestSchema(t)

	_, err := BuildInput(schema, CustomerInput{Numeric: map[string]float64{"sales": 500, "Risk_Score": 0.8}})
	if !errors.Is(err, ErrUnknownFeature) {
		t.Fatalf("expected ErrUnknownFeature, got %v", err)
	}
	if !strings.Contains(err.Error(), `"Risk_Score" "sales"`) {
		t.Fatalf("error should name the unknown features in order: %v", err)
	}

	_, err = BuildInput(schema, CustomerInput{Selections: map[string]string{"Segmnt": "SMB"}})
	if !errors.Is(err, ErrUnknownCategory) {
		t.Fatalf("expected ErrUnknownCategory, got %v", err)
	}
}
