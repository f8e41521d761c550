// Package risk turns churn probabilities into business-facing figures.
package risk

import (
	"math"
	"strconv"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Level is the churn risk band of a probability.
type Level string

const (
	Low    Level = "Low"
	Medium Level = "Medium"
	High   Level = "High"
)

// Band edges. Intervals are half open: [0, MediumFrom), [MediumFrom, HighFrom), [HighFrom, 1].
const (
	MediumFrom = 0.35
	HighFrom   = 0.65
)

// Classify buckets a churn probability.
func Classify(p float64) Level {
	switch {
	case p < MediumFrom:
		return Low
	case p < HighFrom:
		return Medium
	default:
		return High
	}
}

// Label is the text shown next to the probability.
func (l Level) Label() string {
	return string(l) + " Risk"
}

// RevenueAtRisk is the expected revenue lost to churn.
func RevenueAtRisk(revenue, probability float64) float64 {
	return revenue * probability
}

// Percent converts a probability to a percentage rounded to two decimals.
func Percent(p float64) float64 {
	return math.Round(p*10000) / 100
}

var printer = message.NewPrinter(language.English)

// FormatCurrency renders a dollar amount with thousands separators and cents.
func FormatCurrency(v float64) string {
	if v < 0 {
		return "-$" + printer.Sprintf("%.2f", -v)
	}
	return "$" + printer.Sprintf("%.2f", v)
}

// FormatPercent renders a percentage value such as 34.57 as "34.57%".
func FormatPercent(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64) + "%"
}
