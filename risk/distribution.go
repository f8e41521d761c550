package risk

import "math"

// Distribution counts predictions per risk level.
type Distribution struct {
	Low    int `json:"low"`
	Medium int `json:"medium"`
	High   int `json:"high"`
}

// DefaultDistribution is shown before a session has made any prediction.
var DefaultDistribution = Distribution{Low: 50, Medium: 30, High: 20}

// Distribute buckets every probability.
func Distribute(probabilities []float64) Distribution {
	var d Distribution
	for _, p := range probabilities {
		d.Add(p)
	}
	return d
}

// Add counts one probability in its band.
func (d *Distribution) Add(p float64) {
	switch Classify(p) {
	case Low:
		d.Low++
	case Medium:
		d.Medium++
	default:
		d.High++
	}
}

// Total is the number of counted predictions.
func (d Distribution) Total() int {
	return d.Low + d.Medium + d.High
}

// Slice is one pie chart segment.
type Slice struct {
	Level Level   `json:"level"`
	Label string  `json:"label"`
	Count int     `json:"count"`
	Share float64 `json:"share"`
}

// Slices returns the pie segments with shares in percent, rounded to one decimal.
func (d Distribution) Slices() []Slice {
	total := d.Total()
	slices := []Slice{
		{Level: Low, Count: d.Low},
		{Level: Medium, Count: d.Medium},
		{Level: High, Count: d.High},
	}
	for i := range slices {
		slices[i].Label = slices[i].Level.Label()
		if total > 0 {
			slices[i].Share = roundTo(float64(slices[i].Count)*100/float64(total), 1)
		}
	}
	return slices
}

func roundTo(v float64, decimals int) float64 {
	scale := math.Pow(10, float64(decimals))
	return math.Round(v*scale) / scale
}
