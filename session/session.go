// Package session keeps the per-visitor dashboard state between requests.
package session

import (
	"sync"
	"time"

	"churnsight/ml"
	"churnsight/risk"

	"github.com/google/uuid"
)

// Prediction is the outcome of one scored customer.
type Prediction struct {
	Probability   float64          `json:"probability"`
	Percent       float64          `json:"percent"`
	Level         risk.Level       `json:"level"`
	RevenueAtRisk float64          `json:"revenue_at_risk"`
	Input         ml.CustomerInput `json:"input"`
	CreatedAt     time.Time        `json:"created_at"`
}

// Session is the state of one visitor. History is append only.
type Session struct {
	ID        string
	CreatedAt time.Time

	mu          sync.Mutex
	predictions []float64
	last        *Prediction
	lastRow     []float64
	artifacts   *ml.Artifacts
}

// New returns an empty session.
func New(id string) *Session {
	return &Session{ID: id, CreatedAt: time.Now()}
}

// NewID returns a fresh random session identifier.
func NewID() string {
	return uuid.NewString()
}

// Record appends the prediction to the history and remembers the row and
// the artifacts that produced it for the explanation page.
func (s *Session) Record(p Prediction, row []float64, artifacts *ml.Artifacts) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.predictions = append(s.predictions, p.Probability)
	s.last = &p
	s.lastRow = append([]float64(nil), row...)
	s.artifacts = artifacts
}

// Predictions returns a copy of the probability history.
func (s *Session) Predictions() []float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]float64(nil), s.predictions...)
}

// Len is the number of predictions in the history.
func (s *Session) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.predictions)
}

// Distribution buckets the history. ok is false when nothing was predicted yet.
func (s *Session) Distribution() (d risk.Distribution, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.predictions) == 0 {
		return risk.Distribution{}, false
	}
	return risk.Distribute(s.predictions), true
}

// Last returns the latest prediction with its aligned row and artifacts.
func (s *Session) Last() (*Prediction, []float64, *ml.Artifacts, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return nil, nil, nil, false
	}
	p := *s.last
	return &p, append([]float64(nil), s.lastRow...), s.artifacts, true
}

// Reset clears the history and the remembered input.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.predictions = nil
	s.last = nil
	s.lastRow = nil
	s.artifacts = nil
}
