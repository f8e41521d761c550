package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"churnsight/ml"
	"churnsight/risk"
	"churnsight/scoring"
	"churnsight/session"
)

const (
	defaultRecentLimit = 50
	maxRecentLimit     = 500
)

type groupView struct {
	Name    string   `json:"name"`
	Options []string `json:"options"`
}

type predictionResponse struct {
	Probability          float64    `json:"probability"`
	Percent              float64    `json:"percent"`
	Level                risk.Level `json:"level"`
	Label                string     `json:"label"`
	RevenueAtRisk        float64    `json:"revenue_at_risk"`
	RevenueAtRiskDisplay string     `json:"revenue_at_risk_display"`
	SessionPredictions   int        `json:"session_predictions"`
}

type explanationResponse struct {
	Probability   float64            `json:"probability"`
	Level         risk.Level         `json:"level"`
	BaseValue     float64            `json:"base_value"`
	Margin        float64            `json:"margin"`
	Contributions []ml.Contribution  `json:"contributions"`
	Waterfall     []ml.WaterfallStep `json:"waterfall"`
}

type historyResponse struct {
	Predictions  []float64         `json:"predictions"`
	Count        int               `json:"count"`
	Distribution risk.Distribution `json:"distribution"`
	Slices       []risk.Slice      `json:"slices"`
	IsDefault    bool              `json:"is_default"`
}

func (h *Handlers) handleHealth(w http.ResponseWriter, r *http.Request) {
	artifacts, err := h.artifacts.Current()
	if err != nil {
		respondJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"status": "degraded",
			"model":  err.Error(),
		})
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":          "ok",
		"features":        artifacts.Schema.Len(),
		"model_loaded_at": artifacts.LoadedAt,
		"sessions":        h.sessions.Len(),
	})
}

func (h *Handlers) handleSchema(w http.ResponseWriter, r *http.Request) {
	artifacts, err := h.artifacts.Current()
	if err != nil {
		respondError(w, statusFor(err), err.Error())
		return
	}
	groups := make([]groupView, 0, 4)
	for _, g := range artifacts.Schema.Groups() {
		if len(g.Columns) == 0 {
			continue
		}
		groups = append(groups, groupView{Name: g.Name, Options: g.Options()})
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"features": artifacts.Schema.Names(),
		"numeric":  artifacts.Schema.NumericFeatures(),
		"groups":   groups,
	})
}

func (h *Handlers) handleAPIPredict(w http.ResponseWriter, r *http.Request, s *session.Session) {
	var input ml.CustomerInput
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&input); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	res, err := h.predict(r.Context(), s, input)
	if err != nil {
		respondError(w, statusFor(err), err.Error())
		return
	}
	respondJSON(w, http.StatusOK, predictionResponse{
		Probability:          res.Probability,
		Percent:              res.Percent,
		Level:                res.Level,
		Label:                res.Level.Label(),
		RevenueAtRisk:        res.RevenueAtRisk,
		RevenueAtRiskDisplay: risk.FormatCurrency(res.RevenueAtRisk),
		SessionPredictions:   s.Len(),
	})
}

func (h *Handlers) handleAPIExplain(w http.ResponseWriter, r *http.Request, s *session.Session) {
	top := h.cfg.Dashboard.ExplainTop
	if raw := r.URL.Query().Get("top"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			respondError(w, http.StatusBadRequest, "top must be a non-negative integer")
			return
		}
		top = n
	}

	last, row, artifacts, ok := s.Last()
	if !ok {
		respondError(w, http.StatusNotFound, "no prediction in this session yet")
		return
	}
	x, err := scoring.Explain(artifacts, row)
	if err != nil {
		respondError(w, statusFor(err), err.Error())
		return
	}
	respondJSON(w, http.StatusOK, explanationResponse{
		Probability:   last.Probability,
		Level:         last.Level,
		BaseValue:     x.BaseValue,
		Margin:        x.Margin,
		Contributions: x.Top(top),
		Waterfall:     x.Waterfall(top),
	})
}

func (h *Handlers) handleHistory(w http.ResponseWriter, r *http.Request, s *session.Session) {
	predictions := s.Predictions()
	d, ok := s.Distribution()
	if !ok {
		d = risk.DefaultDistribution
	}
	respondJSON(w, http.StatusOK, historyResponse{
		Predictions:  predictions,
		Count:        len(predictions),
		Distribution: d,
		Slices:       d.Slices(),
		IsDefault:    !ok,
	})
}

func (h *Handlers) handleResetHistory(w http.ResponseWriter, r *http.Request, s *session.Session) {
	s.Reset()
	w.WriteHeader(http.StatusNoContent)
}

// revenueQuery reads the calculator inputs, falling back to the configured defaults.
func (h *Handlers) revenueQuery(r *http.Request) (revenue float64, churn int, err error) {
	revenue = h.cfg.Dashboard.DefaultRevenue
	churn = h.cfg.Dashboard.DefaultChurn
	q := r.URL.Query()
	if raw := q.Get("revenue"); raw != "" {
		revenue, err = strconv.ParseFloat(raw, 64)
		if err != nil || math.IsNaN(revenue) || math.IsInf(revenue, 0) {
			return 0, 0, errors.New("revenue must be a number")
		}
		if revenue < 0 {
			return 0, 0, errors.New("revenue must not be negative")
		}
	}
	if raw := q.Get("churn"); raw != "" {
		churn, err = strconv.Atoi(raw)
		if err != nil {
			return 0, 0, errors.New("churn must be an integer percentage")
		}
	}
	if churn < 0 || churn > 100 {
		return 0, 0, fmt.Errorf("churn must be between 0 and 100, got %d", churn)
	}
	return revenue, churn, nil
}

func (h *Handlers) handleRevenueAtRisk(w http.ResponseWriter, r *http.Request) {
	revenue, churn, err := h.revenueQuery(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	atRisk := risk.RevenueAtRisk(revenue, float64(churn)/100)
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"revenue":         revenue,
		"churn_percent":   churn,
		"revenue_at_risk": atRisk,
		"display":         risk.FormatCurrency(atRisk),
	})
}

func (h *Handlers) handleRecentPredictions(w http.ResponseWriter, r *http.Request) {
	if h.predictions == nil {
		respondError(w, http.StatusNotFound, "prediction log is disabled")
		return
	}
	limit := defaultRecentLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxRecentLimit)
	}
	records, err := h.predictions.Recent(r.Context(), limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	byLevel, err := h.predictions.CountByLevel(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"predictions": records,
		"count":       len(records),
		"by_level":    byLevel,
		"timestamp":   time.Now(),
	})
}

func (h *Handlers) handleDashboardWS(w http.ResponseWriter, r *http.Request, s *session.Session) {
	if h.hub == nil {
		respondError(w, http.StatusNotFound, "live updates are disabled")
		return
	}
	// The upgrade writes its own response, so a freshly issued cookie has to
	// travel in the upgrade headers.
	var header http.Header
	if cookies := w.Header().Values("Set-Cookie"); len(cookies) > 0 {
		header = http.Header{"Set-Cookie": cookies}
	}
	h.hub.ServeSession(w, r, s.ID, header)
}
