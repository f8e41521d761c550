package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"churnsight/db"
	"churnsight/ml"
	"churnsight/monitoring"
	"churnsight/scoring"
	"churnsight/session"

	"go.uber.org/zap"
)

// Handlers serves every route of the dashboard.
type Handlers struct {
	cfg         ServerConfig
	artifacts   ArtifactSource
	sessions    *session.Store
	hub         *monitoring.Hub
	predictions PredictionStore
	logger      *zap.Logger
	pages       *pageSet
}

// NewHandlers checks the dependencies and parses the page templates.
func NewHandlers(cfg ServerConfig, deps Deps) (*Handlers, error) {
	if deps.Artifacts == nil {
		return nil, errors.New("artifact source is required")
	}
	if deps.Sessions == nil {
		return nil, errors.New("session store is required")
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if cfg.CookieName == "" {
		cfg.CookieName = DefaultServerConfig().CookieName
	}
	if cfg.Dashboard.ExplainTop <= 0 {
		cfg.Dashboard.ExplainTop = DefaultServerConfig().Dashboard.ExplainTop
	}
	pages, err := loadPages()
	if err != nil {
		return nil, err
	}
	return &Handlers{
		cfg:         cfg,
		artifacts:   deps.Artifacts,
		sessions:    deps.Sessions,
		hub:         deps.Hub,
		predictions: deps.Predictions,
		logger:      deps.Logger,
		pages:       pages,
	}, nil
}

// Register adds the page and API routes to mux.
func (h *Handlers) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /{$}", h.withSession(h.handleDashboardPage))
	mux.HandleFunc("GET /predict", h.withSession(h.handlePredictPage))
	mux.HandleFunc("POST /predict", h.withSession(h.handlePredictSubmit))
	mux.HandleFunc("GET /explain", h.withSession(h.handleExplainPage))

	mux.HandleFunc("GET /api/health", h.handleHealth)
	mux.HandleFunc("GET /api/schema", h.handleSchema)
	mux.HandleFunc("GET /api/revenue-at-risk", h.handleRevenueAtRisk)
	mux.HandleFunc("GET /api/predictions/recent", h.handleRecentPredictions)
	mux.HandleFunc("POST /api/predict", h.withSession(h.handleAPIPredict))
	mux.HandleFunc("GET /api/explain", h.withSession(h.handleAPIExplain))
	mux.HandleFunc("GET /api/session/history", h.withSession(h.handleHistory))
	mux.HandleFunc("DELETE /api/session/history", h.withSession(h.handleResetHistory))
	mux.HandleFunc("GET /api/ws/dashboard", h.withSession(h.handleDashboardWS))
}

type sessionHandler func(w http.ResponseWriter, r *http.Request, s *session.Session)

// withSession resolves the visitor's session from its cookie, issuing a new
// cookie when the session is unknown or expired.
func (h *Handlers) withSession(next sessionHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var id string
		if c, err := r.Cookie(h.cfg.CookieName); err == nil {
			id = c.Value
		}
		s, created := h.sessions.GetOrCreate(id)
		if created {
			http.SetCookie(w, &http.Cookie{
				Name:     h.cfg.CookieName,
				Value:    s.ID,
				Path:     "/",
				HttpOnly: true,
				SameSite: http.SameSiteLaxMode,
			})
			h.logger.Debug("session created",
				zap.String("session_id", s.ID),
				zap.String("request_id", GetRequestID(r.Context())))
		}
		next(w, r, s)
	}
}

// predict scores input and records the outcome everywhere it is tracked:
// the session history, the prediction log and the live dashboard clients.
func (h *Handlers) predict(ctx context.Context, s *session.Session, input ml.CustomerInput) (*scoring.Result, error) {
	artifacts, err := h.artifacts.Current()
	if err != nil {
		return nil, err
	}
	res, err := scoring.Score(artifacts, input)
	if err != nil {
		return nil, err
	}

	p := session.Prediction{
		Probability:   res.Probability,
		Percent:       res.Percent,
		Level:         res.Level,
		RevenueAtRisk: res.RevenueAtRisk,
		Input:         input,
		CreatedAt:     time.Now().UTC(),
	}
	s.Record(p, res.Row, artifacts)

	if h.predictions != nil {
		rec := &db.PredictionRecord{
			SessionID:     s.ID,
			Probability:   res.Probability,
			RiskLevel:     string(res.Level),
			RevenueAtRisk: res.RevenueAtRisk,
			Sales:         input.Sales(),
			Region:        input.Selections[ml.GroupRegion],
			Subregion:     input.Selections[ml.GroupSubregion],
			Industry:      input.Selections[ml.GroupIndustry],
			Segment:       input.Selections[ml.GroupSegment],
			CreatedAt:     p.CreatedAt,
		}
		if err := h.predictions.Save(ctx, rec); err != nil {
			h.logger.Warn("failed to log prediction", zap.String("session_id", s.ID), zap.Error(err))
		}
	}

	if h.hub != nil {
		if d, ok := s.Distribution(); ok {
			if err := h.hub.PublishDistribution(s.ID, d); err != nil {
				h.logger.Warn("failed to publish distribution", zap.Error(err))
			}
		}
		if err := h.hub.Publish(s.ID, monitoring.PredictionMade, monitoring.PredictionUpdate{
			Probability:   res.Probability,
			Percent:       res.Percent,
			Level:         res.Level,
			RevenueAtRisk: res.RevenueAtRisk,
		}); err != nil {
			h.logger.Warn("failed to publish prediction", zap.Error(err))
		}
	}

	h.logger.Info("prediction served",
		zap.String("session_id", s.ID),
		zap.String("request_id", GetRequestID(ctx)),
		zap.Float64("probability", res.Probability),
		zap.String("level", string(res.Level)))
	return res, nil
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, ml.ErrUnknownCategory), errors.Is(err, ml.ErrUnknownFeature):
		return http.StatusBadRequest
	case errors.Is(err, ml.ErrModelNotLoaded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// respondJSON encodes before writing the status so an unencodable payload
// becomes a 500 instead of an empty 200.
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	payload, err := json.Marshal(data)
	if err != nil {
		zap.L().Error("failed to encode JSON response", zap.Error(err))
		status = http.StatusInternalServerError
		payload = []byte(`{"error":"internal server error"}`)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(append(payload, '\n'))
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
