// Package http serves the churn dashboard pages and its JSON API.
package http

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"churnsight/db"
	"churnsight/ml"
	"churnsight/monitoring"
	"churnsight/session"

	"go.uber.org/zap"
)

// ArtifactSource hands out the model currently used for scoring.
type ArtifactSource interface {
	Current() (*ml.Artifacts, error)
}

// PredictionStore persists predictions across sessions.
type PredictionStore interface {
	Save(ctx context.Context, rec *db.PredictionRecord) error
	Recent(ctx context.Context, limit int) ([]db.PredictionRecord, error)
	CountByLevel(ctx context.Context) (map[string]int, error)
}

// DashboardSettings are the fixed figures shown on the dashboard page.
type DashboardSettings struct {
	Title          string
	ModelAUC       float64
	DefaultRevenue float64
	DefaultChurn   int
	ExplainTop     int
}

// ServerConfig holds the listener and dashboard settings.
type ServerConfig struct {
	Port           int
	Timeout        time.Duration
	AllowedOrigins []string
	RateLimit      float64
	RateBurst      int
	CookieName     string
	Dashboard      DashboardSettings
}

// DefaultServerConfig matches config.Default.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Port:           8080,
		Timeout:        30 * time.Second,
		AllowedOrigins: []string{"*"},
		RateLimit:      20,
		RateBurst:      40,
		CookieName:     "churnsight_session",
		Dashboard: DashboardSettings{
			Title:          "SaaS Retention Intelligence",
			ModelAUC:       0.89,
			DefaultRevenue: 10000,
			DefaultChurn:   20,
			ExplainTop:     10,
		},
	}
}

// Deps are the collaborators the handlers need. Hub and Predictions are optional.
type Deps struct {
	Artifacts   ArtifactSource
	Sessions    *session.Store
	Hub         *monitoring.Hub
	Predictions PredictionStore
	Logger      *zap.Logger
}

// Server is the dashboard HTTP server.
type Server struct {
	server   *http.Server
	config   ServerConfig
	handlers *Handlers
	logger   *zap.Logger
}

// NewServer wires the routes and the middleware chain.
func NewServer(config ServerConfig, deps Deps) (*Server, error) {
	h, err := NewHandlers(config, deps)
	if err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	h.Register(mux)

	chain := Chain(
		RecoveryMiddleware(h.logger),
		LoggerMiddleware(h.logger),
		SecurityHeadersMiddleware,
		CORSMiddleware(config.AllowedOrigins),
		RateLimitMiddleware(config.RateLimit, config.RateBurst),
		TimeoutMiddleware(config.Timeout),
		RequestSizeMiddleware(1<<20),
	)

	return &Server{
		server: &http.Server{
			Addr:         fmt.Sprintf(":%d", config.Port),
			Handler:      chain(mux),
			ReadTimeout:  config.Timeout,
			WriteTimeout: config.Timeout,
			IdleTimeout:  120 * time.Second,
		},
		config:   config,
		handlers: h,
		logger:   h.logger,
	}, nil
}

// Handler returns the full handler chain.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start blocks serving on the configured port.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.server.Addr, err)
	}
	return s.Serve(ln)
}

// Serve blocks serving on ln.
func (s *Server) Serve(ln net.Listener) error {
	s.logger.Info("starting HTTP server",
		zap.String("addr", ln.Addr().String()),
		zap.String("dashboard_ws", "/api/ws/dashboard"))
	if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

// Stop drains in-flight requests for up to five seconds.
func (s *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s.logger.Info("shutting down HTTP server")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	return nil
}

// Addr is the configured listen address.
func (s *Server) Addr() string {
	return s.server.Addr
}
