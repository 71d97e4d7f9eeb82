// Package server provides the operational HTTP listener: health probes
// and Prometheus metrics.
package server

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/pendergraft/verifactory/internal/config"
	"github.com/pendergraft/verifactory/internal/middleware/logging"
	"github.com/pendergraft/verifactory/internal/observability/metrics"
)

// Server is the ops HTTP server
type Server struct {
	cfg    *config.Config
	logger *slog.Logger
	router *chi.Mux
}

// New creates a new ops server
func New(cfg *config.Config, logger *slog.Logger) *Server {
	s := &Server{
		cfg:    cfg,
		logger: logger,
		router: chi.NewRouter(),
	}

	s.router.Use(middleware.RequestID)
	s.router.Use(logging.Middleware(logger))
	s.router.Use(metrics.Middleware)
	s.router.Use(middleware.Recoverer)

	s.router.Get("/health", s.handleHealth)
	s.router.Get("/healthz", s.handleHealth)
	s.router.Get("/readyz", s.handleHealth)
	s.router.Handle("/metrics", metrics.Handler())

	return s
}

// Handler returns the HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
