// Package core provides the daemon-mode ops HTTP chassis for the delivery
// worker. It exposes liveness and introspection endpoints (health probes,
// current watermark, build info) on a chi router. It is not mounted in
// Lambda mode, where the platform owns process health.
package core

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/go-chi/chi/v5"

	"orderpulse/internal/config"
	"orderpulse/internal/watermark"
)

// Server encapsulates the ops endpoints and their dependencies.
type Server struct {
	Config       *config.Config
	Logger       *slog.Logger
	HealthProbes []HealthProbe
	Watermark    watermark.Store

	router *chi.Mux
}

// NewServer initializes the ops server and mounts its routes.
func NewServer(cfg *config.Config, logger *slog.Logger, store watermark.Store, probes ...HealthProbe) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		Config:       cfg,
		Logger:       logger,
		HealthProbes: probes,
		Watermark:    store,
		router:       chi.NewRouter(),
	}
	s.mountRoutes()
	return s, nil
}

// Handler returns the http.Handler for the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) mountRoutes() {
	s.router.Use(s.recoverer)

	s.router.Get("/health", s.HandleHealth)
	s.router.Get("/internal/watermark", s.HandleWatermark)
	s.router.Get("/internal/build", s.HandleBuild)
}

// recoverer catches handler panics and converts them to 500 responses so a
// broken probe cannot take the ops listener down.
func (s *Server) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.Logger.ErrorContext(r.Context(), "ops handler panic",
					"path", r.URL.Path,
					"panic", rec,
					"stack", string(debug.Stack()),
				)
				writeJSON(w, http.StatusInternalServerError, map[string]string{
					"error": "internal error",
				})
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// HandleWatermark reports the durable delivery cursor. Useful when diagnosing
// missed or duplicated notifications.
func (s *Server) HandleWatermark(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	value, err := s.Watermark.Read(ctx)
	if err != nil {
		s.Logger.ErrorContext(r.Context(), "watermark read failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "watermark store unavailable",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]int64{"last_processed_id": value})
}

// HandleBuild reports build metadata and run mode.
func (s *Server) HandleBuild(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"service":    s.Config.Service,
		"version":    s.Config.Build.Version,
		"commit":     s.Config.Build.Commit,
		"build_time": s.Config.Build.BuildTime,
		"run_mode":   s.Config.RunMode,
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
