// Package api exposes run triggers, reports and the account snapshot over HTTP.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/ignite/inboxbench/internal/config"
	"github.com/ignite/inboxbench/internal/metrics"
	"github.com/ignite/inboxbench/internal/report"
	"github.com/ignite/inboxbench/internal/snapshot"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server represents the API server
type Server struct {
	config   config.ServerConfig
	handlers *Handlers
	router   *chi.Mux
	server   *http.Server
}

// NewServer creates a new API server. store and archive may be nil; the
// endpoints backed by them then answer 503.
func NewServer(cfg config.ServerConfig, runs Runs, store snapshot.Store, archive report.Archive) *Server {
	h := NewHandlers(runs, store, archive)
	return &Server{
		config:   cfg,
		handlers: h,
		router:   SetupRoutes(h, cfg.AllowedOrigins),
	}
}

// SetupRoutes configures every route.
func SetupRoutes(h *Handlers, origins []string) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(metrics.Middleware)

	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", h.HealthCheck)
	r.Handle("/metrics", promhttp.Handler())

	r.Get("/reports/{workspace}", h.LatestReport)

	r.Route("/runs/{workspace}", func(r chi.Router) {
		r.Post("/", h.TriggerRun)
		r.Get("/latest", h.LatestRun)
	})

	r.Route("/accounts/{workspace}", func(r chi.Router) {
		r.Get("/", h.ListAccounts)
		r.Get("/volume", h.SendingVolume)
	})

	return r
}

// ListenAndServe starts the HTTP server
func (s *Server) ListenAndServe() error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.config.GetHost(), s.config.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 15 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Handler returns the HTTP handler for testing
func (s *Server) Handler() http.Handler {
	return s.router
}
