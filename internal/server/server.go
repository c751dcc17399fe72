// Package server exposes the HTTP surface: webhook endpoints per
// provider, a generic by-integration endpoint, and a small build API.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/docharbor/docharbor/internal/queue"
	"github.com/docharbor/docharbor/internal/store"
	"github.com/docharbor/docharbor/internal/webhook"
)

// Options wires the server's collaborators.
type Options struct {
	Addr       string
	Store      *store.Store
	Dispatcher *webhook.Dispatcher
	Processor  *webhook.Processor
	Queue      *queue.Queue

	// MetricsHandler serves GET /metrics when set.
	MetricsHandler http.Handler
}

// Server is the HTTP server.
type Server struct {
	opts   Options
	router *chi.Mux
	server *http.Server
}

func New(opts Options) *Server {
	s := &Server{
		opts:   opts,
		router: chi.NewRouter(),
	}
	s.setupRoutes()
	s.server = &http.Server{
		Addr:         opts.Addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(30 * time.Second))

	s.router.Get("/healthz", s.handleHealth)
	if s.opts.MetricsHandler != nil {
		s.router.Method(http.MethodGet, "/metrics", s.opts.MetricsHandler)
	}

	// Provider-specific webhook endpoints plus the generic
	// by-integration-id dispatcher.
	s.router.Post("/webhooks/github/{project}", s.handleProviderWebhook("github"))
	s.router.Post("/webhooks/gitlab/{project}", s.handleProviderWebhook("gitlab"))
	s.router.Post("/webhooks/bitbucket/{project}", s.handleProviderWebhook("bitbucket"))
	s.router.Post("/webhooks/{integrationID:[0-9]+}", s.handleGenericWebhook)

	s.router.Get("/api/builds/{id}", s.handleGetBuild)
	s.router.Get("/api/builds/{id}/commands", s.handleListBuildCommands)
	s.router.Post("/api/projects/{project}/versions/{version}/builds", s.handleTriggerBuild)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler { return s.router }

// Start runs the server until Shutdown.
func (s *Server) Start() error {
	return s.server.ListenAndServe()
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

// writeJSON renders any payload with a status code.
func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}

// detail is the error response body shape.
type detail struct {
	Detail string `json:"detail"`
}

func writeDetail(w http.ResponseWriter, code int, message string) {
	writeJSON(w, code, detail{Detail: message})
}
