// Package api provides the introspection HTTP server: health checks and
// task queue statistics.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"

	"github.com/go-chi/chi/v5"

	"github.com/sigflow/sigflow/config"
	"github.com/sigflow/sigflow/pkg/api/middleware"
	"github.com/sigflow/sigflow/pkg/logger"
	"github.com/sigflow/sigflow/pkg/taskq"
	"github.com/sigflow/sigflow/pkg/version"
)

// Server serves the introspection API over HTTP.
type Server struct {
	cfg      config.APIConfig
	registry *taskq.Registry
	server   *http.Server
	logger   logger.Logger
}

// NewServer creates the HTTP server around a queue registry.
func NewServer(cfg config.APIConfig, registry *taskq.Registry, log logger.Logger) *Server {
	if log == nil {
		log = logger.Global()
	}

	s := &Server{
		cfg:      cfg,
		registry: registry,
		logger:   log,
	}

	router := chi.NewRouter()
	router.Use(middleware.RequestID())
	router.Use(middleware.Recovery(log))
	router.Use(middleware.Logger(log))

	router.Get("/healthz", s.handleHealth)
	router.Route("/v1", func(r chi.Router) {
		r.Get("/queues", s.handleQueues)
		r.Get("/queues/{name}", s.handleQueue)
	})

	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	s.logger.Info("starting api server", "addr", s.server.Addr)

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("api server failed: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down api server")

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("api server shutdown failed: %w", err)
	}
	return nil
}

type healthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:  "ok",
		Version: version.Version,
	})
}

type queueListResponse struct {
	Queues []taskq.Stats `json:"queues"`
}

func (s *Server) handleQueues(w http.ResponseWriter, r *http.Request) {
	statsByName := s.registry.Stats()

	queues := make([]taskq.Stats, 0, len(statsByName))
	for _, st := range statsByName {
		queues = append(queues, st)
	}
	sort.Slice(queues, func(i, j int) bool { return queues[i].Name < queues[j].Name })

	writeJSON(w, http.StatusOK, queueListResponse{Queues: queues})
}

func (s *Server) handleQueue(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	q, err := s.registry.Get(name)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	writeJSON(w, http.StatusOK, q.Stats())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
