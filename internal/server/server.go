// Package server is the thin HTTP intake surface. It translates JSON to the
// engine's types and model errors to status codes; no decision logic lives
// here.
package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/yaya84/arkab/internal/engine"
	"github.com/yaya84/arkab/internal/healing"
	"github.com/yaya84/arkab/internal/memory"
	"github.com/yaya84/arkab/internal/metrics"
	"github.com/yaya84/arkab/internal/model"
)

// Server is the orchestrator HTTP API server.
type Server struct {
	engine  *engine.Engine
	health  *healing.Controller
	store   *memory.Store
	metrics *metrics.Metrics
	logger  *zap.Logger
	router  chi.Router
	version string
	started time.Time
}

// New creates a Server over an already-wired engine and healing controller.
func New(eng *engine.Engine, health *healing.Controller, store *memory.Store, m *metrics.Metrics, logger *zap.Logger, version string) *Server {
	s := &Server{
		engine:  eng,
		health:  health,
		store:   store,
		metrics: m,
		logger:  logger,
		version: version,
		started: time.Now(),
	}
	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/metrics", s.handleMetrics)
		r.Post("/evidence", s.handleEvidence)
		r.Post("/evidence/batch", s.handleEvidenceBatch)
	})

	// Prometheus exposition lives outside /api.
	r.Handle("/metrics", s.metrics.Handler())

	s.router = r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	snap := s.health.Health()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"status":    "ok",
		"version":   s.version,
		"uptime":    time.Since(s.started).Seconds(),
		"state":     snap.State,
		"diagnosed": snap.Diagnosed,
	})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	snap := s.health.Health()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"memory_count":   s.store.Len(),
		"decision_count": s.engine.DecisionCount(),
		"health_state":   snap.State,
		"backlog":        snap.Backlog,
		"cpu_pct":        snap.CPUPct,
		"mem_pct":        snap.MemPct,
	})
}

// writeError maps model errors onto the HTTP surface: malformed evidence is
// the caller's fault, lock timeouts and missing configuration are retryable.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case model.IsValidation(err):
		status = http.StatusBadRequest
	case isRetryable(err):
		status = http.StatusServiceUnavailable
		w.Header().Set("Retry-After", "1")
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
