// SPDX-License-Identifier: MIT

// Package api exposes the policy engine over HTTP: the device-facing event
// and poll surface, the admin surface and the operational endpoints.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/finfleet/policyd/internal/api/middleware"
	"github.com/finfleet/policyd/internal/engine"
	"github.com/finfleet/policyd/internal/rollout"
)

// Server wires the engine and rollout controller to the HTTP boundary.
type Server struct {
	engine  *engine.Engine
	rollout *rollout.Controller
	version string
}

// Config carries the server construction options.
type Config struct {
	Version string

	EnableMetrics    bool
	EnableLogging    bool
	RateLimitEnabled bool
	RateLimitRPM     int
}

// New constructs the server and its router.
func New(e *engine.Engine, rc *rollout.Controller, cfg Config) (*Server, *chi.Mux) {
	s := &Server{
		engine:  e,
		rollout: rc,
		version: cfg.Version,
	}

	r := middleware.NewRouter(middleware.StackConfig{
		EnableMetrics:    cfg.EnableMetrics,
		EnableLogging:    cfg.EnableLogging,
		RateLimitEnabled: cfg.RateLimitEnabled,
		RateLimitRPM:     cfg.RateLimitRPM,
	})
	s.routes(r)
	return s, r
}

func (s *Server) routes(r chi.Router) {
	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Post("/event", s.handleEvent)
	r.Get("/policy/{serial}", s.handlePolicy)
	r.Get("/commands/{serial}", s.handleCommands)
	r.Post("/commands/{id}/ack", s.handleAckCommand)
	r.Get("/audit/{serial}", s.handleAudit)
	r.Delete("/device/{serial}", s.handleDeleteDevice)
	r.Get("/devices", s.handleListDevices)

	r.Route("/admin", func(r chi.Router) {
		r.Post("/emergency-unlock", s.handleEmergencyUnlock)
		r.Get("/circuit-breaker", s.handleBreakerStatus)
		r.Post("/circuit-breaker/reset", s.handleBreakerReset)
		r.Post("/rollout/start", s.handleRolloutStart)
		r.Post("/rollout/evaluate", s.handleRolloutEvaluate)
		r.Get("/rollout/status", s.handleRolloutStatus)
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "version": s.version})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	// Readiness means the repository answers queries.
	if _, err := s.engine.ListDevices(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "detail": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
