// SPDX-License-Identifier: MIT

// Package middleware carries the canonical HTTP ingress middleware stack so
// every server entrypoint applies the same cross-cutting concerns in the
// same order.
package middleware

import (
	"github.com/go-chi/chi/v5"

	"github.com/finfleet/policyd/internal/log"
)

// StackConfig configures the canonical HTTP ingress middleware stack.
type StackConfig struct {
	EnableMetrics bool
	EnableLogging bool

	RateLimitEnabled bool
	RateLimitRPM     int
}

// NewRouter constructs a chi router with the canonical middleware stack
// applied.
func NewRouter(cfg StackConfig) *chi.Mux {
	r := chi.NewRouter()
	ApplyStack(r, cfg)
	return r
}

// ApplyStack applies the canonical middleware stack to r. Order matters:
// the recoverer is the outermost safety net, the request ID must exist
// before anything logs, and logging wraps handlers to capture full latency.
func ApplyStack(r chi.Router, cfg StackConfig) {
	r.Use(Recoverer)
	r.Use(RequestID)
	if cfg.EnableMetrics {
		r.Use(Metrics())
	}
	if cfg.EnableLogging {
		r.Use(log.Middleware())
	}
	if cfg.RateLimitEnabled {
		r.Use(RateLimit(cfg.RateLimitRPM))
	}
}
