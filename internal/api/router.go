package api

import (
	"context"
	"net/http"
	"sort"

	"github.com/go-chi/chi/v5"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.metricsMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.Route("/api/v1", func(r chi.Router) {
		// Health check (no auth required)
		r.Get("/health", s.handleHealth)

		// Prometheus scrape endpoint (no auth required for basic monitoring)
		r.Handle("/metrics", s.metrics.Handler())

		// Credential endpoints (no auth required)
		r.With(s.loginRateLimitMiddleware).Post("/auth/login", s.handleLogin)
		r.Post("/auth/refresh", s.handleRefresh)

		// Log stream (auth via ticket, validated in handler)
		r.Get("/ws/logs", s.handleLogStream)

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.Post("/auth/logout", s.handleLogout)
			r.Get("/auth/me", s.handleMe)
			r.Get("/auth/junctions", s.handleMyJunctions)
			r.Post("/auth/ws-ticket", s.handleWSTicket)

			r.Get("/junctions/{id}/access", s.handleJunctionAccess)
			r.Get("/junctions/{id}/counts", s.handleJunctionCounts)
			r.Post("/junctions/filter", s.handleFilterJunctions)

			// Admin surface
			r.Group(func(r chi.Router) {
				r.Use(s.requireAdmin)

				r.Route("/users", func(r chi.Router) {
					r.Get("/", s.handleListUsers)
					r.Post("/", s.handleCreateUser)

					r.Route("/{id}", func(r chi.Router) {
						r.Get("/", s.handleGetUser)
						r.Patch("/", s.handleUpdateUser)
						r.Put("/password", s.handleSetPassword)
						r.Post("/deactivate", s.handleDeactivateUser)

						r.Route("/junctions", func(r chi.Router) {
							r.Get("/", s.handleListUserJunctions)
							r.Post("/bulk-grant", s.handleBulkGrant)
							r.Post("/bulk-revoke", s.handleBulkRevoke)
							r.Put("/{junctionID}", s.handleGrantJunction)
							r.Delete("/{junctionID}", s.handleRevokeJunction)
						})
					})
				})

				r.Get("/audit", s.handleListAuditLogs)
			})
		})
	})

	return r
}

// handleHealth reports server status and probes each registered dependency.
// Any failing dependency turns the response into a 503.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	components := make(map[string]string, len(s.checks))

	names := make([]string, 0, len(s.checks))
	for name := range s.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		err := s.checks[name].HealthCheck(ctx)
		cancel()
		if err != nil {
			s.logger.Warn("health check failed", "component", name, "error", err)
			components[name] = "error"
			status = http.StatusServiceUnavailable
			continue
		}
		components[name] = "ok"
	}

	overall := "ok"
	if status != http.StatusOK {
		overall = "degraded"
	}
	writeJSON(w, status, map[string]any{
		"status":     overall,
		"version":    s.version,
		"components": components,
	})
}
