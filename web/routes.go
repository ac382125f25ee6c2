package web

import (
	"github.com/rohanthewiz/rweb"
)

// SetupRoutes configures all HTTP routes for the server
func SetupRoutes(s *rweb.Server) {
	// Health probes
	s.Get("/health", healthHandler)
	s.Get("/readiness", readinessHandler)
	s.Get("/liveness", livenessHandler)

	// Plan ingestion and status
	s.Post("/api/plans", createPlanHandler)
	s.Get("/api/plans/:id/status", getPlanStatusHandler)

	// Push-delivered spec status events
	s.Post("/events/spec-status", specStatusHandler)

	// Server-rendered status dashboard
	s.Get("/plans/:id", planDashboardHandler)
}
