package web

import (
	"github.com/go-chi/chi/v5"
	"github.com/kozaktomas/attendance-kiosk/internal/web/handlers"
	"github.com/kozaktomas/attendance-kiosk/internal/web/middleware"
)

func (s *Server) setupRoutes() {
	sessionsHandler := handlers.NewSessionsHandler(s.deps.Verifier)
	// Load already rejected unknown timezones.
	loc, _ := s.config.Kiosk.Location()
	attendanceHandler := handlers.NewAttendanceHandler(s.deps.Attendance, loc)
	identitiesHandler := handlers.NewIdentitiesHandler(s.deps.Identities, s.config.Kiosk.Scope())
	healthHandler := handlers.NewHealthHandler(s.deps.DB, s.deps.Index)

	// Health checks (no token required)
	s.router.Get("/api/v1/health", handlers.HealthCheck)
	s.router.Get("/api/v1/health/ready", healthHandler.Ready)

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.RequireToken(s.config.Kiosk.APIToken))

		// Verification attempts
		r.Post("/sessions", sessionsHandler.Start)
		r.Post("/sessions/{id}/frames", sessionsHandler.SubmitFrame)
		r.Post("/sessions/{id}/finish", sessionsHandler.Finish)
		r.Delete("/sessions/{id}", sessionsHandler.Cancel)

		// Records
		r.Get("/attendance", attendanceHandler.List)
		r.Get("/identities", identitiesHandler.List)
	})
}
