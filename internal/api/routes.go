package api

import (
	"github.com/go-chi/chi/v5"
)

// setupAPIRoutes sets up API v1 routes
func (s *RESTServer) setupAPIRoutes(r chi.Router) {
	// Health check
	r.Get("/health", s.HandleHealth)

	// Auth routes (public)
	r.Route("/auth", func(r chi.Router) {
		r.Post("/login", s.HandleLogin)
		r.Post("/refresh", s.HandleRefresh)
	})

	// Users. Registration is public; everything else requires a token.
	r.Route("/users", func(r chi.Router) {
		r.Post("/", s.HandleRegisterUser)
		r.With(s.authMiddleware, s.adminMiddleware).Get("/", s.HandleListUsers)
		r.With(s.authMiddleware).Get("/me", s.HandleGetCurrentUser)
		r.Route("/{id}", func(r chi.Router) {
			r.Use(s.authMiddleware)
			r.Get("/", s.HandleGetUser)
			r.Post("/password", s.HandleChangePassword)
			r.With(s.adminMiddleware).Post("/ban", s.HandleBanUser)
			r.With(s.adminMiddleware).Post("/unban", s.HandleUnbanUser)
		})
	})

	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)

		// Billing events
		r.With(s.adminMiddleware).Post("/billing/payment-confirmed", s.HandlePaymentConfirmed)

		// Live device reads
		r.Route("/router", func(r chi.Router) {
			r.Use(s.adminMiddleware)
			r.Get("/accounts", s.HandleListAccounts)
			r.Get("/active", s.HandleListActiveSessions)
			r.Get("/profiles", s.HandleListProfiles)
			r.Delete("/active/{id}", s.HandleKickSession)
		})

		// Job inspection
		r.Route("/jobs", func(r chi.Router) {
			r.Use(s.adminMiddleware)
			r.Get("/", s.HandleListJobs)
			r.Get("/{id}", s.HandleGetJob)
		})

		// Provisioning event log
		r.With(s.adminMiddleware).Get("/events", s.HandleListEvents)
	})
}
