package api

import (
	"github.com/go-chi/chi/v5"
)

// setupAPIRoutes sets up API v1 routes
func (s *RESTServer) setupAPIRoutes(r chi.Router) {
	r.Get("/health", s.HandleHealth)

	// Auth routes (public)
	r.Route("/auth", func(r chi.Router) {
		r.Post("/login", s.HandleLogin)
		r.Post("/refresh", s.HandleRefresh)
	})

	// Protected routes
	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)

		r.Route("/accounts", func(r chi.Router) {
			r.Get("/", s.HandleListAccounts)
			r.Post("/", s.HandleCreateAccount)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.HandleGetAccount)
				r.Put("/", s.HandleUpdateAccount)
				r.Delete("/", s.HandleDeleteAccount)

				r.Route("/session", func(r chi.Router) {
					r.Post("/connect", s.HandleConnect)
					r.Post("/2fa", s.HandleSubmitTwoFactor)
					r.Post("/captcha", s.HandleSubmitCaptcha)
					r.Get("/status", s.HandleSessionStatus)
					r.Delete("/", s.HandleReleaseSession)
				})

				r.Get("/targets", s.HandleListTargets)
				r.Route("/targets/{targetID}", func(r chi.Router) {
					r.Post("/commands", s.HandleSendCommand)
					r.Get("/readiness", s.HandleAwaitReadiness)
					r.Get("/properties/{name}", s.HandleGetProperty)
					r.Put("/properties/{name}", s.HandleSetProperty)
				})

				r.Get("/events", s.HandleListEvents)
				r.Get("/events/stream", s.HandleEventStream)
			})
		})
	})
}
