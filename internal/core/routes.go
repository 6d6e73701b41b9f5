package core

import "github.com/go-chi/chi/v5"

// MountRoutes registers the middleware stack and route tree. Health stays
// outside trigger authentication so orchestrators can probe it.
func (s *Server) MountRoutes() {
	s.router.Use(s.Recoverer)
	s.router.Use(RequestID)
	s.router.Use(RequestLogger(s.Logger))

	s.router.Get("/health", s.HandleHealth)

	s.router.Route("/internal", func(r chi.Router) {
		r.Use(s.RequireTriggerSecret)
		r.Post("/dispatch", s.HandleDispatch)
	})
}
