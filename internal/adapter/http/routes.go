package http

import (
	"github.com/go-chi/chi/v5"
)

// MountRoutes registers all state API routes on the given chi router.
func MountRoutes(r chi.Router, h *Handlers) {
	r.Get("/health", h.Health)

	r.Route("/v1", func(r chi.Router) {
		r.Get("/state/connection", h.GetConnection)
		r.Get("/state/sessions", h.ListSessions)
		r.Get("/state/statuses", h.ListStatuses)
		r.Get("/state/active", h.GetActive)
		r.Post("/state/active", h.SetActive)

		r.Route("/state/sessions/{id}", func(r chi.Router) {
			r.Get("/messages", h.ListMessages)
			r.Get("/status", h.GetStatus)
			r.Get("/todos", h.GetTodos)
			r.Get("/prompts", h.ListPrompts)
			r.Get("/journal", h.ListJournal)
			r.Post("/trimmed-head", h.SetTrimmedHead)
			r.Post("/permissions/{requestID}", h.RespondPermission)
			r.Post("/questions/{requestID}", h.RespondQuestion)
		})

		r.Post("/reconnect", h.Reconnect)
	})
}
