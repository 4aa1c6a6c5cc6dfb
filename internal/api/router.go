package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/stomplink/internal/auth"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.Route("/api/v1", func(r chi.Router) {
		// Health check (no auth required)
		r.Get("/health", s.handleHealth)

		// WebSocket authenticates with a token query parameter.
		r.Get("/ws", s.handleWebSocket)

		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.Route("/link", func(r chi.Router) {
				r.With(requirePermission(auth.PermLinkRead)).Get("/", s.handleGetLink)

				r.Group(func(r chi.Router) {
					r.Use(requirePermission(auth.PermLinkControl))
					r.Post("/activate", s.handleActivateLink)
					r.Post("/deactivate", s.handleDeactivateLink)
				})
			})

			r.Group(func(r chi.Router) {
				r.Use(requirePermission(auth.PermJournalRead))
				r.Get("/events", s.handleListEvents)
				r.Get("/messages/counts", s.handleMessageCounts)
				r.Get("/audit", s.handleListAuditLogs)
			})
		})
	})

	return r
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"version":    s.version,
		"link_state": s.link.State().String(),
	})
}
