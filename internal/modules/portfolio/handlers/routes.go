package handlers

import (
	"github.com/go-chi/chi/v5"

	"github.com/mundocripto/papertrade/internal/modules/auth"
)

// RegisterRoutes registers all portfolio persistence routes. Everything
// here requires an authenticated caller: guests persist through the local
// fallback store only.
func (h *Handler) RegisterRoutes(r chi.Router, authService *auth.Service) {
	r.Route("/portfolio", func(r chi.Router) {
		r.Use(authService.RequireAuth)

		r.Post("/save", h.HandleSave)
		r.Get("/history", h.HandleGetHistory)
		r.Get("/investments", h.HandleGetInvestments)
		r.Get("/snapshot", h.HandleGetSnapshot)
	})
}
