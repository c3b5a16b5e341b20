package handlers

import (
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers all market routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/market", func(r chi.Router) {
		r.Get("/symbols", h.HandleGetSymbols)
		r.Get("/quotes", h.HandleGetQuotes)
		r.Get("/quotes/{symbol}", h.HandleGetQuote)
		r.Get("/history/{symbol}", h.HandleGetHistory)
		r.Get("/stats/{symbol}", h.HandleGetStats)
		r.Get("/stream", h.HandleStream)
	})
}
