package handlers

import (
	"github.com/go-chi/chi/v5"

	"github.com/mundocripto/papertrade/internal/modules/auth"
)

// RegisterRoutes registers all trading routes. Every route resolves the
// caller through OptionalAuth so anonymous sessions can trade before an
// account exists.
func (h *Handler) RegisterRoutes(r chi.Router, authService *auth.Service) {
	r.Route("/trading", func(r chi.Router) {
		r.Use(authService.OptionalAuth)

		r.Post("/initialize", h.HandleInitialize)
		r.Post("/buy", h.HandleBuy)
		r.Post("/sell", h.HandleSell)
		r.Post("/withdraw", h.HandleWithdraw)
		r.Get("/portfolio", h.HandleGetPortfolio)
		r.Get("/transactions", h.HandleGetTransactions)
		r.Post("/reset", h.HandleReset)
		r.Get("/export", h.HandleExport)
	})
}
