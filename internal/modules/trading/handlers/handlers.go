// Package handlers provides HTTP handlers for trading operations.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/mundocripto/papertrade/internal/modules/auth"
	"github.com/mundocripto/papertrade/internal/modules/portfolio"
	"github.com/mundocripto/papertrade/internal/modules/trading"
	"github.com/rs/zerolog"
)

// Handler handles trading HTTP requests
type Handler struct {
	tradingService *trading.Service
	log            zerolog.Logger
}

// NewHandler creates a new trading handler
func NewHandler(tradingService *trading.Service, log zerolog.Logger) *Handler {
	return &Handler{
		tradingService: tradingService,
		log:            log.With().Str("handler", "trading").Logger(),
	}
}

// InitializeRequest represents a request to seed a session with capital
type InitializeRequest struct {
	InitialCapital float64 `json:"initialCapital"`
}

// BuyRequest represents a buy order
type BuyRequest struct {
	Symbol string  `json:"symbol"`
	Amount float64 `json:"amount"`
}

// SellRequest represents a sell order
type SellRequest struct {
	PositionID string  `json:"positionId"`
	Percentage float64 `json:"percentage"`
}

// WithdrawRequest represents a withdrawal
type WithdrawRequest struct {
	Amount float64 `json:"amount"`
}

// HandleInitialize handles POST /api/trading/initialize
func (h *Handler) HandleInitialize(w http.ResponseWriter, r *http.Request) {
	var req InitializeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	identity := auth.IdentityFromContext(r.Context())
	snap, err := h.tradingService.Initialize(identity, req.InitialCapital)
	if err != nil {
		h.writeTradingError(w, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, map[string]interface{}{
		"success":   true,
		"portfolio": snap,
	})
}

// HandleBuy handles POST /api/trading/buy
func (h *Handler) HandleBuy(w http.ResponseWriter, r *http.Request) {
	var req BuyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Symbol == "" {
		h.writeError(w, http.StatusBadRequest, "symbol is required")
		return
	}

	identity := auth.IdentityFromContext(r.Context())
	tx, snap, err := h.tradingService.Buy(identity, req.Symbol, req.Amount)
	if err != nil {
		h.writeTradingError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":     true,
		"transaction": tx,
		"portfolio":   snap,
	})
}

// HandleSell handles POST /api/trading/sell
func (h *Handler) HandleSell(w http.ResponseWriter, r *http.Request) {
	var req SellRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.PositionID == "" {
		h.writeError(w, http.StatusBadRequest, "positionId is required")
		return
	}

	identity := auth.IdentityFromContext(r.Context())
	tx, snap, err := h.tradingService.Sell(identity, req.PositionID, req.Percentage)
	if err != nil {
		h.writeTradingError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":     true,
		"transaction": tx,
		"portfolio":   snap,
	})
}

// HandleWithdraw handles POST /api/trading/withdraw
func (h *Handler) HandleWithdraw(w http.ResponseWriter, r *http.Request) {
	var req WithdrawRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	identity := auth.IdentityFromContext(r.Context())
	tx, snap, err := h.tradingService.Withdraw(identity, req.Amount)
	if err != nil {
		h.writeTradingError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":     true,
		"transaction": tx,
		"portfolio":   snap,
	})
}

// HandleGetPortfolio handles GET /api/trading/portfolio
func (h *Handler) HandleGetPortfolio(w http.ResponseWriter, r *http.Request) {
	identity := auth.IdentityFromContext(r.Context())
	snap := h.tradingService.Portfolio(identity)

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":   true,
		"portfolio": snap,
	})
}

// HandleGetTransactions handles GET /api/trading/transactions?limit=N
func (h *Handler) HandleGetTransactions(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}

	identity := auth.IdentityFromContext(r.Context())
	history := h.tradingService.Transactions(identity, limit)
	if history == nil {
		history = []portfolio.Transaction{}
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":      true,
		"transactions": history,
		"count":        len(history),
	})
}

// HandleReset handles POST /api/trading/reset
func (h *Handler) HandleReset(w http.ResponseWriter, r *http.Request) {
	identity := auth.IdentityFromContext(r.Context())

	if err := h.tradingService.Reset(identity); err != nil {
		h.log.Error().Err(err).Msg("Reset failed")
		h.writeError(w, http.StatusInternalServerError, "Reset failed")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "Portfolio reset",
	})
}

// HandleExport handles GET /api/trading/export
// Returns the full session state as a downloadable JSON document.
func (h *Handler) HandleExport(w http.ResponseWriter, r *http.Request) {
	identity := auth.IdentityFromContext(r.Context())
	snap := h.tradingService.Export(identity)

	filename := "portfolio-" + time.Now().Format("2006-01-02") + ".json"
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	h.writeJSON(w, http.StatusOK, snap)
}

// writeTradingError maps ledger errors onto HTTP status codes.
func (h *Handler) writeTradingError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, portfolio.ErrAlreadyInitialized):
		h.writeError(w, http.StatusConflict, "Portfolio already initialized")
	case errors.Is(err, portfolio.ErrNotInitialized):
		h.writeError(w, http.StatusConflict, "Portfolio not initialized")
	case errors.Is(err, portfolio.ErrPositionNotFound):
		h.writeError(w, http.StatusNotFound, "Position not found")
	case errors.Is(err, portfolio.ErrUnknownSymbol):
		h.writeError(w, http.StatusNotFound, "Unknown symbol")
	case errors.Is(err, portfolio.ErrInvalidInitialCapital),
		errors.Is(err, portfolio.ErrBelowMinimum),
		errors.Is(err, portfolio.ErrInsufficientFunds),
		errors.Is(err, portfolio.ErrInvalidPercentage),
		errors.Is(err, portfolio.ErrNonPositiveQuantity),
		errors.Is(err, portfolio.ErrFeeExceedsAmount),
		errors.Is(err, portfolio.ErrInvalidAmount):
		h.writeError(w, http.StatusBadRequest, err.Error())
	default:
		h.log.Error().Err(err).Msg("Trading operation failed")
		h.writeError(w, http.StatusInternalServerError, "Operation failed")
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]interface{}{
		"success": false,
		"message": message,
	})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}
