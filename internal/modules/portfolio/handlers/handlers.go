// Package handlers provides HTTP handlers for portfolio persistence.
// These endpoints mirror a session's state into ledger.db for clients that
// manage their own trading loop; the trading endpoints use the same
// repositories through the reconciler.
package handlers

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/mundocripto/papertrade/internal/modules/auth"
	"github.com/mundocripto/papertrade/internal/modules/portfolio"
	"github.com/rs/zerolog"
)

// Handler handles portfolio HTTP requests
type Handler struct {
	transactions *portfolio.TransactionRepository
	snapshots    *portfolio.SnapshotRepository
	log          zerolog.Logger
}

// NewHandler creates a new portfolio handler
func NewHandler(
	transactions *portfolio.TransactionRepository,
	snapshots *portfolio.SnapshotRepository,
	log zerolog.Logger,
) *Handler {
	return &Handler{
		transactions: transactions,
		snapshots:    snapshots,
		log:          log.With().Str("handler", "portfolio").Logger(),
	}
}

// HandleSave handles POST /api/portfolio/save (requires auth)
// The body is a single record discriminated by its type field: a buy, sell
// or withdraw transaction, or a full portfolio_snapshot. Transactions are
// deduplicated on their client ids, so retrying a failed save is safe.
func (h *Handler) HandleSave(w http.ResponseWriter, r *http.Request) {
	identity := auth.IdentityFromContext(r.Context())

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	var kind struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(body, &kind); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	switch portfolio.TransactionType(kind.Type) {
	case portfolio.TransactionBuy, portfolio.TransactionSell, portfolio.TransactionWithdraw:
		var tx portfolio.Transaction
		if err := json.Unmarshal(body, &tx); err != nil {
			h.writeError(w, http.StatusBadRequest, "Invalid transaction")
			return
		}
		if tx.ID == "" {
			h.writeError(w, http.StatusBadRequest, "Transaction id is required")
			return
		}
		if err := h.transactions.Create(identity.UserID, tx); err != nil {
			h.log.Error().Err(err).Str("tx", tx.ID).Msg("Failed to save transaction")
			h.writeError(w, http.StatusInternalServerError, "Failed to save transaction")
			return
		}

	case "portfolio_snapshot":
		var snap portfolio.Snapshot
		if err := json.Unmarshal(body, &snap); err != nil {
			h.writeError(w, http.StatusBadRequest, "Invalid portfolio snapshot")
			return
		}
		snap.Initialized = true
		if err := h.snapshots.Save(identity.UserID, snap); err != nil {
			h.log.Error().Err(err).Int64("user_id", identity.UserID).Msg("Failed to save snapshot")
			h.writeError(w, http.StatusInternalServerError, "Failed to save portfolio")
			return
		}

	default:
		h.writeError(w, http.StatusBadRequest, "Unknown type: "+kind.Type)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
	})
}

// HandleGetHistory handles GET /api/portfolio/history?limit=N (requires auth)
func (h *Handler) HandleGetHistory(w http.ResponseWriter, r *http.Request) {
	identity := auth.IdentityFromContext(r.Context())

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 50 {
			limit = n
		}
	}

	history, err := h.transactions.GetHistory(identity.UserID, limit)
	if err != nil {
		h.log.Error().Err(err).Int64("user_id", identity.UserID).Msg("Failed to load history")
		h.writeError(w, http.StatusInternalServerError, "Failed to load history")
		return
	}
	if history == nil {
		history = []portfolio.Transaction{}
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":      true,
		"transactions": history,
		"count":        len(history),
	})
}

// HandleGetInvestments handles GET /api/portfolio/investments (requires auth)
func (h *Handler) HandleGetInvestments(w http.ResponseWriter, r *http.Request) {
	identity := auth.IdentityFromContext(r.Context())

	investments, err := h.snapshots.GetInvestments(identity.UserID)
	if err != nil {
		h.log.Error().Err(err).Int64("user_id", identity.UserID).Msg("Failed to load investments")
		h.writeError(w, http.StatusInternalServerError, "Failed to load investments")
		return
	}
	if investments == nil {
		investments = []portfolio.Position{}
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":     true,
		"investments": investments,
		"count":       len(investments),
	})
}

// HandleGetSnapshot handles GET /api/portfolio/snapshot (requires auth)
func (h *Handler) HandleGetSnapshot(w http.ResponseWriter, r *http.Request) {
	identity := auth.IdentityFromContext(r.Context())

	snap, err := h.snapshots.GetLatest(identity.UserID)
	if err != nil {
		h.log.Error().Err(err).Int64("user_id", identity.UserID).Msg("Failed to load snapshot")
		h.writeError(w, http.StatusInternalServerError, "Failed to load portfolio")
		return
	}
	if snap == nil {
		h.writeError(w, http.StatusNotFound, "No saved portfolio")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":   true,
		"portfolio": snap,
	})
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
