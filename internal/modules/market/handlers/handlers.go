// Package handlers provides HTTP handlers for market data, including the
// websocket quote stream.
package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/mundocripto/papertrade/internal/modules/market"
	"github.com/rs/zerolog"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// Handler handles market HTTP requests
type Handler struct {
	feed *market.Feed
	log  zerolog.Logger
}

// NewHandler creates a new market handler
func NewHandler(feed *market.Feed, log zerolog.Logger) *Handler {
	return &Handler{
		feed: feed,
		log:  log.With().Str("handler", "market").Logger(),
	}
}

// HandleGetQuotes handles GET /api/market/quotes
func (h *Handler) HandleGetQuotes(w http.ResponseWriter, r *http.Request) {
	quotes := h.feed.Quotes()

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": map[string]interface{}{
			"quotes": quotes,
			"count":  len(quotes),
		},
		"metadata": map[string]interface{}{
			"timestamp": time.Now().Format(time.RFC3339),
		},
	})
}

// HandleGetSymbols handles GET /api/market/symbols
func (h *Handler) HandleGetSymbols(w http.ResponseWriter, r *http.Request) {
	symbols := h.feed.Symbols()

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": map[string]interface{}{
			"symbols": symbols,
			"count":   len(symbols),
		},
		"metadata": map[string]interface{}{
			"timestamp": time.Now().Format(time.RFC3339),
		},
	})
}

// HandleGetQuote handles GET /api/market/quotes/{symbol}
func (h *Handler) HandleGetQuote(w http.ResponseWriter, r *http.Request) {
	symbol := chi.URLParam(r, "symbol")

	for _, q := range h.feed.Quotes() {
		if q.Symbol == symbol {
			h.writeJSON(w, http.StatusOK, map[string]interface{}{
				"data": q,
				"metadata": map[string]interface{}{
					"timestamp": time.Now().Format(time.RFC3339),
				},
			})
			return
		}
	}

	http.Error(w, "unknown symbol", http.StatusNotFound)
}

// HandleGetHistory handles GET /api/market/history/{symbol}?limit=N
func (h *Handler) HandleGetHistory(w http.ResponseWriter, r *http.Request) {
	symbol := chi.URLParam(r, "symbol")

	limit := 120
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}

	history := h.feed.History(symbol, limit)
	if history == nil {
		http.Error(w, "unknown symbol", http.StatusNotFound)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": map[string]interface{}{
			"symbol":  symbol,
			"prices":  history,
			"samples": len(history),
		},
		"metadata": map[string]interface{}{
			"timestamp": time.Now().Format(time.RFC3339),
		},
	})
}

// HandleGetStats handles GET /api/market/stats/{symbol}?limit=N
func (h *Handler) HandleGetStats(w http.ResponseWriter, r *http.Request) {
	symbol := chi.URLParam(r, "symbol")

	limit := 120
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}

	stats, ok := h.feed.Stats(symbol, limit)
	if !ok {
		http.Error(w, "unknown symbol", http.StatusNotFound)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": stats,
		"metadata": map[string]interface{}{
			"timestamp": time.Now().Format(time.RFC3339),
		},
	})
}

// HandleStream handles GET /api/market/stream
// Upgrades to a websocket and pushes the full quote table on every tick
// until the client disconnects.
func (h *Handler) HandleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // CORS is enforced by the HTTP middleware
	})
	if err != nil {
		h.log.Warn().Err(err).Msg("Websocket upgrade failed")
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	updates, cancel := h.feed.Subscribe()
	defer cancel()

	ctx := r.Context()

	// Send the current table immediately so clients render without
	// waiting for the next tick.
	if err := wsjson.Write(ctx, conn, h.feed.Quotes()); err != nil {
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case quotes, ok := <-updates:
			if !ok {
				return
			}
			if err := wsjson.Write(ctx, conn, quotes); err != nil {
				h.log.Debug().Err(err).Msg("Websocket client gone")
				return
			}
		}
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}
