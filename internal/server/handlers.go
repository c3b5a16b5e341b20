package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/mundocripto/papertrade/internal/database"
)

// handleHealth handles health check requests. Each database answers with a
// quick connectivity check so a wedged SQLite file surfaces here first.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	databases := map[string]string{
		"auth":   "ok",
		"ledger": "ok",
		"cache":  "ok",
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	healthy := true
	checks := map[string]*database.DB{
		"auth":   s.authDB,
		"ledger": s.ledgerDB,
		"cache":  s.cacheDB,
	}
	for name, db := range checks {
		if err := db.QuickCheck(ctx); err != nil {
			databases[name] = err.Error()
			healthy = false
		}
	}

	status := "healthy"
	code := http.StatusOK
	if !healthy {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}

	s.writeJSON(w, code, map[string]interface{}{
		"status":    status,
		"service":   "papertrade",
		"version":   "1.0.0",
		"databases": databases,
	})
}

// writeJSON writes a JSON response
func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}
