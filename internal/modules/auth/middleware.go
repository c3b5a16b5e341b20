package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
)

type contextKey string

const identityContextKey contextKey = "auth.identity"

// IdentityFromContext returns the caller identity stored by the middleware.
// Requests that never passed through the middleware resolve to the guest.
func IdentityFromContext(ctx context.Context) Identity {
	if id, ok := ctx.Value(identityContextKey).(Identity); ok {
		return id
	}
	return Identity{Guest: true}
}

// RequireAuth rejects requests without a valid bearer token. A missing
// token gets 401; a token that fails verification gets 403.
func (s *Service) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			writeAuthError(w, http.StatusUnauthorized, "authentication required")
			return
		}

		identity, err := s.VerifyToken(token)
		if err != nil {
			writeAuthError(w, http.StatusForbidden, "invalid or expired token")
			return
		}

		user, err := s.users.GetByID(identity.UserID)
		if err != nil || user == nil {
			writeAuthError(w, http.StatusForbidden, "invalid or expired token")
			return
		}
		if !user.IsActive {
			writeAuthError(w, http.StatusForbidden, "account is disabled")
			return
		}

		ctx := context.WithValue(r.Context(), identityContextKey, *identity)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// OptionalAuth resolves the caller identity when a valid token is present
// and falls back to the guest identity otherwise. Trading endpoints use
// this so anonymous sessions work before an account exists.
func (s *Service) OptionalAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity := Identity{Guest: true}

		if token := bearerToken(r); token != "" {
			if id, err := s.VerifyToken(token); err == nil {
				if user, err := s.users.GetByID(id.UserID); err == nil && user != nil && user.IsActive {
					identity = *id
				}
			}
		}

		ctx := context.WithValue(r.Context(), identityContextKey, identity)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func writeAuthError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": false,
		"message": message,
	})
}
