// Package handlers provides HTTP handlers for account operations.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/mundocripto/papertrade/internal/modules/auth"
	"github.com/rs/zerolog"
)

// Handler handles auth HTTP requests
type Handler struct {
	authService *auth.Service
	onLogin     func(auth.Identity)
	log         zerolog.Logger
}

// NewHandler creates a new auth handler. onLogin runs after every
// successful login or registration; the trading module uses it to hand the
// guest session over to the resolved identity. May be nil.
func NewHandler(authService *auth.Service, onLogin func(auth.Identity), log zerolog.Logger) *Handler {
	return &Handler{
		authService: authService,
		onLogin:     onLogin,
		log:         log.With().Str("handler", "auth").Logger(),
	}
}

// RegisterRequest represents a request to create an account
type RegisterRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginRequest represents a login attempt
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// HandleRegister handles POST /api/register
// Registration logs the new account in immediately: the response carries a
// fresh token so the client does not need a second round trip.
func (h *Handler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	session, err := h.authService.Register(req.Name, req.Email, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrEmailTaken):
			h.writeError(w, http.StatusConflict, "Email already registered")
		case errors.Is(err, auth.ErrMissingFields),
			errors.Is(err, auth.ErrInvalidEmail),
			errors.Is(err, auth.ErrPasswordTooShort):
			h.writeError(w, http.StatusBadRequest, err.Error())
		default:
			h.log.Error().Err(err).Msg("Registration failed")
			h.writeError(w, http.StatusInternalServerError, "Registration failed")
		}
		return
	}

	if h.onLogin != nil {
		h.onLogin(auth.Identity{UserID: session.User.ID, Email: session.User.Email})
	}

	h.writeJSON(w, http.StatusCreated, map[string]interface{}{
		"success": true,
		"message": "Account created",
		"token":   session.Token,
		"user":    session.User,
	})
}

// HandleLogin handles POST /api/login
func (h *Handler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if req.Email == "" || req.Password == "" {
		h.writeError(w, http.StatusBadRequest, "Email and password are required")
		return
	}

	session, err := h.authService.Login(req.Email, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrInvalidCredentials):
			h.writeError(w, http.StatusUnauthorized, "Invalid email or password")
		case errors.Is(err, auth.ErrAccountDisabled):
			h.writeError(w, http.StatusForbidden, "Account is disabled")
		default:
			h.log.Error().Err(err).Msg("Login failed")
			h.writeError(w, http.StatusInternalServerError, "Login failed")
		}
		return
	}

	if h.onLogin != nil {
		h.onLogin(auth.Identity{UserID: session.User.ID, Email: session.User.Email})
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"token":   session.Token,
		"user":    session.User,
	})
}

// HandleProfile handles GET /api/profile (requires auth)
func (h *Handler) HandleProfile(w http.ResponseWriter, r *http.Request) {
	identity := auth.IdentityFromContext(r.Context())

	profile, err := h.authService.Profile(identity.UserID)
	if err != nil {
		if errors.Is(err, auth.ErrUserNotFound) {
			h.writeError(w, http.StatusNotFound, "User not found")
			return
		}
		h.log.Error().Err(err).Int64("user_id", identity.UserID).Msg("Failed to load profile")
		h.writeError(w, http.StatusInternalServerError, "Failed to load profile")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"user":    profile,
	})
}

// HandleVerify handles GET /api/verify (requires auth)
// Exists so clients can cheaply check a stored token on startup.
func (h *Handler) HandleVerify(w http.ResponseWriter, r *http.Request) {
	identity := auth.IdentityFromContext(r.Context())

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"userId":  identity.UserID,
		"email":   identity.Email,
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
