package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"yakkl-background/internal/domain"
	"yakkl-background/internal/middleware"
	"yakkl-background/internal/observability"
	"yakkl-background/internal/service"
)

// SessionHandler handles session endpoints
type SessionHandler struct {
	authService *service.AuthService
}

// NewSessionHandler creates a new session handler
func NewSessionHandler(authService *service.AuthService) *SessionHandler {
	return &SessionHandler{
		authService: authService,
	}
}

// ClearBlacklistRequest represents a blacklist clear request
type ClearBlacklistRequest struct {
	Confirm string `json:"confirm"`
}

// RefreshResponse carries the token to use from now on
type RefreshResponse struct {
	Token     string `json:"token"`
	Refreshed bool   `json:"refreshed"`
}

// Get describes the active session
func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	info, err := h.authService.Info(r.Context())
	if errors.Is(err, domain.ErrNoSession) {
		writeError(w, http.StatusNotFound, "No active session")
		return
	}
	if err != nil {
		observability.FromContext(r.Context()).Error("failed to read session", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to read session")
		return
	}

	writeJSON(w, http.StatusOK, info)
}

// Refresh reissues the presented token when it is close to expiry
func (h *SessionHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	token, ok := middleware.GetToken(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Not authenticated")
		return
	}

	fresh, refreshed, err := h.authService.Refresh(r.Context(), token)
	if errors.Is(err, domain.ErrInvalidToken) {
		writeError(w, http.StatusUnauthorized, "Invalid or expired session")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to refresh session")
		return
	}

	writeJSON(w, http.StatusOK, RefreshResponse{Token: fresh, Refreshed: refreshed})
}

// Logout ends the session
func (h *SessionHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.authService.Logout(r.Context()); err != nil {
		observability.FromContext(r.Context()).Error("logout failed", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to end session")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// ClearBlacklist drops every revoked token hash
func (h *SessionHandler) ClearBlacklist(w http.ResponseWriter, r *http.Request) {
	var req ClearBlacklistRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	err := h.authService.ClearBlacklist(r.Context(), req.Confirm)
	if errors.Is(err, domain.ErrClearNotConfirmed) {
		writeError(w, http.StatusBadRequest, "Confirmation required")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to clear blacklist")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
