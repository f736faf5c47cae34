package handler

import (
	"errors"
	"net/http"

	"yakkl-background/internal/domain"
	"yakkl-background/internal/observability"
	"yakkl-background/internal/service"

	"github.com/go-chi/chi/v5"
)

// ConnectionHandler handles domain connection endpoints
type ConnectionHandler struct {
	connections *service.ConnectionService
}

// NewConnectionHandler creates a new connection handler
func NewConnectionHandler(connections *service.ConnectionService) *ConnectionHandler {
	return &ConnectionHandler{
		connections: connections,
	}
}

// List retrieves all connection records
func (h *ConnectionHandler) List(w http.ResponseWriter, r *http.Request) {
	conns, err := h.connections.List(r.Context())
	if err != nil {
		observability.FromContext(r.Context()).Error("failed to list connections", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to retrieve connections")
		return
	}
	if conns == nil {
		conns = []*domain.DomainConnection{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"connections": conns,
	})
}

// Revoke removes a domain's connection
func (h *ConnectionHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	domainName := chi.URLParam(r, "domain")

	err := h.connections.Revoke(r.Context(), domainName)
	switch {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, domain.ErrInvalidDomain):
		writeError(w, http.StatusBadRequest, "Invalid domain")
	case errors.Is(err, domain.ErrConnectionNotFound):
		writeError(w, http.StatusNotFound, "Domain is not connected")
	default:
		observability.FromContext(r.Context()).Error("failed to revoke connection",
			"domain", domainName, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to revoke connection")
	}
}
