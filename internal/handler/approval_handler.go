package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"yakkl-background/internal/domain"

	"github.com/go-chi/chi/v5"
)

// ApprovalQueue is the pending-request side of the router
type ApprovalQueue interface {
	Pending() []domain.ApprovalRequest
	HandleDecision(ctx context.Context, id string, decision domain.ApprovalDecision) error
}

// ApprovalHandler lets the wallet UI settle pending requests over HTTP
type ApprovalHandler struct {
	queue ApprovalQueue
}

// NewApprovalHandler creates a new approval handler
func NewApprovalHandler(queue ApprovalQueue) *ApprovalHandler {
	return &ApprovalHandler{queue: queue}
}

// ApproveRequest carries the value returned to the requesting page
type ApproveRequest struct {
	Result json.RawMessage `json:"result,omitempty"`
}

// RejectRequest optionally overrides the rejection message
type RejectRequest struct {
	Reason string `json:"reason,omitempty"`
}

// List returns the requests awaiting a decision, oldest first
func (h *ApprovalHandler) List(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"approvals": h.queue.Pending(),
	})
}

// Approve resolves a pending request
func (h *ApprovalHandler) Approve(w http.ResponseWriter, r *http.Request) {
	var req ApproveRequest
	if err := decodeOptional(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	h.decide(w, r, domain.ApprovalDecision{Approved: true, Result: req.Result})
}

// Reject declines a pending request
func (h *ApprovalHandler) Reject(w http.ResponseWriter, r *http.Request) {
	var req RejectRequest
	if err := decodeOptional(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	h.decide(w, r, domain.ApprovalDecision{Approved: false, Reason: req.Reason})
}

func (h *ApprovalHandler) decide(w http.ResponseWriter, r *http.Request, decision domain.ApprovalDecision) {
	id := chi.URLParam(r, "id")

	err := h.queue.HandleDecision(r.Context(), id, decision)
	if errors.Is(err, domain.ErrRequestNotFound) {
		writeError(w, http.StatusNotFound, "Request is no longer pending")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to settle request")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
