package handler

import (
	"net/http"
	"strconv"

	"yakkl-background/internal/domain"
	"yakkl-background/internal/observability"
	"yakkl-background/internal/security"

	"github.com/go-chi/chi/v5"
)

const defaultActivityLimit = 50

// ActivityHandler serves the audited request history of a domain
type ActivityHandler struct {
	activity domain.ActivityRepository
}

// NewActivityHandler creates a new activity handler
func NewActivityHandler(activity domain.ActivityRepository) *ActivityHandler {
	return &ActivityHandler{
		activity: activity,
	}
}

// Recent lists the newest audited requests made by a domain
func (h *ActivityHandler) Recent(w http.ResponseWriter, r *http.Request) {
	domainName, err := security.NormalizeDomain(chi.URLParam(r, "domain"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid domain")
		return
	}

	limit := defaultActivityLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "Invalid limit")
			return
		}
		limit = n
	}

	events, err := h.activity.Recent(r.Context(), domainName, limit)
	if err != nil {
		observability.FromContext(r.Context()).Error("failed to load activity",
			"domain", domainName, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to retrieve activity")
		return
	}
	if events == nil {
		events = []*domain.ActivityEvent{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"domain":   domainName,
		"activity": events,
	})
}
