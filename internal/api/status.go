package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// StatusHandler reports backend health and record counts.
type StatusHandler struct {
	*Handler
}

// NewStatusHandler creates a status handler.
func NewStatusHandler(base *Handler) *StatusHandler {
	return &StatusHandler{Handler: base}
}

// RegisterRoutes registers status routes.
func (h *StatusHandler) RegisterRoutes(r chi.Router) {
	r.Get("/api/status", h.Status)
}

// Status returns counts of stored records, enabled providers and live sessions.
func (h *StatusHandler) Status(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := h.repo.Ping(ctx); err != nil {
		Error(w, http.StatusServiceUnavailable, "database unavailable")
		return
	}
	stats, err := h.repo.Stats(ctx)
	if err != nil {
		storeError(w, err, "stats")
		return
	}

	sessions := 0
	if h.sessions != nil {
		sessions = h.sessions.Count()
	}
	JSON(w, http.StatusOK, map[string]interface{}{
		"status":     "running",
		"agents":     stats.Agents,
		"workspaces": stats.Workspaces,
		"messages":   stats.Messages,
		"providers":  h.providers,
		"sessions":   sessions,
	})
}
