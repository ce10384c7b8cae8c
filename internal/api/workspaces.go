package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/ashureev/agentconsole/internal/domain"
)

// WorkspaceHandler serves the workspace collection and its history.
type WorkspaceHandler struct {
	*Handler
}

// NewWorkspaceHandler creates a workspace handler.
func NewWorkspaceHandler(base *Handler) *WorkspaceHandler {
	return &WorkspaceHandler{Handler: base}
}

// RegisterRoutes registers workspace routes.
func (h *WorkspaceHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api/workspaces", func(r chi.Router) {
		r.Get("/", h.List)
		r.Post("/", h.Create)
		r.Get("/{id}", h.Get)
		r.Put("/{id}", h.Update)
		r.Delete("/{id}", h.Delete)
		r.Get("/{id}/messages", h.Messages)
	})
}

// List returns every workspace.
func (h *WorkspaceHandler) List(w http.ResponseWriter, r *http.Request) {
	workspaces, err := h.repo.ListWorkspaces(r.Context())
	if err != nil {
		storeError(w, err, "list workspaces")
		return
	}
	JSON(w, http.StatusOK, workspaces)
}

// Get returns one workspace.
func (h *WorkspaceHandler) Get(w http.ResponseWriter, r *http.Request) {
	ws, err := h.repo.GetWorkspace(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		storeError(w, err, "get workspace")
		return
	}
	JSON(w, http.StatusOK, ws)
}

// Create stores a new workspace.
func (h *WorkspaceHandler) Create(w http.ResponseWriter, r *http.Request) {
	var ws domain.Workspace
	if err := decodeBody(r, &ws); err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := ws.Validate(); err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}

	now := time.Now().UTC()
	ws.ID = uuid.NewString()
	ws.CreatedAt = now
	ws.UpdatedAt = now
	if err := h.repo.CreateWorkspace(r.Context(), ws); err != nil {
		storeError(w, err, "create workspace")
		return
	}
	JSON(w, http.StatusCreated, ws)
}

// Update replaces a workspace.
func (h *WorkspaceHandler) Update(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	existing, err := h.repo.GetWorkspace(ctx, id)
	if err != nil {
		storeError(w, err, "get workspace")
		return
	}

	var ws domain.Workspace
	if err := decodeBody(r, &ws); err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := ws.Validate(); err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}

	ws.ID = id
	ws.CreatedAt = existing.CreatedAt
	ws.UpdatedAt = time.Now().UTC()
	if err := h.repo.UpdateWorkspace(ctx, ws); err != nil {
		storeError(w, err, "update workspace")
		return
	}
	JSON(w, http.StatusOK, ws)
}

// Delete removes a workspace and its history.
func (h *WorkspaceHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.repo.DeleteWorkspace(r.Context(), chi.URLParam(r, "id")); err != nil {
		storeError(w, err, "delete workspace")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Messages returns the persisted conversation of a workspace, optionally
// narrowed to one agent with ?agentId= and bounded with ?limit=.
func (h *WorkspaceHandler) Messages(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	if _, err := h.repo.GetWorkspace(ctx, id); err != nil {
		storeError(w, err, "get workspace")
		return
	}

	limit := domain.DefaultMemoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			Error(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	msgs, err := h.repo.ListMessages(ctx, id, r.URL.Query().Get("agentId"), limit)
	if err != nil {
		storeError(w, err, "list messages")
		return
	}
	JSON(w, http.StatusOK, msgs)
}
