package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/ashureev/agentconsole/internal/domain"
)

// AgentHandler serves the agent collection.
type AgentHandler struct {
	*Handler
	defaultModel string
}

// NewAgentHandler creates an agent handler. Agents created without a model
// get defaultModel.
func NewAgentHandler(base *Handler, defaultModel string) *AgentHandler {
	return &AgentHandler{Handler: base, defaultModel: defaultModel}
}

// RegisterRoutes registers agent routes.
func (h *AgentHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api/agents", func(r chi.Router) {
		r.Get("/", h.List)
		r.Post("/", h.Create)
		r.Get("/{id}", h.Get)
		r.Put("/{id}", h.Update)
		r.Delete("/{id}", h.Delete)
	})
}

// List returns every agent.
func (h *AgentHandler) List(w http.ResponseWriter, r *http.Request) {
	agents, err := h.repo.ListAgents(r.Context())
	if err != nil {
		storeError(w, err, "list agents")
		return
	}
	JSON(w, http.StatusOK, agents)
}

// Get returns one agent.
func (h *AgentHandler) Get(w http.ResponseWriter, r *http.Request) {
	agent, err := h.repo.GetAgent(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		storeError(w, err, "get agent")
		return
	}
	JSON(w, http.StatusOK, agent)
}

// Create stores a new agent with a server-assigned id.
func (h *AgentHandler) Create(w http.ResponseWriter, r *http.Request) {
	var agent domain.Agent
	if err := decodeBody(r, &agent); err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}
	h.normalize(&agent)
	if err := agent.Validate(); err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}

	now := time.Now().UTC()
	agent.ID = uuid.NewString()
	agent.CreatedAt = now
	agent.UpdatedAt = now

	if err := h.repo.CreateAgent(r.Context(), agent); err != nil {
		storeError(w, err, "create agent")
		return
	}
	JSON(w, http.StatusCreated, agent)
}

// Update replaces an agent. The id in the path wins over the body.
func (h *AgentHandler) Update(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	existing, err := h.repo.GetAgent(ctx, id)
	if err != nil {
		storeError(w, err, "get agent")
		return
	}

	var agent domain.Agent
	if err := decodeBody(r, &agent); err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}
	h.normalize(&agent)
	if err := agent.Validate(); err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}

	agent.ID = id
	agent.CreatedAt = existing.CreatedAt
	agent.UpdatedAt = time.Now().UTC()
	if err := h.repo.UpdateAgent(ctx, agent); err != nil {
		storeError(w, err, "update agent")
		return
	}
	JSON(w, http.StatusOK, agent)
}

// Delete removes an agent.
func (h *AgentHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.repo.DeleteAgent(r.Context(), chi.URLParam(r, "id")); err != nil {
		storeError(w, err, "delete agent")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *AgentHandler) normalize(a *domain.Agent) {
	if a.Type == "" {
		a.Type = domain.AgentTypeGeneric
	}
	if a.Model == "" {
		a.Model = h.defaultModel
	}
	if a.Config.Memory.Enabled && a.Config.Memory.Limit == 0 {
		a.Config.Memory.Limit = domain.DefaultMemoryLimit
	}
}
