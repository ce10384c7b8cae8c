package entitystore

import (
	"log/slog"

	"github.com/ashureev/agentconsole/internal/domain"
)

// SelectOrchestrator selects the first orchestrator agent, falling back to
// the first agent.
func SelectOrchestrator(agents []domain.Agent) string {
	for _, a := range agents {
		if a.Type == domain.AgentTypeOrchestrator {
			return a.ID
		}
	}
	return SelectFirst(agents)
}

// NewAgentStore returns the agent store with orchestrator-priority selection.
func NewAgentStore(backend Backend[domain.Agent], logger *slog.Logger) *Store[domain.Agent] {
	return New("agents", backend, SelectOrchestrator, logger)
}

// NewWorkspaceStore returns the workspace store; the first workspace is the default.
func NewWorkspaceStore(backend Backend[domain.Workspace], logger *slog.Logger) *Store[domain.Workspace] {
	return New("workspaces", backend, SelectFirst[domain.Workspace], logger)
}
