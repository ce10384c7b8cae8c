// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"errors"

	"github.com/ashureev/agentconsole/internal/domain"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("record not found")

// Stats summarizes stored records.
type Stats struct {
	Agents     int
	Workspaces int
	Messages   int
}

// Repository defines the interface for persisting agents, workspaces and
// conversation history.
type Repository interface {
	// ListAgents returns all agents in creation order.
	ListAgents(ctx context.Context) ([]domain.Agent, error)

	// GetAgent retrieves an agent by id.
	GetAgent(ctx context.Context, id string) (domain.Agent, error)

	// CreateAgent inserts a new agent. ID and timestamps must be set.
	CreateAgent(ctx context.Context, agent domain.Agent) error

	// UpdateAgent replaces an existing agent.
	UpdateAgent(ctx context.Context, agent domain.Agent) error

	// DeleteAgent removes an agent.
	DeleteAgent(ctx context.Context, id string) error

	ListWorkspaces(ctx context.Context) ([]domain.Workspace, error)
	GetWorkspace(ctx context.Context, id string) (domain.Workspace, error)
	CreateWorkspace(ctx context.Context, ws domain.Workspace) error
	UpdateWorkspace(ctx context.Context, ws domain.Workspace) error

	// DeleteWorkspace removes a workspace and its messages.
	DeleteWorkspace(ctx context.Context, id string) error

	// AppendMessage stores a finished message.
	AppendMessage(ctx context.Context, msg domain.Message) error

	// ListMessages returns up to limit of the most recent messages of a
	// workspace, oldest first. An empty agentID matches every agent.
	ListMessages(ctx context.Context, workspaceID, agentID string, limit int) ([]domain.Message, error)

	// Stats counts stored records.
	Stats(ctx context.Context) (Stats, error)

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
