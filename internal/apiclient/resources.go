package apiclient

import (
	"context"
	"net/http"
	"net/url"

	"github.com/ashureev/agentconsole/internal/domain"
)

// Agents returns the agent collection.
func (c *Client) Agents() *Collection[domain.Agent] {
	return NewCollection[domain.Agent](c, "/api/agents")
}

// Workspaces returns the workspace collection.
func (c *Client) Workspaces() *Collection[domain.Workspace] {
	return NewCollection[domain.Workspace](c, "/api/workspaces")
}

// Messages fetches the persisted history of a workspace, oldest first. When
// agentID is non-empty only that agent's conversation is returned.
func (c *Client) Messages(ctx context.Context, workspaceID, agentID string) ([]domain.Message, error) {
	path := "/api/workspaces/" + url.PathEscape(workspaceID) + "/messages"
	if agentID != "" {
		path += "?agentId=" + url.QueryEscape(agentID)
	}
	var msgs []domain.Message
	if err := c.Do(ctx, http.MethodGet, path, nil, &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

// ServerStatus mirrors GET /api/status.
type ServerStatus struct {
	Status     string   `json:"status"`
	Agents     int      `json:"agents"`
	Workspaces int      `json:"workspaces"`
	Messages   int      `json:"messages"`
	Providers  []string `json:"providers"`
	Sessions   int      `json:"sessions"`
}

// Status fetches backend status.
func (c *Client) Status(ctx context.Context) (ServerStatus, error) {
	var st ServerStatus
	err := c.Do(ctx, http.MethodGet, "/api/status", nil, &st)
	return st, err
}
