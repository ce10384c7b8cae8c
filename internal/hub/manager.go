// Package hub serves the real-time channel: it accepts WebSocket
// connections, routes chat messages to agents, and fans agent output out to
// every connection watching the same workspace.
package hub

import (
	"context"
	"log/slog"
	"sync"

	"github.com/coder/websocket"
)

// frameWriter is the write half of a websocket.Conn.
type frameWriter interface {
	Write(ctx context.Context, typ websocket.MessageType, p []byte) error
}

// Client is one live channel connection.
type Client struct {
	id string
	ws frameWriter

	writeMu sync.Mutex
}

// NewClient wraps a connection.
func NewClient(id string, ws frameWriter) *Client {
	return &Client{id: id, ws: ws}
}

// ID returns the connection id.
func (c *Client) ID() string { return c.id }

// Send writes one text frame. Writes on a client are serialized.
func (c *Client) Send(ctx context.Context, frame []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.Write(ctx, websocket.MessageText, frame)
}

// SessionManager tracks live connections and the workspace each one watches.
type SessionManager struct {
	mu       sync.RWMutex
	clients  map[string]*Client
	watchers map[string]map[string]*Client // workspace id -> client id -> client
	watching map[string]string             // client id -> workspace id
}

// NewSessionManager creates a new session manager.
func NewSessionManager() *SessionManager {
	return &SessionManager{
		clients:  make(map[string]*Client),
		watchers: make(map[string]map[string]*Client),
		watching: make(map[string]string),
	}
}

// Register adds a connection.
func (m *SessionManager) Register(c *Client) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clients[c.id] = c
	slog.Info("Channel session registered", "conn_id", c.id)
}

// Unregister removes a connection and all of its workspace subscriptions.
func (m *SessionManager) Unregister(c *Client) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if current, ok := m.clients[c.id]; !ok || current != c {
		return
	}
	delete(m.clients, c.id)
	m.unwatchLocked(c.id)
	slog.Info("Channel session unregistered", "conn_id", c.id)
}

// Watch points a registered connection at workspaceID. The connection stops
// receiving the output of the workspace it watched before.
func (m *SessionManager) Watch(c *Client, workspaceID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.clients[c.id]; !ok {
		return
	}
	prev, watching := m.watching[c.id]
	if watching && prev == workspaceID {
		return
	}
	m.unwatchLocked(c.id)
	if workspaceID == "" {
		return
	}
	set, ok := m.watchers[workspaceID]
	if !ok {
		set = make(map[string]*Client)
		m.watchers[workspaceID] = set
	}
	set[c.id] = c
	m.watching[c.id] = workspaceID
	slog.Debug("Channel session watching workspace", "conn_id", c.id, "workspace_id", workspaceID, "previous", prev)
}

// Watching returns the workspace c currently watches, or "".
func (m *SessionManager) Watching(c *Client) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.watching[c.id]
}

func (m *SessionManager) unwatchLocked(clientID string) {
	wsID, ok := m.watching[clientID]
	if !ok {
		return
	}
	delete(m.watching, clientID)
	if set := m.watchers[wsID]; set != nil {
		delete(set, clientID)
		if len(set) == 0 {
			delete(m.watchers, wsID)
		}
	}
}

// Watchers returns the connections watching workspaceID.
func (m *SessionManager) Watchers(workspaceID string) []*Client {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Client, 0, len(m.watchers[workspaceID]))
	for _, c := range m.watchers[workspaceID] {
		out = append(out, c)
	}
	return out
}

// Count returns the number of live connections.
func (m *SessionManager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.clients)
}

// Broadcast sends frame to every watcher of workspaceID except skip.
// Write failures are logged; the reader side of a broken connection
// unregisters it.
func (m *SessionManager) Broadcast(ctx context.Context, workspaceID string, frame []byte, skip *Client) {
	for _, c := range m.Watchers(workspaceID) {
		if c == skip {
			continue
		}
		if err := c.Send(ctx, frame); err != nil {
			slog.Debug("Broadcast write failed", "conn_id", c.id, "workspace_id", workspaceID, "error", err)
		}
	}
}
