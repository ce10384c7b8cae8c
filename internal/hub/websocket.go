package hub

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/ashureev/agentconsole/internal/domain"
	"github.com/ashureev/agentconsole/internal/protocol"
)

// Emitter delivers one server event to the conversation's watchers.
type Emitter func(protocol.Event)

// Dispatcher runs an agent turn for a user message, emitting output as it
// is produced. Dispatch blocks until the turn is finished.
type Dispatcher interface {
	Dispatch(ctx context.Context, msg protocol.ChatMessage, emit Emitter)
}

// Options configures the WebSocket handler.
type Options struct {
	AllowedOrigin  string
	IsDev          bool
	PingInterval   time.Duration
	MaxMessageSize int64
	WriteTimeout   time.Duration
}

// WebSocketHandler handles the real-time channel.
type WebSocketHandler struct {
	sm         *SessionManager
	dispatcher Dispatcher
	opts       Options

	// baseCtx outlives individual connections so an agent turn finishes and
	// is persisted even if the sender disconnects.
	baseCtx context.Context
}

// NewWebSocketHandler creates a new WebSocket handler. baseCtx bounds agent
// turns; cancel it on shutdown.
func NewWebSocketHandler(baseCtx context.Context, sm *SessionManager, dispatcher Dispatcher, opts Options) *WebSocketHandler {
	if opts.PingInterval <= 0 {
		opts.PingInterval = 30 * time.Second
	}
	if opts.MaxMessageSize <= 0 {
		opts.MaxMessageSize = 64 * 1024
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 10 * time.Second
	}
	return &WebSocketHandler{
		sm:         sm,
		dispatcher: dispatcher,
		opts:       opts,
		baseCtx:    baseCtx,
	}
}

// ServeHTTP implements http.Handler for WebSocket upgrade.
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	connID := uuid.NewString()
	slog.Info("WebSocket connection request", "conn_id", connID, "ip", r.RemoteAddr)

	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err, "conn_id", connID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "session ended"); closeErr != nil {
			slog.Debug("Failed to close websocket", "error", closeErr, "conn_id", connID)
		}
	}()
	ws.SetReadLimit(h.opts.MaxMessageSize)

	client := NewClient(connID, ws)
	h.sm.Register(client)
	defer h.sm.Unregister(client)

	if wsID := r.URL.Query().Get("workspaceId"); wsID != "" {
		h.sm.Watch(client, wsID)
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	go h.pingLoop(ctx, ws, connID)

	h.send(client, protocol.StatusChange{State: "ready"})
	h.inputLoop(ctx, ws, client)
	slog.Info("Channel session ended", "conn_id", connID)
}

func (h *WebSocketHandler) checkOrigin(r *http.Request) bool {
	if h.opts.IsDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.opts.AllowedOrigin == "*" {
		return true
	}
	if origin == h.opts.AllowedOrigin {
		return true
	}
	slog.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.opts.AllowedOrigin)
	return false
}

func (h *WebSocketHandler) inputLoop(ctx context.Context, ws *websocket.Conn, client *Client) {
	slog.Debug("Starting input loop", "conn_id", client.id)
	for {
		_, message, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 || errors.Is(err, context.Canceled) {
				slog.Debug("WebSocket closed by client", "conn_id", client.id)
			} else {
				slog.Warn("WebSocket read error", "error", err, "conn_id", client.id)
			}
			return
		}

		frame, err := protocol.DecodeClientFrame(message)
		if err != nil {
			slog.Warn("Rejecting client frame", "error", err, "conn_id", client.id)
			h.send(client, protocol.ErrorEvent{Reason: err.Error()})
			continue
		}

		switch frame.Kind {
		case protocol.KindPing:
			// Keepalive only.
		case protocol.KindWatch:
			h.sm.Watch(client, frame.Watch.WorkspaceID)
		case protocol.KindChatMessage:
			h.handleChat(client, *frame.Chat)
		}
	}
}

// handleChat acknowledges the user message to its sender, shows it to the
// other watchers of the workspace, and starts the agent turn.
func (h *WebSocketHandler) handleChat(client *Client, msg protocol.ChatMessage) {
	h.sm.Watch(client, msg.WorkspaceID)

	h.send(client, protocol.ChatDelta{
		MessageID:   msg.MessageID,
		Done:        true,
		Role:        domain.RoleUser,
		WorkspaceID: msg.WorkspaceID,
		AgentID:     msg.AgentID,
	})
	h.broadcast(msg.WorkspaceID, protocol.ChatDelta{
		MessageID:   msg.MessageID,
		Text:        msg.Text,
		Done:        true,
		Role:        domain.RoleUser,
		WorkspaceID: msg.WorkspaceID,
		AgentID:     msg.AgentID,
	}, client)

	go h.dispatcher.Dispatch(h.baseCtx, msg, func(ev protocol.Event) {
		h.broadcast(msg.WorkspaceID, scope(ev, msg.WorkspaceID), nil)
	})
}

// scope stamps the workspace on events that belong to one conversation.
func scope(ev protocol.Event, workspaceID string) protocol.Event {
	switch e := ev.(type) {
	case protocol.ChatDelta:
		if e.WorkspaceID == "" {
			e.WorkspaceID = workspaceID
		}
		return e
	case protocol.ErrorEvent:
		if e.WorkspaceID == "" {
			e.WorkspaceID = workspaceID
		}
		return e
	}
	return ev
}

func (h *WebSocketHandler) pingLoop(ctx context.Context, ws *websocket.Conn, connID string) {
	ticker := time.NewTicker(h.opts.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, h.opts.WriteTimeout)
			err := ws.Ping(pingCtx)
			cancel()
			if err != nil {
				slog.Debug("Ping failed", "error", err, "conn_id", connID)
				return
			}
		}
	}
}

func (h *WebSocketHandler) send(client *Client, ev protocol.Event) {
	data, err := protocol.Encode(ev)
	if err != nil {
		slog.Error("Failed to encode event", "error", err, "kind", ev.Kind())
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), h.opts.WriteTimeout)
	defer cancel()
	if err := client.Send(ctx, data); err != nil {
		slog.Debug("Failed to send event", "error", err, "conn_id", client.id, "kind", ev.Kind())
	}
}

func (h *WebSocketHandler) broadcast(workspaceID string, ev protocol.Event, skip *Client) {
	data, err := protocol.Encode(ev)
	if err != nil {
		slog.Error("Failed to encode event", "error", err, "kind", ev.Kind())
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), h.opts.WriteTimeout)
	defer cancel()
	h.sm.Broadcast(ctx, workspaceID, data, skip)
}
