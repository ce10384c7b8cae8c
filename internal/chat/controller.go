// Package chat turns the decoded event stream into an ordered, per-message
// view of one conversation and sends user messages over the shared channel.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ashureev/agentconsole/internal/domain"
	"github.com/ashureev/agentconsole/internal/protocol"
	"github.com/ashureev/agentconsole/internal/realtime"
)

// Failure reasons recorded on failed messages.
const (
	ReasonNotConnected   = "NotConnected"
	ReasonConnectionLost = "ConnectionLost"
)

var (
	// ErrNoConversation is returned by SendMessage before SetConversation.
	ErrNoConversation = errors.New("no active conversation")
	// ErrEmptyMessage is returned by SendMessage for blank text.
	ErrEmptyMessage = errors.New("message text is empty")
)

// Transport is the part of the connection manager the controller needs.
type Transport interface {
	Send(ctx context.Context, payload []byte) error
	Subscribe(onFrame func([]byte), onState func(realtime.Status)) (unsubscribe func())
}

// Snapshot is a caller-owned copy of the conversation state.
type Snapshot struct {
	WorkspaceID string
	AgentID     string
	Messages    []domain.Message
	// Traces holds the technical view per agent id, in arrival order.
	Traces      map[string][]domain.Trace
	Connection  realtime.Status
	ServerState string
	LastError   string
}

// Trace returns the concatenated trace text for agentID.
func (s Snapshot) Trace(agentID string) string {
	var b strings.Builder
	for _, t := range s.Traces[agentID] {
		b.WriteString(t.Text)
	}
	return b.String()
}

// Controller owns the message list of the active conversation.
type Controller struct {
	transport Transport
	logger    *slog.Logger
	now       func() time.Time

	mu          sync.Mutex
	workspaceID string
	agentID     string
	messages    []domain.Message
	index       map[string]int
	traces      map[string][]domain.Trace
	conn        realtime.Status
	serverState string
	lastError   string
	listeners   map[int]func(Snapshot)
	nextListen  int
	unsubscribe func()

	notifyMu sync.Mutex
}

// NewController creates a controller over transport. Call Start to begin
// receiving events.
func NewController(transport Transport, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		transport: transport,
		logger:    logger.With("component", "chat"),
		now:       time.Now,
		index:     make(map[string]int),
		traces:    make(map[string][]domain.Trace),
		listeners: make(map[int]func(Snapshot)),
	}
}

// Start subscribes to the transport. It is safe to call more than once.
func (c *Controller) Start() {
	c.mu.Lock()
	if c.unsubscribe != nil {
		c.mu.Unlock()
		return
	}
	c.unsubscribe = func() {}
	c.mu.Unlock()

	unsubscribe := c.transport.Subscribe(c.handleFrame, c.handleStatus)

	c.mu.Lock()
	c.unsubscribe = unsubscribe
	c.mu.Unlock()
}

// Stop releases the transport subscription.
func (c *Controller) Stop() {
	c.mu.Lock()
	unsubscribe := c.unsubscribe
	c.unsubscribe = nil
	c.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
}

// SetConversation switches the active workspace and agent. Messages of the
// previous conversation are discarded; agent traces are kept. Output still
// streaming for the previous conversation is dropped when it arrives, and the
// backend is told which workspace to deliver from now on.
func (c *Controller) SetConversation(workspaceID, agentID string) {
	c.mu.Lock()
	if c.workspaceID == workspaceID && c.agentID == agentID {
		c.mu.Unlock()
		return
	}
	c.workspaceID = workspaceID
	c.agentID = agentID
	c.messages = nil
	c.index = make(map[string]int)
	c.lastError = ""
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.logger.Debug("Conversation switched", "workspace_id", workspaceID, "agent_id", agentID)
	c.publish(snap)
	c.announce(workspaceID)
}

// announce asks the backend for workspaceID's output. Without an open
// channel it is skipped; the next Connected transition announces again.
func (c *Controller) announce(workspaceID string) {
	if workspaceID == "" {
		return
	}
	payload, err := protocol.EncodeWatch(workspaceID)
	if err == nil {
		err = c.transport.Send(context.Background(), payload)
	}
	if err != nil {
		c.logger.Debug("Workspace not announced", "workspace_id", workspaceID, "error", err)
	}
}

// Restore seeds the conversation with persisted history. Messages already
// present are left untouched.
func (c *Controller) Restore(history []domain.Message) {
	c.mu.Lock()
	restored := make([]domain.Message, 0, len(history)+len(c.messages))
	index := make(map[string]int, len(history)+len(c.messages))
	for _, m := range history {
		if _, live := c.index[m.ID]; live {
			continue
		}
		if _, dup := index[m.ID]; dup {
			continue
		}
		m = m.Clone()
		if m.State == "" {
			m.State = domain.StateComplete
		}
		index[m.ID] = len(restored)
		restored = append(restored, m)
	}
	for _, m := range c.messages {
		index[m.ID] = len(restored)
		restored = append(restored, m)
	}
	c.messages = restored
	c.index = index
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.publish(snap)
}

// SendMessage appends a pending user message and transmits it. When the
// channel is not open the message fails with ReasonNotConnected and nothing
// is sent.
func (c *Controller) SendMessage(ctx context.Context, text string) (domain.Message, error) {
	if strings.TrimSpace(text) == "" {
		return domain.Message{}, ErrEmptyMessage
	}

	c.mu.Lock()
	if c.workspaceID == "" || c.agentID == "" {
		c.mu.Unlock()
		return domain.Message{}, ErrNoConversation
	}
	msg := domain.Message{
		ID:          uuid.NewString(),
		WorkspaceID: c.workspaceID,
		AgentID:     c.agentID,
		Role:        domain.RoleUser,
		Content:     text,
		Timestamp:   c.now(),
		State:       domain.StatePending,
	}
	c.appendLocked(msg)
	snap := c.snapshotLocked()
	c.mu.Unlock()
	c.publish(snap)

	payload, err := protocol.EncodeChatMessage(protocol.ChatMessage{
		MessageID:   msg.ID,
		WorkspaceID: msg.WorkspaceID,
		AgentID:     msg.AgentID,
		Text:        text,
	})
	if err == nil {
		err = c.transport.Send(ctx, payload)
	}
	if err != nil {
		reason := ReasonConnectionLost
		if errors.Is(err, realtime.ErrNotConnected) {
			reason = ReasonNotConnected
		}
		c.logger.Warn("Message not sent", "message_id", msg.ID, "reason", reason, "error", err)
		failed := c.failMessage(msg.ID, reason)
		return failed, fmt.Errorf("send message: %w", err)
	}

	c.logger.Debug("Message sent", "message_id", msg.ID)
	return msg.Clone(), nil
}

// ClearTrace drops the technical trace buffered for agentID.
func (c *Controller) ClearTrace(agentID string) {
	c.mu.Lock()
	if _, ok := c.traces[agentID]; !ok {
		c.mu.Unlock()
		return
	}
	delete(c.traces, agentID)
	snap := c.snapshotLocked()
	c.mu.Unlock()
	c.publish(snap)
}

// Snapshot returns a copy of the conversation state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// Subscribe registers fn for state changes and immediately delivers the
// current snapshot.
func (c *Controller) Subscribe(fn func(Snapshot)) (unsubscribe func()) {
	c.mu.Lock()
	c.nextListen++
	id := c.nextListen
	c.listeners[id] = fn
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.notifyMu.Lock()
	fn(snap)
	c.notifyMu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.listeners, id)
		c.mu.Unlock()
	}
}

func (c *Controller) handleFrame(raw []byte) {
	ev, err := protocol.Decode(raw)
	if err != nil {
		if errors.Is(err, protocol.ErrUnknownEventKind) {
			c.logger.Debug("Ignoring unknown event", "error", err)
		} else {
			c.logger.Warn("Dropping malformed frame", "error", err)
		}
		return
	}
	c.apply(ev)
}

// apply folds one decoded event into the conversation state.
func (c *Controller) apply(ev protocol.Event) {
	c.mu.Lock()
	changed := true
	switch e := ev.(type) {
	case protocol.ChatDelta:
		if !c.activeLocked(e.WorkspaceID, e.AgentID) {
			c.mu.Unlock()
			c.logger.Debug("Dropping delta for another conversation",
				"message_id", e.MessageID, "workspace_id", e.WorkspaceID, "agent_id", e.AgentID)
			return
		}
		changed = c.applyDeltaLocked(e)
	case protocol.ThinkingDelta:
		c.appendTraceLocked(e)
	case protocol.StatusChange:
		changed = c.serverState != e.State
		c.serverState = e.State
	case protocol.ErrorEvent:
		if !c.activeLocked(e.WorkspaceID, "") {
			c.mu.Unlock()
			c.logger.Debug("Dropping error for another workspace", "workspace_id", e.WorkspaceID, "reason", e.Reason)
			return
		}
		if e.MessageID == "" {
			c.lastError = e.Reason
		} else {
			changed = c.failLocked(e.MessageID, e.Reason)
		}
	default:
		changed = false
	}
	if !changed {
		c.mu.Unlock()
		return
	}
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.publish(snap)
}

// activeLocked reports whether an event scoped to workspaceID and agentID
// belongs to the active conversation. Empty scopes match.
func (c *Controller) activeLocked(workspaceID, agentID string) bool {
	if workspaceID != "" && workspaceID != c.workspaceID {
		return false
	}
	return agentID == "" || agentID == c.agentID
}

func (c *Controller) applyDeltaLocked(d protocol.ChatDelta) bool {
	i, ok := c.index[d.MessageID]
	if !ok {
		role := d.Role
		if role == "" {
			role = domain.RoleAgent
		}
		agentID := d.AgentID
		if agentID == "" {
			agentID = c.agentID
		}
		state := domain.StateStreaming
		if d.Done {
			state = domain.StateComplete
		}
		c.appendLocked(domain.Message{
			ID:          d.MessageID,
			WorkspaceID: c.workspaceID,
			AgentID:     agentID,
			Role:        role,
			Content:     d.Text,
			Timestamp:   c.now(),
			State:       state,
		})
		return true
	}

	m := &c.messages[i]
	if m.State.Terminal() {
		c.logger.Debug("Ignoring delta for finished message", "message_id", d.MessageID, "state", m.State)
		return false
	}
	m.Content += d.Text
	if d.Done {
		m.State = domain.StateComplete
	} else {
		m.State = domain.StateStreaming
	}
	return true
}

// appendTraceLocked extends the agent's trace, merging with the previous
// segment when the kind is unchanged.
func (c *Controller) appendTraceLocked(d protocol.ThinkingDelta) {
	kind := d.Trace
	if kind == "" {
		kind = domain.TraceThinking
	}
	segs := c.traces[d.AgentID]
	if n := len(segs); n > 0 && segs[n-1].Kind == kind {
		segs[n-1].Text += d.Text
	} else {
		segs = append(segs, domain.Trace{Kind: kind, Text: d.Text})
	}
	c.traces[d.AgentID] = segs
}

func (c *Controller) handleStatus(st realtime.Status) {
	c.mu.Lock()
	reconnected := st.State == realtime.Connected && c.conn.State != realtime.Connected
	workspaceID := c.workspaceID
	c.conn = st
	var failed int
	if st.State == realtime.Disconnected {
		for i := range c.messages {
			m := &c.messages[i]
			if m.State == domain.StatePending || m.State == domain.StateStreaming {
				m.State = domain.StateFailed
				m.FailureReason = ReasonConnectionLost
				failed++
			}
		}
	}
	snap := c.snapshotLocked()
	c.mu.Unlock()

	if failed > 0 {
		c.logger.Warn("Connection lost, in-flight messages failed", "count", failed)
	}
	c.publish(snap)
	if reconnected {
		c.announce(workspaceID)
	}
}

func (c *Controller) failMessage(id, reason string) domain.Message {
	c.mu.Lock()
	c.failLocked(id, reason)
	var out domain.Message
	if i, ok := c.index[id]; ok {
		out = c.messages[i].Clone()
	}
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.publish(snap)
	return out
}

func (c *Controller) failLocked(id, reason string) bool {
	i, ok := c.index[id]
	if !ok || c.messages[i].State.Terminal() {
		return false
	}
	c.messages[i].State = domain.StateFailed
	c.messages[i].FailureReason = reason
	return true
}

func (c *Controller) appendLocked(m domain.Message) {
	c.index[m.ID] = len(c.messages)
	c.messages = append(c.messages, m)
}

func (c *Controller) snapshotLocked() Snapshot {
	msgs := make([]domain.Message, len(c.messages))
	for i, m := range c.messages {
		msgs[i] = m.Clone()
	}
	traces := make(map[string][]domain.Trace, len(c.traces))
	for id, segs := range c.traces {
		traces[id] = append([]domain.Trace(nil), segs...)
	}
	return Snapshot{
		WorkspaceID: c.workspaceID,
		AgentID:     c.agentID,
		Messages:    msgs,
		Traces:      traces,
		Connection:  c.conn,
		ServerState: c.serverState,
		LastError:   c.lastError,
	}
}

func (c *Controller) publish(snap Snapshot) {
	c.mu.Lock()
	fns := make([]func(Snapshot), 0, len(c.listeners))
	for _, fn := range c.listeners {
		fns = append(fns, fn)
	}
	c.mu.Unlock()

	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()
	for _, fn := range fns {
		fn(snap)
	}
}
