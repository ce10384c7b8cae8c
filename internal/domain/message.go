package domain

import (
	"time"
)

// Role identifies who authored a message.
type Role string

const (
	RoleUser   Role = "user"
	RoleAgent  Role = "agent"
	RoleSystem Role = "system"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAgent, RoleSystem:
		return true
	}
	return false
}

// DeliveryState tracks a message through its streaming lifecycle.
type DeliveryState string

const (
	StatePending   DeliveryState = "pending"
	StateStreaming DeliveryState = "streaming"
	StateComplete  DeliveryState = "complete"
	StateFailed    DeliveryState = "failed"
)

// Terminal reports whether no further transitions are possible.
func (s DeliveryState) Terminal() bool {
	return s == StateComplete || s == StateFailed
}

// TraceKind labels technical trace content.
type TraceKind string

const (
	TraceThinking  TraceKind = "thinking"
	TraceReasoning TraceKind = "reasoning"
)

// Valid reports whether k is a known trace kind.
func (k TraceKind) Valid() bool {
	return k == TraceThinking || k == TraceReasoning
}

// Trace is the technical thinking/reasoning text attached to a message or agent.
type Trace struct {
	Kind TraceKind `json:"kind"`
	Text string    `json:"text"`
}

// Message is a single chat message in a workspace conversation.
type Message struct {
	ID            string        `json:"id"`
	WorkspaceID   string        `json:"workspaceId"`
	AgentID       string        `json:"agentId,omitempty"`
	Role          Role          `json:"role"`
	Content       string        `json:"content"`
	Trace         *Trace        `json:"trace,omitempty"`
	Timestamp     time.Time     `json:"timestamp"`
	State         DeliveryState `json:"state"`
	FailureReason string        `json:"failureReason,omitempty"`
}

// Clone returns a copy of m that does not share its trace.
func (m Message) Clone() Message {
	if m.Trace != nil {
		t := *m.Trace
		m.Trace = &t
	}
	return m
}
