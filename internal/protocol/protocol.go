// Package protocol defines the JSON frames exchanged over the real-time channel.
//
// Every frame is an object with a required "kind" discriminant. Inbound frames
// (server to client) are decoded into typed events by Decode; outbound frames
// (client to server) are decoded by the server with DecodeClientFrame.
package protocol

import (
	"encoding/json"

	"github.com/ashureev/agentconsole/internal/domain"
)

// Kind is the frame discriminant.
type Kind string

// Server-to-client kinds.
const (
	KindChatDelta     Kind = "chat_delta"
	KindThinkingDelta Kind = "thinking_delta"
	KindStatus        Kind = "status"
	KindError         Kind = "error"
)

// Client-to-server kinds.
const (
	KindChatMessage Kind = "chat_message"
	KindWatch       Kind = "watch"
	KindPing        Kind = "ping"
)

// Event is a decoded inbound frame. The concrete type is one of
// ChatDelta, ThinkingDelta, StatusChange or ErrorEvent.
type Event interface {
	Kind() Kind
}

// ChatDelta is an incremental fragment of a chat message. WorkspaceID and
// AgentID name the conversation the message belongs to.
type ChatDelta struct {
	MessageID   string      `json:"messageId"`
	Text        string      `json:"text"`
	Done        bool        `json:"done,omitempty"`
	Role        domain.Role `json:"role,omitempty"`
	WorkspaceID string      `json:"workspaceId,omitempty"`
	AgentID     string      `json:"agentId,omitempty"`
}

// Kind implements Event.
func (ChatDelta) Kind() Kind { return KindChatDelta }

// ThinkingDelta is an incremental fragment of an agent's technical trace.
type ThinkingDelta struct {
	AgentID string           `json:"agentId"`
	Text    string           `json:"text"`
	Trace   domain.TraceKind `json:"trace,omitempty"`
}

// Kind implements Event.
func (ThinkingDelta) Kind() Kind { return KindThinkingDelta }

// StatusChange reports a backend status transition such as "busy" or "idle".
type StatusChange struct {
	State string `json:"state"`
}

// Kind implements Event.
func (StatusChange) Kind() Kind { return KindStatus }

// ErrorEvent reports a backend failure, optionally tied to one message.
type ErrorEvent struct {
	Reason      string `json:"reason"`
	MessageID   string `json:"messageId,omitempty"`
	WorkspaceID string `json:"workspaceId,omitempty"`
}

// Kind implements Event.
func (ErrorEvent) Kind() Kind { return KindError }

// ChatMessage is sent by the client to submit a user message.
type ChatMessage struct {
	MessageID   string `json:"messageId"`
	WorkspaceID string `json:"workspaceId"`
	AgentID     string `json:"agentId"`
	Text        string `json:"text"`
}

// Watch is sent by the client to receive a workspace's output. A connection
// watches one workspace at a time.
type Watch struct {
	WorkspaceID string `json:"workspaceId"`
}

// Encode marshals an event into a frame carrying its kind.
func Encode(ev Event) ([]byte, error) {
	return marshalWithKind(ev.Kind(), ev)
}

// EncodeChatMessage marshals a client chat message frame.
func EncodeChatMessage(msg ChatMessage) ([]byte, error) {
	return marshalWithKind(KindChatMessage, msg)
}

// EncodeWatch marshals a client watch frame.
func EncodeWatch(workspaceID string) ([]byte, error) {
	return marshalWithKind(KindWatch, Watch{WorkspaceID: workspaceID})
}

// EncodePing marshals a client keepalive frame.
func EncodePing() []byte {
	return []byte(`{"kind":"ping"}`)
}

func marshalWithKind(kind Kind, v any) ([]byte, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, err
	}
	k, err := json.Marshal(kind)
	if err != nil {
		return nil, err
	}
	fields["kind"] = k
	return json.Marshal(fields)
}
