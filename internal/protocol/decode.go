package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ashureev/agentconsole/internal/domain"
)

var (
	// ErrUnknownEventKind is returned for frames whose kind is not recognised.
	ErrUnknownEventKind = errors.New("unknown event kind")
	// ErrMalformedPayload is returned for frames missing a required field for their kind.
	ErrMalformedPayload = errors.New("malformed payload")
)

// DecodeError describes why a frame was rejected. It wraps ErrUnknownEventKind
// or ErrMalformedPayload.
type DecodeError struct {
	Kind   Kind
	Detail string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Kind == "" {
		return fmt.Sprintf("%v: %s", e.Err, e.Detail)
	}
	return fmt.Sprintf("%v (%s): %s", e.Err, e.Kind, e.Detail)
}

func (e *DecodeError) Unwrap() error { return e.Err }

func malformed(kind Kind, format string, args ...any) error {
	return &DecodeError{Kind: kind, Detail: fmt.Sprintf(format, args...), Err: ErrMalformedPayload}
}

type envelope struct {
	Kind *Kind `json:"kind"`
}

// Decode parses one inbound frame into a typed event.
func Decode(raw []byte) (Event, error) {
	kind, err := kindOf(raw)
	if err != nil {
		return nil, err
	}

	switch kind {
	case KindChatDelta:
		var f struct {
			MessageID   *string     `json:"messageId"`
			Text        *string     `json:"text"`
			Done        bool        `json:"done"`
			Role        domain.Role `json:"role"`
			WorkspaceID string      `json:"workspaceId"`
			AgentID     string      `json:"agentId"`
		}
		if err := json.Unmarshal(raw, &f); err != nil {
			return nil, malformed(kind, "%v", err)
		}
		if f.MessageID == nil || *f.MessageID == "" {
			return nil, malformed(kind, "messageId is required")
		}
		if f.Text == nil {
			return nil, malformed(kind, "text is required")
		}
		if f.Role != "" && !f.Role.Valid() {
			return nil, malformed(kind, "unsupported role %q", f.Role)
		}
		return ChatDelta{
			MessageID:   *f.MessageID,
			Text:        *f.Text,
			Done:        f.Done,
			Role:        f.Role,
			WorkspaceID: f.WorkspaceID,
			AgentID:     f.AgentID,
		}, nil

	case KindThinkingDelta:
		var f struct {
			AgentID *string          `json:"agentId"`
			Text    *string          `json:"text"`
			Trace   domain.TraceKind `json:"trace"`
		}
		if err := json.Unmarshal(raw, &f); err != nil {
			return nil, malformed(kind, "%v", err)
		}
		if f.AgentID == nil || *f.AgentID == "" {
			return nil, malformed(kind, "agentId is required")
		}
		if f.Text == nil {
			return nil, malformed(kind, "text is required")
		}
		trace := f.Trace
		if trace == "" {
			trace = domain.TraceThinking
		}
		if !trace.Valid() {
			return nil, malformed(kind, "unsupported trace %q", f.Trace)
		}
		return ThinkingDelta{AgentID: *f.AgentID, Text: *f.Text, Trace: trace}, nil

	case KindStatus:
		var f struct {
			State *string `json:"state"`
		}
		if err := json.Unmarshal(raw, &f); err != nil {
			return nil, malformed(kind, "%v", err)
		}
		if f.State == nil || *f.State == "" {
			return nil, malformed(kind, "state is required")
		}
		return StatusChange{State: *f.State}, nil

	case KindError:
		var f struct {
			Reason      *string `json:"reason"`
			MessageID   string  `json:"messageId"`
			WorkspaceID string  `json:"workspaceId"`
		}
		if err := json.Unmarshal(raw, &f); err != nil {
			return nil, malformed(kind, "%v", err)
		}
		if f.Reason == nil || *f.Reason == "" {
			return nil, malformed(kind, "reason is required")
		}
		return ErrorEvent{Reason: *f.Reason, MessageID: f.MessageID, WorkspaceID: f.WorkspaceID}, nil
	}

	return nil, &DecodeError{Kind: kind, Detail: "not a server event", Err: ErrUnknownEventKind}
}

// ClientFrame is a decoded client-to-server frame. Chat is set only for
// KindChatMessage and Watch only for KindWatch.
type ClientFrame struct {
	Kind  Kind
	Chat  *ChatMessage
	Watch *Watch
}

// DecodeClientFrame parses a frame sent by a console client.
func DecodeClientFrame(raw []byte) (ClientFrame, error) {
	kind, err := kindOf(raw)
	if err != nil {
		return ClientFrame{}, err
	}

	switch kind {
	case KindPing:
		return ClientFrame{Kind: kind}, nil
	case KindChatMessage:
		var msg ChatMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			return ClientFrame{}, malformed(kind, "%v", err)
		}
		switch {
		case msg.MessageID == "":
			return ClientFrame{}, malformed(kind, "messageId is required")
		case msg.WorkspaceID == "":
			return ClientFrame{}, malformed(kind, "workspaceId is required")
		case msg.AgentID == "":
			return ClientFrame{}, malformed(kind, "agentId is required")
		case msg.Text == "":
			return ClientFrame{}, malformed(kind, "text is required")
		}
		return ClientFrame{Kind: kind, Chat: &msg}, nil
	case KindWatch:
		var w Watch
		if err := json.Unmarshal(raw, &w); err != nil {
			return ClientFrame{}, malformed(kind, "%v", err)
		}
		if w.WorkspaceID == "" {
			return ClientFrame{}, malformed(kind, "workspaceId is required")
		}
		return ClientFrame{Kind: kind, Watch: &w}, nil
	}

	return ClientFrame{}, &DecodeError{Kind: kind, Detail: "not a client frame", Err: ErrUnknownEventKind}
}

func kindOf(raw []byte) (Kind, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return "", malformed("", "invalid JSON: %v", err)
	}
	if env.Kind == nil || *env.Kind == "" {
		return "", malformed("", "kind is required")
	}
	return *env.Kind, nil
}
