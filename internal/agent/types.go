// Package agent runs agent turns against language-model backends and
// streams their output as channel events.
package agent

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"

	"github.com/ashureev/agentconsole/internal/domain"
)

// ErrUnknownProvider is returned when an agent's model names a provider that
// is not configured.
var ErrUnknownProvider = errors.New("provider not configured")

// ChunkKind distinguishes reply text from trace text.
type ChunkKind string

const (
	// ChunkText is part of the visible reply.
	ChunkText ChunkKind = "text"
	// ChunkThinking is model thinking shown only in the technical view.
	ChunkThinking ChunkKind = "thinking"
	// ChunkReasoning is step-by-step reasoning shown only in the technical view.
	ChunkReasoning ChunkKind = "reasoning"
)

// TraceKind maps a trace chunk to its domain kind.
func (k ChunkKind) TraceKind() domain.TraceKind {
	if k == ChunkReasoning {
		return domain.TraceReasoning
	}
	return domain.TraceThinking
}

// Chunk is one piece of streamed agent output.
type Chunk struct {
	Kind ChunkKind
	Text string
}

// Turn is everything a processor needs to answer one user message.
type Turn struct {
	Agent       domain.Agent
	Model       string // model name without the provider prefix
	WorkspaceID string
	History     []domain.Message // earlier messages, oldest first
	Message     string
}

// Processor defines the interface for agent backends.
type Processor interface {
	// Name is the provider prefix this processor serves, e.g. "anthropic".
	Name() string

	// Stream answers a turn. Iteration stops at the first error.
	Stream(ctx context.Context, turn Turn) iter.Seq2[*Chunk, error]
}

// SplitModel splits "provider/model" into its parts. A value without a slash
// is treated as a provider with its default model.
func SplitModel(id string) (provider, model string) {
	provider, model, _ = strings.Cut(strings.TrimSpace(id), "/")
	return strings.ToLower(provider), model
}

// RunRequest is one user message addressed to an agent.
type RunRequest struct {
	MessageID   string
	WorkspaceID string
	AgentID     string
	Text        string
	Channel     string // "ws" or "http", for conversation logs
}

// Validate checks required fields.
func (r RunRequest) Validate() error {
	switch {
	case r.WorkspaceID == "":
		return fmt.Errorf("workspaceId is required")
	case r.AgentID == "":
		return fmt.Errorf("agentId is required")
	case strings.TrimSpace(r.Text) == "":
		return fmt.Errorf("message is required")
	}
	return nil
}

// historyRole maps stored roles onto the two chat roles model APIs accept.
func historyRole(r domain.Role) string {
	if r == domain.RoleAgent {
		return "assistant"
	}
	return "user"
}

// usableHistory drops messages a model should not see again.
func usableHistory(msgs []domain.Message) []domain.Message {
	out := make([]domain.Message, 0, len(msgs))
	for _, m := range msgs {
		if m.State != domain.StateComplete || m.Content == "" || m.Role == domain.RoleSystem {
			continue
		}
		out = append(out, m)
	}
	return out
}
