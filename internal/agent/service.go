package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ashureev/agentconsole/internal/domain"
	"github.com/ashureev/agentconsole/internal/hub"
	"github.com/ashureev/agentconsole/internal/protocol"
	"github.com/ashureev/agentconsole/internal/store"
)

// Server states broadcast around an agent turn.
const (
	StateBusy = "busy"
	StateIdle = "idle"
)

var (
	// ErrUnknownAgent is returned when a run names an agent that does not exist.
	ErrUnknownAgent = errors.New("agent not found")
	// ErrUnknownWorkspace is returned when a run names a workspace that does not exist.
	ErrUnknownWorkspace = errors.New("workspace not found")
	// ErrRateLimited is returned when a workspace sends messages too quickly.
	ErrRateLimited = errors.New("rate limit exceeded")
)

// ServiceConfig configures a Service.
type ServiceConfig struct {
	DefaultModel    string // used for agents without a model, "provider/model"
	ConversationLog ConversationLogger
	RateLimiter     *RateLimiter // optional, keyed by workspace
	Logger          *slog.Logger
}

// Service routes user messages to the processor serving each agent's model
// and keeps the conversation history.
type Service struct {
	repo         store.Repository
	processors   map[string]Processor
	defaultModel string
	log          ConversationLogger
	limiter      *RateLimiter
	logger       *slog.Logger
}

var _ hub.Dispatcher = (*Service)(nil)

// NewService creates a service over the given processors.
func NewService(repo store.Repository, cfg ServiceConfig, processors ...Processor) *Service {
	if cfg.ConversationLog == nil {
		cfg.ConversationLog = noopConversationLogger{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	s := &Service{
		repo:         repo,
		processors:   make(map[string]Processor, len(processors)),
		defaultModel: cfg.DefaultModel,
		log:          cfg.ConversationLog,
		limiter:      cfg.RateLimiter,
		logger:       cfg.Logger,
	}
	for _, p := range processors {
		s.processors[p.Name()] = p
	}
	return s
}

// Providers returns the registered provider names.
func (s *Service) Providers() []string {
	names := make([]string, 0, len(s.processors))
	for name := range s.processors {
		names = append(names, name)
	}
	return names
}

// Dispatch implements hub.Dispatcher.
func (s *Service) Dispatch(ctx context.Context, msg protocol.ChatMessage, emit hub.Emitter) {
	_, _ = s.Run(ctx, RunRequest{
		MessageID:   msg.MessageID,
		WorkspaceID: msg.WorkspaceID,
		AgentID:     msg.AgentID,
		Text:        msg.Text,
		Channel:     "ws",
	}, emit)
}

// Run answers one user message. Output is emitted as chat and thinking
// deltas while it streams, bracketed by busy and idle status events. The
// user message and the agent reply are stored, including failed replies
// with whatever content arrived. Errors are also emitted as error events.
func (s *Service) Run(ctx context.Context, req RunRequest, emit hub.Emitter) (domain.Message, error) {
	if emit == nil {
		emit = func(protocol.Event) {}
	}
	fail := func(err error) (domain.Message, error) {
		emit(protocol.ErrorEvent{Reason: err.Error(), WorkspaceID: req.WorkspaceID})
		return domain.Message{}, err
	}

	if err := req.Validate(); err != nil {
		return fail(err)
	}
	if s.limiter != nil && !s.limiter.Allow(req.WorkspaceID) {
		return fail(ErrRateLimited)
	}

	agent, err := s.repo.GetAgent(ctx, req.AgentID)
	if errors.Is(err, store.ErrNotFound) {
		return fail(fmt.Errorf("%w: %s", ErrUnknownAgent, req.AgentID))
	} else if err != nil {
		return fail(fmt.Errorf("load agent: %w", err))
	}
	if _, err := s.repo.GetWorkspace(ctx, req.WorkspaceID); errors.Is(err, store.ErrNotFound) {
		return fail(fmt.Errorf("%w: %s", ErrUnknownWorkspace, req.WorkspaceID))
	} else if err != nil {
		return fail(fmt.Errorf("load workspace: %w", err))
	}

	var history []domain.Message
	if agent.Config.Memory.Enabled {
		history, err = s.repo.ListMessages(ctx, req.WorkspaceID, agent.ID, agent.MemoryLimit())
		if err != nil {
			s.logger.Warn("failed to load agent memory", "agent_id", agent.ID, "error", err)
		}
	}

	if req.MessageID == "" {
		req.MessageID = uuid.NewString()
	}
	s.store(ctx, domain.Message{
		ID:          req.MessageID,
		WorkspaceID: req.WorkspaceID,
		AgentID:     agent.ID,
		Role:        domain.RoleUser,
		Content:     req.Text,
		Timestamp:   time.Now().UTC(),
		State:       domain.StateComplete,
	})
	s.log.Log(ConversationLogEvent{
		WorkspaceID: req.WorkspaceID,
		AgentID:     agent.ID,
		MessageID:   req.MessageID,
		Channel:     req.Channel,
		Direction:   "inbound",
		EventType:   "chat_user_message",
		ContentRaw:  req.Text,
	})

	model := agent.Model
	if model == "" {
		model = s.defaultModel
	}
	provider, modelName := SplitModel(model)
	proc, ok := s.processors[provider]
	if !ok {
		return fail(fmt.Errorf("%w: %q", ErrUnknownProvider, provider))
	}

	s.logger.Info("Agent turn started",
		"workspace_id", req.WorkspaceID,
		"agent_id", agent.ID,
		"provider", provider,
		"model", modelName,
		"history", len(history),
	)
	emit(protocol.StatusChange{State: StateBusy})
	defer emit(protocol.StatusChange{State: StateIdle})

	reply := domain.Message{
		ID:          uuid.NewString(),
		WorkspaceID: req.WorkspaceID,
		AgentID:     agent.ID,
		Role:        domain.RoleAgent,
		State:       domain.StateStreaming,
	}
	var content, trace strings.Builder
	var traceKind domain.TraceKind
	chunks := 0

	var streamErr error
	for chunk, err := range proc.Stream(ctx, Turn{
		Agent:       agent,
		Model:       modelName,
		WorkspaceID: req.WorkspaceID,
		History:     history,
		Message:     req.Text,
	}) {
		if err != nil {
			streamErr = err
			break
		}
		if chunk == nil || chunk.Text == "" {
			continue
		}
		if chunk.Kind == ChunkText {
			chunks++
			content.WriteString(chunk.Text)
			emit(protocol.ChatDelta{MessageID: reply.ID, Text: chunk.Text, Role: domain.RoleAgent, WorkspaceID: req.WorkspaceID, AgentID: agent.ID})
			continue
		}
		if traceKind == "" {
			traceKind = chunk.Kind.TraceKind()
		}
		trace.WriteString(chunk.Text)
		emit(protocol.ThinkingDelta{AgentID: agent.ID, Text: chunk.Text, Trace: chunk.Kind.TraceKind()})
	}

	reply.Content = content.String()
	reply.Timestamp = time.Now().UTC()
	if trace.Len() > 0 {
		reply.Trace = &domain.Trace{Kind: traceKind, Text: trace.String()}
	}

	if streamErr != nil {
		s.logger.Error("Agent stream failed", "agent_id", agent.ID, "error", streamErr)
		reply.State = domain.StateFailed
		reply.FailureReason = streamErr.Error()
		ev := protocol.ErrorEvent{Reason: streamErr.Error(), WorkspaceID: req.WorkspaceID}
		if chunks > 0 {
			ev.MessageID = reply.ID
		}
		emit(ev)
	} else {
		reply.State = domain.StateComplete
		emit(protocol.ChatDelta{MessageID: reply.ID, Text: "", Done: true, Role: domain.RoleAgent, WorkspaceID: req.WorkspaceID, AgentID: agent.ID})
	}

	s.store(context.WithoutCancel(ctx), reply)
	s.logReply(req, reply, chunks)

	if streamErr != nil {
		return reply, streamErr
	}
	return reply, nil
}

func (s *Service) store(ctx context.Context, msg domain.Message) {
	if err := s.repo.AppendMessage(ctx, msg); err != nil {
		s.logger.Warn("failed to store message", "message_id", msg.ID, "role", msg.Role, "error", err)
	}
}

func (s *Service) logReply(req RunRequest, reply domain.Message, chunks int) {
	meta := map[string]any{
		"stream_chunks": chunks,
		"partial":       reply.State == domain.StateFailed,
		"stream_error":  reply.FailureReason,
	}
	if reply.Trace != nil {
		meta["trace_kind"] = reply.Trace.Kind
		meta["trace"] = reply.Trace.Text
	}
	s.log.Log(ConversationLogEvent{
		WorkspaceID: req.WorkspaceID,
		AgentID:     reply.AgentID,
		MessageID:   reply.ID,
		Channel:     req.Channel,
		Direction:   "outbound",
		EventType:   "chat_assistant_message",
		ContentRaw:  reply.Content,
		Meta:        meta,
	})
}
