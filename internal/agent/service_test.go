package agent

import (
	"context"
	"errors"
	"iter"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ashureev/agentconsole/internal/domain"
	"github.com/ashureev/agentconsole/internal/protocol"
	"github.com/ashureev/agentconsole/internal/store"
)

// scriptedProcessor yields fixed chunks, then an optional error.
type scriptedProcessor struct {
	name   string
	chunks []Chunk
	err    error

	mu    sync.Mutex
	turns []Turn
}

func (p *scriptedProcessor) Name() string { return p.name }

func (p *scriptedProcessor) Stream(_ context.Context, turn Turn) iter.Seq2[*Chunk, error] {
	p.mu.Lock()
	p.turns = append(p.turns, turn)
	p.mu.Unlock()
	return func(yield func(*Chunk, error) bool) {
		for i := range p.chunks {
			c := p.chunks[i]
			if !yield(&c, nil) {
				return
			}
		}
		if p.err != nil {
			yield(nil, p.err)
		}
	}
}

type eventLog struct {
	mu     sync.Mutex
	events []protocol.Event
}

func (l *eventLog) emit(ev protocol.Event) {
	l.mu.Lock()
	l.events = append(l.events, ev)
	l.mu.Unlock()
}

func (l *eventLog) all() []protocol.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]protocol.Event(nil), l.events...)
}

func newTestRepo(t *testing.T) store.Repository {
	t.Helper()
	repo, err := store.NewSQLite(filepath.Join(t.TempDir(), "agent.db"))
	if err != nil {
		t.Fatalf("NewSQLite() error = %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func seed(t *testing.T, repo store.Repository, agent domain.Agent) {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC()
	if agent.ID == "" {
		agent.ID = "a1"
	}
	if agent.Name == "" {
		agent.Name = "Scout"
	}
	if agent.Type == "" {
		agent.Type = domain.AgentTypeResearch
	}
	agent.CreatedAt, agent.UpdatedAt = now, now
	if err := repo.CreateAgent(ctx, agent); err != nil {
		t.Fatalf("CreateAgent: %v", err)
	}
	if err := repo.CreateWorkspace(ctx, domain.Workspace{ID: "ws1", Name: "Main", CreatedAt: now, UpdatedAt: now}); err != nil {
		t.Fatalf("CreateWorkspace: %v", err)
	}
}

func TestServiceRunStreamsAndStoresReply(t *testing.T) {
	t.Parallel()

	repo := newTestRepo(t)
	seed(t, repo, domain.Agent{Model: "fake/m1"})
	proc := &scriptedProcessor{name: "fake", chunks: []Chunk{
		{Kind: ChunkThinking, Text: "hmm "},
		{Kind: ChunkText, Text: "Hel"},
		{Kind: ChunkReasoning, Text: "ok"},
		{Kind: ChunkText, Text: "lo"},
	}}
	svc := NewService(repo, ServiceConfig{}, proc)

	var log eventLog
	reply, err := svc.Run(context.Background(), RunRequest{MessageID: "u1", WorkspaceID: "ws1", AgentID: "a1", Text: "hi"}, log.emit)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if reply.Content != "Hello" || reply.State != domain.StateComplete {
		t.Fatalf("unexpected reply: %+v", reply)
	}
	if reply.Trace == nil || reply.Trace.Kind != domain.TraceThinking || reply.Trace.Text != "hmm ok" {
		t.Fatalf("unexpected trace: %+v", reply.Trace)
	}
	if proc.turns[0].Model != "m1" {
		t.Fatalf("model = %q, want m1", proc.turns[0].Model)
	}

	want := []protocol.Event{
		protocol.StatusChange{State: StateBusy},
		protocol.ThinkingDelta{AgentID: "a1", Text: "hmm ", Trace: domain.TraceThinking},
		protocol.ChatDelta{MessageID: reply.ID, Text: "Hel", Role: domain.RoleAgent, WorkspaceID: "ws1", AgentID: "a1"},
		protocol.ThinkingDelta{AgentID: "a1", Text: "ok", Trace: domain.TraceReasoning},
		protocol.ChatDelta{MessageID: reply.ID, Text: "lo", Role: domain.RoleAgent, WorkspaceID: "ws1", AgentID: "a1"},
		protocol.ChatDelta{MessageID: reply.ID, Text: "", Done: true, Role: domain.RoleAgent, WorkspaceID: "ws1", AgentID: "a1"},
		protocol.StatusChange{State: StateIdle},
	}
	got := log.all()
	if len(got) != len(want) {
		t.Fatalf("got %d events, want %d: %+v", len(got), len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event %d = %+v, want %+v", i, got[i], want[i])
		}
	}

	msgs, err := repo.ListMessages(context.Background(), "ws1", "a1", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 2 || msgs[0].ID != "u1" || msgs[0].Role != domain.RoleUser || msgs[1].ID != reply.ID {
		t.Fatalf("unexpected stored history: %+v", msgs)
	}
}

func TestServiceRunStoresPartialReplyOnFailure(t *testing.T) {
	t.Parallel()

	repo := newTestRepo(t)
	seed(t, repo, domain.Agent{Model: "fake/m"})
	proc := &scriptedProcessor{name: "fake", chunks: []Chunk{{Kind: ChunkText, Text: "par"}}, err: errors.New("upstream reset")}
	svc := NewService(repo, ServiceConfig{}, proc)

	var log eventLog
	reply, err := svc.Run(context.Background(), RunRequest{WorkspaceID: "ws1", AgentID: "a1", Text: "hi"}, log.emit)
	if err == nil {
		t.Fatal("expected stream error")
	}
	if reply.State != domain.StateFailed || reply.Content != "par" || reply.FailureReason != "upstream reset" {
		t.Fatalf("unexpected reply: %+v", reply)
	}

	events := log.all()
	var sawError bool
	for _, ev := range events {
		if e, ok := ev.(protocol.ErrorEvent); ok {
			sawError = true
			if e.MessageID != reply.ID || e.WorkspaceID != "ws1" {
				t.Fatalf("error event not tied to reply: %+v", e)
			}
		}
		if d, ok := ev.(protocol.ChatDelta); ok && d.Done {
			t.Fatal("failed reply must not be marked done")
		}
	}
	if !sawError {
		t.Fatal("expected an error event")
	}
	if last := events[len(events)-1]; last != (protocol.StatusChange{State: StateIdle}) {
		t.Fatalf("last event = %+v, want idle status", last)
	}

	msgs, _ := repo.ListMessages(context.Background(), "ws1", "", 10)
	if len(msgs) != 2 || msgs[1].State != domain.StateFailed {
		t.Fatalf("unexpected stored history: %+v", msgs)
	}
}

func TestServiceRunErrorBeforeOutputHasNoMessageID(t *testing.T) {
	t.Parallel()

	repo := newTestRepo(t)
	seed(t, repo, domain.Agent{Model: "fake/m"})
	svc := NewService(repo, ServiceConfig{}, &scriptedProcessor{name: "fake", err: errors.New("quota")})

	var log eventLog
	_, _ = svc.Run(context.Background(), RunRequest{WorkspaceID: "ws1", AgentID: "a1", Text: "hi"}, log.emit)
	for _, ev := range log.all() {
		if e, ok := ev.(protocol.ErrorEvent); ok && (e.MessageID != "" || e.WorkspaceID != "ws1") {
			t.Fatalf("expected a general error for ws1, got %+v", e)
		}
	}
}

func TestServiceRunRejectsUnknownTargets(t *testing.T) {
	t.Parallel()

	repo := newTestRepo(t)
	seed(t, repo, domain.Agent{Model: "nowhere/m"})
	svc := NewService(repo, ServiceConfig{}, &scriptedProcessor{name: "fake"})

	tests := []struct {
		name string
		req  RunRequest
		want error
	}{
		{"unknown agent", RunRequest{WorkspaceID: "ws1", AgentID: "zz", Text: "x"}, ErrUnknownAgent},
		{"unknown workspace", RunRequest{WorkspaceID: "zz", AgentID: "a1", Text: "x"}, ErrUnknownWorkspace},
		{"unknown provider", RunRequest{WorkspaceID: "ws1", AgentID: "a1", Text: "x"}, ErrUnknownProvider},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var log eventLog
			_, err := svc.Run(context.Background(), tt.req, log.emit)
			if !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
			events := log.all()
			if len(events) != 1 {
				t.Fatalf("expected a single error event, got %+v", events)
			}
			if _, ok := events[0].(protocol.ErrorEvent); !ok {
				t.Fatalf("expected error event, got %+v", events[0])
			}
		})
	}
}

func TestServiceRunUsesDefaultModelAndMemory(t *testing.T) {
	t.Parallel()

	repo := newTestRepo(t)
	seed(t, repo, domain.Agent{Config: domain.AgentConfig{Memory: domain.MemoryConfig{Enabled: true, Limit: 2}}})
	proc := &scriptedProcessor{name: "fake", chunks: []Chunk{{Kind: ChunkText, Text: "ok"}}}
	svc := NewService(repo, ServiceConfig{DefaultModel: "fake/default"}, proc)

	for _, text := range []string{"one", "two", "three"} {
		if _, err := svc.Run(context.Background(), RunRequest{WorkspaceID: "ws1", AgentID: "a1", Text: text}, nil); err != nil {
			t.Fatalf("Run(%q): %v", text, err)
		}
	}

	proc.mu.Lock()
	defer proc.mu.Unlock()
	last := proc.turns[2]
	if last.Model != "default" {
		t.Fatalf("model = %q", last.Model)
	}
	if len(last.History) != 2 || last.History[0].Content != "two" || last.History[1].Content != "ok" {
		t.Fatalf("unexpected memory window: %+v", last.History)
	}
	if len(proc.turns[0].History) != 0 {
		t.Fatalf("first turn should have no history: %+v", proc.turns[0].History)
	}
}

func TestServiceRunWithoutMemorySendsNoHistory(t *testing.T) {
	t.Parallel()

	repo := newTestRepo(t)
	seed(t, repo, domain.Agent{Model: "fake/m"})
	proc := &scriptedProcessor{name: "fake", chunks: []Chunk{{Kind: ChunkText, Text: "ok"}}}
	svc := NewService(repo, ServiceConfig{}, proc)

	for i := 0; i < 2; i++ {
		if _, err := svc.Run(context.Background(), RunRequest{WorkspaceID: "ws1", AgentID: "a1", Text: "x"}, nil); err != nil {
			t.Fatal(err)
		}
	}
	if len(proc.turns[1].History) != 0 {
		t.Fatalf("expected no history, got %d", len(proc.turns[1].History))
	}
}

func TestServiceRunRateLimitsWorkspace(t *testing.T) {
	t.Parallel()

	repo := newTestRepo(t)
	seed(t, repo, domain.Agent{Model: "fake/m"})
	limiter := NewRateLimiter(1, time.Minute)
	t.Cleanup(limiter.Stop)
	svc := NewService(repo, ServiceConfig{RateLimiter: limiter}, &scriptedProcessor{name: "fake"})

	req := RunRequest{WorkspaceID: "ws1", AgentID: "a1", Text: "x"}
	if _, err := svc.Run(context.Background(), req, nil); err != nil {
		t.Fatalf("first run: %v", err)
	}
	if _, err := svc.Run(context.Background(), req, nil); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("second run err = %v, want ErrRateLimited", err)
	}
}

func TestServiceDispatchWithEchoProcessor(t *testing.T) {
	t.Parallel()

	repo := newTestRepo(t)
	seed(t, repo, domain.Agent{Name: "Lead", Model: "echo/simulated"})
	svc := NewService(repo, ServiceConfig{}, NewEchoProcessor(0))

	var log eventLog
	svc.Dispatch(context.Background(), protocol.ChatMessage{MessageID: "m1", WorkspaceID: "ws1", AgentID: "a1", Text: "status"}, log.emit)

	var text string
	for _, ev := range log.all() {
		if d, ok := ev.(protocol.ChatDelta); ok {
			text += d.Text
		}
	}
	if want := EchoReply("Lead", "status"); text != want {
		t.Fatalf("reply = %q, want %q", text, want)
	}
}

func TestServiceWritesConversationLog(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	convLog, err := NewConversationLogger(ConversationLogConfig{Enabled: true, Dir: dir}, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = convLog.Close() }()

	repo := newTestRepo(t)
	seed(t, repo, domain.Agent{Model: "echo"})
	svc := NewService(repo, ServiceConfig{ConversationLog: convLog}, NewEchoProcessor(0))
	if _, err := svc.Run(context.Background(), RunRequest{WorkspaceID: "ws1", AgentID: "a1", Text: "hi", Channel: "ws"}, nil); err != nil {
		t.Fatal(err)
	}

	line := waitForLogLine(t, filepath.Join(dir, "ws1", "a1.ndjson"))
	if line == "" {
		t.Fatal("expected a conversation log line")
	}
}
