package console

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashureev/agentconsole/internal/chat"
	"github.com/ashureev/agentconsole/internal/domain"
	"github.com/ashureev/agentconsole/internal/realtime"
)

func newPlainTranscript(t *testing.T, thinking bool) *Transcript {
	t.Helper()
	r, err := NewRenderer(PlainStyles(), false, 0)
	require.NoError(t, err)
	r.SetAgents([]domain.Agent{{ID: "a1", Name: "Scout"}})
	return NewTranscript(r, thinking)
}

func snap(msgs ...domain.Message) chat.Snapshot {
	return chat.Snapshot{
		WorkspaceID: "ws1",
		AgentID:     "a1",
		Messages:    msgs,
		Connection:  realtime.Status{State: realtime.Connected},
	}
}

func TestTranscriptStreamsIncrementally(t *testing.T) {
	tr := newPlainTranscript(t, false)

	out := tr.Update(snap())
	assert.Equal(t, "[connected]\n", out)

	user := domain.Message{ID: "u1", Role: domain.RoleUser, Content: "hi", State: domain.StatePending}
	assert.Equal(t, "you: hi", tr.Update(snap(user)))

	user.State = domain.StateComplete
	reply := domain.Message{ID: "r1", Role: domain.RoleAgent, AgentID: "a1", Content: "Hel", State: domain.StateStreaming}
	assert.Equal(t, "\nScout: Hel", tr.Update(snap(user, reply)))

	reply.Content = "Hello"
	assert.Equal(t, "lo", tr.Update(snap(user, reply)))

	reply.State = domain.StateComplete
	assert.Equal(t, "\n", tr.Update(snap(user, reply)))

	assert.Empty(t, tr.Update(snap(user, reply)), "finished messages are not reprinted")
}

func TestTranscriptPrintsFailureReason(t *testing.T) {
	tr := newPlainTranscript(t, false)
	tr.Update(snap())

	reply := domain.Message{ID: "r1", Role: domain.RoleAgent, AgentID: "a1", Content: "par", State: domain.StateStreaming}
	tr.Update(snap(reply))

	reply.State = domain.StateFailed
	reply.FailureReason = "connection lost"
	assert.Equal(t, " [connection lost]\n", tr.Update(snap(reply)))
}

func TestTranscriptPrintsTerminalMessagesWhole(t *testing.T) {
	tr := newPlainTranscript(t, false)
	tr.Update(snap())

	history := []domain.Message{
		{ID: "h1", Role: domain.RoleUser, Content: "earlier", State: domain.StateComplete},
		{ID: "h2", Role: domain.RoleAgent, AgentID: "a1", Content: "answer", State: domain.StateComplete},
	}
	assert.Equal(t, "you: earlier\nScout: answer\n", tr.Update(snap(history...)))
}

func TestTranscriptShowsThinkingWhenEnabled(t *testing.T) {
	tr := newPlainTranscript(t, true)
	tr.Update(snap())

	s := snap()
	s.Traces = map[string][]domain.Trace{"a1": {{Kind: domain.TraceThinking, Text: "weighing "}}}
	assert.Equal(t, "thinking: weighing\n", tr.Update(s))

	s.Traces["a1"] = []domain.Trace{{Kind: domain.TraceThinking, Text: "weighing options"}}
	assert.Equal(t, "thinking: options\n", tr.Update(s))

	tr.SetShowThinking(false)
	s.Traces["a1"] = []domain.Trace{{Kind: domain.TraceThinking, Text: "weighing options more"}}
	assert.Empty(t, tr.Update(s))
}

func TestTranscriptReportsConnectionAndErrors(t *testing.T) {
	tr := newPlainTranscript(t, false)

	s := snap()
	s.Connection = realtime.Status{State: realtime.Disconnected}
	assert.Empty(t, tr.Update(s), "initial disconnected state is quiet")

	s.Connection = realtime.Status{State: realtime.Disconnected, RetriesExhausted: true, Failures: 5}
	assert.Equal(t, "[disconnected (retries exhausted, /retry to reconnect)]\n", tr.Update(s))

	s.LastError = "rate limit exceeded"
	assert.Equal(t, "error: rate limit exceeded\n", tr.Update(s))
	assert.Empty(t, tr.Update(s))
}

func TestTranscriptResetsOnConversationChange(t *testing.T) {
	tr := newPlainTranscript(t, false)
	m := domain.Message{ID: "h1", Role: domain.RoleUser, Content: "x", State: domain.StateComplete}
	tr.Update(snap(m))

	s := snap(m)
	s.AgentID = "a2"
	assert.Contains(t, tr.Update(s), "you: x")
}
