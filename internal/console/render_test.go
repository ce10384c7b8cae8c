package console

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashureev/agentconsole/internal/domain"
	"github.com/ashureev/agentconsole/internal/realtime"
)

func TestRendererCollections(t *testing.T) {
	r, err := NewRenderer(PlainStyles(), false, 0)
	require.NoError(t, err)

	out := r.Agents([]domain.Agent{
		{ID: "a1", Name: "Lead", Type: domain.AgentTypeOrchestrator, Model: "echo/simulated"},
		{ID: "a2", Name: "Coder", Type: domain.AgentTypeCode},
	}, "a1")
	assert.Contains(t, out, "* a1  Lead")
	assert.Contains(t, out, "  a2  Coder")

	out = r.Workspaces([]domain.Workspace{{ID: "w1", Name: "Main"}}, "")
	assert.Equal(t, "  w1  Main\n", out)
}

func TestRendererMessageStates(t *testing.T) {
	r, err := NewRenderer(PlainStyles(), false, 0)
	require.NoError(t, err)

	assert.Equal(t, "you: hi (sending)", r.Message(domain.Message{Role: domain.RoleUser, Content: "hi", State: domain.StatePending}))
	assert.Equal(t, "agent: x [failed]", r.Message(domain.Message{Role: domain.RoleAgent, Content: "x", State: domain.StateFailed}))
	assert.Equal(t, "system: note", r.Message(domain.Message{Role: domain.RoleSystem, Content: "note", State: domain.StateComplete}))
}

func TestRendererMarkdown(t *testing.T) {
	r, err := NewRenderer(PlainStyles(), true, 40)
	require.NoError(t, err)

	out := r.Message(domain.Message{Role: domain.RoleAgent, Content: "**bold** text", State: domain.StateComplete})
	assert.Contains(t, out, "bold")
	assert.Contains(t, out, "text")
}

func TestRendererConnection(t *testing.T) {
	r, err := NewRenderer(PlainStyles(), false, 0)
	require.NoError(t, err)

	assert.Equal(t, "connecting (attempt 2 failed)", r.Connection(realtime.Status{State: realtime.Connecting, Failures: 2}))
	assert.Equal(t, "[thinking] a\n[reasoning] b", r.Trace([]domain.Trace{{Kind: domain.TraceThinking, Text: "a"}, {Kind: domain.TraceReasoning, Text: "b"}}))
}
