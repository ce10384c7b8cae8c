package console

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashureev/agentconsole/internal/domain"
	"github.com/ashureev/agentconsole/internal/entitystore"
)

const sampleManifest = `
agents:
  - name: Lead
    type: orchestrator
    model: anthropic/claude-sonnet-4-5
    systemPrompt: Coordinate the others.
    config:
      tools: [search]
      memory: {enabled: true, limit: 50}
  - name: Writer
    type: writer
  - name: Helper
`

func TestParseManifest(t *testing.T) {
	m, err := ParseManifest(strings.NewReader(sampleManifest))
	require.NoError(t, err)
	require.Len(t, m.Agents, 3)

	lead := m.Agents[0]
	assert.Equal(t, domain.AgentTypeOrchestrator, lead.Type)
	assert.Equal(t, []string{"search"}, lead.Config.Tools)
	assert.Equal(t, domain.MemoryConfig{Enabled: true, Limit: 50}, lead.Config.Memory)
	assert.Equal(t, domain.AgentTypeGeneric, m.Agents[2].Type, "missing type defaults to generic")
}

func TestParseManifestRejectsBadInput(t *testing.T) {
	tests := map[string]string{
		"empty":          "",
		"unknown field":  "agents:\n  - name: A\n    colour: red\n",
		"missing name":   "agents:\n  - type: code\n",
		"bad type":       "agents:\n  - name: A\n    type: wizard\n",
		"duplicate name": "agents:\n  - name: A\n  - name: A\n",
		"not yaml":       "agents: [",
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ParseManifest(strings.NewReader(doc))
			assert.Error(t, err)
		})
	}
}

func TestPlanMatchesByIDThenName(t *testing.T) {
	existing := []domain.Agent{
		{ID: "a1", Name: "Lead", Type: domain.AgentTypeOrchestrator, Model: "anthropic/claude-sonnet-4-5", SystemPrompt: "Coordinate the others.",
			Config: domain.AgentConfig{Tools: []string{"search"}, Memory: domain.MemoryConfig{Enabled: true, Limit: 50}}},
		{ID: "a2", Name: "Writer", Type: domain.AgentTypeCode, Model: "echo/simulated"},
		{ID: "a3", Name: "Renamed", Type: domain.AgentTypeGeneric},
	}
	m := Manifest{Agents: []ManifestAgent{
		{Name: "Lead", Type: domain.AgentTypeOrchestrator, Model: "anthropic/claude-sonnet-4-5", SystemPrompt: "Coordinate the others.",
			Config: domain.AgentConfig{Tools: []string{"search"}, Memory: domain.MemoryConfig{Enabled: true, Limit: 50}}},
		{Name: "Writer", Type: domain.AgentTypeWriter},
		{ID: "a3", Name: "Planner", Type: domain.AgentTypePlanner},
		{Name: "Fresh", Type: domain.AgentTypeResearch},
	}}

	changes := Plan(existing, m)
	require.Len(t, changes, 4)

	assert.Equal(t, OpUnchanged, changes[0].Op)
	assert.Equal(t, OpUpdate, changes[1].Op)
	assert.Equal(t, "a2", changes[1].Agent.ID)
	assert.Equal(t, "echo/simulated", changes[1].Agent.Model, "an unset model keeps the current one")
	assert.Equal(t, OpUpdate, changes[2].Op)
	assert.Equal(t, "Planner", changes[2].Agent.Name)
	assert.Equal(t, OpCreate, changes[3].Op)
	assert.Empty(t, changes[3].Agent.ID)
}

type fakeWriter struct {
	created []domain.Agent
	updated []domain.Agent
	failOn  string
}

func (f *fakeWriter) Create(_ context.Context, draft domain.Agent, _ ...entitystore.CreateOption) (domain.Agent, error) {
	if draft.Name == f.failOn {
		return domain.Agent{}, errors.New("boom")
	}
	draft.ID = "new-" + draft.Name
	f.created = append(f.created, draft)
	return draft, nil
}

func (f *fakeWriter) Update(_ context.Context, item domain.Agent) (domain.Agent, error) {
	if item.Name == f.failOn {
		return domain.Agent{}, errors.New("boom")
	}
	f.updated = append(f.updated, item)
	return item, nil
}

func TestApply(t *testing.T) {
	changes := []Change{
		{Op: OpUnchanged, Agent: domain.Agent{ID: "a1", Name: "Lead"}},
		{Op: OpUpdate, Agent: domain.Agent{ID: "a2", Name: "Writer"}},
		{Op: OpCreate, Agent: domain.Agent{Name: "Fresh"}},
	}

	w := &fakeWriter{}
	done, err := Apply(context.Background(), w, changes)
	require.NoError(t, err)
	require.Len(t, done, 2)
	assert.Equal(t, "new-Fresh", done[1].Agent.ID)
	assert.Len(t, w.updated, 1)
	assert.Len(t, w.created, 1)
}

func TestApplyStopsAtFirstFailure(t *testing.T) {
	changes := []Change{
		{Op: OpCreate, Agent: domain.Agent{Name: "Bad"}},
		{Op: OpCreate, Agent: domain.Agent{Name: "Good"}},
	}
	w := &fakeWriter{failOn: "Bad"}
	done, err := Apply(context.Background(), w, changes)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `create agent "Bad"`)
	assert.Empty(t, done)
	assert.Empty(t, w.created)
}
