package console

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/ashureev/agentconsole/internal/domain"
	"github.com/ashureev/agentconsole/internal/entitystore"
)

// ManifestAgent is one agent entry in a manifest file.
type ManifestAgent struct {
	ID           string             `yaml:"id,omitempty"`
	Name         string             `yaml:"name"`
	Type         domain.AgentType   `yaml:"type"`
	Model        string             `yaml:"model,omitempty"`
	SystemPrompt string             `yaml:"systemPrompt,omitempty"`
	Config       domain.AgentConfig `yaml:"config,omitempty"`
}

// Manifest declares a set of agents.
//
//	agents:
//	  - name: Lead
//	    type: orchestrator
//	    model: anthropic/claude-sonnet-4-5
//	    config:
//	      memory: {enabled: true, limit: 50}
type Manifest struct {
	Agents []ManifestAgent `yaml:"agents"`
}

// ParseManifest decodes and validates a manifest. Unknown keys are errors.
func ParseManifest(r io.Reader) (Manifest, error) {
	var m Manifest
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&m); err != nil {
		if errors.Is(err, io.EOF) {
			return m, errors.New("manifest is empty")
		}
		return m, fmt.Errorf("parse manifest: %w", err)
	}

	names := make(map[string]bool, len(m.Agents))
	for i, a := range m.Agents {
		if a.Type == "" {
			m.Agents[i].Type = domain.AgentTypeGeneric
		}
		if err := m.Agents[i].agent().Validate(); err != nil {
			return m, fmt.Errorf("agent %d: %w", i+1, err)
		}
		if names[a.Name] {
			return m, fmt.Errorf("agent %d: duplicate name %q", i+1, a.Name)
		}
		names[a.Name] = true
	}
	return m, nil
}

// LoadManifest reads a manifest file.
func LoadManifest(path string) (Manifest, error) {
	f, err := os.Open(path)
	if err != nil {
		return Manifest{}, err
	}
	defer func() { _ = f.Close() }()
	return ParseManifest(f)
}

func (a ManifestAgent) agent() domain.Agent {
	return domain.Agent{
		ID:           a.ID,
		Name:         a.Name,
		Type:         a.Type,
		Model:        a.Model,
		SystemPrompt: a.SystemPrompt,
		Config:       a.Config,
	}
}

// ChangeOp is what applying a manifest entry does.
type ChangeOp string

const (
	OpCreate    ChangeOp = "create"
	OpUpdate    ChangeOp = "update"
	OpUnchanged ChangeOp = "unchanged"
)

// Change is one planned manifest action.
type Change struct {
	Op    ChangeOp
	Agent domain.Agent
}

// Plan matches manifest entries to existing agents, by id when given and by
// name otherwise, and decides what each entry needs.
func Plan(existing []domain.Agent, m Manifest) []Change {
	byID := make(map[string]domain.Agent, len(existing))
	byName := make(map[string]domain.Agent, len(existing))
	for _, a := range existing {
		byID[a.ID] = a
		if _, dup := byName[a.Name]; !dup {
			byName[a.Name] = a
		}
	}

	changes := make([]Change, 0, len(m.Agents))
	for _, entry := range m.Agents {
		want := entry.agent()
		cur, ok := byID[want.ID]
		if !ok && want.ID == "" {
			cur, ok = byName[want.Name]
		}
		if !ok {
			changes = append(changes, Change{Op: OpCreate, Agent: want})
			continue
		}

		want.ID = cur.ID
		want.CreatedAt = cur.CreatedAt
		want.UpdatedAt = cur.UpdatedAt
		if want.Model == "" {
			want.Model = cur.Model
		}
		op := OpUpdate
		if sameAgent(cur, want) {
			op = OpUnchanged
		}
		changes = append(changes, Change{Op: op, Agent: want})
	}
	return changes
}

func sameAgent(a, b domain.Agent) bool {
	if a.Name != b.Name || a.Type != b.Type || a.Model != b.Model || a.SystemPrompt != b.SystemPrompt {
		return false
	}
	ac, bc := a.Config, b.Config
	if ac.Memory != bc.Memory || ac.Temperature != bc.Temperature || ac.MaxTokens != bc.MaxTokens || len(ac.Tools) != len(bc.Tools) {
		return false
	}
	for i := range ac.Tools {
		if ac.Tools[i] != bc.Tools[i] {
			return false
		}
	}
	return true
}

// AgentWriter is the part of the agent store Apply needs.
type AgentWriter interface {
	Create(ctx context.Context, draft domain.Agent, opts ...entitystore.CreateOption) (domain.Agent, error)
	Update(ctx context.Context, item domain.Agent) (domain.Agent, error)
}

// Apply executes a plan and returns the changes that were made. It stops at
// the first failure.
func Apply(ctx context.Context, w AgentWriter, changes []Change) ([]Change, error) {
	var done []Change
	for _, c := range changes {
		var (
			got domain.Agent
			err error
		)
		switch c.Op {
		case OpCreate:
			got, err = w.Create(ctx, c.Agent)
		case OpUpdate:
			got, err = w.Update(ctx, c.Agent)
		default:
			continue
		}
		if err != nil {
			return done, fmt.Errorf("%s agent %q: %w", c.Op, c.Agent.Name, err)
		}
		done = append(done, Change{Op: c.Op, Agent: got})
	}
	return done, nil
}
