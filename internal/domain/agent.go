package domain

import (
	"fmt"
	"slices"
	"time"
)

// AgentType classifies what an agent is configured to do.
type AgentType string

const (
	AgentTypeResearch     AgentType = "research"
	AgentTypeCode         AgentType = "code"
	AgentTypeWriter       AgentType = "writer"
	AgentTypeOrchestrator AgentType = "orchestrator"
	AgentTypePlanner      AgentType = "planner"
	AgentTypeGeneric      AgentType = "generic"
)

var agentTypes = []AgentType{
	AgentTypeResearch,
	AgentTypeCode,
	AgentTypeWriter,
	AgentTypeOrchestrator,
	AgentTypePlanner,
	AgentTypeGeneric,
}

// AgentTypes returns every known agent type in display order.
func AgentTypes() []AgentType {
	return slices.Clone(agentTypes)
}

// Valid reports whether t is one of the known agent types.
func (t AgentType) Valid() bool {
	return slices.Contains(agentTypes, t)
}

// DefaultMemoryLimit is the number of memories an agent keeps when no limit is configured.
const DefaultMemoryLimit = 100

// MemoryConfig controls an agent's long-term memory.
type MemoryConfig struct {
	Enabled bool `json:"enabled" yaml:"enabled"`
	Limit   int  `json:"limit,omitempty" yaml:"limit,omitempty"`
}

// AgentConfig is the tool/memory configuration blob attached to an agent.
type AgentConfig struct {
	Tools       []string     `json:"tools,omitempty" yaml:"tools,omitempty"`
	Memory      MemoryConfig `json:"memory" yaml:"memory"`
	Temperature float64      `json:"temperature,omitempty" yaml:"temperature,omitempty"`
	MaxTokens   int          `json:"maxTokens,omitempty" yaml:"maxTokens,omitempty"`
}

// Agent is a configured assistant identity the user converses with.
type Agent struct {
	ID           string      `json:"id"`
	Name         string      `json:"name"`
	Type         AgentType   `json:"type"`
	Model        string      `json:"model"`
	SystemPrompt string      `json:"systemPrompt,omitempty"`
	Config       AgentConfig `json:"config"`
	CreatedAt    time.Time   `json:"createdAt"`
	UpdatedAt    time.Time   `json:"updatedAt"`
}

// EntityID returns the agent's identity.
func (a Agent) EntityID() string { return a.ID }

// Clone returns a deep copy that shares no slices with a.
func (a Agent) Clone() Agent {
	a.Config.Tools = slices.Clone(a.Config.Tools)
	return a
}

// Validate checks the fields a client must supply when creating or updating an agent.
func (a Agent) Validate() error {
	if a.Name == "" {
		return fmt.Errorf("agent name is required")
	}
	if !a.Type.Valid() {
		return fmt.Errorf("unsupported agent type %q", a.Type)
	}
	if a.Config.Memory.Limit < 0 {
		return fmt.Errorf("memory limit must be >= 0")
	}
	return nil
}

// MemoryLimit returns the configured memory limit, falling back to DefaultMemoryLimit.
func (a Agent) MemoryLimit() int {
	if a.Config.Memory.Limit == 0 {
		return DefaultMemoryLimit
	}
	return a.Config.Memory.Limit
}
