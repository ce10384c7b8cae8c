package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// BridgeProcessor runs agents through the Python agent bridge. The bridge
// keeps its own model and agent registry, so each agent is registered before
// its first run and again whenever it changes.
type BridgeProcessor struct {
	baseURL string
	client  *http.Client

	mu         sync.Mutex
	registered map[string]time.Time // agent id -> UpdatedAt at registration
}

// NewBridgeProcessor creates a processor for the bridge at baseURL.
func NewBridgeProcessor(baseURL string, client *http.Client) *BridgeProcessor {
	if client == nil {
		client = &http.Client{Timeout: 2 * time.Minute}
	}
	return &BridgeProcessor{
		baseURL:    strings.TrimRight(baseURL, "/"),
		client:     client,
		registered: make(map[string]time.Time),
	}
}

// Name implements Processor.
func (p *BridgeProcessor) Name() string { return "bridge" }

type bridgeModelConfig struct {
	Model        string  `json:"model,omitempty"`
	Temperature  float64 `json:"temperature,omitempty"`
	MaxTokens    int     `json:"maxTokens,omitempty"`
	SystemPrompt string  `json:"systemPrompt,omitempty"`
}

type bridgeModel struct {
	ID     string            `json:"id"`
	Name   string            `json:"name"`
	Type   string            `json:"type"`
	Config bridgeModelConfig `json:"config"`
}

type bridgeAgent struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	ModelID      string   `json:"modelId"`
	SystemPrompt string   `json:"systemPrompt,omitempty"`
	Tools        []string `json:"tools"`
}

type bridgeRunRequest struct {
	Message     string `json:"message"`
	WorkspaceID string `json:"workspaceId"`
}

type bridgeRunResponse struct {
	Content     string `json:"content"`
	AgentID     string `json:"agentId"`
	WorkspaceID string `json:"workspaceId"`
}

// Stream implements Processor. The bridge answers in one piece, so the
// whole reply arrives as a single chunk.
func (p *BridgeProcessor) Stream(ctx context.Context, turn Turn) iter.Seq2[*Chunk, error] {
	return func(yield func(*Chunk, error) bool) {
		if err := p.ensureRegistered(ctx, turn); err != nil {
			yield(nil, err)
			return
		}

		var resp bridgeRunResponse
		path := "/agents/" + url.PathEscape(turn.Agent.ID) + "/run"
		if err := p.post(ctx, path, bridgeRunRequest{Message: turn.Message, WorkspaceID: turn.WorkspaceID}, &resp); err != nil {
			yield(nil, err)
			return
		}
		yield(&Chunk{Kind: ChunkText, Text: resp.Content}, nil)
	}
}

func (p *BridgeProcessor) ensureRegistered(ctx context.Context, turn Turn) error {
	a := turn.Agent
	p.mu.Lock()
	at, ok := p.registered[a.ID]
	p.mu.Unlock()
	if ok && at.Equal(a.UpdatedAt) {
		return nil
	}

	modelType, modelName := bridgeModelType(turn.Model)
	model := bridgeModel{
		ID:   "model-" + a.ID,
		Name: a.Name + " model",
		Type: modelType,
		Config: bridgeModelConfig{
			Model:        modelName,
			Temperature:  a.Config.Temperature,
			MaxTokens:    a.Config.MaxTokens,
			SystemPrompt: a.SystemPrompt,
		},
	}
	if err := p.post(ctx, "/models", model, nil); err != nil {
		return fmt.Errorf("register bridge model: %w", err)
	}

	tools := a.Config.Tools
	if tools == nil {
		tools = []string{}
	}
	agent := bridgeAgent{ID: a.ID, Name: a.Name, ModelID: model.ID, SystemPrompt: a.SystemPrompt, Tools: tools}
	if err := p.post(ctx, "/agents", agent, nil); err != nil {
		return fmt.Errorf("register bridge agent: %w", err)
	}

	p.mu.Lock()
	p.registered[a.ID] = a.UpdatedAt
	p.mu.Unlock()
	return nil
}

// bridgeModelType reads "type:model" from the model part of an agent's model
// id. Without a type, Claude models go to anthropic and the rest to openai.
func bridgeModelType(model string) (string, string) {
	if typ, name, ok := strings.Cut(model, ":"); ok {
		return strings.ToLower(typ), name
	}
	if strings.HasPrefix(model, "claude") {
		return "anthropic", model
	}
	return "openai", model
}

func (p *BridgeProcessor) post(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("bridge %s: %w", path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("bridge %s: read body: %w", path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var e struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(data, &e) == nil && e.Error != "" {
			return fmt.Errorf("bridge %s: %s", path, e.Error)
		}
		return fmt.Errorf("bridge %s: status %d", path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("bridge %s: decode response: %w", path, err)
	}
	return nil
}
