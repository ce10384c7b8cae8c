package agent

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"net/http"

	"google.golang.org/genai"
)

const defaultGeminiModel = "gemini-2.5-flash"

// GeminiProcessor streams replies from the Gemini API. Thought parts are
// forwarded as a thinking trace.
type GeminiProcessor struct {
	client *genai.Client
}

// NewGeminiProcessor creates a processor. baseURL and httpClient may be
// empty to use the public endpoint.
func NewGeminiProcessor(ctx context.Context, apiKey, baseURL string, httpClient *http.Client) (*GeminiProcessor, error) {
	if apiKey == "" {
		return nil, errors.New("google API key not configured")
	}
	cfg := &genai.ClientConfig{
		APIKey:     apiKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: httpClient,
	}
	if baseURL != "" {
		cfg.HTTPOptions = genai.HTTPOptions{BaseURL: baseURL}
	}
	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	return &GeminiProcessor{client: client}, nil
}

// Name implements Processor.
func (p *GeminiProcessor) Name() string { return "gemini" }

// Stream implements Processor.
func (p *GeminiProcessor) Stream(ctx context.Context, turn Turn) iter.Seq2[*Chunk, error] {
	return func(yield func(*Chunk, error) bool) {
		model := turn.Model
		if model == "" {
			model = defaultGeminiModel
		}

		for resp, err := range p.client.Models.GenerateContentStream(ctx, model, geminiContents(turn), geminiConfig(turn)) {
			if err != nil {
				yield(nil, fmt.Errorf("gemini stream: %w", err))
				return
			}
			for _, cand := range resp.Candidates {
				if cand.Content == nil {
					continue
				}
				for _, part := range cand.Content.Parts {
					if part.Text == "" {
						continue
					}
					kind := ChunkText
					if part.Thought {
						kind = ChunkThinking
					}
					if !yield(&Chunk{Kind: kind, Text: part.Text}, nil) {
						return
					}
				}
			}
		}
	}
}

func geminiContents(turn Turn) []*genai.Content {
	history := usableHistory(turn.History)
	contents := make([]*genai.Content, 0, len(history)+1)
	for _, m := range history {
		role := genai.Role(genai.RoleUser)
		if historyRole(m.Role) == "assistant" {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(m.Content, role))
	}
	return append(contents, genai.NewContentFromText(turn.Message, genai.RoleUser))
}

func geminiConfig(turn Turn) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{
		ThinkingConfig: &genai.ThinkingConfig{IncludeThoughts: true},
	}
	if turn.Agent.SystemPrompt != "" {
		cfg.SystemInstruction = genai.NewContentFromText(turn.Agent.SystemPrompt, genai.RoleUser)
	}
	if t := turn.Agent.Config.Temperature; t > 0 {
		cfg.Temperature = genai.Ptr(float32(t))
	}
	if n := turn.Agent.Config.MaxTokens; n > 0 {
		cfg.MaxOutputTokens = int32(n)
	}
	return cfg
}
