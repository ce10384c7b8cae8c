package agent

import (
	"context"
	"errors"
	"fmt"
	"iter"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const (
	defaultAnthropicModel = "claude-sonnet-4-5"
	defaultMaxTokens      = 4096
)

// AnthropicProcessor streams replies from the Anthropic Messages API.
type AnthropicProcessor struct {
	client         *anthropic.Client
	thinkingBudget int64
}

// NewAnthropicProcessor creates a processor. A positive thinkingBudget
// enables extended thinking, streamed as a thinking trace.
func NewAnthropicProcessor(apiKey string, thinkingBudget int, opts ...option.RequestOption) (*AnthropicProcessor, error) {
	if apiKey == "" {
		return nil, errors.New("anthropic API key not configured")
	}
	client := anthropic.NewClient(append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)...)
	return &AnthropicProcessor{client: &client, thinkingBudget: int64(thinkingBudget)}, nil
}

// Name implements Processor.
func (p *AnthropicProcessor) Name() string { return "anthropic" }

// Stream implements Processor.
func (p *AnthropicProcessor) Stream(ctx context.Context, turn Turn) iter.Seq2[*Chunk, error] {
	return func(yield func(*Chunk, error) bool) {
		stream := p.client.Messages.NewStreaming(ctx, p.params(turn))
		defer func() { _ = stream.Close() }()

		for stream.Next() {
			ev, ok := stream.Current().AsAny().(anthropic.ContentBlockDeltaEvent)
			if !ok {
				continue
			}
			var chunk *Chunk
			switch d := ev.Delta.AsAny().(type) {
			case anthropic.TextDelta:
				chunk = &Chunk{Kind: ChunkText, Text: d.Text}
			case anthropic.ThinkingDelta:
				chunk = &Chunk{Kind: ChunkThinking, Text: d.Thinking}
			}
			if chunk == nil || chunk.Text == "" {
				continue
			}
			if !yield(chunk, nil) {
				return
			}
		}
		if err := stream.Err(); err != nil {
			yield(nil, fmt.Errorf("anthropic stream: %w", err))
		}
	}
}

func (p *AnthropicProcessor) params(turn Turn) anthropic.MessageNewParams {
	model := turn.Model
	if model == "" {
		model = defaultAnthropicModel
	}
	maxTokens := int64(turn.Agent.Config.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	history := usableHistory(turn.History)
	messages := make([]anthropic.MessageParam, 0, len(history)+1)
	for _, m := range history {
		if historyRole(m.Role) == "assistant" {
			messages = append(messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		} else {
			messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}
	messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(turn.Message)))

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: maxTokens,
		Messages:  messages,
	}
	if turn.Agent.SystemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: turn.Agent.SystemPrompt}}
	}

	// Extended thinking needs max_tokens above the budget and rejects a
	// custom temperature.
	if p.thinkingBudget > 0 {
		if params.MaxTokens <= p.thinkingBudget {
			params.MaxTokens = p.thinkingBudget + defaultMaxTokens
		}
		params.Thinking = anthropic.ThinkingConfigParamUnion{
			OfEnabled: &anthropic.ThinkingConfigEnabledParam{BudgetTokens: p.thinkingBudget},
		}
	} else if t := turn.Agent.Config.Temperature; t > 0 {
		params.Temperature = anthropic.Float(t)
	}
	return params
}
