package agent

import (
	"context"
	"errors"
	"fmt"
	"iter"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

const defaultOpenAIModel = "gpt-4o"

// OpenAIProcessor streams replies from the OpenAI Chat Completions API.
type OpenAIProcessor struct {
	client *openai.Client
}

// NewOpenAIProcessor creates a processor.
func NewOpenAIProcessor(apiKey string, opts ...option.RequestOption) (*OpenAIProcessor, error) {
	if apiKey == "" {
		return nil, errors.New("openai API key not configured")
	}
	client := openai.NewClient(append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)...)
	return &OpenAIProcessor{client: &client}, nil
}

// Name implements Processor.
func (p *OpenAIProcessor) Name() string { return "openai" }

// Stream implements Processor.
func (p *OpenAIProcessor) Stream(ctx context.Context, turn Turn) iter.Seq2[*Chunk, error] {
	return func(yield func(*Chunk, error) bool) {
		stream := p.client.Chat.Completions.NewStreaming(ctx, p.params(turn))
		defer func() { _ = stream.Close() }()

		for stream.Next() {
			chunk := stream.Current()
			if len(chunk.Choices) == 0 {
				continue
			}
			text := chunk.Choices[0].Delta.Content
			if text == "" {
				continue
			}
			if !yield(&Chunk{Kind: ChunkText, Text: text}, nil) {
				return
			}
		}
		if err := stream.Err(); err != nil {
			yield(nil, fmt.Errorf("openai stream: %w", err))
		}
	}
}

func (p *OpenAIProcessor) params(turn Turn) openai.ChatCompletionNewParams {
	model := turn.Model
	if model == "" {
		model = defaultOpenAIModel
	}

	history := usableHistory(turn.History)
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(history)+2)
	if turn.Agent.SystemPrompt != "" {
		messages = append(messages, openai.SystemMessage(turn.Agent.SystemPrompt))
	}
	for _, m := range history {
		if historyRole(m.Role) == "assistant" {
			messages = append(messages, openai.AssistantMessage(m.Content))
		} else {
			messages = append(messages, openai.UserMessage(m.Content))
		}
	}
	messages = append(messages, openai.UserMessage(turn.Message))

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(model),
		Messages: messages,
	}
	if t := turn.Agent.Config.Temperature; t > 0 {
		params.Temperature = openai.Float(t)
	}
	if n := turn.Agent.Config.MaxTokens; n > 0 {
		params.MaxTokens = openai.Int(int64(n))
	}
	return params
}
