package agent

import (
	"context"
	"fmt"
	"iter"
	"strings"
	"time"
)

// EchoProcessor simulates an agent without any model backend. It replies
// with a canned sentence streamed word by word, preceded by a short thinking
// trace.
type EchoProcessor struct {
	Delay time.Duration // pause between chunks
}

// NewEchoProcessor creates a simulated processor.
func NewEchoProcessor(delay time.Duration) *EchoProcessor {
	return &EchoProcessor{Delay: delay}
}

// Name implements Processor.
func (p *EchoProcessor) Name() string { return "echo" }

// Stream implements Processor.
func (p *EchoProcessor) Stream(ctx context.Context, turn Turn) iter.Seq2[*Chunk, error] {
	return func(yield func(*Chunk, error) bool) {
		trace := []*Chunk{
			{Kind: ChunkThinking, Text: fmt.Sprintf("Reading the request for %s. ", turn.Agent.Name)},
			{Kind: ChunkReasoning, Text: fmt.Sprintf("%d earlier messages in context.", len(turn.History))},
		}
		for _, c := range trace {
			if err := p.wait(ctx); err != nil {
				yield(nil, err)
				return
			}
			if !yield(c, nil) {
				return
			}
		}

		for _, word := range splitKeepSpace(EchoReply(turn.Agent.Name, turn.Message)) {
			if err := p.wait(ctx); err != nil {
				yield(nil, err)
				return
			}
			if !yield(&Chunk{Kind: ChunkText, Text: word}, nil) {
				return
			}
		}
	}
}

func (p *EchoProcessor) wait(ctx context.Context) error {
	if p.Delay <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(p.Delay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// EchoReply is the simulated agent's answer.
func EchoReply(agentName, message string) string {
	return fmt.Sprintf("I am %s, executing a response based on: %s", agentName, message)
}

// splitKeepSpace splits s into words, each carrying its trailing whitespace,
// so that concatenating the parts restores s.
func splitKeepSpace(s string) []string {
	var parts []string
	for s != "" {
		i := strings.IndexByte(s, ' ')
		if i < 0 {
			parts = append(parts, s)
			break
		}
		j := i
		for j < len(s) && s[j] == ' ' {
			j++
		}
		parts = append(parts, s[:j])
		s = s[j:]
	}
	return parts
}
