package protocol

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashureev/agentconsole/internal/domain"
)

func TestDecode_ValidFrames(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want Event
	}{
		{
			name: "chat delta",
			raw:  `{"kind":"chat_delta","messageId":"m1","text":"hel"}`,
			want: ChatDelta{MessageID: "m1", Text: "hel"},
		},
		{
			name: "terminal chat delta with role",
			raw:  `{"kind":"chat_delta","messageId":"m1","text":"","done":true,"role":"user"}`,
			want: ChatDelta{MessageID: "m1", Text: "", Done: true, Role: domain.RoleUser},
		},
		{
			name: "chat delta bound to a conversation",
			raw:  `{"kind":"chat_delta","messageId":"m1","text":"x","workspaceId":"w1","agentId":"a1"}`,
			want: ChatDelta{MessageID: "m1", Text: "x", WorkspaceID: "w1", AgentID: "a1"},
		},
		{
			name: "thinking delta defaults trace kind",
			raw:  `{"kind":"thinking_delta","agentId":"a1","text":"hmm"}`,
			want: ThinkingDelta{AgentID: "a1", Text: "hmm", Trace: domain.TraceThinking},
		},
		{
			name: "reasoning trace",
			raw:  `{"kind":"thinking_delta","agentId":"a1","text":"step","trace":"reasoning"}`,
			want: ThinkingDelta{AgentID: "a1", Text: "step", Trace: domain.TraceReasoning},
		},
		{
			name: "status",
			raw:  `{"kind":"status","state":"busy"}`,
			want: StatusChange{State: "busy"},
		},
		{
			name: "error with message",
			raw:  `{"kind":"error","reason":"model unavailable","messageId":"m2"}`,
			want: ErrorEvent{Reason: "model unavailable", MessageID: "m2"},
		},
		{
			name: "error scoped to a workspace",
			raw:  `{"kind":"error","reason":"rate limited","workspaceId":"w1"}`,
			want: ErrorEvent{Reason: "rate limited", WorkspaceID: "w1"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Decode([]byte(tt.raw))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecode_UnknownKind(t *testing.T) {
	_, err := Decode([]byte(`{"kind":"presence","user":"x"}`))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnknownEventKind))

	var decodeErr *DecodeError
	require.ErrorAs(t, err, &decodeErr)
	assert.Equal(t, Kind("presence"), decodeErr.Kind)
}

func TestDecode_ClientKindIsNotAServerEvent(t *testing.T) {
	_, err := Decode([]byte(`{"kind":"chat_message","messageId":"m1","workspaceId":"w","agentId":"a","text":"hi"}`))
	assert.ErrorIs(t, err, ErrUnknownEventKind)
}

func TestDecode_MalformedPayload(t *testing.T) {
	frames := map[string]string{
		"not json":               `{"kind":`,
		"missing kind":           `{"messageId":"m1","text":"x"}`,
		"empty kind":             `{"kind":"","messageId":"m1"}`,
		"chat missing messageId": `{"kind":"chat_delta","text":"x"}`,
		"chat missing text":      `{"kind":"chat_delta","messageId":"m1"}`,
		"chat wrong text type":   `{"kind":"chat_delta","messageId":"m1","text":42}`,
		"chat bad role":          `{"kind":"chat_delta","messageId":"m1","text":"x","role":"robot"}`,
		"thinking no agent":      `{"kind":"thinking_delta","text":"x"}`,
		"thinking bad trace":     `{"kind":"thinking_delta","agentId":"a","text":"x","trace":"mood"}`,
		"status empty state":     `{"kind":"status","state":""}`,
		"error missing reason":   `{"kind":"error","messageId":"m1"}`,
		"array":                  `[1,2,3]`,
	}

	for name, raw := range frames {
		t.Run(name, func(t *testing.T) {
			ev, err := Decode([]byte(raw))
			assert.Nil(t, ev)
			assert.ErrorIs(t, err, ErrMalformedPayload)
		})
	}
}

func TestEncode_RoundTripsThroughDecode(t *testing.T) {
	events := []Event{
		ChatDelta{MessageID: "m1", Text: "hello", Role: domain.RoleAgent, WorkspaceID: "w1", AgentID: "a1"},
		ThinkingDelta{AgentID: "a1", Text: "considering", Trace: domain.TraceReasoning},
		StatusChange{State: "idle"},
		ErrorEvent{Reason: "boom"},
	}
	for _, ev := range events {
		raw, err := Encode(ev)
		require.NoError(t, err)
		got, err := Decode(raw)
		require.NoError(t, err)
		assert.Equal(t, ev, got)
	}
}

func TestDecodeClientFrame(t *testing.T) {
	raw, err := EncodeChatMessage(ChatMessage{MessageID: "m1", WorkspaceID: "w1", AgentID: "a1", Text: "hi"})
	require.NoError(t, err)

	frame, err := DecodeClientFrame(raw)
	require.NoError(t, err)
	assert.Equal(t, KindChatMessage, frame.Kind)
	require.NotNil(t, frame.Chat)
	assert.Equal(t, "hi", frame.Chat.Text)

	frame, err = DecodeClientFrame(EncodePing())
	require.NoError(t, err)
	assert.Equal(t, KindPing, frame.Kind)

	raw, err = EncodeWatch("w2")
	require.NoError(t, err)
	frame, err = DecodeClientFrame(raw)
	require.NoError(t, err)
	assert.Equal(t, KindWatch, frame.Kind)
	require.NotNil(t, frame.Watch)
	assert.Equal(t, "w2", frame.Watch.WorkspaceID)

	_, err = DecodeClientFrame([]byte(`{"kind":"watch"}`))
	assert.ErrorIs(t, err, ErrMalformedPayload)

	_, err = DecodeClientFrame([]byte(`{"kind":"chat_message","messageId":"m1","workspaceId":"w1","agentId":"a1"}`))
	assert.ErrorIs(t, err, ErrMalformedPayload)

	_, err = DecodeClientFrame([]byte(`{"kind":"chat_delta","messageId":"m1","text":"x"}`))
	assert.ErrorIs(t, err, ErrUnknownEventKind)
}
