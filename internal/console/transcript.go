package console

import (
	"strings"

	"github.com/ashureev/agentconsole/internal/chat"
	"github.com/ashureev/agentconsole/internal/domain"
	"github.com/ashureev/agentconsole/internal/realtime"
)

type printed struct {
	length int
	state  domain.DeliveryState
}

// Transcript turns successive chat snapshots into append-only terminal
// output. Streaming messages are printed as their text grows; finished
// messages are never reprinted.
type Transcript struct {
	r            *Renderer
	showThinking bool

	conversation string
	seen         map[string]printed
	open         string // message whose line is still being written
	traceLen     int
	conn         *realtime.Status
	lastError    string
}

// NewTranscript creates a transcript printer.
func NewTranscript(r *Renderer, showThinking bool) *Transcript {
	return &Transcript{r: r, showThinking: showThinking, seen: make(map[string]printed)}
}

// SetShowThinking toggles trace output.
func (t *Transcript) SetShowThinking(on bool) { t.showThinking = on }

// ShowThinking reports whether traces are printed.
func (t *Transcript) ShowThinking() bool { return t.showThinking }

// Update returns the output that brings the terminal up to date with s.
func (t *Transcript) Update(s chat.Snapshot) string {
	var out strings.Builder

	if key := s.WorkspaceID + "/" + s.AgentID; key != t.conversation {
		t.conversation = key
		t.seen = make(map[string]printed)
		t.open = ""
		t.traceLen = 0
	}

	t.connection(&out, s.Connection)

	if t.showThinking {
		trace := s.Trace(s.AgentID)
		if len(trace) < t.traceLen {
			t.traceLen = 0
		}
		if delta := trace[t.traceLen:]; delta != "" {
			t.closeLine(&out)
			out.WriteString(t.r.styles.Trace.Render("thinking: " + strings.TrimSpace(delta)))
			out.WriteByte('\n')
		}
		t.traceLen = len(trace)
	}

	for _, m := range s.Messages {
		t.message(&out, m)
	}

	if s.LastError != "" && s.LastError != t.lastError {
		t.closeLine(&out)
		out.WriteString(t.r.styles.Failed.Render("error: " + s.LastError))
		out.WriteByte('\n')
	}
	t.lastError = s.LastError

	return out.String()
}

func (t *Transcript) message(out *strings.Builder, m domain.Message) {
	prev, ok := t.seen[m.ID]
	if ok && prev.state.Terminal() {
		return
	}

	if !ok {
		t.closeLine(out)
		if m.State.Terminal() {
			out.WriteString(t.r.Message(m))
			out.WriteByte('\n')
		} else {
			out.WriteString(t.r.Speaker(m))
			out.WriteString(": ")
			out.WriteString(m.Content)
			t.open = m.ID
		}
		t.seen[m.ID] = printed{length: len(m.Content), state: m.State}
		return
	}

	delta := ""
	if len(m.Content) > prev.length {
		delta = m.Content[prev.length:]
	}
	if t.open != m.ID {
		t.closeLine(out)
		out.WriteString(t.r.Speaker(m))
		out.WriteString(": …")
		t.open = m.ID
	}
	out.WriteString(delta)
	if m.State.Terminal() {
		if m.State == domain.StateFailed {
			out.WriteString(t.r.stateSuffix(m))
		}
		out.WriteByte('\n')
		t.open = ""
	}
	t.seen[m.ID] = printed{length: len(m.Content), state: m.State}
}

func (t *Transcript) connection(out *strings.Builder, st realtime.Status) {
	if t.conn != nil && t.conn.State == st.State && t.conn.RetriesExhausted == st.RetriesExhausted {
		return
	}
	first := t.conn == nil
	t.conn = &st
	if first && st.State == realtime.Disconnected {
		return
	}
	t.closeLine(out)
	out.WriteString(t.r.styles.Muted.Render("[") + t.r.Connection(st) + t.r.styles.Muted.Render("]"))
	out.WriteByte('\n')
}

func (t *Transcript) closeLine(out *strings.Builder) {
	if t.open != "" {
		out.WriteByte('\n')
		t.open = ""
	}
}
