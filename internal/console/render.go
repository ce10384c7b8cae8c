// Package console renders the console core's state for a terminal and
// applies agent manifests.
package console

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"github.com/ashureev/agentconsole/internal/domain"
	"github.com/ashureev/agentconsole/internal/realtime"
)

// Styles groups the lipgloss styles used for console output.
type Styles struct {
	User     lipgloss.Style
	Agent    lipgloss.Style
	System   lipgloss.Style
	Trace    lipgloss.Style
	Failed   lipgloss.Style
	Muted    lipgloss.Style
	Selected lipgloss.Style
	Status   map[realtime.State]lipgloss.Style
}

// DefaultStyles returns the adaptive color scheme.
func DefaultStyles() Styles {
	return Styles{
		User:     lipgloss.NewStyle().Bold(true).Foreground(lipgloss.AdaptiveColor{Light: "#005FAF", Dark: "#5FAFFF"}),
		Agent:    lipgloss.NewStyle().Bold(true).Foreground(lipgloss.AdaptiveColor{Light: "#5F8700", Dark: "#87D75F"}),
		System:   lipgloss.NewStyle().Italic(true).Foreground(lipgloss.Color("244")),
		Trace:    lipgloss.NewStyle().Faint(true).Italic(true),
		Failed:   lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#AF0000", Dark: "#FF5F5F"}),
		Muted:    lipgloss.NewStyle().Foreground(lipgloss.Color("244")),
		Selected: lipgloss.NewStyle().Bold(true),
		Status: map[realtime.State]lipgloss.Style{
			realtime.Connected:    lipgloss.NewStyle().Foreground(lipgloss.Color("2")),
			realtime.Connecting:   lipgloss.NewStyle().Foreground(lipgloss.Color("3")),
			realtime.Disconnected: lipgloss.NewStyle().Foreground(lipgloss.Color("1")),
			realtime.Closing:      lipgloss.NewStyle().Foreground(lipgloss.Color("3")),
		},
	}
}

// PlainStyles renders without any decoration.
func PlainStyles() Styles {
	plain := lipgloss.NewStyle()
	return Styles{
		User: plain, Agent: plain, System: plain, Trace: plain,
		Failed: plain, Muted: plain, Selected: plain,
		Status: map[realtime.State]lipgloss.Style{},
	}
}

// Renderer formats messages, collections and connection state.
type Renderer struct {
	styles   Styles
	markdown *glamour.TermRenderer
	names    map[string]string // agent id -> display name
}

// NewRenderer creates a renderer. With markdown enabled, complete agent
// messages are rendered through glamour at the given width.
func NewRenderer(styles Styles, markdown bool, width int) (*Renderer, error) {
	r := &Renderer{styles: styles, names: make(map[string]string)}
	if markdown {
		if width <= 0 {
			width = 80
		}
		md, err := glamour.NewTermRenderer(
			glamour.WithAutoStyle(),
			glamour.WithWordWrap(width),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create markdown renderer: %w", err)
		}
		r.markdown = md
	}
	return r, nil
}

// SetAgents updates the names used for message headers.
func (r *Renderer) SetAgents(agents []domain.Agent) {
	names := make(map[string]string, len(agents))
	for _, a := range agents {
		names[a.ID] = a.Name
	}
	r.names = names
}

// Speaker returns the styled header for a message.
func (r *Renderer) Speaker(m domain.Message) string {
	switch m.Role {
	case domain.RoleUser:
		return r.styles.User.Render("you")
	case domain.RoleSystem:
		return r.styles.System.Render("system")
	}
	name := r.names[m.AgentID]
	if name == "" {
		name = "agent"
	}
	return r.styles.Agent.Render(name)
}

// Message renders a whole message.
func (r *Renderer) Message(m domain.Message) string {
	body := m.Content
	if r.markdown != nil && m.Role == domain.RoleAgent && m.State == domain.StateComplete && strings.TrimSpace(body) != "" {
		if out, err := r.markdown.Render(body); err == nil {
			body = strings.Trim(out, "\n")
		}
	}

	var b strings.Builder
	b.WriteString(r.Speaker(m))
	b.WriteString(": ")
	b.WriteString(body)
	if s := r.stateSuffix(m); s != "" {
		b.WriteString(s)
	}
	return b.String()
}

func (r *Renderer) stateSuffix(m domain.Message) string {
	switch m.State {
	case domain.StatePending:
		return r.styles.Muted.Render(" (sending)")
	case domain.StateStreaming:
		return r.styles.Muted.Render(" …")
	case domain.StateFailed:
		reason := m.FailureReason
		if reason == "" {
			reason = "failed"
		}
		return r.styles.Failed.Render(" [" + reason + "]")
	}
	return ""
}

// Trace renders the technical view of an agent.
func (r *Renderer) Trace(traces []domain.Trace) string {
	var b strings.Builder
	for _, t := range traces {
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(r.styles.Trace.Render(fmt.Sprintf("[%s] %s", t.Kind, t.Text)))
	}
	return b.String()
}

// Agents renders the agent collection, marking the selected one.
func (r *Renderer) Agents(agents []domain.Agent, selectedID string) string {
	var b strings.Builder
	for _, a := range agents {
		line := fmt.Sprintf("%s  %-24s %-13s %s", a.ID, a.Name, a.Type, a.Model)
		b.WriteString(r.marker(a.ID == selectedID, line))
		b.WriteByte('\n')
	}
	return b.String()
}

// Workspaces renders the workspace collection, marking the selected one.
func (r *Renderer) Workspaces(workspaces []domain.Workspace, selectedID string) string {
	var b strings.Builder
	for _, w := range workspaces {
		line := fmt.Sprintf("%s  %-24s %s", w.ID, w.Name, w.Description)
		b.WriteString(r.marker(w.ID == selectedID, strings.TrimRight(line, " ")))
		b.WriteByte('\n')
	}
	return b.String()
}

func (r *Renderer) marker(selected bool, line string) string {
	if selected {
		return r.styles.Selected.Render("* " + line)
	}
	return "  " + line
}

// Connection renders the channel status line.
func (r *Renderer) Connection(st realtime.Status) string {
	text := st.State.String()
	switch {
	case st.RetriesExhausted:
		text += " (retries exhausted, /retry to reconnect)"
	case st.Failures > 0:
		text += fmt.Sprintf(" (attempt %d failed)", st.Failures)
	}
	style, ok := r.styles.Status[st.State]
	if !ok {
		return text
	}
	return style.Render(text)
}
