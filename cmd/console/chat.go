package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ashureev/agentconsole/internal/app"
	"github.com/ashureev/agentconsole/internal/chat"
	"github.com/ashureev/agentconsole/internal/console"
)

const chatHelp = `Commands:
  /agents            list agents
  /workspaces        list workspaces
  /use <agent-id>    talk to another agent
  /workspace <id>    switch workspace
  /thinking          toggle the thinking trace
  /clear-trace       drop the current agent's trace
  /history           reprint the conversation
  /retry             reconnect after retries are exhausted
  /quit              leave
Anything else is sent to the current agent.`

func newChatCmd() *cobra.Command {
	var workspaceID, agentID string
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat with an agent",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			r, err := newRenderer()
			if err != nil {
				return err
			}
			s := &chatSession{
				app:        a,
				renderer:   r,
				transcript: console.NewTranscript(r, viper.GetBool("show-thinking")),
				out:        cmd.OutOrStdout(),
			}
			return s.run(cmd.Context(), cmd.InOrStdin(), workspaceID, agentID)
		},
	}
	cmd.Flags().StringVar(&workspaceID, "workspace", "", "workspace id (default: first workspace)")
	cmd.Flags().StringVar(&agentID, "agent", "", "agent id (default: the orchestrator)")
	cmd.Flags().Bool("show-thinking", false, "show agents' thinking traces")
	_ = viper.BindPFlag("show-thinking", cmd.Flags().Lookup("show-thinking"))
	return cmd
}

type chatSession struct {
	app        *app.App
	renderer   *console.Renderer
	transcript *console.Transcript

	mu  sync.Mutex // serializes terminal output
	out io.Writer
}

func (s *chatSession) printf(format string, args ...any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintf(s.out, format, args...)
}

func (s *chatSession) onSnapshot(snap chat.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if text := s.transcript.Update(snap); text != "" {
		fmt.Fprint(s.out, text)
	}
}

func (s *chatSession) run(ctx context.Context, in io.Reader, workspaceID, agentID string) error {
	if err := s.app.Load(ctx); err != nil {
		return fmt.Errorf("load: %w", err)
	}
	if workspaceID != "" {
		if err := s.app.Workspaces.Select(workspaceID); err != nil {
			return fmt.Errorf("workspace %s: %w", workspaceID, err)
		}
	}
	if agentID != "" {
		if err := s.app.Agents.Select(agentID); err != nil {
			return fmt.Errorf("agent %s: %w", agentID, err)
		}
	}
	s.renderer.SetAgents(s.app.Agents.Items())

	if err := s.activate(ctx); err != nil {
		return err
	}

	unsubscribe := s.app.Chat.Subscribe(s.onSnapshot)
	defer unsubscribe()
	s.app.Chat.Start()

	s.printf("Type /help for commands.\n")
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if !strings.HasPrefix(line, "/") {
			if _, err := s.app.Chat.SendMessage(ctx, line); err != nil && !errors.Is(err, chat.ErrEmptyMessage) {
				s.printf("not sent: %v\n", err)
			}
			continue
		}
		quit, err := s.command(ctx, line)
		if err != nil {
			s.printf("error: %v\n", err)
		}
		if quit {
			return nil
		}
	}
	return scanner.Err()
}

func (s *chatSession) activate(ctx context.Context) error {
	if err := s.app.Activate(ctx); err != nil {
		return err
	}
	ws, _ := s.app.Workspaces.Selected()
	ag, _ := s.app.Agents.Selected()
	s.printf("workspace %s, agent %s (%s)\n", ws.Name, ag.Name, ag.Model)
	return nil
}

func (s *chatSession) command(ctx context.Context, line string) (quit bool, err error) {
	name, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)

	switch name {
	case "/quit", "/exit":
		return true, nil
	case "/help":
		s.printf("%s\n", chatHelp)
	case "/agents":
		if err := s.app.Agents.Load(ctx); err != nil {
			return false, err
		}
		s.mu.Lock()
		s.renderer.SetAgents(s.app.Agents.Items())
		s.mu.Unlock()
		snap := s.app.Agents.Snapshot()
		s.printf("%s", s.renderer.Agents(snap.Items, snap.SelectedID))
	case "/workspaces":
		snap := s.app.Workspaces.Snapshot()
		s.printf("%s", s.renderer.Workspaces(snap.Items, snap.SelectedID))
	case "/use":
		if err := s.app.Agents.Select(arg); err != nil {
			return false, fmt.Errorf("agent %q: %w", arg, err)
		}
		return false, s.activate(ctx)
	case "/workspace":
		if err := s.app.Workspaces.Select(arg); err != nil {
			return false, fmt.Errorf("workspace %q: %w", arg, err)
		}
		return false, s.activate(ctx)
	case "/thinking":
		s.mu.Lock()
		on := !s.transcript.ShowThinking()
		s.transcript.SetShowThinking(on)
		s.mu.Unlock()
		state := "off"
		if on {
			state = "on"
		}
		s.printf("thinking trace %s\n", state)
	case "/clear-trace":
		s.app.Chat.ClearTrace(s.app.Chat.Snapshot().AgentID)
	case "/history":
		snap := s.app.Chat.Snapshot()
		s.mu.Lock()
		defer s.mu.Unlock()
		for _, m := range snap.Messages {
			fmt.Fprintln(s.out, s.renderer.Message(m))
		}
		if tr := snap.Traces[snap.AgentID]; len(tr) > 0 && s.transcript.ShowThinking() {
			fmt.Fprintln(s.out, s.renderer.Trace(tr))
		}
	case "/retry":
		s.app.Conn.Connect()
	default:
		return false, fmt.Errorf("unknown command %s, try /help", name)
	}
	return false, nil
}
