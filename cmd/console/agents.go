package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ashureev/agentconsole/internal/app"
	"github.com/ashureev/agentconsole/internal/console"
	"github.com/ashureev/agentconsole/internal/domain"
)

type agentFlags struct {
	name         string
	agentType    string
	model        string
	systemPrompt string
	tools        []string
	memory       bool
	memoryLimit  int
	temperature  float64
	maxTokens    int
}

func (f *agentFlags) register(cmd *cobra.Command) {
	fl := cmd.Flags()
	fl.StringVar(&f.name, "name", "", "agent name")
	fl.StringVar(&f.agentType, "type", string(domain.AgentTypeGeneric), "agent type (research|code|writer|orchestrator|planner|generic)")
	fl.StringVar(&f.model, "model", "", `model as "provider/model", empty for the server default`)
	fl.StringVar(&f.systemPrompt, "system-prompt", "", "system prompt")
	fl.StringSliceVar(&f.tools, "tools", nil, "tool names")
	fl.BoolVar(&f.memory, "memory", false, "enable conversation memory")
	fl.IntVar(&f.memoryLimit, "memory-limit", 0, "messages kept in memory (default 100)")
	fl.Float64Var(&f.temperature, "temperature", 0, "sampling temperature")
	fl.IntVar(&f.maxTokens, "max-tokens", 0, "reply token limit")
}

// apply copies the flags the user set onto a.
func (f *agentFlags) apply(cmd *cobra.Command, a *domain.Agent) {
	changed := cmd.Flags().Changed
	if changed("name") {
		a.Name = f.name
	}
	if changed("type") || a.Type == "" {
		a.Type = domain.AgentType(f.agentType)
	}
	if changed("model") {
		a.Model = f.model
	}
	if changed("system-prompt") {
		a.SystemPrompt = f.systemPrompt
	}
	if changed("tools") {
		a.Config.Tools = f.tools
	}
	if changed("memory") {
		a.Config.Memory.Enabled = f.memory
	}
	if changed("memory-limit") {
		a.Config.Memory.Limit = f.memoryLimit
	}
	if changed("temperature") {
		a.Config.Temperature = f.temperature
	}
	if changed("max-tokens") {
		a.Config.MaxTokens = f.maxTokens
	}
}

func newAgentsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "agents",
		Aliases: []string{"agent"},
		Short:   "Manage agents",
	}
	cmd.AddCommand(agentsListCmd(), agentsCreateCmd(), agentsUpdateCmd(), agentsDeleteCmd(), agentsApplyCmd())
	return cmd
}

// withAgents runs fn with a loaded console core.
func withAgents(cmd *cobra.Command, fn func(ctx context.Context, a *app.App) error) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()
	ctx := cmd.Context()
	if err := a.Agents.Load(ctx); err != nil {
		return fmt.Errorf("load agents: %w", err)
	}
	return fn(ctx, a)
}

func agentsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List agents",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			r, err := newRenderer()
			if err != nil {
				return err
			}
			return withAgents(cmd, func(_ context.Context, a *app.App) error {
				snap := a.Agents.Snapshot()
				cmd.Print(r.Agents(snap.Items, snap.SelectedID))
				return nil
			})
		},
	}
}

func agentsCreateCmd() *cobra.Command {
	var f agentFlags
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an agent",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var draft domain.Agent
			f.apply(cmd, &draft)
			if err := draft.Validate(); err != nil {
				return err
			}
			return withAgents(cmd, func(ctx context.Context, a *app.App) error {
				created, err := a.Agents.Create(ctx, draft)
				if err != nil {
					return err
				}
				cmd.Printf("created agent %s (%s)\n", created.ID, created.Name)
				return nil
			})
		},
	}
	f.register(cmd)
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func agentsUpdateCmd() *cobra.Command {
	var f agentFlags
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update an agent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAgents(cmd, func(ctx context.Context, a *app.App) error {
				cur, ok := a.Agents.Get(args[0])
				if !ok {
					return fmt.Errorf("agent %s not found", args[0])
				}
				f.apply(cmd, &cur)
				if err := cur.Validate(); err != nil {
					return err
				}
				updated, err := a.Agents.Update(ctx, cur)
				if err != nil {
					return err
				}
				cmd.Printf("updated agent %s (%s)\n", updated.ID, updated.Name)
				return nil
			})
		},
	}
	f.register(cmd)
	return cmd
}

func agentsDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "delete <id>",
		Aliases: []string{"rm"},
		Short:   "Delete an agent",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAgents(cmd, func(ctx context.Context, a *app.App) error {
				if err := a.Agents.Remove(ctx, args[0]); err != nil {
					return err
				}
				cmd.Printf("deleted agent %s\n", args[0])
				return nil
			})
		},
	}
}

func agentsApplyCmd() *cobra.Command {
	var (
		file   string
		dryRun bool
	)
	cmd := &cobra.Command{
		Use:   "apply -f <manifest.yaml>",
		Short: "Create or update agents from a YAML manifest",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			m, err := console.LoadManifest(file)
			if err != nil {
				return err
			}
			return withAgents(cmd, func(ctx context.Context, a *app.App) error {
				changes := console.Plan(a.Agents.Items(), m)
				if dryRun {
					for _, c := range changes {
						cmd.Printf("%-9s %s\n", c.Op, c.Agent.Name)
					}
					return nil
				}
				done, err := console.Apply(ctx, a.Agents, changes)
				for _, c := range done {
					cmd.Printf("%-9s %s (%s)\n", c.Op, c.Agent.Name, c.Agent.ID)
				}
				if err != nil {
					return err
				}
				cmd.Printf("%d of %d agents changed\n", len(done), len(changes))
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "manifest file")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "show the plan without applying it")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}
