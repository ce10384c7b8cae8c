package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ashureev/agentconsole/internal/app"
	"github.com/ashureev/agentconsole/internal/domain"
)

func newWorkspacesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "workspaces",
		Aliases: []string{"workspace", "ws"},
		Short:   "Manage workspaces",
	}
	cmd.AddCommand(workspacesListCmd(), workspacesCreateCmd(), workspacesDeleteCmd())
	return cmd
}

func withWorkspaces(cmd *cobra.Command, fn func(ctx context.Context, a *app.App) error) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()
	ctx := cmd.Context()
	if err := a.Workspaces.Load(ctx); err != nil {
		return fmt.Errorf("load workspaces: %w", err)
	}
	return fn(ctx, a)
}

func workspacesListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List workspaces",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			r, err := newRenderer()
			if err != nil {
				return err
			}
			return withWorkspaces(cmd, func(_ context.Context, a *app.App) error {
				snap := a.Workspaces.Snapshot()
				cmd.Print(r.Workspaces(snap.Items, snap.SelectedID))
				return nil
			})
		},
	}
}

func workspacesCreateCmd() *cobra.Command {
	var name, description string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a workspace",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withWorkspaces(cmd, func(ctx context.Context, a *app.App) error {
				ws, err := a.Workspaces.Create(ctx, domain.Workspace{Name: name, Description: description})
				if err != nil {
					return err
				}
				cmd.Printf("created workspace %s (%s)\n", ws.ID, ws.Name)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "workspace name")
	cmd.Flags().StringVar(&description, "description", "", "workspace description")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func workspacesDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "delete <id>",
		Aliases: []string{"rm"},
		Short:   "Delete a workspace and its messages",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspaces(cmd, func(ctx context.Context, a *app.App) error {
				if err := a.Workspaces.Remove(ctx, args[0]); err != nil {
					return err
				}
				cmd.Printf("deleted workspace %s\n", args[0])
				return nil
			})
		},
	}
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show server status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()
			st, err := a.API.Status(cmd.Context())
			if err != nil {
				return err
			}
			cmd.Printf("server:     %s (%s)\n", a.API.BaseURL(), st.Status)
			cmd.Printf("agents:     %d\n", st.Agents)
			cmd.Printf("workspaces: %d\n", st.Workspaces)
			cmd.Printf("messages:   %d\n", st.Messages)
			cmd.Printf("sessions:   %d\n", st.Sessions)
			cmd.Printf("providers:  %v\n", st.Providers)
			return nil
		},
	}
}
