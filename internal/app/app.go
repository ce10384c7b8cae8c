// Package app wires the console core together: one connection manager, the
// entity stores, and the chat controller, created at start-up and disposed
// on exit.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/ashureev/agentconsole/internal/apiclient"
	"github.com/ashureev/agentconsole/internal/chat"
	"github.com/ashureev/agentconsole/internal/domain"
	"github.com/ashureev/agentconsole/internal/entitystore"
	"github.com/ashureev/agentconsole/internal/realtime"
)

// Config holds the console's connection settings.
type Config struct {
	ServerURL      string
	RequestTimeout time.Duration
	RetryLimit     int
	RetryBaseDelay time.Duration
}

// App is the console's single service object. Consumers receive it by
// reference; nothing in the core is reachable through package state.
type App struct {
	API        *apiclient.Client
	Conn       *realtime.Manager
	Agents     *entitystore.Store[domain.Agent]
	Workspaces *entitystore.Store[domain.Workspace]
	Chat       *chat.Controller

	logger    *slog.Logger
	closeOnce sync.Once
}

// New builds the core. Nothing touches the network until Open or the chat
// controller is started.
func New(cfg Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ServerURL == "" {
		return nil, errors.New("server URL is required")
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}

	channelURL, err := realtime.ChannelURL(cfg.ServerURL)
	if err != nil {
		return nil, fmt.Errorf("derive channel URL: %w", err)
	}

	api := apiclient.New(cfg.ServerURL, apiclient.WithHTTPClient(&http.Client{Timeout: cfg.RequestTimeout}))

	rtCfg := realtime.DefaultConfig(channelURL)
	if cfg.RetryLimit > 0 {
		rtCfg.RetryLimit = cfg.RetryLimit
	}
	if cfg.RetryBaseDelay > 0 {
		rtCfg.BaseDelay = cfg.RetryBaseDelay
	}
	conn := realtime.NewManager(rtCfg, realtime.WebSocketDialer{ReadLimit: 1 << 20}, logger)

	return &App{
		API:        api,
		Conn:       conn,
		Agents:     entitystore.NewAgentStore(api.Agents(), logger),
		Workspaces: entitystore.NewWorkspaceStore(api.Workspaces(), logger),
		Chat:       chat.NewController(conn, logger),
		logger:     logger,
	}, nil
}

// Load fetches both collections.
func (a *App) Load(ctx context.Context) error {
	if err := a.Workspaces.Load(ctx); err != nil {
		return err
	}
	return a.Agents.Load(ctx)
}

// Activate points the chat controller at the selected workspace and agent
// and seeds it with the persisted history of that conversation.
func (a *App) Activate(ctx context.Context) error {
	ws, ok := a.Workspaces.Selected()
	if !ok {
		return fmt.Errorf("select a workspace: %w", entitystore.ErrNotFound)
	}
	ag, ok := a.Agents.Selected()
	if !ok {
		return fmt.Errorf("select an agent: %w", entitystore.ErrNotFound)
	}

	a.Chat.SetConversation(ws.ID, ag.ID)
	history, err := a.API.Messages(ctx, ws.ID, ag.ID)
	if err != nil {
		a.logger.Warn("Failed to load history", "workspace_id", ws.ID, "agent_id", ag.ID, "error", err)
		return nil
	}
	a.Chat.Restore(history)
	return nil
}

// Close releases the chat subscription and disposes the connection.
func (a *App) Close() {
	a.closeOnce.Do(func() {
		a.Chat.Stop()
		a.Conn.Dispose()
		a.logger.Debug("Console core closed")
	})
}
