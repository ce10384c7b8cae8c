// Agent Console - multi-agent chat server
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"

	"github.com/ashureev/agentconsole/internal/agent"
	"github.com/ashureev/agentconsole/internal/api"
	"github.com/ashureev/agentconsole/internal/config"
	"github.com/ashureev/agentconsole/internal/hub"
	"github.com/ashureev/agentconsole/internal/middleware"
	"github.com/ashureev/agentconsole/internal/realtime"
	"github.com/ashureev/agentconsole/internal/store"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment())

	// Initialize dependencies.
	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(context.Background()); err != nil {
		slog.Error("Database health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Database connected")

	conversationLogger, err := agent.NewConversationLogger(agent.ConversationLogConfig{
		Enabled:   cfg.ConversationLog.Enabled,
		Dir:       cfg.ConversationLog.Dir,
		QueueSize: cfg.ConversationLog.QueueSize,
	}, logger)
	if err != nil {
		slog.Error("Failed to initialize conversation logger", "error", err)
		os.Exit(1)
	}
	defer func() { _ = conversationLogger.Close() }()

	processors := newProcessors(cfg)

	var limiter *agent.RateLimiter
	if cfg.RateLimit.Requests > 0 {
		limiter = agent.NewRateLimiter(cfg.RateLimit.Requests, cfg.RateLimit.Window)
		defer limiter.Stop()
	}

	agentService := agent.NewService(repo, agent.ServiceConfig{
		DefaultModel:    cfg.DefaultModel,
		ConversationLog: conversationLogger,
		RateLimiter:     limiter,
		Logger:          logger,
	}, processors...)
	slog.Info("Agent service ready", "providers", agentService.Providers(), "default_model", cfg.DefaultModel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Agent turns outlive the connection that started them but not the server.
	turnCtx, cancelTurns := context.WithCancel(context.Background())
	defer cancelTurns()

	sm := hub.NewSessionManager()
	wsHandler := hub.NewWebSocketHandler(turnCtx, sm, agentService, hub.Options{
		AllowedOrigin:  cfg.FrontendURL,
		IsDev:          cfg.IsDevelopment(),
		PingInterval:   cfg.WebSocket.PingInterval,
		MaxMessageSize: cfg.WebSocket.MaxMessageSize,
	})

	// Initialize handlers.
	baseHandler := api.NewHandler(repo, sm, cfg.Providers.Enabled())
	agentHandler := api.NewAgentHandler(baseHandler, cfg.DefaultModel)
	workspaceHandler := api.NewWorkspaceHandler(baseHandler)
	statusHandler := api.NewStatusHandler(baseHandler)
	runHandler := agent.NewHandler(agentService)

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS(allowedOrigins(cfg)))

	agentHandler.RegisterRoutes(r)
	workspaceHandler.RegisterRoutes(r)
	statusHandler.RegisterRoutes(r)
	runHandler.RegisterRoutes(r)

	// WebSocket endpoint.
	r.Get(realtime.ChannelPath, wsHandler.ServeHTTP)

	// Note: streamed runs and the channel need long-lived responses (no WriteTimeout).
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	// Start server.
	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal.
	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}
	cancelTurns()

	slog.Info("Server stopped successfully")
}

// newProcessors builds one processor per configured provider. The echo
// processor is always available.
func newProcessors(cfg *config.Config) []agent.Processor {
	procs := []agent.Processor{agent.NewEchoProcessor(cfg.EchoDelay)}
	p := cfg.Providers

	if p.AnthropicAPIKey != "" {
		proc, err := agent.NewAnthropicProcessor(p.AnthropicAPIKey, p.ThinkingBudget)
		if err != nil {
			slog.Warn("Anthropic provider disabled", "error", err)
		} else {
			procs = append(procs, proc)
		}
	}
	if p.OpenAIAPIKey != "" {
		proc, err := agent.NewOpenAIProcessor(p.OpenAIAPIKey)
		if err != nil {
			slog.Warn("OpenAI provider disabled", "error", err)
		} else {
			procs = append(procs, proc)
		}
	}
	if p.GeminiAPIKey != "" {
		proc, err := agent.NewGeminiProcessor(context.Background(), p.GeminiAPIKey, "", nil)
		if err != nil {
			slog.Warn("Gemini provider disabled", "error", err)
		} else {
			procs = append(procs, proc)
		}
	}
	if p.BridgeURL != "" {
		procs = append(procs, agent.NewBridgeProcessor(p.BridgeURL, nil))
	}
	return procs
}

func allowedOrigins(cfg *config.Config) []string {
	if cfg.IsDevelopment() || cfg.FrontendURL == "" {
		return []string{"*"}
	}
	return []string{cfg.FrontendURL}
}
