// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Port            string
	FrontendURL     string
	DBPath          string
	DefaultModel    string // used when an agent has no model, "provider/model"
	Providers       ProviderConfig
	EchoDelay       time.Duration // pause between simulated stream chunks
	ConversationLog ConversationLogConfig
	WebSocket       WebSocketConfig
	RateLimit       RateLimitConfig
}

// ProviderConfig holds language-model backend credentials. A provider with
// an empty key is disabled.
type ProviderConfig struct {
	AnthropicAPIKey string
	OpenAIAPIKey    string
	GeminiAPIKey    string
	BridgeURL       string // Python agent bridge, e.g. http://localhost:5000
	ThinkingBudget  int    // extended-thinking token budget, 0 disables
}

// Enabled lists the providers that can serve requests.
func (p ProviderConfig) Enabled() []string {
	out := []string{"echo"}
	if p.AnthropicAPIKey != "" {
		out = append(out, "anthropic")
	}
	if p.OpenAIAPIKey != "" {
		out = append(out, "openai")
	}
	if p.GeminiAPIKey != "" {
		out = append(out, "gemini")
	}
	if p.BridgeURL != "" {
		out = append(out, "bridge")
	}
	return out
}

// ConversationLogConfig controls JSON conversation logging.
type ConversationLogConfig struct {
	Enabled   bool
	Dir       string
	QueueSize int
}

// WebSocketConfig controls the real-time channel.
type WebSocketConfig struct {
	PingInterval   time.Duration
	MaxMessageSize int64
}

// RateLimitConfig bounds agent turns per workspace. Zero requests disables it.
type RateLimitConfig struct {
	Requests int
	Window   time.Duration
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	queueSize := getEnvInt("CONVERSATION_LOG_QUEUE_SIZE", 1000)
	if queueSize <= 0 {
		queueSize = 1000
	}

	cfg := &Config{
		Port:         getEnv("PORT", "8080"),
		FrontendURL:  getEnv("FRONTEND_URL", ""),
		DBPath:       getEnv("DB_PATH", "./data/agentconsole.db"),
		DefaultModel: getEnv("DEFAULT_MODEL", "echo/simulated"),
		Providers: ProviderConfig{
			AnthropicAPIKey: getEnv("ANTHROPIC_API_KEY", ""),
			OpenAIAPIKey:    getEnv("OPENAI_API_KEY", ""),
			GeminiAPIKey:    getEnv("GEMINI_API_KEY", ""),
			BridgeURL:       strings.TrimSuffix(getEnv("AGENT_BRIDGE_URL", ""), "/"),
			ThinkingBudget:  getEnvInt("THINKING_BUDGET_TOKENS", 0),
		},
		EchoDelay: getEnvDuration("ECHO_STREAM_DELAY", 40*time.Millisecond),
		ConversationLog: ConversationLogConfig{
			Enabled:   getEnvBool("CONVERSATION_LOG_ENABLED", true),
			Dir:       getEnv("CONVERSATION_LOG_DIR", "./data/logs/conversations"),
			QueueSize: queueSize,
		},
		WebSocket: WebSocketConfig{
			PingInterval:   getEnvDuration("WS_PING_INTERVAL", 30*time.Second),
			MaxMessageSize: int64(getEnvInt("WS_MAX_MESSAGE_SIZE", 64*1024)),
		},
		RateLimit: RateLimitConfig{
			Requests: getEnvInt("RATE_LIMIT_REQUESTS", 30),
			Window:   getEnvDuration("RATE_LIMIT_WINDOW", time.Minute),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if !strings.Contains(c.DefaultModel, "/") {
		return fmt.Errorf("DEFAULT_MODEL must look like provider/model, got %q", c.DefaultModel)
	}
	if c.ConversationLog.Dir == "" {
		return fmt.Errorf("CONVERSATION_LOG_DIR cannot be empty")
	}
	if c.ConversationLog.QueueSize <= 0 {
		return fmt.Errorf("CONVERSATION_LOG_QUEUE_SIZE must be > 0")
	}
	if c.Providers.ThinkingBudget < 0 {
		return fmt.Errorf("THINKING_BUDGET_TOKENS must be >= 0")
	}
	if c.Providers.ThinkingBudget > 0 && c.Providers.ThinkingBudget < 1024 {
		return fmt.Errorf("THINKING_BUDGET_TOKENS must be 0 or >= 1024")
	}
	if c.WebSocket.MaxMessageSize <= 0 {
		return fmt.Errorf("WS_MAX_MESSAGE_SIZE must be > 0")
	}
	if c.WebSocket.PingInterval <= 0 {
		return fmt.Errorf("WS_PING_INTERVAL must be > 0")
	}
	if c.RateLimit.Requests < 0 {
		return fmt.Errorf("RATE_LIMIT_REQUESTS must be >= 0")
	}
	if c.RateLimit.Requests > 0 && c.RateLimit.Window <= 0 {
		return fmt.Errorf("RATE_LIMIT_WINDOW must be > 0")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil || d < 0 {
		return fallback
	}
	return d
}
