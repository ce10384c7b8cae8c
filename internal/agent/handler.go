package agent

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/ashureev/agentconsole/internal/domain"
	"github.com/ashureev/agentconsole/internal/protocol"
)

// defaultMaxRequestBodySize is the default maximum allowed request body size (1MB).
const defaultMaxRequestBodySize = 1 << 20 // 1MB

// RateLimiter implements a sliding-window limiter keyed by workspace.
type RateLimiter struct {
	mu       sync.Mutex
	requests map[string][]time.Time
	limit    int
	window   time.Duration
	done     chan struct{}
	stopOnce sync.Once
}

// NewRateLimiter creates a new rate limiter and starts the background eviction goroutine.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	rl := &RateLimiter{
		requests: make(map[string][]time.Time),
		limit:    limit,
		window:   window,
		done:     make(chan struct{}),
	}
	rl.startEviction()
	return rl
}

// Allow checks if a request is allowed for the given key.
func (r *RateLimiter) Allow(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	recent := fresh(r.requests[key], now.Add(-r.window))
	if len(recent) >= r.limit {
		r.requests[key] = recent
		return false
	}

	r.requests[key] = append(recent, now)
	return true
}

// Stop ends the eviction goroutine.
func (r *RateLimiter) Stop() {
	r.stopOnce.Do(func() { close(r.done) })
}

// startEviction runs a background goroutine that periodically removes expired
// keys from the requests map, preventing unbounded memory growth.
func (r *RateLimiter) startEviction() {
	go func() {
		ticker := time.NewTicker(r.window)
		defer ticker.Stop()
		for {
			select {
			case <-r.done:
				return
			case <-ticker.C:
			}
			r.mu.Lock()
			cutoff := time.Now().Add(-r.window)
			for key, times := range r.requests {
				if kept := fresh(times, cutoff); len(kept) == 0 {
					delete(r.requests, key)
				} else {
					r.requests[key] = kept
				}
			}
			r.mu.Unlock()
		}
	}()
}

func fresh(times []time.Time, cutoff time.Time) []time.Time {
	var kept []time.Time
	for _, t := range times {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	return kept
}

// Handler exposes agent runs over HTTP for clients without a channel.
type Handler struct {
	service     *Service
	maxBodySize int64
}

// NewHandler creates a run handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service, maxBodySize: defaultMaxRequestBodySize}
}

type runRequest struct {
	AgentID     string `json:"agentId"`
	WorkspaceID string `json:"workspaceId"`
	MessageID   string `json:"messageId,omitempty"`
	Message     string `json:"message"`
}

type runResponse struct {
	MessageID   string        `json:"messageId"`
	AgentID     string        `json:"agentId"`
	WorkspaceID string        `json:"workspaceId"`
	Content     string        `json:"content"`
	Trace       *domain.Trace `json:"trace,omitempty"`
}

// HandleRun runs one agent turn. Clients accepting text/event-stream get the
// turn's events as SSE, named by event kind. Others get the finished reply
// as JSON.
func (h *Handler) HandleRun(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodySize)

	var body runRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeJSONError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	req := RunRequest{
		MessageID:   body.MessageID,
		WorkspaceID: body.WorkspaceID,
		AgentID:     body.AgentID,
		Text:        body.Message,
		Channel:     "http",
	}
	if err := req.Validate(); err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	slog.Info("Agent run request",
		"agent_id", req.AgentID,
		"workspace_id", req.WorkspaceID,
		"message_length", len(req.Text),
		"request_id", chiMiddleware.GetReqID(r.Context()),
	)

	if strings.Contains(r.Header.Get("Accept"), "text/event-stream") {
		h.streamRun(w, r, req)
		return
	}

	reply, err := h.service.Run(r.Context(), req, nil)
	if err != nil {
		writeJSONError(w, runErrorStatus(err), err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(runResponse{
		MessageID:   reply.ID,
		AgentID:     reply.AgentID,
		WorkspaceID: reply.WorkspaceID,
		Content:     reply.Content,
		Trace:       reply.Trace,
	}); err != nil {
		slog.Warn("failed to write run response", "error", err)
	}
}

func (h *Handler) streamRun(w http.ResponseWriter, r *http.Request, req RunRequest) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSONError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	writeFailed := false
	_, _ = h.service.Run(r.Context(), req, func(ev protocol.Event) {
		if writeFailed {
			return
		}
		data, err := protocol.Encode(ev)
		if err != nil {
			slog.Warn("failed to encode event", "error", err, "kind", ev.Kind())
			return
		}
		if err := writeSSE(w, string(ev.Kind()), string(data)); err != nil {
			slog.Warn("failed to write SSE event", "error", err)
			writeFailed = true
			return
		}
		flusher.Flush()
	})
}

func runErrorStatus(err error) int {
	switch {
	case errors.Is(err, ErrUnknownAgent), errors.Is(err, ErrUnknownWorkspace):
		return http.StatusNotFound
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, ErrUnknownProvider):
		return http.StatusBadRequest
	default:
		return http.StatusBadGateway
	}
}

// RegisterRoutes registers agent run routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api/agent", func(r chi.Router) {
		r.Post("/run", h.HandleRun)
	})
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func writeSSE(w io.Writer, event, data string) error {
	_, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	return err
}
