// Package proxy serves an OpenAI-compatible chat completions endpoint that
// answers through the cached, rate-limited request pipeline.
package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/pario-ai/goscli/pkg/budget"
	"github.com/pario-ai/goscli/pkg/models"
	"github.com/pario-ai/goscli/pkg/provider"
	"github.com/pario-ai/goscli/pkg/retry"
	"github.com/pario-ai/goscli/pkg/service"
)

// maxBody bounds a request body.
const maxBody = 4 << 20

// Asker answers a conversation. *service.Service implements it.
type Asker interface {
	Ask(ctx context.Context, conv models.Conversation, opts service.AskOptions) (*service.Answer, error)
}

// Server is the HTTP front end.
type Server struct {
	asker  Asker
	logger *slog.Logger
	mux    *http.ServeMux
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithMetrics mounts h on /metrics.
func WithMetrics(h http.Handler) Option {
	return func(s *Server) { s.mux.Handle("/metrics", h) }
}

// New creates a Server.
func New(a Asker, opts ...Option) *Server {
	s := &Server{
		asker:  a,
		logger: slog.Default(),
		mux:    http.NewServeMux(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "proxy")
	s.mux.HandleFunc("/v1/chat/completions", s.handleChatCompletions)
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// ListenAndServe serves s on addr until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	return ListenAndServe(ctx, addr, s, s.logger)
}

// ListenAndServe serves h on addr with graceful shutdown when ctx is
// cancelled.
func ListenAndServe(ctx context.Context, addr string, h http.Handler, logger *slog.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

type chatRequest struct {
	Model       string           `json:"model"`
	Messages    []models.Message `json:"messages"`
	Temperature *float64         `json:"temperature,omitempty"`
	MaxTokens   int              `json:"max_tokens,omitempty"`
	Stream      bool             `json:"stream,omitempty"`
}

type chatChoice struct {
	Index        int            `json:"index"`
	Message      models.Message `json:"message"`
	FinishReason string         `json:"finish_reason"`
}

type chatResponse struct {
	ID      string       `json:"id"`
	Object  string       `json:"object"`
	Created int64        `json:"created"`
	Model   string       `json:"model"`
	Choices []chatChoice `json:"choices"`
	Usage   models.Usage `json:"usage"`
}

func (s *Server) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "invalid_request", "method not allowed")
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBody))
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid_request", "failed to read request body")
		return
	}

	var req chatRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid_request", "invalid request body")
		return
	}
	if req.Stream {
		writeJSONError(w, http.StatusBadRequest, "invalid_request", "streaming is not supported")
		return
	}
	for _, m := range req.Messages {
		if !m.Role.Valid() {
			writeJSONError(w, http.StatusBadRequest, "invalid_request", "unknown message role: "+string(m.Role))
			return
		}
	}

	opts := service.AskOptions{
		Model:   req.Model,
		Params:  provider.Params{Temperature: req.Temperature, MaxTokens: req.MaxTokens},
		NoCache: r.Header.Get("Cache-Control") == "no-cache",
	}
	answer, err := s.asker.Ask(r.Context(), models.Conversation(req.Messages), opts)
	if err != nil {
		status, code := statusFor(err)
		s.logger.Warn("request failed", "status", status, "code", code, "error", err)
		msg := err.Error()
		if status == http.StatusInternalServerError {
			msg = "internal error"
		}
		writeJSONError(w, status, code, msg)
		return
	}

	cacheHeader := "miss"
	if answer.Cached {
		cacheHeader = "hit"
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Request-ID", answer.RequestID)
	w.Header().Set("X-Goscli-Cache", cacheHeader)
	w.Header().Set("X-Goscli-Provider", answer.Provider)
	_ = json.NewEncoder(w).Encode(chatResponse{
		ID:      "chatcmpl-" + answer.RequestID,
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   answer.Model,
		Choices: []chatChoice{{Message: models.Message{Role: models.RoleAssistant, Content: answer.Content}, FinishReason: "stop"}},
		Usage:   answer.Usage,
	})
}

// statusFor maps a pipeline error to an HTTP status and error code.
func statusFor(err error) (int, string) {
	var ex *retry.ExhaustedError
	if errors.As(err, &ex) {
		return http.StatusServiceUnavailable, "providers_exhausted"
	}
	if errors.Is(err, budget.ErrBudgetExceeded) {
		return http.StatusTooManyRequests, "budget_exceeded"
	}
	if errors.Is(err, service.ErrEmptyConversation) {
		return http.StatusBadRequest, "invalid_request"
	}
	var f *provider.Failure
	if errors.As(err, &f) {
		switch f.Kind {
		case provider.KindAuth:
			return http.StatusBadGateway, string(f.Kind)
		case provider.KindTimeout:
			return http.StatusGatewayTimeout, string(f.Kind)
		}
		if f.Kind.Class() == provider.ClassTransient {
			return http.StatusBadGateway, string(f.Kind)
		}
		return http.StatusBadRequest, string(f.Kind)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return http.StatusServiceUnavailable, "cancelled"
	}
	return http.StatusInternalServerError, "internal_error"
}

func writeJSONError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{"message": message, "type": "goscli_error", "code": code},
	})
}
