package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"
)

// Kind is the failure category reported by a provider call.
type Kind string

const (
	KindRateLimited    Kind = "rate_limited"
	KindServer         Kind = "server_error"
	KindNetwork        Kind = "network_error"
	KindTimeout        Kind = "timeout"
	KindAuth           Kind = "auth_error"
	KindInvalidRequest Kind = "invalid_request"
	KindContentPolicy  Kind = "content_policy"
	KindContextLength  Kind = "context_length_exceeded"
)

// Class groups kinds by how callers must react to them.
type Class int

const (
	// ClassTransient failures may succeed on retry.
	ClassTransient Class = iota
	// ClassRequest failures are caused by the request itself and never retried.
	ClassRequest
	// ClassCapacity failures mean the prompt does not fit the model.
	ClassCapacity
)

func (c Class) String() string {
	switch c {
	case ClassTransient:
		return "transient"
	case ClassRequest:
		return "request"
	case ClassCapacity:
		return "capacity"
	default:
		return "unknown"
	}
}

// Class returns the class of k. Unknown kinds are transient.
func (k Kind) Class() Class {
	switch k {
	case KindAuth, KindInvalidRequest, KindContentPolicy:
		return ClassRequest
	case KindContextLength:
		return ClassCapacity
	default:
		return ClassTransient
	}
}

// Failure is a classified provider error.
type Failure struct {
	Kind       Kind
	Provider   string
	StatusCode int
	Message    string
	// RetryAfter is the provider's requested delay, if it sent one.
	RetryAfter time.Duration
	Cause      error
}

func (f *Failure) Error() string {
	msg := f.Message
	if msg == "" && f.Cause != nil {
		msg = f.Cause.Error()
	}
	if f.Provider != "" {
		return fmt.Sprintf("%s: %s: %s", f.Provider, f.Kind, msg)
	}
	return fmt.Sprintf("%s: %s", f.Kind, msg)
}

func (f *Failure) Unwrap() error {
	return f.Cause
}

// Retryable reports whether the failure is transient.
func (f *Failure) Retryable() bool {
	return f.Kind.Class() == ClassTransient
}

// Classify converts any error into a *Failure. Errors that already are
// failures are returned as is, or as a copy naming provider when they name
// none; deadlines become timeouts and everything else is treated as a
// network failure.
func Classify(provider string, err error) *Failure {
	if err == nil {
		return nil
	}
	var f *Failure
	if errors.As(err, &f) {
		if f.Provider != "" {
			return f
		}
		named := *f
		named.Provider = provider
		return &named
	}

	kind := KindNetwork
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		kind = KindTimeout
	case errors.As(err, &netErr) && netErr.Timeout():
		kind = KindTimeout
	}
	return &Failure{Kind: kind, Provider: provider, Message: err.Error(), Cause: err}
}

const maxMessageLen = 512

// FromStatus maps an unsuccessful HTTP response to a Failure.
func FromStatus(provider string, status int, body []byte, retryAfter time.Duration) *Failure {
	msg, code := errorDetail(body)
	f := &Failure{
		Provider:   provider,
		StatusCode: status,
		Message:    msg,
		RetryAfter: retryAfter,
	}

	switch {
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		f.Kind = KindAuth
	case status == http.StatusTooManyRequests:
		f.Kind = KindRateLimited
	case status == http.StatusRequestTimeout:
		f.Kind = KindTimeout
	case status == http.StatusRequestEntityTooLarge:
		f.Kind = KindContextLength
	case status >= 500:
		f.Kind = KindServer
	case status >= 400:
		f.Kind = requestKind(msg, code)
	default:
		f.Kind = KindServer
	}
	if f.Message == "" {
		f.Message = http.StatusText(status)
	}
	return f
}

func requestKind(msg, code string) Kind {
	lower := strings.ToLower(msg + " " + code)
	switch {
	case strings.Contains(lower, "context_length"),
		strings.Contains(lower, "context length"),
		strings.Contains(lower, "maximum context"),
		strings.Contains(lower, "prompt is too long"),
		strings.Contains(lower, "too many tokens"):
		return KindContextLength
	case strings.Contains(lower, "content_policy"),
		strings.Contains(lower, "content policy"),
		strings.Contains(lower, "content_filter"),
		strings.Contains(lower, "safety"):
		return KindContentPolicy
	default:
		return KindInvalidRequest
	}
}

// errorDetail pulls the message and code out of the error envelopes used by
// OpenAI-compatible and Anthropic APIs, falling back to the raw body.
func errorDetail(body []byte) (message, code string) {
	var env struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
			Code    any    `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &env); err == nil && env.Error.Message != "" {
		code = env.Error.Type
		if c, ok := env.Error.Code.(string); ok && c != "" {
			code = c
		}
		return truncate(env.Error.Message), code
	}
	return truncate(strings.TrimSpace(string(body))), ""
}

func truncate(s string) string {
	if len(s) <= maxMessageLen {
		return s
	}
	return s[:maxMessageLen] + "..."
}

// ParseRetryAfter parses a Retry-After header given in seconds or as an
// HTTP date.
func ParseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	var seconds int
	if _, err := fmt.Sscanf(header, "%d", &seconds); err == nil {
		return time.Duration(seconds) * time.Second
	}
	if t, err := http.ParseTime(header); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}
