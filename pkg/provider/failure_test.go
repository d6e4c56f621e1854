package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"
)

func TestFromStatus(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   Kind
	}{
		{"unauthorized", 401, `{"error":{"message":"bad key"}}`, KindAuth},
		{"forbidden", 403, ``, KindAuth},
		{"rate limited", 429, `{"error":{"message":"slow down"}}`, KindRateLimited},
		{"server error", 500, `oops`, KindServer},
		{"overloaded", 529, `{"type":"error","error":{"type":"overloaded_error","message":"Overloaded"}}`, KindServer},
		{"bad gateway", 502, ``, KindServer},
		{"request timeout", 408, ``, KindTimeout},
		{"bad request", 400, `{"error":{"message":"unknown field"}}`, KindInvalidRequest},
		{"not found", 404, `{"error":{"message":"model not found"}}`, KindInvalidRequest},
		{"context length by code", 400, `{"error":{"message":"too long","code":"context_length_exceeded"}}`, KindContextLength},
		{"context length anthropic", 400, `{"type":"error","error":{"type":"invalid_request_error","message":"prompt is too long: 210000 tokens"}}`, KindContextLength},
		{"content policy", 400, `{"error":{"message":"rejected","code":"content_policy_violation"}}`, KindContentPolicy},
		{"payload too large", 413, ``, KindContextLength},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := FromStatus("openai", tt.status, []byte(tt.body), 0)
			if f.Kind != tt.want {
				t.Errorf("kind = %s, want %s", f.Kind, tt.want)
			}
			if f.StatusCode != tt.status || f.Provider != "openai" {
				t.Errorf("unexpected failure fields: %+v", f)
			}
			if f.Message == "" {
				t.Error("message should never be empty")
			}
		})
	}
}

func TestFromStatusExtractsMessage(t *testing.T) {
	f := FromStatus("groq", 429, []byte(`{"error":{"message":"Rate limit reached"}}`), 3*time.Second)
	if f.Message != "Rate limit reached" {
		t.Errorf("Message = %q", f.Message)
	}
	if f.RetryAfter != 3*time.Second {
		t.Errorf("RetryAfter = %v", f.RetryAfter)
	}
	if got := f.Error(); got != "groq: rate_limited: Rate limit reached" {
		t.Errorf("Error() = %q", got)
	}
}

func TestKindClass(t *testing.T) {
	transient := []Kind{KindRateLimited, KindServer, KindNetwork, KindTimeout}
	request := []Kind{KindAuth, KindInvalidRequest, KindContentPolicy}

	for _, k := range transient {
		if k.Class() != ClassTransient {
			t.Errorf("%s should be transient", k)
		}
		if !(&Failure{Kind: k}).Retryable() {
			t.Errorf("%s should be retryable", k)
		}
	}
	for _, k := range request {
		if k.Class() != ClassRequest {
			t.Errorf("%s should be a request failure", k)
		}
	}
	if KindContextLength.Class() != ClassCapacity {
		t.Error("context length should be a capacity failure")
	}
	if (&Failure{Kind: KindContextLength}).Retryable() {
		t.Error("capacity failures are not retryable")
	}
}

type timeoutErr struct{}

func (timeoutErr) Error() string { return "i/o timeout" }
func (timeoutErr) Timeout() bool { return true }
func (timeoutErr) Temporary() bool { return true }

func TestClassify(t *testing.T) {
	if Classify("p", nil) != nil {
		t.Error("nil error should classify to nil")
	}

	f := Classify("p", fmt.Errorf("call: %w", context.DeadlineExceeded))
	if f.Kind != KindTimeout || !errors.Is(f, context.DeadlineExceeded) {
		t.Errorf("deadline: %+v", f)
	}

	if f := Classify("p", timeoutErr{}); f.Kind != KindTimeout {
		t.Errorf("net timeout classified as %s", f.Kind)
	}

	if f := Classify("p", errors.New("connection refused")); f.Kind != KindNetwork {
		t.Errorf("unknown error classified as %s", f.Kind)
	}

	orig := &Failure{Kind: KindAuth, Message: "bad key"}
	got := Classify("anthropic", fmt.Errorf("wrapped: %w", orig))
	if got.Kind != KindAuth || got.Message != "bad key" || got.Provider != "anthropic" {
		t.Errorf("existing failure should pass through with provider set: %+v", got)
	}
	if orig.Provider != "" {
		t.Errorf("caller's failure was modified: %+v", orig)
	}

	named := &Failure{Kind: KindServer, Provider: "openai"}
	if got := Classify("groq", named); got != named {
		t.Errorf("failure naming its provider should be returned as is: %+v", got)
	}
}

func TestParseRetryAfter(t *testing.T) {
	if d := ParseRetryAfter("7"); d != 7*time.Second {
		t.Errorf("seconds: %v", d)
	}
	if d := ParseRetryAfter(""); d != 0 {
		t.Errorf("empty: %v", d)
	}
	future := time.Now().Add(time.Hour).UTC().Format(http.TimeFormat)
	if d := ParseRetryAfter(future); d <= 0 || d > time.Hour {
		t.Errorf("date: %v", d)
	}
	if d := ParseRetryAfter("soon"); d != 0 {
		t.Errorf("garbage: %v", d)
	}
}
