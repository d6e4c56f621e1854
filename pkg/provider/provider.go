// Package provider defines the call contract every language-model backend
// implements and the failure taxonomy the retry layer relies on.
package provider

import (
	"context"

	"github.com/pario-ai/goscli/pkg/models"
)

// Provider sends a chat request to a remote model. Implementations return a
// *Failure for every error so callers can classify it.
type Provider interface {
	Name() string
	Send(ctx context.Context, req Request) (*Response, error)
}

// Params are sampling parameters passed through to the provider.
type Params struct {
	Temperature *float64 `json:"temperature,omitempty" cbor:"temperature,omitempty"`
	MaxTokens   int      `json:"max_tokens,omitempty" cbor:"max_tokens,omitempty"`
}

// Request is a single chat completion request.
type Request struct {
	Model    string
	Messages []models.Message
	Params   Params
	// EstimatedTokens is the prompt estimate used for rate limit admission.
	EstimatedTokens int
}

// Response is a successful completion.
type Response struct {
	ID           string       `json:"id" cbor:"id"`
	Model        string       `json:"model" cbor:"model"`
	Content      string       `json:"content" cbor:"content"`
	FinishReason string       `json:"finish_reason" cbor:"finish_reason"`
	Usage        models.Usage `json:"usage" cbor:"usage"`
}

// Func adapts a function to the Provider interface.
type Func struct {
	ProviderName string
	Fn           func(ctx context.Context, req Request) (*Response, error)
}

// Name returns the provider name.
func (f Func) Name() string { return f.ProviderName }

// Send calls Fn.
func (f Func) Send(ctx context.Context, req Request) (*Response, error) {
	return f.Fn(ctx, req)
}
