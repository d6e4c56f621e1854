// Package openai implements the provider contract for OpenAI-compatible
// chat completion APIs, including Groq.
package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/pario-ai/goscli/pkg/models"
	"github.com/pario-ai/goscli/pkg/provider"
)

const chatPath = "/v1/chat/completions"

// Config configures a Client.
type Config struct {
	Name    string
	BaseURL string
	APIKey  string
	// Timeout bounds each HTTP exchange; zero leaves it to the caller's context.
	Timeout    time.Duration
	HTTPClient *http.Client
}

// Client talks to an OpenAI-compatible endpoint.
type Client struct {
	name    string
	baseURL string
	apiKey  string
	http    *http.Client
}

var _ provider.Provider = (*Client)(nil)

// New creates a Client.
func New(cfg Config) *Client {
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: cfg.Timeout}
	}
	name := cfg.Name
	if name == "" {
		name = "openai"
	}
	return &Client{name: name, baseURL: cfg.BaseURL, apiKey: cfg.APIKey, http: hc}
}

// Name returns the configured provider name.
func (c *Client) Name() string { return c.name }

type chatRequest struct {
	Model       string           `json:"model"`
	Messages    []models.Message `json:"messages"`
	Temperature *float64         `json:"temperature,omitempty"`
	MaxTokens   int              `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Message      models.Message `json:"message"`
		FinishReason string         `json:"finish_reason"`
	} `json:"choices"`
	Usage models.Usage `json:"usage"`
}

// Send posts a chat completion request.
func (c *Client) Send(ctx context.Context, req provider.Request) (*provider.Response, error) {
	body, err := json.Marshal(chatRequest{
		Model:       req.Model,
		Messages:    req.Messages,
		Temperature: req.Params.Temperature,
		MaxTokens:   req.Params.MaxTokens,
	})
	if err != nil {
		return nil, &provider.Failure{Kind: provider.KindInvalidRequest, Provider: c.name, Message: "encode request", Cause: err}
	}

	headers := map[string]string{}
	if c.apiKey != "" {
		headers["Authorization"] = "Bearer " + c.apiKey
	}

	res, err := provider.PostJSON(ctx, c.http, c.name, c.baseURL, chatPath, headers, body)
	if err != nil {
		return nil, err
	}
	if f := res.Failure(c.name); f != nil {
		return nil, f
	}

	var out chatResponse
	if err := json.Unmarshal(res.Body, &out); err != nil {
		return nil, &provider.Failure{Kind: provider.KindServer, Provider: c.name, StatusCode: res.StatusCode, Message: "malformed response body", Cause: err}
	}
	if len(out.Choices) == 0 {
		return nil, &provider.Failure{Kind: provider.KindServer, Provider: c.name, StatusCode: res.StatusCode, Message: "response has no choices"}
	}

	choice := out.Choices[0]
	if choice.FinishReason == "content_filter" {
		return nil, &provider.Failure{Kind: provider.KindContentPolicy, Provider: c.name, StatusCode: res.StatusCode, Message: "response blocked by content filter"}
	}

	usage := out.Usage
	if usage.TotalTokens == 0 {
		usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
	}
	model := out.Model
	if model == "" {
		model = req.Model
	}
	return &provider.Response{
		ID:           out.ID,
		Model:        model,
		Content:      choice.Message.Content,
		FinishReason: choice.FinishReason,
		Usage:        usage,
	}, nil
}
