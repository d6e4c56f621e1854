// Package anthropic implements the provider contract for the Anthropic
// Messages API.
package anthropic

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/pario-ai/goscli/pkg/models"
	"github.com/pario-ai/goscli/pkg/provider"
)

const (
	messagesPath     = "/v1/messages"
	apiVersion       = "2023-06-01"
	defaultMaxTokens = 1024
)

// Config configures a Client.
type Config struct {
	Name       string
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// Client talks to the Messages API.
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
		name = "anthropic"
	}
	return &Client{name: name, baseURL: cfg.BaseURL, apiKey: cfg.APIKey, http: hc}
}

// Name returns the configured provider name.
func (c *Client) Name() string { return c.name }

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type messagesRequest struct {
	Model       string    `json:"model"`
	System      string    `json:"system,omitempty"`
	Messages    []message `json:"messages"`
	MaxTokens   int       `json:"max_tokens"`
	Temperature *float64  `json:"temperature,omitempty"`
}

type messagesResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// buildRequest lifts system messages into the top-level system field.
func buildRequest(req provider.Request) messagesRequest {
	var system []string
	msgs := make([]message, 0, len(req.Messages))
	for _, m := range req.Messages {
		if m.Role == models.RoleSystem {
			system = append(system, m.Content)
			continue
		}
		msgs = append(msgs, message{Role: string(m.Role), Content: m.Content})
	}
	maxTokens := req.Params.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	return messagesRequest{
		Model:       req.Model,
		System:      strings.Join(system, "\n\n"),
		Messages:    msgs,
		MaxTokens:   maxTokens,
		Temperature: req.Params.Temperature,
	}
}

// Send posts a Messages API request.
func (c *Client) Send(ctx context.Context, req provider.Request) (*provider.Response, error) {
	body, err := json.Marshal(buildRequest(req))
	if err != nil {
		return nil, &provider.Failure{Kind: provider.KindInvalidRequest, Provider: c.name, Message: "encode request", Cause: err}
	}

	headers := map[string]string{
		"anthropic-version": apiVersion,
	}
	if c.apiKey != "" {
		headers["x-api-key"] = c.apiKey
	}

	res, err := provider.PostJSON(ctx, c.http, c.name, c.baseURL, messagesPath, headers, body)
	if err != nil {
		return nil, err
	}
	if f := res.Failure(c.name); f != nil {
		return nil, f
	}

	var out messagesResponse
	if err := json.Unmarshal(res.Body, &out); err != nil {
		return nil, &provider.Failure{Kind: provider.KindServer, Provider: c.name, StatusCode: res.StatusCode, Message: "malformed response body", Cause: err}
	}

	var text strings.Builder
	for _, block := range out.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if out.StopReason == "refusal" {
		return nil, &provider.Failure{Kind: provider.KindContentPolicy, Provider: c.name, StatusCode: res.StatusCode, Message: "model refused the request"}
	}

	model := out.Model
	if model == "" {
		model = req.Model
	}
	return &provider.Response{
		ID:           out.ID,
		Model:        model,
		Content:      text.String(),
		FinishReason: out.StopReason,
		Usage: models.Usage{
			PromptTokens:     out.Usage.InputTokens,
			CompletionTokens: out.Usage.OutputTokens,
			TotalTokens:      out.Usage.InputTokens + out.Usage.OutputTokens,
		},
	}, nil
}
