package models

import "time"

// Usage represents token usage reported by a provider.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens" cbor:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens" cbor:"completion_tokens"`
	TotalTokens      int `json:"total_tokens" cbor:"total_tokens"`
}

// UsageRecord tracks a single answered request.
type UsageRecord struct {
	ID               int64     `json:"id"`
	RequestID        string    `json:"request_id"`
	Provider         string    `json:"provider"`
	Model            string    `json:"model"`
	PromptTokens     int       `json:"prompt_tokens"`
	CompletionTokens int       `json:"completion_tokens"`
	TotalTokens      int       `json:"total_tokens"`
	CacheHit         bool      `json:"cache_hit"`
	Attempts         int       `json:"attempts"`
	FellBack         bool      `json:"fell_back"`
	LatencyMs        int64     `json:"latency_ms"`
	CreatedAt        time.Time `json:"created_at"`
}

// UsageSummary aggregates usage per provider and model.
type UsageSummary struct {
	Provider        string `json:"provider"`
	Model           string `json:"model"`
	RequestCount    int    `json:"request_count"`
	CacheHits       int    `json:"cache_hits"`
	Fallbacks       int    `json:"fallbacks"`
	TotalPrompt     int    `json:"total_prompt"`
	TotalCompletion int    `json:"total_completion"`
	TotalTokens     int    `json:"total_tokens"`
}
