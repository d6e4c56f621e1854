package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pario-ai/goscli/pkg/cache"
)

type toolHandler func(ctx context.Context, s *Server, args json.RawMessage) ToolCallResult

var toolHandlers = map[string]toolHandler{
	"goscli_cache_stats": handleCacheStats,
	"goscli_cache_clear": handleCacheClear,
	"goscli_cache_sweep": handleCacheSweep,
	"goscli_usage_stats": handleUsageStats,
}

var noArgs = map[string]any{
	"type":       "object",
	"properties": map[string]any{},
}

var allTools = []ToolDefinition{
	{
		Name:        "goscli_cache_stats",
		Description: "Show response cache statistics (fast and durable entries, hits, misses, evictions, hit rate).",
		InputSchema: noArgs,
	},
	{
		Name:        "goscli_cache_clear",
		Description: "Clear the response cache. Clears both levels unless a level is given.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"level": map[string]any{
					"type":        "string",
					"enum":        []string{"all", "fast", "durable"},
					"description": "Which level to clear (optional, defaults to all)",
				},
			},
		},
	},
	{
		Name:        "goscli_cache_sweep",
		Description: "Remove expired entries from both cache levels now.",
		InputSchema: noArgs,
	},
	{
		Name:        "goscli_usage_stats",
		Description: "Show token usage grouped by provider and model.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"since": map[string]any{
					"type":        "string",
					"description": "Look-back window such as 24h, or a YYYY-MM-DD date (optional, omit for all time)",
				},
			},
		},
	},
}

func textResult(text string) ToolCallResult {
	return ToolCallResult{
		Content: []ContentBlock{{Type: "text", Text: text}},
	}
}

func errorResult(text string) ToolCallResult {
	return ToolCallResult{
		Content: []ContentBlock{{Type: "text", Text: text}},
		IsError: true,
	}
}

func handleCacheStats(ctx context.Context, s *Server, _ json.RawMessage) ToolCallResult {
	if s.cache == nil {
		return textResult("Cache is not configured.")
	}
	stats, err := s.cache.Stats(ctx)
	if err != nil {
		return errorResult("Error fetching cache stats: " + err.Error())
	}
	return textResult(formatCacheStats(stats))
}

type cacheClearArgs struct {
	Level string `json:"level"`
}

func handleCacheClear(ctx context.Context, s *Server, rawArgs json.RawMessage) ToolCallResult {
	if s.cache == nil {
		return textResult("Cache is not configured.")
	}
	var args cacheClearArgs
	if len(rawArgs) > 0 {
		_ = json.Unmarshal(rawArgs, &args)
	}
	level, err := cache.ParseLevel(args.Level)
	if err != nil {
		return errorResult(err.Error())
	}
	if err := s.cache.Clear(ctx, level); err != nil {
		return errorResult("Error clearing cache: " + err.Error())
	}
	return textResult(fmt.Sprintf("Cleared %s cache.", level))
}

func handleCacheSweep(ctx context.Context, s *Server, _ json.RawMessage) ToolCallResult {
	if s.cache == nil {
		return textResult("Cache is not configured.")
	}
	res, err := s.cache.Sweep(ctx)
	if err != nil {
		return errorResult("Error sweeping cache: " + err.Error())
	}
	return textResult(fmt.Sprintf("Removed %d fast and %d durable expired entries.", res.Fast, res.Durable))
}

type usageArgs struct {
	Since string `json:"since"`
}

func handleUsageStats(ctx context.Context, s *Server, rawArgs json.RawMessage) ToolCallResult {
	if s.usage == nil {
		return textResult("Usage tracking is not configured.")
	}
	var args usageArgs
	if len(rawArgs) > 0 {
		_ = json.Unmarshal(rawArgs, &args)
	}
	since, err := ParseSince(args.Since, time.Now())
	if err != nil {
		return errorResult(err.Error())
	}
	rows, err := s.usage.Summary(ctx, since)
	if err != nil {
		return errorResult("Error fetching usage: " + err.Error())
	}
	return textResult(FormatSummary(rows))
}

// ParseSince turns a look-back duration ("24h") or a date ("2026-01-02")
// into an absolute time. An empty string is the zero time.
func ParseSince(s string, now time.Time) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if d, err := time.ParseDuration(s); err == nil {
		return now.Add(-d), nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid since %q (use a duration such as 24h or YYYY-MM-DD)", s)
	}
	return t, nil
}
