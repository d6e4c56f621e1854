package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/pario-ai/goscli/pkg/cache"
	"github.com/pario-ai/goscli/pkg/logging"
	"github.com/pario-ai/goscli/pkg/models"
)

type fakeUsage struct {
	summaries []models.UsageSummary
	since     time.Time
}

func (f *fakeUsage) Summary(_ context.Context, since time.Time) ([]models.UsageSummary, error) {
	f.since = since
	return f.summaries, nil
}

type fakeCache struct {
	stats   models.CacheStats
	cleared []cache.Level
}

func (f *fakeCache) Stats(context.Context) (models.CacheStats, error) { return f.stats, nil }

func (f *fakeCache) Clear(_ context.Context, level cache.Level) error {
	f.cleared = append(f.cleared, level)
	return nil
}

func (f *fakeCache) Sweep(context.Context) (cache.SweepResult, error) {
	return cache.SweepResult{Fast: 2, Durable: 3}, nil
}

func newTestServer(c CacheAdmin, u UsageReporter) *Server {
	return New(c, u, "test", logging.Discard())
}

func sendAndReceive(t *testing.T, srv *Server, req Request) Response {
	t.Helper()
	line, err := json.Marshal(req)
	if err != nil {
		t.Fatal(err)
	}
	line = append(line, '\n')

	var out bytes.Buffer
	if err := srv.Run(context.Background(), bytes.NewReader(line), &out); err != nil {
		t.Fatal(err)
	}

	var resp Response
	if err := json.Unmarshal(out.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v\nraw: %s", err, out.String())
	}
	return resp
}

func callTool(t *testing.T, srv *Server, name string, args any) ToolCallResult {
	t.Helper()
	rawArgs, _ := json.Marshal(args)
	params, _ := json.Marshal(ToolCallParams{Name: name, Arguments: rawArgs})
	resp := sendAndReceive(t, srv, Request{
		JSONRPC: "2.0",
		ID:      json.RawMessage(`7`),
		Method:  "tools/call",
		Params:  params,
	})
	if resp.Error != nil {
		t.Fatalf("unexpected error: %v", resp.Error)
	}
	data, _ := json.Marshal(resp.Result)
	var result ToolCallResult
	if err := json.Unmarshal(data, &result); err != nil {
		t.Fatal(err)
	}
	return result
}

func TestInitialize(t *testing.T) {
	srv := newTestServer(nil, nil)
	resp := sendAndReceive(t, srv, Request{
		JSONRPC: "2.0",
		ID:      json.RawMessage(`1`),
		Method:  "initialize",
	})

	if resp.Error != nil {
		t.Fatalf("unexpected error: %v", resp.Error)
	}

	data, _ := json.Marshal(resp.Result)
	var result InitializeResult
	json.Unmarshal(data, &result)

	if result.ProtocolVersion != "2024-11-05" {
		t.Errorf("protocol version = %s, want 2024-11-05", result.ProtocolVersion)
	}
	if result.ServerInfo.Name != "goscli" || result.ServerInfo.Version != "test" {
		t.Errorf("unexpected server info: %+v", result.ServerInfo)
	}
}

func TestToolsList(t *testing.T) {
	srv := newTestServer(nil, nil)
	resp := sendAndReceive(t, srv, Request{
		JSONRPC: "2.0",
		ID:      json.RawMessage(`2`),
		Method:  "tools/list",
	})

	data, _ := json.Marshal(resp.Result)
	var result ToolsListResult
	json.Unmarshal(data, &result)

	if len(result.Tools) != len(toolHandlers) {
		t.Errorf("got %d tools, want %d", len(result.Tools), len(toolHandlers))
	}
	for _, tool := range result.Tools {
		if _, ok := toolHandlers[tool.Name]; !ok {
			t.Errorf("tool %s has no handler", tool.Name)
		}
	}
}

func TestNotificationHasNoResponse(t *testing.T) {
	srv := newTestServer(nil, nil)
	var out bytes.Buffer
	in := strings.NewReader(`{"jsonrpc":"2.0","method":"notifications/initialized"}` + "\n")
	if err := srv.Run(context.Background(), in, &out); err != nil {
		t.Fatal(err)
	}
	if out.Len() != 0 {
		t.Errorf("expected no output, got %s", out.String())
	}
}

func TestParseError(t *testing.T) {
	srv := newTestServer(nil, nil)
	var out bytes.Buffer
	if err := srv.Run(context.Background(), strings.NewReader("{not json\n"), &out); err != nil {
		t.Fatal(err)
	}
	var resp Response
	if err := json.Unmarshal(out.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Error == nil || resp.Error.Code != CodeParseError {
		t.Errorf("expected parse error, got %+v", resp)
	}
}

func TestUnknownMethod(t *testing.T) {
	srv := newTestServer(nil, nil)
	resp := sendAndReceive(t, srv, Request{
		JSONRPC: "2.0",
		ID:      json.RawMessage(`3`),
		Method:  "resources/list",
	})
	if resp.Error == nil || resp.Error.Code != CodeMethodNotFound {
		t.Errorf("expected method not found, got %+v", resp)
	}
}

func TestCacheStats(t *testing.T) {
	fc := &fakeCache{stats: models.CacheStats{FastEntries: 4, DurableEntries: 9, Hits: 3, Misses: 1}}
	result := callTool(t, newTestServer(fc, nil), "goscli_cache_stats", nil)

	text := result.Content[0].Text
	for _, want := range []string{"Fast entries:    4", "Durable entries: 9", "Hit Rate:        75.0%"} {
		if !strings.Contains(text, want) {
			t.Errorf("expected %q in:\n%s", want, text)
		}
	}
}

func TestCacheClear(t *testing.T) {
	fc := &fakeCache{}
	srv := newTestServer(fc, nil)

	result := callTool(t, srv, "goscli_cache_clear", map[string]string{"level": "fast"})
	if result.IsError || !strings.Contains(result.Content[0].Text, "fast") {
		t.Errorf("unexpected result: %+v", result)
	}
	callTool(t, srv, "goscli_cache_clear", map[string]string{})
	if len(fc.cleared) != 2 || fc.cleared[0] != cache.LevelFast || fc.cleared[1] != cache.LevelAll {
		t.Errorf("unexpected clears: %v", fc.cleared)
	}

	result = callTool(t, srv, "goscli_cache_clear", map[string]string{"level": "l3"})
	if !result.IsError {
		t.Error("expected error for unknown level")
	}
}

func TestCacheSweep(t *testing.T) {
	result := callTool(t, newTestServer(&fakeCache{}, nil), "goscli_cache_sweep", nil)
	if !strings.Contains(result.Content[0].Text, "2 fast and 3 durable") {
		t.Errorf("unexpected sweep result: %s", result.Content[0].Text)
	}
}

func TestCacheNotConfigured(t *testing.T) {
	result := callTool(t, newTestServer(nil, nil), "goscli_cache_clear", nil)
	if result.IsError || !strings.Contains(result.Content[0].Text, "not configured") {
		t.Errorf("unexpected result: %+v", result)
	}
}

func TestUsageStats(t *testing.T) {
	fu := &fakeUsage{summaries: []models.UsageSummary{
		{Provider: "openai", Model: "gpt-4o", RequestCount: 3, CacheHits: 1, TotalTokens: 300},
	}}
	srv := newTestServer(nil, fu)

	result := callTool(t, srv, "goscli_usage_stats", map[string]string{"since": "24h"})
	if result.IsError {
		t.Fatalf("unexpected error: %s", result.Content[0].Text)
	}
	if !strings.Contains(result.Content[0].Text, "gpt-4o") {
		t.Errorf("expected model in output:\n%s", result.Content[0].Text)
	}
	if d := time.Since(fu.since); d < 23*time.Hour || d > 25*time.Hour {
		t.Errorf("expected since about 24h ago, got %v", fu.since)
	}

	result = callTool(t, srv, "goscli_usage_stats", map[string]string{"since": "yesterday"})
	if !result.IsError {
		t.Error("expected error for invalid since")
	}
}

func TestUnknownTool(t *testing.T) {
	result := callTool(t, newTestServer(nil, nil), "nope", nil)
	if !result.IsError {
		t.Error("expected error result for unknown tool")
	}
}

func TestParseSince(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	got, err := ParseSince("", now)
	if err != nil || !got.IsZero() {
		t.Errorf("empty: got %v, %v", got, err)
	}
	got, err = ParseSince("2h", now)
	if err != nil || !got.Equal(now.Add(-2*time.Hour)) {
		t.Errorf("duration: got %v, %v", got, err)
	}
	got, err = ParseSince("2026-03-01", now)
	if err != nil || !got.Equal(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("date: got %v, %v", got, err)
	}
}

func TestFormatSummaryEmpty(t *testing.T) {
	if got := FormatSummary(nil); got != "No usage data found." {
		t.Errorf("unexpected: %q", got)
	}
}
