package router

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/pario-ai/goscli/pkg/config"
	"github.com/pario-ai/goscli/pkg/models"
	"github.com/pario-ai/goscli/pkg/provider"
	"github.com/pario-ai/goscli/pkg/provider/anthropic"
	"github.com/pario-ai/goscli/pkg/provider/openai"
)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Providers = []config.ProviderConfig{
		{Name: "openai", URL: "https://api.openai.com", APIKey: "sk-1"},
		{Name: "claude", Type: "anthropic", URL: "https://api.anthropic.com", APIKey: "sk-2"},
		{Name: "groq", URL: "https://api.groq.com/openai", RateLimit: &config.RateLimitConfig{Requests: 30, Window: time.Minute}},
	}
	return cfg
}

func TestTargetsPrimaryOnly(t *testing.T) {
	r := New(testConfig())
	primary, fallback, err := r.Targets()
	if err != nil {
		t.Fatal(err)
	}
	if primary.Provider.Name() != "openai" {
		t.Errorf("expected first provider as primary, got %s", primary.Provider.Name())
	}
	if _, ok := primary.Provider.(*openai.Client); !ok {
		t.Errorf("expected openai adapter, got %T", primary.Provider)
	}
	if fallback != nil {
		t.Errorf("expected no fallback, got %+v", fallback)
	}
}

func TestTargetsWithFallback(t *testing.T) {
	cfg := testConfig()
	cfg.Primary = config.RouteTarget{Provider: "claude", Model: "claude-haiku-4-5"}
	cfg.Fallback = &config.RouteTarget{Provider: "groq", Model: "llama-3.1-8b-instant"}

	r := New(cfg)
	primary, fallback, err := r.Targets()
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := primary.Provider.(*anthropic.Client); !ok {
		t.Errorf("expected anthropic adapter, got %T", primary.Provider)
	}
	if primary.Model != "claude-haiku-4-5" {
		t.Errorf("unexpected primary model %q", primary.Model)
	}
	if fallback == nil || fallback.Provider.Name() != "groq" || fallback.Model != "llama-3.1-8b-instant" {
		t.Fatalf("unexpected fallback: %+v", fallback)
	}
}

func TestLimiterOverride(t *testing.T) {
	r := New(testConfig())

	if got := r.Limiter("groq").Limits().Requests; got != 30 {
		t.Errorf("expected provider override of 30, got %d", got)
	}
	if got := r.Limiter("openai").Limits().Requests; got != 5 {
		t.Errorf("expected global limit of 5, got %d", got)
	}
	if r.Limiter("openai") != r.Limiter("openai") {
		t.Error("limiter must be shared per provider")
	}
}

func TestUnknownProvider(t *testing.T) {
	cfg := testConfig()
	cfg.Fallback = &config.RouteTarget{Provider: "missing"}
	if _, _, err := New(cfg).Targets(); err == nil {
		t.Error("expected error for unknown fallback provider")
	}

	cfg = testConfig()
	cfg.Providers = append(cfg.Providers, config.ProviderConfig{Name: "odd", Type: "bogus", URL: "http://x"})
	if _, err := New(cfg).Provider("odd"); err == nil {
		t.Error("expected error for unknown provider type")
	}
}

func TestNoProviders(t *testing.T) {
	if _, _, err := New(config.Default()).Targets(); err == nil {
		t.Error("expected error when no providers are configured")
	}
}

func TestPolicyFromConfig(t *testing.T) {
	p := PolicyFromConfig(config.Default().Retry)
	if p.MaxAttempts != 5 || p.InitialBackoff != time.Second || p.Multiplier != 2 || p.Jitter != 0.1 || p.MaxBackoff != time.Minute {
		t.Errorf("unexpected policy: %+v", p)
	}
}

func TestOrchestratorEndToEnd(t *testing.T) {
	var calls int
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"id":      "chatcmpl-1",
			"model":   "gpt-4o-mini",
			"choices": []map[string]any{{"message": map[string]string{"role": "assistant", "content": "hi"}, "finish_reason": "stop"}},
			"usage":   map[string]int{"prompt_tokens": 3, "completion_tokens": 1, "total_tokens": 4},
		})
	}))
	defer upstream.Close()

	cfg := config.Default()
	cfg.Providers = []config.ProviderConfig{{Name: "openai", URL: upstream.URL}}
	cfg.Retry.InitialBackoff = time.Millisecond

	o, err := New(cfg).Orchestrator()
	if err != nil {
		t.Fatal(err)
	}
	res, err := o.Send(context.Background(), provider.Request{
		Model:    "gpt-4o-mini",
		Messages: []models.Message{{Role: models.RoleUser, Content: "hello"}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Response.Content != "hi" || res.Attempts != 2 {
		t.Errorf("unexpected result: content=%q attempts=%d", res.Response.Content, res.Attempts)
	}
}
