package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.Cache.Fast.TTL != 15*time.Minute {
		t.Errorf("expected 15m fast TTL, got %v", cfg.Cache.Fast.TTL)
	}
	if cfg.Cache.Durable.TTL != 24*time.Hour {
		t.Errorf("expected 24h durable TTL, got %v", cfg.Cache.Durable.TTL)
	}
	if cfg.Retry.MaxAttempts != 5 {
		t.Errorf("expected 5 attempts, got %d", cfg.Retry.MaxAttempts)
	}
	if cfg.RateLimit.Requests != 5 || cfg.RateLimit.Window != time.Minute {
		t.Errorf("unexpected rate limit defaults: %+v", cfg.RateLimit)
	}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad(t *testing.T) {
	t.Setenv("TEST_API_KEY", "sk-test-123")

	path := writeConfig(t, `
db_path: "test.db"
providers:
  - name: openai
    url: https://api.openai.com
    api_key: ${TEST_API_KEY}
  - name: groq
    url: https://api.groq.com/openai
    rate_limit:
      requests: 30
      window: 1m
primary:
  provider: openai
fallback:
  provider: groq
  model: llama-3.1-8b-instant
cache:
  fast:
    ttl: 30m
    max_items: 50
  durable:
    backend: sqlite
    dir: /tmp/goscli
retry:
  max_attempts: 3
  initial_backoff: 500ms
models:
  - name: gpt-4o
    context_window: 128000
    response_reserve: 4096
budgets:
  - period: monthly
    max_tokens: 1000000
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Providers[0].APIKey != "sk-test-123" {
		t.Errorf("env var not expanded: got %s", cfg.Providers[0].APIKey)
	}
	if cfg.Cache.Fast.TTL != 30*time.Minute {
		t.Errorf("expected 30m TTL, got %v", cfg.Cache.Fast.TTL)
	}
	if cfg.Cache.Durable.TTL != 24*time.Hour {
		t.Errorf("expected default durable TTL to survive, got %v", cfg.Cache.Durable.TTL)
	}
	if cfg.Cache.Durable.Backend != "sqlite" {
		t.Errorf("expected sqlite backend, got %s", cfg.Cache.Durable.Backend)
	}
	if cfg.Fallback == nil || cfg.Fallback.Model != "llama-3.1-8b-instant" {
		t.Fatalf("unexpected fallback: %+v", cfg.Fallback)
	}
	if cfg.Providers[1].RateLimit == nil || cfg.Providers[1].RateLimit.Requests != 30 {
		t.Errorf("expected provider rate limit override, got %+v", cfg.Providers[1].RateLimit)
	}
	if cfg.Retry.InitialBackoff != 500*time.Millisecond {
		t.Errorf("expected 500ms backoff, got %v", cfg.Retry.InitialBackoff)
	}
	if cfg.Retry.Multiplier != 2 {
		t.Errorf("expected default multiplier, got %v", cfg.Retry.Multiplier)
	}
	if len(cfg.Budgets) != 1 || cfg.Budgets[0].MaxTokens != 1000000 {
		t.Errorf("unexpected budgets: %+v", cfg.Budgets)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("expected valid config, got %v", err)
	}
}

func TestLoadMissing(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	if err == nil {
		t.Error("expected error for missing file")
	}
}

func TestLoadEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.env")
	if err := os.WriteFile(path, []byte("GOSCLI_TEST_FROM_FILE=file\nGOSCLI_TEST_PRESET=file\n"), 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("GOSCLI_TEST_PRESET", "env")
	t.Setenv("GOSCLI_TEST_FROM_FILE", "")
	os.Unsetenv("GOSCLI_TEST_FROM_FILE")

	if err := LoadEnv(path); err != nil {
		t.Fatal(err)
	}
	if got := os.Getenv("GOSCLI_TEST_FROM_FILE"); got != "file" {
		t.Errorf("expected value from env file, got %q", got)
	}
	if got := os.Getenv("GOSCLI_TEST_PRESET"); got != "env" {
		t.Errorf("existing environment should win, got %q", got)
	}

	if err := LoadEnv(filepath.Join(dir, "missing.env")); err == nil {
		t.Error("expected error for explicit missing env file")
	}
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.Providers = []ProviderConfig{
		{Name: "openai", URL: "https://api.openai.com"},
		{Name: "openai", URL: "https://api.openai.com", Type: "bogus"},
	}
	cfg.Fallback = &RouteTarget{Provider: "missing"}
	cfg.Retry.MaxAttempts = 0
	cfg.Retry.Jitter = 1.5
	cfg.Retry.MaxBackoff = -time.Second
	cfg.Cache.Durable.Backend = "redis"
	cfg.Budgets = []BudgetConfig{{Period: "weekly"}}

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation errors")
	}
	for _, want := range []string{"duplicate name", "unknown type", "fallback: unknown provider", "max_attempts", "jitter", "max_backoff", "unknown backend", "unknown period", "max_tokens must be positive"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("expected error to mention %q, got: %v", want, err)
		}
	}
}

func TestValidateRequiresProvider(t *testing.T) {
	if err := Default().Validate(); err == nil {
		t.Error("expected error when no providers are configured")
	}
}

func TestModelLookup(t *testing.T) {
	cfg := Default()
	cfg.Models = []ModelConfig{
		{Name: "gpt-4", ContextWindow: 8192, ResponseReserve: 1000},
		{Name: "gpt-4o", ContextWindow: 128000, ResponseReserve: 4096, CharsPerToken: 3.5},
	}

	if m := cfg.Model("gpt-4o-mini"); m.ContextWindow != 128000 {
		t.Errorf("expected longest prefix match, got %+v", m)
	}
	if m := cfg.Model("gpt-4"); m.PromptBudget() != 7192 {
		t.Errorf("expected budget 7192, got %d", m.PromptBudget())
	}
	m := cfg.Model("mystery-model")
	if m.ContextWindow != defaultContextWindow || m.ResponseReserve != defaultResponseReserve {
		t.Errorf("expected defaults for unknown model, got %+v", m)
	}
	if r := cfg.CharsPerToken(); len(r) != 1 || r["gpt-4o"] != 3.5 {
		t.Errorf("unexpected ratios: %v", r)
	}
}

func TestProvidersFromEnv(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-openai")
	t.Setenv("GROQ_API_KEY", "gsk-groq")

	cfg := Default()
	cfg.ProvidersFromEnv()
	if len(cfg.Providers) != 2 || cfg.PrimaryProvider() != "openai" {
		t.Fatalf("unexpected providers: %+v", cfg.Providers)
	}
	if cfg.Fallback == nil || cfg.Fallback.Provider != "groq" {
		t.Errorf("expected groq fallback, got %+v", cfg.Fallback)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("expected valid config, got %v", err)
	}

	t.Setenv("OPENAI_API_KEY", "")
	cfg = Default()
	cfg.ProvidersFromEnv()
	if len(cfg.Providers) != 1 || cfg.Providers[0].Name != "groq" || cfg.Fallback != nil {
		t.Errorf("expected groq as the only provider, got %+v / %+v", cfg.Providers, cfg.Fallback)
	}

	cfg = Default()
	cfg.Providers = []ProviderConfig{{Name: "custom", URL: "http://localhost"}}
	cfg.ProvidersFromEnv()
	if len(cfg.Providers) != 1 {
		t.Error("configured providers must not be replaced")
	}
}

func TestLoadOrDefault(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("OPENAI_API_KEY", "sk-openai")
	t.Setenv("GROQ_API_KEY", "")

	cfg, err := LoadOrDefault("")
	if err != nil {
		t.Fatal(err)
	}
	if len(cfg.Providers) != 1 || cfg.Providers[0].APIKey != "sk-openai" {
		t.Errorf("unexpected providers: %+v", cfg.Providers)
	}

	if _, err := LoadOrDefault(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for explicit missing config")
	}
}
