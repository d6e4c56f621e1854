package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all goscli configuration.
type Config struct {
	Listen       string           `yaml:"listen"`
	DBPath       string           `yaml:"db_path"`
	DefaultModel string           `yaml:"default_model"`
	SystemPrompt string           `yaml:"system_prompt"`
	Providers    []ProviderConfig `yaml:"providers"`
	Primary      RouteTarget      `yaml:"primary"`
	Fallback     *RouteTarget     `yaml:"fallback"`
	Cache        CacheConfig      `yaml:"cache"`
	RateLimit    RateLimitConfig  `yaml:"rate_limit"`
	Retry        RetryConfig      `yaml:"retry"`
	Models       []ModelConfig    `yaml:"models"`
	Budgets      []BudgetConfig   `yaml:"budgets"`
	Log          LogConfig        `yaml:"log"`
	Metrics      MetricsConfig    `yaml:"metrics"`
}

// ProviderConfig defines an upstream LLM provider.
// Type is "openai" (default, also covers OpenAI-compatible APIs such as Groq)
// or "anthropic".
type ProviderConfig struct {
	Name      string           `yaml:"name"`
	Type      string           `yaml:"type"`
	URL       string           `yaml:"url"`
	APIKey    string           `yaml:"api_key"`
	Timeout   time.Duration    `yaml:"timeout"`
	RateLimit *RateLimitConfig `yaml:"rate_limit"`
}

// RouteTarget identifies a provider and, optionally, the model to use on it.
// An empty Model means the requested model is passed through.
type RouteTarget struct {
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
}

// CacheConfig controls the two-level response cache.
type CacheConfig struct {
	Enabled       bool               `yaml:"enabled"`
	Fast          FastCacheConfig    `yaml:"fast"`
	Durable       DurableCacheConfig `yaml:"durable"`
	SweepSchedule string             `yaml:"sweep_schedule"`
}

// FastCacheConfig controls the in-memory level.
type FastCacheConfig struct {
	TTL      time.Duration `yaml:"ttl"`
	MaxItems int           `yaml:"max_items"`
}

// DurableCacheConfig controls the on-disk level. Backend is "file" or "sqlite".
type DurableCacheConfig struct {
	Backend string        `yaml:"backend"`
	Dir     string        `yaml:"dir"`
	TTL     time.Duration `yaml:"ttl"`
}

// RateLimitConfig defines request and token ceilings per window.
// A zero ceiling disables that dimension.
type RateLimitConfig struct {
	Requests int           `yaml:"requests"`
	Tokens   int           `yaml:"tokens"`
	Window   time.Duration `yaml:"window"`
}

// RetryConfig defines the retry policy applied to every provider call.
type RetryConfig struct {
	MaxAttempts    int           `yaml:"max_attempts"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	Multiplier     float64       `yaml:"multiplier"`
	Jitter         float64       `yaml:"jitter"`
	AttemptTimeout time.Duration `yaml:"attempt_timeout"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
}

// ModelConfig describes the context budget of a model.
type ModelConfig struct {
	Name            string  `yaml:"name"`
	ContextWindow   int     `yaml:"context_window"`
	ResponseReserve int     `yaml:"response_reserve"`
	CharsPerToken   float64 `yaml:"chars_per_token"`
}

// BudgetConfig caps the tokens spent per period. An empty Model applies the
// cap across all models. Period is "daily" (default) or "monthly".
type BudgetConfig struct {
	Model     string `yaml:"model"`
	Period    string `yaml:"period"`
	MaxTokens int64  `yaml:"max_tokens"`
}

// LogConfig controls structured logging.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig controls the Prometheus collector. Metrics are served only
// when Listen is set.
type MetricsConfig struct {
	Listen    string `yaml:"listen"`
	Namespace string `yaml:"namespace"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Listen:       ":8080",
		DBPath:       filepath.Join(defaultHome(), "goscli.db"),
		DefaultModel: "gpt-4o-mini",
		Cache: CacheConfig{
			Enabled: true,
			Fast: FastCacheConfig{
				TTL:      15 * time.Minute,
				MaxItems: 100,
			},
			Durable: DurableCacheConfig{
				Backend: "file",
				Dir:     filepath.Join(defaultHome(), "l2_cache"),
				TTL:     24 * time.Hour,
			},
			SweepSchedule: "@every 5m",
		},
		RateLimit: RateLimitConfig{
			Requests: 5,
			Window:   time.Minute,
		},
		Retry: RetryConfig{
			MaxAttempts:    5,
			InitialBackoff: time.Second,
			Multiplier:     2,
			Jitter:         0.1,
			AttemptTimeout: 60 * time.Second,
			MaxBackoff:     time.Minute,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Metrics: MetricsConfig{
			Namespace: "goscli",
		},
	}
}

func defaultHome() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".goscli_cache"
	}
	return filepath.Join(home, ".goscli_cache")
}

// LoadEnv loads KEY=VALUE pairs from an env file into the process
// environment. Variables that are already set are left untouched. An empty
// path means ".env" in the working directory; a missing default file is not
// an error.
func LoadEnv(path string) error {
	explicit := path != ""
	if !explicit {
		path = ".env"
	}
	if _, err := os.Stat(path); err != nil {
		if !explicit && errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("stat env file: %w", err)
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load env file: %w", err)
	}
	return nil
}

// Load reads a YAML config file and expands environment variables.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	return cfg, nil
}

// Provider returns the provider with the given name.
func (c *Config) Provider(name string) (ProviderConfig, bool) {
	for _, p := range c.Providers {
		if p.Name == name {
			return p, true
		}
	}
	return ProviderConfig{}, false
}

// PrimaryProvider returns the configured primary provider name, defaulting
// to the first provider.
func (c *Config) PrimaryProvider() string {
	if c.Primary.Provider != "" {
		return c.Primary.Provider
	}
	if len(c.Providers) > 0 {
		return c.Providers[0].Name
	}
	return ""
}

// Validate checks the configuration for values the pipeline cannot run with.
func (c *Config) Validate() error {
	var errs []error

	if len(c.Providers) == 0 {
		errs = append(errs, errors.New("at least one provider is required"))
	}
	seen := make(map[string]bool, len(c.Providers))
	for i, p := range c.Providers {
		if p.Name == "" {
			errs = append(errs, fmt.Errorf("providers[%d]: name is required", i))
			continue
		}
		if seen[p.Name] {
			errs = append(errs, fmt.Errorf("providers[%d]: duplicate name %q", i, p.Name))
		}
		seen[p.Name] = true
		switch strings.ToLower(p.Type) {
		case "", "openai", "anthropic":
		default:
			errs = append(errs, fmt.Errorf("provider %q: unknown type %q", p.Name, p.Type))
		}
		if p.URL == "" {
			errs = append(errs, fmt.Errorf("provider %q: url is required", p.Name))
		}
		if p.RateLimit != nil {
			if err := p.RateLimit.validate(); err != nil {
				errs = append(errs, fmt.Errorf("provider %q: %w", p.Name, err))
			}
		}
	}

	if name := c.PrimaryProvider(); name != "" && !seen[name] && len(c.Providers) > 0 {
		errs = append(errs, fmt.Errorf("primary: unknown provider %q", name))
	}
	if c.Fallback != nil {
		if c.Fallback.Provider == "" {
			errs = append(errs, errors.New("fallback: provider is required"))
		} else if !seen[c.Fallback.Provider] {
			errs = append(errs, fmt.Errorf("fallback: unknown provider %q", c.Fallback.Provider))
		}
	}

	if c.Cache.Enabled {
		if c.Cache.Fast.TTL <= 0 {
			errs = append(errs, errors.New("cache.fast.ttl must be positive"))
		}
		if c.Cache.Fast.MaxItems <= 0 {
			errs = append(errs, errors.New("cache.fast.max_items must be positive"))
		}
		if c.Cache.Durable.TTL <= 0 {
			errs = append(errs, errors.New("cache.durable.ttl must be positive"))
		}
		switch c.Cache.Durable.Backend {
		case "file", "sqlite":
		default:
			errs = append(errs, fmt.Errorf("cache.durable.backend: unknown backend %q", c.Cache.Durable.Backend))
		}
		if c.Cache.Durable.Dir == "" {
			errs = append(errs, errors.New("cache.durable.dir is required"))
		}
	}

	if err := c.RateLimit.validate(); err != nil {
		errs = append(errs, fmt.Errorf("rate_limit: %w", err))
	}

	if c.Retry.MaxAttempts < 1 {
		errs = append(errs, errors.New("retry.max_attempts must be at least 1"))
	}
	if c.Retry.InitialBackoff < 0 {
		errs = append(errs, errors.New("retry.initial_backoff must not be negative"))
	}
	if c.Retry.MaxBackoff < 0 {
		errs = append(errs, errors.New("retry.max_backoff must not be negative"))
	}
	if c.Retry.Multiplier < 1 {
		errs = append(errs, errors.New("retry.multiplier must be at least 1"))
	}
	if c.Retry.Jitter < 0 || c.Retry.Jitter >= 1 {
		errs = append(errs, errors.New("retry.jitter must be in [0, 1)"))
	}

	for i, m := range c.Models {
		if m.Name == "" {
			errs = append(errs, fmt.Errorf("models[%d]: name is required", i))
		}
		if m.ContextWindow < 0 || m.ResponseReserve < 0 || m.CharsPerToken < 0 {
			errs = append(errs, fmt.Errorf("model %q: values must not be negative", m.Name))
		}
		if m.ContextWindow > 0 && m.ResponseReserve >= m.ContextWindow {
			errs = append(errs, fmt.Errorf("model %q: response_reserve must be below context_window", m.Name))
		}
	}

	for i, b := range c.Budgets {
		switch b.Period {
		case "", "daily", "monthly":
		default:
			errs = append(errs, fmt.Errorf("budgets[%d]: unknown period %q", i, b.Period))
		}
		if b.MaxTokens <= 0 {
			errs = append(errs, fmt.Errorf("budgets[%d]: max_tokens must be positive", i))
		}
	}

	return errors.Join(errs...)
}

func (r RateLimitConfig) validate() error {
	if r.Requests < 0 || r.Tokens < 0 {
		return errors.New("ceilings must not be negative")
	}
	if (r.Requests > 0 || r.Tokens > 0) && r.Window <= 0 {
		return errors.New("window must be positive when a ceiling is set")
	}
	return nil
}
