package config

import (
	"errors"
	"os"
	"path/filepath"
)

const (
	openAIURL         = "https://api.openai.com"
	groqURL           = "https://api.groq.com/openai"
	groqFallbackModel = "llama3-70b-8192"
)

// DefaultPath is ~/.goscli/config.yaml.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "goscli.yaml"
	}
	return filepath.Join(home, ".goscli", "config.yaml")
}

// LoadOrDefault loads path. An empty path means DefaultPath, and a missing
// default file yields Default. Providers are taken from the environment when
// the file configures none.
func LoadOrDefault(path string) (*Config, error) {
	explicit := path != ""
	if !explicit {
		path = DefaultPath()
	}
	cfg, err := Load(path)
	if err != nil {
		if explicit || !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
		cfg = Default()
	}
	cfg.ProvidersFromEnv()
	return cfg, nil
}

// ProvidersFromEnv configures OpenAI from OPENAI_API_KEY and Groq from
// GROQ_API_KEY when no providers are set. With both keys present Groq becomes
// the fallback.
func (c *Config) ProvidersFromEnv() {
	if len(c.Providers) > 0 {
		return
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		c.Providers = append(c.Providers, ProviderConfig{Name: "openai", URL: openAIURL, APIKey: key})
	}
	if key := os.Getenv("GROQ_API_KEY"); key != "" {
		c.Providers = append(c.Providers, ProviderConfig{Name: "groq", URL: groqURL, APIKey: key})
		if len(c.Providers) > 1 && c.Fallback == nil {
			c.Fallback = &RouteTarget{Provider: "groq", Model: groqFallbackModel}
		}
	}
}
