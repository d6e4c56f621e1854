package config

import "strings"

const (
	defaultContextWindow   = 8192
	defaultResponseReserve = 1024
)

// Model returns the budget for a model. Configured entries match by exact
// name first, then by the longest name that prefixes the model id. Unknown
// models get a conservative default window.
func (c *Config) Model(name string) ModelConfig {
	m, ok := c.lookupModel(name)
	if !ok {
		m = ModelConfig{Name: name}
	}
	if m.ContextWindow == 0 {
		m.ContextWindow = defaultContextWindow
	}
	if m.ResponseReserve == 0 && m.ContextWindow > defaultResponseReserve {
		m.ResponseReserve = defaultResponseReserve
	}
	return m
}

func (c *Config) lookupModel(name string) (ModelConfig, bool) {
	var best ModelConfig
	found := false
	for _, m := range c.Models {
		if m.Name == name {
			return m, true
		}
		if strings.HasPrefix(name, m.Name) && len(m.Name) > len(best.Name) {
			best = m
			found = true
		}
	}
	return best, found
}

// PromptBudget is the number of tokens left for the prompt once the
// response reservation is taken out of the context window.
func (m ModelConfig) PromptBudget() int {
	budget := m.ContextWindow - m.ResponseReserve
	if budget < 0 {
		return 0
	}
	return budget
}

// CharsPerToken returns the configured estimation ratios keyed by model name.
func (c *Config) CharsPerToken() map[string]float64 {
	ratios := make(map[string]float64, len(c.Models))
	for _, m := range c.Models {
		if m.CharsPerToken > 0 {
			ratios[m.Name] = m.CharsPerToken
		}
	}
	return ratios
}
