// Package router resolves the configured primary and fallback providers into
// retry targets with their adapters and rate limiters.
package router

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/pario-ai/goscli/pkg/config"
	"github.com/pario-ai/goscli/pkg/metrics"
	"github.com/pario-ai/goscli/pkg/provider"
	"github.com/pario-ai/goscli/pkg/provider/anthropic"
	"github.com/pario-ai/goscli/pkg/provider/openai"
	"github.com/pario-ai/goscli/pkg/ratelimit"
	"github.com/pario-ai/goscli/pkg/retry"
)

// Router builds providers and limiters from configuration. Each provider
// name maps to exactly one adapter and one limiter, so a provider used as
// both primary and fallback shares its window.
type Router struct {
	cfg        *config.Config
	logger     *slog.Logger
	metrics    *metrics.Collector
	httpClient *http.Client

	providers map[string]provider.Provider
	limiters  map[string]*ratelimit.Limiter
}

// Option configures a Router.
type Option func(*Router)

// WithLogger sets the logger passed to limiters and the orchestrator.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Router) { r.logger = logger }
}

// WithMetrics sets the collector passed to limiters and the orchestrator.
func WithMetrics(m *metrics.Collector) Option {
	return func(r *Router) { r.metrics = m }
}

// WithHTTPClient overrides the HTTP client used by every adapter.
func WithHTTPClient(hc *http.Client) Option {
	return func(r *Router) { r.httpClient = hc }
}

// New creates a Router from the given configuration.
func New(cfg *config.Config, opts ...Option) *Router {
	r := &Router{
		cfg:       cfg,
		logger:    slog.Default(),
		providers: make(map[string]provider.Provider),
		limiters:  make(map[string]*ratelimit.Limiter),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Provider returns the adapter for the named provider.
func (r *Router) Provider(name string) (provider.Provider, error) {
	if p, ok := r.providers[name]; ok {
		return p, nil
	}
	pc, ok := r.cfg.Provider(name)
	if !ok {
		return nil, fmt.Errorf("unknown provider %q", name)
	}

	var p provider.Provider
	switch strings.ToLower(pc.Type) {
	case "", "openai":
		p = openai.New(openai.Config{Name: pc.Name, BaseURL: pc.URL, APIKey: pc.APIKey, Timeout: pc.Timeout, HTTPClient: r.httpClient})
	case "anthropic":
		p = anthropic.New(anthropic.Config{Name: pc.Name, BaseURL: pc.URL, APIKey: pc.APIKey, Timeout: pc.Timeout, HTTPClient: r.httpClient})
	default:
		return nil, fmt.Errorf("provider %q: unknown type %q", pc.Name, pc.Type)
	}
	r.providers[name] = p
	return p, nil
}

// Limiter returns the rate limiter for the named provider. A provider's own
// rate_limit block overrides the global one.
func (r *Router) Limiter(name string) *ratelimit.Limiter {
	if l, ok := r.limiters[name]; ok {
		return l
	}
	rl := r.cfg.RateLimit
	if pc, ok := r.cfg.Provider(name); ok && pc.RateLimit != nil {
		rl = *pc.RateLimit
	}
	l := ratelimit.New(
		ratelimit.Limits{Requests: rl.Requests, Tokens: rl.Tokens, Window: rl.Window},
		ratelimit.WithMetrics(name, r.metrics),
		ratelimit.WithLogger(r.logger),
	)
	r.limiters[name] = l
	return l
}

// Targets resolves the primary target and, when configured, the fallback.
func (r *Router) Targets() (retry.Target, *retry.Target, error) {
	if len(r.cfg.Providers) == 0 {
		return retry.Target{}, nil, fmt.Errorf("no providers configured")
	}

	primary, err := r.target(config.RouteTarget{Provider: r.cfg.PrimaryProvider(), Model: r.cfg.Primary.Model})
	if err != nil {
		return retry.Target{}, nil, fmt.Errorf("primary: %w", err)
	}
	if r.cfg.Fallback == nil {
		return primary, nil, nil
	}
	fallback, err := r.target(*r.cfg.Fallback)
	if err != nil {
		return retry.Target{}, nil, fmt.Errorf("fallback: %w", err)
	}
	return primary, &fallback, nil
}

func (r *Router) target(rt config.RouteTarget) (retry.Target, error) {
	p, err := r.Provider(rt.Provider)
	if err != nil {
		return retry.Target{}, err
	}
	return retry.Target{Provider: p, Limiter: r.Limiter(rt.Provider), Model: rt.Model}, nil
}

// Orchestrator builds a retry orchestrator over the configured targets.
func (r *Router) Orchestrator(opts ...retry.Option) (*retry.Orchestrator, error) {
	primary, fallback, err := r.Targets()
	if err != nil {
		return nil, err
	}
	opts = append([]retry.Option{retry.WithLogger(r.logger), retry.WithMetrics(r.metrics)}, opts...)
	return retry.New(PolicyFromConfig(r.cfg.Retry), primary, fallback, opts...), nil
}

// PolicyFromConfig converts the retry configuration block.
func PolicyFromConfig(c config.RetryConfig) retry.Policy {
	return retry.Policy{
		MaxAttempts:    c.MaxAttempts,
		InitialBackoff: c.InitialBackoff,
		Multiplier:     c.Multiplier,
		Jitter:         c.Jitter,
		AttemptTimeout: c.AttemptTimeout,
		MaxBackoff:     c.MaxBackoff,
	}
}
