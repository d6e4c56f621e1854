// Package metrics exposes pipeline metrics in Prometheus format.
//
// A nil *Collector is valid and records nothing, so components can take an
// optional collector without guarding every call.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Cache level label values.
const (
	LevelFast    = "fast"
	LevelDurable = "durable"
)

// Collector owns a private registry and every goscli metric.
//
// Metrics:
//   - goscli_requests_total{provider,model,outcome}
//   - goscli_request_duration_seconds{provider,model}
//   - goscli_tokens_total{provider,model,type}
//   - goscli_provider_attempts_total{provider,outcome}
//   - goscli_retries_total{provider,kind}
//   - goscli_fallbacks_total{from,to}
//   - goscli_cache_hits_total{level}
//   - goscli_cache_misses_total
//   - goscli_cache_evictions_total
//   - goscli_cache_corrupt_total
//   - goscli_ratelimit_wait_seconds{limiter}
//   - goscli_prompt_truncations_total{model}
type Collector struct {
	registry *prometheus.Registry

	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	tokens          *prometheus.CounterVec
	attempts        *prometheus.CounterVec
	retries         *prometheus.CounterVec
	fallbacks       *prometheus.CounterVec
	cacheHits       *prometheus.CounterVec
	cacheMisses     prometheus.Counter
	cacheEvictions  prometheus.Counter
	cacheCorrupt    prometheus.Counter
	rateLimitWait   *prometheus.HistogramVec
	truncations     *prometheus.CounterVec
}

// NewCollector creates a Collector registered under namespace. An empty
// namespace defaults to "goscli".
func NewCollector(namespace string) *Collector {
	if namespace == "" {
		namespace = "goscli"
	}
	reg := prometheus.NewRegistry()

	c := &Collector{
		registry: reg,
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Total answered requests by outcome.",
		}, []string{"provider", "model", "outcome"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "End-to-end request latency.",
			// LLM latencies, 100ms to 60s
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"provider", "model"}),
		tokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tokens_total",
			Help:      "Tokens reported by providers.",
		}, []string{"provider", "model", "type"}),
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_attempts_total",
			Help:      "Provider calls by outcome.",
		}, []string{"provider", "outcome"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retries_total",
			Help:      "Retries scheduled after a transient failure.",
		}, []string{"provider", "kind"}),
		fallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fallbacks_total",
			Help:      "Switches from the primary to the fallback provider.",
		}, []string{"from", "to"}),
		cacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Cache hits by level.",
		}, []string{"level"}),
		cacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_misses_total",
			Help:      "Lookups that missed both cache levels.",
		}),
		cacheEvictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_evictions_total",
			Help:      "Entries evicted from the fast level.",
		}),
		cacheCorrupt: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_corrupt_total",
			Help:      "Durable records discarded as unreadable.",
		}),
		rateLimitWait: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ratelimit_wait_seconds",
			Help:      "Time spent waiting for rate limit admission.",
			Buckets:   []float64{0, 0.01, 0.1, 0.5, 1, 5, 15, 30, 60},
		}, []string{"limiter"}),
		truncations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "prompt_truncations_total",
			Help:      "Prompts that had messages removed to fit the context budget.",
		}, []string{"model"}),
	}

	reg.MustRegister(
		c.requests,
		c.requestDuration,
		c.tokens,
		c.attempts,
		c.retries,
		c.fallbacks,
		c.cacheHits,
		c.cacheMisses,
		c.cacheEvictions,
		c.cacheCorrupt,
		c.rateLimitWait,
		c.truncations,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

// Registry returns the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// Handler returns an HTTP handler serving the registry.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		ErrorHandling:     promhttp.ContinueOnError,
	})
}

// RecordRequest records a completed request.
func (c *Collector) RecordRequest(provider, model, outcome string, d time.Duration, promptTokens, completionTokens int) {
	if c == nil {
		return
	}
	c.requests.WithLabelValues(provider, model, outcome).Inc()
	c.requestDuration.WithLabelValues(provider, model).Observe(d.Seconds())
	if promptTokens > 0 {
		c.tokens.WithLabelValues(provider, model, "prompt").Add(float64(promptTokens))
	}
	if completionTokens > 0 {
		c.tokens.WithLabelValues(provider, model, "completion").Add(float64(completionTokens))
	}
}

// RecordAttempt records a single provider call. outcome is "success" or a
// failure kind.
func (c *Collector) RecordAttempt(provider, outcome string) {
	if c == nil {
		return
	}
	c.attempts.WithLabelValues(provider, outcome).Inc()
}

// RecordRetry records a scheduled retry.
func (c *Collector) RecordRetry(provider, kind string) {
	if c == nil {
		return
	}
	c.retries.WithLabelValues(provider, kind).Inc()
}

// RecordFallback records a switch to the fallback provider.
func (c *Collector) RecordFallback(from, to string) {
	if c == nil {
		return
	}
	c.fallbacks.WithLabelValues(from, to).Inc()
}

// RecordCacheHit records a hit at level.
func (c *Collector) RecordCacheHit(level string) {
	if c == nil {
		return
	}
	c.cacheHits.WithLabelValues(level).Inc()
}

// RecordCacheMiss records a miss at every level.
func (c *Collector) RecordCacheMiss() {
	if c == nil {
		return
	}
	c.cacheMisses.Inc()
}

// RecordCacheEviction records an LRU eviction.
func (c *Collector) RecordCacheEviction() {
	if c == nil {
		return
	}
	c.cacheEvictions.Inc()
}

// RecordCacheCorrupt records a discarded durable record.
func (c *Collector) RecordCacheCorrupt() {
	if c == nil {
		return
	}
	c.cacheCorrupt.Inc()
}

// ObserveRateLimitWait records time spent waiting for admission.
func (c *Collector) ObserveRateLimitWait(limiter string, d time.Duration) {
	if c == nil {
		return
	}
	c.rateLimitWait.WithLabelValues(limiter).Observe(d.Seconds())
}

// RecordTruncation records a prompt that had messages removed.
func (c *Collector) RecordTruncation(model string) {
	if c == nil {
		return
	}
	c.truncations.WithLabelValues(model).Inc()
}
