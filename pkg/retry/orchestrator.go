// Package retry sends provider requests with rate limit admission, jittered
// exponential backoff and an optional fallback provider.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"strings"
	"time"

	"github.com/pario-ai/goscli/pkg/logging"
	"github.com/pario-ai/goscli/pkg/metrics"
	"github.com/pario-ai/goscli/pkg/provider"
)

// Admitter grants permission to spend request and token budget.
// *ratelimit.Limiter implements it.
type Admitter interface {
	Acquire(ctx context.Context, requests, tokens int) error
}

// Policy controls retries against a single provider.
type Policy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	Multiplier     float64
	// Jitter scales each delay by a uniform factor in [1-Jitter, 1+Jitter].
	Jitter         float64
	AttemptTimeout time.Duration
	// MaxBackoff caps every delay, including one requested by the provider.
	// Zero means no cap.
	MaxBackoff     time.Duration
}

// Backoff returns the delay before retry n (n >= 1) for a uniform sample r
// in [0, 1).
func (p Policy) Backoff(n int, r float64) time.Duration {
	if n < 1 {
		n = 1
	}
	mult := p.Multiplier
	if mult < 1 {
		mult = 1
	}
	base := float64(p.InitialBackoff) * math.Pow(mult, float64(n-1))
	factor := 1 - p.Jitter + 2*p.Jitter*r
	return time.Duration(base * factor)
}

// Target is a provider together with its admission control and model
// override.
type Target struct {
	Provider provider.Provider
	Limiter  Admitter
	// Model replaces the request's model when set.
	Model string
}

// Result is a successful send.
type Result struct {
	Response *provider.Response
	Provider string
	Model    string
	// Attempts counts provider calls across primary and fallback.
	Attempts int
	FellBack bool
}

// ExhaustedError reports that every allowed attempt failed with a
// retryable failure.
type ExhaustedError struct {
	Last      *provider.Failure
	Attempts  int
	Providers []string
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("exhausted %d attempts across %s: %v",
		e.Attempts, strings.Join(e.Providers, ", "), e.Last)
}

func (e *ExhaustedError) Unwrap() error {
	if e.Last == nil {
		return nil
	}
	return e.Last
}

// Orchestrator runs the attempt loop.
type Orchestrator struct {
	policy   Policy
	primary  Target
	fallback *Target
	sleep    func(context.Context, time.Duration) error
	rand     func() float64
	logger   *slog.Logger
	metrics  *metrics.Collector
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithSleep replaces the context-aware backoff sleep.
func WithSleep(sleep func(context.Context, time.Duration) error) Option {
	return func(o *Orchestrator) { o.sleep = sleep }
}

// WithRand replaces the jitter source. It must return values in [0, 1).
func WithRand(r func() float64) Option {
	return func(o *Orchestrator) { o.rand = r }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = logger }
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *metrics.Collector) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// New creates an Orchestrator. fallback may be nil.
func New(policy Policy, primary Target, fallback *Target, opts ...Option) *Orchestrator {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	o := &Orchestrator{
		policy:   policy,
		primary:  primary,
		fallback: fallback,
		sleep:    sleepCtx,
		rand:     rand.Float64,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.logger = o.logger.With("component", "retry")
	return o
}

// Primary returns the primary target.
func (o *Orchestrator) Primary() Target {
	return o.primary
}

// Fallback returns the fallback target, or nil when none is configured.
func (o *Orchestrator) Fallback() *Target {
	if o.fallback == nil {
		return nil
	}
	fb := *o.fallback
	return &fb
}

// Send delivers req, retrying transient failures and failing over once the
// primary is exhausted. Request and capacity failures are returned on first
// occurrence. Cancellation stops all further attempts and returns ctx's
// error.
func (o *Orchestrator) Send(ctx context.Context, req provider.Request) (*Result, error) {
	resp, model, attempts, last, err := o.run(ctx, o.primary, req)
	if err != nil {
		return nil, err
	}
	if resp != nil {
		return &Result{Response: resp, Provider: o.primary.Provider.Name(), Model: model, Attempts: attempts}, nil
	}

	providers := []string{o.primary.Provider.Name()}
	total := attempts
	if o.fallback != nil {
		from, to := o.primary.Provider.Name(), o.fallback.Provider.Name()
		o.logger.Warn("primary provider exhausted, failing over",
			"request_id", logging.RequestID(ctx), "from", from, "to", to, "attempts", attempts, "last_error", last)
		o.metrics.RecordFallback(from, to)

		var fbAttempts int
		var fbLast *provider.Failure
		resp, model, fbAttempts, fbLast, err = o.run(ctx, *o.fallback, req)
		total += fbAttempts
		if err != nil {
			return nil, err
		}
		if resp != nil {
			return &Result{Response: resp, Provider: to, Model: model, Attempts: total, FellBack: true}, nil
		}
		last = fbLast
		providers = append(providers, to)
	}

	return nil, &ExhaustedError{Last: last, Attempts: total, Providers: providers}
}

// run attempts req against target up to MaxAttempts times. A nil response
// with a nil error means every attempt failed transiently.
func (o *Orchestrator) run(ctx context.Context, target Target, req provider.Request) (*provider.Response, string, int, *provider.Failure, error) {
	name := target.Provider.Name()
	if target.Model != "" {
		req.Model = target.Model
	}
	logger := o.logger.With("request_id", logging.RequestID(ctx), "provider", name, "model", req.Model)

	var last *provider.Failure
	for attempt := 1; attempt <= o.policy.MaxAttempts; attempt++ {
		if attempt > 1 {
			delay := o.policy.Backoff(attempt-1, o.rand())
			if last.RetryAfter > delay {
				delay = last.RetryAfter
			}
			if o.policy.MaxBackoff > 0 && delay > o.policy.MaxBackoff {
				delay = o.policy.MaxBackoff
			}
			o.metrics.RecordRetry(name, string(last.Kind))
			logger.Info("retrying after transient failure",
				"attempt", attempt, "max_attempts", o.policy.MaxAttempts, "delay", delay, "kind", last.Kind)
			if err := o.sleep(ctx, delay); err != nil {
				return nil, "", attempt - 1, last, err
			}
		}

		if target.Limiter != nil {
			if err := target.Limiter.Acquire(ctx, 1, req.EstimatedTokens); err != nil {
				if ctxErr := ctx.Err(); ctxErr != nil {
					return nil, "", attempt - 1, last, ctxErr
				}
				return nil, "", attempt - 1, last, fmt.Errorf("rate limit admission for %s: %w", name, err)
			}
		}

		resp, err := o.attempt(ctx, target.Provider, req)
		if err == nil {
			o.metrics.RecordAttempt(name, "success")
			logger.Debug("provider call succeeded", "attempt", attempt)
			return resp, req.Model, attempt, nil, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, "", attempt, last, ctxErr
		}

		f := provider.Classify(name, err)
		last = f
		o.metrics.RecordAttempt(name, string(f.Kind))
		if !f.Retryable() {
			logger.Warn("provider call failed, not retrying",
				"attempt", attempt, "kind", f.Kind, "class", f.Kind.Class().String(), "error", f.Message)
			return nil, "", attempt, f, f
		}
		logger.Warn("provider call failed", "attempt", attempt, "kind", f.Kind, "error", f.Message)
	}
	return nil, "", o.policy.MaxAttempts, last, nil
}

// attempt makes one provider call under the per-attempt timeout.
func (o *Orchestrator) attempt(ctx context.Context, p provider.Provider, req provider.Request) (*provider.Response, error) {
	callCtx := ctx
	if o.policy.AttemptTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, o.policy.AttemptTimeout)
		defer cancel()
	}

	resp, err := p.Send(callCtx, req)
	if err != nil {
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, &provider.Failure{
				Kind:     provider.KindTimeout,
				Provider: p.Name(),
				Message:  fmt.Sprintf("no response within %s", o.policy.AttemptTimeout),
				Cause:    err,
			}
		}
		return nil, err
	}
	if resp == nil {
		return nil, &provider.Failure{Kind: provider.KindServer, Provider: p.Name(), Message: "empty response"}
	}
	return resp, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
