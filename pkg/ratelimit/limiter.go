// Package ratelimit admits provider calls against request and token ceilings
// over a sliding window.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pario-ai/goscli/pkg/metrics"
)

// ErrCostExceedsLimit is returned when a single acquisition is larger than a
// ceiling and could never be granted.
var ErrCostExceedsLimit = errors.New("ratelimit: cost exceeds limit")

// minSleep bounds the wait loop's polling interval.
const minSleep = 10 * time.Millisecond

// Limits are the ceilings for one window. A zero ceiling disables that
// dimension.
type Limits struct {
	Requests int
	Tokens   int
	Window   time.Duration
}

// Usage is the consumption currently counted against the window.
type Usage struct {
	Requests int
	Tokens   int
}

type grant struct {
	at       time.Time
	requests int
	tokens   int
}

// Limiter records every grant and admits a new one only if the grants made
// within the trailing window plus the new cost stay within both ceilings.
// It is safe for concurrent use.
type Limiter struct {
	name    string
	limits  Limits
	now     func() time.Time
	sleep   func(context.Context, time.Duration) error
	metrics *metrics.Collector
	logger  *slog.Logger

	mu     sync.Mutex
	grants []grant
	used   Usage

	// onGrant, if set, observes each grant while mu is held.
	onGrant func(grant)
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// WithSleep replaces the context-aware sleep used while waiting.
func WithSleep(sleep func(context.Context, time.Duration) error) Option {
	return func(l *Limiter) { l.sleep = sleep }
}

// WithMetrics reports wait times under name.
func WithMetrics(name string, m *metrics.Collector) Option {
	return func(l *Limiter) {
		l.name = name
		l.metrics = m
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Limiter) { l.logger = logger }
}

// New creates a Limiter.
func New(limits Limits, opts ...Option) *Limiter {
	l := &Limiter{
		name:   "default",
		limits: limits,
		now:    time.Now,
		sleep:  sleepCtx,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.logger = l.logger.With("component", "ratelimit", "limiter", l.name)
	return l
}

// Limits returns the configured ceilings.
func (l *Limiter) Limits() Limits {
	return l.limits
}

func (l *Limiter) enabled() bool {
	return l.limits.Window > 0 && (l.limits.Requests > 0 || l.limits.Tokens > 0)
}

func (l *Limiter) validate(requests, tokens int) error {
	if requests < 0 || tokens < 0 {
		return fmt.Errorf("ratelimit: negative cost (%d requests, %d tokens)", requests, tokens)
	}
	if l.limits.Requests > 0 && requests > l.limits.Requests {
		return fmt.Errorf("%w: %d requests > %d per %s", ErrCostExceedsLimit, requests, l.limits.Requests, l.limits.Window)
	}
	if l.limits.Tokens > 0 && tokens > l.limits.Tokens {
		return fmt.Errorf("%w: %d tokens > %d per %s", ErrCostExceedsLimit, tokens, l.limits.Tokens, l.limits.Window)
	}
	return nil
}

// Acquire blocks until the cost fits in the window, then records it. If ctx
// ends first nothing is recorded and ctx.Err() is returned.
func (l *Limiter) Acquire(ctx context.Context, requests, tokens int) error {
	if err := l.validate(requests, tokens); err != nil {
		return err
	}
	if !l.enabled() {
		return nil
	}

	start := l.now()
	waited := false
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		l.mu.Lock()
		now := l.now()
		wait := l.reserveLocked(now, requests, tokens)
		l.mu.Unlock()

		if wait == 0 {
			if waited {
				d := l.now().Sub(start)
				l.metrics.ObserveRateLimitWait(l.name, d)
				l.logger.Debug("admitted after wait", "waited", d, "requests", requests, "tokens", tokens)
			} else {
				l.metrics.ObserveRateLimitWait(l.name, 0)
			}
			return nil
		}

		if !waited {
			l.logger.Info("rate limit reached, waiting", "wait", wait, "requests", requests, "tokens", tokens)
		}
		waited = true
		if err := l.sleep(ctx, max(wait, minSleep)); err != nil {
			return err
		}
	}
}

// TryAcquire records the cost and returns true if it fits now.
func (l *Limiter) TryAcquire(requests, tokens int) bool {
	if l.validate(requests, tokens) != nil {
		return false
	}
	if !l.enabled() {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.reserveLocked(l.now(), requests, tokens) == 0
}

// WaitTime returns how long an acquisition of the given cost would wait now.
func (l *Limiter) WaitTime(requests, tokens int) time.Duration {
	if !l.enabled() || l.validate(requests, tokens) != nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	l.pruneLocked(now)
	return l.waitLocked(now, requests, tokens)
}

// Snapshot returns consumption within the current window.
func (l *Limiter) Snapshot() Usage {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pruneLocked(l.now())
	return l.used
}

// reserveLocked records the grant and returns 0 if it fits, otherwise the
// time until it would.
func (l *Limiter) reserveLocked(now time.Time, requests, tokens int) time.Duration {
	l.pruneLocked(now)
	if wait := l.waitLocked(now, requests, tokens); wait > 0 {
		return wait
	}
	g := grant{at: now, requests: requests, tokens: tokens}
	l.grants = append(l.grants, g)
	if l.onGrant != nil {
		l.onGrant(g)
	}
	l.used.Requests += requests
	l.used.Tokens += tokens
	return 0
}

// pruneLocked forgets grants that have left the window.
func (l *Limiter) pruneLocked(now time.Time) {
	cutoff := now.Add(-l.limits.Window)
	i := 0
	for ; i < len(l.grants) && !l.grants[i].at.After(cutoff); i++ {
		l.used.Requests -= l.grants[i].requests
		l.used.Tokens -= l.grants[i].tokens
	}
	if i > 0 {
		l.grants = append(l.grants[:0], l.grants[i:]...)
	}
}

// waitLocked returns the time until enough old grants leave the window for
// the cost to fit in both dimensions.
func (l *Limiter) waitLocked(now time.Time, requests, tokens int) time.Duration {
	needReq := over(l.limits.Requests, l.used.Requests, requests)
	needTok := over(l.limits.Tokens, l.used.Tokens, tokens)
	if needReq <= 0 && needTok <= 0 {
		return 0
	}

	var freedReq, freedTok int
	for _, g := range l.grants {
		freedReq += g.requests
		freedTok += g.tokens
		if freedReq >= needReq && freedTok >= needTok {
			return g.at.Add(l.limits.Window).Sub(now)
		}
	}
	return l.limits.Window
}

// over returns how far used+cost exceeds ceiling; zero ceiling means no limit.
func over(ceiling, used, cost int) int {
	if ceiling <= 0 {
		return 0
	}
	return used + cost - ceiling
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
