package cache

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pario-ai/goscli/pkg/metrics"
	"github.com/pario-ai/goscli/pkg/models"
)

// Level selects which cache level an operation applies to.
type Level int

const (
	LevelAll Level = iota
	LevelFast
	LevelDurable
)

func (l Level) String() string {
	switch l {
	case LevelFast:
		return "fast"
	case LevelDurable:
		return "durable"
	default:
		return "all"
	}
}

// ParseLevel parses "fast", "durable" or "all". Empty means all.
func ParseLevel(s string) (Level, error) {
	switch s {
	case "", "all":
		return LevelAll, nil
	case "fast", "l1":
		return LevelFast, nil
	case "durable", "l2":
		return LevelDurable, nil
	default:
		return LevelAll, fmt.Errorf("unknown cache level %q", s)
	}
}

// Options configures a Tiered cache.
type Options struct {
	FastTTL    time.Duration
	MaxItems   int
	DurableTTL time.Duration
	Logger     *slog.Logger
	Metrics    *metrics.Collector
	// Now is the clock; defaults to time.Now.
	Now func() time.Time
}

// Tiered is a fast in-memory level in front of a durable Store. A nil Store
// leaves only the fast level.
//
// Get, Set and Delete hold clearMu for reading; Clear holds it for writing,
// so a clear never interleaves with a lookup that would re-promote a value
// the clear removed.
type Tiered struct {
	clearMu    sync.RWMutex
	fast       *fastLevel
	store      Store
	durableTTL time.Duration
	now        func() time.Time
	logger     *slog.Logger
	metrics    *metrics.Collector

	hits      atomic.Int64
	misses    atomic.Int64
	evictions atomic.Int64
}

// NewTiered creates a Tiered cache over store.
func NewTiered(store Store, opts Options) *Tiered {
	if opts.MaxItems <= 0 {
		opts.MaxItems = 100
	}
	if opts.FastTTL <= 0 {
		opts.FastTTL = 15 * time.Minute
	}
	if opts.DurableTTL <= 0 {
		opts.DurableTTL = 24 * time.Hour
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Tiered{
		fast:       newFastLevel(opts.FastTTL, opts.MaxItems),
		store:      store,
		durableTTL: opts.DurableTTL,
		now:        opts.Now,
		logger:     opts.Logger.With("component", "cache"),
		metrics:    opts.Metrics,
	}
}

// Get looks up key in the fast level, then the durable level. A durable hit
// is promoted into the fast level. Expired, corrupt and unreadable entries
// are misses; the first two are deleted.
func (t *Tiered) Get(ctx context.Context, key string) ([]byte, bool) {
	t.clearMu.RLock()
	defer t.clearMu.RUnlock()

	now := t.now()
	if v, ok := t.fast.get(key, now); ok {
		t.hit(metrics.LevelFast)
		return v, true
	}

	if t.store != nil {
		if v, ok := t.getDurable(ctx, key, now); ok {
			t.hit(metrics.LevelDurable)
			return v, true
		}
	}

	t.misses.Add(1)
	t.metrics.RecordCacheMiss()
	return nil, false
}

func (t *Tiered) getDurable(ctx context.Context, key string, now time.Time) ([]byte, bool) {
	rec, err := t.store.Get(ctx, key)
	switch {
	case err == nil:
	case errors.Is(err, ErrNotFound):
		return nil, false
	case errors.Is(err, ErrCorrupt):
		t.discard(ctx, key, err)
		return nil, false
	default:
		t.logger.Warn("durable cache read failed", "error", err)
		return nil, false
	}

	if rec.Key != key {
		t.discard(ctx, key, fmt.Errorf("%w: stored key mismatch", ErrCorrupt))
		return nil, false
	}
	if rec.Expired(now) {
		if err := t.store.Delete(ctx, key); err != nil {
			t.logger.Warn("durable cache delete failed", "error", err)
		}
		return nil, false
	}

	t.recordEvictions(t.fast.set(key, rec.Value, now, rec.ExpiresAt))
	return bytes.Clone(rec.Value), true
}

func (t *Tiered) discard(ctx context.Context, key string, cause error) {
	t.metrics.RecordCacheCorrupt()
	t.logger.Warn("discarding unreadable durable cache entry", "error", cause)
	if err := t.store.Delete(ctx, key); err != nil {
		t.logger.Warn("durable cache delete failed", "error", err)
	}
}

// Set writes value to the durable level, then the fast level. ttl is the
// entry's fixed lifetime; zero or negative means the configured durable TTL.
// The fast level's sliding window never outlives it. When the durable write
// fails neither level holds a value for key.
func (t *Tiered) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	t.clearMu.RLock()
	defer t.clearMu.RUnlock()

	if ttl <= 0 {
		ttl = t.durableTTL
	}
	now := t.now()
	expiresAt := now.Add(ttl)

	if t.store != nil {
		err := t.store.Put(ctx, Record{
			Key:       key,
			Value:     bytes.Clone(value),
			CreatedAt: now.UTC(),
			ExpiresAt: expiresAt.UTC(),
		})
		if err != nil {
			t.fast.delete(key)
			if derr := t.store.Delete(ctx, key); derr != nil {
				t.logger.Warn("durable cache delete failed", "error", derr)
			}
			return fmt.Errorf("cache set: %w", err)
		}
	}

	t.recordEvictions(t.fast.set(key, value, now, expiresAt))
	return nil
}

// Delete removes key from both levels.
func (t *Tiered) Delete(ctx context.Context, key string) error {
	t.clearMu.RLock()
	defer t.clearMu.RUnlock()

	t.fast.delete(key)
	if t.store == nil {
		return nil
	}
	if err := t.store.Delete(ctx, key); err != nil {
		return fmt.Errorf("cache delete: %w", err)
	}
	return nil
}

// Clear empties the selected level.
func (t *Tiered) Clear(ctx context.Context, level Level) error {
	t.clearMu.Lock()
	defer t.clearMu.Unlock()

	if level == LevelAll || level == LevelFast {
		t.fast.clear()
	}
	if (level == LevelAll || level == LevelDurable) && t.store != nil {
		if err := t.store.Clear(ctx); err != nil {
			return fmt.Errorf("cache clear: %w", err)
		}
	}
	t.logger.Info("cache cleared", "level", level.String())
	return nil
}

// SweepResult reports entries removed by Sweep.
type SweepResult struct {
	Fast    int
	Durable int
}

// Sweep removes expired entries from both levels.
func (t *Tiered) Sweep(ctx context.Context) (SweepResult, error) {
	t.clearMu.RLock()
	defer t.clearMu.RUnlock()

	now := t.now()
	res := SweepResult{Fast: t.fast.purge(now)}
	if t.store != nil {
		n, err := t.store.Purge(ctx, now)
		res.Durable = n
		if err != nil {
			return res, fmt.Errorf("cache sweep: %w", err)
		}
	}
	return res, nil
}

// Stats returns entry counts and hit statistics since creation.
func (t *Tiered) Stats(ctx context.Context) (models.CacheStats, error) {
	stats := models.CacheStats{
		FastEntries: t.fast.size(),
		Hits:        t.hits.Load(),
		Misses:      t.misses.Load(),
		Evictions:   t.evictions.Load(),
	}
	if t.store != nil {
		n, err := t.store.Len(ctx)
		if err != nil {
			return stats, fmt.Errorf("cache stats: %w", err)
		}
		stats.DurableEntries = n
	}
	return stats, nil
}

// Close releases the durable store.
func (t *Tiered) Close() error {
	if t.store == nil {
		return nil
	}
	return t.store.Close()
}

func (t *Tiered) hit(level string) {
	t.hits.Add(1)
	t.metrics.RecordCacheHit(level)
}

func (t *Tiered) recordEvictions(n int) {
	if n == 0 {
		return
	}
	t.evictions.Add(int64(n))
	for i := 0; i < n; i++ {
		t.metrics.RecordCacheEviction()
	}
}
