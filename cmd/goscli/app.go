package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/pario-ai/goscli/pkg/budget"
	"github.com/pario-ai/goscli/pkg/cache"
	"github.com/pario-ai/goscli/pkg/cache/filestore"
	cachesqlite "github.com/pario-ai/goscli/pkg/cache/sqlite"
	"github.com/pario-ai/goscli/pkg/config"
	"github.com/pario-ai/goscli/pkg/logging"
	"github.com/pario-ai/goscli/pkg/metrics"
	"github.com/pario-ai/goscli/pkg/provider"
	"github.com/pario-ai/goscli/pkg/proxy"
	"github.com/pario-ai/goscli/pkg/retry"
	"github.com/pario-ai/goscli/pkg/router"
	"github.com/pario-ai/goscli/pkg/service"
	"github.com/pario-ai/goscli/pkg/tracker"
)

type globalFlags struct {
	configPath string
	envFile    string
	logLevel   string
}

// app holds the long-lived components shared by the commands.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	metrics *metrics.Collector
	cache   *cache.Tiered
	tracker *tracker.SQLiteTracker
	budget  *budget.Enforcer

	closers []func() error
}

func openApp(g *globalFlags) (*app, error) {
	if err := config.LoadEnv(g.envFile); err != nil {
		return nil, err
	}
	cfg, err := config.LoadOrDefault(g.configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	level := cfg.Log.Level
	if g.logLevel != "" {
		level = g.logLevel
	}
	logger, err := logging.New(logging.Config{Level: level, Format: cfg.Log.Format})
	if err != nil {
		return nil, err
	}
	slog.SetDefault(logger)

	a := &app{
		cfg:     cfg,
		logger:  logger,
		metrics: metrics.NewCollector(cfg.Metrics.Namespace),
	}

	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	a.tracker, err = tracker.New(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("init tracker: %w", err)
	}
	a.closers = append(a.closers, a.tracker.Close)
	a.budget = budget.New(cfg.Budgets, a.tracker)

	if cfg.Cache.Enabled {
		store, err := openStore(cfg.Cache.Durable)
		if err != nil {
			_ = a.Close()
			return nil, fmt.Errorf("init cache: %w", err)
		}
		a.cache = cache.NewTiered(store, cache.Options{
			FastTTL:    cfg.Cache.Fast.TTL,
			MaxItems:   cfg.Cache.Fast.MaxItems,
			DurableTTL: cfg.Cache.Durable.TTL,
			Logger:     logger,
			Metrics:    a.metrics,
		})
		a.closers = append(a.closers, a.cache.Close)
	}
	return a, nil
}

func openStore(cfg config.DurableCacheConfig) (cache.Store, error) {
	switch cfg.Backend {
	case "sqlite":
		if err := os.MkdirAll(cfg.Dir, 0o700); err != nil {
			return nil, fmt.Errorf("create cache dir: %w", err)
		}
		s, err := cachesqlite.New(filepath.Join(cfg.Dir, "cache.db"))
		if err != nil {
			return nil, err
		}
		return s, nil
	case "", "file":
		s, err := filestore.New(cfg.Dir)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown durable cache backend %q", cfg.Backend)
	}
}

// service validates the configuration and builds the request pipeline.
func (a *app) service() (*service.Service, error) {
	if err := a.cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	orch, err := router.New(a.cfg, router.WithLogger(a.logger), router.WithMetrics(a.metrics)).Orchestrator()
	if err != nil {
		return nil, err
	}
	return service.New(service.Deps{
		Config:       a.cfg,
		Orchestrator: orch,
		Cache:        a.cache,
		Budget:       a.budget,
		Tracker:      a.tracker,
		Metrics:      a.metrics,
		Logger:       a.logger,
	}), nil
}

// startBackground runs the cache sweeper and, when serveMetrics is set and
// metrics.listen is configured, a metrics endpoint until ctx is done.
func (a *app) startBackground(ctx context.Context, serveMetrics bool) error {
	if a.cache != nil {
		sw := cache.NewSweeper(a.cache, a.cfg.Cache.SweepSchedule, a.logger)
		if err := sw.Start(ctx); err != nil {
			return err
		}
		a.closers = append(a.closers, func() error { sw.Stop(); return nil })
	}
	if serveMetrics && a.cfg.Metrics.Listen != "" {
		go func() {
			if err := proxy.ListenAndServe(ctx, a.cfg.Metrics.Listen, a.metrics.Handler(), a.logger); err != nil {
				a.logger.Error("metrics server stopped", "error", err)
			}
		}()
	}
	return nil
}

// Close releases components in reverse order of creation.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// describe turns pipeline failures into actionable messages.
func describe(err error) error {
	var ex *retry.ExhaustedError
	if errors.As(err, &ex) {
		return fmt.Errorf("all providers failed after %d attempts (last failure: %v)", ex.Attempts, ex.Last)
	}
	var f *provider.Failure
	if errors.As(err, &f) {
		switch f.Kind.Class() {
		case provider.ClassCapacity:
			return fmt.Errorf("prompt is too long for the model even after dropping older messages: %s", f.Message)
		case provider.ClassRequest:
			return fmt.Errorf("request rejected by %s (%s): %s", f.Provider, f.Kind, f.Message)
		}
	}
	if errors.Is(err, context.Canceled) {
		return errors.New("cancelled")
	}
	return err
}
