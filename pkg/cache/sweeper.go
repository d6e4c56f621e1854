package cache

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/robfig/cron/v3"
)

// DefaultSweepSchedule runs a sweep every five minutes.
const DefaultSweepSchedule = "@every 5m"

// Sweeper runs Tiered.Sweep on a cron schedule.
type Sweeper struct {
	cache    *Tiered
	schedule string
	cron     *cron.Cron
	logger   *slog.Logger

	mu      sync.Mutex
	running bool
	stop    chan struct{}
	done    chan struct{}
}

// NewSweeper creates a Sweeper. An empty schedule uses DefaultSweepSchedule.
func NewSweeper(c *Tiered, schedule string, logger *slog.Logger) *Sweeper {
	if schedule == "" {
		schedule = DefaultSweepSchedule
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		cache:    c,
		schedule: schedule,
		cron:     cron.New(),
		logger:   logger.With("component", "cache.sweeper"),
	}
}

// Start schedules sweeps until ctx is done or Stop is called.
func (s *Sweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}
	if _, err := cron.ParseStandard(s.schedule); err != nil {
		return fmt.Errorf("invalid sweep schedule %q: %w", s.schedule, err)
	}
	if _, err := s.cron.AddFunc(s.schedule, func() { s.run(ctx) }); err != nil {
		return fmt.Errorf("schedule sweep: %w", err)
	}
	s.cron.Start()
	s.running = true
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	s.logger.Debug("cache sweeper started", "schedule", s.schedule)

	go func(stop, done chan struct{}) {
		defer close(done)
		select {
		case <-ctx.Done():
			s.Stop()
		case <-stop:
		}
	}(s.stop, s.done)
	return nil
}

func (s *Sweeper) run(ctx context.Context) {
	res, err := s.cache.Sweep(ctx)
	if err != nil {
		s.logger.Error("cache sweep failed", "error", err)
		return
	}
	if res.Fast > 0 || res.Durable > 0 {
		s.logger.Info("cache sweep completed", "fast_removed", res.Fast, "durable_removed", res.Durable)
	}
}

// Stop stops the schedule and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	<-s.cron.Stop().Done()
	close(s.stop)
	s.running = false
	s.logger.Debug("cache sweeper stopped")
}
