package watcher

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Runner runs one check.
type Runner interface {
	RunOnce(ctx context.Context) (*Outcome, error)
}

// Scheduler runs checks on an interval and on demand. Checks run on the
// scheduler goroutine one at a time.
type Scheduler struct {
	runner   Runner
	interval time.Duration
	trigger  chan struct{}
	logger   *slog.Logger
}

// NewScheduler creates a new Scheduler. An interval of zero disables
// periodic runs; triggered runs still work.
func NewScheduler(runner Runner, interval time.Duration, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		runner:   runner,
		interval: interval,
		trigger:  make(chan struct{}, 1),
		logger:   logger,
	}
}

// Run starts the scheduler loop. The first check runs immediately.
func (s *Scheduler) Run(ctx context.Context) {
	s.execute(ctx, "startup")

	var tick <-chan time.Time
	if s.interval > 0 {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		tick = ticker.C
		s.logger.Info("scheduler started", "interval", s.interval)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-tick:
			s.execute(ctx, "interval")
		case <-s.trigger:
			s.execute(ctx, "trigger")
		}
	}
}

// TriggerImmediate queues a check. It returns false if one is already
// queued.
func (s *Scheduler) TriggerImmediate() bool {
	select {
	case s.trigger <- struct{}{}:
		return true
	default:
		return false
	}
}

func (s *Scheduler) execute(ctx context.Context, reason string) {
	s.logger.Debug("running scheduled check", "reason", reason)
	out, err := s.runner.RunOnce(ctx)
	switch {
	case errors.Is(err, ErrRunning):
		s.logger.Warn("skipping check, previous run still in progress", "reason", reason)
	case ctx.Err() != nil:
		// shutting down
	case err != nil:
		s.logger.Error("check failed", "reason", reason, "error", err)
	default:
		s.logger.Info("check complete", "reason", reason, "run", out.Run.ID, "worst", out.Run.Worst())
	}
}
