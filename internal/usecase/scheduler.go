package usecase

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"S2CoastalBot/internal/ports"
)

// Scheduler wires the cron driver with the pipeline use case.
type Scheduler struct {
	driver  ports.Scheduler
	run     func(ctx context.Context, trigger time.Time) error
	logger  *slog.Logger
	running atomic.Bool
}

// NewScheduler returns a helper to start/stop recurring runs. run is called
// for every trigger unless a previous run is still in progress.
func NewScheduler(driver ports.Scheduler, run func(ctx context.Context, trigger time.Time) error, log *slog.Logger) *Scheduler {
	if log == nil {
		log = slog.Default()
	}
	return &Scheduler{driver: driver, run: run, logger: log}
}

// Start registers the pipeline with the provided scheduler.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.driver == nil || s.run == nil {
		return nil
	}

	job := func(trigger time.Time) {
		s.Trigger(ctx, trigger)
	}

	return s.driver.Start(ctx, job)
}

// Trigger runs the pipeline once unless a run is already in flight. It
// reports whether the run was started.
func (s *Scheduler) Trigger(ctx context.Context, trigger time.Time) bool {
	if !s.running.CompareAndSwap(false, true) {
		s.logger.Warn("previous run still in progress, trigger skipped", "trigger", trigger)
		return false
	}
	defer s.running.Store(false)

	err := s.run(ctx, trigger)
	switch {
	case err == nil:
	case errors.Is(err, ErrNothingToPost):
		s.logger.Info("scheduled run finished", "result", ErrNothingToPost.Error())
	case errors.Is(err, ErrLockHeld):
		s.logger.Warn("scheduled run skipped", "error", err)
	default:
		s.logger.Error("scheduled run failed", "error", err)
	}
	return true
}

// Stop gracefully tears down the underlying scheduler.
func (s *Scheduler) Stop(ctx context.Context) error {
	if s.driver == nil {
		return nil
	}

	return s.driver.Stop(ctx)
}
