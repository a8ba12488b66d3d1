package optimizer

import (
	"context"
	"log/slog"
	"time"
)

// Scheduler triggers runs on a fixed interval.
type Scheduler struct {
	optimizer   *Optimizer
	interval    time.Duration
	thresholdMs float64
	dryRun      bool
	logger      *slog.Logger
}

// NewScheduler creates a scheduler. It does nothing until Start is called.
func NewScheduler(o *Optimizer, interval time.Duration, thresholdMs float64, dryRun bool, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		optimizer:   o,
		interval:    interval,
		thresholdMs: thresholdMs,
		dryRun:      dryRun,
		logger:      logger,
	}
}

// Start runs until ctx is done. A non-positive interval disables the
// scheduler and Start returns immediately.
func (s *Scheduler) Start(ctx context.Context) {
	if s.interval <= 0 {
		return
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("optimizer scheduler started", "interval", s.interval, "dry_run", s.dryRun)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.optimizer.Run(ctx, s.thresholdMs, s.dryRun); err != nil {
				s.logger.Error("scheduled run failed", "error", err)
			}
		}
	}
}
