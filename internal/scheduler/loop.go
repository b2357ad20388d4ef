package scheduler

import (
	"context"
	"log/slog"
	"time"

	"orderpulse/internal/types"
)

// CycleRunner runs one delivery cycle to completion.
type CycleRunner interface {
	RunCycle(ctx context.Context) (types.CycleResult, error)
}

// RunnerFunc adapts a function into a CycleRunner. It lets the entrypoint
// break the construction cycle between the loop and the coordinator.
type RunnerFunc func(ctx context.Context) (types.CycleResult, error)

func (f RunnerFunc) RunCycle(ctx context.Context) (types.CycleResult, error) {
	return f(ctx)
}

// LoopScheduler runs delivery cycles in-process for daemon mode. Cycles
// execute one at a time in a single goroutine. EnsureNextCycle coalesces into
// a buffered wake signal, so repeated requests while a cycle is running
// schedule exactly one follow-up cycle.
type LoopScheduler struct {
	runner   CycleRunner
	interval time.Duration
	logger   *slog.Logger
	wake     chan struct{}
}

// LoopSchedulerConfig holds the dependencies for NewLoopScheduler.
type LoopSchedulerConfig struct {
	Runner CycleRunner

	// Interval is the rest period between cycles when nothing requests an
	// earlier run.
	Interval time.Duration

	Logger *slog.Logger
}

// NewLoopScheduler creates a daemon-mode cycle loop.
func NewLoopScheduler(cfg LoopSchedulerConfig) *LoopScheduler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &LoopScheduler{
		runner:   cfg.Runner,
		interval: cfg.Interval,
		logger:   logger,
		wake:     make(chan struct{}, 1),
	}
}

// EnsureNextCycle requests that a cycle runs after the current one finishes.
// Safe to call from any goroutine; duplicate requests coalesce.
func (s *LoopScheduler) EnsureNextCycle(_ context.Context) {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Run executes cycles until ctx is cancelled. It returns ctx.Err() once the
// in-flight cycle (if any) has finished.
func (s *LoopScheduler) Run(ctx context.Context) error {
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		case <-s.wake:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
		}

		result, err := s.runner.RunCycle(ctx)
		if err != nil {
			s.logger.ErrorContext(ctx, "delivery cycle failed",
				"cycle_id", result.CycleID,
				"error", err,
			)
		} else {
			s.logger.InfoContext(ctx, "delivery cycle finished",
				"cycle_id", result.CycleID,
				"notices_delivered", result.NoticesDelivered,
				"watermark", result.NewWatermark,
			)
		}

		// A wake request that arrived mid-cycle is still buffered and will
		// trigger the next iteration immediately.
		timer.Reset(s.interval)
	}
}
