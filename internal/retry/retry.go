// Package retry provides the shared retry-with-backoff utility used by the
// polling fetcher and by outbound order confirm/cancel calls. Backoff is
// exponential, capped, and strictly deadline-aware: a retry never sleeps past
// the deadline of the context it was given.
package retry

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"orderpulse/internal/types"
)

// Policy defines the exponential backoff parameters for a retried operation.
type Policy struct {
	// BaseDelay is the wait before the first retry.
	BaseDelay time.Duration

	// MaxDelay caps the computed wait.
	MaxDelay time.Duration

	// Factor multiplies the delay after each attempt.
	Factor float64

	// MaxAttempts bounds the number of operation invocations.
	// Zero means unlimited; the context deadline is then the only bound.
	MaxAttempts int
}

// PipelinePolicy is the standard policy for all remote calls in the delivery
// pipeline: 1s, 2s, 4s, ... capped at 30s, bounded only by the cycle deadline.
var PipelinePolicy = Policy{
	BaseDelay:   1 * time.Second,
	MaxDelay:    30 * time.Second,
	Factor:      2.0,
	MaxAttempts: 0,
}

// Delay computes the wait before retry number attempt (0-based) using
// exponential backoff: delay = min(BaseDelay * Factor^attempt, MaxDelay).
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}

	delay := float64(p.BaseDelay)
	for i := 0; i < attempt; i++ {
		delay *= p.Factor
	}

	d := time.Duration(delay)
	if d > p.MaxDelay {
		d = p.MaxDelay
	}
	if d < 0 {
		// Guard against overflow
		d = p.MaxDelay
	}

	return d
}

// Scheduler runs fallible operations under a Policy. Each Do call starts at
// attempt zero, so a successful call resets the backoff for the next one.
type Scheduler struct {
	policy  Policy
	logger  *slog.Logger
	sleepFn func(context.Context, time.Duration) error
}

// Option is a functional option for configuring a Scheduler.
type Option func(*Scheduler)

// WithSleepFunc overrides the sleep function used between retries.
// This is intended for testing to avoid real delays.
func WithSleepFunc(fn func(context.Context, time.Duration) error) Option {
	return func(s *Scheduler) {
		s.sleepFn = fn
	}
}

// NewScheduler creates a Scheduler with the given policy.
func NewScheduler(policy Policy, logger *slog.Logger, opts ...Option) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scheduler{
		policy:  policy,
		logger:  logger,
		sleepFn: sleepCtx,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Do invokes op until it succeeds, fails terminally, or the budget runs out.
//
// Retry rules:
//   - A nil return ends the loop immediately.
//   - A non-retryable error (see types.IsRetryable) is returned as-is.
//   - A retryable error schedules another attempt after Policy.Delay(n),
//     unless that sleep would overrun ctx's deadline. In that case Do stops
//     without sleeping and returns a deadline_exceeded error wrapping the
//     last operation error, so the caller drains instead of oversleeping.
//   - Cancellation of ctx while sleeping returns a host_cancelled error.
func (s *Scheduler) Do(ctx context.Context, name string, op func(ctx context.Context) error) error {
	var lastErr error

	for attempt := 0; ; attempt++ {
		if s.policy.MaxAttempts > 0 && attempt >= s.policy.MaxAttempts {
			return fmt.Errorf("retry %s: attempts exhausted after %d: %w", name, attempt, lastErr)
		}

		err := op(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if !types.IsRetryable(err) {
			return err
		}

		wait := s.policy.Delay(attempt)
		if deadline, ok := ctx.Deadline(); ok {
			if time.Until(deadline) <= wait {
				return types.NewAppError(types.ErrCodeDeadlineExceeded,
					fmt.Sprintf("%s: backoff of %s would pass the cycle deadline", name, wait),
					lastErr)
			}
		}

		s.logger.WarnContext(ctx, "remote call failed, backing off",
			"operation", name,
			"attempt", attempt,
			"wait", wait.String(),
			"error", err,
		)

		if err := s.sleepFn(ctx, wait); err != nil {
			return types.NewAppError(types.ErrCodeHostCancelled,
				fmt.Sprintf("%s: cancelled while backing off", name),
				lastErr)
		}
	}
}

// sleepCtx sleeps for d or until ctx is done, whichever comes first.
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
