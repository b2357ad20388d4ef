// Package scheduler controls when delivery cycles run.
//
// A cycle is a unit of unique work: scheduling the same cycle twice must not
// run it twice. In Lambda mode the EventBridge rule owns the cadence and
// EnsureNextCycle is a no-op; in daemon mode LoopScheduler runs cycles in a
// single goroutine with a coalescing pending flag.
package scheduler

import "context"

// CycleScheduler guarantees that a delivery cycle will run after the current
// one completes. Requests coalesce: calling EnsureNextCycle multiple times
// before the next cycle starts schedules exactly one cycle.
type CycleScheduler interface {
	EnsureNextCycle(ctx context.Context)
}
