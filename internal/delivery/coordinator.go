package delivery

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"orderpulse/internal/metrics"
	"orderpulse/internal/push"
	"orderpulse/internal/scheduler"
	"orderpulse/internal/types"
	"orderpulse/internal/watermark"
)

// ErrCycleInProgress is returned when RunCycle is entered while a previous
// cycle is still running. Cycles are unique work; the scheduler serializes
// them, so hitting this indicates a scheduling bug.
var ErrCycleInProgress = errors.New("delivery cycle already in progress")

const (
	// DefaultCycleDeadline bounds one cycle. Chosen below the 15 minute
	// Lambda ceiling so draining always fits inside the invocation.
	DefaultCycleDeadline = 14 * time.Minute

	// DefaultPollIntervalConnected is the rest between poll fetches while
	// the push channel is live. Polling then only backstops push gaps.
	DefaultPollIntervalConnected = 60 * time.Second

	// DefaultPollIntervalDegraded is the rest between poll fetches when the
	// push channel never connected or dropped. Polling is the sole transport
	// in this state.
	DefaultPollIntervalDegraded = 5 * time.Second

	// DefaultDrainGrace bounds flushing and the watermark advance after the
	// cycle's working phase ends.
	DefaultDrainGrace = 10 * time.Second
)

// PushStream is the coordinator's view of one push session. *push.Channel
// satisfies it.
type PushStream interface {
	Open(ctx context.Context) <-chan push.Event
	Close()
}

// NoticeFetcher is the polling transport. *poll.Fetcher satisfies it.
type NoticeFetcher interface {
	FetchSince(ctx context.Context, lastID int64) ([]types.OrderNotice, error)
}

// NoticeFlusher presents the accumulated batch. *notify.Batcher satisfies it.
type NoticeFlusher interface {
	Flush(ctx context.Context, notices []types.OrderNotice) (int, error)
}

// Coordinator owns the delivery cycle state machine. Each RunCycle moves
// through Running (push session plus poll loop feeding the accumulator) and
// Draining (flush, then a single watermark advance) before going back to
// idle. A fresh push session is created per cycle; the coordinator never
// reconnects within one.
type Coordinator struct {
	newStream func() PushStream
	fetcher   NoticeFetcher
	flusher   NoticeFlusher
	store     watermark.Store
	sched     scheduler.CycleScheduler
	metrics   metrics.CycleMetrics
	logger    *slog.Logger
	nowFn     func() time.Time

	cycleDeadline time.Duration
	pollConnected time.Duration
	pollDegraded  time.Duration
	drainGrace    time.Duration

	mu      sync.Mutex
	running bool
}

// CoordinatorConfig holds the dependencies for NewCoordinator.
type CoordinatorConfig struct {
	// NewStream creates the cycle's push session. Called once per cycle.
	NewStream func() PushStream

	Fetcher NoticeFetcher
	Flusher NoticeFlusher
	Store   watermark.Store

	// Scheduler is asked for a follow-up cycle during drain.
	Scheduler scheduler.CycleScheduler

	// Metrics defaults to metrics.NoopMetrics.
	Metrics metrics.CycleMetrics

	Logger *slog.Logger

	// CycleDeadline defaults to DefaultCycleDeadline; the remaining
	// durations default to their package constants.
	CycleDeadline         time.Duration
	PollIntervalConnected time.Duration
	PollIntervalDegraded  time.Duration
	DrainGrace            time.Duration

	// NowFn defaults to time.Now.
	NowFn func() time.Time
}

// NewCoordinator creates a Coordinator with the given configuration.
func NewCoordinator(cfg CoordinatorConfig) *Coordinator {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	m := cfg.Metrics
	if m == nil {
		m = metrics.NoopMetrics{}
	}
	nowFn := cfg.NowFn
	if nowFn == nil {
		nowFn = time.Now
	}
	c := &Coordinator{
		newStream:     cfg.NewStream,
		fetcher:       cfg.Fetcher,
		flusher:       cfg.Flusher,
		store:         cfg.Store,
		sched:         cfg.Scheduler,
		metrics:       m,
		logger:        logger,
		nowFn:         nowFn,
		cycleDeadline: cfg.CycleDeadline,
		pollConnected: cfg.PollIntervalConnected,
		pollDegraded:  cfg.PollIntervalDegraded,
		drainGrace:    cfg.DrainGrace,
	}
	if c.cycleDeadline <= 0 {
		c.cycleDeadline = DefaultCycleDeadline
	}
	if c.pollConnected <= 0 {
		c.pollConnected = DefaultPollIntervalConnected
	}
	if c.pollDegraded <= 0 {
		c.pollDegraded = DefaultPollIntervalDegraded
	}
	if c.drainGrace <= 0 {
		c.drainGrace = DefaultDrainGrace
	}
	return c
}

// RunCycle executes one delivery cycle and returns its result. It blocks
// until the cycle drains, which happens when the deadline elapses, the host
// cancels ctx, or both transports run out of work budget. Cancellation is
// not an error: the cycle flushes whatever it observed and advances the
// watermark only after a fully successful flush.
func (c *Coordinator) RunCycle(ctx context.Context) (types.CycleResult, error) {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return types.CycleResult{}, ErrCycleInProgress
	}
	c.running = true
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.running = false
		c.mu.Unlock()
	}()

	cycleID := uuid.New().String()
	ctx = types.WithCycleID(ctx, cycleID)
	started := c.nowFn()
	result := types.CycleResult{CycleID: cycleID, StartedAt: started}

	base, err := c.store.Read(ctx)
	if err != nil {
		result.FinishedAt = c.nowFn()
		return result, err
	}
	result.NewWatermark = base

	c.logger.InfoContext(ctx, "delivery cycle started",
		"cycle_id", cycleID,
		"watermark", base,
	)

	acc := newAccumulator(base)

	workCtx, cancelWork := context.WithDeadline(ctx, started.Add(c.cycleDeadline))
	defer cancelWork()

	stream := c.newStream()
	defer stream.Close()

	var pushConnected atomic.Bool
	var pushLive atomic.Bool
	var fetchAttempts atomic.Int64

	g, gctx := errgroup.WithContext(workCtx)

	g.Go(func() error {
		c.consumePush(gctx, stream, acc, &pushConnected, &pushLive)
		return nil
	})
	g.Go(func() error {
		c.pollLoop(gctx, cancelWork, base, acc, &pushLive, &fetchAttempts)
		return nil
	})
	_ = g.Wait()
	stream.Close()

	result.PushConnected = pushConnected.Load()
	result.FetchAttempts = int(fetchAttempts.Load())

	// Drain detached from cycle cancellation: an interrupted cycle still
	// flushes what it observed, bounded only by the grace period.
	drainCtx, cancelDrain := context.WithTimeout(context.WithoutCancel(ctx), c.drainGrace)
	defer cancelDrain()

	presented, flushErr := c.flusher.Flush(drainCtx, acc.Snapshot())
	result.NoticesDelivered = presented

	var cycleErr error
	switch {
	case flushErr != nil:
		// Watermark stays put; the next cycle re-observes and keyed
		// redelivery overwrites any notifications that did land.
		cycleErr = flushErr
		c.logger.ErrorContext(ctx, "flush failed, watermark held back",
			"cycle_id", cycleID,
			"watermark", base,
			"presented", presented,
			"error", flushErr,
		)
	case acc.MaxID() > base:
		newWM, advErr := c.store.Advance(drainCtx, acc.MaxID())
		if advErr != nil {
			cycleErr = advErr
		} else {
			result.NewWatermark = newWM
		}
	}

	c.sched.EnsureNextCycle(drainCtx)

	result.FinishedAt = c.nowFn()
	c.metrics.RecordPush(drainCtx, result.PushConnected)
	c.metrics.RecordCycle(drainCtx, result)

	c.logger.InfoContext(ctx, "delivery cycle drained",
		"cycle_id", cycleID,
		"notices_delivered", result.NoticesDelivered,
		"watermark", result.NewWatermark,
		"push_connected", result.PushConnected,
		"fetch_attempts", result.FetchAttempts,
	)

	return result, cycleErr
}

// consumePush feeds push events into the accumulator until the stream ends
// or the cycle's working phase is cancelled.
func (c *Coordinator) consumePush(ctx context.Context, stream PushStream, acc *accumulator, connected, live *atomic.Bool) {
	events := stream.Open(ctx)
	for {
		select {
		case <-ctx.Done():
			// Unblock the stream's read loop, then let it finish emitting.
			stream.Close()
			for range events {
			}
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			switch {
			case ev.Notice != nil:
				if acc.Add(*ev.Notice) {
					c.logger.DebugContext(ctx, "order received via push",
						"order_id", ev.Notice.OrderID,
					)
				}
			case ev.State == types.ConnConnected:
				connected.Store(true)
				live.Store(true)
			case ev.State == types.ConnFailed, ev.State == types.ConnDisconnected:
				live.Store(false)
				c.logger.WarnContext(ctx, "push channel degraded, polling takes over",
					"state", string(ev.State),
					"error", ev.Err,
				)
			}
		}
	}
}

// pollLoop fetches pending orders on an interval chosen from the push
// channel's health. The cursor is the cycle's base watermark for every fetch;
// the accumulator absorbs re-observed orders.
func (c *Coordinator) pollLoop(ctx context.Context, cancelWork context.CancelFunc, base int64, acc *accumulator, pushLive *atomic.Bool, attempts *atomic.Int64) {
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		attempts.Add(1)
		notices, err := c.fetcher.FetchSince(ctx, base)
		switch {
		case err == nil:
			c.metrics.RecordFetch(ctx, metrics.FetchSuccess)
			for _, n := range notices {
				if acc.Add(n) {
					c.logger.DebugContext(ctx, "order received via poll",
						"order_id", n.OrderID,
					)
				}
			}
		case types.IsBudgetExhausted(err):
			c.metrics.RecordFetch(ctx, metrics.FetchDeadline)
			// No budget remains for another fetch. With push also down the
			// cycle cannot make further progress, so end the working phase
			// instead of idling until the deadline.
			if !pushLive.Load() {
				cancelWork()
			}
			return
		default:
			c.metrics.RecordFetch(ctx, metrics.FetchFailed)
			c.logger.WarnContext(ctx, "poll fetch failed",
				"watermark", base,
				"error", err,
			)
		}

		interval := c.pollDegraded
		if pushLive.Load() {
			interval = c.pollConnected
		}
		timer.Reset(interval)
	}
}
