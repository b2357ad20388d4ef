// Package poll implements the polling fallback of the order delivery
// pipeline. The fetcher asks the backend for orders newer than the watermark
// and is the path that guarantees forward progress when the push channel
// never connects; it also re-synchronizes the pipeline after a push outage.
package poll

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"orderpulse/internal/retry"
	"orderpulse/internal/types"
)

// OrderSource is the backend surface the fetcher needs. Implemented by
// *external.OrderClient; narrowed to an interface for clean testing.
type OrderSource interface {
	FetchPending(ctx context.Context, lastID int64) ([]types.OrderPayload, error)
}

// Fetcher performs bounded pending-order fetches with deadline-aware backoff.
type Fetcher struct {
	source  OrderSource
	retrier *retry.Scheduler
	logger  *slog.Logger
	nowFn   func() time.Time
}

// FetcherConfig holds the configuration for creating a Fetcher.
type FetcherConfig struct {
	Source OrderSource

	// Retrier defaults to a scheduler with retry.PipelinePolicy.
	Retrier *retry.Scheduler

	Logger *slog.Logger

	// NowFn defaults to time.Now; injected by tests to pin ReceivedAt.
	NowFn func() time.Time
}

// NewFetcher creates a Fetcher with the given configuration.
func NewFetcher(cfg FetcherConfig) *Fetcher {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	retrier := cfg.Retrier
	if retrier == nil {
		retrier = retry.NewScheduler(retry.PipelinePolicy, logger)
	}
	nowFn := cfg.NowFn
	if nowFn == nil {
		nowFn = time.Now
	}
	return &Fetcher{
		source:  cfg.Source,
		retrier: retrier,
		logger:  logger,
		nowFn:   nowFn,
	}
}

// FetchSince fetches all orders with id greater than lastID, retrying
// transport failures with exponential backoff until ctx's deadline would be
// overrun. A successful response with an empty list returns an empty slice
// and nil error: "no new orders" is a normal outcome.
//
// Structurally invalid entries inside an otherwise valid response are logged
// and skipped; one bad order must not suppress its siblings.
func (f *Fetcher) FetchSince(ctx context.Context, lastID int64) ([]types.OrderNotice, error) {
	var payloads []types.OrderPayload

	err := f.retrier.Do(ctx, "fetch_pending_orders", func(ctx context.Context) error {
		var fetchErr error
		payloads, fetchErr = f.source.FetchPending(ctx, lastID)
		return fetchErr
	})
	if err != nil {
		return nil, fmt.Errorf("polling orders since id %d: %w", lastID, err)
	}

	receivedAt := f.nowFn()
	notices := make([]types.OrderNotice, 0, len(payloads))
	for _, p := range payloads {
		notice, err := p.ToNotice(receivedAt)
		if err != nil {
			f.logger.WarnContext(ctx, "skipping malformed order in poll response",
				"order_id", p.ID,
				"error", err,
			)
			continue
		}
		notices = append(notices, notice)
	}

	f.logger.InfoContext(ctx, "poll fetch complete",
		"last_id", lastID,
		"fetched", len(payloads),
		"valid", len(notices),
	)

	return notices, nil
}
