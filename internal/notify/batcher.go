package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"orderpulse/internal/types"
)

// Batcher flushes a delivery cycle's accumulated notices as one batch of
// user-visible notifications: one detail notification per distinct order plus
// exactly one group summary when the batch is non-empty.
type Batcher struct {
	presenter Presenter
	logger    *slog.Logger
}

// BatcherConfig holds the configuration for creating a Batcher.
type BatcherConfig struct {
	Presenter Presenter
	Logger    *slog.Logger
}

// NewBatcher creates a Batcher with the given configuration.
func NewBatcher(cfg BatcherConfig) *Batcher {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Batcher{
		presenter: cfg.Presenter,
		logger:    logger,
	}
}

// Flush presents the batch and returns the number of distinct orders
// actually presented.
//
// Dedup by order id is mandatory here: the same order may have arrived via
// both push and poll within one cycle. An empty batch presents nothing, not
// even a summary.
//
// Per-order presenter failures are logged and the remaining orders still
// presented, but Flush then returns a presenter error alongside the partial
// count. The coordinator reacts by NOT advancing the watermark, so the next
// cycle redelivers the batch; keyed notifications make that redelivery
// overwrite the already-presented entries instead of duplicating them.
func (b *Batcher) Flush(ctx context.Context, notices []types.OrderNotice) (int, error) {
	if len(notices) == 0 {
		return 0, nil
	}

	distinct := make(map[int64]types.OrderNotice, len(notices))
	for _, n := range notices {
		distinct[n.OrderID] = n
	}

	ordered := make([]types.OrderNotice, 0, len(distinct))
	for _, n := range distinct {
		ordered = append(ordered, n)
	}
	sort.Slice(ordered, func(i, j int) bool {
		return ordered[i].OrderID < ordered[j].OrderID
	})

	presented := 0
	failed := 0
	for _, n := range ordered {
		if err := b.presenter.PresentOrder(ctx, n); err != nil {
			b.logger.ErrorContext(ctx, "failed to present order notification",
				"order_id", n.OrderID,
				"error", err,
			)
			failed++
			continue
		}
		presented++
	}

	if presented > 0 {
		if err := b.presenter.PresentSummary(ctx, presented); err != nil {
			// The per-order notifications are already out; a missing summary
			// is cosmetic, not a delivery failure.
			b.logger.ErrorContext(ctx, "failed to present summary notification",
				"count", presented,
				"error", err,
			)
		}
	}

	b.logger.InfoContext(ctx, "notification batch flushed",
		"accumulated", len(notices),
		"distinct", len(ordered),
		"presented", presented,
		"failed", failed,
	)

	if failed > 0 {
		return presented, types.NewAppError(types.ErrCodePresenterUnavailable,
			fmt.Sprintf("%d of %d order notifications failed to present", failed, len(ordered)), nil)
	}

	return presented, nil
}
