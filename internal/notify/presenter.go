// Package notify turns a delivery cycle's accumulated order notices into
// user-visible notifications. The Batcher deduplicates and fans out to a
// Presenter, which is the boundary to the UI/notification collaborator: this
// subsystem decides what to present and under which key, never how it is
// rendered.
package notify

import (
	"context"
	"fmt"
	"log/slog"

	"orderpulse/internal/types"
)

// Presenter is implemented by the notification collaborator. Notifications
// are keyed: presenting the same key again overwrites the existing
// notification instead of duplicating it, which is what makes at-least-once
// redelivery before a watermark advance invisible to the user.
type Presenter interface {
	// PresentOrder shows (or overwrites) the detail notification for one
	// order, keyed by notice.NotificationKey().
	PresentOrder(ctx context.Context, notice types.OrderNotice) error

	// PresentSummary shows (or overwrites) the "N new orders" group summary
	// under types.SummaryNotificationKey.
	PresentSummary(ctx context.Context, count int) error

	// Dismiss removes the notification with the given key, if present.
	Dismiss(ctx context.Context, key string) error
}

// LogPresenter writes notifications to the structured log. It backs local
// development and tests of the wiring layer.
type LogPresenter struct {
	logger *slog.Logger
}

// NewLogPresenter creates a LogPresenter.
func NewLogPresenter(logger *slog.Logger) *LogPresenter {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogPresenter{logger: logger}
}

// PresentOrder logs the order notification.
func (p *LogPresenter) PresentOrder(ctx context.Context, notice types.OrderNotice) error {
	p.logger.InfoContext(ctx, "notification: new order",
		"key", notice.NotificationKey(),
		"order_id", notice.OrderID,
		"product", notice.ProductName,
		"unit_price", notice.UnitPrice.String(),
	)
	return nil
}

// PresentSummary logs the summary notification.
func (p *LogPresenter) PresentSummary(ctx context.Context, count int) error {
	p.logger.InfoContext(ctx, "notification: order summary",
		"key", types.SummaryNotificationKey,
		"count", count,
		"title", fmt.Sprintf("%d new orders", count),
	)
	return nil
}

// Dismiss logs the dismissal.
func (p *LogPresenter) Dismiss(ctx context.Context, key string) error {
	p.logger.InfoContext(ctx, "notification: dismiss", "key", key)
	return nil
}
