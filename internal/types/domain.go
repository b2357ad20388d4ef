// Package types defines the shared domain model for the OrderPulse delivery
// pipeline: order notices, wire payloads, connection states, cycle results,
// and the application error taxonomy.
package types

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// OrderNotice is the immutable in-memory representation of a newly created
// backend order that the user must be notified about. Identity is OrderID;
// two notices with the same OrderID are the same order regardless of which
// transport (push or poll) delivered them.
type OrderNotice struct {
	OrderID     int64           `json:"order_id"`
	ProductName string          `json:"product_name"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	ReceivedAt  time.Time       `json:"received_at"`
}

// NotificationKey returns the stable key under which this order's user-visible
// notification is presented. Redelivering the same order id overwrites the
// existing notification instead of duplicating it.
func (n OrderNotice) NotificationKey() string {
	return fmt.Sprintf("order_%d", n.OrderID)
}

// SummaryNotificationKey is the reserved key for the "N new orders"
// group-summary notification. Order keys always carry a numeric suffix, so
// this key can never collide with an order id.
const SummaryNotificationKey = "order_summary"

// OrderPayload is the wire DTO for a single order. It is the element type of
// the GET /orders/pending response array and the body of a push stream frame.
type OrderPayload struct {
	ID          int64           `json:"id"`
	ProductName string          `json:"product_name"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	CreatedAt   time.Time       `json:"created_at"`
}

// ToNotice validates the payload structurally and converts it into an
// OrderNotice. receivedAt records when this process observed the order, not
// when the backend created it.
func (p OrderPayload) ToNotice(receivedAt time.Time) (OrderNotice, error) {
	if p.ID <= 0 {
		return OrderNotice{}, NewAppError(ErrCodeDecodeInvalidPayload,
			fmt.Sprintf("order payload has non-positive id %d", p.ID), nil)
	}
	if p.ProductName == "" {
		return OrderNotice{}, NewAppError(ErrCodeDecodeInvalidPayload,
			fmt.Sprintf("order payload %d is missing product_name", p.ID), nil)
	}
	if p.UnitPrice.IsNegative() {
		return OrderNotice{}, NewAppError(ErrCodeDecodeInvalidPayload,
			fmt.Sprintf("order payload %d has negative unit_price", p.ID), nil)
	}

	return OrderNotice{
		OrderID:     p.ID,
		ProductName: p.ProductName,
		UnitPrice:   p.UnitPrice,
		ReceivedAt:  receivedAt.UTC(),
	}, nil
}

// ConnectionState describes the lifecycle of the push channel's single
// logical connection attempt within a delivery cycle.
type ConnectionState string

const (
	ConnDisconnected ConnectionState = "disconnected"
	ConnConnecting   ConnectionState = "connecting"
	ConnConnected    ConnectionState = "connected"
	ConnFailed       ConnectionState = "failed"
)

// CycleResult summarizes one completed delivery cycle. It is returned to the
// scheduling collaborator and recorded as metrics.
type CycleResult struct {
	CycleID string `json:"cycle_id"`

	// NewWatermark is the durable cursor after the cycle. Equal to the
	// starting watermark when the cycle observed no orders.
	NewWatermark int64 `json:"new_watermark"`

	// NoticesDelivered is the count of distinct orders presented this cycle.
	NoticesDelivered int `json:"notices_delivered"`

	// PushConnected reports whether the push channel reached Connected at
	// any point during the cycle.
	PushConnected bool `json:"push_connected"`

	// FetchAttempts counts poll fetches issued, successful or not.
	FetchAttempts int `json:"fetch_attempts"`

	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}
