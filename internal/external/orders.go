package external

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"

	"orderpulse/internal/types"
)

// maxPendingResponseBytes bounds the pending-orders response body. A cycle
// never needs more than a few thousand orders; anything larger indicates a
// broken backend and must not exhaust worker memory.
const maxPendingResponseBytes = 8 << 20

// OrderClient talks to the order backend's REST API through the resilient
// BaseClient. It covers the two surfaces this pipeline needs: the bounded
// pending-orders fetch used by the polling fallback, and the outbound
// confirm/cancel calls that share the same backoff policy at the call site.
type OrderClient struct {
	base    *BaseClient
	baseURL string
	logger  *slog.Logger
}

// OrderClientConfig holds the configuration for creating an OrderClient.
type OrderClientConfig struct {
	// BaseURL is the backend root, no trailing slash (e.g. https://api.example.com).
	BaseURL string
	Logger  *slog.Logger
}

// NewOrderClient creates an OrderClient over the given BaseClient.
func NewOrderClient(base *BaseClient, cfg OrderClientConfig) *OrderClient {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &OrderClient{
		base:    base,
		baseURL: cfg.BaseURL,
		logger:  logger,
	}
}

// FetchPending performs one GET /orders/pending?lastId={lastID} request and
// returns the raw order payloads. A 200 with an empty array is a valid
// response meaning "no new orders" and yields an empty slice with nil error.
//
// The request inherits ctx's deadline; the caller is responsible for keeping
// that strictly inside the cycle budget.
func (c *OrderClient) FetchPending(ctx context.Context, lastID int64) ([]types.OrderPayload, error) {
	u := fmt.Sprintf("%s/orders/pending?lastId=%s", c.baseURL, url.QueryEscape(strconv.FormatInt(lastID, 10)))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected,
			"building pending orders request", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.base.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching pending orders after id %d: %w", lastID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		// BaseClient already retried 429/5xx; anything else here is a
		// non-retryable backend contract violation.
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected,
			fmt.Sprintf("pending orders request returned %d", resp.StatusCode), nil)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPendingResponseBytes))
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeTransportUnavailable,
			"reading pending orders response", err)
	}

	var payloads []types.OrderPayload
	if err := json.Unmarshal(body, &payloads); err != nil {
		return nil, types.NewAppError(types.ErrCodeDecodeInvalidPayload,
			"pending orders response is not a valid order array", err)
	}

	return payloads, nil
}

// orderActionRequest is the body for confirm/cancel calls.
type orderActionRequest struct {
	Reason string `json:"reason,omitempty"`
}

// ConfirmOrder performs POST /orders/{id}/confirm. Callers wrap it in the
// shared retry.Scheduler for backoff.
func (c *OrderClient) ConfirmOrder(ctx context.Context, orderID int64) error {
	return c.postAction(ctx, orderID, "confirm", "")
}

// CancelOrder performs POST /orders/{id}/cancel with an optional reason.
// Callers wrap it in the shared retry.Scheduler for backoff.
func (c *OrderClient) CancelOrder(ctx context.Context, orderID int64, reason string) error {
	return c.postAction(ctx, orderID, "cancel", reason)
}

func (c *OrderClient) postAction(ctx context.Context, orderID int64, action string, reason string) error {
	u := fmt.Sprintf("%s/orders/%d/%s", c.baseURL, orderID, action)

	body, err := json.Marshal(orderActionRequest{Reason: reason})
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalUnexpected,
			fmt.Sprintf("marshalling %s request for order %d", action, orderID), err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalUnexpected,
			fmt.Sprintf("building %s request for order %d", action, orderID), err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.base.Do(req)
	if err != nil {
		return fmt.Errorf("order %d %s: %w", orderID, action, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		c.logger.InfoContext(ctx, "order action accepted",
			"order_id", orderID,
			"action", action,
		)
		return nil
	case resp.StatusCode == http.StatusConflict:
		// Already confirmed/cancelled upstream. Idempotent success.
		c.logger.InfoContext(ctx, "order action already applied",
			"order_id", orderID,
			"action", action,
		)
		return nil
	default:
		// BaseClient already retried 429/5xx, so whatever reaches here is a
		// contract violation that retrying cannot fix.
		return types.NewAppError(types.ErrCodeInternalUnexpected,
			fmt.Sprintf("order %d %s returned %d", orderID, action, resp.StatusCode), nil)
	}
}
