// Package push implements the push side of the order delivery pipeline: one
// logical websocket session per delivery cycle against the backend's order
// stream, surfaced to the coordinator as an event stream rather than
// callbacks, so ordering and cancellation are explicit.
package push

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"orderpulse/internal/types"
)

// Event is one item on the channel's output stream: either a connection
// lifecycle transition or a decoded order notice, never both.
type Event struct {
	// State is non-empty for lifecycle events (Connecting, Connected,
	// Failed, Disconnected).
	State types.ConnectionState

	// Notice is set for order events.
	Notice *types.OrderNotice

	// Err carries the cause for Failed and Disconnected events.
	Err error
}

const (
	// dialTimeout bounds the websocket handshake.
	dialTimeout = 10 * time.Second

	// closeGrace bounds how long Close may spend on the closing handshake.
	closeGrace = 2 * time.Second

	// readLimit caps a single inbound frame. Order frames are small; an
	// oversized frame indicates a broken backend.
	readLimit = 1 << 20
)

// Dialer abstracts websocket dialing for testability. *websocket.Dialer
// satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, urlStr string, requestHeader http.Header) (*websocket.Conn, *http.Response, error)
}

// Channel owns one logical persistent-connection session to the order-events
// endpoint. Open is non-blocking: it attempts the connection asynchronously
// and reports Connected or Failed as events. The channel never reconnects on
// its own; that decision belongs to the delivery coordinator.
type Channel struct {
	url    string
	header http.Header
	dialer Dialer
	logger *slog.Logger
	nowFn  func() time.Time

	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool
}

// ChannelConfig holds the configuration for creating a Channel.
type ChannelConfig struct {
	// URL is the full stream endpoint, e.g. wss://api.example.com/orders/stream.
	URL string

	// Header carries extra handshake headers (auth, trace).
	Header http.Header

	// Dialer defaults to websocket.DefaultDialer.
	Dialer Dialer

	Logger *slog.Logger

	// NowFn defaults to time.Now; injected by tests to pin ReceivedAt.
	NowFn func() time.Time
}

// NewChannel creates a Channel for one delivery cycle.
func NewChannel(cfg ChannelConfig) *Channel {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	dialer := cfg.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	nowFn := cfg.NowFn
	if nowFn == nil {
		nowFn = time.Now
	}
	return &Channel{
		url:    cfg.URL,
		header: cfg.Header,
		dialer: dialer,
		logger: logger,
		nowFn:  nowFn,
	}
}

// Open starts the connection attempt and returns the event stream. It does
// not block on the dial. The stream is closed after a Failed event, after a
// Disconnected event, or once Close tears the session down.
//
// Decode failures on inbound frames are logged and dropped; they never
// terminate the stream.
func (c *Channel) Open(ctx context.Context) <-chan Event {
	events := make(chan Event, 16)

	go c.run(ctx, events)

	return events
}

func (c *Channel) run(ctx context.Context, events chan<- Event) {
	defer close(events)

	emit := func(ev Event) {
		select {
		case events <- ev:
		case <-ctx.Done():
		}
	}

	emit(Event{State: types.ConnConnecting})

	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	conn, resp, err := c.dialer.DialContext(dialCtx, c.url, c.header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		c.logger.WarnContext(ctx, "push connection failed",
			"url", c.url,
			"error", err,
		)
		emit(Event{State: types.ConnFailed, Err: types.NewAppError(
			types.ErrCodePushConnectFailed, "dialing order stream", err)})
		return
	}

	// Close may have been called while we were dialing. Honor it: tear the
	// fresh connection down and report nothing further.
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		conn.Close()
		return
	}
	c.conn = conn
	c.mu.Unlock()

	conn.SetReadLimit(readLimit)

	c.logger.InfoContext(ctx, "push connection established", "url", c.url)
	emit(Event{State: types.ConnConnected})

	for {
		msgType, raw, err := conn.ReadMessage()
		if err != nil {
			// Expected when Close runs or the remote hangs up. Either way
			// this session is over; the coordinator decides what happens next.
			if !c.isClosed() && ctx.Err() == nil {
				c.logger.WarnContext(ctx, "push connection lost",
					"url", c.url,
					"error", err,
				)
				emit(Event{State: types.ConnDisconnected, Err: types.NewAppError(
					types.ErrCodePushClosed, "order stream closed by remote", err)})
			}
			return
		}

		if msgType != websocket.TextMessage {
			c.logger.WarnContext(ctx, "dropping non-text push frame", "type", msgType)
			continue
		}

		notice, err := DecodeOrderNotice(raw, c.nowFn())
		if err != nil {
			c.logger.WarnContext(ctx, "dropping malformed push frame",
				"error", err,
				"frame_bytes", len(raw),
			)
			continue
		}

		emit(Event{Notice: &notice})
	}
}

// Close tears down the session. It is idempotent and safe to call from any
// state, including before the connection attempt resolves, and never blocks
// past the close grace period. Physical teardown happens at most once.
func (c *Channel) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn == nil {
		return
	}

	// Best-effort closing handshake, then hard close. The read loop unblocks
	// on either.
	deadline := time.Now().Add(closeGrace)
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	conn.Close()
}

func (c *Channel) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
