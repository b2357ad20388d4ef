package push

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orderpulse/internal/types"
)

// streamServer is an httptest websocket server that plays a scripted set of
// frames to the first client that connects, then optionally hangs up.
type streamServer struct {
	*httptest.Server
	frames   []string
	hangUp   bool
	upgraded chan struct{}
}

func newStreamServer(t *testing.T, frames []string, hangUp bool) *streamServer {
	t.Helper()
	s := &streamServer{frames: frames, hangUp: hangUp, upgraded: make(chan struct{}, 1)}
	upgrader := websocket.Upgrader{}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		s.upgraded <- struct{}{}
		for _, f := range s.frames {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(f)); err != nil {
				return
			}
		}
		if s.hangUp {
			conn.Close()
			return
		}
		// Keep the connection open until the client closes it.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	return s
}

func (s *streamServer) wsURL() string {
	return "ws" + strings.TrimPrefix(s.URL, "http")
}

// collectEvents drains the stream until it closes or the timeout hits.
func collectEvents(t *testing.T, events <-chan Event, timeout time.Duration) []Event {
	t.Helper()
	var out []Event
	deadline := time.After(timeout)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-deadline:
			return out
		}
	}
}

func fixedNow() time.Time {
	return time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
}

func TestChannel_DeliversDecodedNotices(t *testing.T) {
	server := newStreamServer(t, []string{
		`{"id": 11, "product_name": "Ceramic Mug", "unit_price": "12.50"}`,
		`not json at all`,
		`{"id": 12, "product_name": "Oak Tray", "unit_price": "34.00"}`,
	}, true)
	defer server.Close()

	ch := NewChannel(ChannelConfig{URL: server.wsURL(), NowFn: fixedNow})
	events := ch.Open(context.Background())

	got := collectEvents(t, events, 5*time.Second)

	var states []types.ConnectionState
	var ids []int64
	for _, ev := range got {
		if ev.State != "" {
			states = append(states, ev.State)
		}
		if ev.Notice != nil {
			ids = append(ids, ev.Notice.OrderID)
		}
	}

	// The malformed middle frame is dropped without killing the stream.
	assert.Equal(t, []int64{11, 12}, ids)
	assert.Contains(t, states, types.ConnConnecting)
	assert.Contains(t, states, types.ConnConnected)
	// Remote hang-up after the scripted frames surfaces as Disconnected.
	assert.Equal(t, types.ConnDisconnected, states[len(states)-1])

	for _, ev := range got {
		if ev.Notice != nil {
			assert.Equal(t, fixedNow(), ev.Notice.ReceivedAt)
		}
	}
}

func TestChannel_FailedDialEmitsFailedEvent(t *testing.T) {
	// Dial a server that refuses websocket upgrades.
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no", http.StatusForbidden)
	}))
	defer server.Close()

	ch := NewChannel(ChannelConfig{URL: "ws" + strings.TrimPrefix(server.URL, "http")})
	events := ch.Open(context.Background())

	got := collectEvents(t, events, 5*time.Second)
	require.NotEmpty(t, got)

	last := got[len(got)-1]
	assert.Equal(t, types.ConnFailed, last.State)
	require.Error(t, last.Err)
	assert.Equal(t, types.ErrCodePushConnectFailed, types.CodeOf(last.Err))
}

func TestChannel_CloseBeforeDialResolves(t *testing.T) {
	server := newStreamServer(t, nil, false)
	defer server.Close()

	ch := NewChannel(ChannelConfig{URL: server.wsURL()})

	// Close before Open: the session must never establish.
	ch.Close()
	events := ch.Open(context.Background())

	got := collectEvents(t, events, 2*time.Second)
	for _, ev := range got {
		assert.NotEqual(t, types.ConnConnected, ev.State,
			"a channel closed before dialing must not report Connected")
		assert.Nil(t, ev.Notice)
	}
}

func TestChannel_CloseIsIdempotent(t *testing.T) {
	server := newStreamServer(t, nil, false)
	defer server.Close()

	ch := NewChannel(ChannelConfig{URL: server.wsURL()})
	events := ch.Open(context.Background())

	// Wait for the server side to accept, then close twice.
	select {
	case <-server.upgraded:
	case <-time.After(5 * time.Second):
		t.Fatal("server never saw the connection")
	}

	ch.Close()
	ch.Close()

	// The stream terminates without a Disconnected event: closing locally is
	// not a remote failure.
	got := collectEvents(t, events, 5*time.Second)
	for _, ev := range got {
		assert.NotEqual(t, types.ConnDisconnected, ev.State)
	}
}

func TestChannel_ContextCancelStopsStream(t *testing.T) {
	server := newStreamServer(t, nil, false)
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	ch := NewChannel(ChannelConfig{URL: server.wsURL()})
	events := ch.Open(ctx)

	select {
	case <-server.upgraded:
	case <-time.After(5 * time.Second):
		t.Fatal("server never saw the connection")
	}

	cancel()
	ch.Close()

	got := collectEvents(t, events, 5*time.Second)
	for _, ev := range got {
		assert.NotEqual(t, types.ConnDisconnected, ev.State,
			"cancellation must not be reported as a remote disconnect")
	}
}
