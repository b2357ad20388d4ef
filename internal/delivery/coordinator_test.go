package delivery

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orderpulse/internal/push"
	"orderpulse/internal/types"
	"orderpulse/internal/watermark"
)

// fakeStream replays scripted push events. With hold set it keeps the event
// stream open until Close, mimicking a healthy connection.
type fakeStream struct {
	events []push.Event
	hold   bool

	once   sync.Once
	closed chan struct{}
}

func newFakeStream(hold bool, events ...push.Event) *fakeStream {
	return &fakeStream{events: events, hold: hold, closed: make(chan struct{})}
}

func (f *fakeStream) Open(ctx context.Context) <-chan push.Event {
	ch := make(chan push.Event, len(f.events)+1)
	go func() {
		defer close(ch)
		for _, ev := range f.events {
			select {
			case ch <- ev:
			case <-ctx.Done():
				return
			case <-f.closed:
				return
			}
		}
		if f.hold {
			select {
			case <-ctx.Done():
			case <-f.closed:
			}
		}
	}()
	return ch
}

func (f *fakeStream) Close() {
	f.once.Do(func() { close(f.closed) })
}

func connectedStream(hold bool, ids ...int64) *fakeStream {
	events := []push.Event{{State: types.ConnConnecting}, {State: types.ConnConnected}}
	for _, id := range ids {
		n := notice(id)
		events = append(events, push.Event{Notice: &n})
	}
	return newFakeStream(hold, events...)
}

func failedStream() *fakeStream {
	return newFakeStream(false,
		push.Event{State: types.ConnConnecting},
		push.Event{State: types.ConnFailed, Err: types.NewAppError(types.ErrCodePushConnectFailed, "dial refused", nil)},
	)
}

type fakeFetcher struct {
	mu    sync.Mutex
	calls []int64
	fn    func(lastID int64) ([]types.OrderNotice, error)
}

func (f *fakeFetcher) FetchSince(_ context.Context, lastID int64) ([]types.OrderNotice, error) {
	f.mu.Lock()
	f.calls = append(f.calls, lastID)
	f.mu.Unlock()
	return f.fn(lastID)
}

func (f *fakeFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func returning(notices ...types.OrderNotice) *fakeFetcher {
	return &fakeFetcher{fn: func(int64) ([]types.OrderNotice, error) {
		return notices, nil
	}}
}

type fakeFlusher struct {
	mu      sync.Mutex
	flushed [][]types.OrderNotice
	err     error
}

func (f *fakeFlusher) Flush(_ context.Context, notices []types.OrderNotice) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.flushed = append(f.flushed, notices)
	if f.err != nil {
		return 0, f.err
	}
	return len(notices), nil
}

func (f *fakeFlusher) lastBatch() []types.OrderNotice {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.flushed) == 0 {
		return nil
	}
	return f.flushed[len(f.flushed)-1]
}

type fakeScheduler struct {
	mu    sync.Mutex
	calls int
}

func (s *fakeScheduler) EnsureNextCycle(context.Context) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
}

func (s *fakeScheduler) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type coordFixture struct {
	coord   *Coordinator
	store   *watermark.MemoryStore
	flusher *fakeFlusher
	sched   *fakeScheduler
}

func newFixture(t *testing.T, base int64, stream PushStream, fetcher NoticeFetcher, deadline time.Duration) *coordFixture {
	t.Helper()
	store := watermark.NewMemoryStore(base)
	flusher := &fakeFlusher{}
	sched := &fakeScheduler{}
	coord := NewCoordinator(CoordinatorConfig{
		NewStream:             func() PushStream { return stream },
		Fetcher:               fetcher,
		Flusher:               flusher,
		Store:                 store,
		Scheduler:             sched,
		CycleDeadline:         deadline,
		PollIntervalConnected: time.Minute,
		PollIntervalDegraded:  time.Minute,
	})
	return &coordFixture{coord: coord, store: store, flusher: flusher, sched: sched}
}

func orderIDs(notices []types.OrderNotice) []int64 {
	ids := make([]int64, 0, len(notices))
	for _, n := range notices {
		ids = append(ids, n.OrderID)
	}
	return ids
}

func TestRunCycleMergesPushAndPoll(t *testing.T) {
	// Watermark 10, poll observes [11 12], push observes [12 13]: exactly
	// three distinct orders flush and the watermark lands on 13.
	stream := connectedStream(false, 12, 13)
	fetcher := returning(notice(11), notice(12))
	fx := newFixture(t, 10, stream, fetcher, 300*time.Millisecond)

	result, err := fx.coord.RunCycle(context.Background())

	require.NoError(t, err)
	assert.Equal(t, []int64{11, 12, 13}, orderIDs(fx.flusher.lastBatch()))
	assert.Equal(t, 3, result.NoticesDelivered)
	assert.Equal(t, int64(13), result.NewWatermark)
	assert.True(t, result.PushConnected)
	assert.GreaterOrEqual(t, result.FetchAttempts, 1)

	wm, _ := fx.store.Read(context.Background())
	assert.Equal(t, int64(13), wm)
}

func TestRunCycleEmptyIsNormal(t *testing.T) {
	stream := connectedStream(false)
	fetcher := returning()
	fx := newFixture(t, 10, stream, fetcher, 200*time.Millisecond)

	result, err := fx.coord.RunCycle(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 0, result.NoticesDelivered)
	assert.Equal(t, int64(10), result.NewWatermark)
	assert.Equal(t, 1, fx.sched.callCount())

	wm, _ := fx.store.Read(context.Background())
	assert.Equal(t, int64(10), wm)
}

func TestRunCycleFlushFailureHoldsWatermark(t *testing.T) {
	stream := failedStream()
	fetcher := returning(notice(11))
	fx := newFixture(t, 10, stream, fetcher, 200*time.Millisecond)
	fx.flusher.err = types.NewAppError(types.ErrCodePresenterUnavailable, "queue down", nil)

	result, err := fx.coord.RunCycle(context.Background())

	require.Error(t, err)
	assert.Equal(t, types.ErrCodePresenterUnavailable, types.CodeOf(err))
	assert.Equal(t, int64(10), result.NewWatermark)

	wm, _ := fx.store.Read(context.Background())
	assert.Equal(t, int64(10), wm)

	// A follow-up cycle is still requested so the held-back orders get
	// another chance.
	assert.Equal(t, 1, fx.sched.callCount())
}

func TestRunCycleIdempotentAcrossCycles(t *testing.T) {
	// The backend keeps returning the same pending orders; the second cycle
	// must not re-notify them.
	fetcher := returning(notice(11), notice(12))

	fx := newFixture(t, 10, failedStream(), fetcher, 200*time.Millisecond)
	fx.coord.newStream = func() PushStream { return failedStream() }

	first, err := fx.coord.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, first.NoticesDelivered)
	assert.Equal(t, int64(12), first.NewWatermark)

	second, err := fx.coord.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, second.NoticesDelivered)
	assert.Equal(t, int64(12), second.NewWatermark)
	assert.Empty(t, fx.flusher.lastBatch())
}

func TestRunCycleHostCancellationDrains(t *testing.T) {
	stream := connectedStream(true, 11)
	fetcher := returning()
	fx := newFixture(t, 10, stream, fetcher, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	result, err := fx.coord.RunCycle(ctx)

	// Cancellation ends the cycle normally: the observed order still
	// flushes and the watermark still advances.
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Equal(t, 1, result.NoticesDelivered)
	assert.Equal(t, int64(11), result.NewWatermark)
	assert.Equal(t, 1, fx.sched.callCount())
}

func TestRunCycleEndsEarlyWhenBothTransportsDead(t *testing.T) {
	fetcher := &fakeFetcher{fn: func(int64) ([]types.OrderNotice, error) {
		return nil, types.NewAppError(types.ErrCodeDeadlineExceeded, "no budget for retry", context.DeadlineExceeded)
	}}
	fx := newFixture(t, 10, failedStream(), fetcher, time.Hour)

	start := time.Now()
	result, err := fx.coord.RunCycle(context.Background())

	require.NoError(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.False(t, result.PushConnected)
	assert.Equal(t, int64(10), result.NewWatermark)
	assert.Equal(t, 1, fetcher.callCount())
}

func TestRunCycleRejectsConcurrentEntry(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{})
	fetcher := &fakeFetcher{fn: func(int64) ([]types.OrderNotice, error) {
		close(entered)
		<-release
		return nil, nil
	}}
	fx := newFixture(t, 0, connectedStream(true), fetcher, 300*time.Millisecond)

	done := make(chan error, 1)
	go func() {
		_, err := fx.coord.RunCycle(context.Background())
		done <- err
	}()

	<-entered
	_, err := fx.coord.RunCycle(context.Background())
	assert.ErrorIs(t, err, ErrCycleInProgress)

	close(release)
	require.NoError(t, <-done)
}

func TestRunCycleWatermarkReadFailureAborts(t *testing.T) {
	coord := NewCoordinator(CoordinatorConfig{
		NewStream: func() PushStream { return connectedStream(false) },
		Fetcher:   returning(),
		Flusher:   &fakeFlusher{},
		Store:     failingStore{},
		Scheduler: &fakeScheduler{},
	})

	_, err := coord.RunCycle(context.Background())
	require.Error(t, err)
	assert.Equal(t, types.ErrCodeWatermarkStore, types.CodeOf(err))
}

type failingStore struct{}

func (failingStore) Read(context.Context) (int64, error) {
	return 0, types.NewAppError(types.ErrCodeWatermarkStore, "read failed", errors.New("disk gone"))
}

func (failingStore) Advance(context.Context, int64) (int64, error) {
	return 0, types.NewAppError(types.ErrCodeWatermarkStore, "advance failed", errors.New("disk gone"))
}
