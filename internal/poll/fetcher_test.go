package poll

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orderpulse/internal/retry"
	"orderpulse/internal/types"
)

// fakeSource scripts FetchPending responses: errs are consumed first, then
// payloads are returned.
type fakeSource struct {
	errs     []error
	payloads []types.OrderPayload
	calls    int
	lastIDs  []int64
}

func (f *fakeSource) FetchPending(_ context.Context, lastID int64) ([]types.OrderPayload, error) {
	f.calls++
	f.lastIDs = append(f.lastIDs, lastID)
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		return nil, err
	}
	return f.payloads, nil
}

func noSleepRetrier() *retry.Scheduler {
	return retry.NewScheduler(retry.PipelinePolicy, slog.Default(),
		retry.WithSleepFunc(func(context.Context, time.Duration) error { return nil }))
}

func fixedNow() time.Time {
	return time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
}

func payload(id int64, name string) types.OrderPayload {
	return types.OrderPayload{ID: id, ProductName: name, UnitPrice: decimal.NewFromInt(10)}
}

func TestFetchSince_ReturnsNotices(t *testing.T) {
	source := &fakeSource{payloads: []types.OrderPayload{
		payload(11, "Ceramic Mug"),
		payload(12, "Oak Tray"),
	}}
	f := NewFetcher(FetcherConfig{Source: source, Retrier: noSleepRetrier(), NowFn: fixedNow})

	notices, err := f.FetchSince(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, notices, 2)
	assert.Equal(t, int64(11), notices[0].OrderID)
	assert.Equal(t, int64(12), notices[1].OrderID)
	assert.Equal(t, fixedNow(), notices[0].ReceivedAt)
	assert.Equal(t, []int64{10}, source.lastIDs)
}

func TestFetchSince_EmptyResponseIsNormal(t *testing.T) {
	source := &fakeSource{}
	f := NewFetcher(FetcherConfig{Source: source, Retrier: noSleepRetrier(), NowFn: fixedNow})

	notices, err := f.FetchSince(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, notices)
}

func TestFetchSince_RetriesTransportFailures(t *testing.T) {
	source := &fakeSource{
		errs: []error{
			types.NewAppError(types.ErrCodeTransportUnavailable, "timeout", nil),
			types.NewAppError(types.ErrCodeTransportUnavailable, "refused", nil),
		},
		payloads: []types.OrderPayload{payload(11, "Ceramic Mug")},
	}
	f := NewFetcher(FetcherConfig{Source: source, Retrier: noSleepRetrier(), NowFn: fixedNow})

	notices, err := f.FetchSince(context.Background(), 10)
	require.NoError(t, err)
	assert.Len(t, notices, 1)
	assert.Equal(t, 3, source.calls)
}

func TestFetchSince_DeadlineAbortsBackoff(t *testing.T) {
	// Every attempt fails and the next backoff wait (1s) exceeds the ~50ms of
	// remaining budget, so the fetch aborts with deadline_exceeded instead of
	// sleeping past the deadline.
	source := &fakeSource{errs: []error{
		types.NewAppError(types.ErrCodeTransportUnavailable, "down", nil),
		types.NewAppError(types.ErrCodeTransportUnavailable, "down", nil),
		types.NewAppError(types.ErrCodeTransportUnavailable, "down", nil),
	}}
	f := NewFetcher(FetcherConfig{
		Source: source,
		// Real sleep function here: the deadline check must prevent it from
		// ever being reached.
		Retrier: retry.NewScheduler(retry.PipelinePolicy, slog.Default()),
		NowFn:   fixedNow,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := f.FetchSince(ctx, 10)
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.Equal(t, types.ErrCodeDeadlineExceeded, types.CodeOf(err))
	assert.Equal(t, 1, source.calls)
	assert.Less(t, elapsed, 500*time.Millisecond, "must not sleep into the backoff")
}

func TestFetchSince_SkipsMalformedOrders(t *testing.T) {
	source := &fakeSource{payloads: []types.OrderPayload{
		payload(11, "Ceramic Mug"),
		{ID: 0, ProductName: "Ghost Order"}, // invalid id
		payload(13, "Oak Tray"),
	}}
	f := NewFetcher(FetcherConfig{Source: source, Retrier: noSleepRetrier(), NowFn: fixedNow})

	notices, err := f.FetchSince(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, notices, 2)
	assert.Equal(t, int64(11), notices[0].OrderID)
	assert.Equal(t, int64(13), notices[1].OrderID)
}

func TestFetchSince_DecodeErrorIsTerminal(t *testing.T) {
	source := &fakeSource{errs: []error{
		types.NewAppError(types.ErrCodeDecodeInvalidPayload, "not an array", nil),
	}}
	f := NewFetcher(FetcherConfig{Source: source, Retrier: noSleepRetrier(), NowFn: fixedNow})

	_, err := f.FetchSince(context.Background(), 10)
	require.Error(t, err)
	assert.Equal(t, types.ErrCodeDecodeInvalidPayload, types.CodeOf(err))
	assert.Equal(t, 1, source.calls, "decode failures must not be retried")
}
