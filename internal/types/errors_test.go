package types

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAppError_ErrorAndUnwrap(t *testing.T) {
	cause := errors.New("connection refused")
	err := NewAppError(ErrCodeTransportUnavailable, "backend unreachable", cause)

	assert.Equal(t, "transport_unavailable: backend unreachable", err.Error())
	assert.True(t, errors.Is(err, cause))
}

func TestCodeOf(t *testing.T) {
	inner := NewAppError(ErrCodeDecodeInvalidPayload, "bad frame", nil)
	wrapped := fmt.Errorf("handling frame: %w", inner)

	assert.Equal(t, ErrCodeDecodeInvalidPayload, CodeOf(wrapped))
	assert.Equal(t, ErrCodeInternalUnexpected, CodeOf(errors.New("plain")))
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"transport unavailable", NewAppError(ErrCodeTransportUnavailable, "timeout", nil), true},
		{"rate limited", NewAppError(ErrCodeTransportRateLimited, "429", nil), true},
		{"breaker open", NewAppError(ErrCodeTransportBreakerOpen, "open", nil), true},
		{"decode failure", NewAppError(ErrCodeDecodeInvalidPayload, "bad json", nil), false},
		{"deadline exceeded", NewAppError(ErrCodeDeadlineExceeded, "budget gone", nil), false},
		{"context canceled", context.Canceled, false},
		{"context deadline", context.DeadlineExceeded, false},
		{
			"transport wrapping canceled context is terminal",
			NewAppError(ErrCodeTransportUnavailable, "aborted", context.Canceled),
			false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryable(tt.err))
		})
	}
}

func TestIsBudgetExhausted(t *testing.T) {
	assert.True(t, IsBudgetExhausted(context.DeadlineExceeded))
	assert.True(t, IsBudgetExhausted(context.Canceled))
	assert.True(t, IsBudgetExhausted(NewAppError(ErrCodeDeadlineExceeded, "", nil)))
	assert.True(t, IsBudgetExhausted(NewAppError(ErrCodeHostCancelled, "", nil)))
	assert.False(t, IsBudgetExhausted(NewAppError(ErrCodeTransportUnavailable, "", nil)))
	assert.False(t, IsBudgetExhausted(nil))
}
