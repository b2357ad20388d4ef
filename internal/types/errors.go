package types

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrorCode is a typed string for categorizing application errors.
type ErrorCode string

// Error code constants for the delivery pipeline. All components MUST use
// these constants instead of hardcoded strings.
const (
	// Data quality (drop, log, continue)
	ErrCodeDecodeInvalidPayload ErrorCode = "decode_invalid_payload"

	// Transport (retry with backoff up to the cycle deadline)
	ErrCodeTransportUnavailable ErrorCode = "transport_unavailable"
	ErrCodeTransportRateLimited ErrorCode = "transport_rate_limited"
	ErrCodeTransportBreakerOpen ErrorCode = "transport_breaker_open"

	// Budget (stop retrying, proceed to drain)
	ErrCodeDeadlineExceeded ErrorCode = "deadline_exceeded"
	ErrCodeHostCancelled    ErrorCode = "host_cancelled"

	// Push channel
	ErrCodePushConnectFailed ErrorCode = "push_connect_failed"
	ErrCodePushClosed        ErrorCode = "push_closed"

	// Persistence
	ErrCodeWatermarkStore ErrorCode = "watermark_store_error"

	// Presentation
	ErrCodePresenterUnavailable ErrorCode = "presenter_unavailable"

	// Catch-all
	ErrCodeInternalUnexpected ErrorCode = "internal_unexpected_error"
)

// AppError is the standard application error type used throughout the
// pipeline. All component errors should be expressed as AppError to enable
// consistent classification (retryable vs terminal) and error chain support.
type AppError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Err     error     `json:"-"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Is/errors.As support.
func (e *AppError) Unwrap() error {
	return e.Err
}

// NewAppError creates a new AppError with the given code, message, and
// wrapped cause (may be nil).
func NewAppError(code ErrorCode, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// CodeOf extracts the ErrorCode from an error chain. Returns
// ErrCodeInternalUnexpected if no AppError is present.
func CodeOf(err error) ErrorCode {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrCodeInternalUnexpected
}

// IsRetryable reports whether the error represents a transient transport
// failure that a backoff retry may resolve. Decode failures are data-quality
// problems, and budget errors mean the cycle is out of time; neither is
// retryable. Context cancellation and deadline expiry are never retryable.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	switch CodeOf(err) {
	case ErrCodeTransportUnavailable, ErrCodeTransportRateLimited:
		return true
	case ErrCodeTransportBreakerOpen:
		// The breaker will reject until its timeout elapses; sleeping and
		// retrying inside the same cycle is still the correct response.
		return true
	}
	return false
}

// IsBudgetExhausted reports whether the error means the cycle's execution
// budget is gone, either because the deadline elapsed or because the host
// reclaimed the execution slot. Both resolve identically: stop retrying and
// proceed to drain.
func IsBudgetExhausted(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	code := CodeOf(err)
	return code == ErrCodeDeadlineExceeded || code == ErrCodeHostCancelled
}

// IsTransportCode reports whether the code belongs to the transport family.
func (c ErrorCode) IsTransportCode() bool {
	return strings.HasPrefix(string(c), "transport_")
}
