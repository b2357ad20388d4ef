// Package watermark persists the pipeline's single durable cursor: the
// highest order id already surfaced to the user. Every delivery cycle reads
// it at start and advances it exactly once, after the cycle's notices have
// been flushed. Any order with id at or below the watermark is guaranteed
// already notified and must be suppressed even if a stale source replays it.
package watermark

import (
	"context"
	"sync"
)

// Store is the durable watermark cursor.
//
// Advance is atomic and monotonically non-decreasing: a candidate at or
// below the current value is a no-op. Implementations return the value in
// effect after the call, which equals max(current, candidate).
type Store interface {
	// Read returns the current watermark. Zero means no order has ever been
	// delivered.
	Read(ctx context.Context) (int64, error)

	// Advance raises the watermark to candidate if candidate is greater than
	// the current value, atomically, and returns the resulting watermark.
	Advance(ctx context.Context, candidate int64) (int64, error)
}

// MemoryStore is an in-process Store. It backs tests and acts as a last
// resort when no durable backend is configured; it does not survive process
// restarts and logs of the wiring layer say so loudly.
type MemoryStore struct {
	mu      sync.Mutex
	current int64
}

// NewMemoryStore creates a MemoryStore starting at the given watermark.
func NewMemoryStore(initial int64) *MemoryStore {
	return &MemoryStore{current: initial}
}

// Read returns the current watermark.
func (s *MemoryStore) Read(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current, nil
}

// Advance raises the watermark monotonically.
func (s *MemoryStore) Advance(_ context.Context, candidate int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if candidate > s.current {
		s.current = candidate
	}
	return s.current, nil
}
