// Package delivery implements the per-cycle coordinator that merges push and
// poll transports, deduplicates orders against the durable watermark, and
// flushes notifications before advancing the cursor.
package delivery

import (
	"sort"
	"sync"

	"orderpulse/internal/types"
)

// accumulator collects the distinct orders observed during one cycle. It is
// the cycle-local dedup point: push and poll feed it concurrently, and orders
// already covered by the cycle's base watermark are suppressed so a
// redelivered order never produces a duplicate notification.
type accumulator struct {
	base int64

	mu      sync.Mutex
	notices map[int64]types.OrderNotice
	maxID   int64
}

func newAccumulator(base int64) *accumulator {
	return &accumulator{
		base:    base,
		notices: make(map[int64]types.OrderNotice),
		maxID:   base,
	}
}

// Add records a notice. It returns false when the order is suppressed: either
// its id is at or below the base watermark (already delivered in a previous
// cycle) or the same id was already observed this cycle.
func (a *accumulator) Add(notice types.OrderNotice) bool {
	if notice.OrderID <= a.base {
		return false
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if notice.OrderID > a.maxID {
		a.maxID = notice.OrderID
	}
	if _, seen := a.notices[notice.OrderID]; seen {
		return false
	}
	a.notices[notice.OrderID] = notice
	return true
}

// Snapshot returns the accumulated notices in ascending order-id order.
func (a *accumulator) Snapshot() []types.OrderNotice {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]types.OrderNotice, 0, len(a.notices))
	for _, n := range a.notices {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OrderID < out[j].OrderID })
	return out
}

// MaxID returns the highest order id observed, or the base watermark when the
// cycle saw nothing.
func (a *accumulator) MaxID() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.maxID
}

// Count returns the number of distinct accumulated notices.
func (a *accumulator) Count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.notices)
}
