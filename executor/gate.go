package executor

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// The concurrency gate is a process-wide semaphore bounding simultaneous
// backend invocations. Head nodes limit file handles and child processes,
// so unbounded fan-out is unsafe even when the scheduler itself could
// accept more jobs.
var (
	gateMu  sync.Mutex
	gateSem *semaphore.Weighted
)

// AcquireSlot takes one slot from the gate, initialising it from limit on
// first use. The limit of the first caller wins for the process lifetime.
func AcquireSlot(ctx context.Context, limit int) error {
	gateMu.Lock()
	if gateSem == nil {
		if limit < 1 {
			limit = 1
		}
		gateSem = semaphore.NewWeighted(int64(limit))
	}
	sem := gateSem
	gateMu.Unlock()

	return sem.Acquire(ctx, 1)
}

// ReleaseSlot returns a slot to the gate.
func ReleaseSlot() {
	gateMu.Lock()
	sem := gateSem
	gateMu.Unlock()
	if sem != nil {
		sem.Release(1)
	}
}

// ResetGate discards the gate so the next AcquireSlot reinitialises it.
// Only for tests; callers must not hold slots across a reset.
func ResetGate() {
	gateMu.Lock()
	gateSem = nil
	gateMu.Unlock()
}
