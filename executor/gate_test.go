package executor

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestGateLimitsConcurrency(t *testing.T) {
	ResetGate()
	t.Cleanup(ResetGate)

	const limit = 2
	var active, peak atomic.Int32
	var wg sync.WaitGroup

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := AcquireSlot(context.Background(), limit); err != nil {
				t.Error(err)
				return
			}
			defer ReleaseSlot()

			now := active.Add(1)
			for {
				p := peak.Load()
				if now <= p || peak.CompareAndSwap(p, now) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			active.Add(-1)
		}()
	}
	wg.Wait()

	if peak.Load() > limit {
		t.Errorf("gate admitted %d concurrent holders, limit %d", peak.Load(), limit)
	}
}

func TestGateFirstLimitWins(t *testing.T) {
	ResetGate()
	t.Cleanup(ResetGate)

	if err := AcquireSlot(context.Background(), 1); err != nil {
		t.Fatal(err)
	}

	// The gate is already sized; a second caller asking for more slots
	// must still block on the single one.
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := AcquireSlot(ctx, 10); err == nil {
		ReleaseSlot()
		t.Error("expected second acquire to block on the first caller's limit")
	}
	ReleaseSlot()
}

func TestGateAcquireRespectsContext(t *testing.T) {
	ResetGate()
	t.Cleanup(ResetGate)

	if err := AcquireSlot(context.Background(), 1); err != nil {
		t.Fatal(err)
	}
	defer ReleaseSlot()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := AcquireSlot(ctx, 1); err == nil {
		ReleaseSlot()
		t.Error("expected acquire to fail on cancelled context")
	}
}
