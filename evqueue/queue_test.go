package evqueue

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/hazyhaar/evcap/capture"
)

// fakeBridge records deliveries and can be told to fail.
type fakeBridge struct {
	mu        sync.Mutex
	delivered []*capture.Event
	fail      bool
}

func (b *fakeBridge) Deliver(_ context.Context, ev *capture.Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.fail {
		return errors.New("bridge down")
	}
	b.delivered = append(b.delivered, ev)
	return nil
}

func (b *fakeBridge) setFail(v bool) {
	b.mu.Lock()
	b.fail = v
	b.mu.Unlock()
}

func (b *fakeBridge) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.delivered)
}

func testEvent(kind capture.Kind, ts int64, sig string) *capture.Event {
	return &capture.Event{
		ID:        "evt_" + sig,
		Kind:      kind,
		Timestamp: ts,
		Signature: sig,
		Priority:  capture.PriorityFor(kind),
	}
}

func TestFlushEmptyIsNoop(t *testing.T) {
	bridge := &fakeBridge{}
	q := New(Config{}, bridge)
	q.Flush(context.Background())
	q.Flush(context.Background())
	if bridge.count() != 0 {
		t.Fatal("flush on empty queue must deliver nothing")
	}
}

func TestFlushTierOrder(t *testing.T) {
	bridge := &fakeBridge{}
	q := New(Config{}, bridge)
	ctx := context.Background()

	q.Enqueue(ctx, testEvent("scroll", 1, "a"))
	q.Enqueue(ctx, testEvent("hover", 2, "b"))
	q.Enqueue(ctx, testEvent("click", 3, "c"))
	q.Enqueue(ctx, testEvent("navigate", 4, "d"))
	q.Flush(ctx)

	if bridge.count() != 4 {
		t.Fatalf("delivered %d, want 4", bridge.count())
	}
	order := []capture.Kind{"navigate", "click", "hover", "scroll"}
	for i, want := range order {
		if bridge.delivered[i].Kind != want {
			t.Errorf("position %d: got %q, want %q", i, bridge.delivered[i].Kind, want)
		}
	}
}

func TestFailedDeliveryReenqueuesAtOriginalTier(t *testing.T) {
	bridge := &fakeBridge{}
	q := New(Config{}, bridge)
	ctx := context.Background()

	bridge.setFail(true)
	q.Enqueue(ctx, testEvent("click", 1, "a"))
	q.Flush(ctx)

	s := q.Stats()
	if s.Queued[capture.PriorityHigh] != 1 {
		t.Fatalf("high tier: got %d, want 1 (re-enqueued)", s.Queued[capture.PriorityHigh])
	}
	if s.Redeliveries != 1 {
		t.Errorf("redeliveries: got %d, want 1", s.Redeliveries)
	}

	bridge.setFail(false)
	q.Flush(ctx)
	if bridge.count() != 1 {
		t.Fatalf("event lost after bridge recovery: delivered %d", bridge.count())
	}
}

func TestForcedFlushEmptiesAllTiers(t *testing.T) {
	bridge := &fakeBridge{}
	bridge.setFail(true) // delivery outcome must not matter
	q := New(Config{MaxQueued: 10}, bridge)
	ctx := context.Background()

	kinds := []capture.Kind{"navigate", "click", "hover", "scroll"}
	for i := 0; i < 11; i++ {
		q.Enqueue(ctx, testEvent(kinds[i%len(kinds)], int64(i+1), "sig"))
	}

	s := q.Stats()
	for tier, n := range s.Queued {
		if n != 0 {
			t.Errorf("tier %d: %d events left after forced flush, want 0", tier, n)
		}
	}
	if s.ForcedFlushes == 0 {
		t.Error("forced flush not counted")
	}
}

func TestCriticalFailurePersistedDurably(t *testing.T) {
	db := openTestDurable(t)
	bridge := &fakeBridge{}
	bridge.setFail(true)
	q := New(Config{}, bridge, WithDurable(db))
	ctx := context.Background()

	q.Enqueue(ctx, testEvent("submit", 50, "form"))
	q.Flush(ctx)

	persisted, err := db.Recover(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(persisted) != 1 || persisted[0].Kind != "submit" {
		t.Fatalf("persisted = %v, want one submit event", persisted)
	}
}

func TestInstallReplaysAndClears(t *testing.T) {
	db := openTestDurable(t)
	ctx := context.Background()

	if err := db.Persist(ctx, testEvent("navigate", 10, "home")); err != nil {
		t.Fatal(err)
	}

	bridge := &fakeBridge{}
	q := New(Config{}, bridge, WithDurable(db))
	if err := q.Install(ctx); err != nil {
		t.Fatal(err)
	}

	if bridge.count() != 1 || bridge.delivered[0].Kind != "navigate" {
		t.Fatalf("recovered event not redelivered: %v", bridge.delivered)
	}
	left, err := db.Recover(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(left) != 0 {
		t.Fatalf("durable store not cleared: %d rows left", len(left))
	}
	if q.Stats().Recovered != 1 {
		t.Errorf("recovered counter: got %d, want 1", q.Stats().Recovered)
	}
}

func TestEmergencyFlushBounded(t *testing.T) {
	bridge := &fakeBridge{}
	bridge.setFail(true)
	q := New(Config{EmergencyPasses: 3}, bridge)
	ctx := context.Background()

	q.Enqueue(ctx, testEvent("click", 1, "a"))
	q.EmergencyFlush(ctx, "pagehide")

	// After the bounded passes plus the final forced drain, nothing may
	// remain queued even though the bridge never succeeded.
	s := q.Stats()
	for tier, n := range s.Queued {
		if n != 0 {
			t.Errorf("tier %d still holds %d events after emergency flush", tier, n)
		}
	}
}

func TestEmergencyFlushDeliversWhenBridgeHealthy(t *testing.T) {
	bridge := &fakeBridge{}
	q := New(Config{}, bridge)
	ctx := context.Background()

	q.Enqueue(ctx, testEvent("submit", 1, "form"))
	q.Enqueue(ctx, testEvent("scroll", 2, "body"))
	q.EmergencyFlush(ctx, "unload")

	if bridge.count() != 2 {
		t.Fatalf("delivered %d, want 2", bridge.count())
	}
	if bridge.delivered[0].Kind != "submit" {
		t.Error("critical event not drained first")
	}
}
