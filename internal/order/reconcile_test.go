package order

import (
	"context"
	"errors"
	"testing"
	"time"

	"plan-sentinel/internal/plan"
	"plan-sentinel/internal/venue"
)

func placedPlan(id string) *plan.Plan {
	p := pendingPlan(plan.OrderStyleStop)
	p.ID = id
	p.Status = plan.StatusOrderPlaced
	p.OrderTicket = "ord-" + id
	return p
}

func newReconcilerFixture(fv *fakeVenue) (*Reconciler, *plan.Set, *memPersister) {
	set := plan.NewSet()
	persist := &memPersister{}
	exec := NewExecutor(set, fv, persist, nil)
	return NewReconciler(set, fv, exec, nil), set, persist
}

func TestSweepLeavesOpenOrdersAlone(t *testing.T) {
	fv := &fakeVenue{orders: []venue.Order{{Ticket: "ord-a"}}}
	rec, set, _ := newReconcilerFixture(fv)

	p := placedPlan("a")
	if err := set.Add(p); err != nil {
		t.Fatalf("Add: %v", err)
	}

	if moved := rec.Sweep(context.Background()); moved != 0 {
		t.Fatalf("open order should not move, got %d transitions", moved)
	}
	got, ok := set.Get(p.ID)
	if !ok || got.Status != plan.StatusOrderPlaced {
		t.Fatalf("plan should remain pending_order_placed")
	}
}

func TestSweepMatchesFilledOrderToPosition(t *testing.T) {
	fv := &fakeVenue{
		positions: []venue.Position{
			{ID: "pos-old", Symbol: "BTC/USDT:USDT", Side: "long", Size: 0.5, EntryPrice: 91010, OpenedAt: time.Now().Add(-time.Hour)},
			{ID: "pos-new", Symbol: "BTC/USDT:USDT", Side: "long", Size: 0.5, EntryPrice: 91005, OpenedAt: time.Now()},
		},
	}
	rec, set, persist := newReconcilerFixture(fv)

	p := placedPlan("a")
	if err := set.Add(p); err != nil {
		t.Fatalf("Add: %v", err)
	}

	if moved := rec.Sweep(context.Background()); moved != 1 {
		t.Fatalf("expected 1 transition, got %d", moved)
	}
	if _, ok := set.Get(p.ID); ok {
		t.Fatalf("filled plan must leave the active set")
	}
	if got := persist.lastStatus(); got != plan.StatusExecuted {
		t.Fatalf("persisted status should be executed, got %s", got)
	}
	// 多笔命中取开仓时间最近者。
	last := persist.plans[len(persist.plans)-1]
	if last.PositionID != "pos-new" {
		t.Fatalf("reconciler should pick the most recent matching position, got %s", last.PositionID)
	}
}

func TestSweepCancelsWhenNoPositionMatches(t *testing.T) {
	fv := &fakeVenue{
		positions: []venue.Position{
			// 方向不符，不能作为成交证据。
			{ID: "pos-x", Symbol: "BTC/USDT:USDT", Side: "short", Size: 0.5, EntryPrice: 91000, OpenedAt: time.Now()},
		},
	}
	rec, set, persist := newReconcilerFixture(fv)

	p := placedPlan("a")
	if err := set.Add(p); err != nil {
		t.Fatalf("Add: %v", err)
	}

	if moved := rec.Sweep(context.Background()); moved != 1 {
		t.Fatalf("expected 1 transition, got %d", moved)
	}
	if got := persist.lastStatus(); got != plan.StatusCancelled {
		t.Fatalf("plan without fill evidence should be cancelled, got %s", got)
	}
}

func TestSweepSkipsSymbolOnVenueError(t *testing.T) {
	fv := &fakeVenue{listErr: errors.New("venue down")}
	rec, set, _ := newReconcilerFixture(fv)

	p := placedPlan("a")
	if err := set.Add(p); err != nil {
		t.Fatalf("Add: %v", err)
	}

	if moved := rec.Sweep(context.Background()); moved != 0 {
		t.Fatalf("venue errors must defer reconciliation, got %d transitions", moved)
	}
	got, ok := set.Get(p.ID)
	if !ok || got.Status != plan.StatusOrderPlaced {
		t.Fatalf("plan must be untouched when the venue is unreachable")
	}
}

func TestSweepRejectsSizeMismatch(t *testing.T) {
	fv := &fakeVenue{
		positions: []venue.Position{
			{ID: "pos-big", Symbol: "BTC/USDT:USDT", Side: "long", Size: 5, EntryPrice: 91000, OpenedAt: time.Now()},
		},
	}
	rec, set, persist := newReconcilerFixture(fv)

	p := placedPlan("a")
	if err := set.Add(p); err != nil {
		t.Fatalf("Add: %v", err)
	}

	rec.Sweep(context.Background())

	if got := persist.lastStatus(); got != plan.StatusCancelled {
		t.Fatalf("position with a 10x size must not match, got %s", got)
	}
}
