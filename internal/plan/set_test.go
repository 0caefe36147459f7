package plan

import (
	"testing"
	"time"
)

func setPlan(id, symbol string) *Plan {
	return &Plan{
		ID:        id,
		Symbol:    symbol,
		Direction: DirectionLong,
		Entry:     90000,
		Status:    StatusPending,
		CreatedAt: time.Now(),
	}
}

func TestSetAddRejectsDuplicates(t *testing.T) {
	s := NewSet()
	if err := s.Add(setPlan("a", "BTC/USDT:USDT")); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := s.Add(setPlan("a", "BTC/USDT:USDT")); err == nil {
		t.Fatalf("duplicate id must be rejected")
	}
	if s.Len() != 1 {
		t.Fatalf("expected 1 plan, got %d", s.Len())
	}
}

func TestSetGetReturnsCopy(t *testing.T) {
	s := NewSet()
	if err := s.Add(setPlan("a", "BTC/USDT:USDT")); err != nil {
		t.Fatalf("Add: %v", err)
	}

	got, _ := s.Get("a")
	got.Status = StatusExecuted

	again, _ := s.Get("a")
	if again.Status != StatusPending {
		t.Fatalf("mutating a Get result must not touch the set")
	}
}

func TestSetUpdateAppliesUnderLock(t *testing.T) {
	s := NewSet()
	if err := s.Add(setPlan("a", "BTC/USDT:USDT")); err != nil {
		t.Fatalf("Add: %v", err)
	}

	if !s.Update("a", func(p *Plan) { p.Status = StatusOrderPlaced }) {
		t.Fatalf("Update should find the plan")
	}
	got, _ := s.Get("a")
	if got.Status != StatusOrderPlaced {
		t.Fatalf("update should be visible, got %s", got.Status)
	}

	if s.Update("missing", func(p *Plan) {}) {
		t.Fatalf("Update on a missing plan should report false")
	}
}

func TestSetSymbolsAndReferences(t *testing.T) {
	s := NewSet()
	_ = s.Add(setPlan("a", "BTC/USDT:USDT"))
	_ = s.Add(setPlan("b", "ETH/USDT:USDT"))
	_ = s.Add(setPlan("c", "BTC/USDT:USDT"))

	syms := s.Symbols()
	if len(syms) != 2 || syms[0] != "BTC/USDT:USDT" || syms[1] != "ETH/USDT:USDT" {
		t.Fatalf("symbols should be deduplicated and sorted: %v", syms)
	}

	if !s.References("BTC/USDT:USDT") || s.References("SOL/USDT:USDT") {
		t.Fatalf("References should reflect the active set")
	}
}

func TestExecutionLockIsExclusivePerPlan(t *testing.T) {
	s := NewSet()

	if !s.TryLockExecution("a") {
		t.Fatalf("first lock should succeed")
	}
	if s.TryLockExecution("a") {
		t.Fatalf("second lock on the same plan must fail")
	}
	if !s.TryLockExecution("b") {
		t.Fatalf("locks must be per plan")
	}

	s.UnlockExecution("a")
	if !s.TryLockExecution("a") {
		t.Fatalf("lock should be reusable after unlock")
	}
}

func TestSnapshotSortedByCreation(t *testing.T) {
	s := NewSet()
	old := setPlan("old", "BTC/USDT:USDT")
	old.CreatedAt = time.Now().Add(-time.Hour)
	young := setPlan("young", "BTC/USDT:USDT")

	_ = s.Add(young)
	_ = s.Add(old)

	snap := s.Snapshot()
	if len(snap) != 2 || snap[0].ID != "old" || snap[1].ID != "young" {
		t.Fatalf("snapshot should be ordered by creation time: %v, %v", snap[0].ID, snap[1].ID)
	}
}
