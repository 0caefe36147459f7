package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"plan-sentinel/internal/config"
	"plan-sentinel/internal/plan"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	// 内存库必须单连接，多个连接会各自拿到独立的库。
	s, err := NewSQLite(config.DatabaseConfig{
		InMemory:     true,
		MaxOpenConns: 1,
		MaxIdleConns: 1,
	})
	if err != nil {
		t.Fatalf("NewSQLite: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func storedPlan() *plan.Plan {
	expiry := time.Now().Add(24 * time.Hour).UTC()
	return &plan.Plan{
		ID:         "plan-1",
		Symbol:     "BTC/USDT:USDT",
		Direction:  plan.DirectionLong,
		Entry:      90000,
		Stop:       88000,
		Target:     95000,
		Size:       0.5,
		Tolerance:  100,
		OrderStyle: plan.OrderStyleStop,
		Conditions: []plan.Condition{
			{Kind: plan.KindProximity, Proximity: &plan.ProximityParams{Tolerance: 150}},
			{Kind: plan.KindSession, Session: &plan.SessionParams{OpenHour: 8, CloseHour: 16}},
		},
		EntryLevels: []plan.EntryLevel{{Price: 90000, Weight: 0.7}, {Price: 89500, Weight: 0.3}},
		Status:      plan.StatusPending,
		CreatedAt:   time.Now().UTC().Truncate(time.Second),
		ExpiresAt:   expiry,
	}
}

func TestUpsertAndGetPlanRoundTrip(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	p := storedPlan()

	if err := s.UpsertPlan(ctx, p); err != nil {
		t.Fatalf("UpsertPlan: %v", err)
	}

	got, err := s.GetPlan(ctx, p.ID)
	if err != nil {
		t.Fatalf("GetPlan: %v", err)
	}
	if got.Symbol != p.Symbol || got.Status != p.Status || got.Entry != p.Entry {
		t.Fatalf("round trip mismatch: %+v", got)
	}
	if len(got.Conditions) != 2 || got.Conditions[0].Proximity.Tolerance != 150 {
		t.Fatalf("conditions did not survive the round trip: %+v", got.Conditions)
	}
	if len(got.EntryLevels) != 2 {
		t.Fatalf("entry levels did not survive the round trip")
	}
}

func TestUpsertOverwritesStatus(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	p := storedPlan()

	if err := s.UpsertPlan(ctx, p); err != nil {
		t.Fatalf("UpsertPlan: %v", err)
	}
	p.Status = plan.StatusExecuted
	p.PositionID = "pos-7"
	if err := s.UpsertPlan(ctx, p); err != nil {
		t.Fatalf("UpsertPlan update: %v", err)
	}

	got, err := s.GetPlan(ctx, p.ID)
	if err != nil {
		t.Fatalf("GetPlan: %v", err)
	}
	if got.Status != plan.StatusExecuted || got.PositionID != "pos-7" {
		t.Fatalf("upsert should overwrite, got %+v", got)
	}
}

func TestGetPlanNotFound(t *testing.T) {
	s := testStore(t)
	if _, err := s.GetPlan(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestListByStatusFiltersAndOrders(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	first := storedPlan()
	first.ID = "plan-a"
	first.CreatedAt = time.Now().Add(-2 * time.Hour).UTC()

	second := storedPlan()
	second.ID = "plan-b"
	second.Status = plan.StatusOrderPlaced
	second.CreatedAt = time.Now().Add(-time.Hour).UTC()

	done := storedPlan()
	done.ID = "plan-c"
	done.Status = plan.StatusExecuted

	for _, p := range []*plan.Plan{first, second, done} {
		if err := s.UpsertPlan(ctx, p); err != nil {
			t.Fatalf("UpsertPlan %s: %v", p.ID, err)
		}
	}

	active, err := s.ListByStatus(ctx, plan.StatusPending, plan.StatusOrderPlaced)
	if err != nil {
		t.Fatalf("ListByStatus: %v", err)
	}
	if len(active) != 2 {
		t.Fatalf("expected 2 active plans, got %d", len(active))
	}
	if active[0].ID != "plan-a" || active[1].ID != "plan-b" {
		t.Fatalf("plans should come back in creation order: %s, %s", active[0].ID, active[1].ID)
	}
}

func TestInsertAndListEvents(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if err := s.InsertEvent(ctx, "plan-1", "created", "计划创建"); err != nil {
		t.Fatalf("InsertEvent: %v", err)
	}
	if err := s.InsertEvent(ctx, "plan-1", "executed", "市价成交"); err != nil {
		t.Fatalf("InsertEvent: %v", err)
	}

	events, err := s.ListEvents(ctx, "plan-1")
	if err != nil {
		t.Fatalf("ListEvents: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].Kind != "created" || events[1].Kind != "executed" {
		t.Fatalf("events should be ordered by insertion: %+v", events)
	}
}
