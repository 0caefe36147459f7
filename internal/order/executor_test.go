package order

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"plan-sentinel/internal/plan"
	"plan-sentinel/internal/venue"
)

type fakeVenue struct {
	mu sync.Mutex

	marketCalls  int
	pendingCalls int
	cancelCalls  []string
	submitErr    error
	cancelErr    error

	orders    []venue.Order
	positions []venue.Position
	listErr   error
}

func (f *fakeVenue) GetQuote(context.Context, string) (venue.Quote, error) {
	return venue.Quote{}, errors.New("not used")
}

func (f *fakeVenue) FetchCandles(context.Context, string, string, int) ([]venue.Candle, error) {
	return nil, errors.New("not used")
}

func (f *fakeVenue) SubmitMarketOrder(_ context.Context, req venue.OrderRequest) (venue.Ticket, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.marketCalls++
	if f.submitErr != nil {
		return venue.Ticket{}, f.submitErr
	}
	return venue.Ticket{ID: "mkt-1", PositionID: "pos-1"}, nil
}

func (f *fakeVenue) SubmitPendingOrder(_ context.Context, req venue.OrderRequest) (venue.Ticket, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pendingCalls++
	if f.submitErr != nil {
		return venue.Ticket{}, f.submitErr
	}
	return venue.Ticket{ID: "ord-1"}, nil
}

func (f *fakeVenue) ListOpenOrders(context.Context, string) ([]venue.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.orders, f.listErr
}

func (f *fakeVenue) ListOpenPositions(context.Context, string) ([]venue.Position, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.positions, f.listErr
}

func (f *fakeVenue) CancelOrder(_ context.Context, ticket, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelCalls = append(f.cancelCalls, ticket)
	return f.cancelErr
}

type memPersister struct {
	mu     sync.Mutex
	plans  []*plan.Plan
	events []string
}

func (m *memPersister) SavePlan(p *plan.Plan) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.plans = append(m.plans, p)
}

func (m *memPersister) SaveEvent(planID, kind, detail string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, planID+":"+kind)
}

func (m *memPersister) lastStatus() plan.Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.plans) == 0 {
		return ""
	}
	return m.plans[len(m.plans)-1].Status
}

func pendingPlan(style plan.OrderStyle) *plan.Plan {
	return &plan.Plan{
		ID:         "plan-1",
		Symbol:     "BTC/USDT:USDT",
		Direction:  plan.DirectionLong,
		Entry:      91000,
		Size:       0.5,
		Stop:       88000,
		Target:     95000,
		Tolerance:  100,
		OrderStyle: style,
		Status:     plan.StatusPending,
		CreatedAt:  time.Now(),
	}
}

func TestExecuteMarketTransitionsToExecuted(t *testing.T) {
	set := plan.NewSet()
	fv := &fakeVenue{}
	persist := &memPersister{}
	exec := NewExecutor(set, fv, persist, nil)

	p := pendingPlan(plan.OrderStyleMarket)
	if err := set.Add(p); err != nil {
		t.Fatalf("Add: %v", err)
	}

	if err := exec.Execute(context.Background(), p.ID, 90950); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if fv.marketCalls != 1 {
		t.Fatalf("expected one market order, got %d", fv.marketCalls)
	}
	if _, ok := set.Get(p.ID); ok {
		t.Fatalf("executed plan must leave the active set")
	}
	if got := persist.lastStatus(); got != plan.StatusExecuted {
		t.Fatalf("persisted status should be executed, got %s", got)
	}
}

func TestExecuteStopStylePlacesPendingOrder(t *testing.T) {
	set := plan.NewSet()
	fv := &fakeVenue{}
	persist := &memPersister{}
	exec := NewExecutor(set, fv, persist, nil)

	p := pendingPlan(plan.OrderStyleStop)
	if err := set.Add(p); err != nil {
		t.Fatalf("Add: %v", err)
	}

	// buy-stop 合法：入场价高于当前价。
	if err := exec.Execute(context.Background(), p.ID, 90000); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if fv.pendingCalls != 1 {
		t.Fatalf("expected one pending order, got %d", fv.pendingCalls)
	}
	got, ok := set.Get(p.ID)
	if !ok {
		t.Fatalf("plan with a resting order must stay in the active set")
	}
	if got.Status != plan.StatusOrderPlaced {
		t.Fatalf("status should be pending_order_placed, got %s", got.Status)
	}
	if got.OrderTicket != "ord-1" {
		t.Fatalf("plan should carry the venue ticket, got %q", got.OrderTicket)
	}
}

func TestExecuteRejectsInvalidGeometry(t *testing.T) {
	set := plan.NewSet()
	fv := &fakeVenue{}
	exec := NewExecutor(set, fv, &memPersister{}, nil)

	// buy-stop 但入场价低于当前价。
	p := pendingPlan(plan.OrderStyleStop)
	if err := set.Add(p); err != nil {
		t.Fatalf("Add: %v", err)
	}

	if err := exec.Execute(context.Background(), p.ID, 92000); err == nil {
		t.Fatalf("expected geometry rejection")
	}
	if fv.pendingCalls != 0 {
		t.Fatalf("invalid order must never reach the venue")
	}
	got, _ := set.Get(p.ID)
	if got.Status != plan.StatusPending {
		t.Fatalf("rejected plan should remain pending, got %s", got.Status)
	}
}

func TestExecuteLockPreventsDoubleSubmission(t *testing.T) {
	set := plan.NewSet()
	fv := &fakeVenue{}
	exec := NewExecutor(set, fv, &memPersister{}, nil)

	p := pendingPlan(plan.OrderStyleMarket)
	if err := set.Add(p); err != nil {
		t.Fatalf("Add: %v", err)
	}

	if !set.TryLockExecution(p.ID) {
		t.Fatalf("lock should be free")
	}
	// 锁被占用期间执行必须直接放弃。
	if err := exec.Execute(context.Background(), p.ID, 90000); err != nil {
		t.Fatalf("Execute under held lock should be a no-op, got %v", err)
	}
	if fv.marketCalls != 0 {
		t.Fatalf("no order may be submitted while another execution is in flight")
	}
	set.UnlockExecution(p.ID)
}

func TestCancelTransitionSurvivesVenueFailure(t *testing.T) {
	set := plan.NewSet()
	fv := &fakeVenue{cancelErr: errors.New("venue offline")}
	persist := &memPersister{}
	exec := NewExecutor(set, fv, persist, nil)

	p := pendingPlan(plan.OrderStyleStop)
	p.Status = plan.StatusOrderPlaced
	p.OrderTicket = "ord-9"
	if err := set.Add(p); err != nil {
		t.Fatalf("Add: %v", err)
	}

	exec.Cancel(context.Background(), p.ID, plan.StatusCancelled, "价格长期偏离")

	if _, ok := set.Get(p.ID); ok {
		t.Fatalf("cancelled plan must leave the active set even if the venue call fails")
	}
	if got := persist.lastStatus(); got != plan.StatusCancelled {
		t.Fatalf("persisted status should be cancelled, got %s", got)
	}
	if len(fv.cancelCalls) != 1 || fv.cancelCalls[0] != "ord-9" {
		t.Fatalf("compensating cancel should still be attempted, calls=%v", fv.cancelCalls)
	}
}
