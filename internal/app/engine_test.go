package app

import (
	"context"
	"testing"
	"time"

	"plan-sentinel/internal/checker"
	"plan-sentinel/internal/config"
	"plan-sentinel/internal/order"
	"plan-sentinel/internal/plan"
	"plan-sentinel/internal/quote"
	"plan-sentinel/internal/review"
	"plan-sentinel/internal/schedule"
	"plan-sentinel/internal/signal"
	"plan-sentinel/internal/store"
	"plan-sentinel/internal/venue"
)

// quoteFeed 只提供行情，供 Simulated 场所透传。
type quoteFeed struct {
	venue.Venue
	price float64
}

func (f *quoteFeed) GetQuote(_ context.Context, symbol string) (venue.Quote, error) {
	return venue.Quote{Symbol: symbol, Bid: f.price - 1, Ask: f.price + 1}, nil
}

func (f *quoteFeed) FetchCandles(context.Context, string, string, int) ([]venue.Candle, error) {
	return nil, nil
}

func engineConfig() *config.Config {
	return &config.Config{
		Cache: config.CacheConfig{TTL: 100 * time.Millisecond, Capacity: 50, CleanupInterval: time.Minute},
		Fetch: config.FetchConfig{
			ChunkSize: 20, MaxAttempts: 1, BackoffBase: time.Millisecond,
			BreakerThreshold: 3, BreakerReset: time.Minute,
		},
		Scheduler: config.SchedulerConfig{
			Adaptive: false, TickInterval: time.Second,
			BaseInterval: time.Minute, MinInterval: 15 * time.Second,
			HighATR: 0.02, LowATR: 0.005,
		},
		Checker: config.CheckerConfig{
			Workers: 2, TaskTimeout: time.Second,
			BreakerThreshold: 3, BreakerReset: 5 * time.Minute,
			SignalTTL: 30 * time.Second,
		},
		Orders: config.OrdersConfig{ReconcileInterval: 30 * time.Second},
		Review: config.ReviewConfig{
			SweepInterval: 5 * time.Minute, CancelDistancePct: 5,
			MaxPlanAge: 72 * time.Hour, AgedDistancePct: 2.5,
			ReEvalDriftPct: 1.5, ReEvalMaxInterval: 4 * time.Hour,
			ReEvalCooldown: time.Hour, ReEvalDailyCap: 6,
		},
		Queue:    config.QueueConfig{Buffer: 64, BlockTimeout: 2 * time.Second},
		Watchdog: config.WatchdogConfig{CheckInterval: 10 * time.Millisecond, StallTimeout: 50 * time.Millisecond, MaxRestarts: 2},
	}
}

type engineFixture struct {
	engine     *Engine
	set        *plan.Set
	sim        *venue.Simulated
	reconciler *order.Reconciler
	store      *store.Store
	queue      *store.Queue
	feed       *quoteFeed
}

func newEngineFixture(t *testing.T, price float64) *engineFixture {
	t.Helper()
	cfg := engineConfig()

	st, err := store.NewSQLite(config.DatabaseConfig{InMemory: true, MaxOpenConns: 1, MaxIdleConns: 1})
	if err != nil {
		t.Fatalf("NewSQLite: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	feed := &quoteFeed{price: price}
	sim := venue.NewSimulated(feed, nil)

	set := plan.NewSet()
	queue := store.NewQueue(cfg.Queue, st, nil)
	t.Cleanup(queue.Close)

	cache := quote.NewCache(cfg.Cache.TTL, cfg.Cache.Capacity)
	fetcher := quote.NewFetcher(cfg.Fetch, sim, cache, nil)
	memo := signal.NewMemo(cfg.Checker.SignalTTL)
	analyzer := signal.NewAnalyzer(sim, memo, nil)
	scheduler := schedule.NewScheduler(cfg.Scheduler, nil, nil)
	pool := checker.NewPool(cfg.Checker, checker.NewEngine(analyzer, nil), nil)
	executor := order.NewExecutor(set, sim, queue, nil)
	reconciler := order.NewReconciler(set, sim, executor, nil)
	reviewer := review.NewReviewer(cfg.Review, nil)

	engine := NewEngine(cfg, set, fetcher, cache, scheduler, pool,
		executor, reconciler, reviewer, memo, queue, nil)

	return &engineFixture{
		engine:     engine,
		set:        set,
		sim:        sim,
		reconciler: reconciler,
		store:      st,
		queue:      queue,
		feed:       feed,
	}
}

func stopPlan() *plan.Plan {
	return &plan.Plan{
		ID:         "plan-stop",
		Symbol:     "BTC/USDT:USDT",
		Direction:  plan.DirectionLong,
		Entry:      91000,
		Size:       0.5,
		Tolerance:  200,
		OrderStyle: plan.OrderStyleStop,
		Status:     plan.StatusPending,
		CreatedAt:  time.Now(),
		Conditions: []plan.Condition{
			{Kind: plan.KindProximity, Proximity: &plan.ProximityParams{}},
		},
	}
}

func TestTickPlacesStopOrderWhenConditionsMet(t *testing.T) {
	// 当前价90900距入场价91000仅100，处于容差内。
	fx := newEngineFixture(t, 90900)
	p := stopPlan()
	if err := fx.set.Add(p); err != nil {
		t.Fatalf("Add: %v", err)
	}

	fx.engine.Tick(context.Background())

	got, ok := fx.set.Get(p.ID)
	if !ok {
		t.Fatalf("plan with a resting order must stay active")
	}
	if got.Status != plan.StatusOrderPlaced || got.OrderTicket == "" {
		t.Fatalf("expected pending_order_placed with a ticket, got %+v", got.Status)
	}

	orders, _ := fx.sim.ListOpenOrders(context.Background(), p.Symbol)
	if len(orders) != 1 {
		t.Fatalf("expected one resting order at the venue, got %d", len(orders))
	}
}

func TestReconcileAfterFillMarksExecuted(t *testing.T) {
	fx := newEngineFixture(t, 90900)
	p := stopPlan()
	if err := fx.set.Add(p); err != nil {
		t.Fatalf("Add: %v", err)
	}

	fx.engine.Tick(context.Background())
	placed, _ := fx.set.Get(p.ID)
	if placed.OrderTicket == "" {
		t.Fatalf("precondition: order should be placed")
	}

	// 场所侧成交后对账应将计划迁移到 executed。
	if _, err := fx.sim.FillPendingOrder(placed.OrderTicket); err != nil {
		t.Fatalf("FillPendingOrder: %v", err)
	}
	if moved := fx.reconciler.Sweep(context.Background()); moved != 1 {
		t.Fatalf("expected 1 reconciliation transition, got %d", moved)
	}

	if _, ok := fx.set.Get(p.ID); ok {
		t.Fatalf("executed plan must leave the active set")
	}

	// 等待异步落库后核对终态。
	deadline := time.Now().Add(2 * time.Second)
	for {
		stored, err := fx.store.GetPlan(context.Background(), p.ID)
		if err == nil && stored.Status == plan.StatusExecuted && stored.PositionID != "" {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("stored plan never reached executed: %+v err=%v", stored, err)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestTickSkipsPlanOutsideTolerance(t *testing.T) {
	// 当前价远离入场价，接近闸门不满足。
	fx := newEngineFixture(t, 80000)
	p := stopPlan()
	if err := fx.set.Add(p); err != nil {
		t.Fatalf("Add: %v", err)
	}

	fx.engine.Tick(context.Background())

	got, _ := fx.set.Get(p.ID)
	if got.Status != plan.StatusPending {
		t.Fatalf("far plan should stay pending, got %s", got.Status)
	}
	if got.LastCheckAt.IsZero() {
		t.Fatalf("evaluated plan should record its check time")
	}
}

func TestExpireSweepCancelsVenueOrder(t *testing.T) {
	fx := newEngineFixture(t, 90900)
	p := stopPlan()
	if err := fx.set.Add(p); err != nil {
		t.Fatalf("Add: %v", err)
	}

	fx.engine.Tick(context.Background())
	placed, _ := fx.set.Get(p.ID)

	// 计划到期：状态先迁移，场所挂单随补偿动作撤销。
	fx.set.Update(p.ID, func(cur *plan.Plan) {
		cur.ExpiresAt = time.Now().Add(-time.Minute)
	})
	fx.engine.expireSweep(context.Background())

	if _, ok := fx.set.Get(p.ID); ok {
		t.Fatalf("expired plan must leave the active set")
	}
	orders, _ := fx.sim.ListOpenOrders(context.Background(), p.Symbol)
	for _, o := range orders {
		if o.Ticket == placed.OrderTicket {
			t.Fatalf("expired plan's venue order should be cancelled")
		}
	}
}

func TestTickCachesArchetypeOnPlan(t *testing.T) {
	fx := newEngineFixture(t, 80000)
	p := stopPlan()
	if err := fx.set.Add(p); err != nil {
		t.Fatalf("Add: %v", err)
	}

	fx.engine.Tick(context.Background())

	got, _ := fx.set.Get(p.ID)
	if got.Archetype != string(schedule.ArchetypeIntraday) {
		t.Fatalf("first tick should write the archetype back, got %q", got.Archetype)
	}

	// 原型已缓存，后续备注变化不应触发重推。
	fx.set.Update(p.ID, func(cur *plan.Plan) {
		cur.Notes = "quick scalp off the open"
	})
	fx.engine.Tick(context.Background())

	got, _ = fx.set.Get(p.ID)
	if got.Archetype != string(schedule.ArchetypeIntraday) {
		t.Fatalf("cached archetype must not be re-derived, got %q", got.Archetype)
	}
}

func TestReviewSweepCancelsDistantPlan(t *testing.T) {
	// 偏离入场价约12%，超过5%阈值。
	fx := newEngineFixture(t, 80000)
	p := stopPlan()
	if err := fx.set.Add(p); err != nil {
		t.Fatalf("Add: %v", err)
	}

	fx.engine.reviewSweep(context.Background())

	if _, ok := fx.set.Get(p.ID); ok {
		t.Fatalf("plan far beyond the distance threshold should be cancelled")
	}
}
