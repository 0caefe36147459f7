package app

import (
	"context"
	"sort"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"plan-sentinel/internal/checker"
	"plan-sentinel/internal/config"
	"plan-sentinel/internal/metrics"
	"plan-sentinel/internal/order"
	"plan-sentinel/internal/plan"
	"plan-sentinel/internal/quote"
	"plan-sentinel/internal/review"
	"plan-sentinel/internal/schedule"
	"plan-sentinel/internal/signal"
	"plan-sentinel/internal/store"
)

// Engine 为监控主循环：拉取报价、调度条件评估、触发执行，
// 并驱动对账、撤销巡检、过期清理等慢节奏任务。
type Engine struct {
	cfg        *config.Config
	set        *plan.Set
	fetcher    *quote.Fetcher
	cache      *quote.Cache
	scheduler  *schedule.Scheduler
	pool       *checker.Pool
	executor   *order.Executor
	reconciler *order.Reconciler
	reviewer   *review.Reviewer
	memo       *signal.Memo
	queue      *store.Queue
	logger     *zap.Logger

	heartbeat atomic.Int64
	running   atomic.Bool

	// 健康接口上报的累计成功率计数。
	evalTotal  atomic.Int64
	evalMet    atomic.Int64
	execTotal  atomic.Int64
	execFailed atomic.Int64
}

// NewEngine 组装主循环。
func NewEngine(
	cfg *config.Config,
	set *plan.Set,
	fetcher *quote.Fetcher,
	cache *quote.Cache,
	scheduler *schedule.Scheduler,
	pool *checker.Pool,
	executor *order.Executor,
	reconciler *order.Reconciler,
	reviewer *review.Reviewer,
	memo *signal.Memo,
	queue *store.Queue,
	logger *zap.Logger,
) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		cfg:        cfg,
		set:        set,
		fetcher:    fetcher,
		cache:      cache,
		scheduler:  scheduler,
		pool:       pool,
		executor:   executor,
		reconciler: reconciler,
		reviewer:   reviewer,
		memo:       memo,
		queue:      queue,
		logger:     logger,
	}
}

// Running 返回主循环是否在运行。
func (e *Engine) Running() bool {
	return e.running.Load()
}

// Heartbeat 返回最近一轮完成的时间，供看门狗判活。
func (e *Engine) Heartbeat() time.Time {
	nano := e.heartbeat.Load()
	if nano == 0 {
		return time.Time{}
	}
	return time.Unix(0, nano)
}

// EvaluationMetRate 返回累计条件评估中满足的占比。
func (e *Engine) EvaluationMetRate() float64 {
	total := e.evalTotal.Load()
	if total == 0 {
		return 0
	}
	return float64(e.evalMet.Load()) / float64(total)
}

// ExecutionSuccessRate 返回累计执行成功率，尚未执行过时为1。
func (e *Engine) ExecutionSuccessRate() float64 {
	total := e.execTotal.Load()
	if total == 0 {
		return 1
	}
	return float64(total-e.execFailed.Load()) / float64(total)
}

// Run 阻塞运行主循环直到ctx取消。启动即完成一次心跳，
// 之后每轮评估结束刷新一次。
func (e *Engine) Run(ctx context.Context) error {
	e.running.Store(true)
	defer e.running.Store(false)

	e.heartbeat.Store(time.Now().UnixNano())
	e.logger.Info("监控主循环启动",
		zap.Int("plans", e.set.Len()),
		zap.Duration("tick", e.cfg.Scheduler.TickInterval),
	)

	tick := time.NewTicker(e.cfg.Scheduler.TickInterval)
	reconcile := time.NewTicker(e.cfg.Orders.ReconcileInterval)
	sweep := time.NewTicker(e.cfg.Review.SweepInterval)
	cleanup := time.NewTicker(e.cfg.Cache.CleanupInterval)
	defer tick.Stop()
	defer reconcile.Stop()
	defer sweep.Stop()
	defer cleanup.Stop()

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("监控主循环退出")
			return ctx.Err()
		case <-tick.C:
			e.Tick(ctx)
		case <-reconcile.C:
			if moved := e.reconciler.Sweep(ctx); moved > 0 {
				e.logger.Info("对账完成", zap.Int("moved", moved))
			}
			e.heartbeat.Store(time.Now().UnixNano())
		case <-sweep.C:
			e.reviewSweep(ctx)
		case <-cleanup.C:
			removed := e.cache.Sweep(e.set.References)
			purged := e.memo.Purge()
			if removed > 0 || purged > 0 {
				e.logger.Debug("缓存清理完成",
					zap.Int("quotes", removed),
					zap.Int("signals", purged),
				)
			}
		}
	}
}

// Tick 执行一轮监控：过期清理、批量报价、调度筛选、并行评估、
// 触发执行。
func (e *Engine) Tick(ctx context.Context) {
	started := time.Now()
	defer func() {
		e.heartbeat.Store(time.Now().UnixNano())
		metrics.TicksTotal.Inc()
		metrics.TickDuration.Observe(time.Since(started).Seconds())
		metrics.ActivePlans.Set(float64(e.set.Len()))
		e.exportBreakers()
	}()

	e.expireSweep(ctx)

	plans := e.set.Snapshot()
	if len(plans) == 0 {
		return
	}

	prices := e.fetcher.Fetch(ctx, e.set.Symbols())
	metrics.QuoteCacheHitRate.Set(e.cache.HitRate())

	items := e.selectDue(ctx, plans, prices)
	if len(items) == 0 {
		return
	}

	results := e.pool.Run(ctx, items)

	now := time.Now()
	for _, item := range items {
		met := results[item.Plan.ID]
		e.set.MarkChecked(item.Plan.ID, now)
		e.evalTotal.Add(1)
		if !met {
			metrics.EvaluationsTotal.WithLabelValues("not_met").Inc()
			continue
		}
		e.evalMet.Add(1)
		metrics.EvaluationsTotal.WithLabelValues("met").Inc()

		var refreshed *plan.Plan
		e.set.Update(item.Plan.ID, func(cur *plan.Plan) {
			cur.MarkActivity(now)
			refreshed = cur.Clone()
		})
		if refreshed != nil {
			e.queue.SavePlanRoutine(refreshed)
		}

		e.execTotal.Add(1)
		if err := e.executor.Execute(ctx, item.Plan.ID, item.Price); err != nil {
			e.execFailed.Add(1)
			metrics.ExecutionsTotal.WithLabelValues("failed").Inc()
			continue
		}
		if item.Plan.OrderStyle == plan.OrderStyleMarket {
			metrics.ExecutionsTotal.WithLabelValues("market").Inc()
		} else {
			metrics.ExecutionsTotal.WithLabelValues("pending_order").Inc()
		}
	}
}

// selectDue 按调度器筛出本轮需要评估的待执行计划，并按优先级排序。
func (e *Engine) selectDue(ctx context.Context, plans []*plan.Plan, prices map[string]float64) []checker.Item {
	type due struct {
		item     checker.Item
		priority schedule.Priority
	}
	var dues []due

	for _, p := range plans {
		if p.Status != plan.StatusPending {
			continue
		}
		price, ok := prices[p.Symbol]
		if !ok || price <= 0 {
			continue
		}

		// 首次分类后把原型回写到计划上，后续轮次直接复用。
		if p.Archetype == "" {
			archetype := string(schedule.Classify(p))
			p.Archetype = archetype
			e.set.Update(p.ID, func(cur *plan.Plan) {
				cur.Archetype = archetype
			})
		}

		e.set.Update(p.ID, func(cur *plan.Plan) {
			cur.TrackZone(price, time.Now())
		})

		if e.scheduler.ShouldSkip(ctx, p, price) {
			continue
		}
		dues = append(dues, due{
			item:     checker.Item{Plan: p, Price: price},
			priority: e.scheduler.Priority(p, price),
		})
	}

	sort.SliceStable(dues, func(i, j int) bool { return dues[i].priority < dues[j].priority })

	items := make([]checker.Item, len(dues))
	for i, d := range dues {
		items[i] = d.item
	}
	return items
}

// expireSweep 将到期计划迁移到 expired。
func (e *Engine) expireSweep(ctx context.Context) {
	now := time.Now()
	for _, p := range e.set.Snapshot() {
		if p.Expired(now) {
			e.executor.Cancel(ctx, p.ID, plan.StatusExpired, "计划已到期")
			metrics.CancellationsTotal.WithLabelValues("expired").Inc()
		}
	}
}

// reviewSweep 执行撤销巡检与重评估限流判断。
func (e *Engine) reviewSweep(ctx context.Context) {
	plans := e.set.Snapshot()
	if len(plans) == 0 {
		e.heartbeat.Store(time.Now().UnixNano())
		return
	}

	prices := e.fetcher.Fetch(ctx, e.set.Symbols())
	now := time.Now()

	for _, p := range plans {
		if p.Status != plan.StatusPending {
			continue
		}
		price, ok := prices[p.Symbol]
		if !ok || price <= 0 {
			continue
		}

		verdict := e.reviewer.CancellationCheck(p, price)
		e.set.Update(p.ID, func(cur *plan.Plan) {
			cur.LastCancelCheckAt = now.UTC()
		})
		if verdict.Cancel {
			e.logger.Info("撤销巡检命中",
				zap.String("plan_id", p.ID),
				zap.String("symbol", p.Symbol),
				zap.String("reason", verdict.Reason),
				zap.Int("priority", int(verdict.Priority)),
			)
			e.executor.Cancel(ctx, p.ID, plan.StatusCancelled, verdict.Reason)
			metrics.CancellationsTotal.WithLabelValues("distance").Inc()
			continue
		}

		if ok, reason := e.reviewer.ShouldReEvaluate(p, price); ok {
			var refreshed *plan.Plan
			e.set.Update(p.ID, func(cur *plan.Plan) {
				e.reviewer.MarkReEvaluated(cur, price)
				refreshed = cur.Clone()
			})
			if refreshed != nil {
				e.logger.Info("计划重评估",
					zap.String("plan_id", p.ID),
					zap.String("symbol", p.Symbol),
					zap.String("trigger", reason),
					zap.Int("count_today", refreshed.ReEvalCount),
				)
				e.queue.SavePlanRoutine(refreshed)
				e.queue.SaveEvent(p.ID, "reevaluated", reason)
			}
		}
	}

	e.heartbeat.Store(time.Now().UnixNano())
}

func (e *Engine) exportBreakers() {
	checkerState := e.pool.BreakerState()
	if checkerState.Open {
		metrics.BreakerOpen.WithLabelValues("checker").Set(1)
	} else {
		metrics.BreakerOpen.WithLabelValues("checker").Set(0)
	}

	openSymbols := 0
	for _, st := range e.fetcher.Breakers().States() {
		if st.Open {
			openSymbols++
		}
	}
	metrics.BreakerOpen.WithLabelValues("quotes").Set(float64(openSymbols))
}
