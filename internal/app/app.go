package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

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

// App 负责组装全部组件并管理其生命周期。
type App struct {
	cfg     *config.Config
	logger  *zap.Logger
	store   *store.Store
	queue   *store.Queue
	set     *plan.Set
	venue   venue.Venue
	engine  *Engine
	monitor *Monitor
	dog     *Watchdog
}

// New 按配置组装应用。
func New(cfg *config.Config, st *store.Store, logger *zap.Logger) (*App, error) {
	client, err := venue.NewClient(cfg.Venue, logger)
	if err != nil {
		return nil, fmt.Errorf("app: 初始化场所客户端失败: %w", err)
	}

	var v venue.Venue = client
	if cfg.Venue.Simulation {
		logger.Info("仿真模式：订单在本地撮合，行情走真实场所")
		v = venue.NewSimulated(client, logger)
	}

	set := plan.NewSet()
	queue := store.NewQueue(cfg.Queue, st, logger)

	cache := quote.NewCache(cfg.Cache.TTL, cfg.Cache.Capacity)
	fetcher := quote.NewFetcher(cfg.Fetch, v, cache, logger)

	memo := signal.NewMemo(cfg.Checker.SignalTTL)
	analyzer := signal.NewAnalyzer(v, memo, logger)

	scheduler := schedule.NewScheduler(cfg.Scheduler, analyzer, logger)
	engine := checker.NewEngine(analyzer, logger)
	pool := checker.NewPool(cfg.Checker, engine, logger)

	executor := order.NewExecutor(set, v, queue, logger)
	reconciler := order.NewReconciler(set, v, executor, logger)
	reviewer := review.NewReviewer(cfg.Review, logger)

	loop := NewEngine(cfg, set, fetcher, cache, scheduler, pool,
		executor, reconciler, reviewer, memo, queue, logger)

	a := &App{
		cfg:    cfg,
		logger: logger,
		store:  st,
		queue:  queue,
		set:    set,
		venue:  v,
		engine: loop,
		dog:    NewWatchdog(cfg.Watchdog, logger),
	}
	if cfg.Monitor.Enabled {
		a.monitor = NewMonitor(cfg.Monitor, loop, logger)
	}
	return a, nil
}

// Venue 返回当前执行场所，仿真模式下为本地撮合包装。
func (a *App) Venue() venue.Venue {
	return a.venue
}

// AddPlan 校验计划、加入活跃集合并同步落库。
func (a *App) AddPlan(p *plan.Plan) error {
	if err := p.Validate(); err != nil {
		return err
	}
	if err := a.set.Add(p); err != nil {
		return err
	}
	if err := a.queue.SavePlanWait(p); err != nil {
		a.set.Remove(p.ID)
		return err
	}
	a.queue.SaveEvent(p.ID, "created", fmt.Sprintf("计划创建 %s %s @%.8g", p.Symbol, p.Direction, p.Entry))
	a.logger.Info("计划已登记",
		zap.String("plan_id", p.ID),
		zap.String("symbol", p.Symbol),
		zap.String("direction", string(p.Direction)),
	)
	return nil
}

// Run 恢复活跃计划、启动监控服务并运行被看门狗监督的主循环，
// 直到ctx取消或重启次数耗尽。
func (a *App) Run(ctx context.Context) error {
	if err := a.recover(ctx); err != nil {
		return err
	}

	if a.monitor != nil {
		a.monitor.Start()
	}

	err := a.dog.Supervise(ctx, a.engine.Run, a.engine.Heartbeat)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if a.monitor != nil {
		if serr := a.monitor.Shutdown(shutdownCtx); serr != nil {
			a.logger.Warn("监控服务关闭失败", zap.Error(serr))
		}
	}
	a.queue.Close()

	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// recover 重启后从存储加载未了结的计划。
func (a *App) recover(ctx context.Context) error {
	plans, err := a.store.ListByStatus(ctx, plan.StatusPending, plan.StatusOrderPlaced)
	if err != nil {
		return fmt.Errorf("app: 恢复活跃计划失败: %w", err)
	}
	for _, p := range plans {
		if err := a.set.Add(p); err != nil {
			a.logger.Warn("恢复计划失败", zap.String("plan_id", p.ID), zap.Error(err))
		}
	}
	if len(plans) > 0 {
		a.logger.Info("已从存储恢复活跃计划", zap.Int("count", len(plans)))
	}
	return nil
}
