package checker

import (
	"context"
	"runtime"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"plan-sentinel/internal/config"
	"plan-sentinel/internal/plan"
	"plan-sentinel/internal/quote"
)

// Evaluator 为单计划评估入口，由 Engine 实现。
type Evaluator interface {
	Evaluate(ctx context.Context, p *plan.Plan, currentPrice float64) (bool, error)
}

// Item 为一次批量检查的输入：计划及其当前价格。
type Item struct {
	Plan  *plan.Plan
	Price float64
}

// Pool 并行执行条件检查。单任务受超时约束，批次级异常累计
// 到全局熔断器；熔断器打开期间退化为串行逐个评估，绝不让
// 个别计划的故障拖垮整轮。
type Pool struct {
	cfg       config.CheckerConfig
	evaluator Evaluator
	breaker   *quote.Breaker
	logger    *zap.Logger
}

// NewPool 创建并行检查执行器。
func NewPool(cfg config.CheckerConfig, evaluator Evaluator, logger *zap.Logger) *Pool {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pool{
		cfg:       cfg,
		evaluator: evaluator,
		breaker:   quote.NewBreaker(cfg.BreakerThreshold, cfg.BreakerReset),
		logger:    logger,
	}
}

// BreakerState 返回全局熔断器状态快照。
func (p *Pool) BreakerState() quote.BreakerState {
	return p.breaker.State()
}

// Run 对一批计划执行条件评估，返回 计划ID→是否满足。超时与
// 异常的计划按不满足处理，本方法自身从不失败。
func (p *Pool) Run(ctx context.Context, items []Item) map[string]bool {
	results := make(map[string]bool, len(items))
	if len(items) == 0 {
		return results
	}

	if !p.breaker.Allow() {
		p.logger.Warn("检查执行器熔断中，退化为串行评估", zap.Int("plans", len(items)))
		return p.runSequential(ctx, items)
	}

	workers := p.cfg.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	var mu sync.Mutex
	var failures int

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for _, item := range items {
		item := item
		g.Go(func() error {
			met, failed := p.runOne(gctx, item)

			mu.Lock()
			results[item.Plan.ID] = met
			if failed {
				failures++
			}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	if failures > 0 {
		p.breaker.RecordFailure()
		p.logger.Warn("本批次存在检查异常",
			zap.Int("failures", failures),
			zap.Int("plans", len(items)),
		)
	} else {
		p.breaker.RecordSuccess()
	}

	return results
}

// runSequential 熔断期间的降级路径：逐个评估，不累计熔断计数。
func (p *Pool) runSequential(ctx context.Context, items []Item) map[string]bool {
	results := make(map[string]bool, len(items))
	for _, item := range items {
		if ctx.Err() != nil {
			break
		}
		met, _ := p.runOne(ctx, item)
		results[item.Plan.ID] = met
	}
	return results
}

// runOne 在任务超时内评估单个计划。返回是否满足、是否异常。
func (p *Pool) runOne(ctx context.Context, item Item) (met bool, failed bool) {
	timeout := p.cfg.TaskTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	taskCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("条件评估发生panic",
				zap.String("plan_id", item.Plan.ID),
				zap.Any("panic", r),
			)
			met, failed = false, true
		}
	}()

	met, err := p.evaluator.Evaluate(taskCtx, item.Plan, item.Price)
	if err != nil {
		p.logger.Warn("条件评估异常",
			zap.String("plan_id", item.Plan.ID),
			zap.String("symbol", item.Plan.Symbol),
			zap.Error(err),
		)
		return false, true
	}
	if taskCtx.Err() == context.DeadlineExceeded {
		p.logger.Warn("条件评估超时",
			zap.String("plan_id", item.Plan.ID),
			zap.String("symbol", item.Plan.Symbol),
			zap.Duration("timeout", timeout),
		)
		return false, true
	}
	return met, false
}
