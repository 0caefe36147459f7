package schedule

import (
	"context"
	"time"

	"go.uber.org/zap"

	"plan-sentinel/internal/config"
	"plan-sentinel/internal/plan"
)

// Priority 为检查优先级，数值越小越优先。
type Priority int

const (
	PriorityHigh   Priority = 1
	PriorityMedium Priority = 2
	PriorityLow    Priority = 3
)

const (
	recentActivityWindow = 5 * time.Minute
	staleActivityWindow  = time.Hour
	mediumMinAge         = 10 * time.Minute
)

// VolatilityProvider 提供相对ATR查询，供波动分档。
type VolatilityProvider interface {
	ATRRatio(ctx context.Context, symbol string) (float64, error)
}

// Scheduler 按价格距离、近期活动与波动为每个计划计算下次
// 检查间隔与优先级，用于消抖冗余评估。挂单对账与撤销巡检
// 不受调度器影响。
type Scheduler struct {
	cfg        config.SchedulerConfig
	volatility VolatilityProvider
	logger     *zap.Logger

	now func() time.Time
}

// NewScheduler 创建调度器。volatility 可为 nil，此时不做波动调整。
func NewScheduler(cfg config.SchedulerConfig, volatility VolatilityProvider, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		cfg:        cfg,
		volatility: volatility,
		logger:     logger,
		now:        time.Now,
	}
}

// Priority 返回计划的检查优先级：
// 1 — 价格距入场价1%以内且最近5分钟有条件满足事件；
// 2 — 价格距入场价2%以内、计划已超过最短年龄，
//     包括1%以内但缺少近期活动的计划；
// 3 — 其余。
func (s *Scheduler) Priority(p *plan.Plan, currentPrice float64) Priority {
	now := s.now()
	distPct := p.DistancePct(currentPrice)

	if distPct <= 1 && p.ActiveRecently(now, recentActivityWindow) {
		return PriorityHigh
	}
	if distPct <= 2 && now.Sub(p.CreatedAt) >= mediumMinAge {
		return PriorityMedium
	}
	return PriorityLow
}

// NextInterval 计算计划的下次检查间隔。任何内部异常都回退
// 到基础间隔，绝不向调用方抛出。
func (s *Scheduler) NextInterval(ctx context.Context, p *plan.Plan, currentPrice float64) (interval time.Duration) {
	base := s.cfg.BaseInterval
	if base <= 0 {
		base = time.Minute
	}

	defer func() {
		if r := recover(); r != nil {
			s.logger.Warn("计算检查间隔异常，回退基础间隔",
				zap.String("plan_id", p.ID),
				zap.Any("panic", r),
			)
			interval = base
		}
	}()

	if !s.cfg.Adaptive || p.Tolerance <= 0 {
		return base
	}

	archetype := Classify(p)
	prof := archetype.profile()

	d := p.DistanceToEntry(currentPrice)
	tol := p.Tolerance

	switch {
	case d <= tol:
		interval = prof.close
	case d <= 2*tol:
		interval = prof.base
	default:
		interval = prof.far
	}

	// 近期活动与长期沉寂按时间分桶互斥。
	now := s.now()
	switch {
	case p.ActiveRecently(now, recentActivityWindow):
		interval = time.Duration(float64(interval) * 0.8)
	case p.LastActivityAt != nil && now.Sub(*p.LastActivityAt) > staleActivityWindow:
		interval = time.Duration(float64(interval) * 1.5)
	}

	if s.volatility != nil {
		if atr, err := s.volatility.ATRRatio(ctx, p.Symbol); err == nil {
			switch {
			case atr >= s.cfg.HighATR:
				interval = time.Duration(float64(interval) * 0.85)
			case atr <= s.cfg.LowATR:
				interval = time.Duration(float64(interval) * 1.2)
			}
		}
	}

	if floor := s.cfg.MinInterval; floor > 0 && interval < floor {
		interval = floor
	}

	return interval
}

// ShouldSkip 判断本轮是否跳过该计划的条件评估。
// 仅用于消抖，不影响挂单对账与撤销巡检。
func (s *Scheduler) ShouldSkip(ctx context.Context, p *plan.Plan, currentPrice float64) bool {
	if p.LastCheckAt.IsZero() {
		return false
	}
	return s.now().Sub(p.LastCheckAt) < s.NextInterval(ctx, p, currentPrice)
}
