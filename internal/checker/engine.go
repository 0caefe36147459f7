package checker

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"plan-sentinel/internal/plan"
)

// Signals 抽象条件评估所需的信号查询，便于测试替换。
type Signals interface {
	BandRetouch(ctx context.Context, symbol string, p plan.BandRetouchParams, dir plan.Direction) (bool, error)
	Extremity(ctx context.Context, symbol string, p plan.ExtremityParams, dir plan.Direction) (bool, error)
	RangeStretch(ctx context.Context, symbol string, p plan.RangeStretchParams) (bool, error)
	Pattern(ctx context.Context, symbol string, p plan.PatternParams, dir plan.Direction) (bool, error)
	Correlation(ctx context.Context, symbol string, p plan.CorrelationParams) (float64, error)
	OrderFlow(ctx context.Context, symbol, metric string) (float64, error)
	Confluence(ctx context.Context, symbol string, dir plan.Direction) (float64, error)
}

// Engine 评估计划的条件集：按成本从廉到贵排序、短路求值，
// 全部条件为真才算满足，空条件集不满足。信号不可用时除显式
// 标记放行的辅助确认外一律视为不满足。
type Engine struct {
	signals Signals
	logger  *zap.Logger

	now func() time.Time
}

// NewEngine 创建评估引擎。
func NewEngine(signals Signals, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		signals: signals,
		logger:  logger,
		now:     time.Now,
	}
}

// Evaluate 判断计划条件是否全部满足。返回错误仅代表评估
// 机制本身异常（计入全局熔断），信号不可用不属于错误。
func (e *Engine) Evaluate(ctx context.Context, p *plan.Plan, currentPrice float64) (bool, error) {
	if len(p.Conditions) == 0 {
		return false, nil
	}

	conditions := make([]plan.Condition, len(p.Conditions))
	copy(conditions, p.Conditions)
	sort.SliceStable(conditions, func(i, j int) bool {
		return conditions[i].CostGroup() < conditions[j].CostGroup()
	})

	for _, cond := range conditions {
		met, err := e.evalOne(ctx, p, cond, currentPrice)
		if err != nil {
			return false, err
		}
		if !met {
			return false, nil
		}
	}

	return true, nil
}

func (e *Engine) evalOne(ctx context.Context, p *plan.Plan, cond plan.Condition, currentPrice float64) (bool, error) {
	switch cond.Kind {
	case plan.KindProximity:
		tol := cond.Proximity.Tolerance
		if tol <= 0 {
			tol = p.Tolerance
		}
		if tol <= 0 {
			return false, nil
		}
		return p.DistanceToEntry(currentPrice) <= tol, nil

	case plan.KindSession:
		return inSession(e.now().UTC().Hour(), cond.Session.OpenHour, cond.Session.CloseHour), nil

	case plan.KindBandRetouch:
		met, err := e.signals.BandRetouch(ctx, p.Symbol, *cond.BandRetouch, p.Direction)
		return e.resolve(p, cond, met, err)

	case plan.KindExtremity:
		met, err := e.signals.Extremity(ctx, p.Symbol, *cond.Extremity, p.Direction)
		return e.resolve(p, cond, met, err)

	case plan.KindRangeStretch:
		met, err := e.signals.RangeStretch(ctx, p.Symbol, *cond.RangeStretch)
		return e.resolve(p, cond, met, err)

	case plan.KindPattern:
		met, err := e.signals.Pattern(ctx, p.Symbol, *cond.Pattern, p.Direction)
		return e.resolve(p, cond, met, err)

	case plan.KindCorrelation:
		v, err := e.signals.Correlation(ctx, p.Symbol, *cond.Correlation)
		if err != nil {
			return e.resolve(p, cond, false, err)
		}
		return v >= cond.Correlation.MinCorrelation, nil

	case plan.KindOrderFlow:
		v, err := e.signals.OrderFlow(ctx, p.Symbol, cond.OrderFlow.Metric)
		if err != nil {
			return e.resolve(p, cond, false, err)
		}
		return orderFlowMet(cond.OrderFlow.Metric, v, cond.OrderFlow.MinValue, p.Direction), nil

	case plan.KindConfluence:
		score, err := e.signals.Confluence(ctx, p.Symbol, p.Direction)
		if err != nil {
			return e.resolve(p, cond, false, err)
		}
		return score >= cond.Confluence.MinScore, nil

	default:
		return false, fmt.Errorf("checker: 未知条件类型 %q", cond.Kind)
	}
}

// resolve 统一处理信号错误：显式放行的辅助确认失败开放，
// 其余失败关闭。
func (e *Engine) resolve(p *plan.Plan, cond plan.Condition, met bool, err error) (bool, error) {
	if err == nil {
		return met, nil
	}
	if cond.FailOpen() {
		e.logger.Debug("辅助确认信号不可用，放行",
			zap.String("plan_id", p.ID),
			zap.String("kind", string(cond.Kind)),
			zap.Error(err),
		)
		return true, nil
	}
	e.logger.Debug("信号不可用，条件视为不满足",
		zap.String("plan_id", p.ID),
		zap.String("kind", string(cond.Kind)),
		zap.Error(err),
	)
	return false, nil
}

func inSession(hour, open, close int) bool {
	if open == close {
		return true
	}
	if open < close {
		return hour >= open && hour < close
	}
	// 跨日窗口，如 22 → 6。
	return hour >= open || hour < close
}

func orderFlowMet(metric string, value, min float64, dir plan.Direction) bool {
	switch metric {
	case "delta":
		if dir == plan.DirectionShort {
			return value <= -min
		}
		return value >= min
	case "imbalance":
		if dir == plan.DirectionShort {
			return 1-value >= min
		}
		return value >= min
	default:
		return false
	}
}
