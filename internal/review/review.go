package review

import (
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"plan-sentinel/internal/config"
	"plan-sentinel/internal/plan"
	"plan-sentinel/internal/schedule"
)

// Verdict 为一次撤销巡检的结论。
type Verdict struct {
	Cancel   bool
	Reason   string
	Priority schedule.Priority
}

// Reviewer 负责两类周期性裁决：价格远离或老化计划的撤销建议，
// 以及计划重评估的触发与限流。
type Reviewer struct {
	cfg    config.ReviewConfig
	logger *zap.Logger

	now func() time.Time
}

// NewReviewer 创建巡检器。
func NewReviewer(cfg config.ReviewConfig, logger *zap.Logger) *Reviewer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reviewer{
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
	}
}

// CancellationCheck 判断计划是否应被撤销：
// 距离规则——当前价偏离入场价超过品种阈值，中优先级；
// 老化规则——计划超龄且仍偏离，低优先级。单纯超龄不撤销。
func (r *Reviewer) CancellationCheck(p *plan.Plan, currentPrice float64) Verdict {
	if currentPrice <= 0 {
		return Verdict{}
	}

	distPct := p.DistancePct(currentPrice)
	limit := r.distanceLimit(p.Symbol)

	if limit > 0 && distPct > limit {
		return Verdict{
			Cancel:   true,
			Reason:   fmt.Sprintf("价格偏离入场价 %.2f%%，超出阈值 %.2f%%", distPct, limit),
			Priority: schedule.PriorityMedium,
		}
	}

	age := r.now().Sub(p.CreatedAt)
	if r.cfg.MaxPlanAge > 0 && age > r.cfg.MaxPlanAge &&
		r.cfg.AgedDistancePct > 0 && distPct > r.cfg.AgedDistancePct {
		return Verdict{
			Cancel: true,
			Reason: fmt.Sprintf("计划已存续 %s 且价格偏离 %.2f%%，超出老化阈值 %.2f%%",
				age.Truncate(time.Minute), distPct, r.cfg.AgedDistancePct),
			Priority: schedule.PriorityLow,
		}
	}

	return Verdict{}
}

// distanceLimit 返回品种专属撤销距离阈值，未配置时用全局默认。
func (r *Reviewer) distanceLimit(symbol string) float64 {
	if v, ok := r.cfg.SymbolDistancePct[symbol]; ok && v > 0 {
		return v
	}
	if v, ok := r.cfg.SymbolDistancePct[strings.ToLower(symbol)]; ok && v > 0 {
		return v
	}
	return r.cfg.CancelDistancePct
}

// ShouldReEvaluate 判断是否触发计划重评估。触发条件为价格自
// 参考价漂移超阈值，或距上次评估超过最长静默期；冷却期内与
// 当日次数到顶时一律抑制，日期翻转后计数归零。
func (r *Reviewer) ShouldReEvaluate(p *plan.Plan, currentPrice float64) (bool, string) {
	now := r.now().UTC()

	if p.LastReEvalAt != nil && now.Sub(*p.LastReEvalAt) < r.cfg.ReEvalCooldown {
		return false, ""
	}
	if p.ReEvalDate == reEvalDate(now) && p.ReEvalCount >= r.cfg.ReEvalDailyCap {
		return false, ""
	}

	if p.ReferencePrice > 0 && currentPrice > 0 && r.cfg.ReEvalDriftPct > 0 {
		drift := absPct(currentPrice, p.ReferencePrice)
		if drift > r.cfg.ReEvalDriftPct {
			return true, fmt.Sprintf("价格自参考价漂移 %.2f%%", drift)
		}
	}

	last := p.CreatedAt
	if p.LastReEvalAt != nil {
		last = *p.LastReEvalAt
	}
	if r.cfg.ReEvalMaxInterval > 0 && now.Sub(last) > r.cfg.ReEvalMaxInterval {
		return true, fmt.Sprintf("距上次评估已超过 %s", r.cfg.ReEvalMaxInterval)
	}

	return false, ""
}

// MarkReEvaluated 在重评估成功后更新计划的评估记录。
// 必须在计划集锁内（Set.Update）调用。
func (r *Reviewer) MarkReEvaluated(p *plan.Plan, currentPrice float64) {
	now := r.now().UTC()
	day := reEvalDate(now)

	if p.ReEvalDate != day {
		p.ReEvalDate = day
		p.ReEvalCount = 0
	}
	p.ReEvalCount++
	p.LastReEvalAt = &now
	if currentPrice > 0 {
		p.ReferencePrice = currentPrice
	}
}

func reEvalDate(t time.Time) string {
	return t.Format("2006-01-02")
}

func absPct(a, b float64) float64 {
	d := (a - b) / b * 100
	if d < 0 {
		return -d
	}
	return d
}
