package order

import (
	"context"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"plan-sentinel/internal/plan"
	"plan-sentinel/internal/venue"
)

// 持仓匹配容差：价格千分之一、数量百分之五以内视为同一笔。
const (
	priceMatchPct = 0.1
	sizeMatchPct  = 5.0
)

// Reconciler 周期性核对挂单中的计划与场所状态：挂单仍在则
// 维持现状；挂单消失则在持仓中寻找成交证据，找到迁移到
// executed，找不到迁移到 cancelled。
type Reconciler struct {
	set      *plan.Set
	venue    venue.Venue
	executor *Executor
	logger   *zap.Logger

	now func() time.Time
}

// NewReconciler 创建对账器。
func NewReconciler(set *plan.Set, v venue.Venue, executor *Executor, logger *zap.Logger) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{
		set:      set,
		venue:    v,
		executor: executor,
		logger:   logger,
		now:      time.Now,
	}
}

// Sweep 执行一轮对账，返回状态发生迁移的计划数。
// 场所查询失败时跳过该品种，留待下一轮。
func (r *Reconciler) Sweep(ctx context.Context) int {
	placed := make(map[string][]*plan.Plan)
	for _, p := range r.set.Snapshot() {
		if p.Status == plan.StatusOrderPlaced && p.OrderTicket != "" {
			placed[p.Symbol] = append(placed[p.Symbol], p)
		}
	}
	if len(placed) == 0 {
		return 0
	}

	moved := 0
	for symbol, plans := range placed {
		if ctx.Err() != nil {
			break
		}

		orders, err := r.venue.ListOpenOrders(ctx, symbol)
		if err != nil {
			r.logger.Warn("查询在场挂单失败，跳过本轮对账",
				zap.String("symbol", symbol),
				zap.Error(err),
			)
			continue
		}
		open := make(map[string]bool, len(orders))
		for _, o := range orders {
			open[o.Ticket] = true
		}

		var positions []venue.Position
		positionsLoaded := false

		for _, p := range plans {
			if open[p.OrderTicket] {
				continue
			}

			// 挂单已不在场所：按需加载一次持仓再逐个匹配。
			if !positionsLoaded {
				positions, err = r.venue.ListOpenPositions(ctx, symbol)
				if err != nil {
					r.logger.Warn("查询持仓失败，跳过本轮对账",
						zap.String("symbol", symbol),
						zap.Error(err),
					)
					break
				}
				positionsLoaded = true
			}

			if r.settle(ctx, p, positions) {
				moved++
			}
		}
	}
	return moved
}

// settle 处理一个挂单消失的计划，返回是否发生状态迁移。
func (r *Reconciler) settle(ctx context.Context, p *plan.Plan, positions []venue.Position) bool {
	if pos, ok := matchPosition(p, positions); ok {
		var filled *plan.Plan
		r.set.Update(p.ID, func(cur *plan.Plan) {
			cur.Status = plan.StatusExecuted
			cur.PositionID = pos.ID
			cur.OrderTicket = ""
			filled = cur.Clone()
		})
		if done, removed := r.set.Remove(p.ID); removed && filled == nil {
			filled = done
		}
		if filled == nil {
			return false
		}

		r.logger.Info("挂单已成交，计划对账为已执行",
			zap.String("plan_id", p.ID),
			zap.String("symbol", p.Symbol),
			zap.String("position_id", pos.ID),
			zap.Float64("entry_price", pos.EntryPrice),
		)
		r.executor.persist.SavePlan(filled)
		r.executor.persist.SaveEvent(p.ID, "executed", fmt.Sprintf("挂单成交对账 position=%s", pos.ID))
		if r.executor.OnExecuted != nil {
			r.executor.OnExecuted(filled)
		}
		return true
	}

	// 挂单消失且无对应持仓，视为在场所侧被撤销。
	r.executor.Cancel(ctx, p.ID, plan.StatusCancelled, "挂单已不在场所且未发现对应持仓")
	return true
}

// matchPosition 在持仓中寻找与计划同向、价格与数量相近的一笔，
// 多笔命中取开仓时间最近者。
func matchPosition(p *plan.Plan, positions []venue.Position) (venue.Position, bool) {
	var best venue.Position
	found := false
	for _, pos := range positions {
		if !sideMatches(pos.Side, p.Direction) {
			continue
		}
		if pos.EntryPrice <= 0 {
			continue
		}
		if pctDiff(pos.EntryPrice, p.NearestEntry(pos.EntryPrice)) > priceMatchPct {
			continue
		}
		if p.Size > 0 && pctDiff(pos.Size, p.Size) > sizeMatchPct {
			continue
		}
		if !found || pos.OpenedAt.After(best.OpenedAt) {
			best = pos
			found = true
		}
	}
	return best, found
}

func sideMatches(side string, dir plan.Direction) bool {
	switch side {
	case "long", "buy":
		return dir == plan.DirectionLong
	case "short", "sell":
		return dir == plan.DirectionShort
	default:
		return false
	}
}

func pctDiff(a, b float64) float64 {
	if b == 0 {
		return math.Inf(1)
	}
	return math.Abs(a-b) / math.Abs(b) * 100
}
