package order

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"plan-sentinel/internal/plan"
	"plan-sentinel/internal/venue"
)

// Persister 将计划变更与审计事件交给异步持久化层。
// 实现方保证提交不阻塞调用者。
type Persister interface {
	SavePlan(p *plan.Plan)
	SaveEvent(planID, kind, detail string)
}

// Executor 负责将条件满足的计划转为场所订单，并驱动计划的
// 状态迁移。每个计划经执行锁保护，并发评估下至多提交一次。
type Executor struct {
	set     *plan.Set
	venue   venue.Venue
	persist Persister
	logger  *zap.Logger

	// OnExecuted 在计划进入 executed 后调用，可为空。
	OnExecuted func(p *plan.Plan)

	now func() time.Time
}

// NewExecutor 创建执行器。
func NewExecutor(set *plan.Set, v venue.Venue, persist Persister, logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{
		set:     set,
		venue:   v,
		persist: persist,
		logger:  logger,
		now:     time.Now,
	}
}

// Execute 提交计划。市价路径直接进入 executed 并移出活跃集合；
// 挂单路径进入 pending_order_placed 并留在集合中等待对账。
func (e *Executor) Execute(ctx context.Context, id string, currentPrice float64) error {
	if !e.set.TryLockExecution(id) {
		e.logger.Debug("计划正在执行中，跳过本次提交", zap.String("plan_id", id))
		return nil
	}
	defer e.set.UnlockExecution(id)

	p, ok := e.set.Get(id)
	if !ok {
		return nil
	}
	if p.Status != plan.StatusPending {
		return nil
	}

	entry := p.NearestEntry(currentPrice)
	orderType := DetermineOrderType(p)
	if err := ValidateEntry(orderType, entry, currentPrice); err != nil {
		e.logger.Warn("挂单价位校验不通过，保持待执行",
			zap.String("plan_id", p.ID),
			zap.String("symbol", p.Symbol),
			zap.Error(err),
		)
		return err
	}

	req := venue.OrderRequest{
		Symbol: p.Symbol,
		Type:   orderType,
		Side:   sideOf(p.Direction),
		Price:  entry,
		Amount: p.Size,
		Stop:   p.Stop,
		Target: p.Target,
		Note:   p.ID,
	}

	if orderType == venue.OrderTypeMarket {
		return e.executeMarket(ctx, p, req, currentPrice)
	}
	return e.placePending(ctx, p, req)
}

func (e *Executor) executeMarket(ctx context.Context, p *plan.Plan, req venue.OrderRequest, currentPrice float64) error {
	ticket, err := e.venue.SubmitMarketOrder(ctx, req)
	if err != nil {
		e.logger.Error("市价下单失败",
			zap.String("plan_id", p.ID),
			zap.String("symbol", p.Symbol),
			zap.Error(err),
		)
		return fmt.Errorf("order: 市价下单失败: %w", err)
	}

	e.set.Update(p.ID, func(cur *plan.Plan) {
		cur.Status = plan.StatusExecuted
		cur.PositionID = ticket.PositionID
		cur.OrderTicket = ""
	})
	done, _ := e.set.Remove(p.ID)
	if done == nil {
		done = p
		done.Status = plan.StatusExecuted
		done.PositionID = ticket.PositionID
	}

	e.logger.Info("计划已市价执行",
		zap.String("plan_id", p.ID),
		zap.String("symbol", p.Symbol),
		zap.String("position_id", ticket.PositionID),
		zap.Float64("price", currentPrice),
	)
	e.persist.SavePlan(done)
	e.persist.SaveEvent(p.ID, "executed", fmt.Sprintf("市价成交 position=%s", ticket.PositionID))
	if e.OnExecuted != nil {
		e.OnExecuted(done)
	}
	return nil
}

func (e *Executor) placePending(ctx context.Context, p *plan.Plan, req venue.OrderRequest) error {
	ticket, err := e.venue.SubmitPendingOrder(ctx, req)
	if err != nil {
		e.logger.Error("挂单提交失败",
			zap.String("plan_id", p.ID),
			zap.String("symbol", p.Symbol),
			zap.String("type", string(req.Type)),
			zap.Error(err),
		)
		return fmt.Errorf("order: 挂单提交失败: %w", err)
	}

	var updated *plan.Plan
	e.set.Update(p.ID, func(cur *plan.Plan) {
		cur.Status = plan.StatusOrderPlaced
		cur.OrderTicket = ticket.ID
		updated = cur.Clone()
	})
	if updated == nil {
		updated = p
		updated.Status = plan.StatusOrderPlaced
		updated.OrderTicket = ticket.ID
	}

	e.logger.Info("计划已挂单",
		zap.String("plan_id", p.ID),
		zap.String("symbol", p.Symbol),
		zap.String("type", string(req.Type)),
		zap.String("ticket", ticket.ID),
		zap.Float64("price", req.Price),
	)
	e.persist.SavePlan(updated)
	e.persist.SaveEvent(p.ID, "order_placed", fmt.Sprintf("挂单 %s ticket=%s", req.Type, ticket.ID))
	return nil
}

// Cancel 将计划迁移到给定终态并移出活跃集合。状态迁移立即生效，
// 场所侧残留挂单的撤销作为补偿动作尽力执行，失败只记日志。
func (e *Executor) Cancel(ctx context.Context, id string, status plan.Status, reason string) {
	if status != plan.StatusCancelled && status != plan.StatusExpired {
		return
	}

	var ticket, symbol string
	e.set.Update(id, func(cur *plan.Plan) {
		cur.Status = status
		cur.CancelReason = reason
		ticket = cur.OrderTicket
		symbol = cur.Symbol
	})
	p, ok := e.set.Remove(id)
	if !ok {
		return
	}

	e.logger.Info("计划已终止",
		zap.String("plan_id", id),
		zap.String("symbol", p.Symbol),
		zap.String("status", string(status)),
		zap.String("reason", reason),
	)
	e.persist.SavePlan(p)
	e.persist.SaveEvent(id, string(status), reason)

	if ticket != "" {
		if err := e.venue.CancelOrder(ctx, ticket, symbol); err != nil {
			e.logger.Warn("补偿撤销场所挂单失败",
				zap.String("plan_id", id),
				zap.String("ticket", ticket),
				zap.Error(err),
			)
		}
	}
}

func sideOf(dir plan.Direction) string {
	if dir == plan.DirectionShort {
		return "sell"
	}
	return "buy"
}
