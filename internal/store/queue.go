package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"plan-sentinel/internal/config"
	"plan-sentinel/internal/plan"
)

const (
	writeAttempts = 3
	writeBackoff  = 100 * time.Millisecond
	writeTimeout  = 5 * time.Second
)

type writeOp struct {
	plan   *plan.Plan
	planID string
	kind   string
	detail string
	done   chan error
}

// Queue 为异步持久化队列。状态迁移类写入走高优先级通道，
// 例行字段刷新走低优先级通道，消费协程总是先清空前者。
// 默认投递即忘，关键迁移可用阻塞模式等待落库确认。
type Queue struct {
	store  *Store
	logger *zap.Logger

	high chan writeOp
	low  chan writeOp
	quit chan struct{}
	wg   sync.WaitGroup

	blockTimeout time.Duration
}

// NewQueue 创建并启动持久化队列。
func NewQueue(cfg config.QueueConfig, store *Store, logger *zap.Logger) *Queue {
	if logger == nil {
		logger = zap.NewNop()
	}
	buffer := cfg.Buffer
	if buffer <= 0 {
		buffer = 256
	}
	blockTimeout := cfg.BlockTimeout
	if blockTimeout <= 0 {
		blockTimeout = 3 * time.Second
	}

	q := &Queue{
		store:        store,
		logger:       logger,
		high:         make(chan writeOp, buffer),
		low:          make(chan writeOp, buffer),
		quit:         make(chan struct{}),
		blockTimeout: blockTimeout,
	}
	q.wg.Add(1)
	go q.consume()
	return q
}

// SavePlan 以高优先级投递计划写入，不等待结果。队列已满时
// 丢弃并告警，依赖后续对账与重启恢复纠偏。
func (q *Queue) SavePlan(p *plan.Plan) {
	q.offer(q.high, writeOp{plan: p.Clone()}, "plan")
}

// SavePlanRoutine 以低优先级投递例行字段刷新。
func (q *Queue) SavePlanRoutine(p *plan.Plan) {
	q.offer(q.low, writeOp{plan: p.Clone()}, "plan")
}

// SaveEvent 以高优先级投递审计事件，不等待结果。
func (q *Queue) SaveEvent(planID, kind, detail string) {
	q.offer(q.high, writeOp{planID: planID, kind: kind, detail: detail}, "event")
}

// SavePlanWait 投递计划写入并阻塞等待落库，超时返回错误。
func (q *Queue) SavePlanWait(p *plan.Plan) error {
	op := writeOp{plan: p.Clone(), done: make(chan error, 1)}
	select {
	case q.high <- op:
	case <-time.After(q.blockTimeout):
		return fmt.Errorf("store: 持久化队列已满，计划 %s 投递超时", p.ID)
	case <-q.quit:
		return fmt.Errorf("store: 持久化队列已关闭")
	}

	select {
	case err := <-op.done:
		return err
	case <-time.After(q.blockTimeout):
		return fmt.Errorf("store: 等待计划 %s 落库超时", p.ID)
	}
}

func (q *Queue) offer(ch chan writeOp, op writeOp, label string) {
	select {
	case ch <- op:
	default:
		q.logger.Warn("持久化队列已满，丢弃写入",
			zap.String("type", label),
			zap.Int("backlog", len(ch)),
		)
	}
}

// Close 停止接收新写入并清空积压后返回。
func (q *Queue) Close() {
	close(q.quit)
	q.wg.Wait()
}

func (q *Queue) consume() {
	defer q.wg.Done()

	for {
		// 高优先级清空之前不碰低优先级。
		select {
		case op := <-q.high:
			q.apply(op)
			continue
		default:
		}

		select {
		case op := <-q.high:
			q.apply(op)
		case op := <-q.low:
			q.apply(op)
		case <-q.quit:
			q.drain()
			return
		}
	}
}

func (q *Queue) drain() {
	for {
		select {
		case op := <-q.high:
			q.apply(op)
		case op := <-q.low:
			q.apply(op)
		default:
			return
		}
	}
}

// apply 执行单个写入，失败时做有限次退避重试。
func (q *Queue) apply(op writeOp) {
	var err error
	for attempt := 1; attempt <= writeAttempts; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		if op.plan != nil {
			err = q.store.UpsertPlan(ctx, op.plan)
		} else {
			err = q.store.InsertEvent(ctx, op.planID, op.kind, op.detail)
		}
		cancel()

		if err == nil {
			break
		}
		if attempt < writeAttempts {
			time.Sleep(writeBackoff * time.Duration(attempt))
		}
	}

	if err != nil {
		id := op.planID
		if op.plan != nil {
			id = op.plan.ID
		}
		q.logger.Error("持久化写入最终失败",
			zap.String("plan_id", id),
			zap.Error(err),
		)
	}
	if op.done != nil {
		op.done <- err
	}
}
