package plan

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
)

// Status 表示计划生命周期状态，任意时刻有且仅有一个成立。
type Status string

const (
	StatusPending     Status = "pending"
	StatusOrderPlaced Status = "pending_order_placed"
	StatusExecuted    Status = "executed"
	StatusCancelled   Status = "cancelled"
	StatusExpired     Status = "expired"
)

// Terminal 判断状态是否为终态。挂单中的计划仍属活跃。
func (s Status) Terminal() bool {
	switch s {
	case StatusExecuted, StatusCancelled, StatusExpired:
		return true
	default:
		return false
	}
}

// Direction 表示交易方向。
type Direction string

const (
	DirectionLong  Direction = "long"
	DirectionShort Direction = "short"
)

// EntryLevel 为带权重的备选入场价位。
type EntryLevel struct {
	Price  float64 `json:"price"`
	Weight float64 `json:"weight"`
}

// OrderStyle 为入场方式覆盖，空值表示市价单。
type OrderStyle string

const (
	OrderStyleMarket OrderStyle = ""
	OrderStyleStop   OrderStyle = "stop"
	OrderStyleLimit  OrderStyle = "limit"
)

// Plan 是系统的核心实体：一条等待条件满足后执行的交易指令。
// 字段仅由引擎各组件在计划集锁保护下修改。
type Plan struct {
	ID          string       `json:"id"`
	Symbol      string       `json:"symbol"`
	Direction   Direction    `json:"direction"`
	Entry       float64      `json:"entry"`
	EntryLevels []EntryLevel `json:"entry_levels,omitempty"`
	Stop        float64      `json:"stop"`
	Target      float64      `json:"target"`
	Size        float64      `json:"size"`
	Tolerance   float64      `json:"tolerance"`
	OrderStyle  OrderStyle   `json:"order_style,omitempty"`
	Conditions  []Condition  `json:"conditions"`

	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedBy string    `json:"created_by,omitempty"`
	Notes     string    `json:"notes,omitempty"`

	// 执行产物：仓位号仅在 executed 状态下有值，挂单号仅在
	// pending_order_placed 状态下有值。
	PositionID  string `json:"position_id,omitempty"`
	OrderTicket string `json:"order_ticket,omitempty"`

	// 容差区间进出跟踪。
	ZoneEnteredAt *time.Time `json:"zone_entered_at,omitempty"`
	ZoneLeftAt    *time.Time `json:"zone_left_at,omitempty"`

	// 调度与活动记录。
	Archetype      string     `json:"archetype,omitempty"`
	LastCheckAt    time.Time  `json:"last_check_at"`
	LastActivityAt *time.Time `json:"last_activity_at,omitempty"`

	// 重评估记录：同日计数在日期翻转时归零。
	LastReEvalAt   *time.Time `json:"last_reeval_at,omitempty"`
	ReEvalCount    int        `json:"reeval_count"`
	ReEvalDate     string     `json:"reeval_date,omitempty"`
	ReferencePrice float64    `json:"reference_price,omitempty"`

	// 撤销记录。
	CancelReason      string    `json:"cancel_reason,omitempty"`
	LastCancelCheckAt time.Time `json:"last_cancel_check_at"`
}

// New 创建一个新计划并做创建期校验，未知条件类型在此被拒绝。
func New(symbol string, direction Direction, entry float64, conditions []Condition) (*Plan, error) {
	p := &Plan{
		ID:         uuid.NewString(),
		Symbol:     strings.ToUpper(strings.TrimSpace(symbol)),
		Direction:  direction,
		Entry:      entry,
		Conditions: conditions,
		Status:     StatusPending,
		CreatedAt:  time.Now().UTC(),
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// Validate 校验计划自身的不变式。
func (p *Plan) Validate() error {
	var err error

	if p.ID == "" {
		err = multierr.Append(err, errors.New("plan: id 不能为空"))
	}
	if p.Symbol == "" {
		err = multierr.Append(err, errors.New("plan: symbol 不能为空"))
	}
	if p.Direction != DirectionLong && p.Direction != DirectionShort {
		err = multierr.Append(err, fmt.Errorf("plan: 未知方向 %q", p.Direction))
	}
	if p.Entry <= 0 && len(p.EntryLevels) == 0 {
		err = multierr.Append(err, errors.New("plan: 入场价必须为正"))
	}
	for i, level := range p.EntryLevels {
		if level.Price <= 0 {
			err = multierr.Append(err, fmt.Errorf("plan: 第%d个入场价位无效", i+1))
		}
		if level.Weight < 0 {
			err = multierr.Append(err, fmt.Errorf("plan: 第%d个入场权重不能为负", i+1))
		}
	}
	if p.Tolerance < 0 {
		err = multierr.Append(err, errors.New("plan: tolerance 不能为负"))
	}
	switch p.OrderStyle {
	case OrderStyleMarket, OrderStyleStop, OrderStyleLimit:
	default:
		err = multierr.Append(err, fmt.Errorf("plan: 未知入场方式 %q", p.OrderStyle))
	}
	for i := range p.Conditions {
		if condErr := p.Conditions[i].Validate(); condErr != nil {
			err = multierr.Append(err, fmt.Errorf("plan: 第%d个条件无效: %w", i+1, condErr))
		}
	}

	if err != nil {
		return fmt.Errorf("plan: 校验失败: %w", err)
	}
	return nil
}

// Levels 返回归一化后的入场价位列表。未配置多级价位时退化为单一入场价。
func (p *Plan) Levels() []EntryLevel {
	if len(p.EntryLevels) == 0 {
		return []EntryLevel{{Price: p.Entry, Weight: 1}}
	}
	levels := make([]EntryLevel, len(p.EntryLevels))
	copy(levels, p.EntryLevels)
	sort.Slice(levels, func(i, j int) bool { return levels[i].Weight > levels[j].Weight })
	return levels
}

// NearestEntry 返回距当前价最近的入场价位。多级价位取最近者，权重仅用于排序展示。
func (p *Plan) NearestEntry(currentPrice float64) float64 {
	levels := p.Levels()
	nearest := levels[0].Price
	best := math.Abs(currentPrice - nearest)
	for _, level := range levels[1:] {
		if d := math.Abs(currentPrice - level.Price); d < best {
			best = d
			nearest = level.Price
		}
	}
	return nearest
}

// DistanceToEntry 返回当前价到最近入场价位的绝对距离。
func (p *Plan) DistanceToEntry(currentPrice float64) float64 {
	return math.Abs(currentPrice - p.NearestEntry(currentPrice))
}

// DistancePct 返回当前价到最近入场价位的百分比距离。
func (p *Plan) DistancePct(currentPrice float64) float64 {
	entry := p.NearestEntry(currentPrice)
	if entry <= 0 {
		return 0
	}
	return math.Abs(currentPrice-entry) / entry * 100
}

// Expired 判断计划是否已过期。
func (p *Plan) Expired(now time.Time) bool {
	return !p.ExpiresAt.IsZero() && now.After(p.ExpiresAt)
}

// MarkActivity 记录一次条件满足事件。
func (p *Plan) MarkActivity(now time.Time) {
	t := now.UTC()
	p.LastActivityAt = &t
}

// ActiveRecently 判断最近 window 内是否有条件满足事件。
func (p *Plan) ActiveRecently(now time.Time, window time.Duration) bool {
	return p.LastActivityAt != nil && now.Sub(*p.LastActivityAt) <= window
}

// TrackZone 根据当前价更新容差区间进出时间戳。
func (p *Plan) TrackZone(currentPrice float64, now time.Time) {
	if p.Tolerance <= 0 {
		return
	}
	inZone := p.DistanceToEntry(currentPrice) <= p.Tolerance
	switch {
	case inZone && p.ZoneEnteredAt == nil:
		t := now.UTC()
		p.ZoneEnteredAt = &t
		p.ZoneLeftAt = nil
	case !inZone && p.ZoneEnteredAt != nil && p.ZoneLeftAt == nil:
		t := now.UTC()
		p.ZoneLeftAt = &t
	}
}

// Clone 返回计划的深拷贝，供评估任务在计划集锁之外使用。
func (p *Plan) Clone() *Plan {
	dup := *p
	if len(p.EntryLevels) > 0 {
		dup.EntryLevels = make([]EntryLevel, len(p.EntryLevels))
		copy(dup.EntryLevels, p.EntryLevels)
	}
	if len(p.Conditions) > 0 {
		dup.Conditions = make([]Condition, len(p.Conditions))
		copy(dup.Conditions, p.Conditions)
	}
	dup.ZoneEnteredAt = cloneTime(p.ZoneEnteredAt)
	dup.ZoneLeftAt = cloneTime(p.ZoneLeftAt)
	dup.LastActivityAt = cloneTime(p.LastActivityAt)
	dup.LastReEvalAt = cloneTime(p.LastReEvalAt)
	return &dup
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	dup := *t
	return &dup
}
