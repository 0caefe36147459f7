package venue

import (
	"context"
	"time"
)

// Quote 为单个品种的买卖报价。
type Quote struct {
	Symbol    string    `json:"symbol"`
	Bid       float64   `json:"bid"`
	Ask       float64   `json:"ask"`
	Timestamp time.Time `json:"timestamp"`
}

// Mid 返回买卖中间价。
func (q Quote) Mid() float64 {
	return (q.Bid + q.Ask) / 2
}

// Candle 代表单根K线。
type Candle struct {
	Timestamp time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
}

// OrderType 为场所侧订单类型。
type OrderType string

const (
	OrderTypeMarket    OrderType = "market"
	OrderTypeBuyStop   OrderType = "buy_stop"
	OrderTypeBuyLimit  OrderType = "buy_limit"
	OrderTypeSellStop  OrderType = "sell_stop"
	OrderTypeSellLimit OrderType = "sell_limit"
)

// Pending 判断该类型是否为挂单。
func (t OrderType) Pending() bool {
	return t != OrderTypeMarket
}

// Side 返回订单的买卖方向。
func (t OrderType) Side() string {
	switch t {
	case OrderTypeBuyStop, OrderTypeBuyLimit:
		return "buy"
	case OrderTypeSellStop, OrderTypeSellLimit:
		return "sell"
	default:
		return ""
	}
}

// OrderRequest 描述一次下单请求。
type OrderRequest struct {
	Symbol string
	Type   OrderType
	Side   string
	Price  float64
	Amount float64
	Stop   float64
	Target float64
	Note   string
}

// Order 为场所侧订单快照。
type Order struct {
	Ticket    string
	Symbol    string
	Side      string
	Type      string
	Price     float64
	Amount    float64
	Status    string
	CreatedAt time.Time
}

// Position 为场所侧持仓快照。
type Position struct {
	ID         string
	Symbol     string
	Side       string
	Size       float64
	EntryPrice float64
	OpenedAt   time.Time
}

// Ticket 为一次成功提交的回执。
type Ticket struct {
	ID         string
	PositionID string
}

// Venue 抽象执行场所。所有调用都可能瞬时失败，
// 上层按各自的重试/熔断策略处理。
type Venue interface {
	GetQuote(ctx context.Context, symbol string) (Quote, error)
	FetchCandles(ctx context.Context, symbol, timeframe string, limit int) ([]Candle, error)
	SubmitMarketOrder(ctx context.Context, req OrderRequest) (Ticket, error)
	SubmitPendingOrder(ctx context.Context, req OrderRequest) (Ticket, error)
	ListOpenOrders(ctx context.Context, symbol string) ([]Order, error)
	ListOpenPositions(ctx context.Context, symbol string) ([]Position, error)
	CancelOrder(ctx context.Context, ticket, symbol string) error
}
