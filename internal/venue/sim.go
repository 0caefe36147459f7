package venue

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Simulated 为纸面执行场所：行情读取委托给真实客户端，
// 下单相关调用在内存中模拟。用于 dry-run 演练。
type Simulated struct {
	feed   Venue
	logger *zap.Logger

	mu        sync.Mutex
	orders    map[string]Order
	positions map[string]Position
}

var _ Venue = (*Simulated)(nil)

// NewSimulated 创建纸面场所。
func NewSimulated(feed Venue, logger *zap.Logger) *Simulated {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Simulated{
		feed:      feed,
		logger:    logger,
		orders:    make(map[string]Order),
		positions: make(map[string]Position),
	}
}

// GetQuote 透传真实行情。
func (s *Simulated) GetQuote(ctx context.Context, symbol string) (Quote, error) {
	return s.feed.GetQuote(ctx, symbol)
}

// FetchCandles 透传真实行情。
func (s *Simulated) FetchCandles(ctx context.Context, symbol, timeframe string, limit int) ([]Candle, error) {
	return s.feed.FetchCandles(ctx, symbol, timeframe, limit)
}

// SubmitMarketOrder 立即虚拟成交。
func (s *Simulated) SubmitMarketOrder(_ context.Context, req OrderRequest) (Ticket, error) {
	if req.Amount <= 0 {
		return Ticket{}, fmt.Errorf("venue: 模拟市价单数量无效 %.6f", req.Amount)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id := uuid.NewString()
	side := "long"
	if strings.EqualFold(req.Side, "sell") {
		side = "short"
	}
	s.positions[id] = Position{
		ID:         id,
		Symbol:     req.Symbol,
		Side:       side,
		Size:       req.Amount,
		EntryPrice: req.Price,
		OpenedAt:   time.Now().UTC(),
	}

	s.logger.Info("模拟市价单成交",
		zap.String("symbol", req.Symbol),
		zap.String("side", req.Side),
		zap.Float64("amount", req.Amount),
	)

	return Ticket{ID: id, PositionID: id}, nil
}

// SubmitPendingOrder 登记虚拟挂单。
func (s *Simulated) SubmitPendingOrder(_ context.Context, req OrderRequest) (Ticket, error) {
	if !req.Type.Pending() {
		return Ticket{}, fmt.Errorf("venue: %q 不是挂单类型", req.Type)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id := uuid.NewString()
	s.orders[id] = Order{
		Ticket:    id,
		Symbol:    req.Symbol,
		Side:      req.Side,
		Type:      string(req.Type),
		Price:     req.Price,
		Amount:    req.Amount,
		Status:    "open",
		CreatedAt: time.Now().UTC(),
	}

	s.logger.Info("模拟挂单已登记",
		zap.String("symbol", req.Symbol),
		zap.String("type", string(req.Type)),
		zap.Float64("price", req.Price),
	)

	return Ticket{ID: id}, nil
}

// ListOpenOrders 返回虚拟挂单。
func (s *Simulated) ListOpenOrders(_ context.Context, symbol string) ([]Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Order, 0, len(s.orders))
	for _, o := range s.orders {
		if symbol == "" || strings.EqualFold(o.Symbol, symbol) {
			out = append(out, o)
		}
	}
	return out, nil
}

// ListOpenPositions 返回虚拟持仓。
func (s *Simulated) ListOpenPositions(_ context.Context, symbol string) ([]Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Position, 0, len(s.positions))
	for _, p := range s.positions {
		if symbol == "" || strings.EqualFold(p.Symbol, symbol) {
			out = append(out, p)
		}
	}
	return out, nil
}

// CancelOrder 移除虚拟挂单。
func (s *Simulated) CancelOrder(_ context.Context, ticket, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.orders[ticket]; !ok {
		return fmt.Errorf("venue: 模拟挂单 %s 不存在", ticket)
	}
	delete(s.orders, ticket)
	return nil
}

// FillPendingOrder 将虚拟挂单转为持仓，供测试与演练驱动对账路径。
func (s *Simulated) FillPendingOrder(ticket string) (Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	order, ok := s.orders[ticket]
	if !ok {
		return Position{}, fmt.Errorf("venue: 模拟挂单 %s 不存在", ticket)
	}
	delete(s.orders, ticket)

	side := "long"
	if strings.EqualFold(order.Side, "sell") {
		side = "short"
	}
	pos := Position{
		ID:         uuid.NewString(),
		Symbol:     order.Symbol,
		Side:       side,
		Size:       order.Amount,
		EntryPrice: order.Price,
		OpenedAt:   time.Now().UTC(),
	}
	s.positions[pos.ID] = pos
	return pos, nil
}
