package venue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	ccxt "github.com/ccxt/ccxt/go/v4"
	"go.uber.org/zap"

	"plan-sentinel/internal/config"
)

// Client 基于 ccxt 实现 Venue，并带统一重试机制。
type Client struct {
	cfg      config.VenueConfig
	logger   *zap.Logger
	exchange *ccxt.Binanceusdm

	marketsMu     sync.Mutex
	marketsLoaded bool
}

var _ Venue = (*Client)(nil)

// NewClient 构造 Binance USDⓈ-M 客户端。
func NewClient(cfg config.VenueConfig, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	userConfig := map[string]interface{}{
		"enableRateLimit": true,
		"options": map[string]interface{}{
			"adjustForTimeDifference": true,
			"defaultType":             "future",
		},
	}

	if cfg.APIKey != "" {
		userConfig["apiKey"] = cfg.APIKey
	}
	if cfg.APISecret != "" {
		userConfig["secret"] = cfg.APISecret
	}
	if cfg.APIPass != "" {
		userConfig["password"] = cfg.APIPass
	}

	ex := ccxt.NewBinanceusdm(userConfig)
	if cfg.UseSandbox {
		ex.SetSandboxMode(true)
	}

	return &Client{
		cfg:      cfg,
		logger:   logger,
		exchange: ex,
	}, nil
}

// GetQuote 获取单个品种的最新报价。
func (c *Client) GetQuote(ctx context.Context, symbol string) (Quote, error) {
	var raw ccxt.Ticker

	err := c.callWithRetry(ctx, "fetch_ticker", func() error {
		if err := c.ensureMarketsLoaded(ctx); err != nil {
			return err
		}
		ticker, err := c.exchange.FetchTicker(symbol)
		if err != nil {
			return err
		}
		raw = ticker
		return nil
	})
	if err != nil {
		return Quote{}, err
	}

	quote := Quote{Symbol: symbol, Timestamp: time.Now().UTC()}
	if raw.Bid != nil {
		quote.Bid = *raw.Bid
	}
	if raw.Ask != nil {
		quote.Ask = *raw.Ask
	}
	if raw.Timestamp != nil {
		quote.Timestamp = time.UnixMilli(int64(*raw.Timestamp)).UTC()
	}
	if quote.Bid <= 0 && quote.Ask <= 0 {
		if raw.Last != nil && *raw.Last > 0 {
			quote.Bid = *raw.Last
			quote.Ask = *raw.Last
		} else {
			return Quote{}, fmt.Errorf("venue: %s 报价为空", symbol)
		}
	}

	return quote, nil
}

// FetchCandles 获取指定周期的K线数据。
func (c *Client) FetchCandles(ctx context.Context, symbol, timeframe string, limit int) ([]Candle, error) {
	if limit <= 0 {
		limit = 1
	}

	var raw []ccxt.OHLCV

	err := c.callWithRetry(ctx, fmt.Sprintf("fetch_ohlcv_%s", timeframe), func() error {
		if err := c.ensureMarketsLoaded(ctx); err != nil {
			return err
		}
		result, err := c.exchange.FetchOHLCV(
			symbol,
			ccxt.WithFetchOHLCVTimeframe(timeframe),
			ccxt.WithFetchOHLCVLimit(int64(limit)),
		)
		if err != nil {
			return err
		}
		raw = result
		return nil
	})
	if err != nil {
		return nil, err
	}

	candles := make([]Candle, 0, len(raw))
	for _, item := range raw {
		candles = append(candles, Candle{
			Timestamp: time.UnixMilli(item.Timestamp).UTC(),
			Open:      item.Open,
			High:      item.High,
			Low:       item.Low,
			Close:     item.Close,
			Volume:    item.Volume,
		})
	}

	return candles, nil
}

// SubmitMarketOrder 提交市价单。
func (c *Client) SubmitMarketOrder(ctx context.Context, req OrderRequest) (Ticket, error) {
	var raw ccxt.Order

	params := protectionParams(req)
	err := c.callWithRetry(ctx, "create_market_order", func() error {
		var opts []ccxt.CreateMarketOrderOptions
		if len(params) > 0 {
			opts = append(opts, ccxt.WithCreateMarketOrderParams(params))
		}
		order, err := c.exchange.CreateMarketOrder(req.Symbol, req.Side, req.Amount, opts...)
		if err != nil {
			return err
		}
		raw = order
		return nil
	})
	if err != nil {
		return Ticket{}, err
	}

	ticket := Ticket{}
	if raw.Id != nil {
		ticket.ID = *raw.Id
		ticket.PositionID = *raw.Id
	}
	return ticket, nil
}

// SubmitPendingOrder 提交挂单。stop 类型通过触发参数表达，
// limit 类型走普通限价单。
func (c *Client) SubmitPendingOrder(ctx context.Context, req OrderRequest) (Ticket, error) {
	var raw ccxt.Order

	params := protectionParams(req)
	orderType := "limit"
	switch req.Type {
	case OrderTypeBuyStop, OrderTypeSellStop:
		orderType = "market"
		params["stopPrice"] = req.Price
	case OrderTypeBuyLimit, OrderTypeSellLimit:
	default:
		return Ticket{}, fmt.Errorf("venue: %q 不是挂单类型", req.Type)
	}

	err := c.callWithRetry(ctx, "create_pending_order", func() error {
		opts := []ccxt.CreateOrderOptions{
			ccxt.WithCreateOrderPrice(req.Price),
		}
		if len(params) > 0 {
			opts = append(opts, ccxt.WithCreateOrderParams(params))
		}
		order, err := c.exchange.CreateOrder(req.Symbol, orderType, req.Side, req.Amount, opts...)
		if err != nil {
			return err
		}
		raw = order
		return nil
	})
	if err != nil {
		return Ticket{}, err
	}

	ticket := Ticket{}
	if raw.Id != nil {
		ticket.ID = *raw.Id
	}
	if ticket.ID == "" {
		return Ticket{}, fmt.Errorf("venue: 挂单回执缺少订单号")
	}
	return ticket, nil
}

// ListOpenOrders 列出指定品种的未成交挂单。
func (c *Client) ListOpenOrders(ctx context.Context, symbol string) ([]Order, error) {
	var raw []ccxt.Order

	err := c.callWithRetry(ctx, "fetch_open_orders", func() error {
		result, err := c.exchange.FetchOpenOrders(ccxt.WithFetchOpenOrdersSymbol(symbol))
		if err != nil {
			return err
		}
		raw = result
		return nil
	})
	if err != nil {
		return nil, err
	}

	orders := make([]Order, 0, len(raw))
	for _, o := range raw {
		order := Order{Symbol: symbol}
		if o.Id != nil {
			order.Ticket = *o.Id
		}
		if o.Symbol != nil {
			order.Symbol = *o.Symbol
		}
		if o.Side != nil {
			order.Side = *o.Side
		}
		if o.Type != nil {
			order.Type = *o.Type
		}
		if o.Price != nil {
			order.Price = *o.Price
		}
		if o.Amount != nil {
			order.Amount = *o.Amount
		}
		if o.Status != nil {
			order.Status = *o.Status
		}
		if o.Timestamp != nil {
			order.CreatedAt = time.UnixMilli(int64(*o.Timestamp)).UTC()
		}
		orders = append(orders, order)
	}

	return orders, nil
}

// ListOpenPositions 列出指定品种的持仓。
func (c *Client) ListOpenPositions(ctx context.Context, symbol string) ([]Position, error) {
	var raw []ccxt.Position

	err := c.callWithRetry(ctx, "fetch_positions", func() error {
		result, err := c.exchange.FetchPositions()
		if err != nil {
			return err
		}
		raw = result
		return nil
	})
	if err != nil {
		return nil, err
	}

	positions := make([]Position, 0, len(raw))
	for _, p := range raw {
		pos := Position{}
		if p.Symbol != nil {
			pos.Symbol = *p.Symbol
		}
		if symbol != "" && !strings.EqualFold(pos.Symbol, symbol) {
			continue
		}
		if p.Id != nil {
			pos.ID = *p.Id
		}
		if p.Side != nil {
			pos.Side = strings.ToLower(*p.Side)
		}
		if p.Contracts != nil {
			pos.Size = *p.Contracts
		}
		if p.EntryPrice != nil {
			pos.EntryPrice = *p.EntryPrice
		}
		if p.Timestamp != nil {
			pos.OpenedAt = time.UnixMilli(int64(*p.Timestamp)).UTC()
		}
		if pos.Size == 0 {
			continue
		}
		positions = append(positions, pos)
	}

	return positions, nil
}

// CancelOrder 撤销场所侧挂单。
func (c *Client) CancelOrder(ctx context.Context, ticket, symbol string) error {
	return c.callWithRetry(ctx, "cancel_order", func() error {
		_, err := c.exchange.CancelOrder(ticket, ccxt.WithCancelOrderSymbol(symbol))
		return err
	})
}

func protectionParams(req OrderRequest) map[string]interface{} {
	params := map[string]interface{}{}
	if req.Stop > 0 {
		params["stopLossPrice"] = req.Stop
	}
	if req.Target > 0 {
		params["takeProfitPrice"] = req.Target
	}
	return params
}

func (c *Client) ensureMarketsLoaded(ctx context.Context) error {
	if c.marketsLoaded {
		return nil
	}

	c.marketsMu.Lock()
	defer c.marketsMu.Unlock()

	if c.marketsLoaded {
		return nil
	}

	loadErr := c.callWithRetry(ctx, "load_markets", func() error {
		_, err := c.exchange.LoadMarkets()
		return err
	})
	if loadErr != nil {
		return loadErr
	}

	c.marketsLoaded = true
	c.logger.Info("已完成市场元数据加载")
	return nil
}

func (c *Client) callWithRetry(ctx context.Context, operation string, fn func() error) error {
	attempt := 0
	delay := c.cfg.Retry.MinDelay
	if delay <= 0 {
		delay = 500 * time.Millisecond
	}
	maxDelay := c.cfg.Retry.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 5 * time.Second
	}

	for {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		attempt++
		start := time.Now()
		err := fn()
		duration := time.Since(start)
		if err == nil {
			if attempt > 1 {
				c.logger.Info("场所调用重试后成功",
					zap.String("operation", operation),
					zap.Int("attempts", attempt),
					zap.Duration("latency", duration),
				)
			}
			return nil
		}

		normalizedErr, retry := c.classifyError(err)

		if errors.Is(normalizedErr, ErrMaintenance) {
			c.logger.Warn("场所维护中",
				zap.String("operation", operation),
				zap.Error(normalizedErr),
			)
			return normalizedErr
		}

		if !retry || attempt >= c.cfg.Retry.MaxAttempts {
			c.logger.Error("场所调用失败",
				zap.String("operation", operation),
				zap.Int("attempts", attempt),
				zap.Duration("latency", duration),
				zap.Error(normalizedErr),
			)
			return normalizedErr
		}

		wait := delay
		if wait > maxDelay {
			wait = maxDelay
		}

		c.logger.Warn("场所调用失败，等待重试",
			zap.String("operation", operation),
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(normalizedErr),
		)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		delay *= 2
		if delay > maxDelay {
			delay = maxDelay
		}
	}
}

func (c *Client) classifyError(err error) (error, bool) {
	if err == nil {
		return nil, false
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err, false
	}

	var ccxtErr *ccxt.Error
	if errors.As(err, &ccxtErr) {
		switch ccxtErr.Type {
		case ccxt.OnMaintenanceErrType:
			message := strings.TrimSpace(ccxtErr.Message)
			if message == "" {
				message = "venue under maintenance"
			}
			return fmt.Errorf("%w: %s", ErrMaintenance, message), false
		case ccxt.InvalidOrderErrType, ccxt.InsufficientFundsErrType:
			return fmt.Errorf("%w: %s", ErrOrderRejected, ccxtErr.Message), false
		}
	}

	return err, IsRetryable(err)
}
