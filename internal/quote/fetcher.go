package quote

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"plan-sentinel/internal/config"
	"plan-sentinel/internal/venue"
)

// Fetcher 为活跃计划引用的全部品种批量获取报价。
// 先查缓存，未命中时走场所接口，带指数退避与按品种熔断。
// 最终失败的品种只是缺席于结果（该轮跳过对应计划），不会
// 导致整批失败。
type Fetcher struct {
	cfg      config.FetchConfig
	venue    venue.Venue
	cache    *Cache
	breakers *BreakerSet
	logger   *zap.Logger
}

// NewFetcher 创建批量拉取器。
func NewFetcher(cfg config.FetchConfig, v venue.Venue, cache *Cache, logger *zap.Logger) *Fetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{
		cfg:      cfg,
		venue:    v,
		cache:    cache,
		breakers: NewBreakerSet(cfg.BreakerThreshold, cfg.BreakerReset),
		logger:   logger,
	}
}

// Breakers 返回按品种的熔断器集合，供健康检查读取。
func (f *Fetcher) Breakers() *BreakerSet {
	return f.breakers
}

// Fetch 返回品种到中间价的映射。熔断打开或最终失败的品种不出现在结果中。
func (f *Fetcher) Fetch(ctx context.Context, symbols []string) map[string]float64 {
	result := make(map[string]float64, len(symbols))
	if len(symbols) == 0 {
		return result
	}

	var mu sync.Mutex
	chunkSize := f.cfg.ChunkSize
	if chunkSize <= 0 {
		chunkSize = 20
	}

	for start := 0; start < len(symbols); start += chunkSize {
		end := start + chunkSize
		if end > len(symbols) {
			end = len(symbols)
		}
		chunk := symbols[start:end]

		group, groupCtx := errgroup.WithContext(ctx)
		for _, symbol := range chunk {
			group.Go(func() error {
				price, ok := f.fetchOne(groupCtx, symbol)
				if !ok {
					return nil
				}
				mu.Lock()
				result[symbol] = price
				mu.Unlock()
				return nil
			})
		}
		// 单品种失败不冒泡，Wait 只会因ctx取消返回错误。
		if err := group.Wait(); err != nil {
			f.logger.Warn("批量拉取被中断", zap.Error(err))
			return result
		}
	}

	return result
}

func (f *Fetcher) fetchOne(ctx context.Context, symbol string) (float64, bool) {
	if price, ok := f.cache.Get(symbol); ok {
		return price, true
	}

	breaker := f.breakers.For(symbol)
	if !breaker.Allow() {
		f.logger.Debug("品种熔断打开，跳过拉取", zap.String("symbol", symbol))
		return 0, false
	}

	delay := f.cfg.BackoffBase
	if delay <= 0 {
		delay = 2 * time.Second
	}
	attempts := f.cfg.MaxAttempts
	if attempts <= 0 {
		attempts = 3
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if ctx.Err() != nil {
			return 0, false
		}

		q, err := f.venue.GetQuote(ctx, symbol)
		if err == nil {
			breaker.RecordSuccess()
			f.cache.Put(symbol, q.Bid, q.Ask)
			return q.Mid(), true
		}
		lastErr = err

		if attempt < attempts {
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return 0, false
			case <-timer.C:
			}
			delay *= 2
		}
	}

	breaker.RecordFailure()
	f.logger.Warn("品种报价拉取失败",
		zap.String("symbol", symbol),
		zap.Int("attempts", attempts),
		zap.Error(lastErr),
	)
	return 0, false
}
