package signal

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	talib "github.com/markcheno/go-talib"
	"go.uber.org/zap"

	"plan-sentinel/internal/plan"
	"plan-sentinel/internal/venue"
)

const (
	// TimeframeFast 用于订单流近似与形态识别。
	TimeframeFast = "1m"
	// TimeframeDefault 为量化确认的默认周期。
	TimeframeDefault = "1h"

	candleLimit = 120
)

// Analyzer 基于场所K线实现全部信号查询，每个指标按
// 品种+指标键记忆化，约束上游调用量。
type Analyzer struct {
	venue  venue.Venue
	memo   *Memo
	logger *zap.Logger
}

// NewAnalyzer 创建信号分析器。
func NewAnalyzer(v venue.Venue, memo *Memo, logger *zap.Logger) *Analyzer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Analyzer{
		venue:  v,
		memo:   memo,
		logger: logger,
	}
}

func (a *Analyzer) candles(ctx context.Context, symbol, timeframe string) ([]venue.Candle, error) {
	key := fmt.Sprintf("candles:%s:%s", symbol, timeframe)
	value, err := a.memo.Do(key, func() (interface{}, error) {
		return a.venue.FetchCandles(ctx, symbol, timeframe, candleLimit)
	})
	if err != nil {
		return nil, err
	}
	return value.([]venue.Candle), nil
}

func series(candles []venue.Candle) (open, high, low, closes, volume []float64) {
	open = make([]float64, len(candles))
	high = make([]float64, len(candles))
	low = make([]float64, len(candles))
	closes = make([]float64, len(candles))
	volume = make([]float64, len(candles))
	for i, c := range candles {
		open[i] = c.Open
		high[i] = c.High
		low[i] = c.Low
		closes[i] = c.Close
		volume[i] = c.Volume
	}
	return
}

func last(values []float64) float64 {
	if len(values) == 0 {
		return math.NaN()
	}
	return values[len(values)-1]
}

// ATRRatio 返回相对ATR（ATR14/收盘价），供调度器做波动分档。
func (a *Analyzer) ATRRatio(ctx context.Context, symbol string) (float64, error) {
	key := fmt.Sprintf("atr:%s", symbol)
	value, err := a.memo.Do(key, func() (interface{}, error) {
		candles, err := a.candles(ctx, symbol, TimeframeDefault)
		if err != nil {
			return nil, err
		}
		if len(candles) < 15 {
			return nil, fmt.Errorf("signal: %s K线不足以计算ATR", symbol)
		}
		_, high, low, closes, _ := series(candles)
		atr := talib.Atr(high, low, closes, 14)
		lastClose := last(closes)
		if lastClose <= 0 {
			return nil, fmt.Errorf("signal: %s 收盘价无效", symbol)
		}
		return last(atr) / lastClose, nil
	})
	if err != nil {
		return 0, err
	}
	return value.(float64), nil
}

// BandRetouch 判断价格是否回踩布林带：多头回踩下轨后收回，
// 空头触及上轨后回落。
func (a *Analyzer) BandRetouch(ctx context.Context, symbol string, p plan.BandRetouchParams, dir plan.Direction) (bool, error) {
	timeframe := p.Timeframe
	if timeframe == "" {
		timeframe = TimeframeDefault
	}
	key := fmt.Sprintf("band:%s:%s:%d:%.2f:%s", symbol, timeframe, p.Period, p.Width, dir)
	value, err := a.memo.Do(key, func() (interface{}, error) {
		candles, err := a.candles(ctx, symbol, timeframe)
		if err != nil {
			return nil, err
		}
		if len(candles) < p.Period+1 {
			return nil, fmt.Errorf("signal: %s K线不足以计算布林带", symbol)
		}
		_, high, low, closes, _ := series(candles)
		upper, _, lower := talib.BBands(closes, p.Period, p.Width, p.Width, talib.EMA)

		lastLow := last(low)
		lastHigh := last(high)
		lastClose := last(closes)

		switch dir {
		case plan.DirectionLong:
			return lastLow <= last(lower) && lastClose > last(lower), nil
		case plan.DirectionShort:
			return lastHigh >= last(upper) && lastClose < last(upper), nil
		default:
			return false, nil
		}
	})
	if err != nil {
		return false, err
	}
	return value.(bool), nil
}

// Extremity 判断收盘价相对近期均值是否达到统计极值。
// 多头要求向下偏离，空头要求向上偏离。
func (a *Analyzer) Extremity(ctx context.Context, symbol string, p plan.ExtremityParams, dir plan.Direction) (bool, error) {
	timeframe := p.Timeframe
	if timeframe == "" {
		timeframe = TimeframeDefault
	}
	key := fmt.Sprintf("extremity:%s:%s:%d:%.2f:%s", symbol, timeframe, p.Lookback, p.MinZScore, dir)
	value, err := a.memo.Do(key, func() (interface{}, error) {
		candles, err := a.candles(ctx, symbol, timeframe)
		if err != nil {
			return nil, err
		}
		if len(candles) < p.Lookback {
			return nil, fmt.Errorf("signal: %s K线不足以计算z-score", symbol)
		}
		_, _, _, closes, _ := series(candles)
		window := closes[len(closes)-p.Lookback:]
		mean := 0.0
		for _, v := range window {
			mean += v
		}
		mean /= float64(len(window))
		variance := 0.0
		for _, v := range window {
			variance += (v - mean) * (v - mean)
		}
		std := math.Sqrt(variance / float64(len(window)))
		if std == 0 {
			return false, nil
		}
		z := (last(closes) - mean) / std
		switch dir {
		case plan.DirectionLong:
			return z <= -p.MinZScore, nil
		case plan.DirectionShort:
			return z >= p.MinZScore, nil
		default:
			return false, nil
		}
	})
	if err != nil {
		return false, err
	}
	return value.(bool), nil
}

// RangeStretch 判断当前K线振幅相对近期均值是否达到倍数要求。
func (a *Analyzer) RangeStretch(ctx context.Context, symbol string, p plan.RangeStretchParams) (bool, error) {
	timeframe := p.Timeframe
	if timeframe == "" {
		timeframe = TimeframeDefault
	}
	key := fmt.Sprintf("stretch:%s:%s:%d:%.2f", symbol, timeframe, p.Lookback, p.MinRatio)
	value, err := a.memo.Do(key, func() (interface{}, error) {
		candles, err := a.candles(ctx, symbol, timeframe)
		if err != nil {
			return nil, err
		}
		if len(candles) < p.Lookback+1 {
			return nil, fmt.Errorf("signal: %s K线不足以计算区间拉伸", symbol)
		}
		window := candles[len(candles)-p.Lookback-1 : len(candles)-1]
		sum := 0.0
		for _, c := range window {
			sum += c.High - c.Low
		}
		avg := sum / float64(len(window))
		if avg <= 0 {
			return false, nil
		}
		current := candles[len(candles)-1]
		return (current.High-current.Low)/avg >= p.MinRatio, nil
	})
	if err != nil {
		return false, err
	}
	return value.(bool), nil
}

// 形态判定函数返回 +1（看多确认）、-1（看空确认）或 0。
type patternFunc func(prev, cur venue.Candle) int

func body(c venue.Candle) float64 { return math.Abs(c.Close - c.Open) }

func upperWick(c venue.Candle) float64 {
	return c.High - math.Max(c.Open, c.Close)
}

func lowerWick(c venue.Candle) float64 {
	return math.Min(c.Open, c.Close) - c.Low
}

var patternTable = map[string]patternFunc{
	"engulfing": func(prev, cur venue.Candle) int {
		if cur.Close > cur.Open && prev.Close < prev.Open &&
			cur.Close >= prev.Open && cur.Open <= prev.Close {
			return 1
		}
		if cur.Close < cur.Open && prev.Close > prev.Open &&
			cur.Open >= prev.Close && cur.Close <= prev.Open {
			return -1
		}
		return 0
	},
	"hammer": func(_, cur venue.Candle) int {
		if body(cur) > 0 && lowerWick(cur) >= 2*body(cur) && upperWick(cur) <= body(cur) {
			return 1
		}
		return 0
	},
	"shooting_star": func(_, cur venue.Candle) int {
		if body(cur) > 0 && upperWick(cur) >= 2*body(cur) && lowerWick(cur) <= body(cur) {
			return -1
		}
		return 0
	},
	"doji": func(_, cur venue.Candle) int {
		span := cur.High - cur.Low
		if span > 0 && body(cur) <= span*0.1 {
			return 1 // 中性形态，方向判定时两侧都算确认
		}
		return 0
	},
	"harami": func(prev, cur venue.Candle) int {
		inside := math.Max(cur.Open, cur.Close) <= math.Max(prev.Open, prev.Close) &&
			math.Min(cur.Open, cur.Close) >= math.Min(prev.Open, prev.Close)
		if !inside || body(prev) == 0 {
			return 0
		}
		if prev.Close < prev.Open && cur.Close > cur.Open {
			return 1
		}
		if prev.Close > prev.Open && cur.Close < cur.Open {
			return -1
		}
		return 0
	},
	"piercing": func(prev, cur venue.Candle) int {
		if prev.Close < prev.Open && cur.Close > cur.Open &&
			cur.Open < prev.Close && cur.Close > (prev.Open+prev.Close)/2 {
			return 1
		}
		return 0
	},
}

// KnownPattern 判断形态名是否受支持，供创建期校验使用。
func KnownPattern(name string) bool {
	_, ok := patternTable[strings.ToLower(strings.TrimSpace(name))]
	return ok
}

// Pattern 判断近期K线是否出现与方向一致的任一命名形态。
func (a *Analyzer) Pattern(ctx context.Context, symbol string, p plan.PatternParams, dir plan.Direction) (bool, error) {
	timeframe := p.Timeframe
	if timeframe == "" {
		timeframe = TimeframeFast
	}
	key := fmt.Sprintf("pattern:%s:%s:%s:%s", symbol, timeframe, strings.Join(p.Patterns, ","), dir)
	value, err := a.memo.Do(key, func() (interface{}, error) {
		candles, err := a.candles(ctx, symbol, timeframe)
		if err != nil {
			return nil, err
		}
		if len(candles) < 2 {
			return nil, fmt.Errorf("signal: %s K线不足以识别形态", symbol)
		}
		prev := candles[len(candles)-2]
		cur := candles[len(candles)-1]

		for _, name := range p.Patterns {
			name = strings.ToLower(strings.TrimSpace(name))
			fn, ok := patternTable[name]
			if !ok {
				return nil, fmt.Errorf("signal: 未知形态 %q", name)
			}
			v := fn(prev, cur)
			if v == 0 {
				continue
			}
			if name == "doji" {
				return true, nil
			}
			if (dir == plan.DirectionLong && v > 0) ||
				(dir == plan.DirectionShort && v < 0) {
				return true, nil
			}
		}
		return false, nil
	})
	if err != nil {
		return false, err
	}
	return value.(bool), nil
}

// Correlation 返回品种与参考品种收盘价的皮尔逊相关系数。
func (a *Analyzer) Correlation(ctx context.Context, symbol string, p plan.CorrelationParams) (float64, error) {
	timeframe := p.Timeframe
	if timeframe == "" {
		timeframe = TimeframeDefault
	}
	lookback := p.Lookback
	if lookback <= 2 {
		lookback = 30
	}
	key := fmt.Sprintf("correl:%s:%s:%s:%d", symbol, p.ReferenceSymbol, timeframe, lookback)
	value, err := a.memo.Do(key, func() (interface{}, error) {
		base, err := a.candles(ctx, symbol, timeframe)
		if err != nil {
			return nil, err
		}
		ref, err := a.candles(ctx, p.ReferenceSymbol, timeframe)
		if err != nil {
			return nil, err
		}
		n := len(base)
		if len(ref) < n {
			n = len(ref)
		}
		if n < lookback {
			return nil, fmt.Errorf("signal: %s/%s K线不足以计算相关性", symbol, p.ReferenceSymbol)
		}
		_, _, _, baseClose, _ := series(base[len(base)-n:])
		_, _, _, refClose, _ := series(ref[len(ref)-n:])
		v := last(talib.Correl(baseClose[n-lookback:], refClose[n-lookback:], lookback))
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("signal: %s/%s 相关系数无效", symbol, p.ReferenceSymbol)
		}
		return v, nil
	})
	if err != nil {
		return 0, err
	}
	return value.(float64), nil
}

// OrderFlow 从快周期K线近似订单流指标。
// delta: 带方向成交量占比[-1,1]；imbalance: 买方成交量占比[0,1]。
func (a *Analyzer) OrderFlow(ctx context.Context, symbol, metric string) (float64, error) {
	metric = strings.ToLower(strings.TrimSpace(metric))
	key := fmt.Sprintf("flow:%s:%s", symbol, metric)
	value, err := a.memo.Do(key, func() (interface{}, error) {
		candles, err := a.candles(ctx, symbol, TimeframeFast)
		if err != nil {
			return nil, err
		}
		if len(candles) < 20 {
			return nil, fmt.Errorf("signal: %s K线不足以近似订单流", symbol)
		}
		window := candles[len(candles)-20:]
		var buyVol, sellVol float64
		for _, c := range window {
			if c.Close >= c.Open {
				buyVol += c.Volume
			} else {
				sellVol += c.Volume
			}
		}
		total := buyVol + sellVol
		if total <= 0 {
			return nil, fmt.Errorf("signal: %s 成交量为零", symbol)
		}
		switch metric {
		case "delta":
			return (buyVol - sellVol) / total, nil
		case "imbalance":
			return buyVol / total, nil
		default:
			return nil, fmt.Errorf("signal: 未知订单流指标 %q", metric)
		}
	})
	if err != nil {
		return 0, err
	}
	return value.(float64), nil
}

// Confluence 返回0-100的聚合有利度评分：趋势、动量、波段位置
// 与成交量各占25分，按方向取向。
func (a *Analyzer) Confluence(ctx context.Context, symbol string, dir plan.Direction) (float64, error) {
	key := fmt.Sprintf("confluence:%s:%s", symbol, dir)
	value, err := a.memo.Do(key, func() (interface{}, error) {
		candles, err := a.candles(ctx, symbol, TimeframeDefault)
		if err != nil {
			return nil, err
		}
		if len(candles) < 60 {
			return nil, fmt.Errorf("signal: %s K线不足以计算汇聚评分", symbol)
		}
		_, high, low, closes, volume := series(candles)

		score := 0.0
		lastClose := last(closes)

		// 趋势：快慢EMA相对位置。
		ema12 := last(talib.Ema(closes, 12))
		ema26 := last(talib.Ema(closes, 26))
		if (dir == plan.DirectionLong && ema12 > ema26) ||
			(dir == plan.DirectionShort && ema12 < ema26) {
			score += 25
		}

		// 动量：RSI偏离中轴的方向。
		rsi := last(talib.Rsi(closes, 14))
		if (dir == plan.DirectionLong && rsi < 45) ||
			(dir == plan.DirectionShort && rsi > 55) {
			score += 25
		}

		// 波段位置：收盘价在布林带内的相对位置。
		upper, _, lower := talib.BBands(closes, 20, 2, 2, talib.EMA)
		width := last(upper) - last(lower)
		if width > 0 {
			pos := (lastClose - last(lower)) / width
			if (dir == plan.DirectionLong && pos < 0.35) ||
				(dir == plan.DirectionShort && pos > 0.65) {
				score += 25
			}
		}

		// 成交量：当前相对20期均值放大，配合趋势强度。
		adx := last(talib.Adx(high, low, closes, 14))
		avgVol := 0.0
		for _, v := range volume[len(volume)-20:] {
			avgVol += v
		}
		avgVol /= 20
		if avgVol > 0 && last(volume) > avgVol && adx > 20 {
			score += 25
		}

		return score, nil
	})
	if err != nil {
		return 0, err
	}
	return value.(float64), nil
}
