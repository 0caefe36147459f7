package plan

import (
	"errors"
	"fmt"
)

// Kind 标识条件类型。条件集中每个条件都必须为真计划才可执行。
type Kind string

const (
	// KindProximity 价格接近入场价位（廉价，优先检查）。
	KindProximity Kind = "price_proximity"
	// KindSession 交易时段闸门。
	KindSession Kind = "session"
	// KindBandRetouch 布林带回踩确认。
	KindBandRetouch Kind = "band_retouch"
	// KindExtremity 统计极值（z-score）确认。
	KindExtremity Kind = "zscore_extremity"
	// KindRangeStretch 区间拉伸确认。
	KindRangeStretch Kind = "range_stretch"
	// KindPattern 近期K线形态识别。
	KindPattern Kind = "candle_pattern"
	// KindCorrelation 跨品种相关性确认。
	KindCorrelation Kind = "correlation"
	// KindOrderFlow 订单流微观结构确认。
	KindOrderFlow Kind = "order_flow"
	// KindConfluence 汇聚评分下限（最昂贵，最后检查）。
	KindConfluence Kind = "confluence"
)

// Condition 为带类型参数的条件。每种类型对应一个参数字段，
// 创建期即校验，未知类型直接拒绝而不是评估时静默忽略。
type Condition struct {
	Kind Kind `json:"kind"`

	Proximity    *ProximityParams    `json:"proximity,omitempty"`
	Session      *SessionParams      `json:"session,omitempty"`
	BandRetouch  *BandRetouchParams  `json:"band_retouch,omitempty"`
	Extremity    *ExtremityParams    `json:"extremity,omitempty"`
	RangeStretch *RangeStretchParams `json:"range_stretch,omitempty"`
	Pattern      *PatternParams      `json:"pattern,omitempty"`
	Correlation  *CorrelationParams  `json:"correlation,omitempty"`
	OrderFlow    *OrderFlowParams    `json:"order_flow,omitempty"`
	Confluence   *ConfluenceParams   `json:"confluence,omitempty"`
}

// ProximityParams 控制价格接近闸门。Tolerance 为绝对价差，
// 为0时回退到计划自身的 tolerance。
type ProximityParams struct {
	Tolerance float64 `json:"tolerance,omitempty"`
}

// SessionParams 以UTC小时定义可交易窗口，支持跨日窗口。
type SessionParams struct {
	OpenHour  int `json:"open_hour"`
	CloseHour int `json:"close_hour"`
}

// BandRetouchParams 控制布林带回踩确认。
type BandRetouchParams struct {
	Timeframe string  `json:"timeframe"`
	Period    int     `json:"period"`
	Width     float64 `json:"width"`
}

// ExtremityParams 控制统计极值确认。
type ExtremityParams struct {
	Timeframe string  `json:"timeframe"`
	Lookback  int     `json:"lookback"`
	MinZScore float64 `json:"min_zscore"`
}

// RangeStretchParams 控制区间拉伸确认：当前K线振幅相对近期均值的倍数。
type RangeStretchParams struct {
	Timeframe string  `json:"timeframe"`
	Lookback  int     `json:"lookback"`
	MinRatio  float64 `json:"min_ratio"`
}

// PatternParams 控制K线形态识别，任一命名形态按方向确认即为真。
type PatternParams struct {
	Timeframe string   `json:"timeframe"`
	Patterns  []string `json:"patterns"`
}

// CorrelationParams 控制跨品种相关性确认。FailOpen 标记其为
// 辅助确认：信号源不可用时不阻塞计划。
type CorrelationParams struct {
	ReferenceSymbol string  `json:"reference_symbol"`
	Timeframe       string  `json:"timeframe"`
	Lookback        int     `json:"lookback"`
	MinCorrelation  float64 `json:"min_correlation"`
	FailOpen        bool    `json:"fail_open,omitempty"`
}

// OrderFlowParams 控制订单流确认。
type OrderFlowParams struct {
	Metric   string  `json:"metric"`
	MinValue float64 `json:"min_value"`
	FailOpen bool    `json:"fail_open,omitempty"`
}

// ConfluenceParams 控制聚合评分下限。
type ConfluenceParams struct {
	MinScore float64 `json:"min_score"`
}

// CostGroup 返回条件的成本分组，数值越小越廉价、越先检查。
func (c Condition) CostGroup() int {
	switch c.Kind {
	case KindProximity:
		return 0
	case KindSession:
		return 1
	case KindBandRetouch, KindExtremity, KindRangeStretch:
		return 2
	case KindPattern:
		return 3
	case KindCorrelation:
		return 4
	case KindOrderFlow:
		return 5
	case KindConfluence:
		return 6
	default:
		return 7
	}
}

// Validate 校验条件参数与类型匹配。
func (c Condition) Validate() error {
	switch c.Kind {
	case KindProximity:
		if c.Proximity == nil {
			return errors.New("缺少 proximity 参数")
		}
		if c.Proximity.Tolerance < 0 {
			return errors.New("proximity.tolerance 不能为负")
		}
	case KindSession:
		if c.Session == nil {
			return errors.New("缺少 session 参数")
		}
		if c.Session.OpenHour < 0 || c.Session.OpenHour > 23 ||
			c.Session.CloseHour < 0 || c.Session.CloseHour > 23 {
			return errors.New("session 小时必须位于[0,23]")
		}
	case KindBandRetouch:
		if c.BandRetouch == nil {
			return errors.New("缺少 band_retouch 参数")
		}
		if c.BandRetouch.Period <= 1 {
			return errors.New("band_retouch.period 必须大于1")
		}
		if c.BandRetouch.Width <= 0 {
			return errors.New("band_retouch.width 必须大于0")
		}
	case KindExtremity:
		if c.Extremity == nil {
			return errors.New("缺少 extremity 参数")
		}
		if c.Extremity.Lookback <= 2 {
			return errors.New("extremity.lookback 必须大于2")
		}
		if c.Extremity.MinZScore <= 0 {
			return errors.New("extremity.min_zscore 必须大于0")
		}
	case KindRangeStretch:
		if c.RangeStretch == nil {
			return errors.New("缺少 range_stretch 参数")
		}
		if c.RangeStretch.Lookback <= 1 {
			return errors.New("range_stretch.lookback 必须大于1")
		}
		if c.RangeStretch.MinRatio <= 0 {
			return errors.New("range_stretch.min_ratio 必须大于0")
		}
	case KindPattern:
		if c.Pattern == nil {
			return errors.New("缺少 pattern 参数")
		}
		if len(c.Pattern.Patterns) == 0 {
			return errors.New("pattern.patterns 至少包含一个形态")
		}
	case KindCorrelation:
		if c.Correlation == nil {
			return errors.New("缺少 correlation 参数")
		}
		if c.Correlation.ReferenceSymbol == "" {
			return errors.New("correlation.reference_symbol 不能为空")
		}
		if c.Correlation.MinCorrelation < -1 || c.Correlation.MinCorrelation > 1 {
			return errors.New("correlation.min_correlation 必须位于[-1,1]")
		}
	case KindOrderFlow:
		if c.OrderFlow == nil {
			return errors.New("缺少 order_flow 参数")
		}
		if c.OrderFlow.Metric == "" {
			return errors.New("order_flow.metric 不能为空")
		}
	case KindConfluence:
		if c.Confluence == nil {
			return errors.New("缺少 confluence 参数")
		}
		if c.Confluence.MinScore <= 0 {
			return errors.New("confluence.min_score 必须大于0")
		}
	default:
		return fmt.Errorf("未知条件类型 %q", c.Kind)
	}
	return nil
}

// FailOpen 标识该条件在信号不可用时是否放行。
// 仅显式标记的辅助确认可以放行，其余一律视为不满足。
func (c Condition) FailOpen() bool {
	switch c.Kind {
	case KindCorrelation:
		return c.Correlation != nil && c.Correlation.FailOpen
	case KindOrderFlow:
		return c.OrderFlow != nil && c.OrderFlow.FailOpen
	default:
		return false
	}
}
