// Package metrics 暴露引擎运行指标，经 /metrics 由 Prometheus 抓取。
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// TicksTotal 主循环完成的轮次。
	TicksTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sentinel_ticks_total",
		Help: "主循环完成的轮次数",
	})

	// TickDuration 单轮耗时分布。
	TickDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "sentinel_tick_duration_seconds",
		Help:    "主循环单轮耗时",
		Buckets: prometheus.DefBuckets,
	})

	// EvaluationsTotal 条件评估次数，按结果分列。
	EvaluationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sentinel_evaluations_total",
		Help: "条件评估次数",
	}, []string{"result"})

	// ExecutionsTotal 计划执行次数，按路径分列。
	ExecutionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sentinel_executions_total",
		Help: "计划执行次数",
	}, []string{"path"})

	// CancellationsTotal 计划撤销次数，按原因分列。
	CancellationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sentinel_cancellations_total",
		Help: "计划撤销次数",
	}, []string{"reason"})

	// ActivePlans 活跃计划数量。
	ActivePlans = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sentinel_active_plans",
		Help: "当前活跃计划数量",
	})

	// QuoteCacheHitRate 报价缓存累计命中率。
	QuoteCacheHitRate = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sentinel_quote_cache_hit_rate",
		Help: "报价缓存累计命中率",
	})

	// BreakerOpen 熔断器开闭状态，1为打开。
	BreakerOpen = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "sentinel_breaker_open",
		Help: "熔断器状态，1为打开",
	}, []string{"scope"})

	// WatchdogRestarts 看门狗触发的主循环重启次数。
	WatchdogRestarts = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sentinel_watchdog_restarts_total",
		Help: "看门狗触发的主循环重启次数",
	})
)

func init() {
	prometheus.MustRegister(
		TicksTotal,
		TickDuration,
		EvaluationsTotal,
		ExecutionsTotal,
		CancellationsTotal,
		ActivePlans,
		QuoteCacheHitRate,
		BreakerOpen,
		WatchdogRestarts,
	)
}
