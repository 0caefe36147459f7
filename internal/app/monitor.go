package app

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"plan-sentinel/internal/config"
)

// Monitor 提供健康检查、计划列表与指标的HTTP服务。
type Monitor struct {
	cfg    config.MonitorConfig
	engine *Engine
	logger *zap.Logger
	server *http.Server
}

// NewMonitor 创建监控服务。
func NewMonitor(cfg config.MonitorConfig, engine *Engine, logger *zap.Logger) *Monitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Monitor{cfg: cfg, engine: engine, logger: logger}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", m.handleHealth)
	mux.HandleFunc("/plans", m.handlePlans)
	mux.Handle("/metrics", promhttp.Handler())

	m.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return m
}

// Start 在后台启动HTTP服务。
func (m *Monitor) Start() {
	go func() {
		m.logger.Info("监控服务启动", zap.String("addr", m.server.Addr))
		if err := m.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			m.logger.Error("监控服务异常退出", zap.Error(err))
		}
	}()
}

// Shutdown 优雅关闭HTTP服务。
func (m *Monitor) Shutdown(ctx context.Context) error {
	return m.server.Shutdown(ctx)
}

func (m *Monitor) handleHealth(w http.ResponseWriter, r *http.Request) {
	heartbeat := m.engine.Heartbeat()
	healthy := m.engine.Running() && !heartbeat.IsZero()

	payload := map[string]interface{}{
		"running":                m.engine.Running(),
		"last_heartbeat":         heartbeat,
		"active_plans":           m.engine.set.Len(),
		"cache_hit_rate":         m.engine.cache.HitRate(),
		"evaluation_met_rate":    m.engine.EvaluationMetRate(),
		"execution_success_rate": m.engine.ExecutionSuccessRate(),
		"quote_breakers":         m.engine.fetcher.Breakers().States(),
		"checker_breaker":        m.engine.pool.BreakerState(),
	}

	w.Header().Set("Content-Type", "application/json")
	if !healthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(payload)
}

func (m *Monitor) handlePlans(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(m.engine.set.Snapshot())
}
