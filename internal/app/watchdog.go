package app

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"plan-sentinel/internal/config"
	"plan-sentinel/internal/metrics"
)

// ErrWatchdogExhausted 表示主循环重启次数耗尽，进程应退出。
var ErrWatchdogExhausted = errors.New("watchdog: 重启次数耗尽")

// Watchdog 监督主循环：周期性检查心跳，停摆或意外退出时
// 重启，次数有限，耗尽后发出致命告警并放弃。
type Watchdog struct {
	cfg    config.WatchdogConfig
	logger *zap.Logger
}

// NewWatchdog 创建看门狗。
func NewWatchdog(cfg config.WatchdogConfig, logger *zap.Logger) *Watchdog {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Watchdog{cfg: cfg, logger: logger}
}

// Supervise 运行被监督的任务直到ctx取消或重启次数耗尽。
// run 每次以新的子ctx启动，heartbeat 报告其最近活动时间。
func (w *Watchdog) Supervise(ctx context.Context, run func(context.Context) error, heartbeat func() time.Time) error {
	restarts := 0

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		runCtx, cancel := context.WithCancel(ctx)
		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					w.logger.Error("主循环panic", zap.Any("panic", r))
					done <- errors.New("watchdog: 主循环panic")
				}
			}()
			done <- run(runCtx)
		}()

		err := w.watch(ctx, cancel, done, heartbeat)
		cancel()

		if ctx.Err() != nil {
			return ctx.Err()
		}

		restarts++
		metrics.WatchdogRestarts.Inc()
		if restarts > w.cfg.MaxRestarts {
			w.logger.Error("主循环重启次数耗尽，停止监控，需要人工介入",
				zap.Int("max_restarts", w.cfg.MaxRestarts),
				zap.Error(err),
			)
			return ErrWatchdogExhausted
		}

		w.logger.Warn("主循环异常，即将重启",
			zap.Int("restart", restarts),
			zap.Int("max_restarts", w.cfg.MaxRestarts),
			zap.Error(err),
		)
	}
}

// watch 等待任务退出或心跳停摆。返回导致本轮结束的原因。
func (w *Watchdog) watch(ctx context.Context, cancel context.CancelFunc, done <-chan error, heartbeat func() time.Time) error {
	ticker := time.NewTicker(w.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			// 等待任务收尾后透传取消。
			cancel()
			<-done
			return ctx.Err()
		case err := <-done:
			if err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return errors.New("watchdog: 主循环意外退出")
		case <-ticker.C:
			last := heartbeat()
			if last.IsZero() {
				continue
			}
			if stall := time.Since(last); stall > w.cfg.StallTimeout {
				w.logger.Error("主循环心跳停摆",
					zap.Duration("stall", stall),
					zap.Duration("timeout", w.cfg.StallTimeout),
				)
				cancel()
				<-done
				return errors.New("watchdog: 心跳停摆")
			}
		}
	}
}
