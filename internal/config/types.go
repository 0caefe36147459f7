package config

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/multierr"
)

// Config 聚合了系统运行所需的全部配置项。
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Venue     VenueConfig     `mapstructure:"venue"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Fetch     FetchConfig     `mapstructure:"fetch"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Checker   CheckerConfig   `mapstructure:"checker"`
	Orders    OrdersConfig    `mapstructure:"orders"`
	Review    ReviewConfig    `mapstructure:"review"`
	Queue     QueueConfig     `mapstructure:"queue"`
	Watchdog  WatchdogConfig  `mapstructure:"watchdog"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Monitor   MonitorConfig   `mapstructure:"monitor"`
}

// AppConfig 控制应用级参数。
type AppConfig struct {
	Environment string `mapstructure:"environment"`
}

// VenueConfig 描述执行场所的连接信息。
type VenueConfig struct {
	Name       string      `mapstructure:"name"`
	APIKey     string      `mapstructure:"api_key"`
	APISecret  string      `mapstructure:"api_secret"`
	APIPass    string      `mapstructure:"api_password"`
	UseSandbox bool        `mapstructure:"use_sandbox"`
	Simulation bool        `mapstructure:"simulation"`
	Retry      RetryConfig `mapstructure:"retry"`
}

// RetryConfig 统一控制重试机制。
type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	MinDelay    time.Duration `mapstructure:"min_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
}

// CacheConfig 控制报价缓存行为。
type CacheConfig struct {
	TTL             time.Duration `mapstructure:"ttl"`
	Capacity        int           `mapstructure:"capacity"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
}

// FetchConfig 控制批量行情拉取。
type FetchConfig struct {
	ChunkSize        int           `mapstructure:"chunk_size"`
	MaxAttempts      int           `mapstructure:"max_attempts"`
	BackoffBase      time.Duration `mapstructure:"backoff_base"`
	BreakerThreshold int           `mapstructure:"breaker_threshold"`
	BreakerReset     time.Duration `mapstructure:"breaker_reset"`
}

// SchedulerConfig 控制自适应调度。
type SchedulerConfig struct {
	Adaptive     bool          `mapstructure:"adaptive"`
	TickInterval time.Duration `mapstructure:"tick_interval"`
	BaseInterval time.Duration `mapstructure:"base_interval"`
	MinInterval  time.Duration `mapstructure:"min_interval"`
	HighATR      float64       `mapstructure:"high_atr"`
	LowATR       float64       `mapstructure:"low_atr"`
}

// CheckerConfig 控制并行条件检查。
type CheckerConfig struct {
	Workers          int           `mapstructure:"workers"`
	TaskTimeout      time.Duration `mapstructure:"task_timeout"`
	BreakerThreshold int           `mapstructure:"breaker_threshold"`
	BreakerReset     time.Duration `mapstructure:"breaker_reset"`
	SignalTTL        time.Duration `mapstructure:"signal_ttl"`
}

// OrdersConfig 控制挂单对账。
type OrdersConfig struct {
	ReconcileInterval time.Duration `mapstructure:"reconcile_interval"`
}

// ReviewConfig 控制撤销检查与重评估。
type ReviewConfig struct {
	SweepInterval     time.Duration      `mapstructure:"sweep_interval"`
	CancelDistancePct float64            `mapstructure:"cancel_distance_pct"`
	SymbolDistancePct map[string]float64 `mapstructure:"symbol_distance_pct"`
	MaxPlanAge        time.Duration      `mapstructure:"max_plan_age"`
	AgedDistancePct   float64            `mapstructure:"aged_distance_pct"`
	ReEvalDriftPct    float64            `mapstructure:"reeval_drift_pct"`
	ReEvalMaxInterval time.Duration      `mapstructure:"reeval_max_interval"`
	ReEvalCooldown    time.Duration      `mapstructure:"reeval_cooldown"`
	ReEvalDailyCap    int                `mapstructure:"reeval_daily_cap"`
}

// QueueConfig 控制异步持久化队列。
type QueueConfig struct {
	Buffer       int           `mapstructure:"buffer"`
	BlockTimeout time.Duration `mapstructure:"block_timeout"`
}

// WatchdogConfig 控制主循环看门狗。
type WatchdogConfig struct {
	CheckInterval time.Duration `mapstructure:"check_interval"`
	StallTimeout  time.Duration `mapstructure:"stall_timeout"`
	MaxRestarts   int           `mapstructure:"max_restarts"`
}

// DatabaseConfig 管理数据库连接。
type DatabaseConfig struct {
	Path            string        `mapstructure:"path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	InMemory        bool          `mapstructure:"in_memory"`
}

// LoggingConfig 控制日志输出。
type LoggingConfig struct {
	Level            string   `mapstructure:"level"`
	Encoding         string   `mapstructure:"encoding"`
	Development      bool     `mapstructure:"development"`
	OutputPaths      []string `mapstructure:"output_paths"`
	ErrorOutputPaths []string `mapstructure:"error_output_paths"`
}

// MonitorConfig 控制健康检查与指标服务。
type MonitorConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// Validate 对配置进行基本校验。
func (c *Config) Validate() error {
	var err error

	if c.App.Environment == "" {
		err = multierr.Append(err, errors.New("app.environment 不能为空"))
	}
	if c.Venue.Name == "" {
		err = multierr.Append(err, errors.New("venue.name 不能为空"))
	}
	if c.Venue.Retry.MaxAttempts <= 0 {
		err = multierr.Append(err, errors.New("venue.retry.max_attempts 必须大于0"))
	}
	if c.Venue.Retry.MinDelay <= 0 || c.Venue.Retry.MaxDelay <= 0 {
		err = multierr.Append(err, errors.New("venue.retry.delay 必须为正"))
	}
	if c.Venue.Retry.MinDelay > c.Venue.Retry.MaxDelay {
		err = multierr.Append(err, errors.New("venue.retry.min_delay 不能大于 max_delay"))
	}
	if c.Cache.TTL <= 0 {
		err = multierr.Append(err, errors.New("cache.ttl 必须大于0"))
	}
	if c.Cache.Capacity <= 0 {
		err = multierr.Append(err, errors.New("cache.capacity 必须大于0"))
	}
	if c.Cache.CleanupInterval <= 0 {
		err = multierr.Append(err, errors.New("cache.cleanup_interval 必须大于0"))
	}
	if c.Fetch.ChunkSize <= 0 {
		err = multierr.Append(err, errors.New("fetch.chunk_size 必须大于0"))
	}
	if c.Fetch.MaxAttempts <= 0 {
		err = multierr.Append(err, errors.New("fetch.max_attempts 必须大于0"))
	}
	if c.Fetch.BackoffBase <= 0 {
		err = multierr.Append(err, errors.New("fetch.backoff_base 必须大于0"))
	}
	if c.Fetch.BreakerThreshold <= 0 {
		err = multierr.Append(err, errors.New("fetch.breaker_threshold 必须大于0"))
	}
	if c.Fetch.BreakerReset <= 0 {
		err = multierr.Append(err, errors.New("fetch.breaker_reset 必须大于0"))
	}
	if c.Scheduler.TickInterval <= 0 {
		err = multierr.Append(err, errors.New("scheduler.tick_interval 必须大于0"))
	}
	if c.Scheduler.BaseInterval <= 0 {
		err = multierr.Append(err, errors.New("scheduler.base_interval 必须大于0"))
	}
	if c.Scheduler.MinInterval <= 0 {
		err = multierr.Append(err, errors.New("scheduler.min_interval 必须大于0"))
	}
	if c.Scheduler.MinInterval > c.Scheduler.BaseInterval {
		err = multierr.Append(err, errors.New("scheduler.min_interval 不能大于 base_interval"))
	}
	if c.Scheduler.HighATR <= c.Scheduler.LowATR {
		err = multierr.Append(err, errors.New("scheduler.high_atr 必须大于 low_atr"))
	}
	if c.Checker.Workers < 0 {
		err = multierr.Append(err, errors.New("checker.workers 不能为负"))
	}
	if c.Checker.TaskTimeout <= 0 {
		err = multierr.Append(err, errors.New("checker.task_timeout 必须大于0"))
	}
	if c.Checker.BreakerThreshold <= 0 {
		err = multierr.Append(err, errors.New("checker.breaker_threshold 必须大于0"))
	}
	if c.Checker.BreakerReset <= 0 {
		err = multierr.Append(err, errors.New("checker.breaker_reset 必须大于0"))
	}
	if c.Checker.SignalTTL <= 0 {
		err = multierr.Append(err, errors.New("checker.signal_ttl 必须大于0"))
	}
	if c.Orders.ReconcileInterval <= 0 {
		err = multierr.Append(err, errors.New("orders.reconcile_interval 必须大于0"))
	}
	if c.Review.SweepInterval <= 0 {
		err = multierr.Append(err, errors.New("review.sweep_interval 必须大于0"))
	}
	if c.Review.CancelDistancePct <= 0 {
		err = multierr.Append(err, errors.New("review.cancel_distance_pct 必须大于0"))
	}
	if c.Review.AgedDistancePct <= 0 || c.Review.AgedDistancePct > c.Review.CancelDistancePct {
		err = multierr.Append(err, errors.New("review.aged_distance_pct 必须位于(0, cancel_distance_pct]"))
	}
	if c.Review.MaxPlanAge <= 0 {
		err = multierr.Append(err, errors.New("review.max_plan_age 必须大于0"))
	}
	if c.Review.ReEvalDriftPct <= 0 {
		err = multierr.Append(err, errors.New("review.reeval_drift_pct 必须大于0"))
	}
	if c.Review.ReEvalMaxInterval <= 0 {
		err = multierr.Append(err, errors.New("review.reeval_max_interval 必须大于0"))
	}
	if c.Review.ReEvalCooldown <= 0 {
		err = multierr.Append(err, errors.New("review.reeval_cooldown 必须大于0"))
	}
	if c.Review.ReEvalDailyCap <= 0 {
		err = multierr.Append(err, errors.New("review.reeval_daily_cap 必须大于0"))
	}
	if c.Queue.Buffer <= 0 {
		err = multierr.Append(err, errors.New("queue.buffer 必须大于0"))
	}
	if c.Queue.BlockTimeout <= 0 {
		err = multierr.Append(err, errors.New("queue.block_timeout 必须大于0"))
	}
	if c.Watchdog.CheckInterval <= 0 {
		err = multierr.Append(err, errors.New("watchdog.check_interval 必须大于0"))
	}
	if c.Watchdog.StallTimeout <= c.Watchdog.CheckInterval {
		err = multierr.Append(err, errors.New("watchdog.stall_timeout 必须大于 check_interval"))
	}
	if c.Watchdog.MaxRestarts <= 0 {
		err = multierr.Append(err, errors.New("watchdog.max_restarts 必须大于0"))
	}
	if c.Database.Path == "" && !c.Database.InMemory {
		err = multierr.Append(err, errors.New("database.path 不能为空"))
	}
	if c.Database.MaxOpenConns <= 0 {
		err = multierr.Append(err, errors.New("database.max_open_conns 必须大于0"))
	}
	if c.Database.MaxIdleConns < 0 {
		err = multierr.Append(err, errors.New("database.max_idle_conns 不能为负"))
	}
	if c.Database.ConnMaxLifetime < 0 {
		err = multierr.Append(err, errors.New("database.conn_max_lifetime 不能为负"))
	}
	if c.Logging.Level == "" {
		err = multierr.Append(err, errors.New("logging.level 不能为空"))
	}
	if c.Logging.Encoding == "" {
		err = multierr.Append(err, errors.New("logging.encoding 不能为空"))
	}
	if len(c.Logging.OutputPaths) == 0 {
		err = multierr.Append(err, errors.New("logging.output_paths 至少包含一个输出目标"))
	}
	if len(c.Logging.ErrorOutputPaths) == 0 {
		err = multierr.Append(err, errors.New("logging.error_output_paths 至少包含一个输出目标"))
	}
	if c.Monitor.Enabled && (c.Monitor.Port <= 0 || c.Monitor.Port > 65535) {
		err = multierr.Append(err, errors.New("monitor.port 必须位于(0,65535]"))
	}

	if err != nil {
		return fmt.Errorf("配置校验失败: %w", err)
	}

	return nil
}
