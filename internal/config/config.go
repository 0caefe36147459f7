package config

import (
	"errors"
	"fmt"
	"strings"

	mapstructure "github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

const (
	defaultConfigPath = "configs/config.yaml"
	envPrefix         = "sentinel"
)

// Load 读取配置文件并结合环境变量返回 Config。
func Load(path string) (*Config, error) {
	v := viper.New()

	if path == "" {
		path = defaultConfigPath
	}

	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.SetEnvPrefix(envPrefix)
	replacer := strings.NewReplacer(".", "_")
	v.SetEnvKeyReplacer(replacer)
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil, fmt.Errorf("未找到配置文件 %q: %w", path, err)
		}
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.environment", "development")

	v.SetDefault("venue.name", "binanceusdm")
	v.SetDefault("venue.use_sandbox", false)
	v.SetDefault("venue.simulation", false)
	v.SetDefault("venue.retry.max_attempts", 5)
	v.SetDefault("venue.retry.min_delay", "500ms")
	v.SetDefault("venue.retry.max_delay", "5s")

	v.SetDefault("cache.ttl", "5s")
	v.SetDefault("cache.capacity", 50)
	v.SetDefault("cache.cleanup_interval", "1m")

	v.SetDefault("fetch.chunk_size", 20)
	v.SetDefault("fetch.max_attempts", 3)
	v.SetDefault("fetch.backoff_base", "2s")
	v.SetDefault("fetch.breaker_threshold", 3)
	v.SetDefault("fetch.breaker_reset", "60s")

	v.SetDefault("scheduler.adaptive", true)
	v.SetDefault("scheduler.tick_interval", "5s")
	v.SetDefault("scheduler.base_interval", "60s")
	v.SetDefault("scheduler.min_interval", "15s")
	v.SetDefault("scheduler.high_atr", 0.02)
	v.SetDefault("scheduler.low_atr", 0.005)

	v.SetDefault("checker.workers", 0)
	v.SetDefault("checker.task_timeout", "10s")
	v.SetDefault("checker.breaker_threshold", 3)
	v.SetDefault("checker.breaker_reset", "5m")
	v.SetDefault("checker.signal_ttl", "30s")

	v.SetDefault("orders.reconcile_interval", "30s")

	v.SetDefault("review.sweep_interval", "5m")
	v.SetDefault("review.cancel_distance_pct", 5.0)
	v.SetDefault("review.max_plan_age", "72h")
	v.SetDefault("review.aged_distance_pct", 2.5)
	v.SetDefault("review.reeval_drift_pct", 1.5)
	v.SetDefault("review.reeval_max_interval", "4h")
	v.SetDefault("review.reeval_cooldown", "1h")
	v.SetDefault("review.reeval_daily_cap", 6)

	v.SetDefault("queue.buffer", 256)
	v.SetDefault("queue.block_timeout", "5s")

	v.SetDefault("watchdog.check_interval", "30s")
	v.SetDefault("watchdog.stall_timeout", "2m")
	v.SetDefault("watchdog.max_restarts", 5)

	v.SetDefault("database.path", "data/plan_sentinel.db")
	v.SetDefault("database.max_open_conns", 4)
	v.SetDefault("database.max_idle_conns", 4)
	v.SetDefault("database.conn_max_lifetime", "1h")
	v.SetDefault("database.in_memory", false)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.encoding", "console")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.output_paths", []string{"stdout"})
	v.SetDefault("logging.error_output_paths", []string{"stderr"})

	v.SetDefault("monitor.enabled", true)
	v.SetDefault("monitor.port", 8787)
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}
