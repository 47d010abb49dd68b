package config

import (
	"time"

	"github.com/spf13/viper"
)

// SetDefaults 设置所有配置项的默认值
func SetDefaults() {
	// Gateway 配置
	viper.SetDefault("gateway.port", 8080)
	viper.SetDefault("gateway.host", "127.0.0.1")
	viper.SetDefault("gateway.auth_token", "")
	viper.SetDefault("gateway.watch_config", false)
	viper.SetDefault("gateway.shutdown_timeout", 15*time.Second)
	viper.SetDefault("gateway.rate_limit.enabled", false)
	viper.SetDefault("gateway.rate_limit.requests_per_minute", 60)
	viper.SetDefault("gateway.rate_limit.burst", 10)
	viper.SetDefault("gateway.rate_limit.cleanup_interval", 5*time.Minute)

	// Log 配置
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.format", "console")
	viper.SetDefault("log.file", "")

	// Kernel 配置
	viper.SetDefault("kernel.pool_size", 4)
	viper.SetDefault("kernel.acquire_timeout", 30*time.Second)
	viper.SetDefault("kernel.idle_timeout", 10*time.Minute)
	viper.SetDefault("kernel.max_call_stack", 10000)

	// Executor 配置
	viper.SetDefault("executor.default_timeout", 120*time.Second)
	viper.SetDefault("executor.max_timeout", 600*time.Second)
	viper.SetDefault("executor.staging_min_timeout", 300*time.Second)
	viper.SetDefault("executor.max_output_bytes", 1<<20)

	// Staging 配置
	viper.SetDefault("staging.max_input_bytes", int64(512<<20))
	viper.SetDefault("staging.http_timeout", 5*time.Minute)

	// ObjectStore 配置 (仅开发使用)
	viper.SetDefault("objectstore.enabled", false)
	viper.SetDefault("objectstore.path", DefaultObjectStorePath())
	viper.SetDefault("objectstore.secret", "")
	viper.SetDefault("objectstore.public_url", "")
	viper.SetDefault("objectstore.url_ttl", 15*time.Minute)
	viper.SetDefault("objectstore.object_ttl", 24*time.Hour)
	viper.SetDefault("objectstore.sweep_schedule", "@every 10m")
}
