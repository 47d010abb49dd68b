package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config 是应用配置的根结构体
type Config struct {
	Gateway     GatewayConfig     `mapstructure:"gateway" yaml:"gateway"`
	Log         LogConfig         `mapstructure:"log" yaml:"log"`
	Kernel      KernelConfig      `mapstructure:"kernel" yaml:"kernel"`
	Executor    ExecutorConfig    `mapstructure:"executor" yaml:"executor"`
	Staging     StagingConfig     `mapstructure:"staging" yaml:"staging"`
	ObjectStore ObjectStoreConfig `mapstructure:"objectstore" yaml:"objectstore"`
}

// GatewayConfig 网关配置
type GatewayConfig struct {
	Port int    `mapstructure:"port" yaml:"port"`
	Host string `mapstructure:"host" yaml:"host"`
	// AuthToken 非空时要求 Authorization: Bearer <token>
	AuthToken string `mapstructure:"auth_token" yaml:"auth_token"`
	// WatchConfig 开启后监听配置文件变化并热更新日志级别
	WatchConfig     bool            `mapstructure:"watch_config" yaml:"watch_config"`
	ShutdownTimeout time.Duration   `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	RateLimit       RateLimitConfig `mapstructure:"rate_limit" yaml:"rate_limit"`
}

// RateLimitConfig 执行接口的按客户端限流
type RateLimitConfig struct {
	Enabled           bool          `mapstructure:"enabled" yaml:"enabled"`
	RequestsPerMinute int           `mapstructure:"requests_per_minute" yaml:"requests_per_minute"`
	Burst             int           `mapstructure:"burst" yaml:"burst"`
	CleanupInterval   time.Duration `mapstructure:"cleanup_interval" yaml:"cleanup_interval"`
}

// Addr 返回监听地址
func (c GatewayConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// LogConfig 日志配置
type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
	File   string `mapstructure:"file" yaml:"file"`
}

// KernelConfig 运行时池配置
type KernelConfig struct {
	PoolSize       int           `mapstructure:"pool_size" yaml:"pool_size"`
	AcquireTimeout time.Duration `mapstructure:"acquire_timeout" yaml:"acquire_timeout"`
	IdleTimeout    time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout"`
	MaxCallStack   int           `mapstructure:"max_call_stack" yaml:"max_call_stack"`
}

// ExecutorConfig 单次调用的超时与输出上限
type ExecutorConfig struct {
	DefaultTimeout    time.Duration `mapstructure:"default_timeout" yaml:"default_timeout"`
	MaxTimeout        time.Duration `mapstructure:"max_timeout" yaml:"max_timeout"`
	StagingMinTimeout time.Duration `mapstructure:"staging_min_timeout" yaml:"staging_min_timeout"`
	MaxOutputBytes    int           `mapstructure:"max_output_bytes" yaml:"max_output_bytes"`
}

// StagingConfig 文件传输配置
type StagingConfig struct {
	MaxInputBytes int64         `mapstructure:"max_input_bytes" yaml:"max_input_bytes"`
	HTTPTimeout   time.Duration `mapstructure:"http_timeout" yaml:"http_timeout"`
}

// ObjectStoreConfig 开发用对象存储配置
type ObjectStoreConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Path    string `mapstructure:"path" yaml:"path"`
	Secret  string `mapstructure:"secret" yaml:"secret"`
	// PublicURL 是签名 URL 的前缀, 为空时使用网关地址
	PublicURL     string        `mapstructure:"public_url" yaml:"public_url"`
	URLTTL        time.Duration `mapstructure:"url_ttl" yaml:"url_ttl"`
	ObjectTTL     time.Duration `mapstructure:"object_ttl" yaml:"object_ttl"`
	SweepSchedule string        `mapstructure:"sweep_schedule" yaml:"sweep_schedule"`
}

var (
	globalConfig *Config
	configPath   string
	mu           sync.RWMutex
)

// Load 加载配置文件
// 优先级: ENV > 配置文件 > 默认值
func Load(path string) (*Config, error) {
	mu.Lock()
	defer mu.Unlock()

	SetDefaults()

	viper.SetEnvPrefix("NBEXEC")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if path != "" {
		expandedPath, err := ExpandPath(path)
		if err != nil {
			return nil, err
		}
		configPath = expandedPath

		viper.SetConfigFile(expandedPath)
		if err := viper.ReadInConfig(); err != nil {
			// 忽略文件不存在错误, 只有解析错误才返回
			var pathErr *os.PathError
			if !errors.As(err, &pathErr) && !os.IsNotExist(err) {
				var parseErr viper.ConfigParseError
				if errors.As(err, &parseErr) {
					return nil, err
				}
			}
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	globalConfig = &cfg
	return &cfg, nil
}

// Validate 检查配置项之间的约束
func (c *Config) Validate() error {
	if c.Gateway.Port < 0 || c.Gateway.Port > 65535 {
		return fmt.Errorf("gateway.port out of range: %d", c.Gateway.Port)
	}
	if c.Gateway.RateLimit.Enabled && (c.Gateway.RateLimit.RequestsPerMinute < 1 || c.Gateway.RateLimit.Burst < 1) {
		return errors.New("gateway.rate_limit requires positive requests_per_minute and burst")
	}
	if c.Kernel.PoolSize < 1 {
		return fmt.Errorf("kernel.pool_size must be positive, got %d", c.Kernel.PoolSize)
	}
	if c.Executor.MaxTimeout > 0 && c.Executor.DefaultTimeout > c.Executor.MaxTimeout {
		return fmt.Errorf("executor.default_timeout %s exceeds executor.max_timeout %s",
			c.Executor.DefaultTimeout, c.Executor.MaxTimeout)
	}
	switch c.Log.Format {
	case "", "console", "json":
	default:
		return fmt.Errorf("log.format must be console or json, got %q", c.Log.Format)
	}
	if c.ObjectStore.Enabled && len(c.ObjectStore.Secret) < 16 {
		return errors.New("objectstore.secret must be at least 16 bytes when the object store is enabled")
	}
	return nil
}

// GetConfig 获取当前配置
func GetConfig() *Config {
	mu.RLock()
	defer mu.RUnlock()
	return globalConfig
}

// Path 返回已加载的配置文件路径
func Path() string {
	mu.RLock()
	defer mu.RUnlock()
	return configPath
}

// GetString 获取字符串配置值
func GetString(key string) string {
	return viper.GetString(key)
}

// Reload 重新读取配置文件, 失败时保留旧配置
func Reload() (*Config, error) {
	mu.Lock()
	defer mu.Unlock()

	if configPath == "" {
		return nil, errors.New("config path not set")
	}
	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	globalConfig = &cfg
	return &cfg, nil
}

// Set 设置配置值并持久化
func Set(key string, value any) error {
	mu.Lock()
	defer mu.Unlock()

	viper.Set(key, value)

	if configPath != "" {
		return save()
	}
	return nil
}

// save 内部保存函数，调用者需要持有锁
func save() error {
	if configPath == "" {
		return errors.New("config path not set")
	}

	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	data, err := yaml.Marshal(viper.AllSettings())
	if err != nil {
		return err
	}

	// 配置中含签名密钥, 使用 0600
	return os.WriteFile(configPath, data, 0600)
}

// Marshal 将配置序列化为 YAML, 密钥会被遮盖
func Marshal(cfg *Config) ([]byte, error) {
	redacted := *cfg
	if redacted.Gateway.AuthToken != "" {
		redacted.Gateway.AuthToken = "********"
	}
	if redacted.ObjectStore.Secret != "" {
		redacted.ObjectStore.Secret = "********"
	}
	return yaml.Marshal(&redacted)
}

// SaveTo 保存配置到指定路径
func SaveTo(cfg *Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0600)
}

// Reset 重置配置（主要用于测试）
func Reset() {
	mu.Lock()
	defer mu.Unlock()
	globalConfig = nil
	configPath = ""
	viper.Reset()
}
