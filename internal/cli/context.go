package cli

import (
	"errors"
	"sync"

	"nbexec/internal/config"
	"nbexec/internal/objectstore"
	"nbexec/internal/server"
	"nbexec/internal/storage"

	"github.com/rs/zerolog"
)

// CLIContext CLI 上下文
type CLIContext struct {
	Config     *config.Config
	ConfigPath string
	Logger     *zerolog.Logger
	Verbose    bool
	Quiet      bool

	engineOnce sync.Once
	engine     *server.Engine

	storeOnce sync.Once
	db        *storage.DB
	store     *objectstore.Store
	storeErr  error
}

// NewCLIContext 创建 CLI 上下文
func NewCLIContext(cfg *config.Config, configPath string, log *zerolog.Logger, verbose, quiet bool) *CLIContext {
	return &CLIContext{
		Config:     cfg,
		ConfigPath: configPath,
		Logger:     log,
		Verbose:    verbose,
		Quiet:      quiet,
	}
}

// GetEngine 获取本地执行引擎（懒加载）
func (c *CLIContext) GetEngine() *server.Engine {
	c.engineOnce.Do(func() {
		c.engine = server.NewEngine(c.Config, *c.Log())
	})
	return c.engine
}

// GetStore 打开本地对象存储（懒加载）, 签名 URL 指向配置中的网关地址
func (c *CLIContext) GetStore() (*objectstore.Store, error) {
	c.storeOnce.Do(func() {
		if !c.Config.ObjectStore.Enabled {
			c.storeErr = errors.New("object store is disabled (set objectstore.enabled)")
			return
		}
		c.db, c.store, c.storeErr = server.OpenObjectStore(c.Config,
			server.BaseURL(c.Config.Gateway.Addr()), *c.Log())
	})
	return c.store, c.storeErr
}

// Close 关闭资源
func (c *CLIContext) Close() error {
	var errs []error
	if c.engine != nil {
		errs = append(errs, c.engine.Close())
	}
	if c.db != nil {
		errs = append(errs, c.db.Close())
	}
	return errors.Join(errs...)
}

// Log 获取 Logger
func (c *CLIContext) Log() *zerolog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	nop := zerolog.Nop()
	return &nop
}
