// Package server assembles the execution engine, the optional object store
// and the gateway into one process. The serve command and the one-shot CLI
// commands share this wiring.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"nbexec/internal/config"
	"nbexec/internal/executor"
	"nbexec/internal/gateway"
	"nbexec/internal/kernel"
	"nbexec/internal/objectstore"
	"nbexec/internal/staging"
	"nbexec/internal/storage"
)

// Server runs the gateway in-process.
type Server struct {
	cfg      *config.Config
	logger   zerolog.Logger
	version  string
	kernel   *kernel.Kernel
	executor *executor.Executor

	db      *storage.DB
	store   *objectstore.Store
	sweeper *objectstore.Sweeper
	gateway *gateway.Server

	mu        sync.RWMutex
	running   bool
	addr      string
	startedAt time.Time
	errChan   chan error
}

// ServerConfig holds configuration for the embedded server.
type ServerConfig struct {
	Config  *config.Config
	Logger  zerolog.Logger
	Version string
}

// Engine is a kernel with an executor on top of it.
type Engine struct {
	Kernel   *kernel.Kernel
	Executor *executor.Executor
}

// Close releases the kernel's runtimes.
func (e *Engine) Close() error {
	return e.Kernel.Close()
}

// NewEngine builds the kernel, staging and executor from cfg.
func NewEngine(cfg *config.Config, logger zerolog.Logger) *Engine {
	k := kernel.New(kernel.PoolConfig{
		MaxSize:        cfg.Kernel.PoolSize,
		IdleTimeout:    cfg.Kernel.IdleTimeout,
		AcquireTimeout: cfg.Kernel.AcquireTimeout,
		MaxCallStack:   cfg.Kernel.MaxCallStack,
	}, logger)

	scfg := staging.DefaultConfig()
	if cfg.Staging.MaxInputBytes > 0 {
		scfg.MaxInputBytes = cfg.Staging.MaxInputBytes
	}
	if cfg.Staging.HTTPTimeout > 0 {
		scfg.HTTPTimeout = cfg.Staging.HTTPTimeout
	}

	xcfg := executor.DefaultConfig()
	if cfg.Executor.DefaultTimeout > 0 {
		xcfg.DefaultTimeout = cfg.Executor.DefaultTimeout
	}
	if cfg.Executor.MaxTimeout > 0 {
		xcfg.MaxTimeout = cfg.Executor.MaxTimeout
	}
	if cfg.Executor.StagingMinTimeout > 0 {
		xcfg.StagingMinTimeout = cfg.Executor.StagingMinTimeout
	}
	if cfg.Executor.MaxOutputBytes > 0 {
		xcfg.MaxOutputBytes = cfg.Executor.MaxOutputBytes
	}

	x := executor.New(k,
		staging.NewInput(scfg, nil, logger),
		staging.NewOutput(scfg, nil, logger),
		xcfg, logger)
	return &Engine{Kernel: k, Executor: x}
}

// OpenObjectStore opens the object database and builds a store whose
// signed URLs start with baseURL. The caller closes the returned DB.
func OpenObjectStore(cfg *config.Config, baseURL string, logger zerolog.Logger) (*storage.DB, *objectstore.Store, error) {
	oc := cfg.ObjectStore
	signer, err := objectstore.NewSigner([]byte(oc.Secret))
	if err != nil {
		return nil, nil, err
	}
	if oc.PublicURL != "" {
		baseURL = oc.PublicURL
	}
	db, err := storage.Open(oc.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("open object store: %w", err)
	}
	store := objectstore.New(db, signer, objectstore.Config{
		BaseURL:        baseURL,
		URLTTL:         oc.URLTTL,
		ObjectTTL:      oc.ObjectTTL,
		MaxObjectBytes: cfg.Staging.MaxInputBytes,
	}, logger)
	return db, store, nil
}

// BaseURL is the URL clients reach the gateway at when it listens on addr.
func BaseURL(addr string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return "http://" + addr
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, port)
}

// NewServer creates a server. Nothing listens until Start.
func NewServer(sc ServerConfig) (*Server, error) {
	if sc.Config == nil {
		return nil, errors.New("server: nil config")
	}
	if err := sc.Config.Validate(); err != nil {
		return nil, err
	}
	return &Server{
		cfg:     sc.Config,
		logger:  sc.Logger.With().Str("component", "server").Logger(),
		version: sc.Version,
		errChan: make(chan error, 1),
	}, nil
}

// ErrorChan reports errors from the serving goroutine.
func (s *Server) ErrorChan() <-chan error {
	return s.errChan
}

// Start binds the gateway address, wires the components and serves in a
// goroutine. It returns once the listener is bound.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}

	l, err := net.Listen("tcp", s.cfg.Gateway.Addr())
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.Gateway.Addr(), err)
	}
	addr := l.Addr().String()

	engine := NewEngine(s.cfg, s.logger)
	s.kernel = engine.Kernel
	s.executor = engine.Executor

	deps := gateway.Deps{
		Executor:  s.executor,
		PoolStats: s.kernel.Stats,
		Version:   s.version,
	}

	if s.cfg.ObjectStore.Enabled {
		db, store, err := OpenObjectStore(s.cfg, BaseURL(addr), s.logger)
		if err != nil {
			_ = l.Close()
			_ = s.kernel.Close()
			return err
		}
		s.db = db
		s.store = store
		deps.ObjectStore = store

		if sched := s.cfg.ObjectStore.SweepSchedule; sched != "" {
			sweeper, err := objectstore.NewSweeper(db, sched, s.logger)
			if err != nil {
				_ = l.Close()
				_ = s.kernel.Close()
				_ = db.Close()
				return err
			}
			s.sweeper = sweeper
			sweeper.Start()
		}
	}

	s.gateway = gateway.NewServer(s.cfg, deps)
	s.addr = addr
	s.running = true
	s.startedAt = time.Now()

	go func() {
		if err := s.gateway.Serve(l); err != nil {
			s.logger.Error().Err(err).Msg("gateway stopped")
			s.errChan <- err
		}
	}()

	s.logger.Info().
		Str("address", BaseURL(addr)).
		Int("pool_size", s.cfg.Kernel.PoolSize).
		Bool("objectstore", s.store != nil).
		Msg("nbexec server started")
	return nil
}

// Stop shuts the gateway down and releases every component.
func (s *Server) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return nil
	}
	s.running = false

	var errs []error
	timeout := s.cfg.Gateway.ShutdownTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := s.gateway.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("gateway shutdown: %w", err))
	}

	if s.sweeper != nil {
		<-s.sweeper.Stop().Done()
	}
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := s.kernel.Close(); err != nil {
		errs = append(errs, err)
	}

	s.logger.Info().Dur("uptime", time.Since(s.startedAt)).Msg("nbexec server stopped")
	return errors.Join(errs...)
}

// IsRunning reports whether Start succeeded and Stop has not run.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// Addr is the bound listen address, empty before Start.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.addr
}

// URL is the gateway base URL, empty before Start.
func (s *Server) URL() string {
	addr := s.Addr()
	if addr == "" {
		return ""
	}
	return BaseURL(addr)
}

// StartedAt returns when Start last succeeded.
func (s *Server) StartedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.startedAt
}

// Store returns the object store, nil when disabled.
func (s *Server) Store() *objectstore.Store {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.store
}

// Sweep removes expired objects now. It returns the count removed.
func (s *Server) Sweep() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.sweeper == nil {
		return 0
	}
	return s.sweeper.Sweep()
}
