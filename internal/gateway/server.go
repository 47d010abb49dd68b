// Package gateway provides the HTTP gateway server.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	v1 "nbexec/api/v1"
	"nbexec/internal/config"
	"nbexec/internal/gateway/handlers"
	"nbexec/internal/gateway/middleware"
	"nbexec/internal/gateway/websocket"
	"nbexec/internal/kernel"
	"nbexec/internal/metrics"
	"nbexec/pkg/logger"
)

// SessionWSPath is the websocket session endpoint.
const SessionWSPath = "/api/v1/session/ws"

// ObjectStore serves signed object URLs.
type ObjectStore interface {
	v1.Presigner
	RegisterRoutes(r *mux.Router)
}

// Deps are the components the gateway serves.
type Deps struct {
	Executor v1.Executor
	// PoolStats reports runtime pool occupancy. Optional.
	PoolStats func() kernel.PoolStats
	// ObjectStore is nil unless the dev object store is enabled.
	ObjectStore ObjectStore
	Version     string
}

// Server represents the HTTP gateway server.
type Server struct {
	httpServer  *http.Server
	router      *mux.Router
	hub         *websocket.Hub
	watcher     *Watcher
	config      *config.Config
	rateLimiter *middleware.RateLimiter
	apiRouter   *v1.Router
	version     string
	closing     atomic.Bool
}

// NewServer creates a gateway server with all routes registered.
func NewServer(cfg *config.Config, deps Deps) *Server {
	router := mux.NewRouter()

	rl := cfg.Gateway.RateLimit
	rateLimiter := middleware.NewRateLimiter(middleware.RateLimiterConfig{
		RequestsPerMinute: rl.RequestsPerMinute,
		Burst:             rl.Burst,
		Enabled:           rl.Enabled,
		CleanupInterval:   rl.CleanupInterval,
	})

	version := deps.Version
	if version == "" {
		version = "dev"
	}

	s := &Server{
		router:      router,
		hub:         websocket.NewHub(deps.Executor),
		config:      cfg,
		rateLimiter: rateLimiter,
		version:     version,
	}

	var presigner v1.Presigner
	if deps.ObjectStore != nil {
		presigner = deps.ObjectStore
	}
	s.apiRouter = v1.NewRouter(&v1.RouterDeps{
		Executor:  deps.Executor,
		PoolStats: deps.PoolStats,
		Presigner: presigner,
		Version:   version,
	})

	router.Use(metrics.Middleware, s.limitExecution)
	s.setupRoutes(deps.ObjectStore)

	// Recovery -> RequestID -> Logging -> CORS -> Auth -> Contract -> router
	handler := middleware.Recovery(
		middleware.RequestID(
			middleware.Logging(
				middleware.CORS(
					middleware.Auth(cfg.Gateway.AuthToken, authExempt)(
						middleware.Contract(router),
					),
				),
			),
		),
	)

	s.httpServer = &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		// Calls may run for the full executor timeout.
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}
	return s
}

func (s *Server) setupRoutes(store ObjectStore) {
	s.router.HandleFunc("/healthz", handlers.Liveness(s.version)).Methods(http.MethodGet)
	s.router.HandleFunc("/readyz", handlers.Readiness(s.version, s.ready)).Methods(http.MethodGet)
	s.router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	s.router.HandleFunc(SessionWSPath, s.hub.ServeWS).Methods(http.MethodGet)
	s.apiRouter.RegisterRoutes(s.router)

	if store != nil {
		store.RegisterRoutes(s.router)
	}
}

func (s *Server) ready() error {
	if s.closing.Load() {
		return errors.New("shutting down")
	}
	return nil
}

// authExempt lists paths reachable without the bearer token. Object URLs
// carry their own signed token.
func authExempt(path string) bool {
	switch path {
	case "/healthz", "/readyz", "/metrics", "/api/v1/health":
		return true
	}
	return strings.HasPrefix(path, "/objects/")
}

// limitExecution applies the per-client rate limit to the calls that take
// a runtime.
func (s *Server) limitExecution(next http.Handler) http.Handler {
	limited := s.rateLimiter.RateLimit(next)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/execute", "/api/v1/session/execute", SessionWSPath:
			limited.ServeHTTP(w, r)
		default:
			next.ServeHTTP(w, r)
		}
	})
}

// Start listens on the configured address and serves until Shutdown.
func (s *Server) Start() error {
	addr := s.config.Gateway.Addr()
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	return s.Serve(l)
}

// Serve serves on l until Shutdown.
func (s *Server) Serve(l net.Listener) error {
	handlers.InitStartTime()
	s.httpServer.Addr = l.Addr().String()

	go s.hub.Run()

	if s.config.Gateway.WatchConfig {
		s.startWatcher()
	}

	logger.Info().
		Str("addr", s.httpServer.Addr).
		Bool("auth", s.config.Gateway.AuthToken != "").
		Bool("rate_limit", s.config.Gateway.RateLimit.Enabled).
		Msg("Starting gateway server")

	if err := s.httpServer.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

func (s *Server) startWatcher() {
	path := config.Path()
	if path == "" {
		logger.Warn().Msg("watch_config set but no config file loaded")
		return
	}
	w, err := NewWatcher(path, s.reloadConfig)
	if err == nil {
		err = w.Start()
	}
	if err != nil {
		logger.Warn().Err(err).Str("path", path).Msg("Failed to watch config file")
		return
	}
	s.watcher = w
}

// reloadConfig re-reads the config file and applies the settings that can
// change at runtime. Only the log level does today.
func (s *Server) reloadConfig(path string) {
	cfg, err := config.Reload()
	if err != nil {
		logger.Warn().Err(err).Str("path", path).Msg("Config reload failed, keeping previous config")
		return
	}
	if cfg.Log.Level != "" && !logger.SetLevel(cfg.Log.Level) {
		logger.Warn().Str("level", cfg.Log.Level).Msg("Ignoring invalid log level")
	}
	logger.Info().Str("path", path).Str("level", logger.Level().String()).Msg("Config reloaded")
	s.hub.Broadcast(websocket.Message{Type: websocket.TypeReload, Message: "configuration reloaded"})
}

// Shutdown stops accepting requests and waits for in-flight calls, up to
// the configured shutdown timeout. Session connections are closed and
// their running cells interrupted.
func (s *Server) Shutdown(ctx context.Context) error {
	logger.Info().Msg("Shutting down gateway server")
	s.closing.Store(true)

	if s.watcher != nil {
		s.watcher.Stop()
	}
	s.rateLimiter.Stop()
	s.hub.Close()

	if d := s.config.Gateway.ShutdownTimeout; d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown error: %w", err)
	}
	return nil
}

// Handler returns the full middleware-wrapped handler.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Router returns the underlying router for testing.
func (s *Server) Router() *mux.Router {
	return s.router
}

// Hub returns the websocket session hub.
func (s *Server) Hub() *websocket.Hub {
	return s.hub
}
