// Package api hosts the HTTP server of the OAuth helper: the JSON API for the
// PKCE flow, the operator page, health and metrics endpoints.
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/loLollipop/refresh-token-got-it/internal/api/handlers/oauthflow"
	"github.com/loLollipop/refresh-token-got-it/internal/api/middleware"
	"github.com/loLollipop/refresh-token-got-it/internal/api/public"
	"github.com/loLollipop/refresh-token-got-it/internal/auth/codex"
	"github.com/loLollipop/refresh-token-got-it/internal/config"
	"github.com/loLollipop/refresh-token-got-it/internal/logging"
	"github.com/loLollipop/refresh-token-got-it/internal/session"
	"github.com/loLollipop/refresh-token-got-it/internal/util"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
)

// AuthFactory builds the OAuth client for a configuration.
type AuthFactory func(cfg *config.Config) *codex.CodexAuth

type serverOptions struct {
	authFactory AuthFactory
	assets      *public.Assets
	middleware  []gin.HandlerFunc
}

// ServerOption customises server construction.
type ServerOption func(*serverOptions)

// WithAuthFactory replaces the OAuth client constructor, mainly for tests.
func WithAuthFactory(factory AuthFactory) ServerOption {
	return func(o *serverOptions) {
		if factory != nil {
			o.authFactory = factory
		}
	}
}

// WithAssets serves the given operator page instead of the configured one.
func WithAssets(assets *public.Assets) ServerOption {
	return func(o *serverOptions) { o.assets = assets }
}

// WithMiddleware appends additional Gin middleware to the engine.
func WithMiddleware(mw ...gin.HandlerFunc) ServerOption {
	return func(o *serverOptions) { o.middleware = append(o.middleware, mw...) }
}

// Server is the HTTP front of the helper.
type Server struct {
	engine      *gin.Engine
	flow        *oauthflow.Handler
	authFactory AuthFactory

	mu      sync.Mutex
	cfg     *config.Config
	server  *http.Server
	stopped bool

	metricsEnabled atomic.Bool
}

// NewServer builds the router. The session store stays owned by the caller.
func NewServer(cfg *config.Config, store session.Store, opts ...ServerOption) (*Server, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	if store == nil {
		return nil, errors.New("session store is nil")
	}

	options := serverOptions{authFactory: codex.NewCodexAuth}
	for _, opt := range opts {
		opt(&options)
	}
	if options.assets == nil {
		assets, err := public.New(cfg.PublicDir)
		if err != nil {
			return nil, err
		}
		options.assets = assets
	}

	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(logging.GinLogrusLogger(), logging.GinLogrusRecovery())
	engine.Use(options.middleware...)

	s := &Server{
		engine:      engine,
		flow:        oauthflow.NewHandler(cfg, options.authFactory(cfg), store),
		authFactory: options.authFactory,
		cfg:         cfg,
	}
	s.metricsEnabled.Store(cfg.MetricsEnabled)
	s.setupRoutes(options.assets)
	return s, nil
}

func (s *Server) setupRoutes(assets *public.Assets) {
	s.engine.GET("/healthz", func(c *gin.Context) {
		logging.SkipGinRequestLogging(c)
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	metricsHandler := gin.WrapH(promhttp.Handler())
	s.engine.GET("/metrics", func(c *gin.Context) {
		if !s.metricsEnabled.Load() {
			c.JSON(http.StatusNotFound, gin.H{"error": "Not Found"})
			return
		}
		logging.SkipGinRequestLogging(c)
		metricsHandler(c)
	})

	apiGroup := s.engine.Group("/api", middleware.LimitBody(middleware.DefaultMaxBodyBytes), middleware.NoStore())
	{
		apiGroup.POST("/generate-auth-url", s.flow.GenerateAuthURL)
		apiGroup.POST("/exchange-code", s.flow.Exchange)
		apiGroup.POST("/exchange", s.flow.Exchange)
		apiGroup.GET("/config", s.flow.Settings)
	}

	s.engine.NoRoute(assets.Handle)
}

// Handler exposes the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start listens on the configured address and serves until Stop is called.
func (s *Server) Start() error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	if s.server != nil {
		s.mu.Unlock()
		return errors.New("server already started")
	}
	cfg := s.cfg
	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	server := &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.server = server
	s.mu.Unlock()

	log.Infof("server listening on http://%s", displayAddr(cfg.Host, cfg.Port))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	return nil
}

// Stop gracefully shuts the server down. A server stopped before Start never serves.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	server := s.server
	s.server = nil
	s.stopped = true
	s.mu.Unlock()

	if server == nil {
		return nil
	}
	stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := server.Shutdown(stopCtx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}
	log.Info("server stopped")
	return nil
}

// UpdateConfig applies a reloaded configuration. Listener and session store
// settings only take effect after a restart.
func (s *Server) UpdateConfig(cfg *config.Config) {
	if cfg == nil {
		return
	}
	s.mu.Lock()
	old := s.cfg
	s.cfg = cfg
	s.mu.Unlock()

	util.SetLogLevel(cfg)
	s.flow.UpdateConfig(cfg, s.authFactory(cfg))
	s.metricsEnabled.Store(cfg.MetricsEnabled)

	if old != nil {
		if old.Host != cfg.Host || old.Port != cfg.Port {
			log.Warn("listen address changed; restart to apply")
		}
		if old.Session.Store != cfg.Session.Store {
			log.Warn("session store changed; restart to apply")
		}
	}
	log.Info("configuration updated")
}

func displayAddr(host string, port int) string {
	if host == "" {
		host = "localhost"
	}
	return net.JoinHostPort(host, strconv.Itoa(port))
}
