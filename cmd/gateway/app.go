package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/overgate-io/overgate/internal/auth"
	"github.com/overgate-io/overgate/internal/cache"
	"github.com/overgate-io/overgate/internal/circuitbreaker"
	"github.com/overgate-io/overgate/internal/client"
	"github.com/overgate-io/overgate/internal/config"
	"github.com/overgate-io/overgate/internal/metrics"
	"github.com/overgate-io/overgate/internal/middleware"
	"github.com/overgate-io/overgate/internal/observability"
	"github.com/overgate-io/overgate/internal/pipeline"
	"github.com/overgate-io/overgate/internal/proxy"
	"github.com/overgate-io/overgate/internal/registry"
	"github.com/overgate-io/overgate/internal/webhook"
)

// ginModeOnce ensures gin.SetMode is only called once across tests and
// the real binary.
var ginModeOnce sync.Once

// application owns every long-lived gateway component and their
// shutdown order.
type application struct {
	cfg             *config.Config
	configPath      string
	logger          observability.Logger
	shutdownTimeout time.Duration

	clients    *client.Store
	registry   *registry.Registry
	gateway    *pipeline.Gateway
	cache      cache.Cache
	dispatcher *webhook.Dispatcher
	watcher    *config.Watcher

	server *http.Server
}

// newApplication assembles the gateway from configuration. Components
// are constructed bottom-up so each dependency exists before its user.
func newApplication(cfg *config.Config, configPath string, logger observability.Logger) (*application, error) {
	app := &application{
		cfg:             cfg,
		configPath:      configPath,
		logger:          logger,
		shutdownTimeout: cfg.Server.ShutdownTimeout.Duration(),
	}

	app.clients = client.NewStoreFromConfig(cfg.Clients)

	breakers := circuitbreaker.NewRegistry(nil, logger)
	app.registry = registry.New(breakers, logger)
	if err := app.registry.Load(cfg.Endpoints); err != nil {
		return nil, fmt.Errorf("failed to load endpoints: %w", err)
	}

	authenticator, err := auth.New(app.clients, &cfg.Auth, auth.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize authenticator: %w", err)
	}

	responseCache, err := cache.New(&cfg.Cache, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize cache: %w", err)
	}
	app.cache = responseCache

	app.dispatcher = webhook.New(cfg.Webhooks, webhook.WithLogger(logger))

	forwarderOpts := []proxy.Option{proxy.WithLogger(logger)}
	if cfg.Auth.APIKeyHeader != "" {
		forwarderOpts = append(forwarderOpts, proxy.WithStripHeaders(cfg.Auth.APIKeyHeader))
	} else {
		forwarderOpts = append(forwarderOpts, proxy.WithStripHeaders(auth.DefaultAPIKeyHeader))
	}

	gw, err := pipeline.New(pipeline.Deps{
		Registry:  app.registry,
		Clients:   app.clients,
		Auth:      authenticator,
		Cache:     responseCache,
		Forwarder: proxy.New(forwarderOpts...),
		Webhooks:  app.dispatcher,
		Logger:    logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to assemble pipeline: %w", err)
	}
	app.gateway = gw

	app.server = &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      app.buildEngine(),
		ReadTimeout:  cfg.Server.ReadTimeout.Duration(),
		WriteTimeout: cfg.Server.WriteTimeout.Duration(),
	}

	logger.Info("gateway initialized",
		observability.Int("endpoints", app.registry.Count()),
		observability.Int("clients", app.clients.Count()),
		observability.String("cache_backend", cacheBackendName(&cfg.Cache)),
	)
	return app, nil
}

func cacheBackendName(cfg *config.CacheConfig) string {
	if cfg.Backend == "" {
		return config.CacheBackendMemory
	}
	return cfg.Backend
}

// buildEngine mounts the operational routes on gin and routes all
// remaining traffic into the request pipeline.
func (a *application) buildEngine() *gin.Engine {
	ginModeOnce.Do(func() {
		gin.SetMode(gin.ReleaseMode)
	})
	engine := gin.New()

	engine.GET("/metrics", gin.WrapH(a.metricsHandler()))
	engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	engine.GET("/readyz", func(c *gin.Context) {
		if a.registry.Count() == 0 {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "no endpoints loaded"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})

	engine.NoRoute(gin.WrapH(a.buildPipelineHandler()))
	return engine
}

// buildPipelineHandler wraps the pipeline in the host middleware chain.
// Recovery sits outermost so panics anywhere below still produce a JSON
// 500; the ingress limiter rejects before any per-request work happens.
func (a *application) buildPipelineHandler() http.Handler {
	return middleware.Chain(
		http.HandlerFunc(a.gateway.Handle),
		middleware.Recovery(a.logger),
		middleware.RequestID(),
		middleware.IngressLimit(a.cfg.Server.GlobalRateLimit),
		middleware.Logging(a.logger),
	)
}

func (a *application) metricsHandler() http.Handler {
	reg := prometheus.NewRegistry()
	metrics.Get().MustRegister(reg)
	cache.GetCacheMetrics().MustRegister(reg)
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

// reload applies a freshly validated configuration without restarting.
// The endpoint registry, client store, and rate limiter state swap
// atomically from the caller's perspective; server-level settings
// (address, timeouts) require a restart and are left untouched.
func (a *application) reload(newCfg *config.Config) {
	if err := a.registry.Load(newCfg.Endpoints); err != nil {
		a.logger.Error("config reload rejected: endpoint load failed",
			observability.Error(err))
		return
	}
	a.clients.Load(newCfg.Clients)
	if err := a.gateway.ResetLimiters(); err != nil {
		a.logger.Warn("failed to reset rate limiters after reload",
			observability.Error(err))
	}
	a.cfg = newCfg

	a.logger.Info("configuration reloaded",
		observability.Int("endpoints", a.registry.Count()),
		observability.Int("clients", a.clients.Count()),
	)
}

// Run starts the config watcher and HTTP server, then blocks until a
// termination signal arrives and shutdown completes.
func (a *application) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	watcher, err := config.NewWatcher(a.configPath, a.reload,
		config.WithWatcherLogger(a.logger),
		config.WithErrorCallback(func(err error) {
			a.logger.Error("config reload failed", observability.Error(err))
		}),
	)
	if err != nil {
		a.logger.Warn("config hot reload disabled", observability.Error(err))
	} else {
		a.watcher = watcher
		if err := watcher.Start(ctx); err != nil {
			a.logger.Warn("config hot reload disabled", observability.Error(err))
			a.watcher = nil
		}
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("gateway listening",
			observability.String("address", a.server.Addr))
		if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigCh:
		a.logger.Info("shutdown signal received",
			observability.String("signal", sig.String()))
	}

	return a.shutdown()
}

// shutdown drains in dependency order: stop accepting requests, let the
// webhook queue flush, then release pipeline and cache resources.
func (a *application) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout)
	defer cancel()

	if a.watcher != nil {
		if err := a.watcher.Stop(); err != nil {
			a.logger.Warn("config watcher stop failed", observability.Error(err))
		}
	}

	if err := a.server.Shutdown(ctx); err != nil {
		a.logger.Warn("server shutdown incomplete", observability.Error(err))
	}

	if err := a.dispatcher.Close(ctx); err != nil {
		a.logger.Warn("webhook dispatcher drain incomplete", observability.Error(err))
	}

	if err := a.gateway.Close(); err != nil {
		a.logger.Warn("pipeline close failed", observability.Error(err))
	}
	if err := a.cache.Close(); err != nil {
		a.logger.Warn("cache close failed", observability.Error(err))
	}

	a.logger.Info("gateway stopped")
	return nil
}
