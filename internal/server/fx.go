// Package server provides the core application server and dependency injection.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/linkmeta/internal/api"
	"github.com/JakeFAU/linkmeta/internal/batch"
	"github.com/JakeFAU/linkmeta/internal/cache"
	"github.com/JakeFAU/linkmeta/internal/clock/system"
	"github.com/JakeFAU/linkmeta/internal/config"
	"github.com/JakeFAU/linkmeta/internal/extract"
	"github.com/JakeFAU/linkmeta/internal/fetcher"
	collyfetcher "github.com/JakeFAU/linkmeta/internal/fetcher/colly"
	"github.com/JakeFAU/linkmeta/internal/id/uuid"
	"github.com/JakeFAU/linkmeta/internal/logging"
	"github.com/JakeFAU/linkmeta/internal/lookup"
	"github.com/JakeFAU/linkmeta/internal/metrics"
	"github.com/JakeFAU/linkmeta/internal/policy/ratelimit"
	"github.com/JakeFAU/linkmeta/internal/resolver"
)

const shutdownTimeout = 10 * time.Second

// App contains the application's dependencies.
type App struct {
	cfg       *config.Config
	logger    *zap.Logger
	apiServer *api.Server
	cache     *cache.Cache[extract.Metadata]
	batch     *batch.Orchestrator
}

// NewApp creates a new App with the given configuration.
func NewApp(cfg *config.Config, logger *zap.Logger) (*App, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	logger.Info("creating application",
		zap.String("addr", cfg.Server.Addr()),
		zap.Int("cache_capacity", cfg.Cache.Capacity),
		zap.Int("max_redirects", cfg.Resolver.MaxRedirects),
		zap.Bool("rate_limit", cfg.RateLimit.Enabled),
	)
	return &App{cfg: cfg, logger: logger}, nil
}

// Handler exposes the HTTP routes.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Batch exposes the orchestrator for one-shot lookups.
func (a *App) Batch() *batch.Orchestrator {
	return a.batch
}

// Logger returns the application logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Run starts the HTTP server and blocks until the context is canceled or a
// termination signal arrives.
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("application started")
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:              a.cfg.Server.Addr(),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			serveErr <- err
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}

	closeErr := a.Close(shutdownCtx)
	select {
	case err := <-serveErr:
		return fmt.Errorf("serve: %w", err)
	default:
		return closeErr
	}
}

// Close waits for background cache revalidations and flushes the logger.
func (a *App) Close(ctx context.Context) error {
	if a.cache != nil {
		done := make(chan struct{})
		go func() {
			a.cache.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			a.logger.Warn("background revalidations still running at shutdown")
		}
	}
	a.logger.Info("shutdown complete")
	// Sync fails on non-file sinks such as a terminal; nothing to act on.
	_ = a.logger.Sync()
	return nil
}

// Build creates the application's dependencies.
func Build(_ context.Context, cfg *config.Config) (*App, error) {
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)

	app, err := NewApp(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("app init failed: %w", err)
	}
	metrics.Init()

	app.logger.Info("building application dependencies")
	f := setupFetcher(app)
	clock := system.New()

	res := resolver.New(f, resolver.Config{
		MaxRedirects:  cfg.Resolver.MaxRedirects,
		Timeout:       cfg.Resolver.Timeout,
		DefaultMaxAge: cfg.Resolver.DefaultMaxAge,
	}, logger.Named("resolver"))

	pipeline := extract.Default(extract.Config{
		FetchTimeout: cfg.Extract.FetchTimeout,
		Providers:    cfg.OEmbed.Providers,
	}, f, clock, logger.Named("extract"))

	app.cache = cache.New[extract.Metadata](cache.Config{
		Capacity:   cfg.Cache.Capacity,
		DefaultTTL: cfg.Cache.DefaultTTL,
		MaxStale:   cfg.Cache.MaxStale,
	}, clock, logger.Named("cache"))
	app.logger.Info("cache initialized",
		zap.Int("capacity", cfg.Cache.Capacity),
		zap.Duration("default_ttl", cfg.Cache.DefaultTTL),
		zap.Duration("max_stale", cfg.Cache.MaxStale),
	)

	app.batch = batch.New(
		app.cache,
		lookup.New(res, pipeline, logger.Named("lookup")),
		cfg.Resolver.FindParams,
		logger.Named("batch"),
	)
	app.apiServer = api.NewServer(app.batch, uuid.New(), cfg.Server, logger.Named("api"))

	return app, nil
}

func setupFetcher(app *App) *collyfetcher.Fetcher {
	cfg := app.cfg
	var limiter fetcher.Waiter
	if cfg.RateLimit.Enabled {
		limiter = ratelimit.New(ratelimit.Config{
			DefaultRPS:   cfg.RateLimit.DefaultRPS,
			DefaultBurst: cfg.RateLimit.DefaultBurst,
			MaxHosts:     cfg.RateLimit.MaxHosts,
		})
		app.logger.Info("rate limiter enabled",
			zap.Float64("default_rps", cfg.RateLimit.DefaultRPS),
			zap.Int("default_burst", cfg.RateLimit.DefaultBurst),
			zap.Int("max_hosts", cfg.RateLimit.MaxHosts),
		)
	} else {
		app.logger.Info("rate limiter disabled")
	}

	// Page and side fetches each ask for their own timeout; the fetcher
	// ceiling has to admit the larger one.
	timeout := max(cfg.Resolver.Timeout, cfg.Extract.FetchTimeout)
	app.logger.Info("using colly fetcher",
		zap.String("user_agent", cfg.Resolver.UserAgent),
		zap.Duration("timeout", timeout),
		zap.Int("max_body_bytes", cfg.Resolver.MaxBodyBytes),
	)
	return collyfetcher.New(collyfetcher.Config{
		UserAgent:   cfg.Resolver.UserAgent,
		Timeout:     timeout,
		Limiter:     limiter,
		MaxBodySize: cfg.Resolver.MaxBodyBytes,
	}, app.logger.Named("fetcher"))
}
