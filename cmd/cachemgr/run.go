package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/dnscache"

	"github.com/eugener/cachemgr/internal/app"
	"github.com/eugener/cachemgr/internal/auth"
	"github.com/eugener/cachemgr/internal/circuitbreaker"
	"github.com/eugener/cachemgr/internal/config"
	"github.com/eugener/cachemgr/internal/locator"
	"github.com/eugener/cachemgr/internal/provider"
	"github.com/eugener/cachemgr/internal/provider/fastcgi"
	sigprov "github.com/eugener/cachemgr/internal/provider/signal"
	"github.com/eugener/cachemgr/internal/ratelimit"
	"github.com/eugener/cachemgr/internal/server"
	"github.com/eugener/cachemgr/internal/storage/sqlite"
	"github.com/eugener/cachemgr/internal/telemetry"
	"github.com/eugener/cachemgr/internal/urlnorm"
	"github.com/eugener/cachemgr/internal/worker"
)

func run(configPath string) error {
	// Load config
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, logCloser, logErr := newLogger(cfg.Log)
	defer logCloser.Close()
	slog.SetDefault(logger)
	if logErr != nil {
		slog.Warn("log file unavailable, using stderr", "path", cfg.Log.File, "error", logErr)
	}

	slog.Info("starting cachemgr", "version", version, "addr", cfg.Server.Addr, "home", cfg.Site.Home)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	// Tracing
	if cfg.Telemetry.Tracing.Enabled {
		shutdownTracing, err := telemetry.SetupTracing(ctx, telemetry.TracingOptions{
			Endpoint:   cfg.Telemetry.Tracing.Endpoint,
			SampleRate: cfg.Telemetry.Tracing.SampleRate,
			Version:    version,
		})
		if err != nil {
			return err
		}
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdownTracing(sctx); err != nil {
				slog.Error("tracing shutdown failed", "error", err)
			}
		}()
	}

	// Metrics
	var (
		metrics  *telemetry.Metrics
		gatherer prometheus.Gatherer
	)
	if cfg.Telemetry.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		metrics = telemetry.NewMetrics(reg)
		gatherer = reg
	}

	// Open database
	store, err := sqlite.New(ctx, cfg.Database.DSN)
	if err != nil {
		return err
	}
	defer store.Close()

	// Bootstrap from config. A fresh database without any configured admin
	// token gets a generated one, printed once.
	if cfg.Auth.AdminToken == "" {
		existing, err := store.ListTokens(ctx, 0, 1)
		if err != nil {
			return err
		}
		if len(existing) == 0 {
			cfg.Auth.AdminToken = config.GenerateAdminToken()
			slog.Warn("generated admin token; store it now, it is not shown again", "token", cfg.Auth.AdminToken)
		}
	}
	if err := config.Bootstrap(ctx, cfg, store); err != nil {
		return err
	}

	// URL identity
	norm, err := urlnorm.New(cfg.Site.Home, cfg.Cache.MemoSize)
	if err != nil {
		return err
	}
	levels, err := locator.ParseLevels(cfg.Cache.Levels)
	if err != nil {
		return err
	}
	loc, err := locator.New(levels, cfg.Cache.MemoSize)
	if err != nil {
		return err
	}

	// Register providers
	cache := provider.NewMultiCache(metrics)
	if cfg.Cache.Dir != "" {
		fs, err := fastcgi.New(cfg.Cache.Dir, loc)
		if err != nil {
			slog.Warn("filesystem provider disabled", "dir", cfg.Cache.Dir, "error", err)
		} else {
			cache.AddProvider(fs)
		}
	}
	resolver := &dnscache.Resolver{}
	if cfg.Signal.IsEnabled() {
		cache.AddProvider(sigprov.New(sigprov.Config{
			Timeout:     cfg.Signal.Timeout,
			VerifyTLS:   cfg.Signal.VerifyTLS,
			PurgeHeader: cfg.Signal.PurgeHeader,
			PurgeValue:  cfg.Signal.PurgeValue,
			OriginAddr:  cfg.Signal.OriginAddr,
			UserAgent:   "cachemgr/" + version,
			Breakers: circuitbreaker.NewRegistry(circuitbreaker.Config{
				FailureRate: cfg.Signal.Breaker.FailureRate,
				MinSamples:  cfg.Signal.Breaker.MinSamples,
				Window:      cfg.Signal.Breaker.Window,
				Cooldown:    cfg.Signal.Breaker.Cooldown,
			}),
		}, provider.NewDialer(resolver, cfg.Signal.Timeout)))
		go refreshDNS(ctx, resolver, cfg.Signal.DNSRefresh)
	}
	if cache.Len() == 0 {
		slog.Warn("no cache providers registered; cache actions are unavailable")
	}

	// Wire services
	recorder := worker.NewPurgeRecorder(store, metrics)
	coord := app.NewCoordinator(app.CoordinatorDeps{
		Cache:      cache,
		Normalizer: norm,
		Locator:    loc,
		CacheDir:   cfg.Cache.Dir,
		CacheValid: cfg.Cache.Valid,
		Content:    store,
		Recorder:   recorder,
		Metrics:    metrics,
	})

	tokenAuth, err := auth.NewTokenAuth(store)
	if err != nil {
		return err
	}
	tokens := app.NewTokenManager(store, tokenAuth)

	limiter := ratelimit.NewRegistry()
	quota := ratelimit.NewFlushQuota()

	// Background workers
	runner := worker.NewRunner(
		recorder,
		worker.NewQuotaSyncWorker(quota, store),
		worker.NewLimiterJanitor(limiter),
	)
	workerCtx, cancelWorkers := context.WithCancel(context.Background())
	workerDone := make(chan error, 1)
	go func() { workerDone <- runner.Run(workerCtx) }()

	// Create HTTP server
	handler := server.New(server.Deps{
		Auth:        tokenAuth,
		Coordinator: coord,
		Store:       store,
		Tokens:      tokens,
		ReadyCheck:  store.Ping,
		RateLimiter: limiter,
		Quota:       quota,
		Limits: server.Limits{
			RPM:         cfg.RateLimits.DefaultRPM,
			Actions:     cfg.RateLimits.ActionsPerMinute,
			FlushPerDay: cfg.RateLimits.FlushPerDay,
		},
		Metrics:  metrics,
		Gatherer: gatherer,
	})

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Graceful shutdown
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	slog.Info("cachemgr ready", "addr", cfg.Server.Addr, "providers", cache.Len(), "state", coord.State().String())

	var (
		workerErr     error
		workersExited bool
	)
	select {
	case <-ctx.Done():
		slog.Info("shutting down")
	case err := <-errCh:
		cancelWorkers()
		<-workerDone
		return err
	case workerErr = <-workerDone:
		workersExited = true
		slog.Error("workers stopped unexpectedly, shutting down", "error", workerErr)
	}

	// Stop accepting requests first so the purge recorder drains every event
	// produced by in-flight requests.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	shutdownErr := srv.Shutdown(shutdownCtx)
	cancelWorkers()
	if !workersExited {
		workerErr = <-workerDone
	}
	if shutdownErr != nil {
		return shutdownErr
	}
	if workerErr != nil {
		return workerErr
	}

	slog.Info("cachemgr stopped")
	return nil
}

// refreshDNS keeps the signal provider's resolver cache warm.
func refreshDNS(ctx context.Context, r *dnscache.Resolver, every time.Duration) {
	if every <= 0 {
		return
	}
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			r.Refresh(true)
		case <-ctx.Done():
			return
		}
	}
}
