package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/platinummonkey/registrygate/pkg/api"
	"github.com/platinummonkey/registrygate/pkg/audit"
	"github.com/platinummonkey/registrygate/pkg/auth"
	"github.com/platinummonkey/registrygate/pkg/config"
	"github.com/platinummonkey/registrygate/pkg/credentials"
	"github.com/platinummonkey/registrygate/pkg/engine"
	"github.com/platinummonkey/registrygate/pkg/httputil"
	"github.com/platinummonkey/registrygate/pkg/maintenance"
	"github.com/platinummonkey/registrygate/pkg/middleware"
	"github.com/platinummonkey/registrygate/pkg/observability"
)

var version = "dev"

func main() {
	showVersion := flag.Bool("version", false, "Print the version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version)
		return
	}

	boot := logrus.New()
	boot.SetFormatter(&logrus.JSONFormatter{})

	cfg, err := config.LoadConfig()
	if err != nil {
		boot.WithError(err).Fatal("Failed to load configuration")
	}
	boot.WithFields(logrus.Fields{
		"version":  version,
		"storage":  cfg.Storage.Type,
		"packages": cfg.Packages.Backend,
	}).Info("Starting registry gate")

	if err := run(cfg); err != nil {
		boot.WithError(err).Fatal("Registry gate exited with error")
	}
}

func run(cfg *config.Config) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout).
		WithField("service", cfg.Observability.OTelServiceName)

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(registry)

	otelCfg := observability.TracingConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
		SampleRatio:    cfg.Observability.OTelSampleRatio,
	}
	tp, err := observability.InitTracing(ctx, otelCfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	mp, err := observability.InitMetrics(ctx, otelCfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize otel metrics: %w", err)
	}
	if mp != nil {
		otelMetrics, err := observability.NewOTelMetrics()
		if err != nil {
			return err
		}
		metrics.AttachOTel(otelMetrics)
	}

	back, err := openBackend(ctx, cfg, metrics, logger)
	if err != nil {
		return err
	}

	index, err := openPackages(ctx, cfg.Packages)
	if err != nil {
		back.store.Close()
		return err
	}

	auditor, err := openAuditor(cfg.Audit, back.db)
	if err != nil {
		back.store.Close()
		return err
	}

	eng := engine.New(back.store, engine.Options{
		JobTokenDenialForbidden: cfg.Access.JobTokenDenialForbidden,
		PatternCacheSize:        cfg.Access.PatternCacheSize,
		PatternCacheTTL:         cfg.Access.PatternCacheTTL,
		Metrics:                 metrics,
		Auditor:                 auditor,
	})
	proxies, err := audit.ParseTrustedProxies(cfg.Server.TrustedProxies)
	if err != nil {
		back.store.Close()
		return err
	}

	resolver := credentials.NewResolver(cfg.Access.CIJobUsername)
	gate := middleware.NewGate(resolver, eng, back.store, logger)

	server := api.NewServer(api.Dependencies{
		Gate:           gate,
		Evaluator:      eng,
		Resolver:       resolver,
		Store:          back.store,
		Packages:       index,
		Auditor:        auditor,
		Logger:         logger,
		Metrics:        metrics,
		MaxUploadBytes: cfg.Server.MaxUploadBytes,
		TrustedProxies: proxies,
	})

	chain := []func(http.Handler) http.Handler{
		httputil.RequestIDMiddleware,
		httputil.LoggingMiddleware(logger),
		httputil.RecoveryMiddleware(logger),
	}
	if cfg.RateLimit.Enabled {
		limit, err := openRateLimit(ctx, cfg.RateLimit, cfg.Storage, proxies, back, logger)
		if err != nil {
			back.store.Close()
			return err
		}
		chain = append(chain, limit)
	}
	var handler http.Handler = httputil.Chain(chain...)(server)
	if cfg.Observability.OTelEnabled {
		handler = otelhttp.NewHandler(handler, "registrygate")
	}

	httpServer := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	health := observability.NewHealthChecker(version)
	health.AddCheck("store", true, func(ctx context.Context) error {
		if back.db != nil {
			metrics.RecordDBStats(back.db.Stats())
		}
		return back.store.HealthCheck(ctx)
	})
	health.AddCheck("packages", true, index.HealthCheck)

	healthMux := http.NewServeMux()
	observability.RegisterHealthRoutes(healthMux, health)
	if cfg.Observability.MetricsEnabled {
		observability.RegisterMetricsEndpoint(healthMux, registry)
	}
	healthServer := &http.Server{
		Addr:              net.JoinHostPort(cfg.Server.Host, cfg.Server.HealthPort),
		Handler:           healthMux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	scheduler := maintenance.NewScheduler(auth.NewTokenManager(back.store), metrics, auditor, logger)
	if cfg.Maintenance.TokenCleanupEnabled {
		if err := scheduler.ScheduleTokenCleanup(cfg.Maintenance.TokenCleanupSchedule); err != nil {
			back.store.Close()
			return err
		}
	}
	scheduler.Start()

	if back.fixtures != nil {
		go back.fixtures.Run(ctx)
	}

	shutdown := observability.NewShutdownManager(logger, cfg.Server.ShutdownTimeout, httpServer, healthServer)
	shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
		cancel()
		if err := scheduler.Stop(ctx); err != nil {
			return fmt.Errorf("maintenance scheduler: %w", err)
		}
		gate.Wait()
		return nil
	})
	shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
		return auditor.Close()
	})
	shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
		return back.store.Close()
	})
	shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
		return observability.ShutdownTracing(ctx, tp, logger)
	})
	shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
		return observability.ShutdownMetrics(ctx, mp, logger)
	})

	serveErr := make(chan error, 2)
	for _, srv := range []*http.Server{httpServer, healthServer} {
		srv := srv
		go func() {
			logger.WithField("addr", srv.Addr).Info("HTTP server listening")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serveErr <- fmt.Errorf("server %s: %w", srv.Addr, err)
				cancel()
			}
		}()
	}

	if err := shutdown.WaitForShutdown(ctx); err != nil {
		return err
	}
	select {
	case err := <-serveErr:
		return err
	default:
		logger.Info("Registry gate stopped")
		return nil
	}
}
