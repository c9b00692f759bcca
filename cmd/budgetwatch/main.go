package main

import (
	"context"
	"errors"
	"net/http"
	"os"

	"golang.org/x/sync/errgroup"

	"budgetwatch/internal/alerts"
	"budgetwatch/internal/amqp"
	"budgetwatch/internal/backend"
	"budgetwatch/internal/cache"
	"budgetwatch/internal/cli"
	apphttp "budgetwatch/internal/http"
	applog "budgetwatch/internal/log"
	"budgetwatch/internal/services"
	"budgetwatch/internal/spendcache"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger(applog.ComponentApp)
	cfg := cli.LoadAndValidateConfig(logger)

	flush := cli.SetupSentry(logger, cfg.SentryDSN, "budgetwatch@"+version)
	defer flush()

	logger.Info("Starting budgetwatch",
		"version", version,
		"port", cfg.Port,
		"backend", cfg.DataBackend,
		applog.FieldOperation, applog.OpStartup)

	backendCfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		logger.Error("Invalid backend configuration", "error", err)
		os.Exit(1)
	}
	res, err := backend.NewFactory(logger).CreateBackend(context.Background(), backendCfg)
	if err != nil {
		logger.Error("Failed to initialize storage backend", "error", err, "backend", backendCfg.Type)
		os.Exit(1)
	}

	registry := alerts.NewRegistry()
	var publisher alerts.Publisher = alerts.NewLocalPublisher(registry)

	var amqpClient *amqp.Client
	if cfg.AMQPURL != "" {
		amqpClient, err = amqp.NewClient(context.Background(), cfg.AMQPURL, cfg.AMQPExchange)
		if err != nil {
			// Alerts still reach subscribers connected to this instance.
			logger.Warn("AMQP unavailable, alerts stay local to this instance",
				applog.FieldComponent, applog.ComponentAMQP,
				"error", err)
			amqpClient = nil
		} else {
			publisher = amqp.NewBroadcaster(amqpClient, publisher)
			logger.Info("Alert broadcasting enabled",
				applog.FieldComponent, applog.ComponentAMQP,
				"exchange", cfg.AMQPExchange)
		}
	}

	spend := spendcache.New()
	coordinator := services.NewCoordinator(res.Store, spend, publisher)
	reports := services.NewReportSnapshotter(res.Store, spend)

	caches := cache.NewManager()
	caches.Register("reports", reports.Cache())

	srv := apphttp.NewServer(apphttp.Options{
		Addr:               ":" + cfg.Port,
		Expenses:           coordinator,
		Budgets:            coordinator,
		Reports:            reports,
		Subscribers:        registry,
		Ready:              res.Ping,
		RateLimitPerMinute: cfg.RateLimitPerMinute,
	})

	ctx, done := cli.GracefulShutdown(logger, cfg.ShutdownTimeout, func(ctx context.Context) {
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("Server shutdown error", "error", err)
		}
		if amqpClient != nil {
			if err := amqpClient.Close(); err != nil {
				logger.Warn("AMQP close error", "error", err)
			}
		}
		caches.Wait()
		if err := res.Cleanup(); err != nil {
			logger.Error("Storage close error", "error", err)
		}
	})

	caches.Run(ctx, cfg.CacheCleanInterval)

	g, gctx := errgroup.WithContext(ctx)
	if b, ok := publisher.(*amqp.Broadcaster); ok {
		g.Go(func() error {
			if err := b.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("Alert consumer stopped", applog.FieldComponent, applog.ComponentAMQP, "error", err)
			}
			return nil
		})
	}

	logger.Info("HTTP server listening", "addr", srv.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Server error", "error", err, "port", cfg.Port)
		os.Exit(1)
	}

	cli.WaitForShutdown(ctx, done)
	_ = g.Wait()
	logger.Info("Server stopped gracefully")
}
