package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"goldexchange/apps/goldx/internal/api"
	"goldexchange/apps/goldx/internal/app"
	"goldexchange/apps/goldx/internal/config"
	"goldexchange/apps/goldx/internal/event_publisher"
	"goldexchange/apps/goldx/internal/metrics"
	"goldexchange/apps/goldx/internal/reconciliation_materializer"
	"goldexchange/apps/goldx/internal/sweeper"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	logger, err := app.NewLogger(cfg)
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	defer logger.Sync()

	logger.Info("Starting goldx with configuration",
		zap.String("storage", cfg.Storage),
		zap.String("rpc_url", cfg.Ledger.RPCURL),
		zap.String("commitment", cfg.Ledger.Commitment),
		zap.String("token_mint", cfg.Ledger.TokenMint),
		zap.Bool("events_enabled", cfg.Kafka.Enabled),
		zap.String("kafka_broker", cfg.Kafka.Broker),
		zap.String("kafka_topic", cfg.Kafka.Topic),
		zap.Duration("quote_ttl", cfg.Policy.QuoteTTL),
		zap.Int("api_port", cfg.APIPort),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m := metrics.New()

	stores, err := app.OpenStores(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to open storage", zap.Error(err))
	}
	defer stores.Close()

	core, err := app.NewCore(ctx, cfg, stores, m, logger)
	if err != nil {
		logger.Fatal("Failed to initialize exchange", zap.Error(err))
	}
	defer core.Close()

	apiServer := api.NewServer(
		api.Options{
			Port:           cfg.APIPort,
			AdminToken:     cfg.AdminToken,
			WriteTimeout:   cfg.APIWriteTimeout(),
			RateLimit:      cfg.RateLimit,
			Metrics:        m,
			MetricsHandler: m.Handler(),
		},
		api.NewExchangeHandler(core.Oracle, core.Quotes, core.Exchange, core.Registry, logger),
		api.NewBalanceHandler(core.Oracle, core.Ledger, stores.Transactions, core.Registry, cfg.Policy, logger),
		api.NewAdminHandler(core.Oracle, core.Ledger, stores.Transactions, stores.Cases, core.Registry,
			core.SystemWallets(cfg.Wallets, logger), cfg.Ledger.Commitment, logger),
		logger,
	)
	if cfg.AdminToken == "" {
		logger.Warn("ADMIN_TOKEN is not set; admin endpoints are disabled")
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(apiServer.Start)
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return apiServer.Stop(shutdownCtx)
	})

	sweep := sweeper.New(cfg.Sweeper, stores.Transactions, core.Exchange, logger)
	g.Go(func() error {
		return sweep.Start(gctx)
	})

	if cfg.Kafka.Enabled {
		eventPublisher, err := event_publisher.NewEventPublisher(cfg.Kafka.Broker, cfg.Kafka.Topic, stores.Outbox, logger)
		if err != nil {
			logger.Fatal("Failed to create event publisher", zap.Error(err))
		}
		defer eventPublisher.Close()
		eventPublisher.SetMetrics(m)
		eventPublisher.SetClaimLease(cfg.Kafka.ClaimLease)

		materializer, err := reconciliation_materializer.NewReconciliationMaterializer(cfg.Kafka.Broker, cfg.Kafka.Topic, cfg.Kafka.GroupID, stores.Cases, logger)
		if err != nil {
			logger.Fatal("Failed to create reconciliation materializer", zap.Error(err))
		}
		defer materializer.Close()
		materializer.SetMetrics(m)

		g.Go(func() error {
			return eventPublisher.StartPublishing(gctx)
		})
		g.Go(func() error {
			return materializer.Start(gctx)
		})
	} else {
		logger.Warn("Event publishing is disabled; outbox events stay unsent")
	}

	if err := g.Wait(); err != nil {
		logger.Error("Application stopped with error", zap.Error(err))
	}

	logger.Info("Application shutdown complete")
}
