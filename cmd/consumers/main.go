package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"passgate/cmd/consumers/jobs"
	"passgate/internal/cache"
	"passgate/internal/config"
	"passgate/internal/consumers"
	"passgate/internal/database"
	"passgate/internal/external"
	"passgate/internal/logger"
	"passgate/internal/messaging"
	"passgate/internal/repository"
	"passgate/internal/search"
	"passgate/internal/service"
)

func main() {
	// Load configuration
	cfg := config.Load()
	logger.Init(cfg.LogLevel, cfg.LogFormat)

	slog.Info("Starting consumers service...")

	// Override NATS client ID for consumers
	cfg.NATS.ClientID = "passgate-consumers"

	db, err := database.Connect(cfg.Database)
	if err != nil {
		logger.Fatal("Failed to connect to database", "error", err)
	}
	defer db.Close()

	natsClient, err := messaging.NewNATSClient(cfg.NATS)
	if err != nil {
		logger.Fatal("Failed to connect to NATS", "error", err)
	}
	defer natsClient.Close()

	var indexer consumers.RecordIndexer
	var searcher service.RecordSearcher
	if esCfg := config.LoadElasticsearchConfig(); esCfg.Enabled {
		index, err := search.NewRedemptionIndex(esCfg)
		if err != nil {
			logger.Fatal("Failed to connect to Elasticsearch", "error", err)
		}
		indexer, searcher = index, index
	}

	// Распределенная блокировка нужна, только если запущено несколько реплик
	var locker jobs.Locker
	if cfg.Redis.Addr != "" {
		rdb, err := cache.NewClient(cfg.Redis)
		if err != nil {
			logger.Fatal("Failed to connect to Redis", "error", err)
		}
		defer rdb.Close()
		locker = cache.NewLocker(rdb, "passgate:lock:")
	}

	services := service.NewServices(repository.NewRepositories(db), service.Collaborators{
		Publisher:    natsClient,
		Searcher:     searcher,
		Issuer:       external.NewIssuanceClient(cfg.Issuance),
		Availability: external.NewEventsClient(cfg.Events),
		Payments:     external.NewPaymentClient(cfg.Payment),
	}, service.OptionsFromConfig(cfg))

	// Create and start consumers
	consumerService := consumers.NewConsumerService(natsClient, indexer)
	if err := consumerService.Start(); err != nil {
		logger.Fatal("Failed to start consumers", "error", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	expirationJob := jobs.NewSessionExpirationJob(services.Checkout, locker, cfg.Checkout.SweepInterval)
	expirationJob.Start(ctx)

	retentionJob := jobs.NewSessionRetentionJob(services.Checkout, cfg.Checkout.Retention, time.Hour)
	retentionJob.Start(ctx)

	slog.Info("Consumers service started successfully")

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("Shutting down consumers service...")

	expirationJob.Stop()
	retentionJob.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := consumerService.Shutdown(shutdownCtx); err != nil {
		slog.Error("Error during shutdown", "error", err)
	}

	slog.Info("Consumers service stopped")
}
