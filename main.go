package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/tipbot-hq/settler/pkg/config"
	"github.com/tipbot-hq/settler/pkg/health"
	"github.com/tipbot-hq/settler/pkg/logger"
	"github.com/tipbot-hq/settler/pkg/notify"
	"github.com/tipbot-hq/settler/pkg/reconciler"
	"github.com/tipbot-hq/settler/pkg/store"
	"github.com/tipbot-hq/settler/pkg/wallet"
)

func main() {
	// Load configuration from environment variables
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	stdLogger := logger.NewStdLogger(cfg.LoggerConfig.Coloring, cfg.LoggerConfig.Level)

	// Set up context with cancellation on SIGINT/SIGTERM
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	storage, err := store.Open(cfg.DatabasePath)
	if err != nil {
		log.Fatalf("Failed to open intent store: %v", err)
	}
	defer func() {
		if err := storage.Close(); err != nil {
			stdLogger.Error("Failed to close intent store: %v", err)
		}
	}()

	walletClient := wallet.NewClient(cfg.WalletAPIURL, cfg.WalletAPIKey, stdLogger)

	workflow := notify.NewWorkflowClient(cfg.Workflow.URL, cfg.Workflow.APIKey, stdLogger)
	analytics := notify.NewAnalyticsClient(cfg.Analytics.URL, cfg.Analytics.Key, stdLogger)
	dispatcher := notify.NewDispatcher(workflow, analytics, stdLogger)

	engine := reconciler.NewEngine(storage, walletClient, dispatcher, cfg.Route, cfg.Rewards, cfg.ResolveTimeout, stdLogger)
	service := reconciler.NewService(engine, cfg, stdLogger)

	// Start health monitoring server
	healthServer := health.NewServer(cfg.MetricsPort, storage, service, cfg.MetricsAPIKey, stdLogger)
	go healthServer.Start()

	// Set up signal handling for graceful shutdown
	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-signalCh
		stdLogger.Notice("Received termination signal, shutting down gracefully...")
		cancel()
	}()

	// Start the service
	stdLogger.Info("Starting the settlement service...")
	service.Start(ctx)
}
