package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/wolfman30/sara-leads/cmd/mainconfig"
	"github.com/wolfman30/sara-leads/internal/app/bootstrap"
	appconfig "github.com/wolfman30/sara-leads/internal/config"
	"github.com/wolfman30/sara-leads/internal/messaging"
	"github.com/wolfman30/sara-leads/internal/observability/metrics"
	"github.com/wolfman30/sara-leads/pkg/logging"
)

func main() {
	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)
	messaging.SetDefaultRegion(cfg.DefaultPhoneRegion)

	if cfg.UseMemoryQueue || cfg.ConversationQueueURL == "" {
		logger.Error("conversation worker needs CONVERSATION_QUEUE_URL; the in-memory queue runs inside the API")
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	awsConfig, err := mainconfig.LoadAWSConfig(ctx, cfg)
	if err != nil {
		logger.Error("failed to load AWS config", "error", err)
		os.Exit(1)
	}

	registry := prometheus.NewRegistry()
	messagingMetrics := metrics.NewMessagingMetrics(registry)
	leadMetrics := metrics.NewLeadMetrics(registry)

	redisClient := bootstrap.BuildRedisClient(ctx, cfg, logger, true)
	stores, err := bootstrap.BuildStores(ctx, cfg, redisClient, logger)
	if err != nil {
		logger.Error("failed to build stores", "error", err)
		os.Exit(1)
	}
	defer stores.Close()

	sender, _ := bootstrap.BuildSender(cfg, messagingMetrics, logger)
	email, _ := bootstrap.BuildEmailSender(cfg, &awsConfig, logger)
	calendarProvider, err := bootstrap.BuildCalendar(ctx, cfg, logger)
	if err != nil {
		logger.Warn("calendar sync disabled", "error", err)
	}
	responder, closeResponder, err := bootstrap.BuildResponder(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to build responder", "error", err)
		os.Exit(1)
	}
	defer closeResponder()

	engine := bootstrap.BuildEngine(cfg, bootstrap.EngineParts{
		Stores:    stores,
		Sender:    sender,
		Email:     email,
		Calendar:  calendarProvider,
		Responder: responder,
		Metrics:   leadMetrics,
	}, logger)

	queue, _ := bootstrap.BuildQueue(cfg, &awsConfig, logger)
	worker := bootstrap.BuildWorker(cfg, engine, queue, stores, logger)
	worker.Start(ctx)
	logger.Info("conversation worker started", "workers", cfg.WorkerCount)

	deliverer, closeDeliverer, err := bootstrap.BuildOutboxDeliverer(cfg, stores.Outbox, logger)
	if err != nil {
		logger.Warn("outbox delivery disabled", "error", err)
	} else if deliverer != nil {
		defer closeDeliverer()
		go deliverer.Start(ctx)
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down conversation worker...")
	cancel()

	doneCtx, doneCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer doneCancel()

	waitCh := make(chan struct{})
	go func() {
		worker.Wait()
		close(waitCh)
	}()

	select {
	case <-waitCh:
		logger.Info("conversation worker stopped")
	case <-doneCtx.Done():
		logger.Error("conversation worker shutdown timed out", "error", doneCtx.Err())
	}
}
