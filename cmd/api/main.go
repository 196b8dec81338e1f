package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wolfman30/sara-leads/cmd/mainconfig"
	"github.com/wolfman30/sara-leads/internal/api/router"
	"github.com/wolfman30/sara-leads/internal/app/bootstrap"
	appconfig "github.com/wolfman30/sara-leads/internal/config"
	"github.com/wolfman30/sara-leads/internal/conversation"
	"github.com/wolfman30/sara-leads/internal/http/handlers"
	"github.com/wolfman30/sara-leads/internal/messaging"
	"github.com/wolfman30/sara-leads/internal/observability/metrics"
	"github.com/wolfman30/sara-leads/pkg/logging"
)

const webhookPath = "/webhooks/twilio/whatsapp"

func main() {
	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)
	messaging.SetDefaultRegion(cfg.DefaultPhoneRegion)
	logger.Info("starting sara-leads API server",
		"env", cfg.Env,
		"port", cfg.Port,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	awsCfg, err := loadAWS(ctx, cfg)
	if err != nil {
		logger.Error("failed to load AWS config", "error", err)
		os.Exit(1)
	}

	metricsHandler, messagingMetrics, leadMetrics := setupMetrics()

	redisClient := bootstrap.BuildRedisClient(ctx, cfg, logger, true)
	stores, err := bootstrap.BuildStores(ctx, cfg, redisClient, logger)
	if err != nil {
		logger.Error("failed to build stores", "error", err)
		os.Exit(1)
	}
	defer stores.Close()

	sender, provider := bootstrap.BuildSender(cfg, messagingMetrics, logger)
	email, emailProvider := bootstrap.BuildEmailSender(cfg, awsCfg, logger)
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
	logger.Info("outbound wiring", "whatsapp", provider, "email", emailProvider)

	engine := bootstrap.BuildEngine(cfg, bootstrap.EngineParts{
		Stores:    stores,
		Sender:    sender,
		Email:     email,
		Calendar:  calendarProvider,
		Responder: responder,
		Metrics:   leadMetrics,
	}, logger)

	queue, inline := bootstrap.BuildQueue(cfg, awsCfg, logger)
	messagingHandler := messaging.NewHandler(cfg.TwilioWebhookSecret, conversation.NewPublisher(queue, logger), logger,
		messaging.WithDeduper(stores.Processed),
		messaging.WithRecorder(stores.Outbox),
		messaging.WithHandlerMetrics(messagingMetrics),
		messaging.WithPublicURL(webhookURL(cfg.PublicBaseURL)),
	)

	var worker *conversation.Worker
	if inline {
		worker = startInlineWorker(ctx, cfg, engine, queue, stores, logger)
	}

	r := router.New(&router.Config{
		Logger:           logger,
		MessagingHandler: messagingHandler,
		AdminLeads:       handlers.NewAdminLeadsHandler(engine, logger),
		AdminAuthSecret:  cfg.AdminJWTSecret,
		MetricsHandler:   metricsHandler,
		WebhookRateLimit: cfg.WebhookRateLimit,
		WebhookBurst:     cfg.WebhookBurst,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}
	cancel()
	if worker != nil {
		waitForInlineWorker(worker, logger)
	}

	logger.Info("server stopped")
	fmt.Println("Server exited gracefully")
}

// loadAWS returns nil when nothing configured needs AWS, so local runs work
// without credentials.
func loadAWS(ctx context.Context, cfg *appconfig.Config) (*aws.Config, error) {
	if !mainconfig.NeedsAWS(cfg) {
		return nil, nil
	}
	awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &awsCfg, nil
}

func setupMetrics() (http.Handler, *metrics.MessagingMetrics, *metrics.LeadMetrics) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	handler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
	return handler, metrics.NewMessagingMetrics(registry), metrics.NewLeadMetrics(registry)
}

func webhookURL(publicBase string) string {
	publicBase = strings.TrimRight(strings.TrimSpace(publicBase), "/")
	if publicBase == "" {
		return ""
	}
	return publicBase + webhookPath
}

// startInlineWorker runs the queue consumers and outbox delivery inside the
// API process; the in-memory queue is not visible to a separate worker.
func startInlineWorker(ctx context.Context, cfg *appconfig.Config, engine *conversation.Engine, queue conversation.Queue, stores *bootstrap.Stores, logger *logging.Logger) *conversation.Worker {
	worker := bootstrap.BuildWorker(cfg, engine, queue, stores, logger)
	worker.Start(ctx)
	logger.Info("inline conversation worker started", "workers", cfg.WorkerCount)

	deliverer, closeDeliverer, err := bootstrap.BuildOutboxDeliverer(cfg, stores.Outbox, logger)
	if err != nil {
		logger.Warn("outbox delivery disabled", "error", err)
		return worker
	}
	if deliverer != nil {
		go func() {
			defer closeDeliverer()
			deliverer.Start(ctx)
		}()
	}
	return worker
}

func waitForInlineWorker(worker *conversation.Worker, logger *logging.Logger) {
	done := make(chan struct{})
	go func() {
		worker.Wait()
		close(done)
	}()
	select {
	case <-done:
		logger.Info("inline worker stopped")
	case <-time.After(30 * time.Second):
		logger.Error("inline worker shutdown timed out")
	}
}
