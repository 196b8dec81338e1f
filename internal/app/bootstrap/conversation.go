package bootstrap

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/wolfman30/sara-leads/internal/availability"
	"github.com/wolfman30/sara-leads/internal/calendar"
	appconfig "github.com/wolfman30/sara-leads/internal/config"
	"github.com/wolfman30/sara-leads/internal/conversation"
	"github.com/wolfman30/sara-leads/internal/messaging"
	"github.com/wolfman30/sara-leads/internal/notify"
	"github.com/wolfman30/sara-leads/internal/observability/metrics"
	"github.com/wolfman30/sara-leads/pkg/logging"
)

// BuildQueue returns the SQS queue, or an in-process queue when
// USE_MEMORY_QUEUE is set or no queue URL is configured. The second result
// reports whether the queue is in-process, in which case the API must run
// the workers itself.
func BuildQueue(cfg *appconfig.Config, awsCfg *aws.Config, logger *logging.Logger) (conversation.Queue, bool) {
	if logger == nil {
		logger = logging.Default()
	}
	if cfg.UseMemoryQueue || cfg.ConversationQueueURL == "" || awsCfg == nil {
		logger.Info("using in-process conversation queue")
		return conversation.NewMemoryQueue(256), true
	}
	logger.Info("using sqs conversation queue", "queue_url", cfg.ConversationQueueURL)
	return conversation.NewSQSQueue(sqs.NewFromConfig(*awsCfg), cfg.ConversationQueueURL), false
}

// BuildResponder uses Gemini to phrase conversational replies when an API
// key is configured. The returned func releases the client.
func BuildResponder(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) (conversation.Responder, func(), error) {
	if logger == nil {
		logger = logging.Default()
	}
	templates := conversation.NewTemplateResponder(cfg.BusinessName, cfg.Location())
	if strings.TrimSpace(cfg.GeminiAPIKey) == "" {
		logger.Info("gemini not configured; replies use templates")
		return templates, func() {}, nil
	}
	client, err := conversation.NewGeminiLLMClient(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
	if err != nil {
		return nil, func() {}, fmt.Errorf("bootstrap: gemini client: %w", err)
	}
	logger.Info("gemini responder enabled", "model", cfg.GeminiModel)
	return conversation.NewGeminiResponder(client, templates, logger), func() { _ = client.Close() }, nil
}

// BuildCalendar returns the Google Calendar provider when credentials are
// configured and nil otherwise, which disables calendar sync.
func BuildCalendar(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) (calendar.Provider, error) {
	if strings.TrimSpace(cfg.GoogleCalendarCredentialsFile) == "" {
		return nil, nil
	}
	provider, err := calendar.NewGoogleProvider(ctx, cfg.GoogleCalendarCredentialsFile, cfg.BusinessTimezone, logger)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: google calendar: %w", err)
	}
	return provider, nil
}

// EngineParts are the collaborators built outside BuildEngine.
type EngineParts struct {
	Stores    *Stores
	Sender    messaging.Sender
	Email     notify.EmailSender
	Calendar  calendar.Provider
	Responder conversation.Responder
	Metrics   *metrics.LeadMetrics
}

// BuildEngine assembles the conversation engine from config and parts.
func BuildEngine(cfg *appconfig.Config, parts EngineParts, logger *logging.Logger) *conversation.Engine {
	if logger == nil {
		logger = logging.Default()
	}
	loc := cfg.Location()
	s := parts.Stores

	resolver := availability.NewResolver(s.Appointments, availability.Options{
		Location:  loc,
		OpenHour:  cfg.BusinessHoursStart,
		CloseHour: cfg.BusinessHoursEnd,
		Duration:  cfg.AppointmentDuration,
	}, logger.Component("availability"), parts.Metrics)

	opts := []notify.Option{notify.WithMetrics(parts.Metrics)}
	if parts.Email != nil {
		opts = append(opts, notify.WithEmail(parts.Email))
	}
	dispatcher := notify.NewDispatcher(parts.Sender, s.Processed, logger.Component("notify"), opts...)

	return conversation.NewEngine(conversation.Dependencies{
		Leads:        s.Leads,
		History:      s.History,
		Catalog:      s.Catalog,
		Team:         s.Team,
		Appointments: s.Appointments,
		Mortgages:    s.Mortgages,
		Availability: resolver,
		Dispatcher:   dispatcher,
		Sender:       parts.Sender,
		Locker:       s.Locker,
		Calendar:     parts.Calendar,
		Recorder:     s.Outbox,
		Responder:    parts.Responder,
		Metrics:      parts.Metrics,
	}, conversation.Settings{
		Location:          loc,
		PMThreshold:       cfg.AssumePMBelowHour,
		Duration:          cfg.AppointmentDuration,
		DefaultCalendarID: cfg.GoogleCalendarDefaultID,
		BusinessName:      cfg.BusinessName,
		HistoryLimit:      cfg.HistoryReplayMessage,
		RetryBackoff:      cfg.RetryBackoff,
	}, logger.Component("conversation"))
}

// BuildWorker wires queue consumers for the engine, deduplicating jobs
// through the processed-events store.
func BuildWorker(cfg *appconfig.Config, engine conversation.InboundHandler, queue conversation.Queue, stores *Stores, logger *logging.Logger) *conversation.Worker {
	return conversation.NewWorker(engine, queue, logger.Component("worker"),
		conversation.WithWorkerCount(cfg.WorkerCount),
		conversation.WithProcessedStore(stores.Processed),
	)
}
