package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/wolfman30/sara-leads/internal/http/handlers"
	httpmiddleware "github.com/wolfman30/sara-leads/internal/http/middleware"
	"github.com/wolfman30/sara-leads/internal/messaging"
	"github.com/wolfman30/sara-leads/pkg/logging"
)

// Config holds router configuration
type Config struct {
	Logger           *logging.Logger
	MessagingHandler *messaging.Handler
	AdminLeads       *handlers.AdminLeadsHandler
	AdminAuthSecret  string
	MetricsHandler   http.Handler

	// WebhookRateLimit is requests per second per client IP on the webhook;
	// zero disables limiting.
	WebhookRateLimit float64
	WebhookBurst     int
}

// New creates a new Chi router with all routes configured
func New(cfg *Config) http.Handler {
	if cfg.MessagingHandler == nil {
		panic("router: messaging handler cannot be nil")
	}
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(httpmiddleware.RequestLogger(cfg.Logger))

	// Public endpoints (webhooks, health checks)
	r.Group(func(public chi.Router) {
		public.Get("/health", cfg.MessagingHandler.HealthCheck)
		if cfg.MetricsHandler != nil {
			public.Handle("/metrics", cfg.MetricsHandler)
		}
		public.Group(func(hooks chi.Router) {
			if cfg.WebhookRateLimit > 0 {
				hooks.Use(httpmiddleware.RateLimit(cfg.WebhookRateLimit, cfg.WebhookBurst))
			}
			hooks.Post("/webhooks/twilio/whatsapp", cfg.MessagingHandler.TwilioWebhook)
			// legacy path still configured on older Twilio senders
			hooks.Post("/messaging/twilio/webhook", cfg.MessagingHandler.TwilioWebhook)
		})
	})

	if cfg.AdminLeads != nil && cfg.AdminAuthSecret != "" {
		r.Route("/admin", func(admin chi.Router) {
			admin.Use(middleware.Compress(5))
			admin.Use(httpmiddleware.AdminJWT(cfg.AdminAuthSecret))
			cfg.AdminLeads.Routes(admin)
		})
	}

	return r
}
