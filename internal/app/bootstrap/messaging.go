package bootstrap

import (
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"

	appconfig "github.com/wolfman30/sara-leads/internal/config"
	"github.com/wolfman30/sara-leads/internal/messaging"
	"github.com/wolfman30/sara-leads/internal/notify"
	"github.com/wolfman30/sara-leads/internal/observability/metrics"
	"github.com/wolfman30/sara-leads/pkg/logging"
)

// BuildSender returns the WhatsApp sender and the provider name. Without
// Twilio credentials messages are only logged.
func BuildSender(cfg *appconfig.Config, m *metrics.MessagingMetrics, logger *logging.Logger) (messaging.Sender, string) {
	if logger == nil {
		logger = logging.Default()
	}
	if cfg.TwilioAccountSID == "" || cfg.TwilioAuthToken == "" || cfg.TwilioFromNumber == "" {
		logger.Warn("twilio credentials missing; outbound whatsapp is logged only")
		return messaging.NewLogSender(logger), "log"
	}
	burst := int(cfg.TwilioSendRPS)
	return messaging.NewTwilioSender(cfg.TwilioAccountSID, cfg.TwilioAuthToken, cfg.TwilioFromNumber, logger,
		messaging.WithRateLimit(cfg.TwilioSendRPS, burst),
		messaging.WithSendMetrics(m),
	), "twilio"
}

// BuildEmailSender picks the failover email provider. EMAIL_PROVIDER may be
// sendgrid, ses, none or auto (SendGrid, then SES, then none).
func BuildEmailSender(cfg *appconfig.Config, awsCfg *aws.Config, logger *logging.Logger) (notify.EmailSender, string) {
	if logger == nil {
		logger = logging.Default()
	}
	sendgridReady := cfg.SendGridAPIKey != "" && cfg.SendGridFromEmail != ""
	sesReady := cfg.SESFromEmail != "" && awsCfg != nil

	provider := strings.ToLower(strings.TrimSpace(cfg.EmailProvider))
	if provider == "" || provider == "auto" {
		switch {
		case sendgridReady:
			provider = "sendgrid"
		case sesReady:
			provider = "ses"
		default:
			provider = "none"
		}
	}

	switch provider {
	case "sendgrid":
		if sendgridReady {
			return notify.NewSendGridSender(notify.SendGridConfig{
				APIKey:    cfg.SendGridAPIKey,
				FromEmail: cfg.SendGridFromEmail,
				FromName:  cfg.SendGridFromName,
			}, logger), provider
		}
	case "ses":
		if sesReady {
			return notify.NewSESSender(sesv2.NewFromConfig(*awsCfg), notify.SESConfig{
				FromEmail:        cfg.SESFromEmail,
				FromName:         cfg.SendGridFromName,
				ConfigurationSet: cfg.SESConfigSet,
			}, logger), provider
		}
	case "none":
		return nil, provider
	}
	logger.Warn("email provider not fully configured; team email failover is logged only", "provider", provider)
	return notify.NewStubEmailSender(logger), "stub"
}
