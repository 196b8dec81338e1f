package notify

import (
	"context"
	"fmt"
	"html"
	"net/http"
	"strings"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"

	"github.com/wolfman30/sara-leads/internal/events"
	"github.com/wolfman30/sara-leads/internal/retry"
	"github.com/wolfman30/sara-leads/pkg/logging"
)

const defaultFromName = "SARA Inmobiliaria"

// EmailSender delivers team notifications when WhatsApp is unavailable.
type EmailSender interface {
	Send(ctx context.Context, msg EmailMessage) error
}

// EmailMessage is one failover notification. Body is the same plain text
// that would have gone over WhatsApp.
type EmailMessage struct {
	To      string
	ToName  string
	Subject string
	Body    string
	EventID string
	Role    events.Role
}

func (m EmailMessage) validate() error {
	if !strings.Contains(m.To, "@") {
		return retry.Permanent(fmt.Errorf("notify: invalid email recipient %q", m.To))
	}
	return nil
}

// SendGridConfig holds configuration for SendGrid.
type SendGridConfig struct {
	APIKey    string
	FromEmail string
	FromName  string
}

type sendgridAPI interface {
	SendWithContext(ctx context.Context, email *mail.SGMailV3) (*sendgridResponse, error)
}

type sendgridResponse struct {
	StatusCode int
	Body       string
}

type sendgridClient struct{ client *sendgrid.Client }

func (c sendgridClient) SendWithContext(ctx context.Context, email *mail.SGMailV3) (*sendgridResponse, error) {
	resp, err := c.client.SendWithContext(ctx, email)
	if err != nil {
		return nil, err
	}
	return &sendgridResponse{StatusCode: resp.StatusCode, Body: resp.Body}, nil
}

// SendGridSender sends team notifications through the SendGrid v3 API.
type SendGridSender struct {
	client    sendgridAPI
	fromEmail string
	fromName  string
	logger    *logging.Logger
}

// NewSendGridSender returns nil when no API key is configured.
func NewSendGridSender(cfg SendGridConfig, logger *logging.Logger) *SendGridSender {
	if cfg.APIKey == "" {
		return nil
	}
	return newSendGridSender(sendgridClient{client: sendgrid.NewSendClient(cfg.APIKey)}, cfg, logger)
}

func newSendGridSender(client sendgridAPI, cfg SendGridConfig, logger *logging.Logger) *SendGridSender {
	if logger == nil {
		logger = logging.Default()
	}
	if cfg.FromName == "" {
		cfg.FromName = defaultFromName
	}
	return &SendGridSender{
		client:    client,
		fromEmail: cfg.FromEmail,
		fromName:  cfg.FromName,
		logger:    logger,
	}
}

// Send delivers msg. Client errors other than throttling are permanent.
func (s *SendGridSender) Send(ctx context.Context, msg EmailMessage) error {
	if s.client == nil {
		return retry.Permanent(fmt.Errorf("notify: sendgrid client not configured"))
	}
	if err := msg.validate(); err != nil {
		return err
	}

	message := mail.NewSingleEmail(
		mail.NewEmail(s.fromName, s.fromEmail),
		msg.Subject,
		mail.NewEmail(msg.ToName, msg.To),
		msg.Body,
		plainToHTML(msg.Body),
	)
	message.AddCategories("sara-leads")
	if msg.Role != "" {
		message.AddCategories(string(msg.Role))
	}
	if msg.EventID != "" {
		message.SetCustomArg("event_id", msg.EventID)
	}

	resp, err := s.client.SendWithContext(ctx, message)
	if err != nil {
		return fmt.Errorf("notify: sendgrid send: %w", err)
	}
	if resp.StatusCode >= 400 {
		s.logger.Warn("sendgrid rejected email", "status", resp.StatusCode, "body", resp.Body, "event_id", msg.EventID)
		err := fmt.Errorf("notify: sendgrid status %d", resp.StatusCode)
		if resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return retry.Permanent(err)
		}
		return err
	}

	s.logger.Info("email sent", "provider", "sendgrid", "event_id", msg.EventID, "role", msg.Role)
	return nil
}

// StubEmailSender logs instead of sending; used when no provider is usable.
type StubEmailSender struct {
	logger *logging.Logger
}

func NewStubEmailSender(logger *logging.Logger) *StubEmailSender {
	if logger == nil {
		logger = logging.Default()
	}
	return &StubEmailSender{logger: logger}
}

func (s *StubEmailSender) Send(ctx context.Context, msg EmailMessage) error {
	if err := msg.validate(); err != nil {
		return err
	}
	s.logger.Info("stub email sender: would send email", "event_id", msg.EventID, "role", msg.Role, "subject", msg.Subject)
	return nil
}

// plainToHTML keeps WhatsApp line breaks readable in mail clients.
func plainToHTML(body string) string {
	escaped := html.EscapeString(body)
	return "<div style=\"font-family: sans-serif; max-width: 600px;\">" +
		strings.ReplaceAll(escaped, "\n", "<br>") + "</div>"
}

var (
	_ EmailSender = (*SendGridSender)(nil)
	_ EmailSender = (*StubEmailSender)(nil)
)
