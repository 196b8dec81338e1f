package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/time/rate"

	"github.com/wolfman30/sara-leads/internal/observability/metrics"
	"github.com/wolfman30/sara-leads/internal/retry"
	"github.com/wolfman30/sara-leads/pkg/logging"
)

var twilioSendTracer = otel.Tracer("sara.internal.messaging.twilio_send")

const defaultTwilioBaseURL = "https://api.twilio.com"

// Sender sends a WhatsApp text to an E.164 phone.
type Sender interface {
	Send(ctx context.Context, to, body string) error
}

// TwilioSender posts WhatsApp messages using Twilio's REST API. Retries are
// left to the caller; client errors are returned as permanent.
type TwilioSender struct {
	accountSID string
	authToken  string
	from       string
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	metrics    *metrics.MessagingMetrics
	logger     *logging.Logger
}

type TwilioOption func(*TwilioSender)

// WithRateLimit caps outbound messages per second.
func WithRateLimit(perSecond float64, burst int) TwilioOption {
	return func(s *TwilioSender) {
		if perSecond > 0 {
			s.limiter = rate.NewLimiter(rate.Limit(perSecond), max(burst, 1))
		}
	}
}

func WithBaseURL(base string) TwilioOption {
	return func(s *TwilioSender) { s.baseURL = strings.TrimRight(base, "/") }
}

func WithSendMetrics(m *metrics.MessagingMetrics) TwilioOption {
	return func(s *TwilioSender) { s.metrics = m }
}

// NewTwilioSender builds a sender with sane defaults.
func NewTwilioSender(accountSID, authToken, from string, logger *logging.Logger, opts ...TwilioOption) *TwilioSender {
	if logger == nil {
		logger = logging.Default()
	}
	s := &TwilioSender{
		accountSID: accountSID,
		authToken:  authToken,
		from:       from,
		baseURL:    defaultTwilioBaseURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		limiter:    rate.NewLimiter(rate.Limit(10), 10),
		logger:     logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ Sender = (*TwilioSender)(nil)

func (s *TwilioSender) Send(ctx context.Context, to, body string) error {
	if s.accountSID == "" || s.authToken == "" {
		return retry.Permanent(errors.New("messaging: twilio credentials missing"))
	}
	if to == "" || s.from == "" {
		return retry.Permanent(errors.New("messaging: to and from required"))
	}
	if strings.TrimSpace(body) == "" {
		return retry.Permanent(errors.New("messaging: body required"))
	}

	ctx, span := twilioSendTracer.Start(ctx, "messaging.twilio.send")
	defer span.End()
	span.SetAttributes(attribute.String("sara.to", to))

	if err := s.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("messaging: rate limit wait: %w", err)
	}

	payload := url.Values{}
	payload.Set("To", WhatsAppAddress(to))
	payload.Set("From", WhatsAppAddress(s.from))
	payload.Set("Body", body)

	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json", s.baseURL, s.accountSID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(payload.Encode()))
	if err != nil {
		return retry.Permanent(fmt.Errorf("messaging: build request: %w", err))
	}
	req.SetBasicAuth(s.accountSID, s.authToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		span.RecordError(err)
		s.metrics.ObserveOutbound("error")
		return fmt.Errorf("messaging: twilio request: %w", err)
	}
	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		var parsed struct {
			SID string `json:"sid"`
		}
		_ = json.Unmarshal(respBody, &parsed)
		s.metrics.ObserveOutbound("sent")
		s.logger.Info("whatsapp message sent", "to", to, "sid", parsed.SID)
		return nil
	}

	s.metrics.ObserveOutbound("error")
	sendErr := fmt.Errorf("messaging: twilio send failed: %s", formatTwilioError(resp.StatusCode, respBody))
	span.RecordError(sendErr)
	// Don't retry non-rate-limit 4xx errors.
	if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
		return retry.Permanent(sendErr)
	}
	return sendErr
}

type twilioAPIError struct {
	Code     int    `json:"code"`
	Message  string `json:"message"`
	MoreInfo string `json:"more_info"`
	Status   int    `json:"status"`
}

func formatTwilioError(status int, body []byte) string {
	body = []byte(strings.TrimSpace(string(body)))
	if len(body) == 0 {
		return fmt.Sprintf("status %d", status)
	}
	var parsed twilioAPIError
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Message != "" {
		if parsed.Code != 0 {
			return fmt.Sprintf("status %d code %d: %s", status, parsed.Code, parsed.Message)
		}
		return fmt.Sprintf("status %d: %s", status, parsed.Message)
	}
	return fmt.Sprintf("status %d: %s", status, string(body))
}
