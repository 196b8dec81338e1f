// Package messaging is the WhatsApp transport: the Twilio webhook on the way
// in and the Twilio REST sender on the way out.
package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/sara-leads/internal/events"
	"github.com/wolfman30/sara-leads/internal/observability/metrics"
	"github.com/wolfman30/sara-leads/pkg/logging"
)

var twilioTracer = otel.Tracer("sara.internal.messaging.twilio")

const (
	inboundScope = "twilio_inbound"
	emptyTwiML   = `<?xml version="1.0" encoding="UTF-8"?><Response></Response>`
)

// InboundPublisher hands accepted messages to the conversation workers.
type InboundPublisher interface {
	Publish(ctx context.Context, msg events.InboundMessageV1) error
}

// Handler handles messaging webhook requests.
type Handler struct {
	webhookSecret string
	publicURL     string
	publisher     InboundPublisher
	dedupe        events.Deduper
	recorder      events.Recorder
	metrics       *metrics.MessagingMetrics
	logger        *logging.Logger
	now           func() time.Time
}

type HandlerOption func(*Handler)

// WithDeduper drops Twilio redeliveries of the same MessageSid.
func WithDeduper(d events.Deduper) HandlerOption {
	return func(h *Handler) { h.dedupe = d }
}

// WithRecorder appends every accepted message to the outbox.
func WithRecorder(r events.Recorder) HandlerOption {
	return func(h *Handler) { h.recorder = r }
}

func WithHandlerMetrics(m *metrics.MessagingMetrics) HandlerOption {
	return func(h *Handler) { h.metrics = m }
}

// WithPublicURL fixes the URL used for signature checks when the service sits
// behind a proxy that rewrites the host.
func WithPublicURL(u string) HandlerOption {
	return func(h *Handler) { h.publicURL = u }
}

// NewHandler creates a new messaging handler.
func NewHandler(webhookSecret string, publisher InboundPublisher, logger *logging.Logger, opts ...HandlerOption) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	if publisher == nil {
		panic("messaging: publisher cannot be nil")
	}
	h := &Handler{
		webhookSecret: webhookSecret,
		publisher:     publisher,
		logger:        logger,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// TwilioWebhook handles POST /webhooks/twilio/whatsapp.
func (h *Handler) TwilioWebhook(w http.ResponseWriter, r *http.Request) {
	start := h.now()
	ctx, span := twilioTracer.Start(r.Context(), "messaging.twilio.webhook")
	defer span.End()

	status := "accepted"
	defer func() {
		h.metrics.ObserveInbound(status)
		h.metrics.ObserveWebhookLatency(status, h.now().Sub(start).Seconds())
	}()

	if h.webhookSecret != "" {
		webhookURL := h.publicURL
		if webhookURL == "" {
			webhookURL = buildAbsoluteURL(r)
		}
		if !ValidateTwilioSignature(r, h.webhookSecret, webhookURL) {
			status = "unauthorized"
			h.logger.Warn("invalid twilio signature")
			span.RecordError(errors.New("invalid twilio signature"))
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
	}

	webhook, err := ParseTwilioWebhook(r)
	if err != nil {
		status = "bad_request"
		h.logger.Error("failed to parse twilio webhook", "error", err)
		span.RecordError(err)
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}
	from := NormalizePhone(webhook.From)
	span.SetAttributes(
		attribute.String("sara.twilio.message_sid", webhook.MessageSid),
		attribute.String("sara.twilio.from", from),
	)
	if webhook.MediaOnly() {
		status = "unsupported_media"
		h.logger.Info("media-only whatsapp message ignored", "message_sid", webhook.MessageSid, "media", webhook.NumMedia)
		writeTwiML(w)
		return
	}
	if webhook.MessageSid == "" || from == "" || webhook.Text() == "" {
		status = "bad_request"
		err := errors.New("missing required twilio fields")
		h.logger.Error("invalid twilio payload", "error", err, "message_sid", webhook.MessageSid)
		span.RecordError(err)
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}

	if h.dedupe != nil {
		claimed, err := h.dedupe.MarkProcessed(ctx, inboundScope, webhook.MessageSid)
		if err != nil {
			h.logger.Warn("inbound dedupe unavailable", "error", err, "message_sid", webhook.MessageSid)
		} else if !claimed {
			status = "duplicate"
			h.logger.Info("duplicate twilio delivery ignored", "message_sid", webhook.MessageSid)
			writeTwiML(w)
			return
		}
	}

	msg := events.InboundMessageV1{
		MessageID:   webhook.MessageSid,
		From:        from,
		To:          NormalizePhone(webhook.To),
		Body:        webhook.Text(),
		ProfileName: webhook.ProfileName,
		ReceivedAt:  start.UTC(),
	}

	if h.recorder != nil {
		if _, err := h.recorder.Append(ctx, events.PhoneAggregate(from), webhook.MessageSid, msg); err != nil {
			h.logger.Warn("failed to record inbound message", "error", err, "message_sid", webhook.MessageSid)
		}
	}

	publishCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := h.publisher.Publish(publishCtx, msg); err != nil {
		status = "enqueue_failed"
		h.logger.Error("failed to enqueue inbound message", "error", err, "message_sid", webhook.MessageSid)
		span.RecordError(err)
		if h.dedupe != nil {
			// let Twilio's retry through
			_ = h.dedupe.Release(context.WithoutCancel(ctx), inboundScope, webhook.MessageSid)
		}
		http.Error(w, "Failed to schedule reply", http.StatusInternalServerError)
		return
	}

	h.logger.Info("twilio webhook accepted", "message_sid", webhook.MessageSid, "from", from)
	writeTwiML(w)
}

func writeTwiML(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(emptyTwiML))
}

// HealthCheck returns a simple health check response.
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func buildAbsoluteURL(r *http.Request) string {
	if r.URL == nil {
		return ""
	}
	if r.URL.Scheme != "" {
		return r.URL.String()
	}
	scheme := r.Header.Get("X-Forwarded-Proto")
	if scheme == "" {
		scheme = "https"
		if r.TLS == nil {
			scheme = "http"
		}
	}
	host := r.Header.Get("X-Forwarded-Host")
	if host == "" {
		host = r.Host
	}
	return fmt.Sprintf("%s://%s%s", scheme, host, r.URL.RequestURI())
}
