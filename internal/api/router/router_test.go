package router

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wolfman30/sara-leads/internal/appointments"
	"github.com/wolfman30/sara-leads/internal/conversation"
	"github.com/wolfman30/sara-leads/internal/events"
	"github.com/wolfman30/sara-leads/internal/http/handlers"
	"github.com/wolfman30/sara-leads/internal/messaging"
	"github.com/wolfman30/sara-leads/internal/observability/metrics"
	"github.com/wolfman30/sara-leads/pkg/logging"
)

type noopPublisher struct {
	mu  sync.Mutex
	got []events.InboundMessageV1
}

func (p *noopPublisher) Publish(ctx context.Context, msg events.InboundMessageV1) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.got = append(p.got, msg)
	return nil
}

type nopLeadService struct{}

func (nopLeadService) Lookup(ctx context.Context, phone string) (*conversation.LeadView, error) {
	return &conversation.LeadView{}, nil
}

func (nopLeadService) CancelAppointment(ctx context.Context, id, memberID string) (*appointments.Appointment, error) {
	return &appointments.Appointment{ID: id}, nil
}

func newTestRouter(t *testing.T, pub *noopPublisher, rate float64) http.Handler {
	t.Helper()
	logger := logging.Default()
	reg := prometheus.NewRegistry()
	return New(&Config{
		Logger:           logger,
		MessagingHandler: messaging.NewHandler("", pub, logger, messaging.WithHandlerMetrics(metrics.NewMessagingMetrics(reg))),
		AdminLeads:       handlers.NewAdminLeadsHandler(nopLeadService{}, logger),
		AdminAuthSecret:  "secret",
		MetricsHandler:   promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		WebhookRateLimit: rate,
		WebhookBurst:     1,
	})
}

func twilioForm() url.Values {
	return url.Values{
		"MessageSid": {"SM123"},
		"From":       {"whatsapp:+5215512345678"},
		"To":         {"whatsapp:+5215500000000"},
		"Body":       {"hola"},
	}
}

func postWebhook(router http.Handler, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(twilioForm().Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.RemoteAddr = "10.1.1.1:443"
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func TestRouterHealthEndpoint(t *testing.T) {
	router := newTestRouter(t, &noopPublisher{}, 0)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rr.Code)
	}
	var resp map[string]string
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode health response: %v", err)
	}
	if resp["status"] != "ok" {
		t.Errorf("expected status 'ok', got %q", resp["status"])
	}
}

func TestRouterWebhookPaths(t *testing.T) {
	pub := &noopPublisher{}
	router := newTestRouter(t, pub, 0)

	for _, path := range []string{"/webhooks/twilio/whatsapp", "/messaging/twilio/webhook"} {
		if rr := postWebhook(router, path); rr.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", path, rr.Code)
		}
	}
	if len(pub.got) != 2 {
		t.Fatalf("expected 2 published messages, got %d", len(pub.got))
	}
	if pub.got[0].From != "+5215512345678" {
		t.Fatalf("unexpected sender %q", pub.got[0].From)
	}
}

func TestRouterWebhookRateLimited(t *testing.T) {
	router := newTestRouter(t, &noopPublisher{}, 0.001)

	if rr := postWebhook(router, "/webhooks/twilio/whatsapp"); rr.Code != http.StatusOK {
		t.Fatalf("first request: %d", rr.Code)
	}
	if rr := postWebhook(router, "/webhooks/twilio/whatsapp"); rr.Code != http.StatusTooManyRequests {
		t.Fatalf("second request should be limited, got %d", rr.Code)
	}
}

func TestRouterMetricsEndpoint(t *testing.T) {
	router := newTestRouter(t, &noopPublisher{}, 0)
	postWebhook(router, "/webhooks/twilio/whatsapp")

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "sara_") {
		t.Fatalf("expected sara metrics in output")
	}
}

func TestRouterAdminRequiresToken(t *testing.T) {
	router := newTestRouter(t, &noopPublisher{}, 0)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/admin/leads/5215512345678", nil))

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
}
