package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestMessagingMetricsObserve(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMessagingMetrics(reg)
	m.ObserveInbound("accepted")
	m.ObserveOutbound("sent")
	m.ObserveWebhookLatency("accepted", 0.5)
}

func TestMessagingMetricsNilSafe(t *testing.T) {
	var m *MessagingMetrics
	m.ObserveInbound("status")
	m.ObserveOutbound("sent")
	m.ObserveWebhookLatency("status", 0.1)
}

func TestLeadMetricsCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewLeadMetrics(reg)

	m.ObserveNotification("vendor", "sent")
	m.ObserveNotification("vendor", "sent")
	m.ObserveNotification("advisor", "failed")
	m.ObserveAvailability("degraded")
	m.ObserveCollaboratorFailure("calendar")
	m.ObserveQualification("lead.qualified.v1")
	m.ObserveMessage("client", "ok", 0.02)

	if got := counterValue(t, reg, "sara_leads_notifications_total", map[string]string{"role": "vendor", "status": "sent"}); got != 2 {
		t.Fatalf("expected 2 vendor notifications, got %v", got)
	}
	if got := counterValue(t, reg, "sara_leads_availability_checks_total", map[string]string{"status": "degraded"}); got != 1 {
		t.Fatalf("expected 1 degraded check, got %v", got)
	}
}

func TestLeadMetricsNilSafe(t *testing.T) {
	var m *LeadMetrics
	m.ObserveNotification("client", "sent")
	m.ObserveAvailability("available")
	m.ObserveCollaboratorFailure("email")
	m.ObserveQualification("x")
	m.ObserveMessage("client", "ok", 1)
}

func counterValue(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, metric := range mf.GetMetric() {
			if labelsMatch(metric, labels) {
				return metric.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func labelsMatch(metric *dto.Metric, labels map[string]string) bool {
	matched := 0
	for _, lp := range metric.GetLabel() {
		if v, ok := labels[lp.GetName()]; ok && v == lp.GetValue() {
			matched++
		}
	}
	return matched == len(labels)
}
