package metrics

import "github.com/prometheus/client_golang/prometheus"

// MessagingMetrics exposes counters/histograms for WhatsApp transport flows.
type MessagingMetrics struct {
	inboundTotal   *prometheus.CounterVec
	outboundTotal  *prometheus.CounterVec
	webhookLatency *prometheus.HistogramVec
}

func NewMessagingMetrics(reg prometheus.Registerer) *MessagingMetrics {
	m := &MessagingMetrics{
		inboundTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sara",
			Subsystem: "messaging",
			Name:      "inbound_webhook_total",
			Help:      "Total inbound Twilio webhooks",
		}, []string{"status"}),
		outboundTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sara",
			Subsystem: "messaging",
			Name:      "outbound_total",
			Help:      "Total outbound WhatsApp sends",
		}, []string{"status"}),
		webhookLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "sara",
			Subsystem: "messaging",
			Name:      "webhook_latency_seconds",
			Help:      "Latency of Twilio webhook processing",
			Buckets:   prometheus.DefBuckets,
		}, []string{"status"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.inboundTotal, m.outboundTotal, m.webhookLatency)
	return m
}

func (m *MessagingMetrics) ObserveInbound(status string) {
	if m == nil {
		return
	}
	m.inboundTotal.WithLabelValues(status).Inc()
}

func (m *MessagingMetrics) ObserveOutbound(status string) {
	if m == nil {
		return
	}
	m.outboundTotal.WithLabelValues(status).Inc()
}

func (m *MessagingMetrics) ObserveWebhookLatency(status string, seconds float64) {
	if m == nil {
		return
	}
	m.webhookLatency.WithLabelValues(status).Observe(seconds)
}

// LeadMetrics counts qualification engine outcomes.
type LeadMetrics struct {
	messagesTotal       *prometheus.CounterVec
	qualificationsTotal *prometheus.CounterVec
	notificationsTotal  *prometheus.CounterVec
	availabilityTotal   *prometheus.CounterVec
	collaboratorErrors  *prometheus.CounterVec
	processingLatency   *prometheus.HistogramVec
}

func NewLeadMetrics(reg prometheus.Registerer) *LeadMetrics {
	m := &LeadMetrics{
		messagesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sara",
			Subsystem: "leads",
			Name:      "messages_total",
			Help:      "Inbound lead messages processed",
		}, []string{"sender", "status"}),
		qualificationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sara",
			Subsystem: "leads",
			Name:      "qualification_events_total",
			Help:      "Qualification events emitted by kind",
		}, []string{"kind"}),
		notificationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sara",
			Subsystem: "leads",
			Name:      "notifications_total",
			Help:      "Notifications by recipient role and outcome",
		}, []string{"role", "status"}),
		availabilityTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sara",
			Subsystem: "leads",
			Name:      "availability_checks_total",
			Help:      "Availability checks by result",
		}, []string{"status"}),
		collaboratorErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sara",
			Subsystem: "leads",
			Name:      "collaborator_failures_total",
			Help:      "Failures of external collaborators",
		}, []string{"collaborator"}),
		processingLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "sara",
			Subsystem: "leads",
			Name:      "message_processing_seconds",
			Help:      "Time to process one inbound message",
			Buckets:   prometheus.DefBuckets,
		}, []string{"sender"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.messagesTotal, m.qualificationsTotal, m.notificationsTotal,
		m.availabilityTotal, m.collaboratorErrors, m.processingLatency)
	return m
}

func (m *LeadMetrics) ObserveMessage(sender, status string, seconds float64) {
	if m == nil {
		return
	}
	m.messagesTotal.WithLabelValues(sender, status).Inc()
	m.processingLatency.WithLabelValues(sender).Observe(seconds)
}

func (m *LeadMetrics) ObserveQualification(kind string) {
	if m == nil {
		return
	}
	m.qualificationsTotal.WithLabelValues(kind).Inc()
}

func (m *LeadMetrics) ObserveNotification(role, status string) {
	if m == nil {
		return
	}
	m.notificationsTotal.WithLabelValues(role, status).Inc()
}

func (m *LeadMetrics) ObserveAvailability(status string) {
	if m == nil {
		return
	}
	m.availabilityTotal.WithLabelValues(status).Inc()
}

func (m *LeadMetrics) ObserveCollaboratorFailure(collaborator string) {
	if m == nil {
		return
	}
	m.collaboratorErrors.WithLabelValues(collaborator).Inc()
}
