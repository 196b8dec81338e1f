// Package notify fans qualification and cancellation events out to the client
// and the team.
package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/sara-leads/internal/apperr"
	"github.com/wolfman30/sara-leads/internal/events"
	"github.com/wolfman30/sara-leads/internal/observability/metrics"
	"github.com/wolfman30/sara-leads/internal/retry"
	"github.com/wolfman30/sara-leads/pkg/logging"
)

var tracer = otel.Tracer("sara.internal.notify")

// dedupeScope namespaces (event, role) claims in the processed store.
const dedupeScope = "notification"

// MessageSender sends a WhatsApp text.
type MessageSender interface {
	Send(ctx context.Context, to, body string) error
}

type Status string

const (
	StatusSent      Status = "sent"
	StatusEmailed   Status = "emailed"
	StatusDuplicate Status = "duplicate"
	StatusSkipped   Status = "skipped"
	StatusFailed    Status = "failed"
)

// Delivery is the outcome for one recipient role.
type Delivery struct {
	Role   events.Role
	Status Status
	Err    error
}

// Report lists deliveries in recipient order.
type Report struct {
	Deliveries []Delivery
}

// Delivered reports whether role got the message now or earlier.
func (r Report) Delivered(role events.Role) bool {
	for _, d := range r.Deliveries {
		if d.Role != role {
			continue
		}
		return d.Status == StatusSent || d.Status == StatusEmailed || d.Status == StatusDuplicate
	}
	return false
}

// Dispatcher sends one message per recipient role, at most once per
// (event id, role).
type Dispatcher struct {
	sender   MessageSender
	email    EmailSender
	dedupe   events.Deduper
	metrics  *metrics.LeadMetrics
	logger   *logging.Logger
	attempts int
	backoff  time.Duration
}

type Option func(*Dispatcher)

// WithEmail enables email failover for team members.
func WithEmail(sender EmailSender) Option {
	return func(d *Dispatcher) { d.email = sender }
}

func WithMetrics(m *metrics.LeadMetrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

// WithRetry overrides the per-send retry policy.
func WithRetry(attempts int, backoff time.Duration) Option {
	return func(d *Dispatcher) {
		d.attempts = attempts
		d.backoff = backoff
	}
}

func NewDispatcher(sender MessageSender, dedupe events.Deduper, logger *logging.Logger, opts ...Option) *Dispatcher {
	if sender == nil {
		panic("notify: message sender required")
	}
	if dedupe == nil {
		dedupe = events.NewMemoryProcessedStore()
	}
	if logger == nil {
		logger = logging.Default()
	}
	d := &Dispatcher{
		sender:   sender,
		dedupe:   dedupe,
		logger:   logger,
		attempts: retry.DefaultAttempts,
		backoff:  retry.DefaultBackoff,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

type target struct {
	name  string
	phone string
	email string
}

func targetFor(evt events.Event, role events.Role) (target, bool) {
	switch role {
	case events.RoleClient:
		return target{name: evt.Lead.Name, phone: evt.Lead.Phone}, evt.Lead.Phone != ""
	case events.RoleVendor:
		if evt.Vendor == nil {
			return target{}, false
		}
		return target{name: evt.Vendor.Name, phone: evt.Vendor.Phone, email: evt.Vendor.Email}, true
	case events.RoleAdvisor:
		if evt.Advisor == nil {
			return target{}, false
		}
		return target{name: evt.Advisor.Name, phone: evt.Advisor.Phone, email: evt.Advisor.Email}, true
	}
	return target{}, false
}

// Dispatch delivers evt to each of its recipients. Failed roles are released
// so a later dispatch of the same event can retry them; the returned error
// joins those failures.
func (d *Dispatcher) Dispatch(ctx context.Context, evt events.Event) (Report, error) {
	ctx, span := tracer.Start(ctx, "notify.dispatch")
	defer span.End()
	span.SetAttributes(
		attribute.String("sara.event_id", evt.ID),
		attribute.String("sara.event_kind", string(evt.Kind)),
	)

	var report Report
	var errs []error
	for _, role := range evt.Recipients {
		delivery := d.deliver(ctx, evt, role)
		report.Deliveries = append(report.Deliveries, delivery)
		d.metrics.ObserveNotification(string(role), string(delivery.Status))
		if delivery.Err != nil {
			errs = append(errs, delivery.Err)
		}
	}
	if len(errs) > 0 {
		err := errors.Join(errs...)
		span.RecordError(err)
		return report, err
	}
	return report, nil
}

func (d *Dispatcher) deliver(ctx context.Context, evt events.Event, role events.Role) Delivery {
	to, ok := targetFor(evt, role)
	if !ok {
		d.logger.Warn("notify: recipient missing", "event_id", evt.ID, "role", role)
		return Delivery{Role: role, Status: StatusSkipped}
	}

	key := evt.ID + ":" + string(role)
	claimed, err := d.dedupe.MarkProcessed(ctx, dedupeScope, key)
	if err != nil {
		return Delivery{Role: role, Status: StatusFailed, Err: apperr.CollaboratorFailure(apperr.Persistence, "notify.claim", err)}
	}
	if !claimed {
		d.logger.Debug("notify: already delivered", "event_id", evt.ID, "role", role)
		return Delivery{Role: role, Status: StatusDuplicate}
	}

	subject, body := Render(evt, role)
	sendErr := d.retry(ctx, func(ctx context.Context) error {
		return d.sender.Send(ctx, to.phone, body)
	})
	if sendErr == nil {
		d.logger.Info("notification sent", "event_id", evt.ID, "role", role, "channel", "whatsapp")
		return Delivery{Role: role, Status: StatusSent}
	}
	d.metrics.ObserveCollaboratorFailure(string(apperr.Messaging))
	d.logger.Warn("notify: whatsapp send failed", "event_id", evt.ID, "role", role, "error", sendErr)

	failure := apperr.CollaboratorFailure(apperr.Messaging, "notify.send", sendErr)
	if role != events.RoleClient && d.email != nil && to.email != "" {
		emailErr := d.retry(ctx, func(ctx context.Context) error {
			return d.email.Send(ctx, EmailMessage{To: to.email, ToName: to.name, Subject: subject, Body: body, EventID: evt.ID, Role: role})
		})
		if emailErr == nil {
			d.logger.Info("notification sent", "event_id", evt.ID, "role", role, "channel", "email")
			return Delivery{Role: role, Status: StatusEmailed}
		}
		d.metrics.ObserveCollaboratorFailure(string(apperr.Email))
		failure = apperr.CollaboratorFailure(apperr.Email, "notify.email", errors.Join(sendErr, emailErr))
	}

	if err := d.dedupe.Release(context.WithoutCancel(ctx), dedupeScope, key); err != nil {
		d.logger.Error("notify: release claim failed", "event_id", evt.ID, "role", role, "error", err)
	}
	return Delivery{Role: role, Status: StatusFailed, Err: fmt.Errorf("notify: %s: %w", role, failure)}
}

func (d *Dispatcher) retry(ctx context.Context, fn func(context.Context) error) error {
	return retry.Do(ctx, d.attempts, d.backoff, fn)
}
