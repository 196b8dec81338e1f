// Package availability decides whether a requested visit slot is free for the
// vendor and advisor, and proposes nearby alternatives when it is not.
package availability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/wolfman30/sara-leads/internal/appointments"
	"github.com/wolfman30/sara-leads/internal/observability/metrics"
	"github.com/wolfman30/sara-leads/pkg/logging"
)

// Status of an availability check.
type Status string

const (
	StatusAvailable Status = "available"
	StatusConflict  Status = "conflict"
	// StatusDegraded means the lookup failed and the slot is assumed free.
	StatusDegraded Status = "degraded"
)

const maxAlternatives = 3

// BusyLookup finds active appointments of a member in a window.
type BusyLookup interface {
	Overlapping(ctx context.Context, memberID string, start, end time.Time, excludeLeadID string) ([]appointments.Appointment, error)
}

// Request asks about [Start, Start+Duration) for the given parties.
type Request struct {
	Start     time.Time
	Duration  time.Duration
	VendorID  string
	AdvisorID string
	LeadID    string
}

// Result of a check. Alternatives are only filled on conflict.
type Result struct {
	Status       Status
	BusyParties  []string
	Alternatives []time.Time
	Err          error
}

// Options configure business hours in the business location.
type Options struct {
	Location  *time.Location
	OpenHour  int
	CloseHour int
	Duration  time.Duration
}

type Resolver struct {
	busy    BusyLookup
	opts    Options
	logger  *logging.Logger
	metrics *metrics.LeadMetrics
	tracer  trace.Tracer
}

func NewResolver(busy BusyLookup, opts Options, logger *logging.Logger, m *metrics.LeadMetrics) *Resolver {
	if busy == nil {
		panic("availability: busy lookup required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.CloseHour <= opts.OpenHour {
		opts.OpenHour, opts.CloseHour = 9, 18
	}
	if opts.Duration <= 0 {
		opts.Duration = time.Hour
	}
	return &Resolver{
		busy:    busy,
		opts:    opts,
		logger:  logger,
		metrics: m,
		tracer:  otel.Tracer("sara.internal.availability"),
	}
}

// Check reports whether every required party is free for the request.
func (r *Resolver) Check(ctx context.Context, req Request) Result {
	ctx, span := r.tracer.Start(ctx, "availability.check")
	defer span.End()

	if req.Duration <= 0 {
		req.Duration = r.opts.Duration
	}
	span.SetAttributes(attribute.String("lead_id", req.LeadID), attribute.String("start", req.Start.Format(time.RFC3339)))

	busy, err := r.busyParties(ctx, req, req.Start)
	if err != nil {
		span.RecordError(err)
		r.logger.Warn("availability lookup failed, assuming free", "error", err, "lead_id", req.LeadID)
		r.metrics.ObserveAvailability(string(StatusDegraded))
		r.metrics.ObserveCollaboratorFailure("persistence")
		return Result{Status: StatusDegraded, Err: err}
	}
	if len(busy) == 0 {
		r.metrics.ObserveAvailability(string(StatusAvailable))
		return Result{Status: StatusAvailable}
	}

	r.metrics.ObserveAvailability(string(StatusConflict))
	return Result{
		Status:       StatusConflict,
		BusyParties:  busy,
		Alternatives: r.Alternatives(ctx, req),
	}
}

// Alternatives proposes up to three free slots near the request, trying +1h,
// +2h, next day, next day +1h and +2 days in that order.
func (r *Resolver) Alternatives(ctx context.Context, req Request) []time.Time {
	if req.Duration <= 0 {
		req.Duration = r.opts.Duration
	}
	local := req.Start.In(r.opts.Location)
	candidates := []time.Time{
		local.Add(time.Hour),
		local.Add(2 * time.Hour),
		local.AddDate(0, 0, 1),
		local.AddDate(0, 0, 1).Add(time.Hour),
		local.AddDate(0, 0, 2),
	}

	var out []time.Time
	for _, c := range candidates {
		if len(out) == maxAlternatives {
			break
		}
		if !r.withinBusinessHours(c, req.Duration) {
			continue
		}
		busy, err := r.busyParties(ctx, req, c)
		if err != nil {
			r.logger.Warn("alternative lookup failed", "error", err, "candidate", c)
			continue
		}
		if len(busy) == 0 {
			out = append(out, c)
		}
	}
	return out
}

func (r *Resolver) withinBusinessHours(start time.Time, d time.Duration) bool {
	local := start.In(r.opts.Location)
	open := time.Date(local.Year(), local.Month(), local.Day(), r.opts.OpenHour, 0, 0, 0, r.opts.Location)
	closing := time.Date(local.Year(), local.Month(), local.Day(), r.opts.CloseHour, 0, 0, 0, r.opts.Location)
	return !local.Before(open) && !local.Add(d).After(closing)
}

func (r *Resolver) busyParties(ctx context.Context, req Request, start time.Time) ([]string, error) {
	end := start.Add(req.Duration)
	var busy []string
	for _, member := range []string{req.VendorID, req.AdvisorID} {
		if member == "" {
			continue
		}
		overlapping, err := r.busy.Overlapping(ctx, member, start, end, req.LeadID)
		if err != nil {
			return nil, err
		}
		if len(overlapping) > 0 {
			busy = append(busy, member)
		}
	}
	return busy, nil
}
