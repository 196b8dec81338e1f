package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/wolfman30/sara-leads/internal/apperr"
	"github.com/wolfman30/sara-leads/internal/appointments"
	"github.com/wolfman30/sara-leads/internal/calendar"
	"github.com/wolfman30/sara-leads/internal/catalog"
	"github.com/wolfman30/sara-leads/internal/events"
	"github.com/wolfman30/sara-leads/internal/extract"
	"github.com/wolfman30/sara-leads/internal/leads"
	"github.com/wolfman30/sara-leads/internal/mortgage"
	"github.com/wolfman30/sara-leads/internal/notify"
	"github.com/wolfman30/sara-leads/internal/qualify"
	"github.com/wolfman30/sara-leads/internal/retry"
	"github.com/wolfman30/sara-leads/internal/team"
)

// execution is the state of running one outcome.
type execution struct {
	msg     events.InboundMessageV1
	before  *leads.Lead
	actor   qualify.Actor
	outcome qualify.Outcome
	reply   qualify.Reply

	property *catalog.Property
	active   *appointments.Appointment
	// appt is the appointment booked or cancelled by this run.
	appt       *appointments.Appointment
	unverified bool

	members  map[string]*team.Member
	report   *notify.Report
	failures []error
}

func newExecution(msg events.InboundMessageV1, before *leads.Lead, actor qualify.Actor) *execution {
	return &execution{
		msg:     msg,
		before:  before,
		actor:   actor,
		members: make(map[string]*team.Member),
	}
}

func (x *execution) setOutcome(o qualify.Outcome) {
	x.outcome = o
	x.reply = o.Reply
}

func (x *execution) lead() *leads.Lead {
	if x.outcome.Lead != nil {
		return x.outcome.Lead
	}
	return x.before
}

// clientConfirmed reports whether the client already received the booking or
// cancellation confirmation for this run.
func (x *execution) clientConfirmed() bool {
	if x.report == nil {
		return false
	}
	switch x.reply.Kind {
	case qualify.ReplyBooked, qualify.ReplyCancelled:
		return x.report.Delivered(events.RoleClient)
	}
	return false
}

// abort stops a transition whose write failed: the lead keeps what it said
// but not the stage change, so the same event is emitted again next time.
func (x *execution) abort(reply qualify.Reply) {
	lead := x.lead()
	lead.Stage = x.before.Stage
	lead.LastEventID = x.before.LastEventID
	lead.Cycle = x.before.Cycle
	x.reply = reply
}

func (x *execution) result() Result {
	return Result{
		LeadID:    x.lead().ID,
		ReplyKind: x.reply.Kind,
		EventID:   x.outcome.EventID,
		Notified:  x.report,
		Failures:  x.failures,
	}
}

// execute runs the outcome's effects in order. A failed booking or
// cancellation stops the remaining effects.
func (e *Engine) execute(ctx context.Context, x *execution) {
	ctx, span := tracer.Start(ctx, "conversation.execute")
	defer span.End()

	var deletions []qualify.Effect
	for _, eff := range x.outcome.Effects {
		switch eff.Kind {
		case qualify.EffectUpsertMortgage:
			e.upsertMortgage(ctx, x)
		case qualify.EffectBookAppointment:
			if !e.book(ctx, x, eff) {
				return
			}
		case qualify.EffectCancelAppointment:
			if !e.cancel(ctx, x, eff) {
				return
			}
		case qualify.EffectDeleteCalendarEvent:
			deletions = append(deletions, eff)
		case qualify.EffectNotify:
			e.deleteCalendarEvents(ctx, x, deletions)
			deletions = nil
			e.notify(ctx, x, eff.Notice)
		}
	}
	e.deleteCalendarEvents(ctx, x, deletions)
}

func (e *Engine) upsertMortgage(ctx context.Context, x *execution) {
	lead := x.lead()
	created, err := e.deps.Mortgages.Upsert(ctx, mortgage.Application{
		LeadID:        lead.ID,
		LeadName:      lead.Name,
		LeadPhone:     lead.Phone,
		PropertyID:    lead.PropertyID,
		MonthlyIncome: lead.Financing.MonthlyIncome,
		CurrentDebt:   lead.Financing.CurrentDebt,
		DownPayment:   lead.Financing.DownPayment,
		AdvisorID:     lead.AdvisorID,
		Status:        mortgage.StatusPending,
	})
	if err != nil {
		e.fail(ctx, x, apperr.CollaboratorFailure(apperr.Persistence, "conversation.upsert_mortgage", err))
		return
	}
	e.logger.Info("mortgage application saved", "lead_id", lead.ID, "created", created)
}

func (e *Engine) book(ctx context.Context, x *execution, eff qualify.Effect) bool {
	lead := x.lead()
	slot := eff.Slot
	appt := appointments.Appointment{
		LeadID:        lead.ID,
		LeadPhone:     lead.Phone,
		LeadName:      lead.Name,
		PropertyID:    lead.PropertyID,
		PropertyName:  lead.PropertyName,
		VendorID:      lead.VendorID,
		StartsAt:      slot.Start,
		EndsAt:        slot.Start.Add(e.cfg.Duration),
		ScheduledDate: slot.Date,
		ScheduledTime: slot.Time,
		Status:        appointments.StatusScheduled,
		EventID:       x.outcome.EventID,
	}
	if lead.Financing.Intent == leads.IntentCredit {
		appt.AdvisorID = lead.AdvisorID
	}
	if eff.Confirmed {
		appt.Status = appointments.StatusConfirmed
	}
	x.unverified = eff.Unverified

	res, err := e.deps.Appointments.Book(ctx, appt)
	switch {
	case errors.Is(err, appointments.ErrSlotTaken):
		e.slotLost(ctx, x, slot)
		return false
	case errors.Is(err, appointments.ErrDuplicateActive):
		e.logger.Info("appointment already booked by a concurrent writer", "lead_id", lead.ID,
			"error", apperr.InvariantViolation("conversation.book", err))
		existing, lerr := e.deps.Appointments.Active(ctx, lead.ID)
		if lerr != nil {
			e.fail(ctx, x, apperr.CollaboratorFailure(apperr.Persistence, "conversation.book", lerr))
			x.abort(qualify.Reply{Kind: qualify.ReplyDelayed})
			return false
		}
		x.appt = existing
		return true
	case err != nil:
		e.fail(ctx, x, apperr.CollaboratorFailure(apperr.Persistence, "conversation.book", err))
		x.abort(qualify.Reply{Kind: qualify.ReplyDelayed})
		return false
	}

	x.appt = res.Appointment
	e.logger.Info("appointment booked",
		"lead_id", lead.ID,
		"appointment_id", x.appt.ID,
		"starts_at", x.appt.StartsAt,
		"reused", res.Reused,
		"superseded", len(res.Superseded),
	)
	if !res.Reused {
		e.createCalendarEvents(ctx, x)
	}
	for _, old := range res.Superseded {
		e.deleteCalendarEvents(ctx, x, calendarDeletions(old))
	}
	return true
}

// slotLost handles a booking that lost the conditional insert: the client is
// offered alternatives and nobody is notified.
func (e *Engine) slotLost(ctx context.Context, x *execution, slot *extract.AppointmentCandidate) {
	lead := x.lead()
	e.deps.Metrics.ObserveAvailability("conflict")
	alts := e.deps.Availability.Alternatives(ctx, e.availabilityRequest(lead, slot.Start))
	x.abort(qualify.Reply{Kind: qualify.ReplySlotConflict, Slot: slot, Alternatives: alts})
	activeHere := x.active != nil && x.active.PropertyID == lead.PropertyID
	lead.Score, lead.Temperature = qualify.Score(lead, activeHere)
	e.logger.Info("slot taken at insert", "lead_id", lead.ID, "starts_at", slot.Start,
		"error", apperr.SlotConflict("conversation.book", appointments.ErrSlotTaken))
}

func (e *Engine) cancel(ctx context.Context, x *execution, eff qualify.Effect) bool {
	appt, err := e.deps.Appointments.Cancel(ctx, eff.AppointmentID, eff.CancelledBy)
	if errors.Is(err, appointments.ErrAlreadyCancelled) {
		// cancelled concurrently; notifications are still deduplicated per event
		appt, err = e.deps.Appointments.Get(ctx, eff.AppointmentID)
	}
	if err != nil {
		e.fail(ctx, x, apperr.CollaboratorFailure(apperr.Persistence, "conversation.cancel", err))
		x.abort(qualify.Reply{Kind: qualify.ReplyDelayed})
		return false
	}
	x.appt = appt
	e.logger.Info("appointment cancelled", "appointment_id", appt.ID, "cancelled_by", eff.CancelledBy)
	return true
}

func calendarDeletions(a appointments.Appointment) []qualify.Effect {
	var out []qualify.Effect
	if a.VendorEventID != "" {
		out = append(out, qualify.Effect{Kind: qualify.EffectDeleteCalendarEvent, AppointmentID: a.ID, CalendarEventID: a.VendorEventID, CalendarOwnerID: a.VendorID})
	}
	if a.AdvisorEventID != "" {
		out = append(out, qualify.Effect{Kind: qualify.EffectDeleteCalendarEvent, AppointmentID: a.ID, CalendarEventID: a.AdvisorEventID, CalendarOwnerID: a.AdvisorID})
	}
	return out
}

func (e *Engine) calendarFor(m *team.Member) string {
	switch {
	case m == nil:
		return e.cfg.DefaultCalendarID
	case m.CalendarID != "":
		return m.CalendarID
	case m.Email != "":
		return m.Email
	}
	return e.cfg.DefaultCalendarID
}

func (e *Engine) createCalendarEvents(ctx context.Context, x *execution) {
	if e.deps.Calendar == nil {
		return
	}
	appt := x.appt
	lead := x.lead()
	in := calendar.EventInput{
		Summary: fmt.Sprintf("Visita %s: %s", appt.PropertyName, leadLabel(lead)),
		Start:   appt.StartsAt,
		End:     appt.EndsAt,
	}
	var desc strings.Builder
	fmt.Fprintf(&desc, "Cliente: %s\nTeléfono: %s\n", leadLabel(lead), lead.Phone)
	if lead.Financing.Intent == leads.IntentCredit {
		desc.WriteString("Pago: crédito hipotecario\n")
	} else if lead.Financing.Intent == leads.IntentCash {
		desc.WriteString("Pago: contado\n")
	}
	if x.unverified {
		desc.WriteString("Disponibilidad sin verificar\n")
	}
	in.Description = desc.String()
	if x.property != nil {
		in.Location = x.property.MapsURL
	}

	vendor := e.member(ctx, x, appt.VendorID)
	advisor := e.member(ctx, x, appt.AdvisorID)
	for _, m := range []*team.Member{vendor, advisor} {
		if m != nil && m.Email != "" {
			in.Attendees = append(in.Attendees, m.Email)
		}
	}

	vendorEvt := e.createEvent(ctx, x, vendor, in)
	var advisorEvt string
	if appt.AdvisorID != "" {
		advisorEvt = e.createEvent(ctx, x, advisor, in)
	}
	if vendorEvt == "" && advisorEvt == "" {
		return
	}
	if err := e.deps.Appointments.SetCalendarEvents(ctx, appt.ID, vendorEvt, advisorEvt); err != nil {
		e.fail(ctx, x, apperr.CollaboratorFailure(apperr.Persistence, "conversation.set_calendar_events", err))
		return
	}
	appt.VendorEventID = vendorEvt
	appt.AdvisorEventID = advisorEvt
}

func (e *Engine) createEvent(ctx context.Context, x *execution, m *team.Member, in calendar.EventInput) string {
	in.CalendarID = e.calendarFor(m)
	if in.CalendarID == "" {
		return ""
	}
	var created calendar.Event
	err := retry.Do(ctx, e.cfg.RetryAttempts, e.cfg.RetryBackoff, func(ctx context.Context) error {
		var err error
		created, err = e.deps.Calendar.CreateEvent(ctx, in)
		return err
	})
	if err != nil {
		e.fail(ctx, x, apperr.CollaboratorFailure(apperr.Calendar, "conversation.create_calendar_event", err))
		return ""
	}
	return created.ID
}

// deleteCalendarEvents removes events in parallel. Missing events count as
// deleted.
func (e *Engine) deleteCalendarEvents(ctx context.Context, x *execution, effs []qualify.Effect) {
	if len(effs) == 0 || e.deps.Calendar == nil {
		return
	}
	calendars := make([]string, len(effs))
	for i, eff := range effs {
		calendars[i] = e.calendarFor(e.member(ctx, x, eff.CalendarOwnerID))
	}

	var g errgroup.Group
	for i, eff := range effs {
		eff := eff
		calendarID := calendars[i]
		if calendarID == "" {
			continue
		}
		g.Go(func() error {
			err := retry.Do(ctx, e.cfg.RetryAttempts, e.cfg.RetryBackoff, func(ctx context.Context) error {
				err := e.deps.Calendar.DeleteEvent(ctx, calendarID, eff.CalendarEventID)
				if errors.Is(err, calendar.ErrEventNotFound) {
					return nil
				}
				return err
			})
			if err != nil {
				return fmt.Errorf("event %s: %w", eff.CalendarEventID, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		e.fail(ctx, x, apperr.CollaboratorFailure(apperr.Calendar, "conversation.delete_calendar_event", err))
	}
}

func (e *Engine) notify(ctx context.Context, x *execution, notice *qualify.Notice) {
	if notice == nil {
		return
	}
	evt := e.buildEvent(ctx, x, notice)
	if e.deps.Recorder != nil {
		if _, err := e.deps.Recorder.Append(ctx, events.LeadAggregate(x.lead().ID), x.msg.MessageID, evt); err != nil {
			e.fail(ctx, x, apperr.CollaboratorFailure(apperr.Persistence, "conversation.record_event", err))
		}
	}
	e.deps.Metrics.ObserveQualification(string(notice.Kind))

	report, err := e.deps.Dispatcher.Dispatch(ctx, evt)
	x.report = &report
	if err != nil {
		// already counted by the dispatcher
		e.note(ctx, x, err)
	}
}

func (e *Engine) buildEvent(ctx context.Context, x *execution, notice *qualify.Notice) events.Event {
	lead := x.lead()
	evt := events.Event{
		ID:         notice.EventID,
		Kind:       notice.Kind,
		OccurredAt: e.now().UTC(),
		Lead: events.LeadSnapshot{
			ID:            lead.ID,
			Name:          lead.Name,
			Phone:         lead.Phone,
			Intent:        string(lead.Financing.Intent),
			MonthlyIncome: lead.Financing.MonthlyIncome,
			CurrentDebt:   lead.Financing.CurrentDebt,
			DownPayment:   lead.Financing.DownPayment,
			Score:         lead.Score,
			Temperature:   string(lead.Temperature),
		},
		Recipients: notice.Recipients,
	}

	appt := x.appt
	if appt == nil && notice.Kind == events.KindLeadQualified && x.active != nil && x.active.PropertyID == lead.PropertyID {
		appt = x.active
	}

	vendorID, advisorID := lead.VendorID, ""
	if lead.Financing.Intent == leads.IntentCredit {
		advisorID = lead.AdvisorID
	}
	prop := x.property
	if appt != nil {
		evt.Appointment = &events.AppointmentSnapshot{
			ID:         appt.ID,
			StartsAt:   appt.StartsAt,
			Date:       appt.ScheduledDate,
			Time:       appt.ScheduledTime,
			Label:      notify.FormatSlot(appt.StartsAt.In(e.cfg.Location)),
			Confirmed:  appt.Status == appointments.StatusConfirmed,
			Unverified: x.unverified,
		}
		if prop == nil || prop.ID != appt.PropertyID {
			prop = e.lookupProperty(ctx, appt.PropertyID)
		}
		if notice.Kind == events.KindAppointmentCancelled {
			vendorID, advisorID = appt.VendorID, appt.AdvisorID
		}
	}

	switch {
	case prop != nil:
		evt.Property = events.PropertySnapshot{ID: prop.ID, Name: prop.Name, MapsURL: prop.MapsURL, WebsiteURL: prop.WebsiteURL}
	case appt != nil:
		evt.Property = events.PropertySnapshot{ID: appt.PropertyID, Name: appt.PropertyName}
	default:
		evt.Property = events.PropertySnapshot{ID: lead.PropertyID, Name: lead.PropertyName}
	}

	evt.Vendor = party(e.member(ctx, x, vendorID))
	evt.Advisor = party(e.member(ctx, x, advisorID))
	if notice.Kind == events.KindAppointmentCancelled && x.actor.Kind == qualify.ActorMember {
		evt.CancelledBy = x.actor.Name
	}
	return evt
}

func party(m *team.Member) *events.Party {
	if m == nil {
		return nil
	}
	return &events.Party{ID: m.ID, Name: m.Name, Phone: m.Phone, Email: m.Email}
}

func leadLabel(l *leads.Lead) string {
	if l.Name != "" {
		return l.Name
	}
	return l.Phone
}
