package conversation

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/wolfman30/sara-leads/internal/apperr"
	"github.com/wolfman30/sara-leads/internal/appointments"
	"github.com/wolfman30/sara-leads/internal/events"
	"github.com/wolfman30/sara-leads/internal/extract"
	"github.com/wolfman30/sara-leads/internal/leads"
	"github.com/wolfman30/sara-leads/internal/messaging"
	"github.com/wolfman30/sara-leads/internal/mortgage"
	"github.com/wolfman30/sara-leads/internal/notify"
	"github.com/wolfman30/sara-leads/internal/qualify"
	"github.com/wolfman30/sara-leads/internal/team"
)

var phoneInText = regexp.MustCompile(`\+?\d[\d\s().-]{6,}\d`)

const memberHelp = "Comandos disponibles:\n• cancelar cita <teléfono del cliente>"

// parseCancelCommand recognises "cancelar cita <phone>" in any order and
// returns the normalized client phone, empty when none was given.
func parseCancelCommand(body string) (bool, string) {
	folded := extract.Fold(body)
	if !strings.Contains(folded, "cancelar") || !strings.Contains(folded, "cita") {
		return false, ""
	}
	match := phoneInText.FindString(body)
	if match == "" {
		return true, ""
	}
	return true, messaging.NormalizePhone(match)
}

func (e *Engine) handleMember(ctx context.Context, member *team.Member, msg events.InboundMessageV1) (Result, error) {
	x := newExecution(msg, nil, qualify.Actor{Kind: qualify.ActorMember, MemberID: member.ID, Name: member.Name})
	reply := func(text string) (Result, error) {
		if err := e.deps.Sender.Send(ctx, member.Phone, text); err != nil {
			e.deps.Metrics.ObserveCollaboratorFailure(string(apperr.Messaging))
			e.logger.Warn("member reply failed", "member_id", member.ID, "error", err)
			x.failures = append(x.failures, apperr.CollaboratorFailure(apperr.Messaging, "conversation.member_reply", err))
		}
		return Result{Reply: text, Failures: x.failures}, nil
	}

	isCancel, phone := parseCancelCommand(msg.Body)
	switch {
	case !isCancel:
		return reply(memberHelp)
	case phone == "":
		return reply("Para cancelar escribe: cancelar cita +52 55 1234 5678")
	case phone == member.Phone:
		return reply("Indica el teléfono del cliente, no el tuyo.")
	}

	release, err := e.deps.Locker.Acquire(ctx, phone)
	if err != nil {
		e.deps.Metrics.ObserveCollaboratorFailure(string(apperr.Lock))
		return Result{}, apperr.CollaboratorFailure(apperr.Lock, "conversation.lock", err)
	}
	defer release()

	lead, err := e.deps.Leads.GetByPhone(ctx, phone)
	if errors.Is(err, leads.ErrLeadNotFound) {
		return reply(fmt.Sprintf("No encontré un cliente con el teléfono %s.", phone))
	}
	if err != nil {
		return Result{}, e.persistenceFailure("conversation.member_lead", err)
	}
	appt, err := e.deps.Appointments.Active(ctx, lead.ID)
	if errors.Is(err, appointments.ErrNotFound) {
		return reply(fmt.Sprintf("%s no tiene citas activas.", leadLabel(lead)))
	}
	if err != nil {
		return Result{}, e.persistenceFailure("conversation.member_appointment", err)
	}

	cx := e.cancelForMember(ctx, lead, *appt, member, msg)
	res := cx.result()
	if cx.appt == nil {
		res.Reply = "No pude cancelar la cita en este momento, inténtalo de nuevo en unos minutos."
	} else {
		res.Reply = fmt.Sprintf("Listo, cancelé la cita de %s del %s. Ya le avisé al cliente.",
			leadLabel(lead), notify.FormatSlot(cx.appt.StartsAt.In(e.cfg.Location)))
	}
	out, _ := reply(res.Reply)
	res.Failures = append(cx.failures, out.Failures...)
	return res, nil
}

// cancelForMember runs a team-member cancellation. The caller holds the
// lead's lock.
func (e *Engine) cancelForMember(ctx context.Context, lead *leads.Lead, appt appointments.Appointment, member *team.Member, msg events.InboundMessageV1) *execution {
	actor := qualify.Actor{Kind: qualify.ActorMember, MemberID: member.ID, Name: member.Name}
	x := newExecution(msg, lead, actor)
	x.members[member.ID] = member
	x.property = e.lookupProperty(ctx, appt.PropertyID)
	x.setOutcome(qualify.Cancel(lead, appt, actor))

	e.execute(ctx, x)
	e.saveLead(ctx, x)
	if x.appt != nil {
		e.record(ctx, lead.ID, leads.DirectionSystem, fmt.Sprintf("cita %s cancelada por %s", appt.ID, member.Name))
	}
	return x
}

// CancelAppointment cancels appointmentID on behalf of a team member, as the
// admin API does.
func (e *Engine) CancelAppointment(ctx context.Context, appointmentID, memberID string) (*appointments.Appointment, error) {
	ctx, span := tracer.Start(ctx, "conversation.cancel_appointment")
	defer span.End()

	member, err := e.deps.Team.Get(ctx, memberID)
	if err != nil {
		return nil, err
	}
	appt, err := e.deps.Appointments.Get(ctx, appointmentID)
	if err != nil {
		return nil, err
	}

	release, err := e.deps.Locker.Acquire(ctx, appt.LeadPhone)
	if err != nil {
		return nil, apperr.CollaboratorFailure(apperr.Lock, "conversation.lock", err)
	}
	defer release()

	// reload under the lock
	appt, err = e.deps.Appointments.Get(ctx, appointmentID)
	if err != nil {
		return nil, err
	}
	if !appt.Active() {
		return nil, appointments.ErrAlreadyCancelled
	}
	lead, err := e.deps.Leads.GetByID(ctx, appt.LeadID)
	if err != nil {
		return nil, e.persistenceFailure("conversation.cancel_lead", err)
	}

	x := e.cancelForMember(ctx, lead, *appt, member, events.InboundMessageV1{MessageID: "admin:" + appointmentID})
	if x.appt == nil {
		return nil, errors.Join(x.failures...)
	}
	return x.appt, nil
}

// LeadView is the admin view of a lead.
type LeadView struct {
	Lead        *leads.Lead               `json:"lead"`
	Appointment *appointments.Appointment `json:"appointment,omitempty"`
	// Appointments is every visit the lead booked, cancelled ones included.
	Appointments []appointments.Appointment `json:"appointments,omitempty"`
	Mortgage    *mortgage.Application     `json:"mortgage,omitempty"`
	History     []leads.MessageRecord     `json:"history,omitempty"`
}

// Lookup loads the lead for phone with its active appointment, credit file
// and recent history.
func (e *Engine) Lookup(ctx context.Context, phone string) (*LeadView, error) {
	lead, err := e.deps.Leads.GetByPhone(ctx, phone)
	if err != nil {
		return nil, err
	}
	view := &LeadView{Lead: lead}
	if appt, err := e.deps.Appointments.Active(ctx, lead.ID); err == nil {
		view.Appointment = appt
	} else if !errors.Is(err, appointments.ErrNotFound) {
		return nil, err
	}
	all, err := e.deps.Appointments.ListByLead(ctx, lead.ID)
	if err != nil {
		return nil, err
	}
	view.Appointments = all
	if app, err := e.deps.Mortgages.Get(ctx, lead.ID); err == nil {
		view.Mortgage = app
	} else if !errors.Is(err, mortgage.ErrNotFound) {
		return nil, err
	}
	view.History = e.recentHistory(ctx, lead.ID)
	return view, nil
}
