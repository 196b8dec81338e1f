package qualify

import (
	"strconv"
	"time"

	"github.com/wolfman30/sara-leads/internal/appointments"
	"github.com/wolfman30/sara-leads/internal/availability"
	"github.com/wolfman30/sara-leads/internal/events"
	"github.com/wolfman30/sara-leads/internal/extract"
	"github.com/wolfman30/sara-leads/internal/leads"
)

// QualificationEventID derives the idempotency key for a qualification. The
// same phone, property, intent, visit and cycle always give the same id.
func QualificationEventID(l *leads.Lead, slotStart time.Time) string {
	slot := ""
	if !slotStart.IsZero() {
		slot = slotStart.UTC().Format(time.RFC3339)
	}
	return events.DeriveID(l.Phone, string(events.KindLeadQualified), l.PropertyID,
		string(l.Financing.Intent), slot, strconv.Itoa(l.Cycle))
}

// CancellationEventID derives the idempotency key for cancelling appt.
func CancellationEventID(l *leads.Lead, appt appointments.Appointment) string {
	return events.DeriveID(l.Phone, string(events.KindAppointmentCancelled), appt.ID)
}

// Decide runs one transition for a client message.
func Decide(m Merged, slots extract.Slots, in Inputs) Outcome {
	lead := m.Lead.Clone()

	if slots.WantsCancel {
		if in.Active == nil {
			return Outcome{Lead: lead, Reply: Reply{Kind: ReplyNothingToCancel}}
		}
		return Cancel(lead, *in.Active, Actor{Kind: ActorClient})
	}

	activeHere := in.Active != nil && in.Active.PropertyID == lead.PropertyID

	if slots.AsksSchedule && m.Requested == nil && !m.PendingNew {
		lead.Score, lead.Temperature = Score(lead, in.Active != nil)
		if in.Active == nil {
			return Outcome{Lead: lead, Reply: Reply{Kind: ReplyNoAppointment}}
		}
		return Outcome{Lead: lead, Reply: Reply{Kind: ReplyAppointmentInfo, Appointment: in.Active}}
	}

	requested := m.Requested
	var hold *Reply
	switch {
	case requested != nil && !requested.Start.After(in.Now):
		hold = &Reply{Kind: ReplySlotInPast, Slot: requested}
		requested = nil
	case requested != nil && in.Availability != nil && in.Availability.Status == availability.StatusConflict:
		hold = &Reply{Kind: ReplySlotConflict, Slot: requested, Alternatives: in.Availability.Alternatives}
		requested = nil
	case m.PendingNew:
		hold = &Reply{Kind: ReplyConfirmSlot, Slot: lead.PendingSlot}
	case m.PendingDeclined:
		hold = &Reply{Kind: ReplyAskNewSlot}
	}

	lead.Score, lead.Temperature = Score(lead, requested != nil || activeHere)
	credit := lead.Financing.Intent == leads.IntentCredit

	missing := Missing(lead)
	if len(missing) > 0 {
		if lead.Stage != leads.StageNotified && lead.Stage != leads.StageCancelled {
			lead.Stage = leads.StageCollecting
		}
		reply := Reply{Kind: ReplyAskMissing, Missing: missing[0]}
		if hold != nil {
			reply = *hold
		}
		// the credit file opens as soon as income is known, property or not
		var effects []Effect
		if credit && lead.Financing.MonthlyIncome != nil && (m.Changes.Figures || m.Changes.Intent) {
			effects = append(effects, Effect{Kind: EffectUpsertMortgage})
		}
		return Outcome{Lead: lead, Effects: effects, Reply: reply}
	}

	var slotStart time.Time
	switch {
	case requested != nil:
		slotStart = requested.Start
	case activeHere:
		slotStart = in.Active.StartsAt
	}
	eventID := QualificationEventID(lead, slotStart)

	var effects []Effect
	if credit && (m.Changes.Figures || eventID != lead.LastEventID) {
		effects = append(effects, Effect{Kind: EffectUpsertMortgage})
	}

	if eventID == lead.LastEventID {
		reply := Reply{Kind: ReplyAcknowledged, Appointment: in.Active}
		switch {
		case hold != nil:
			reply = *hold
		case credit && m.Changes.Figures:
			reply = Reply{Kind: ReplyFiguresUpdated}
		}
		return Outcome{Lead: lead, Effects: effects, Reply: reply, EventID: eventID}
	}

	if hold != nil {
		// an open slot question: wait for a bookable visit before notifying
		if lead.Stage != leads.StageNotified {
			lead.Stage = leads.StageCollecting
		}
		if !m.Changes.Figures {
			effects = nil
		}
		return Outcome{Lead: lead, Effects: effects, Reply: *hold}
	}

	if lead.Stage == leads.StageCancelled && requested == nil {
		// the team already has this lead; only a new visit reopens it
		if !m.Changes.Figures {
			effects = nil
		}
		return Outcome{Lead: lead, Effects: effects, Reply: Reply{Kind: ReplyAskNewSlot}}
	}

	if credit {
		lead.Stage = leads.StageReadyCredit
	} else {
		lead.Stage = leads.StageReadyCash
	}

	recipients := []events.Role{events.RoleVendor}
	if credit {
		recipients = append(recipients, events.RoleAdvisor)
	}
	reply := Reply{Kind: ReplyQualified}
	if requested != nil {
		unverified := in.Availability != nil && in.Availability.Status == availability.StatusDegraded
		effects = append(effects, Effect{
			Kind:       EffectBookAppointment,
			Slot:       requested,
			Confirmed:  m.Confirmed,
			Unverified: unverified,
		})
		recipients = append([]events.Role{events.RoleClient}, recipients...)
		reply = Reply{Kind: ReplyBooked, Slot: requested, Unverified: unverified}
	}
	effects = append(effects, Effect{
		Kind:   EffectNotify,
		Notice: &Notice{Kind: events.KindLeadQualified, EventID: eventID, Recipients: recipients},
	})

	lead.Stage = leads.StageNotified
	lead.LastEventID = eventID
	lead.PendingSlot = nil
	return Outcome{Lead: lead, Effects: effects, Reply: reply, EventID: eventID}
}

// Cancel cancels appt on behalf of actor. The client is always told; team
// members are told unless they are the canceller.
func Cancel(lead *leads.Lead, appt appointments.Appointment, actor Actor) Outcome {
	next := lead.Clone()
	effects := []Effect{{
		Kind:          EffectCancelAppointment,
		AppointmentID: appt.ID,
		CancelledBy:   actor.Label(),
	}}
	if appt.VendorEventID != "" {
		effects = append(effects, Effect{Kind: EffectDeleteCalendarEvent, AppointmentID: appt.ID, CalendarEventID: appt.VendorEventID, CalendarOwnerID: appt.VendorID})
	}
	if appt.AdvisorEventID != "" {
		effects = append(effects, Effect{Kind: EffectDeleteCalendarEvent, AppointmentID: appt.ID, CalendarEventID: appt.AdvisorEventID, CalendarOwnerID: appt.AdvisorID})
	}

	recipients := []events.Role{events.RoleClient}
	if appt.VendorID != "" && !(actor.Kind == ActorMember && actor.MemberID == appt.VendorID) {
		recipients = append(recipients, events.RoleVendor)
	}
	if appt.AdvisorID != "" && !(actor.Kind == ActorMember && actor.MemberID == appt.AdvisorID) {
		recipients = append(recipients, events.RoleAdvisor)
	}
	eventID := CancellationEventID(lead, appt)
	effects = append(effects, Effect{
		Kind:   EffectNotify,
		Notice: &Notice{Kind: events.KindAppointmentCancelled, EventID: eventID, Recipients: recipients},
	})

	next.Stage = leads.StageCancelled
	next.Cycle++
	next.PendingSlot = nil
	next.Score, next.Temperature = Score(next, false)

	cancelled := appt
	cancelled.Status = appointments.StatusCancelled
	cancelled.CancelledBy = actor.Label()
	return Outcome{
		Lead:    next,
		Effects: effects,
		Reply:   Reply{Kind: ReplyCancelled, Appointment: &cancelled},
		EventID: eventID,
	}
}
