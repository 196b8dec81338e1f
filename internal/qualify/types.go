// Package qualify is the lead qualification state machine. It is pure: it
// folds extracted slots into lead state and returns the effects the caller
// must execute, in order.
package qualify

import (
	"time"

	"github.com/wolfman30/sara-leads/internal/appointments"
	"github.com/wolfman30/sara-leads/internal/availability"
	"github.com/wolfman30/sara-leads/internal/events"
	"github.com/wolfman30/sara-leads/internal/extract"
	"github.com/wolfman30/sara-leads/internal/leads"
)

// Field is a piece of information still needed from the lead.
type Field string

const (
	FieldName      Field = "name"
	FieldProperty  Field = "property"
	FieldFinancing Field = "financing"
	FieldIncome    Field = "income"
)

type EffectKind string

const (
	EffectUpsertMortgage      EffectKind = "upsert_mortgage"
	EffectBookAppointment     EffectKind = "book_appointment"
	EffectCancelAppointment   EffectKind = "cancel_appointment"
	EffectDeleteCalendarEvent EffectKind = "delete_calendar_event"
	EffectNotify              EffectKind = "notify"
)

// Notice asks for an event to be dispatched to the given roles.
type Notice struct {
	Kind       events.Kind
	EventID    string
	Recipients []events.Role
}

// Effect is one side effect to run. Only the fields relevant to Kind are set.
type Effect struct {
	Kind EffectKind

	// BookAppointment
	Slot       *extract.AppointmentCandidate
	Confirmed  bool
	Unverified bool

	// CancelAppointment, DeleteCalendarEvent
	AppointmentID   string
	CancelledBy     string
	CalendarEventID string
	CalendarOwnerID string

	// Notify
	Notice *Notice
}

type ReplyKind string

const (
	ReplyAskMissing      ReplyKind = "ask_missing"
	ReplyConfirmSlot     ReplyKind = "confirm_slot"
	ReplyAskNewSlot      ReplyKind = "ask_new_slot"
	ReplySlotInPast      ReplyKind = "slot_in_past"
	ReplySlotConflict    ReplyKind = "slot_conflict"
	ReplyBooked          ReplyKind = "booked"
	ReplyQualified       ReplyKind = "qualified"
	ReplyAcknowledged    ReplyKind = "acknowledged"
	ReplyFiguresUpdated  ReplyKind = "figures_updated"
	ReplyCancelled       ReplyKind = "cancelled"
	ReplyNothingToCancel ReplyKind = "nothing_to_cancel"
	ReplyAppointmentInfo ReplyKind = "appointment_info"
	ReplyNoAppointment   ReplyKind = "no_appointment"
	// ReplyDelayed is set by the caller when a collaborator failed mid-flow.
	ReplyDelayed ReplyKind = "delayed"
)

// Reply tells the caller what to answer the client.
type Reply struct {
	Kind         ReplyKind
	Missing      Field
	Slot         *extract.AppointmentCandidate
	Alternatives []time.Time
	Appointment  *appointments.Appointment
	Unverified   bool
}

// Outcome is the result of one transition.
type Outcome struct {
	Lead    *leads.Lead
	Effects []Effect
	Reply   Reply
	EventID string
}

// Has reports whether an effect of kind was emitted.
func (o Outcome) Has(kind EffectKind) bool {
	for _, e := range o.Effects {
		if e.Kind == kind {
			return true
		}
	}
	return false
}

// Notice returns the notify effect, if any.
func (o Outcome) Notice() *Notice {
	for _, e := range o.Effects {
		if e.Kind == EffectNotify {
			return e.Notice
		}
	}
	return nil
}

type ActorKind string

const (
	ActorClient ActorKind = "client"
	ActorMember ActorKind = "member"
)

// Actor is who triggered a transition.
type Actor struct {
	Kind     ActorKind
	MemberID string
	Name     string
}

// Label is what gets recorded as the canceller.
func (a Actor) Label() string {
	if a.Kind == ActorMember {
		return a.MemberID
	}
	return string(ActorClient)
}

// Inputs are the facts gathered by the caller before deciding.
type Inputs struct {
	Now time.Time
	// Active is the lead's current non-cancelled appointment.
	Active *appointments.Appointment
	// Availability is the check for Merged.Requested, when one was made.
	Availability *availability.Result
}
