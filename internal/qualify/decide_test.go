package qualify

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/sara-leads/internal/appointments"
	"github.com/wolfman30/sara-leads/internal/availability"
	"github.com/wolfman30/sara-leads/internal/events"
	"github.com/wolfman30/sara-leads/internal/extract"
	"github.com/wolfman30/sara-leads/internal/leads"
)

const lauraMessage = "Soy Laura, me interesa Andes, necesito crédito, gano 40 mil, no tengo deudas, tengo 200 mil de enganche, mañana a las 10am"

var catalogue = []extract.PropertyAlias{{ID: "prop-andes", Aliases: []string{"Andes"}}}

type harness struct {
	t   *testing.T
	loc *time.Location
	now time.Time
}

func newHarness(t *testing.T) harness {
	loc, err := time.LoadLocation("America/Mexico_City")
	require.NoError(t, err)
	return harness{t: t, loc: loc, now: time.Date(2025, 6, 10, 12, 0, 0, 0, loc)}
}

func (h harness) parse(text string) extract.Slots {
	return extract.Parse(text, h.now, extract.Options{Location: h.loc, Properties: catalogue})
}

func freshLead() *leads.Lead {
	return &leads.Lead{
		ID:          "lead-1",
		Phone:       "+5215512345678",
		Stage:       leads.StageCollecting,
		Temperature: leads.TemperatureCold,
		Financing:   leads.Financing{Intent: leads.IntentUnknown},
	}
}

func kinds(effects []Effect) []EffectKind {
	out := make([]EffectKind, 0, len(effects))
	for _, e := range effects {
		out = append(out, e.Kind)
	}
	return out
}

func available() *availability.Result {
	return &availability.Result{Status: availability.StatusAvailable}
}

func TestDecideLauraEndToEnd(t *testing.T) {
	h := newHarness(t)
	slots := h.parse(lauraMessage)
	merged := Merge(freshLead(), slots)
	require.NotNil(t, merged.Requested)

	out := Decide(merged, slots, Inputs{Now: h.now, Availability: available()})

	assert.Equal(t, []EffectKind{EffectUpsertMortgage, EffectBookAppointment, EffectNotify}, kinds(out.Effects))
	book := out.Effects[1]
	assert.Equal(t, time.Date(2025, 6, 11, 10, 0, 0, 0, h.loc), book.Slot.Start)
	notice := out.Notice()
	require.NotNil(t, notice)
	assert.Equal(t, events.KindLeadQualified, notice.Kind)
	assert.Equal(t, []events.Role{events.RoleClient, events.RoleVendor, events.RoleAdvisor}, notice.Recipients)

	assert.Equal(t, leads.StageNotified, out.Lead.Stage)
	assert.Equal(t, out.EventID, out.Lead.LastEventID)
	assert.Equal(t, 40000.0, *out.Lead.Financing.MonthlyIncome)
	assert.Equal(t, 0.0, *out.Lead.Financing.CurrentDebt)
	assert.Equal(t, 200000.0, *out.Lead.Financing.DownPayment)
	assert.Equal(t, leads.TemperatureHot, out.Lead.Temperature)
	assert.Equal(t, 100, out.Lead.Score)
	assert.Equal(t, ReplyBooked, out.Reply.Kind)
}

func TestDecideResubmissionIsIdempotent(t *testing.T) {
	h := newHarness(t)
	slots := h.parse(lauraMessage)
	first := Decide(Merge(freshLead(), slots), slots, Inputs{Now: h.now, Availability: available()})

	active := &appointments.Appointment{ID: "appt-1", LeadID: "lead-1", PropertyID: "prop-andes", StartsAt: first.Effects[1].Slot.Start}
	second := Decide(Merge(first.Lead, slots), slots, Inputs{Now: h.now, Active: active, Availability: available()})

	assert.Empty(t, second.Effects)
	assert.Equal(t, first.EventID, second.EventID)
	assert.Equal(t, ReplyAcknowledged, second.Reply.Kind)
}

func TestDecideFigureUpdateOnNotifiedCreditLeadOnlyUpserts(t *testing.T) {
	h := newHarness(t)
	slots := h.parse(lauraMessage)
	first := Decide(Merge(freshLead(), slots), slots, Inputs{Now: h.now, Availability: available()})
	active := &appointments.Appointment{ID: "appt-1", PropertyID: "prop-andes", StartsAt: first.Effects[1].Slot.Start}

	update := h.parse("perdón, en realidad gano 45 mil")
	out := Decide(Merge(first.Lead, update), update, Inputs{Now: h.now, Active: active})

	assert.Equal(t, []EffectKind{EffectUpsertMortgage}, kinds(out.Effects))
	assert.Equal(t, ReplyFiguresUpdated, out.Reply.Kind)
	assert.Equal(t, 45000.0, *out.Lead.Financing.MonthlyIncome)
}

func TestDecideAsksForMissingInOrder(t *testing.T) {
	h := newHarness(t)
	lead := freshLead()

	slots := h.parse("hola, info por favor")
	out := Decide(Merge(lead, slots), slots, Inputs{Now: h.now})
	assert.Equal(t, ReplyAskMissing, out.Reply.Kind)
	assert.Equal(t, FieldName, out.Reply.Missing)

	slots = h.parse("Soy Pedro, me interesa Andes y necesito crédito")
	out = Decide(Merge(out.Lead, slots), slots, Inputs{Now: h.now})
	assert.Equal(t, FieldIncome, out.Reply.Missing)
	assert.Empty(t, out.Effects)
	assert.Equal(t, leads.StageCollecting, out.Lead.Stage)
	assert.Equal(t, leads.TemperatureWarm, out.Lead.Temperature)
}

func TestDecideCreditIncomeOpensMortgageBeforeProperty(t *testing.T) {
	h := newHarness(t)
	slots := h.parse("Soy Laura, necesito crédito, gano 40 mil")
	out := Decide(Merge(freshLead(), slots), slots, Inputs{Now: h.now})

	assert.Equal(t, ReplyAskMissing, out.Reply.Kind)
	assert.Equal(t, FieldProperty, out.Reply.Missing)
	assert.Equal(t, []EffectKind{EffectUpsertMortgage}, kinds(out.Effects))
	assert.Equal(t, leads.StageCollecting, out.Lead.Stage)

	again := h.parse("ok")
	out = Decide(Merge(out.Lead, again), again, Inputs{Now: h.now})
	assert.Empty(t, out.Effects, "nothing new to save")
}

func TestDecideCashWithoutVisitNotifiesVendorOnly(t *testing.T) {
	h := newHarness(t)
	slots := h.parse("Soy Pedro, me interesa Andes, pagaría de contado")
	out := Decide(Merge(freshLead(), slots), slots, Inputs{Now: h.now})

	assert.Equal(t, []EffectKind{EffectNotify}, kinds(out.Effects))
	assert.Equal(t, []events.Role{events.RoleVendor}, out.Notice().Recipients)
	assert.Equal(t, ReplyQualified, out.Reply.Kind)
}

func TestDecideAmbiguousTimeNeedsConfirmation(t *testing.T) {
	h := newHarness(t)
	slots := h.parse("Soy Pedro, me interesa Andes, de contado, mañana a las 5")
	out := Decide(Merge(freshLead(), slots), slots, Inputs{Now: h.now})

	assert.Empty(t, out.Effects, "an unconfirmed time is never booked")
	assert.Equal(t, ReplyConfirmSlot, out.Reply.Kind)
	require.NotNil(t, out.Lead.PendingSlot)
	assert.Equal(t, "17:00", out.Lead.PendingSlot.Time)
	assert.Equal(t, leads.StageCollecting, out.Lead.Stage)

	yes := h.parse("sí")
	merged := Merge(out.Lead, yes)
	require.NotNil(t, merged.Requested)
	assert.True(t, merged.Confirmed)

	booked := Decide(merged, yes, Inputs{Now: h.now, Availability: available()})
	assert.Equal(t, []EffectKind{EffectBookAppointment, EffectNotify}, kinds(booked.Effects))
	assert.True(t, booked.Effects[0].Confirmed)
	assert.Nil(t, booked.Lead.PendingSlot)
}

func TestDecideConflictingDatesNeedConfirmation(t *testing.T) {
	h := newHarness(t)
	slots := h.parse("Soy Pedro, me interesa Andes, de contado, hoy no puedo, mañana a las 5pm")
	out := Decide(Merge(freshLead(), slots), slots, Inputs{Now: h.now})

	assert.Empty(t, out.Effects)
	assert.Equal(t, ReplyConfirmSlot, out.Reply.Kind)
	require.NotNil(t, out.Lead.PendingSlot)
	assert.Equal(t, "2025-06-11", out.Lead.PendingSlot.Date)
	assert.Equal(t, leads.StageCollecting, out.Lead.Stage)

	yes := h.parse("sí")
	merged := Merge(out.Lead, yes)
	require.NotNil(t, merged.Requested)
	assert.False(t, merged.Requested.Ambiguous())
}

func TestDecideDeclinedPendingAsksAgain(t *testing.T) {
	h := newHarness(t)
	lead := freshLead()
	lead.PendingSlot = &extract.AppointmentCandidate{Date: "2025-06-11", Time: "17:00", MeridiemAssumed: true}

	no := h.parse("no")
	out := Decide(Merge(lead, no), no, Inputs{Now: h.now})
	assert.Nil(t, out.Lead.PendingSlot)
	assert.Equal(t, ReplyAskNewSlot, out.Reply.Kind)
}

func TestDecideConflictOffersAlternativesWithoutNotifying(t *testing.T) {
	h := newHarness(t)
	slots := h.parse(lauraMessage)
	alt := time.Date(2025, 6, 11, 11, 0, 0, 0, h.loc)
	out := Decide(Merge(freshLead(), slots), slots, Inputs{
		Now:          h.now,
		Availability: &availability.Result{Status: availability.StatusConflict, BusyParties: []string{"v1"}, Alternatives: []time.Time{alt}},
	})

	assert.False(t, out.Has(EffectBookAppointment))
	assert.False(t, out.Has(EffectNotify))
	assert.True(t, out.Has(EffectUpsertMortgage), "financial data is still recorded")
	assert.Equal(t, ReplySlotConflict, out.Reply.Kind)
	assert.Equal(t, []time.Time{alt}, out.Reply.Alternatives)
	assert.Empty(t, out.Lead.LastEventID)
}

func TestDecideDegradedAvailabilityStillBooks(t *testing.T) {
	h := newHarness(t)
	slots := h.parse(lauraMessage)
	out := Decide(Merge(freshLead(), slots), slots, Inputs{Now: h.now, Availability: &availability.Result{Status: availability.StatusDegraded}})

	require.True(t, out.Has(EffectBookAppointment))
	assert.True(t, out.Effects[1].Unverified)
	assert.True(t, out.Reply.Unverified)
}

func TestDecidePastSlotIsRejected(t *testing.T) {
	h := newHarness(t)
	slots := h.parse("Soy Pedro, me interesa Andes, de contado, hoy a las 9am")
	out := Decide(Merge(freshLead(), slots), slots, Inputs{Now: h.now})

	assert.Empty(t, out.Effects)
	assert.Equal(t, ReplySlotInPast, out.Reply.Kind)
}

func TestDecideScheduleLookup(t *testing.T) {
	h := newHarness(t)
	lead := freshLead()
	ask := h.parse("¿cuándo es mi cita?")

	out := Decide(Merge(lead, ask), ask, Inputs{Now: h.now})
	assert.Equal(t, ReplyNoAppointment, out.Reply.Kind)

	active := &appointments.Appointment{ID: "appt-1", ScheduledDate: "2025-06-11", ScheduledTime: "10:00"}
	out = Decide(Merge(lead, ask), ask, Inputs{Now: h.now, Active: active})
	assert.Equal(t, ReplyAppointmentInfo, out.Reply.Kind)
	assert.Equal(t, "appt-1", out.Reply.Appointment.ID)
}

func TestCancelByVendorNotifiesClientAndAdvisor(t *testing.T) {
	lead := freshLead()
	lead.Stage = leads.StageNotified
	appt := appointments.Appointment{
		ID: "appt-1", VendorID: "v1", AdvisorID: "a1",
		VendorEventID: "gcal-v", AdvisorEventID: "gcal-a",
	}

	out := Cancel(lead, appt, Actor{Kind: ActorMember, MemberID: "v1", Name: "Carlos"})

	assert.Equal(t, []EffectKind{EffectCancelAppointment, EffectDeleteCalendarEvent, EffectDeleteCalendarEvent, EffectNotify}, kinds(out.Effects))
	assert.Equal(t, "v1", out.Effects[0].CancelledBy)
	assert.Equal(t, "gcal-v", out.Effects[1].CalendarEventID)
	assert.Equal(t, "a1", out.Effects[2].CalendarOwnerID)
	assert.Equal(t, []events.Role{events.RoleClient, events.RoleAdvisor}, out.Notice().Recipients)
	assert.Equal(t, events.KindAppointmentCancelled, out.Notice().Kind)
	assert.Equal(t, leads.StageCancelled, out.Lead.Stage)
	assert.Equal(t, 1, out.Lead.Cycle)
}

func TestClientCancelThroughDecide(t *testing.T) {
	h := newHarness(t)
	lead := freshLead()
	appt := &appointments.Appointment{ID: "appt-1", VendorID: "v1"}
	msg := h.parse("quiero cancelar mi cita")

	out := Decide(Merge(lead, msg), msg, Inputs{Now: h.now, Active: appt})
	assert.Equal(t, []events.Role{events.RoleClient, events.RoleVendor}, out.Notice().Recipients)
	assert.False(t, out.Has(EffectDeleteCalendarEvent), "no calendar ids recorded")

	none := Decide(Merge(lead, msg), msg, Inputs{Now: h.now})
	assert.Equal(t, ReplyNothingToCancel, none.Reply.Kind)
	assert.Empty(t, none.Effects)
}

func TestRebookingSameSlotAfterCancelIsNewEvent(t *testing.T) {
	h := newHarness(t)
	slots := h.parse(lauraMessage)
	first := Decide(Merge(freshLead(), slots), slots, Inputs{Now: h.now, Availability: available()})

	cancelled := Cancel(first.Lead, appointments.Appointment{ID: "appt-1", VendorID: "v1"}, Actor{Kind: ActorClient})

	idle := h.parse("gracias")
	quiet := Decide(Merge(cancelled.Lead, idle), idle, Inputs{Now: h.now})
	assert.Empty(t, quiet.Effects, "a cancelled lead is not re-notified without a new visit")

	again := Decide(Merge(cancelled.Lead, slots), slots, Inputs{Now: h.now, Availability: available()})
	assert.True(t, again.Has(EffectBookAppointment))
	assert.NotEqual(t, first.EventID, again.EventID)
}

func TestMergeNeverForgetsKnownValues(t *testing.T) {
	lead := freshLead()
	income := 40000.0
	lead.Name = "Laura"
	lead.Financing.MonthlyIncome = &income
	lead.Financing.Intent = leads.IntentCredit

	m := Merge(lead, extract.Slots{})
	assert.Equal(t, "Laura", m.Lead.Name)
	assert.Equal(t, 40000.0, *m.Lead.Financing.MonthlyIncome)
	assert.Equal(t, leads.IntentCredit, m.Lead.Financing.Intent)
	assert.False(t, m.Changes.Figures)

	same := 40000.0
	m = Merge(lead, extract.Slots{Income: &same})
	assert.False(t, m.Changes.Figures, "repeating a figure is not a change")
}

func TestMergeSwitchToCashDropsAdvisor(t *testing.T) {
	lead := freshLead()
	lead.Financing.Intent = leads.IntentCredit
	lead.AdvisorID = "advisor-1"

	cash := false
	m := Merge(lead, extract.Slots{NeedsFinancing: &cash})
	assert.Equal(t, leads.IntentCash, m.Lead.Financing.Intent)
	assert.Empty(t, m.Lead.AdvisorID)
	assert.Equal(t, "advisor-1", lead.AdvisorID, "input lead is untouched")
}

func TestScoreBuckets(t *testing.T) {
	lead := freshLead()
	score, temp := Score(lead, false)
	assert.Equal(t, 0, score)
	assert.Equal(t, leads.TemperatureCold, temp)

	lead.PropertyID = "prop-andes"
	lead.Name = "Laura"
	_, temp = Score(lead, false)
	assert.Equal(t, leads.TemperatureWarm, temp)

	lead.Financing.Intent = leads.IntentCash
	score, temp = Score(lead, true)
	assert.Equal(t, leads.TemperatureHot, temp)
	assert.Equal(t, 100, score)
}
