package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/sara-leads/internal/apperr"
	"github.com/wolfman30/sara-leads/internal/appointments"
	"github.com/wolfman30/sara-leads/internal/availability"
	"github.com/wolfman30/sara-leads/internal/calendar"
	"github.com/wolfman30/sara-leads/internal/catalog"
	"github.com/wolfman30/sara-leads/internal/events"
	"github.com/wolfman30/sara-leads/internal/leads"
	"github.com/wolfman30/sara-leads/internal/messaging"
	"github.com/wolfman30/sara-leads/internal/mortgage"
	"github.com/wolfman30/sara-leads/internal/notify"
	"github.com/wolfman30/sara-leads/internal/qualify"
	"github.com/wolfman30/sara-leads/internal/team"
)

const lauraMessage = "Soy Laura, me interesa Andes, necesito crédito, gano 40 mil, no tengo deudas, tengo 200 mil de enganche, mañana a las 10am"

var (
	clientPhone  = messaging.NormalizePhone("+5215512345678")
	otherPhone   = messaging.NormalizePhone("+5215587654321")
	vendorPhone  = messaging.NormalizePhone("+5215511111111")
	advisorPhone = messaging.NormalizePhone("+5215522222222")
)

type sentMessage struct {
	to   string
	body string
}

type recordingSender struct {
	mu   sync.Mutex
	sent []sentMessage
}

func (s *recordingSender) Send(ctx context.Context, to, body string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, sentMessage{to: to, body: body})
	return nil
}

func (s *recordingSender) to(phone string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, m := range s.sent {
		if m.to == phone {
			out = append(out, m.body)
		}
	}
	return out
}

type fixture struct {
	t         *testing.T
	loc       *time.Location
	now       time.Time
	engine    *Engine
	leads     *leads.InMemoryRepository
	history   *leads.MemoryHistoryStore
	appts     *appointments.MemoryStore
	mortgages *mortgage.MemoryStore
	calendar  *calendar.MemoryProvider
	outbox    *events.MemoryOutbox
	sender    *recordingSender
	seq       int
}

func newFixture(t *testing.T, customize ...func(*Dependencies)) *fixture {
	t.Helper()
	loc, err := time.LoadLocation("America/Mexico_City")
	require.NoError(t, err)

	f := &fixture{
		t:         t,
		loc:       loc,
		now:       time.Date(2025, 6, 10, 12, 0, 0, 0, loc),
		leads:     leads.NewInMemoryRepository(),
		history:   leads.NewMemoryHistoryStore(),
		appts:     appointments.NewMemoryStore(),
		mortgages: mortgage.NewMemoryStore(),
		calendar:  calendar.NewMemoryProvider(),
		outbox:    events.NewMemoryOutbox(),
		sender:    &recordingSender{},
	}
	members := team.NewMemoryDirectory([]team.Member{
		{ID: "vendor-1", Name: "Carlos", Phone: vendorPhone, Email: "carlos@example.com", Role: team.RoleVendor, Active: true},
		{ID: "advisor-1", Name: "Ana", Phone: advisorPhone, Email: "ana@example.com", Role: team.RoleAdvisor, Active: true},
	})
	props := catalog.NewMemoryStore([]catalog.Property{
		{ID: "prop-andes", Name: "Andes", Development: "Residencial Andes", MapsURL: "https://maps.example/andes"},
	})
	resolver := availability.NewResolver(f.appts, availability.Options{
		Location: loc, OpenHour: 9, CloseHour: 19, Duration: time.Hour,
	}, nil, nil)

	deps := Dependencies{
		Leads:        f.leads,
		History:      f.history,
		Catalog:      props,
		Team:         members,
		Appointments: f.appts,
		Mortgages:    f.mortgages,
		Availability: resolver,
		Dispatcher:   notify.NewDispatcher(f.sender, nil, nil, notify.WithRetry(1, 0)),
		Sender:       f.sender,
		Calendar:     f.calendar,
		Recorder:     f.outbox,
	}
	for _, c := range customize {
		c(&deps)
	}
	f.engine = NewEngine(deps, Settings{
		Location:      loc,
		Duration:      time.Hour,
		RetryAttempts: 1,
		RetryBackoff:  time.Millisecond,
	}, nil)
	f.engine.now = func() time.Time { return f.now }
	return f
}

func (f *fixture) send(from, body string) Result {
	f.t.Helper()
	f.seq++
	res, err := f.engine.HandleInbound(context.Background(), events.InboundMessageV1{
		MessageID: fmt.Sprintf("SM%d", f.seq),
		From:      from,
		Body:      body,
	})
	require.NoError(f.t, err)
	return res
}

func (f *fixture) lead(phone string) *leads.Lead {
	f.t.Helper()
	lead, err := f.leads.GetByPhone(context.Background(), phone)
	require.NoError(f.t, err)
	return lead
}

func TestEngineLauraBooksAndNotifiesEveryone(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res := f.send(clientPhone, lauraMessage)

	assert.Equal(t, qualify.ReplyBooked, res.ReplyKind)
	assert.Empty(t, res.Failures)
	assert.Empty(t, res.Reply, "the booking confirmation answers the client")

	lead := f.lead(clientPhone)
	assert.Equal(t, "Laura", lead.Name)
	assert.Equal(t, "prop-andes", lead.PropertyID)
	assert.Equal(t, "Andes", lead.PropertyName)
	assert.Equal(t, "vendor-1", lead.VendorID)
	assert.Equal(t, "advisor-1", lead.AdvisorID)
	assert.Equal(t, leads.StageNotified, lead.Stage)
	assert.Equal(t, leads.TemperatureHot, lead.Temperature)
	assert.Equal(t, res.EventID, lead.LastEventID)

	app, err := f.mortgages.Get(ctx, lead.ID)
	require.NoError(t, err)
	assert.Equal(t, 40000.0, *app.MonthlyIncome)
	assert.Equal(t, 0.0, *app.CurrentDebt)
	assert.Equal(t, 200000.0, *app.DownPayment)
	assert.Equal(t, "advisor-1", app.AdvisorID)

	appt, err := f.appts.Active(ctx, lead.ID)
	require.NoError(t, err)
	assert.True(t, appt.StartsAt.Equal(time.Date(2025, 6, 11, 10, 0, 0, 0, f.loc)))
	assert.Equal(t, "vendor-1", appt.VendorID)
	assert.Equal(t, "advisor-1", appt.AdvisorID)
	assert.NotEmpty(t, appt.VendorEventID)
	assert.NotEmpty(t, appt.AdvisorEventID)

	vendorEvents, err := f.calendar.ListEvents(ctx, "carlos@example.com", appt.StartsAt, appt.EndsAt)
	require.NoError(t, err)
	assert.Len(t, vendorEvents, 1)

	require.Len(t, f.sender.to(clientPhone), 1)
	assert.Contains(t, f.sender.to(clientPhone)[0], "Tu cita quedó agendada")
	assert.Len(t, f.sender.to(vendorPhone), 1)
	assert.Len(t, f.sender.to(advisorPhone), 1)

	pending, err := f.outbox.FetchPending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, string(events.KindLeadQualified), pending[0].Type)
	assert.Equal(t, res.EventID, pending[0].ID.String())
}

func TestEngineResubmissionIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first := f.send(clientPhone, lauraMessage)
	second := f.send(clientPhone, lauraMessage)

	assert.Equal(t, first.EventID, second.EventID)
	assert.Equal(t, qualify.ReplyAcknowledged, second.ReplyKind)
	assert.Contains(t, second.Reply, "sigue en pie")

	lead := f.lead(clientPhone)
	all, err := f.appts.ListByLead(ctx, lead.ID)
	require.NoError(t, err)
	require.Len(t, all, 1, "no second row, not even a superseded one")
	assert.Equal(t, appointments.StatusScheduled, all[0].Status)

	assert.Len(t, f.sender.to(vendorPhone), 1)
	assert.Len(t, f.sender.to(advisorPhone), 1)
	assert.Len(t, f.sender.to(clientPhone), 2)
}

func TestEngineConcurrentDuplicateDeliveryBooksOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	msg := events.InboundMessageV1{MessageID: "SM-dup", From: clientPhone, Body: lauraMessage}

	const deliveries = 8
	var wg sync.WaitGroup
	errs := make(chan error, deliveries)
	for i := 0; i < deliveries; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.engine.HandleInbound(ctx, msg)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	lead := f.lead(clientPhone)
	all, err := f.appts.ListByLead(ctx, lead.ID)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, appointments.StatusScheduled, all[0].Status)

	assert.Len(t, f.sender.to(vendorPhone), 1)
	assert.Len(t, f.sender.to(advisorPhone), 1)

	pending, err := f.outbox.FetchPending(ctx, 10)
	require.NoError(t, err)
	qualified := 0
	for _, env := range pending {
		if env.Type == string(events.KindLeadQualified) {
			qualified++
		}
	}
	assert.Equal(t, 1, qualified)
}

func TestEngineCreditIncomeSavesMortgageBeforeProperty(t *testing.T) {
	f := newFixture(t)

	res := f.send(clientPhone, "Soy Laura, necesito crédito, gano 40 mil")
	assert.Equal(t, qualify.ReplyAskMissing, res.ReplyKind)

	lead := f.lead(clientPhone)
	assert.Equal(t, leads.StageCollecting, lead.Stage)
	app, err := f.mortgages.Get(context.Background(), lead.ID)
	require.NoError(t, err)
	assert.Equal(t, 40000.0, *app.MonthlyIncome)
	assert.Empty(t, app.PropertyID)
	assert.Equal(t, "advisor-1", app.AdvisorID)
}

func TestEngineConflictOffersAlternatives(t *testing.T) {
	f := newFixture(t)

	first := f.send(otherPhone, "Soy Pedro, me interesa Andes, pago de contado, mañana a las 10am")
	require.Equal(t, qualify.ReplyBooked, first.ReplyKind)
	vendorMessages := len(f.sender.to(vendorPhone))

	res := f.send(clientPhone, lauraMessage)

	assert.Equal(t, qualify.ReplySlotConflict, res.ReplyKind)
	assert.Contains(t, res.Reply, "ya está ocupado")
	assert.Len(t, f.sender.to(vendorPhone), vendorMessages, "a conflict notifies nobody on the team")
	assert.Empty(t, f.sender.to(advisorPhone))

	lead := f.lead(clientPhone)
	assert.NotEqual(t, leads.StageNotified, lead.Stage)
	assert.Empty(t, lead.LastEventID)
	_, err := f.appts.Active(context.Background(), lead.ID)
	assert.ErrorIs(t, err, appointments.ErrNotFound)
}

type racingStore struct {
	*appointments.MemoryStore
}

func (r racingStore) Book(ctx context.Context, appt appointments.Appointment) (appointments.BookResult, error) {
	return appointments.BookResult{}, appointments.ErrSlotTaken
}

func TestEngineLostBookingRaceRepliesWithConflict(t *testing.T) {
	f := newFixture(t, func(d *Dependencies) {
		d.Appointments = racingStore{MemoryStore: appointments.NewMemoryStore()}
	})

	res := f.send(clientPhone, lauraMessage)

	assert.Equal(t, qualify.ReplySlotConflict, res.ReplyKind)
	assert.Nil(t, res.Notified)
	assert.Empty(t, f.sender.to(vendorPhone))
	lead := f.lead(clientPhone)
	assert.Empty(t, lead.LastEventID)
	assert.Equal(t, leads.StageCollecting, lead.Stage)
	assert.Equal(t, "Laura", lead.Name, "what the lead said is kept")
}

func TestEngineClientCancelDeletesCalendarEvents(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.send(clientPhone, lauraMessage)
	lead := f.lead(clientPhone)
	appt, err := f.appts.Active(ctx, lead.ID)
	require.NoError(t, err)

	res := f.send(clientPhone, "quiero cancelar mi cita por favor")

	assert.Equal(t, qualify.ReplyCancelled, res.ReplyKind)
	assert.Empty(t, res.Failures)

	stored, err := f.appts.Get(ctx, appt.ID)
	require.NoError(t, err)
	assert.Equal(t, appointments.StatusCancelled, stored.Status)
	assert.Equal(t, "client", stored.CancelledBy)

	for _, cal := range []string{"carlos@example.com", "ana@example.com"} {
		left, err := f.calendar.ListEvents(ctx, cal, appt.StartsAt, appt.EndsAt)
		require.NoError(t, err)
		assert.Empty(t, left, cal)
	}

	clientMsgs := f.sender.to(clientPhone)
	require.Len(t, clientMsgs, 2)
	assert.Contains(t, clientMsgs[1], "CANCELADA")
	assert.Len(t, f.sender.to(vendorPhone), 2)
	assert.Len(t, f.sender.to(advisorPhone), 2)
	assert.Equal(t, leads.StageCancelled, f.lead(clientPhone).Stage)
}

func TestEngineVendorCancelsOverWhatsApp(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.send(clientPhone, lauraMessage)
	lead := f.lead(clientPhone)
	appt, err := f.appts.Active(ctx, lead.ID)
	require.NoError(t, err)

	res := f.send(vendorPhone, "Cancelar cita +52 1 55 1234 5678")

	assert.Contains(t, res.Reply, "Listo, cancelé la cita de Laura")
	stored, err := f.appts.Get(ctx, appt.ID)
	require.NoError(t, err)
	assert.Equal(t, "vendor-1", stored.CancelledBy)

	clientMsgs := f.sender.to(clientPhone)
	require.Len(t, clientMsgs, 2)
	assert.Contains(t, clientMsgs[1], "cancelada por el equipo")

	vendorMsgs := f.sender.to(vendorPhone)
	require.Len(t, vendorMsgs, 2, "booking notice plus the command reply")
	assert.Contains(t, vendorMsgs[1], "Listo")
	assert.Len(t, f.sender.to(advisorPhone), 2)
}

func TestEngineMemberWithoutCommandGetsHelp(t *testing.T) {
	f := newFixture(t)
	res := f.send(vendorPhone, "hola")
	assert.Equal(t, memberHelp, res.Reply)
	_, err := f.leads.GetByPhone(context.Background(), vendorPhone)
	assert.ErrorIs(t, err, leads.ErrLeadNotFound, "team members never become leads")
}

func TestEngineAsksForMissingAndKeepsHistory(t *testing.T) {
	f := newFixture(t)

	res := f.send(clientPhone, "hola, quiero información")

	assert.Equal(t, qualify.ReplyAskMissing, res.ReplyKind)
	assert.Contains(t, res.Reply, "¿Con quién tengo el gusto?")

	history, err := f.history.Recent(context.Background(), res.LeadID, 10)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, leads.DirectionInbound, history[0].Direction)
	assert.Equal(t, leads.DirectionOutbound, history[1].Direction)

	res = f.send(clientPhone, "Soy Laura")
	assert.Contains(t, res.Reply, "Andes", "the catalogue is offered when the property is missing")
}

func TestEngineAppointmentLookup(t *testing.T) {
	f := newFixture(t)
	f.send(clientPhone, lauraMessage)

	res := f.send(clientPhone, "¿cuándo es mi cita?")

	assert.Equal(t, qualify.ReplyAppointmentInfo, res.ReplyKind)
	assert.Contains(t, res.Reply, "miércoles 11 de junio, 10:00")
	assert.Contains(t, res.Reply, "https://maps.example/andes")
}

type brokenCalendar struct {
	*calendar.MemoryProvider
}

func (brokenCalendar) CreateEvent(ctx context.Context, in calendar.EventInput) (calendar.Event, error) {
	return calendar.Event{}, errors.New("calendar: 503")
}

func TestEngineCalendarFailureDoesNotBlockBooking(t *testing.T) {
	f := newFixture(t, func(d *Dependencies) {
		d.Calendar = brokenCalendar{MemoryProvider: calendar.NewMemoryProvider()}
	})

	res := f.send(clientPhone, lauraMessage)

	assert.Equal(t, qualify.ReplyBooked, res.ReplyKind)
	require.NotEmpty(t, res.Failures)
	assert.Equal(t, apperr.Calendar, apperr.CollaboratorOf(res.Failures[0]))
	assert.Len(t, f.sender.to(vendorPhone), 1)

	history, err := f.history.Recent(context.Background(), res.LeadID, 10)
	require.NoError(t, err)
	var notes int
	for _, rec := range history {
		if rec.Direction == leads.DirectionSystem {
			notes++
		}
	}
	assert.Positive(t, notes)
}

type failingLocker struct{}

func (failingLocker) Acquire(ctx context.Context, key string) (func(), error) {
	return nil, errors.New("redis down")
}

func TestEngineLockFailureAsksForRedelivery(t *testing.T) {
	f := newFixture(t, func(d *Dependencies) { d.Locker = failingLocker{} })

	_, err := f.engine.HandleInbound(context.Background(), events.InboundMessageV1{MessageID: "SM1", From: clientPhone, Body: "hola"})

	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindCollaboratorFailure))
	assert.Equal(t, apperr.Lock, apperr.CollaboratorOf(err))
	assert.Empty(t, f.sender.to(clientPhone))
}

func TestEngineAdminCancelAndLookup(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.send(clientPhone, lauraMessage)

	view, err := f.engine.Lookup(ctx, clientPhone)
	require.NoError(t, err)
	require.NotNil(t, view.Appointment)
	require.NotNil(t, view.Mortgage)
	assert.NotEmpty(t, view.History)
	assert.Len(t, view.Appointments, 1)

	cancelled, err := f.engine.CancelAppointment(ctx, view.Appointment.ID, "advisor-1")
	require.NoError(t, err)
	assert.Equal(t, appointments.StatusCancelled, cancelled.Status)
	assert.Equal(t, "advisor-1", cancelled.CancelledBy)
	assert.Len(t, f.sender.to(vendorPhone), 2)
	assert.Len(t, f.sender.to(advisorPhone), 1, "the canceller is not notified")

	_, err = f.engine.CancelAppointment(ctx, view.Appointment.ID, "advisor-1")
	assert.ErrorIs(t, err, appointments.ErrAlreadyCancelled)
}

func TestParseCancelCommand(t *testing.T) {
	tests := []struct {
		body   string
		cancel bool
		phone  string
	}{
		{body: "cancelar cita +52 1 55 1234 5678", cancel: true, phone: clientPhone},
		{body: "Cancelar la cita de 5215512345678 porfa", cancel: true, phone: clientPhone},
		{body: "cancelar cita", cancel: true},
		{body: "hola equipo", cancel: false},
	}
	for _, tt := range tests {
		cancel, phone := parseCancelCommand(tt.body)
		assert.Equal(t, tt.cancel, cancel, tt.body)
		assert.Equal(t, tt.phone, phone, tt.body)
	}
}

type fakeLLM struct {
	reply string
	err   error
	calls int
	last  LLMRequest
}

func (f *fakeLLM) Complete(ctx context.Context, req LLMRequest) (string, error) {
	f.calls++
	f.last = req
	return f.reply, f.err
}

func TestGeminiResponderRephrasesConversationalReplies(t *testing.T) {
	llm := &fakeLLM{reply: "¡Hola! Soy SARA 😊 ¿Cómo te llamas?"}
	r := NewGeminiResponder(llm, NewTemplateResponder("", time.UTC), nil)

	text, err := r.Respond(context.Background(), ReplyContext{
		Reply:   qualify.Reply{Kind: qualify.ReplyAskMissing, Missing: qualify.FieldName},
		Inbound: "hola",
		History: []leads.MessageRecord{{Direction: leads.DirectionInbound, Body: "buenas"}, {Direction: leads.DirectionSystem, Body: "error"}},
	})
	require.NoError(t, err)
	assert.Equal(t, llm.reply, text)
	require.Len(t, llm.last.Messages, 2, "system notes are not replayed")
	assert.Contains(t, llm.last.Messages[1].Content, "MENSAJE BASE")
}

func TestGeminiResponderKeepsFactualRepliesAndFallsBack(t *testing.T) {
	llm := &fakeLLM{err: errors.New("quota")}
	templates := NewTemplateResponder("", time.UTC)
	r := NewGeminiResponder(llm, templates, nil)

	booked := ReplyContext{Reply: qualify.Reply{Kind: qualify.ReplyBooked}}
	text, err := r.Respond(context.Background(), booked)
	require.NoError(t, err)
	assert.Equal(t, templates.Text(booked), text)
	assert.Zero(t, llm.calls, "dated replies never go through the model")

	ask := ReplyContext{Reply: qualify.Reply{Kind: qualify.ReplyAskMissing, Missing: qualify.FieldFinancing}}
	text, err = r.Respond(context.Background(), ask)
	require.NoError(t, err)
	assert.Equal(t, templates.Text(ask), text)
	assert.Equal(t, 1, llm.calls)
}

func TestTemplateResponderConflictListsAlternatives(t *testing.T) {
	loc, err := time.LoadLocation("America/Mexico_City")
	require.NoError(t, err)
	r := NewTemplateResponder("", loc)
	alts := []time.Time{
		time.Date(2025, 6, 11, 11, 0, 0, 0, loc),
		time.Date(2025, 6, 11, 12, 0, 0, 0, loc),
	}
	text := r.Text(ReplyContext{Reply: qualify.Reply{Kind: qualify.ReplySlotConflict, Alternatives: alts}})
	assert.Equal(t, 2, strings.Count(text, "•"))
	assert.Contains(t, text, "miércoles 11 de junio, 11:00")
}
