// Package conversation runs one inbound WhatsApp message through extraction,
// qualification and the resulting side effects, and answers the sender.
package conversation

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/sara-leads/internal/apperr"
	"github.com/wolfman30/sara-leads/internal/appointments"
	"github.com/wolfman30/sara-leads/internal/availability"
	"github.com/wolfman30/sara-leads/internal/calendar"
	"github.com/wolfman30/sara-leads/internal/catalog"
	"github.com/wolfman30/sara-leads/internal/events"
	"github.com/wolfman30/sara-leads/internal/extract"
	"github.com/wolfman30/sara-leads/internal/leads"
	"github.com/wolfman30/sara-leads/internal/lock"
	"github.com/wolfman30/sara-leads/internal/messaging"
	"github.com/wolfman30/sara-leads/internal/mortgage"
	"github.com/wolfman30/sara-leads/internal/notify"
	"github.com/wolfman30/sara-leads/internal/observability/metrics"
	"github.com/wolfman30/sara-leads/internal/qualify"
	"github.com/wolfman30/sara-leads/internal/retry"
	"github.com/wolfman30/sara-leads/internal/team"
	"github.com/wolfman30/sara-leads/pkg/logging"
)

var tracer = otel.Tracer("sara.internal.conversation")

// Dependencies are the stores and collaborators the engine drives. Calendar,
// Recorder, Responder and Metrics are optional.
type Dependencies struct {
	Leads        leads.Repository
	History      leads.HistoryStore
	Catalog      catalog.Store
	Team         team.Directory
	Appointments appointments.Store
	Mortgages    mortgage.Store
	Availability *availability.Resolver
	Dispatcher   *notify.Dispatcher
	Sender       messaging.Sender
	Locker       lock.Locker

	Calendar  calendar.Provider
	Recorder  events.Recorder
	Responder Responder
	Metrics   *metrics.LeadMetrics
}

// Settings are the business rules the engine applies.
type Settings struct {
	Location          *time.Location
	PMThreshold       int
	Duration          time.Duration
	DefaultCalendarID string
	BusinessName      string
	HistoryLimit      int
	RetryAttempts     int
	RetryBackoff      time.Duration
}

// Result describes what handling one message did. Failures lists
// collaborator errors that were absorbed so the sender still got a reply.
type Result struct {
	LeadID    string
	ReplyKind qualify.ReplyKind
	Reply     string
	EventID   string
	Notified  *notify.Report
	Failures  []error
}

// Engine executes qualification outcomes against the stores.
type Engine struct {
	deps      Dependencies
	cfg       Settings
	templates *TemplateResponder
	logger    *logging.Logger
	now       func() time.Time
}

func NewEngine(deps Dependencies, cfg Settings, logger *logging.Logger) *Engine {
	switch {
	case deps.Leads == nil:
		panic("conversation: leads repository required")
	case deps.Catalog == nil:
		panic("conversation: catalog required")
	case deps.Team == nil:
		panic("conversation: team directory required")
	case deps.Appointments == nil:
		panic("conversation: appointment store required")
	case deps.Mortgages == nil:
		panic("conversation: mortgage store required")
	case deps.Availability == nil:
		panic("conversation: availability resolver required")
	case deps.Dispatcher == nil:
		panic("conversation: dispatcher required")
	case deps.Sender == nil:
		panic("conversation: sender required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Duration <= 0 {
		cfg.Duration = time.Hour
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 10
	}
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = retry.DefaultAttempts
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = retry.DefaultBackoff
	}
	if deps.History == nil {
		deps.History = leads.NewMemoryHistoryStore()
	}
	if deps.Locker == nil {
		deps.Locker = lock.NewLocalLocker()
	}
	templates := NewTemplateResponder(cfg.BusinessName, cfg.Location)
	if deps.Responder == nil {
		deps.Responder = templates
	}
	return &Engine{
		deps:      deps,
		cfg:       cfg,
		templates: templates,
		logger:    logger,
		now:       time.Now,
	}
}

// HandleInbound processes one message. A returned error means nothing was
// done and the message should be redelivered; failures after that point are
// reported in Result.Failures.
func (e *Engine) HandleInbound(ctx context.Context, msg events.InboundMessageV1) (Result, error) {
	ctx, span := tracer.Start(ctx, "conversation.handle_inbound")
	defer span.End()
	span.SetAttributes(
		attribute.String("sara.phone", msg.From),
		attribute.String("sara.message_id", msg.MessageID),
	)
	start := e.now()

	release, err := e.deps.Locker.Acquire(ctx, msg.From)
	if err != nil {
		e.deps.Metrics.ObserveCollaboratorFailure(string(apperr.Lock))
		span.RecordError(err)
		return Result{}, apperr.CollaboratorFailure(apperr.Lock, "conversation.lock", err)
	}
	defer release()

	sender := "client"
	var res Result
	member, err := e.deps.Team.ByPhone(ctx, msg.From)
	switch {
	case err == nil:
		sender = "member"
		res, err = e.handleMember(ctx, member, msg)
	case errors.Is(err, team.ErrMemberNotFound):
		res, err = e.handleClient(ctx, msg)
	default:
		err = e.persistenceFailure("conversation.team_lookup", err)
	}

	status := "ok"
	switch {
	case err != nil:
		status = "error"
		span.RecordError(err)
	case len(res.Failures) > 0:
		status = "degraded"
	}
	e.deps.Metrics.ObserveMessage(sender, status, e.now().Sub(start).Seconds())
	return res, err
}

func (e *Engine) handleClient(ctx context.Context, msg events.InboundMessageV1) (Result, error) {
	now := e.now()
	props := e.properties(ctx)

	lead, created, err := leads.GetOrCreate(ctx, e.deps.Leads, msg.From, nil)
	if err != nil {
		return Result{}, e.persistenceFailure("conversation.load_lead", err)
	}
	if created {
		e.logger.Info("new lead", "lead_id", lead.ID, "profile_name", msg.ProfileName)
	}
	active, err := e.deps.Appointments.Active(ctx, lead.ID)
	if err != nil && !errors.Is(err, appointments.ErrNotFound) {
		return Result{}, e.persistenceFailure("conversation.active_appointment", err)
	}

	history := e.recentHistory(ctx, lead.ID)
	e.record(ctx, lead.ID, leads.DirectionInbound, msg.Body)

	slots := extract.Parse(msg.Body, now, extract.Options{
		Location:    e.cfg.Location,
		PMThreshold: e.cfg.PMThreshold,
		Properties:  catalog.Aliases(props),
	})
	merged := qualify.Merge(lead, slots)

	x := newExecution(msg, lead, qualify.Actor{Kind: qualify.ActorClient})
	x.active = active
	e.assignTeam(ctx, x, merged.Lead)
	x.property = e.resolveProperty(ctx, merged.Lead, props)

	in := qualify.Inputs{Now: now, Active: active}
	if r := merged.Requested; r != nil && r.Start.After(now) {
		check := e.deps.Availability.Check(ctx, e.availabilityRequest(merged.Lead, r.Start))
		in.Availability = &check
	}

	x.setOutcome(qualify.Decide(merged, slots, in))
	e.logger.Debug("lead decided",
		"lead_id", lead.ID,
		"stage", x.lead().Stage,
		"reply_kind", x.reply.Kind,
		"effects", len(x.outcome.Effects),
	)

	e.execute(ctx, x)
	e.saveLead(ctx, x)

	res := x.result()
	if x.clientConfirmed() {
		// the confirmation sent to the client already answers the message
		return res, nil
	}
	rc := ReplyContext{
		Reply:      x.reply,
		Lead:       x.lead(),
		Property:   x.property,
		Properties: props,
		Vendor:     e.member(ctx, x, x.lead().VendorID),
		Inbound:    msg.Body,
		History:    history,
	}
	res.Reply = e.respond(ctx, rc)
	e.sendReply(ctx, x, x.lead().Phone, res.Reply, true)
	res.Failures = x.failures
	return res, nil
}

func (e *Engine) respond(ctx context.Context, rc ReplyContext) string {
	text, err := e.deps.Responder.Respond(ctx, rc)
	if err != nil || text == "" {
		if err != nil {
			e.logger.Warn("responder failed, using template", "error", err)
		}
		return e.templates.Text(rc)
	}
	return text
}

func (e *Engine) sendReply(ctx context.Context, x *execution, to, body string, logHistory bool) {
	err := retry.Do(ctx, e.cfg.RetryAttempts, e.cfg.RetryBackoff, func(ctx context.Context) error {
		return e.deps.Sender.Send(ctx, to, body)
	})
	if err != nil {
		e.fail(ctx, x, apperr.CollaboratorFailure(apperr.Messaging, "conversation.reply", err))
		return
	}
	if logHistory {
		e.record(ctx, x.lead().ID, leads.DirectionOutbound, body)
	}
}

// assignTeam gives the lead a vendor on first contact and an advisor once it
// asks for credit.
func (e *Engine) assignTeam(ctx context.Context, x *execution, lead *leads.Lead) {
	if lead.VendorID == "" {
		if m, err := team.Assign(ctx, e.deps.Team, team.RoleVendor, lead.Phone); err != nil {
			e.logger.Warn("vendor assignment failed", "lead_id", lead.ID, "error", err)
		} else {
			lead.VendorID = m.ID
			x.members[m.ID] = m
		}
	}
	if lead.Financing.Intent == leads.IntentCredit && lead.AdvisorID == "" {
		if m, err := team.Assign(ctx, e.deps.Team, team.RoleAdvisor, lead.Phone); err != nil {
			e.logger.Warn("advisor assignment failed", "lead_id", lead.ID, "error", err)
		} else {
			lead.AdvisorID = m.ID
			x.members[m.ID] = m
		}
	}
}

func (e *Engine) properties(ctx context.Context) []catalog.Property {
	props, err := e.deps.Catalog.List(ctx)
	if err != nil {
		e.logger.Warn("catalog unavailable", "error", err)
		return nil
	}
	return props
}

// resolveProperty finds the lead's property and refreshes its display name.
func (e *Engine) resolveProperty(ctx context.Context, lead *leads.Lead, props []catalog.Property) *catalog.Property {
	if lead.PropertyID == "" {
		return nil
	}
	for i := range props {
		if props[i].ID == lead.PropertyID {
			lead.PropertyName = props[i].Name
			return &props[i]
		}
	}
	p := e.lookupProperty(ctx, lead.PropertyID)
	if p != nil {
		lead.PropertyName = p.Name
	}
	return p
}

func (e *Engine) lookupProperty(ctx context.Context, id string) *catalog.Property {
	if id == "" {
		return nil
	}
	p, err := e.deps.Catalog.Get(ctx, id)
	if err != nil {
		e.logger.Warn("property lookup failed", "property_id", id, "error", err)
		return nil
	}
	return p
}

func (e *Engine) availabilityRequest(lead *leads.Lead, start time.Time) availability.Request {
	req := availability.Request{
		Start:    start,
		Duration: e.cfg.Duration,
		VendorID: lead.VendorID,
		LeadID:   lead.ID,
	}
	if lead.Financing.Intent == leads.IntentCredit {
		req.AdvisorID = lead.AdvisorID
	}
	return req
}

func (e *Engine) member(ctx context.Context, x *execution, id string) *team.Member {
	if id == "" {
		return nil
	}
	if m, ok := x.members[id]; ok {
		return m
	}
	m, err := e.deps.Team.Get(ctx, id)
	if err != nil {
		e.logger.Warn("team member lookup failed", "member_id", id, "error", err)
		m = nil
	}
	x.members[id] = m
	return m
}

func (e *Engine) recentHistory(ctx context.Context, leadID string) []leads.MessageRecord {
	history, err := e.deps.History.Recent(ctx, leadID, e.cfg.HistoryLimit)
	if err != nil {
		e.logger.Warn("history unavailable", "lead_id", leadID, "error", err)
		return nil
	}
	return history
}

func (e *Engine) record(ctx context.Context, leadID string, dir leads.Direction, body string) {
	if leadID == "" || body == "" {
		return
	}
	rec := leads.MessageRecord{LeadID: leadID, Direction: dir, Body: body, CreatedAt: e.now().UTC()}
	if err := e.deps.History.Append(context.WithoutCancel(ctx), rec); err != nil {
		e.logger.Warn("history append failed", "lead_id", leadID, "direction", dir, "error", err)
	}
}

func (e *Engine) saveLead(ctx context.Context, x *execution) {
	if err := e.deps.Leads.Update(ctx, x.lead()); err != nil {
		e.fail(ctx, x, apperr.CollaboratorFailure(apperr.Persistence, "conversation.save_lead", err))
	}
}

func (e *Engine) persistenceFailure(op string, err error) error {
	e.deps.Metrics.ObserveCollaboratorFailure(string(apperr.Persistence))
	e.logger.Error("conversation: store unavailable", "op", op, "error", err)
	return apperr.CollaboratorFailure(apperr.Persistence, op, err)
}

// fail absorbs a collaborator failure: counted, logged and noted in the
// lead's history.
func (e *Engine) fail(ctx context.Context, x *execution, err error) {
	if c := apperr.CollaboratorOf(err); c != "" {
		e.deps.Metrics.ObserveCollaboratorFailure(string(c))
	}
	e.note(ctx, x, err)
}

func (e *Engine) note(ctx context.Context, x *execution, err error) {
	x.failures = append(x.failures, err)
	leadID := ""
	if lead := x.lead(); lead != nil {
		leadID = lead.ID
	}
	e.logger.Error("conversation: side effect failed", "lead_id", leadID, "message_id", x.msg.MessageID, "error", err)
	e.record(ctx, leadID, leads.DirectionSystem, "error: "+err.Error())
}
