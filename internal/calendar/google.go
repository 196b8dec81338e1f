package calendar

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/wolfman30/sara-leads/pkg/logging"
)

var tracer = otel.Tracer("sara.internal.calendar")

// GoogleProvider writes events through the Google Calendar v3 API.
type GoogleProvider struct {
	svc      *gcal.Service
	timeZone string
	logger   *logging.Logger
}

// NewGoogleProvider builds a provider from a service account credentials
// file. Extra options are passed to the client (tests point it at a fake).
func NewGoogleProvider(ctx context.Context, credentialsFile, timeZone string, logger *logging.Logger, opts ...option.ClientOption) (*GoogleProvider, error) {
	if logger == nil {
		logger = logging.Default()
	}
	if credentialsFile != "" {
		opts = append([]option.ClientOption{
			option.WithCredentialsFile(credentialsFile),
			option.WithScopes(gcal.CalendarEventsScope),
		}, opts...)
	}
	svc, err := gcal.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("calendar: new service: %w", err)
	}
	return &GoogleProvider{svc: svc, timeZone: timeZone, logger: logger}, nil
}

var _ Provider = (*GoogleProvider)(nil)

func (p *GoogleProvider) CreateEvent(ctx context.Context, in EventInput) (Event, error) {
	ctx, span := tracer.Start(ctx, "calendar.create_event")
	defer span.End()
	span.SetAttributes(attribute.String("sara.calendar_id", in.CalendarID))

	body := &gcal.Event{
		Summary:     in.Summary,
		Description: in.Description,
		Location:    in.Location,
		Start:       &gcal.EventDateTime{DateTime: in.Start.Format(time.RFC3339), TimeZone: p.timeZone},
		End:         &gcal.EventDateTime{DateTime: in.End.Format(time.RFC3339), TimeZone: p.timeZone},
		Reminders: &gcal.EventReminders{
			UseDefault: false,
			Overrides: []*gcal.EventReminder{
				{Method: "popup", Minutes: 30},
				{Method: "email", Minutes: 60},
			},
			ForceSendFields: []string{"UseDefault"},
		},
	}
	for _, email := range in.Attendees {
		if email != "" {
			body.Attendees = append(body.Attendees, &gcal.EventAttendee{Email: email})
		}
	}

	created, err := p.svc.Events.Insert(in.CalendarID, body).Context(ctx).Do()
	if err != nil {
		span.RecordError(err)
		return Event{}, fmt.Errorf("calendar: insert event: %w", err)
	}
	p.logger.Info("calendar event created", "calendar_id", in.CalendarID, "event_id", created.Id)
	return Event{
		ID:         created.Id,
		CalendarID: in.CalendarID,
		URL:        created.HtmlLink,
		Summary:    created.Summary,
		Start:      in.Start,
		End:        in.End,
	}, nil
}

// DeleteEvent removes an event. Events already gone count as deleted.
func (p *GoogleProvider) DeleteEvent(ctx context.Context, calendarID, eventID string) error {
	ctx, span := tracer.Start(ctx, "calendar.delete_event")
	defer span.End()

	err := p.svc.Events.Delete(calendarID, eventID).Context(ctx).Do()
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) && (apiErr.Code == http.StatusNotFound || apiErr.Code == http.StatusGone) {
		p.logger.Warn("calendar event already gone", "calendar_id", calendarID, "event_id", eventID)
		return nil
	}
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("calendar: delete event: %w", err)
	}
	return nil
}

func (p *GoogleProvider) ListEvents(ctx context.Context, calendarID string, start, end time.Time) ([]Event, error) {
	ctx, span := tracer.Start(ctx, "calendar.list_events")
	defer span.End()

	resp, err := p.svc.Events.List(calendarID).
		TimeMin(start.Format(time.RFC3339)).
		TimeMax(end.Format(time.RFC3339)).
		SingleEvents(true).
		OrderBy("startTime").
		Context(ctx).
		Do()
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("calendar: list events: %w", err)
	}
	out := make([]Event, 0, len(resp.Items))
	for _, item := range resp.Items {
		evt := Event{ID: item.Id, CalendarID: calendarID, URL: item.HtmlLink, Summary: item.Summary}
		if item.Start != nil {
			evt.Start, _ = time.Parse(time.RFC3339, item.Start.DateTime)
		}
		if item.End != nil {
			evt.End, _ = time.Parse(time.RFC3339, item.End.DateTime)
		}
		out = append(out, evt)
	}
	return out, nil
}
