// Package calendar creates and removes visit events on team calendars.
package calendar

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrEventNotFound is returned when deleting an unknown event.
var ErrEventNotFound = errors.New("calendar: event not found")

// EventInput describes a new event.
type EventInput struct {
	CalendarID  string
	Summary     string
	Description string
	Location    string
	Start       time.Time
	End         time.Time
	Attendees   []string
}

// Event is a stored calendar event.
type Event struct {
	ID         string
	CalendarID string
	URL        string
	Summary    string
	Start      time.Time
	End        time.Time
}

// Provider is the calendar backend.
type Provider interface {
	CreateEvent(ctx context.Context, in EventInput) (Event, error)
	DeleteEvent(ctx context.Context, calendarID, eventID string) error
	ListEvents(ctx context.Context, calendarID string, start, end time.Time) ([]Event, error)
}

// MemoryProvider keeps events in process.
type MemoryProvider struct {
	mu     sync.Mutex
	events map[string]map[string]Event
}

func NewMemoryProvider() *MemoryProvider {
	return &MemoryProvider{events: make(map[string]map[string]Event)}
}

var _ Provider = (*MemoryProvider)(nil)

func (m *MemoryProvider) CreateEvent(_ context.Context, in EventInput) (Event, error) {
	if in.CalendarID == "" {
		return Event{}, errors.New("calendar: calendar id required")
	}
	if !in.End.After(in.Start) {
		return Event{}, errors.New("calendar: end must be after start")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	evt := Event{
		ID:         uuid.NewString(),
		CalendarID: in.CalendarID,
		Summary:    in.Summary,
		Start:      in.Start,
		End:        in.End,
	}
	evt.URL = "memory://" + in.CalendarID + "/" + evt.ID
	if m.events[in.CalendarID] == nil {
		m.events[in.CalendarID] = make(map[string]Event)
	}
	m.events[in.CalendarID][evt.ID] = evt
	return evt, nil
}

func (m *MemoryProvider) DeleteEvent(_ context.Context, calendarID, eventID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.events[calendarID][eventID]; !ok {
		return ErrEventNotFound
	}
	delete(m.events[calendarID], eventID)
	return nil
}

func (m *MemoryProvider) ListEvents(_ context.Context, calendarID string, start, end time.Time) ([]Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Event
	for _, evt := range m.events[calendarID] {
		if evt.Start.Before(end) && start.Before(evt.End) {
			out = append(out, evt)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out, nil
}
