package calendar

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
)

func TestMemoryProvider(t *testing.T) {
	ctx := context.Background()
	p := NewMemoryProvider()
	start := time.Date(2025, 6, 11, 16, 0, 0, 0, time.UTC)

	evt, err := p.CreateEvent(ctx, EventInput{CalendarID: "vendor@example.com", Summary: "Visita", Start: start, End: start.Add(time.Hour)})
	require.NoError(t, err)
	assert.NotEmpty(t, evt.ID)

	listed, err := p.ListEvents(ctx, "vendor@example.com", start.Add(-time.Hour), start.Add(2*time.Hour))
	require.NoError(t, err)
	require.Len(t, listed, 1)

	require.NoError(t, p.DeleteEvent(ctx, "vendor@example.com", evt.ID))
	assert.ErrorIs(t, p.DeleteEvent(ctx, "vendor@example.com", evt.ID), ErrEventNotFound)

	_, err = p.CreateEvent(ctx, EventInput{CalendarID: "x", Start: start, End: start})
	assert.Error(t, err)
}

func newTestGoogle(t *testing.T, h http.HandlerFunc) *GoogleProvider {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	p, err := NewGoogleProvider(context.Background(), "", "America/Mexico_City", nil,
		option.WithEndpoint(srv.URL+"/"),
		option.WithHTTPClient(srv.Client()),
	)
	require.NoError(t, err)
	return p
}

func TestGoogleProviderCreateEvent(t *testing.T) {
	var got map[string]any
	p := newTestGoogle(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.True(t, strings.HasSuffix(r.URL.Path, "/calendars/vendor@example.com/events"), r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"evt-1","htmlLink":"https://calendar.google.com/evt-1","summary":"Visita Andes"}`))
	})

	start := time.Date(2025, 6, 11, 10, 0, 0, 0, time.FixedZone("CST", -6*3600))
	evt, err := p.CreateEvent(context.Background(), EventInput{
		CalendarID: "vendor@example.com",
		Summary:    "Visita Andes",
		Start:      start,
		End:        start.Add(time.Hour),
		Attendees:  []string{"advisor@example.com", ""},
	})
	require.NoError(t, err)
	assert.Equal(t, "evt-1", evt.ID)
	assert.Equal(t, "https://calendar.google.com/evt-1", evt.URL)

	startField := got["start"].(map[string]any)
	assert.Equal(t, "2025-06-11T10:00:00-06:00", startField["dateTime"])
	assert.Equal(t, "America/Mexico_City", startField["timeZone"])
	assert.Len(t, got["attendees"], 1)
}

func TestGoogleProviderDeleteTreatsMissingAsDone(t *testing.T) {
	p := newTestGoogle(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		if strings.HasSuffix(r.URL.Path, "/events/gone") {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusGone)
			_, _ = w.Write([]byte(`{"error":{"code":410,"message":"Resource has been deleted"}}`))
			return
		}
		if strings.HasSuffix(r.URL.Path, "/events/broken") {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	ctx := context.Background()
	assert.NoError(t, p.DeleteEvent(ctx, "vendor@example.com", "evt-1"))
	assert.NoError(t, p.DeleteEvent(ctx, "vendor@example.com", "gone"))
	assert.Error(t, p.DeleteEvent(ctx, "vendor@example.com", "broken"))
}

func TestGoogleProviderListEvents(t *testing.T) {
	p := newTestGoogle(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "true", r.URL.Query().Get("singleEvents"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"items":[{"id":"a","summary":"Visita","start":{"dateTime":"2025-06-11T10:00:00-06:00"},"end":{"dateTime":"2025-06-11T11:00:00-06:00"}}]}`))
	})

	start := time.Date(2025, 6, 11, 0, 0, 0, 0, time.UTC)
	events, err := p.ListEvents(context.Background(), "vendor@example.com", start, start.Add(48*time.Hour))
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, time.Hour, events[0].End.Sub(events[0].Start))
}
