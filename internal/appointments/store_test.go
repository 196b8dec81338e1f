package appointments

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var ten = time.Date(2025, 6, 11, 16, 0, 0, 0, time.UTC)

var apptColumns = []string{
	"id", "lead_id", "lead_phone", "lead_name", "property_id", "property_name", "vendor_id", "advisor_id",
	"starts_at", "ends_at", "scheduled_date", "scheduled_time", "status", "vendor_event_id", "advisor_event_id",
	"cancelled_by", "event_id", "created_at",
}

func anyArgs(n int) []any {
	args := make([]any, n)
	for i := range args {
		args[i] = pgxmock.AnyArg()
	}
	return args
}

func visit(lead, property, vendor, advisor string, start time.Time) Appointment {
	return Appointment{
		LeadID:     lead,
		LeadPhone:  "+52155" + lead,
		PropertyID: property,
		VendorID:   vendor,
		AdvisorID:  advisor,
		StartsAt:   start,
		EndsAt:     start.Add(time.Hour),
	}
}

func TestMemoryStore_BookRejectsOverlapForAnyParty(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	_, err := store.Book(ctx, visit("lead-a", "andes", "v1", "a1", ten))
	require.NoError(t, err)

	_, err = store.Book(ctx, visit("lead-b", "andes", "v1", "", ten.Add(30*time.Minute)))
	assert.ErrorIs(t, err, ErrSlotTaken, "vendor busy")

	_, err = store.Book(ctx, visit("lead-c", "encinos", "v2", "a1", ten.Add(30*time.Minute)))
	assert.ErrorIs(t, err, ErrSlotTaken, "advisor busy")

	_, err = store.Book(ctx, visit("lead-d", "encinos", "v1", "", ten.Add(time.Hour)))
	assert.NoError(t, err, "back-to-back is fine")
}

func TestMemoryStore_BookSupersedesAndReuses(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	first, err := store.Book(ctx, visit("lead-a", "andes", "v1", "", ten))
	require.NoError(t, err)

	same, err := store.Book(ctx, visit("lead-a", "andes", "v1", "", ten))
	require.NoError(t, err)
	assert.True(t, same.Reused)
	assert.Equal(t, first.Appointment.ID, same.Appointment.ID)

	// rescheduling into an overlapping hour is not blocked by its own prior slot
	moved, err := store.Book(ctx, visit("lead-a", "andes", "v1", "", ten.Add(30*time.Minute)))
	require.NoError(t, err)
	require.Len(t, moved.Superseded, 1)
	assert.Equal(t, first.Appointment.ID, moved.Superseded[0].ID)
	assert.Equal(t, CancelledBySupersede, moved.Superseded[0].CancelledBy)

	active, err := store.Active(ctx, "lead-a")
	require.NoError(t, err)
	assert.Equal(t, moved.Appointment.ID, active.ID)

	all, err := store.ListByLead(ctx, "lead-a")
	require.NoError(t, err)
	assert.Len(t, all, 2, "a reused slot adds no row")

	old, err := store.Get(ctx, first.Appointment.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, old.Status)
}

func TestMemoryStore_CancelAndOverlapping(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	res, err := store.Book(ctx, visit("lead-a", "andes", "v1", "a1", ten))
	require.NoError(t, err)
	require.NoError(t, store.SetCalendarEvents(ctx, res.Appointment.ID, "gcal-v", "gcal-a"))

	busy, err := store.Overlapping(ctx, "a1", ten.Add(30*time.Minute), ten.Add(90*time.Minute), "")
	require.NoError(t, err)
	require.Len(t, busy, 1)
	assert.Equal(t, "gcal-a", busy[0].AdvisorEventID)

	busy, err = store.Overlapping(ctx, "a1", ten, ten.Add(time.Hour), "lead-a")
	require.NoError(t, err)
	assert.Empty(t, busy, "own appointments are excluded")

	cancelled, err := store.Cancel(ctx, res.Appointment.ID, "client")
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, cancelled.Status)

	_, err = store.Cancel(ctx, res.Appointment.ID, "client")
	assert.ErrorIs(t, err, ErrAlreadyCancelled)

	_, err = store.Active(ctx, "lead-a")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPostgresStore_Book(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := newPostgresStoreWithDB(mock)
	appt := visit("11111111-1111-1111-1111-111111111111", "andes", "v1", "a1", ten)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT (.+) FROM appointments").
		WithArgs(appt.LeadID, appt.PropertyID).
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery("UPDATE appointments").
		WithArgs(appt.LeadID, appt.PropertyID, CancelledBySupersede).
		WillReturnRows(pgxmock.NewRows(apptColumns))
	mock.ExpectQuery("INSERT INTO appointments").
		WithArgs(anyArgs(15)...).
		WillReturnRows(pgxmock.NewRows([]string{"created_at"}).AddRow(ten.Add(-time.Hour)))
	mock.ExpectCommit()

	res, err := store.Book(context.Background(), appt)
	require.NoError(t, err)
	assert.NotEmpty(t, res.Appointment.ID)
	assert.Equal(t, StatusScheduled, res.Appointment.Status)
	assert.Empty(t, res.Superseded)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_BookLostRace(t *testing.T) {
	tests := []struct {
		name   string
		insert func(e *pgxmock.ExpectedQuery)
	}{
		{"conditional insert returns nothing", func(e *pgxmock.ExpectedQuery) { e.WillReturnError(pgx.ErrNoRows) }},
		{"exclusion constraint", func(e *pgxmock.ExpectedQuery) { e.WillReturnError(&pgconn.PgError{Code: "23P01"}) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock, err := pgxmock.NewPool()
			require.NoError(t, err)
			defer mock.Close()

			store := newPostgresStoreWithDB(mock)
			appt := visit("11111111-1111-1111-1111-111111111111", "andes", "v1", "", ten)

			mock.ExpectBegin()
			mock.ExpectQuery("SELECT (.+) FROM appointments").
				WithArgs(appt.LeadID, appt.PropertyID).
				WillReturnError(pgx.ErrNoRows)
			mock.ExpectQuery("UPDATE appointments").
				WithArgs(appt.LeadID, appt.PropertyID, CancelledBySupersede).
				WillReturnRows(pgxmock.NewRows(apptColumns))
			tt.insert(mock.ExpectQuery("INSERT INTO appointments").WithArgs(anyArgs(15)...))
			mock.ExpectRollback()

			_, err = store.Book(context.Background(), appt)
			assert.ErrorIs(t, err, ErrSlotTaken)
			require.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestPostgresStore_SetCalendarEventsMissing(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := newPostgresStoreWithDB(mock)
	mock.ExpectExec("UPDATE appointments").
		WithArgs("missing", "evt-v", "").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err = store.SetCalendarEvents(context.Background(), "missing", "evt-v", "")
	assert.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListByLead(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := newPostgresStoreWithDB(mock)
	mock.ExpectQuery("SELECT (.+) FROM appointments WHERE lead_id").
		WithArgs("lead-a").
		WillReturnRows(pgxmock.NewRows(apptColumns).AddRow(
			"appt-1", "lead-a", "+5215512345678", "Laura", "andes", "Andes", "v1", "",
			ten, ten.Add(time.Hour), "2025-06-11", "10:00", "cancelled", "", "",
			CancelledBySupersede, "evt-1", ten.Add(-time.Hour),
		))

	all, err := store.ListByLead(context.Background(), "lead-a")
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, StatusCancelled, all[0].Status)
	assert.Equal(t, CancelledBySupersede, all[0].CancelledBy)
	require.NoError(t, mock.ExpectationsWereMet())
}
