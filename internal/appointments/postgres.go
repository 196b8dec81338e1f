package appointments

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	pgUniqueViolation    = "23505"
	pgExclusionViolation = "23P01"
)

type db interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore keeps appointments in Postgres. Overlaps are also rejected by
// per-party exclusion constraints.
type PostgresStore struct {
	db     db
	tracer trace.Tracer
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	if pool == nil {
		panic("appointments: pgx pool required")
	}
	return newPostgresStoreWithDB(pool)
}

func newPostgresStoreWithDB(d db) *PostgresStore {
	return &PostgresStore{db: d, tracer: otel.Tracer("sara.internal.appointments")}
}

const columns = `id, lead_id, lead_phone, lead_name, property_id, property_name, vendor_id, advisor_id,
	starts_at, ends_at, scheduled_date, scheduled_time, status, vendor_event_id, advisor_event_id,
	cancelled_by, event_id, created_at`

func (s *PostgresStore) Book(ctx context.Context, appt Appointment) (BookResult, error) {
	ctx, span := s.tracer.Start(ctx, "appointments.book")
	defer span.End()
	span.SetAttributes(attribute.String("lead_id", appt.LeadID), attribute.String("property_id", appt.PropertyID))

	tx, err := s.db.Begin(ctx)
	if err != nil {
		span.RecordError(err)
		return BookResult{}, fmt.Errorf("appointments: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	existing, err := scanAppointment(tx.QueryRow(ctx, `
		SELECT `+columns+` FROM appointments
		WHERE lead_id = $1 AND property_id = $2 AND status <> 'cancelled'
		FOR UPDATE
	`, appt.LeadID, appt.PropertyID))
	switch {
	case err == nil && existing.StartsAt.Equal(appt.StartsAt):
		if err := tx.Commit(ctx); err != nil {
			return BookResult{}, fmt.Errorf("appointments: commit: %w", err)
		}
		return BookResult{Appointment: existing, Reused: true}, nil
	case err != nil && !errors.Is(err, ErrNotFound):
		span.RecordError(err)
		return BookResult{}, err
	}

	rows, err := tx.Query(ctx, `
		UPDATE appointments
		SET status = 'cancelled', cancelled_by = $3, cancelled_at = now()
		WHERE lead_id = $1 AND property_id = $2 AND status <> 'cancelled'
		RETURNING `+columns, appt.LeadID, appt.PropertyID, CancelledBySupersede)
	if err != nil {
		span.RecordError(err)
		return BookResult{}, fmt.Errorf("appointments: supersede: %w", err)
	}
	superseded, err := collect(rows)
	if err != nil {
		return BookResult{}, err
	}

	stored := appt
	if stored.ID == "" {
		stored.ID = uuid.NewString()
	}
	if stored.Status == "" {
		stored.Status = StatusScheduled
	}
	err = tx.QueryRow(ctx, `
		INSERT INTO appointments (id, lead_id, lead_phone, lead_name, property_id, property_name,
			vendor_id, advisor_id, starts_at, ends_at, scheduled_date, scheduled_time, status, event_id)
		SELECT $1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14
		WHERE NOT EXISTS (
			SELECT 1 FROM appointments
			WHERE status <> 'cancelled'
			  AND (vendor_id = ANY($15) OR advisor_id = ANY($15))
			  AND starts_at < $10 AND ends_at > $9
		)
		RETURNING created_at
	`,
		stored.ID, stored.LeadID, stored.LeadPhone, stored.LeadName, stored.PropertyID, stored.PropertyName,
		stored.VendorID, stored.AdvisorID, stored.StartsAt, stored.EndsAt, stored.ScheduledDate, stored.ScheduledTime,
		string(stored.Status), stored.EventID, stored.Parties(),
	).Scan(&stored.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return BookResult{}, ErrSlotTaken
		}
		if mapped := mapPgError(err); mapped != nil {
			return BookResult{}, mapped
		}
		span.RecordError(err)
		return BookResult{}, fmt.Errorf("appointments: insert: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		if mapped := mapPgError(err); mapped != nil {
			return BookResult{}, mapped
		}
		span.RecordError(err)
		return BookResult{}, fmt.Errorf("appointments: commit: %w", err)
	}
	return BookResult{Appointment: &stored, Superseded: superseded}, nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*Appointment, error) {
	return scanAppointment(s.db.QueryRow(ctx, `SELECT `+columns+` FROM appointments WHERE id = $1`, id))
}

func (s *PostgresStore) Active(ctx context.Context, leadID string) (*Appointment, error) {
	return scanAppointment(s.db.QueryRow(ctx, `
		SELECT `+columns+` FROM appointments
		WHERE lead_id = $1 AND status <> 'cancelled'
		ORDER BY created_at DESC
		LIMIT 1
	`, leadID))
}

func (s *PostgresStore) ListByLead(ctx context.Context, leadID string) ([]Appointment, error) {
	rows, err := s.db.Query(ctx, `SELECT `+columns+` FROM appointments WHERE lead_id = $1 ORDER BY created_at`, leadID)
	if err != nil {
		return nil, fmt.Errorf("appointments: list by lead: %w", err)
	}
	return collect(rows)
}

func (s *PostgresStore) Cancel(ctx context.Context, id, cancelledBy string) (*Appointment, error) {
	appt, err := scanAppointment(s.db.QueryRow(ctx, `
		UPDATE appointments
		SET status = 'cancelled', cancelled_by = $2, cancelled_at = now()
		WHERE id = $1 AND status <> 'cancelled'
		RETURNING `+columns, id, cancelledBy))
	if !errors.Is(err, ErrNotFound) {
		return appt, err
	}
	if _, getErr := s.Get(ctx, id); getErr == nil {
		return nil, ErrAlreadyCancelled
	}
	return nil, ErrNotFound
}

func (s *PostgresStore) SetCalendarEvents(ctx context.Context, id, vendorEventID, advisorEventID string) error {
	ct, err := s.db.Exec(ctx, `
		UPDATE appointments
		SET vendor_event_id = COALESCE(NULLIF($2, ''), vendor_event_id),
		    advisor_event_id = COALESCE(NULLIF($3, ''), advisor_event_id)
		WHERE id = $1
	`, id, vendorEventID, advisorEventID)
	if err != nil {
		return fmt.Errorf("appointments: set calendar events: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) Overlapping(ctx context.Context, memberID string, start, end time.Time, excludeLeadID string) ([]Appointment, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+columns+` FROM appointments
		WHERE status <> 'cancelled'
		  AND (vendor_id = $1 OR advisor_id = $1)
		  AND starts_at < $3 AND ends_at > $2
		  AND ($4 = '' OR lead_id::text <> $4)
		ORDER BY starts_at
	`, memberID, start, end, excludeLeadID)
	if err != nil {
		return nil, fmt.Errorf("appointments: overlapping: %w", err)
	}
	return collect(rows)
}

func collect(rows pgx.Rows) ([]Appointment, error) {
	defer rows.Close()
	var out []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("appointments: rows: %w", err)
	}
	return out, nil
}

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	var status string
	err := row.Scan(
		&a.ID, &a.LeadID, &a.LeadPhone, &a.LeadName, &a.PropertyID, &a.PropertyName, &a.VendorID, &a.AdvisorID,
		&a.StartsAt, &a.EndsAt, &a.ScheduledDate, &a.ScheduledTime, &status, &a.VendorEventID, &a.AdvisorEventID,
		&a.CancelledBy, &a.EventID, &a.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("appointments: scan: %w", err)
	}
	a.Status = Status(status)
	return &a, nil
}

func mapPgError(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return nil
	}
	switch pgErr.Code {
	case pgExclusionViolation:
		return ErrSlotTaken
	case pgUniqueViolation:
		return ErrDuplicateActive
	}
	return nil
}
