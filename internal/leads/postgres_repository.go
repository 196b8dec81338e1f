package leads

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wolfman30/sara-leads/internal/extract"
)

const pgUniqueViolation = "23505"

type rowQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresRepository stores leads in the relational database.
type PostgresRepository struct {
	pool rowQuerier
}

// NewPostgresRepository initializes a repo backed by pgxpool.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	if pool == nil {
		panic("leads: pgx pool required")
	}
	return &PostgresRepository{pool: pool}
}

func newPostgresRepositoryWithExec(exec rowQuerier) *PostgresRepository {
	if exec == nil {
		panic("leads: exec required")
	}
	return &PostgresRepository{pool: exec}
}

const leadColumns = `id, phone, name, property_id, property_name, financing_intent,
	monthly_income, current_debt, down_payment, vendor_id, advisor_id,
	score, temperature, stage, pending_slot, last_event_id, cycle, created_at, updated_at`

// Create inserts a new row. A phone conflict returns ErrLeadExists.
func (r *PostgresRepository) Create(ctx context.Context, lead *Lead) (*Lead, error) {
	if lead == nil || strings.TrimSpace(lead.Phone) == "" {
		return nil, ErrMissingPhone
	}
	stored := lead.Clone()
	if stored.ID == "" {
		stored.ID = uuid.NewString()
	}
	pending, err := encodePending(stored.PendingSlot)
	if err != nil {
		return nil, err
	}

	query := `
		INSERT INTO leads (id, phone, name, property_id, property_name, financing_intent,
			monthly_income, current_debt, down_payment, vendor_id, advisor_id,
			score, temperature, stage, pending_slot, last_event_id, cycle)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		RETURNING created_at, updated_at
	`
	err = r.pool.QueryRow(ctx, query,
		stored.ID,
		stored.Phone,
		stored.Name,
		stored.PropertyID,
		stored.PropertyName,
		string(stored.Financing.Intent),
		stored.Financing.MonthlyIncome,
		stored.Financing.CurrentDebt,
		stored.Financing.DownPayment,
		stored.VendorID,
		stored.AdvisorID,
		stored.Score,
		string(stored.Temperature),
		string(stored.Stage),
		pending,
		stored.LastEventID,
		stored.Cycle,
	).Scan(&stored.CreatedAt, &stored.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return nil, ErrLeadExists
		}
		return nil, fmt.Errorf("leads: insert failed: %w", err)
	}
	return stored, nil
}

// GetByID fetches a lead by its ID.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*Lead, error) {
	query := `SELECT ` + leadColumns + ` FROM leads WHERE id = $1`
	return r.scanOne(r.pool.QueryRow(ctx, query, id))
}

// GetByPhone fetches a lead by its E.164 phone.
func (r *PostgresRepository) GetByPhone(ctx context.Context, phone string) (*Lead, error) {
	query := `SELECT ` + leadColumns + ` FROM leads WHERE phone = $1`
	return r.scanOne(r.pool.QueryRow(ctx, query, phone))
}

// Update writes the mutable lead state.
func (r *PostgresRepository) Update(ctx context.Context, lead *Lead) error {
	pending, err := encodePending(lead.PendingSlot)
	if err != nil {
		return err
	}
	query := `
		UPDATE leads SET
			name = $2,
			property_id = $3,
			property_name = $4,
			financing_intent = $5,
			monthly_income = $6,
			current_debt = $7,
			down_payment = $8,
			vendor_id = $9,
			advisor_id = $10,
			score = $11,
			temperature = $12,
			stage = $13,
			pending_slot = $14,
			last_event_id = $15,
			cycle = $16,
			updated_at = now()
		WHERE id = $1
	`
	ct, err := r.pool.Exec(ctx, query,
		lead.ID,
		lead.Name,
		lead.PropertyID,
		lead.PropertyName,
		string(lead.Financing.Intent),
		lead.Financing.MonthlyIncome,
		lead.Financing.CurrentDebt,
		lead.Financing.DownPayment,
		lead.VendorID,
		lead.AdvisorID,
		lead.Score,
		string(lead.Temperature),
		string(lead.Stage),
		pending,
		lead.LastEventID,
		lead.Cycle,
	)
	if err != nil {
		return fmt.Errorf("leads: update failed: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrLeadNotFound
	}
	return nil
}

func (r *PostgresRepository) scanOne(row pgx.Row) (*Lead, error) {
	var (
		lead      Lead
		intent    string
		temp      string
		stage     string
		pending   []byte
		createdAt time.Time
		updatedAt time.Time
	)
	if err := row.Scan(
		&lead.ID,
		&lead.Phone,
		&lead.Name,
		&lead.PropertyID,
		&lead.PropertyName,
		&intent,
		&lead.Financing.MonthlyIncome,
		&lead.Financing.CurrentDebt,
		&lead.Financing.DownPayment,
		&lead.VendorID,
		&lead.AdvisorID,
		&lead.Score,
		&temp,
		&stage,
		&pending,
		&lead.LastEventID,
		&lead.Cycle,
		&createdAt,
		&updatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrLeadNotFound
		}
		return nil, fmt.Errorf("leads: scan failed: %w", err)
	}
	lead.Financing.Intent = FinancingIntent(intent)
	lead.Temperature = Temperature(temp)
	lead.Stage = Stage(stage)
	lead.CreatedAt = createdAt
	lead.UpdatedAt = updatedAt
	if len(pending) > 0 {
		var slot extract.AppointmentCandidate
		if err := json.Unmarshal(pending, &slot); err != nil {
			return nil, fmt.Errorf("leads: decode pending slot: %w", err)
		}
		lead.PendingSlot = &slot
	}
	return &lead, nil
}

func encodePending(slot *extract.AppointmentCandidate) ([]byte, error) {
	if slot == nil {
		return nil, nil
	}
	data, err := json.Marshal(slot)
	if err != nil {
		return nil, fmt.Errorf("leads: encode pending slot: %w", err)
	}
	return data, nil
}
