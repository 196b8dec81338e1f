// Package mortgage tracks credit applications handed to advisors.
package mortgage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrNotFound = errors.New("mortgage: application not found")

type Status string

const (
	StatusPending   Status = "pending"
	StatusContacted Status = "contacted"
	StatusClosed    Status = "closed"
)

// Application is the one-per-lead credit file. Nil figures are unknown.
type Application struct {
	LeadID        string    `json:"lead_id"`
	LeadName      string    `json:"lead_name,omitempty"`
	LeadPhone     string    `json:"lead_phone"`
	PropertyID    string    `json:"property_id,omitempty"`
	MonthlyIncome *float64  `json:"monthly_income,omitempty"`
	CurrentDebt   *float64  `json:"current_debt,omitempty"`
	DownPayment   *float64  `json:"down_payment,omitempty"`
	AdvisorID     string    `json:"advisor_id,omitempty"`
	Status        Status    `json:"status"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Store upserts applications keyed by lead. Upsert reports whether a new row
// was created; known figures are never replaced with unknown ones.
type Store interface {
	Upsert(ctx context.Context, app Application) (bool, error)
	Get(ctx context.Context, leadID string) (*Application, error)
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type PostgresStore struct {
	pool querier
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	if pool == nil {
		panic("mortgage: pgx pool required")
	}
	return &PostgresStore{pool: pool}
}

func newPostgresStoreWithQuerier(q querier) *PostgresStore {
	return &PostgresStore{pool: q}
}

func (s *PostgresStore) Upsert(ctx context.Context, app Application) (bool, error) {
	if app.Status == "" {
		app.Status = StatusPending
	}
	query := `
		INSERT INTO mortgage_applications (lead_id, lead_name, lead_phone, property_id,
			monthly_income, current_debt, down_payment, advisor_id, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (lead_id) DO UPDATE SET
			lead_name = COALESCE(NULLIF(EXCLUDED.lead_name, ''), mortgage_applications.lead_name),
			property_id = COALESCE(NULLIF(EXCLUDED.property_id, ''), mortgage_applications.property_id),
			monthly_income = COALESCE(EXCLUDED.monthly_income, mortgage_applications.monthly_income),
			current_debt = COALESCE(EXCLUDED.current_debt, mortgage_applications.current_debt),
			down_payment = COALESCE(EXCLUDED.down_payment, mortgage_applications.down_payment),
			advisor_id = COALESCE(NULLIF(EXCLUDED.advisor_id, ''), mortgage_applications.advisor_id),
			updated_at = now()
		RETURNING (xmax = 0) AS inserted
	`
	var inserted bool
	err := s.pool.QueryRow(ctx, query,
		app.LeadID, app.LeadName, app.LeadPhone, app.PropertyID,
		app.MonthlyIncome, app.CurrentDebt, app.DownPayment, app.AdvisorID, string(app.Status),
	).Scan(&inserted)
	if err != nil {
		return false, fmt.Errorf("mortgage: upsert: %w", err)
	}
	return inserted, nil
}

func (s *PostgresStore) Get(ctx context.Context, leadID string) (*Application, error) {
	var app Application
	var status string
	err := s.pool.QueryRow(ctx, `
		SELECT lead_id, lead_name, lead_phone, property_id, monthly_income, current_debt,
			down_payment, advisor_id, status, updated_at
		FROM mortgage_applications WHERE lead_id = $1
	`, leadID).Scan(&app.LeadID, &app.LeadName, &app.LeadPhone, &app.PropertyID, &app.MonthlyIncome,
		&app.CurrentDebt, &app.DownPayment, &app.AdvisorID, &status, &app.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("mortgage: get: %w", err)
	}
	app.Status = Status(status)
	return &app, nil
}

// MemoryStore applies the same merge rules in process.
type MemoryStore struct {
	mu   sync.Mutex
	apps map[string]Application
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{apps: make(map[string]Application)}
}

func (s *MemoryStore) Upsert(ctx context.Context, app Application) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.apps[app.LeadID]
	if !ok {
		if app.Status == "" {
			app.Status = StatusPending
		}
		app.UpdatedAt = time.Now().UTC()
		s.apps[app.LeadID] = app
		return true, nil
	}
	existing.LeadName = firstNonEmpty(app.LeadName, existing.LeadName)
	existing.PropertyID = firstNonEmpty(app.PropertyID, existing.PropertyID)
	existing.AdvisorID = firstNonEmpty(app.AdvisorID, existing.AdvisorID)
	existing.MonthlyIncome = coalesce(app.MonthlyIncome, existing.MonthlyIncome)
	existing.CurrentDebt = coalesce(app.CurrentDebt, existing.CurrentDebt)
	existing.DownPayment = coalesce(app.DownPayment, existing.DownPayment)
	existing.UpdatedAt = time.Now().UTC()
	s.apps[app.LeadID] = existing
	return false, nil
}

func (s *MemoryStore) Get(ctx context.Context, leadID string) (*Application, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	app, ok := s.apps[leadID]
	if !ok {
		return nil, ErrNotFound
	}
	return &app, nil
}

func coalesce(v, fallback *float64) *float64 {
	if v != nil {
		out := *v
		return &out
	}
	return fallback
}

func firstNonEmpty(v, fallback string) string {
	if v != "" {
		return v
	}
	return fallback
}
