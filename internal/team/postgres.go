package team

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresDirectory reads the team_members table.
type PostgresDirectory struct {
	pool querier
}

func NewPostgresDirectory(pool *pgxpool.Pool) *PostgresDirectory {
	if pool == nil {
		panic("team: pgx pool required")
	}
	return &PostgresDirectory{pool: pool}
}

func newPostgresDirectoryWithQuerier(q querier) *PostgresDirectory {
	return &PostgresDirectory{pool: q}
}

const memberColumns = `id, name, phone, email, calendar_id, role, active`

func (d *PostgresDirectory) Get(ctx context.Context, id string) (*Member, error) {
	return scanMember(d.pool.QueryRow(ctx, `SELECT `+memberColumns+` FROM team_members WHERE id = $1`, id))
}

func (d *PostgresDirectory) ByPhone(ctx context.Context, phone string) (*Member, error) {
	return scanMember(d.pool.QueryRow(ctx, `SELECT `+memberColumns+` FROM team_members WHERE phone = $1 AND active`, phone))
}

func (d *PostgresDirectory) Active(ctx context.Context, role Role) ([]Member, error) {
	rows, err := d.pool.Query(ctx, `SELECT `+memberColumns+` FROM team_members WHERE role = $1 AND active ORDER BY id`, string(role))
	if err != nil {
		return nil, fmt.Errorf("team: list active: %w", err)
	}
	defer rows.Close()

	var out []Member
	for rows.Next() {
		var m Member
		var role string
		if err := rows.Scan(&m.ID, &m.Name, &m.Phone, &m.Email, &m.CalendarID, &role, &m.Active); err != nil {
			return nil, fmt.Errorf("team: scan member: %w", err)
		}
		m.Role = Role(role)
		out = append(out, m)
	}
	return out, rows.Err()
}

func scanMember(row pgx.Row) (*Member, error) {
	var m Member
	var role string
	if err := row.Scan(&m.ID, &m.Name, &m.Phone, &m.Email, &m.CalendarID, &role, &m.Active); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrMemberNotFound
		}
		return nil, fmt.Errorf("team: scan member: %w", err)
	}
	m.Role = Role(role)
	return &m, nil
}
