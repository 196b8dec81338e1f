package catalog

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

// PostgresStore reads the properties table.
type PostgresStore struct {
	pool querier
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	if pool == nil {
		panic("catalog: pgx pool required")
	}
	return &PostgresStore{pool: pool}
}

func newPostgresStoreWithQuerier(q querier) *PostgresStore {
	return &PostgresStore{pool: q}
}

const propertyColumns = `id, name, development, price, maps_url, website_url, aliases`

func (s *PostgresStore) List(ctx context.Context) ([]Property, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+propertyColumns+` FROM properties WHERE active ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("catalog: list properties: %w", err)
	}
	defer rows.Close()

	var out []Property
	for rows.Next() {
		var p Property
		if err := rows.Scan(&p.ID, &p.Name, &p.Development, &p.Price, &p.MapsURL, &p.WebsiteURL, &p.Aliases); err != nil {
			return nil, fmt.Errorf("catalog: scan property: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*Property, error) {
	var p Property
	err := s.pool.QueryRow(ctx, `SELECT `+propertyColumns+` FROM properties WHERE id = $1`, id).
		Scan(&p.ID, &p.Name, &p.Development, &p.Price, &p.MapsURL, &p.WebsiteURL, &p.Aliases)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPropertyNotFound
		}
		return nil, fmt.Errorf("catalog: get property: %w", err)
	}
	return &p, nil
}
