package events

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Deduper claims (scope, key) pairs so work is done at most once. A claim can
// be released when the work failed and should be retried later.
type Deduper interface {
	AlreadyProcessed(ctx context.Context, scope, key string) (bool, error)
	MarkProcessed(ctx context.Context, scope, key string) (bool, error)
	Release(ctx context.Context, scope, key string) error
}

type rowQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// ProcessedStore records handled keys in processed_events.
type ProcessedStore struct {
	pool rowQuerier
}

func NewProcessedStore(pool *pgxpool.Pool) *ProcessedStore {
	if pool == nil {
		panic("events: pgx pool required")
	}
	return &ProcessedStore{pool: pool}
}

func newProcessedStoreWithExec(exec rowQuerier) *ProcessedStore {
	if exec == nil {
		panic("events: exec required")
	}
	return &ProcessedStore{pool: exec}
}

// AlreadyProcessed checks if we've seen this key in scope.
func (s *ProcessedStore) AlreadyProcessed(ctx context.Context, scope, key string) (bool, error) {
	query := `SELECT 1 FROM processed_events WHERE scope = $1 AND event_id = $2`
	var exists int
	if err := s.pool.QueryRow(ctx, query, scope, key).Scan(&exists); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("events: check processed: %w", err)
	}
	return true, nil
}

// MarkProcessed inserts the key, returning false if it already exists.
func (s *ProcessedStore) MarkProcessed(ctx context.Context, scope, key string) (bool, error) {
	query := `
		INSERT INTO processed_events (scope, event_id)
		VALUES ($1, $2)
		ON CONFLICT DO NOTHING
	`
	ct, err := s.pool.Exec(ctx, query, scope, key)
	if err != nil {
		return false, fmt.Errorf("events: mark processed: %w", err)
	}
	return ct.RowsAffected() > 0, nil
}

// Release removes a claim.
func (s *ProcessedStore) Release(ctx context.Context, scope, key string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM processed_events WHERE scope = $1 AND event_id = $2`, scope, key); err != nil {
		return fmt.Errorf("events: release processed: %w", err)
	}
	return nil
}

// MemoryProcessedStore is the in-process Deduper.
type MemoryProcessedStore struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

func NewMemoryProcessedStore() *MemoryProcessedStore {
	return &MemoryProcessedStore{seen: make(map[string]struct{})}
}

func (m *MemoryProcessedStore) AlreadyProcessed(ctx context.Context, scope, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.seen[scope+"\x00"+key]
	return ok, nil
}

func (m *MemoryProcessedStore) MarkProcessed(ctx context.Context, scope, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := scope + "\x00" + key
	if _, ok := m.seen[k]; ok {
		return false, nil
	}
	m.seen[k] = struct{}{}
	return true, nil
}

func (m *MemoryProcessedStore) Release(ctx context.Context, scope, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.seen, scope+"\x00"+key)
	return nil
}
