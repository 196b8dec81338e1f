package leads

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/lib/pq"
)

// HistoryStore keeps the append-only message log per lead.
type HistoryStore interface {
	Append(ctx context.Context, record MessageRecord) error
	Recent(ctx context.Context, leadID string, limit int) ([]MessageRecord, error)
}

// SQLHistoryStore writes message history through database/sql.
type SQLHistoryStore struct {
	db *sql.DB
}

// NewSQLHistoryStore creates a history store on an open database handle.
func NewSQLHistoryStore(db *sql.DB) *SQLHistoryStore {
	if db == nil {
		panic("leads: sql db required")
	}
	return &SQLHistoryStore{db: db}
}

// Append records one message. Unknown leads return ErrLeadNotFound.
func (s *SQLHistoryStore) Append(ctx context.Context, record MessageRecord) error {
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
	query := `
		INSERT INTO lead_messages (lead_id, direction, body, created_at)
		VALUES ($1, $2, $3, $4)
	`
	_, err := s.db.ExecContext(ctx, query, record.LeadID, string(record.Direction), record.Body, record.CreatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23503" {
			return ErrLeadNotFound
		}
		return fmt.Errorf("leads: append message: %w", err)
	}
	return nil
}

// Recent returns up to limit messages, oldest first.
func (s *SQLHistoryStore) Recent(ctx context.Context, leadID string, limit int) ([]MessageRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `
		SELECT id, lead_id, direction, body, created_at FROM (
			SELECT id, lead_id, direction, body, created_at
			FROM lead_messages
			WHERE lead_id = $1
			ORDER BY created_at DESC, id DESC
			LIMIT $2
		) recent
		ORDER BY created_at ASC, id ASC
	`
	rows, err := s.db.QueryContext(ctx, query, leadID, limit)
	if err != nil {
		return nil, fmt.Errorf("leads: load history: %w", err)
	}
	defer rows.Close()

	var out []MessageRecord
	for rows.Next() {
		var rec MessageRecord
		var direction string
		if err := rows.Scan(&rec.ID, &rec.LeadID, &direction, &rec.Body, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("leads: scan history: %w", err)
		}
		rec.Direction = Direction(direction)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// MemoryHistoryStore is used when Postgres is not configured.
type MemoryHistoryStore struct {
	mu      sync.Mutex
	nextID  int64
	records map[string][]MessageRecord
}

func NewMemoryHistoryStore() *MemoryHistoryStore {
	return &MemoryHistoryStore{records: make(map[string][]MessageRecord)}
}

func (s *MemoryHistoryStore) Append(ctx context.Context, record MessageRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	record.ID = s.nextID
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
	s.records[record.LeadID] = append(s.records[record.LeadID], record)
	return nil
}

func (s *MemoryHistoryStore) Recent(ctx context.Context, leadID string, limit int) ([]MessageRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	all := s.records[leadID]
	if limit > 0 && len(all) > limit {
		all = all[len(all)-limit:]
	}
	return append([]MessageRecord(nil), all...), nil
}
