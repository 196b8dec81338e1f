package leads

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Repository defines the interface for lead storage
type Repository interface {
	Create(ctx context.Context, lead *Lead) (*Lead, error)
	GetByID(ctx context.Context, id string) (*Lead, error)
	GetByPhone(ctx context.Context, phone string) (*Lead, error)
	Update(ctx context.Context, lead *Lead) error
}

// GetOrCreate loads the lead for phone, creating it with init applied when
// unseen. A lost creation race loads the winner's row.
func GetOrCreate(ctx context.Context, repo Repository, phone string, init func(*Lead)) (*Lead, bool, error) {
	lead, err := repo.GetByPhone(ctx, phone)
	if err == nil {
		return lead, false, nil
	}
	if !errors.Is(err, ErrLeadNotFound) {
		return nil, false, err
	}

	fresh := &Lead{
		Phone:       phone,
		Stage:       StageCollecting,
		Temperature: TemperatureCold,
		Financing:   Financing{Intent: IntentUnknown},
	}
	if init != nil {
		init(fresh)
	}
	created, err := repo.Create(ctx, fresh)
	if errors.Is(err, ErrLeadExists) {
		lead, err = repo.GetByPhone(ctx, phone)
		return lead, false, err
	}
	if err != nil {
		return nil, false, err
	}
	return created, true, nil
}

// InMemoryRepository keeps leads in a map keyed by ID with a phone index.
type InMemoryRepository struct {
	mu      sync.RWMutex
	leads   map[string]*Lead
	byPhone map[string]string
	now     func() time.Time
}

// NewInMemoryRepository creates a new in-memory repository
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		leads:   make(map[string]*Lead),
		byPhone: make(map[string]string),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Create stores a new lead.
func (r *InMemoryRepository) Create(ctx context.Context, lead *Lead) (*Lead, error) {
	if lead == nil || strings.TrimSpace(lead.Phone) == "" {
		return nil, ErrMissingPhone
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byPhone[lead.Phone]; ok {
		return nil, ErrLeadExists
	}
	stored := lead.Clone()
	if stored.ID == "" {
		stored.ID = uuid.NewString()
	}
	stored.CreatedAt = r.now()
	stored.UpdatedAt = stored.CreatedAt
	r.leads[stored.ID] = stored
	r.byPhone[stored.Phone] = stored.ID
	return stored.Clone(), nil
}

// GetByID retrieves a lead by ID
func (r *InMemoryRepository) GetByID(ctx context.Context, id string) (*Lead, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	lead, ok := r.leads[id]
	if !ok {
		return nil, ErrLeadNotFound
	}
	return lead.Clone(), nil
}

// GetByPhone retrieves a lead by its E.164 phone.
func (r *InMemoryRepository) GetByPhone(ctx context.Context, phone string) (*Lead, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byPhone[phone]
	if !ok {
		return nil, ErrLeadNotFound
	}
	return r.leads[id].Clone(), nil
}

// Update replaces the stored lead state.
func (r *InMemoryRepository) Update(ctx context.Context, lead *Lead) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.leads[lead.ID]
	if !ok {
		return ErrLeadNotFound
	}
	stored := lead.Clone()
	stored.CreatedAt = existing.CreatedAt
	stored.UpdatedAt = r.now()
	r.leads[stored.ID] = stored
	return nil
}
