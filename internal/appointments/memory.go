package appointments

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore runs the same check-and-insert under one mutex.
type MemoryStore struct {
	mu    sync.Mutex
	items map[string]*Appointment
	now   func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		items: make(map[string]*Appointment),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

func (s *MemoryStore) Book(ctx context.Context, appt Appointment) (BookResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var prior []*Appointment
	for _, existing := range s.items {
		if existing.Active() && existing.LeadID == appt.LeadID && existing.PropertyID == appt.PropertyID {
			if existing.StartsAt.Equal(appt.StartsAt) {
				out := *existing
				return BookResult{Appointment: &out, Reused: true}, nil
			}
			prior = append(prior, existing)
		}
	}

	wanted := appt.Parties()
	for _, existing := range s.items {
		if !existing.Active() || containsPtr(prior, existing) {
			continue
		}
		if !existing.Overlaps(appt.StartsAt, appt.EndsAt) {
			continue
		}
		if sharesParty(existing.Parties(), wanted) {
			return BookResult{}, ErrSlotTaken
		}
	}

	var superseded []Appointment
	for _, p := range prior {
		p.Status = StatusCancelled
		p.CancelledBy = CancelledBySupersede
		superseded = append(superseded, *p)
	}

	stored := appt
	if stored.ID == "" {
		stored.ID = uuid.NewString()
	}
	if stored.Status == "" {
		stored.Status = StatusScheduled
	}
	stored.CreatedAt = s.now()
	s.items[stored.ID] = &stored
	out := stored
	return BookResult{Appointment: &out, Superseded: superseded}, nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := *a
	return &out, nil
}

func (s *MemoryStore) Active(ctx context.Context, leadID string) (*Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var latest *Appointment
	for _, a := range s.items {
		if a.LeadID != leadID || !a.Active() {
			continue
		}
		if latest == nil || a.CreatedAt.After(latest.CreatedAt) {
			latest = a
		}
	}
	if latest == nil {
		return nil, ErrNotFound
	}
	out := *latest
	return &out, nil
}

func (s *MemoryStore) ListByLead(ctx context.Context, leadID string) ([]Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Appointment
	for _, a := range s.items {
		if a.LeadID == leadID {
			out = append(out, *a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) Cancel(ctx context.Context, id, cancelledBy string) (*Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	if !a.Active() {
		return nil, ErrAlreadyCancelled
	}
	a.Status = StatusCancelled
	a.CancelledBy = cancelledBy
	out := *a
	return &out, nil
}

func (s *MemoryStore) SetCalendarEvents(ctx context.Context, id, vendorEventID, advisorEventID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.items[id]
	if !ok {
		return ErrNotFound
	}
	if vendorEventID != "" {
		a.VendorEventID = vendorEventID
	}
	if advisorEventID != "" {
		a.AdvisorEventID = advisorEventID
	}
	return nil
}

func (s *MemoryStore) Overlapping(ctx context.Context, memberID string, start, end time.Time, excludeLeadID string) ([]Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Appointment
	for _, a := range s.items {
		if !a.Active() || (excludeLeadID != "" && a.LeadID == excludeLeadID) {
			continue
		}
		if a.VendorID != memberID && a.AdvisorID != memberID {
			continue
		}
		if a.Overlaps(start, end) {
			out = append(out, *a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartsAt.Before(out[j].StartsAt) })
	return out, nil
}

func sharesParty(a, b []string) bool {
	for _, x := range a {
		for _, y := range b {
			if x == y {
				return true
			}
		}
	}
	return false
}

func containsPtr(list []*Appointment, target *Appointment) bool {
	for _, a := range list {
		if a == target {
			return true
		}
	}
	return false
}
