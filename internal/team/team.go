// Package team holds the sales and credit staff who receive leads.
package team

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"sort"
	"strings"
	"sync"
)

// ErrMemberNotFound is returned for unknown member ids or phones.
var ErrMemberNotFound = errors.New("team: member not found")

// ErrNoActiveMember is returned when a role has nobody to assign.
var ErrNoActiveMember = errors.New("team: no active member for role")

// Role distinguishes vendors (sales) from credit advisors.
type Role string

const (
	RoleVendor  Role = "vendor"
	RoleAdvisor Role = "advisor"
)

// Member is a team member reachable by WhatsApp and optionally email.
type Member struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Phone      string `json:"phone"`
	Email      string `json:"email,omitempty"`
	CalendarID string `json:"calendar_id,omitempty"`
	Role       Role   `json:"role"`
	Active     bool   `json:"active"`
}

// Directory looks up team members.
type Directory interface {
	Get(ctx context.Context, id string) (*Member, error)
	ByPhone(ctx context.Context, phone string) (*Member, error)
	Active(ctx context.Context, role Role) ([]Member, error)
}

// Pick deterministically selects a member for the lead phone. The same phone
// maps to the same member while the active set is unchanged.
func Pick(phone string, members []Member) (*Member, error) {
	if len(members) == 0 {
		return nil, ErrNoActiveMember
	}
	sorted := append([]Member(nil), members...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	h := fnv.New32a()
	_, _ = h.Write([]byte(phone))
	m := sorted[int(h.Sum32()%uint32(len(sorted)))]
	return &m, nil
}

// Assign picks an active member of role for phone.
func Assign(ctx context.Context, dir Directory, role Role, phone string) (*Member, error) {
	members, err := dir.Active(ctx, role)
	if err != nil {
		return nil, err
	}
	return Pick(phone, members)
}

// ParseJSON decodes TEAM_MEMBERS_JSON. Members default to active.
func ParseJSON(raw string) ([]Member, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	var entries []struct {
		Member
		Active *bool `json:"active"`
	}
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		return nil, fmt.Errorf("team: decode members: %w", err)
	}
	out := make([]Member, 0, len(entries))
	for i, e := range entries {
		m := e.Member
		m.Active = e.Active == nil || *e.Active
		if m.ID == "" || m.Phone == "" {
			return nil, fmt.Errorf("team: member %d missing id or phone", i)
		}
		if m.Role != RoleVendor && m.Role != RoleAdvisor {
			return nil, fmt.Errorf("team: member %s has unknown role %q", m.ID, m.Role)
		}
		out = append(out, m)
	}
	return out, nil
}

// MemoryDirectory serves a fixed member list.
type MemoryDirectory struct {
	mu      sync.RWMutex
	members []Member
}

func NewMemoryDirectory(members []Member) *MemoryDirectory {
	return &MemoryDirectory{members: append([]Member(nil), members...)}
}

func (d *MemoryDirectory) Get(ctx context.Context, id string) (*Member, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, m := range d.members {
		if m.ID == id {
			out := m
			return &out, nil
		}
	}
	return nil, ErrMemberNotFound
}

func (d *MemoryDirectory) ByPhone(ctx context.Context, phone string) (*Member, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, m := range d.members {
		if m.Phone == phone && m.Active {
			out := m
			return &out, nil
		}
	}
	return nil, ErrMemberNotFound
}

func (d *MemoryDirectory) Active(ctx context.Context, role Role) ([]Member, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var out []Member
	for _, m := range d.members {
		if m.Role == role && m.Active {
			out = append(out, m)
		}
	}
	return out, nil
}
