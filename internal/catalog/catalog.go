// Package catalog is the read-only property catalogue used to resolve what a
// lead is asking about.
package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/wolfman30/sara-leads/internal/extract"
)

// ErrPropertyNotFound is returned when a property id is unknown.
var ErrPropertyNotFound = errors.New("catalog: property not found")

// Property is one listing in the catalogue.
type Property struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Development string   `json:"development,omitempty"`
	Price       float64  `json:"price,omitempty"`
	MapsURL     string   `json:"maps_url,omitempty"`
	WebsiteURL  string   `json:"website_url,omitempty"`
	Aliases     []string `json:"aliases,omitempty"`
}

// Store lists properties.
type Store interface {
	List(ctx context.Context) ([]Property, error)
	Get(ctx context.Context, id string) (*Property, error)
}

// Aliases returns the extractor view of the catalogue. Name and development
// always count as aliases.
func Aliases(props []Property) []extract.PropertyAlias {
	out := make([]extract.PropertyAlias, 0, len(props))
	for _, p := range props {
		names := make([]string, 0, len(p.Aliases)+2)
		if p.Name != "" {
			names = append(names, p.Name)
		}
		if p.Development != "" {
			names = append(names, p.Development)
		}
		names = append(names, p.Aliases...)
		out = append(out, extract.PropertyAlias{ID: p.ID, Aliases: names})
	}
	return out
}

// ParseJSON decodes a JSON array of properties, as found in PROPERTIES_JSON.
func ParseJSON(raw string) ([]Property, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	var props []Property
	if err := json.Unmarshal([]byte(raw), &props); err != nil {
		return nil, fmt.Errorf("catalog: decode properties: %w", err)
	}
	for i, p := range props {
		if strings.TrimSpace(p.ID) == "" || strings.TrimSpace(p.Name) == "" {
			return nil, fmt.Errorf("catalog: property %d missing id or name", i)
		}
	}
	return props, nil
}

// MemoryStore serves a fixed catalogue.
type MemoryStore struct {
	mu    sync.RWMutex
	props map[string]Property
}

func NewMemoryStore(props []Property) *MemoryStore {
	s := &MemoryStore{props: make(map[string]Property, len(props))}
	for _, p := range props {
		s.props[p.ID] = p
	}
	return s
}

func (s *MemoryStore) List(ctx context.Context) ([]Property, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Property, 0, len(s.props))
	for _, p := range s.props {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*Property, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.props[id]
	if !ok {
		return nil, ErrPropertyNotFound
	}
	return &p, nil
}
