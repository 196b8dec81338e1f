// Package appointments stores property visits booked for leads.
package appointments

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound         = errors.New("appointments: not found")
	ErrSlotTaken        = errors.New("appointments: slot already taken")
	ErrDuplicateActive  = errors.New("appointments: lead already has an active appointment for property")
	ErrAlreadyCancelled = errors.New("appointments: already cancelled")
)

// Status of an appointment. Cancelled rows are kept.
type Status string

const (
	StatusScheduled Status = "scheduled"
	StatusConfirmed Status = "confirmed"
	StatusCancelled Status = "cancelled"
)

// CancelledBySupersede marks rows replaced by a newer booking.
const CancelledBySupersede = "superseded"

// Appointment is a property visit for a lead with a vendor and, for credit
// leads, an advisor.
type Appointment struct {
	ID             string    `json:"id"`
	LeadID         string    `json:"lead_id"`
	LeadPhone      string    `json:"lead_phone"`
	LeadName       string    `json:"lead_name,omitempty"`
	PropertyID     string    `json:"property_id"`
	PropertyName   string    `json:"property_name"`
	VendorID       string    `json:"vendor_id,omitempty"`
	AdvisorID      string    `json:"advisor_id,omitempty"`
	StartsAt       time.Time `json:"starts_at"`
	EndsAt         time.Time `json:"ends_at"`
	ScheduledDate  string    `json:"scheduled_date"`
	ScheduledTime  string    `json:"scheduled_time"`
	Status         Status    `json:"status"`
	VendorEventID  string    `json:"vendor_event_id,omitempty"`
	AdvisorEventID string    `json:"advisor_event_id,omitempty"`
	CancelledBy    string    `json:"cancelled_by,omitempty"`
	EventID        string    `json:"event_id,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// Active reports whether the appointment still holds its slot.
func (a *Appointment) Active() bool {
	return a != nil && a.Status != StatusCancelled
}

// Parties returns the non-empty team member ids attending.
func (a *Appointment) Parties() []string {
	return parties(a.VendorID, a.AdvisorID)
}

// Overlaps reports whether the appointment intersects [start, end).
func (a *Appointment) Overlaps(start, end time.Time) bool {
	return a.StartsAt.Before(end) && start.Before(a.EndsAt)
}

// BookResult describes what Book did.
type BookResult struct {
	Appointment *Appointment
	// Superseded lists prior appointments for the same lead and property
	// that this booking cancelled.
	Superseded []Appointment
	// Reused is set when an identical active booking already existed.
	Reused bool
}

// Store persists appointments.
type Store interface {
	// Book supersedes the lead's active appointment for the property and
	// inserts the new one only if no party is busy. It returns ErrSlotTaken
	// when the conditional insert loses.
	Book(ctx context.Context, appt Appointment) (BookResult, error)
	Get(ctx context.Context, id string) (*Appointment, error)
	// Active returns the lead's most recent non-cancelled appointment.
	Active(ctx context.Context, leadID string) (*Appointment, error)
	// ListByLead returns every appointment the lead ever had, cancelled ones
	// included, oldest first.
	ListByLead(ctx context.Context, leadID string) ([]Appointment, error)
	Cancel(ctx context.Context, id, cancelledBy string) (*Appointment, error)
	SetCalendarEvents(ctx context.Context, id, vendorEventID, advisorEventID string) error
	// Overlapping lists active appointments for memberID intersecting
	// [start, end), ignoring those of excludeLeadID.
	Overlapping(ctx context.Context, memberID string, start, end time.Time, excludeLeadID string) ([]Appointment, error)
}

func parties(ids ...string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id != "" {
			out = append(out, id)
		}
	}
	return out
}
