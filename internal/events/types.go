package events

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Kind names a versioned domain event.
type Kind string

const (
	KindLeadQualified        Kind = "lead.qualified.v1"
	KindAppointmentCancelled Kind = "appointment.cancelled.v1"
)

// Role is a notification recipient role.
type Role string

const (
	RoleClient  Role = "client"
	RoleVendor  Role = "vendor"
	RoleAdvisor Role = "advisor"
)

// idNamespace scopes deterministic event ids.
var idNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://sara-leads/events"))

// DeriveID returns a stable id for the given parts. Equal inputs always give
// the same id, which is what makes re-submitted qualifications idempotent.
func DeriveID(parts ...string) string {
	return uuid.NewSHA1(idNamespace, []byte(strings.Join(parts, "|"))).String()
}

// Party is a team member attached to an event.
type Party struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Phone string `json:"phone"`
	Email string `json:"email,omitempty"`
}

// LeadSnapshot is the lead state at the time of the event.
type LeadSnapshot struct {
	ID            string   `json:"id"`
	Name          string   `json:"name"`
	Phone         string   `json:"phone"`
	Intent        string   `json:"intent"`
	MonthlyIncome *float64 `json:"monthly_income,omitempty"`
	CurrentDebt   *float64 `json:"current_debt,omitempty"`
	DownPayment   *float64 `json:"down_payment,omitempty"`
	Score         int      `json:"score"`
	Temperature   string   `json:"temperature"`
}

// Credit reports whether the lead asked for financing.
func (l LeadSnapshot) Credit() bool {
	return l.Intent == "credit"
}

type PropertySnapshot struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	MapsURL    string `json:"maps_url,omitempty"`
	WebsiteURL string `json:"website_url,omitempty"`
}

type AppointmentSnapshot struct {
	ID        string    `json:"id"`
	StartsAt  time.Time `json:"starts_at"`
	Date      string    `json:"date"`
	Time      string    `json:"time"`
	Label     string    `json:"label"`
	Confirmed bool      `json:"confirmed"`
	// Unverified is set when availability could not be checked.
	Unverified bool `json:"unverified,omitempty"`
}

// Event is a qualification or cancellation fact fanned out to recipients.
type Event struct {
	ID          string               `json:"id"`
	Kind        Kind                 `json:"kind"`
	OccurredAt  time.Time            `json:"occurred_at"`
	Lead        LeadSnapshot         `json:"lead"`
	Property    PropertySnapshot     `json:"property"`
	Appointment *AppointmentSnapshot `json:"appointment,omitempty"`
	Vendor      *Party               `json:"vendor,omitempty"`
	Advisor     *Party               `json:"advisor,omitempty"`
	// CancelledBy is the canceller's display name, empty when the client cancelled.
	CancelledBy string `json:"cancelled_by,omitempty"`
	Recipients  []Role `json:"recipients"`
}

func (e Event) EventType() string {
	return string(e.Kind)
}

func (e Event) Identity() (string, time.Time) {
	return e.ID, e.OccurredAt
}

// Addressed reports whether role is among the recipients.
func (e Event) Addressed(role Role) bool {
	for _, r := range e.Recipients {
		if r == role {
			return true
		}
	}
	return false
}

// InboundMessageV1 records a WhatsApp message accepted by the webhook.
type InboundMessageV1 struct {
	MessageID   string    `json:"message_id"`
	From        string    `json:"from"`
	To          string    `json:"to"`
	Body        string    `json:"body"`
	ProfileName string    `json:"profile_name,omitempty"`
	ReceivedAt  time.Time `json:"received_at"`
}

func (InboundMessageV1) EventType() string {
	return "messaging.whatsapp.received.v1"
}

// Identity derives the id from the provider message id, so a redelivered
// webhook records the same envelope.
func (m InboundMessageV1) Identity() (string, time.Time) {
	if m.MessageID == "" {
		return "", m.ReceivedAt
	}
	return DeriveID("inbound", m.MessageID), m.ReceivedAt
}
