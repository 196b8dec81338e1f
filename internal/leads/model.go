package leads

import (
	"time"

	"github.com/wolfman30/sara-leads/internal/extract"
)

// FinancingIntent is how the lead plans to pay.
type FinancingIntent string

const (
	IntentUnknown FinancingIntent = "unknown"
	IntentCash    FinancingIntent = "cash"
	IntentCredit  FinancingIntent = "credit"
)

// Stage is the qualification state of a lead.
type Stage string

const (
	StageCollecting  Stage = "collecting"
	StageReadyCash   Stage = "ready_cash"
	StageReadyCredit Stage = "ready_credit"
	StageNotified    Stage = "notified"
	StageCancelled   Stage = "cancelled"
)

// Temperature buckets the lead score for the sales team.
type Temperature string

const (
	TemperatureCold Temperature = "COLD"
	TemperatureWarm Temperature = "WARM"
	TemperatureHot  Temperature = "HOT"
)

// Financing holds the lead's stated capacity. Nil figures are unknown; a
// pointer to zero is an explicit zero ("no tengo deudas").
type Financing struct {
	Intent        FinancingIntent `json:"intent"`
	MonthlyIncome *float64        `json:"monthly_income,omitempty"`
	CurrentDebt   *float64        `json:"current_debt,omitempty"`
	DownPayment   *float64        `json:"down_payment,omitempty"`
}

// Lead is a prospective buyer tracked by phone number.
type Lead struct {
	ID           string                        `json:"id"`
	Phone        string                        `json:"phone"`
	Name         string                        `json:"name"`
	PropertyID   string                        `json:"property_id,omitempty"`
	PropertyName string                        `json:"property_name,omitempty"`
	Financing    Financing                     `json:"financing"`
	VendorID     string                        `json:"vendor_id,omitempty"`
	AdvisorID    string                        `json:"advisor_id,omitempty"`
	Score        int                           `json:"score"`
	Temperature  Temperature                   `json:"temperature"`
	Stage        Stage                         `json:"stage"`
	PendingSlot  *extract.AppointmentCandidate `json:"pending_slot,omitempty"`
	LastEventID  string                        `json:"last_event_id,omitempty"`

	// Cycle counts cancellations so a later identical booking is a new event.
	Cycle       int       `json:"cycle"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Clone returns a deep copy so callers can mutate freely.
func (l *Lead) Clone() *Lead {
	if l == nil {
		return nil
	}
	c := *l
	c.Financing.MonthlyIncome = copyFloat(l.Financing.MonthlyIncome)
	c.Financing.CurrentDebt = copyFloat(l.Financing.CurrentDebt)
	c.Financing.DownPayment = copyFloat(l.Financing.DownPayment)
	if l.PendingSlot != nil {
		slot := *l.PendingSlot
		c.PendingSlot = &slot
	}
	return &c
}

func copyFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	out := *v
	return &out
}

// Direction marks who wrote a history record.
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
	DirectionSystem   Direction = "system"
)

// MessageRecord is one append-only entry in a lead's conversation history.
type MessageRecord struct {
	ID        int64     `json:"id"`
	LeadID    string    `json:"lead_id"`
	Direction Direction `json:"direction"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
}
