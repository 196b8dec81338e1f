package qualify

import (
	"github.com/wolfman30/sara-leads/internal/extract"
	"github.com/wolfman30/sara-leads/internal/leads"
)

// Changes flags which parts of the lead a message touched.
type Changes struct {
	Name     bool
	Property bool
	Intent   bool
	Figures  bool
}

// Merged is the lead after folding in one message.
type Merged struct {
	Lead *leads.Lead
	// Requested is an unambiguous slot that should be checked and booked.
	Requested *extract.AppointmentCandidate
	// Confirmed is set when Requested came from a confirmed pending slot.
	Confirmed bool
	// PendingNew is set when this message left an ambiguous slot to confirm.
	PendingNew      bool
	PendingDeclined bool
	Changes         Changes
}

// Merge folds slots into a copy of lead. Known values are never replaced by
// unknown ones.
func Merge(lead *leads.Lead, slots extract.Slots) Merged {
	next := lead.Clone()
	m := Merged{Lead: next}

	if slots.Name != "" && slots.Name != next.Name {
		next.Name = slots.Name
		m.Changes.Name = true
	}
	if slots.PropertyID != "" && slots.PropertyID != next.PropertyID {
		next.PropertyID = slots.PropertyID
		next.PropertyName = ""
		m.Changes.Property = true
	}
	if slots.NeedsFinancing != nil {
		intent := leads.IntentCash
		if *slots.NeedsFinancing {
			intent = leads.IntentCredit
		}
		if intent != next.Financing.Intent {
			next.Financing.Intent = intent
			m.Changes.Intent = true
			if intent == leads.IntentCash {
				next.AdvisorID = ""
			}
		}
	}
	incomeChanged := mergeFigure(&next.Financing.MonthlyIncome, slots.Income)
	debtChanged := mergeFigure(&next.Financing.CurrentDebt, slots.Debt)
	downChanged := mergeFigure(&next.Financing.DownPayment, slots.DownPayment)
	m.Changes.Figures = incomeChanged || debtChanged || downChanged

	switch {
	case slots.Appointment != nil && slots.Appointment.Ambiguous():
		pending := *slots.Appointment
		next.PendingSlot = &pending
		m.PendingNew = true
	case slots.Appointment != nil:
		requested := *slots.Appointment
		m.Requested = &requested
		next.PendingSlot = nil
	case next.PendingSlot != nil && slots.Confirms:
		confirmed := *next.PendingSlot
		confirmed.MeridiemAssumed = false
		confirmed.DateConflict = false
		m.Requested = &confirmed
		m.Confirmed = true
		next.PendingSlot = nil
	case next.PendingSlot != nil && slots.Declines:
		next.PendingSlot = nil
		m.PendingDeclined = true
	}
	return m
}

func mergeFigure(dst **float64, v *float64) bool {
	if v == nil {
		return false
	}
	if *dst != nil && **dst == *v {
		return false
	}
	value := *v
	*dst = &value
	return true
}

// Missing lists what the lead still has to provide, in asking order.
func Missing(l *leads.Lead) []Field {
	var out []Field
	if l.Name == "" {
		out = append(out, FieldName)
	}
	if l.PropertyID == "" {
		out = append(out, FieldProperty)
	}
	switch l.Financing.Intent {
	case leads.IntentCredit:
		if l.Financing.MonthlyIncome == nil {
			out = append(out, FieldIncome)
		}
	case leads.IntentCash:
	default:
		out = append(out, FieldFinancing)
	}
	return out
}

// Score rates the lead 0-100 and buckets it. HOT needs property, financing
// information and a visit; WARM needs property plus a name or income.
func Score(l *leads.Lead, hasVisit bool) (int, leads.Temperature) {
	hasProperty := l.PropertyID != ""
	hasIncome := l.Financing.MonthlyIncome != nil
	hasIntent := l.Financing.Intent == leads.IntentCash || l.Financing.Intent == leads.IntentCredit

	score := 0
	if hasProperty {
		score += 30
	}
	if l.Name != "" {
		score += 10
	}
	if hasIntent {
		score += 20
	}
	if hasIncome || l.Financing.Intent == leads.IntentCash {
		score += 10
	}
	if hasVisit {
		score += 30
	}

	switch {
	case hasProperty && (hasIncome || hasIntent) && hasVisit:
		return score, leads.TemperatureHot
	case hasProperty && (l.Name != "" || hasIncome):
		return score, leads.TemperatureWarm
	default:
		return score, leads.TemperatureCold
	}
}
