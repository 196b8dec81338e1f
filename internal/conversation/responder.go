package conversation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/wolfman30/sara-leads/internal/catalog"
	"github.com/wolfman30/sara-leads/internal/leads"
	"github.com/wolfman30/sara-leads/internal/notify"
	"github.com/wolfman30/sara-leads/internal/qualify"
	"github.com/wolfman30/sara-leads/internal/team"
)

// ReplyContext is everything a responder may use to word a reply.
type ReplyContext struct {
	Reply      qualify.Reply
	Lead       *leads.Lead
	Property   *catalog.Property
	Properties []catalog.Property
	Vendor     *team.Member
	Inbound    string
	History    []leads.MessageRecord
}

// Responder turns a qualification reply into client-facing text.
type Responder interface {
	Respond(ctx context.Context, rc ReplyContext) (string, error)
}

// TemplateResponder answers with fixed Spanish templates.
type TemplateResponder struct {
	business string
	loc      *time.Location
}

func NewTemplateResponder(business string, loc *time.Location) *TemplateResponder {
	if strings.TrimSpace(business) == "" {
		business = "SARA Inmobiliaria"
	}
	if loc == nil {
		loc = time.UTC
	}
	return &TemplateResponder{business: business, loc: loc}
}

var _ Responder = (*TemplateResponder)(nil)

func (t *TemplateResponder) Respond(_ context.Context, rc ReplyContext) (string, error) {
	return t.Text(rc), nil
}

// Text renders rc without error; other responders fall back to it.
func (t *TemplateResponder) Text(rc ReplyContext) string {
	r := rc.Reply
	name := ""
	if rc.Lead != nil {
		name = rc.Lead.Name
	}
	propName := propertyName(rc)

	switch r.Kind {
	case qualify.ReplyAskMissing:
		return t.askMissing(r.Missing, name, rc.Properties)
	case qualify.ReplyConfirmSlot:
		if r.Slot == nil {
			return "¿Qué día y hora te acomodan para la visita?"
		}
		return fmt.Sprintf("Solo para confirmar: ¿la visita sería el %s? Respóndeme *sí* o dime otra hora.", t.slot(r.Slot.Start))
	case qualify.ReplyAskNewSlot:
		return "Sin problema. ¿Qué día y hora te acomodan para la visita?"
	case qualify.ReplySlotInPast:
		return "Esa fecha ya pasó. ¿Qué otro día y hora te acomodan para la visita?"
	case qualify.ReplySlotConflict:
		if len(r.Alternatives) == 0 {
			return "Ese horario ya está ocupado. ¿Qué otro día y hora te acomodan?"
		}
		var b strings.Builder
		b.WriteString("Ese horario ya está ocupado. Tengo disponible:\n")
		for _, alt := range r.Alternatives {
			fmt.Fprintf(&b, "• %s\n", t.slot(alt))
		}
		b.WriteString("¿Alguno te funciona?")
		return b.String()
	case qualify.ReplyBooked:
		var b strings.Builder
		fmt.Fprintf(&b, "¡Listo%s! Tu visita", greetingName(name))
		if propName != "" {
			fmt.Fprintf(&b, " a %s", propName)
		}
		if r.Slot != nil {
			fmt.Fprintf(&b, " quedó agendada para el %s.", t.slot(r.Slot.Start))
		} else {
			b.WriteString(" quedó agendada.")
		}
		if r.Unverified {
			b.WriteString(" Un asesor confirmará la disponibilidad contigo.")
		}
		writeMaps(&b, rc.Property)
		return b.String()
	case qualify.ReplyQualified:
		var b strings.Builder
		fmt.Fprintf(&b, "¡Gracias%s! ", greetingName(name))
		if rc.Vendor != nil && rc.Vendor.Name != "" {
			fmt.Fprintf(&b, "%s te contactará en breve.", rc.Vendor.Name)
		} else {
			b.WriteString("Un asesor te contactará en breve.")
		}
		if propName != "" {
			fmt.Fprintf(&b, " ¿Te gustaría agendar una visita a %s? Dime qué día y hora te acomodan.", propName)
		}
		return b.String()
	case qualify.ReplyAcknowledged:
		if r.Appointment != nil && r.Appointment.Active() {
			return fmt.Sprintf("¡Gracias%s! Tu visita sigue en pie para el %s.", greetingName(name), t.slot(r.Appointment.StartsAt))
		}
		return fmt.Sprintf("¡Gracias%s! Ya tenemos tus datos, un asesor te contactará en breve.", greetingName(name))
	case qualify.ReplyFiguresUpdated:
		return "Gracias, actualicé tu información para tu asesor de crédito."
	case qualify.ReplyCancelled:
		if r.Appointment != nil {
			return fmt.Sprintf("Tu cita del %s quedó cancelada. Si quieres reagendar, dime qué día y hora te acomodan.", t.slot(r.Appointment.StartsAt))
		}
		return "Tu cita quedó cancelada. Si quieres reagendar, dime qué día y hora te acomodan."
	case qualify.ReplyNothingToCancel:
		return "No encontré ninguna cita activa a tu nombre."
	case qualify.ReplyAppointmentInfo:
		if r.Appointment == nil {
			return "Aún no tienes una cita agendada."
		}
		var b strings.Builder
		fmt.Fprintf(&b, "Tu cita es el %s", t.slot(r.Appointment.StartsAt))
		if r.Appointment.PropertyName != "" {
			fmt.Fprintf(&b, " en %s", r.Appointment.PropertyName)
		}
		b.WriteString(".")
		writeMaps(&b, rc.Property)
		return b.String()
	case qualify.ReplyNoAppointment:
		if propName != "" {
			return fmt.Sprintf("Aún no tienes una cita agendada. ¿Qué día y hora te gustaría visitar %s?", propName)
		}
		return "Aún no tienes una cita agendada. ¿Qué día y hora te gustaría hacer la visita?"
	case qualify.ReplyDelayed:
		return "No pude confirmar la disponibilidad, un asesor te contactará en breve."
	default:
		return fmt.Sprintf("¡Gracias por escribir a %s! Un asesor te contactará en breve.", t.business)
	}
}

func (t *TemplateResponder) askMissing(field qualify.Field, name string, props []catalog.Property) string {
	switch field {
	case qualify.FieldName:
		return fmt.Sprintf("¡Hola! Soy SARA, asistente virtual de %s. ¿Con quién tengo el gusto?", t.business)
	case qualify.FieldProperty:
		if len(props) == 0 {
			return fmt.Sprintf("Mucho gusto%s. ¿Qué propiedad te interesa?", greetingName(name))
		}
		names := make([]string, 0, len(props))
		for _, p := range props {
			names = append(names, p.Name)
		}
		return fmt.Sprintf("Mucho gusto%s. ¿Qué propiedad te interesa? Tenemos: %s.", greetingName(name), strings.Join(names, ", "))
	case qualify.FieldFinancing:
		return "¿Piensas comprar de contado o con crédito hipotecario?"
	case qualify.FieldIncome:
		return "Para que un asesor de crédito te apoye, ¿cuál es tu ingreso mensual aproximado? Si tienes deudas o enganche, compártemelos también."
	}
	return "¿Me compartes un poco más de información?"
}

func (t *TemplateResponder) slot(at time.Time) string {
	return notify.FormatSlot(at.In(t.loc))
}

func propertyName(rc ReplyContext) string {
	if rc.Property != nil && rc.Property.Name != "" {
		return rc.Property.Name
	}
	if rc.Lead != nil {
		return rc.Lead.PropertyName
	}
	return ""
}

func greetingName(name string) string {
	if name == "" {
		return ""
	}
	return ", " + name
}

func writeMaps(b *strings.Builder, p *catalog.Property) {
	if p == nil || p.MapsURL == "" {
		return
	}
	fmt.Fprintf(b, "\n📍 %s", p.MapsURL)
}
