package notify

import (
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/wolfman30/sara-leads/internal/events"
)

var moneyPrinter = message.NewPrinter(language.MustParse("es-MX"))

var (
	weekdays = [...]string{"domingo", "lunes", "martes", "miércoles", "jueves", "viernes", "sábado"}
	months   = [...]string{"enero", "febrero", "marzo", "abril", "mayo", "junio", "julio", "agosto", "septiembre", "octubre", "noviembre", "diciembre"}
)

// FormatSlot renders t the way clients read dates: "miércoles 11 de junio, 10:00".
func FormatSlot(t time.Time) string {
	return fmt.Sprintf("%s %d de %s, %s", weekdays[t.Weekday()], t.Day(), months[t.Month()-1], t.Format("15:04"))
}

// FormatMoney renders whole pesos with thousands separators.
func FormatMoney(v float64) string {
	return moneyPrinter.Sprintf("$%.0f", v)
}

func slotText(a *events.AppointmentSnapshot) string {
	if a == nil {
		return ""
	}
	if a.Label != "" {
		return a.Label
	}
	if !a.StartsAt.IsZero() {
		return FormatSlot(a.StartsAt)
	}
	return strings.TrimSpace(a.Date + " " + a.Time)
}

func temperatureLabel(t string) string {
	switch t {
	case "HOT":
		return "🔥 HOT"
	case "WARM":
		return "🟡 WARM"
	default:
		return "❄️ COLD"
	}
}

func writeLocation(b *strings.Builder, p events.PropertySnapshot) {
	if p.MapsURL != "" {
		fmt.Fprintf(b, "📍 Ubicación: %s\n", p.MapsURL)
	}
	if p.WebsiteURL != "" {
		fmt.Fprintf(b, "🌐 %s\n", p.WebsiteURL)
	}
}

func writeFigures(b *strings.Builder, l events.LeadSnapshot, labels [3]string) {
	if l.MonthlyIncome == nil && l.CurrentDebt == nil && l.DownPayment == nil {
		return
	}
	b.WriteString("\n💰 *DATOS FINANCIEROS:*\n")
	if l.MonthlyIncome != nil {
		fmt.Fprintf(b, "• %s: %s\n", labels[0], FormatMoney(*l.MonthlyIncome))
	}
	if l.CurrentDebt != nil {
		fmt.Fprintf(b, "• %s: %s\n", labels[1], FormatMoney(*l.CurrentDebt))
	}
	if l.DownPayment != nil {
		fmt.Fprintf(b, "• %s: %s\n", labels[2], FormatMoney(*l.DownPayment))
	}
}

func displayName(l events.LeadSnapshot) string {
	if l.Name == "" {
		return "Cliente"
	}
	return l.Name
}

// Render returns the WhatsApp text for role, and an email subject for team
// failover.
func Render(evt events.Event, role events.Role) (subject, body string) {
	switch evt.Kind {
	case events.KindAppointmentCancelled:
		return renderCancelled(evt, role)
	default:
		return renderQualified(evt, role)
	}
}

func renderQualified(evt events.Event, role events.Role) (string, string) {
	var b strings.Builder
	name := displayName(evt.Lead)
	appt := evt.Appointment

	switch role {
	case events.RoleClient:
		b.WriteString("✅ *¡Tu cita quedó agendada!*\n\n")
		fmt.Fprintf(&b, "🏠 %s\n", evt.Property.Name)
		if appt != nil {
			fmt.Fprintf(&b, "📅 %s\n", slotText(appt))
		}
		if evt.Vendor != nil && evt.Vendor.Name != "" {
			fmt.Fprintf(&b, "👤 Te atiende: %s\n", evt.Vendor.Name)
		}
		writeLocation(&b, evt.Property)
		if appt != nil && appt.Unverified {
			b.WriteString("\nNo pude confirmar la disponibilidad, un asesor te contactará en breve.")
		} else {
			b.WriteString("\n¡Te esperamos!")
		}
		return "Cita agendada", strings.TrimRight(b.String(), "\n")

	case events.RoleAdvisor:
		b.WriteString("🏦 *APOYO CRÉDITO - Cliente necesita financiamiento*\n\n")
		fmt.Fprintf(&b, "👤 Cliente: %s\n📱 Teléfono: %s\n🏠 Propiedad: %s\n", name, evt.Lead.Phone, evt.Property.Name)
		writeLocation(&b, evt.Property)
		writeFigures(&b, evt.Lead, [3]string{"Ingreso mensual", "Deudas actuales", "Enganche disponible"})
		if appt != nil {
			fmt.Fprintf(&b, "\n📅 CITA CON VENDEDOR: %s\n", slotText(appt))
		}
		b.WriteString("\n📞 Coordina con el vendedor para apoyar con el tema de crédito")
		return fmt.Sprintf("Apoyo crédito: %s", name), b.String()

	default:
		if appt != nil {
			b.WriteString("✅ *CITA CONFIRMADA*\n\n")
		} else {
			b.WriteString("🆕 *NUEVO LEAD*\n\n")
		}
		fmt.Fprintf(&b, "🌡️ Temperatura: %s (%d)\n", temperatureLabel(evt.Lead.Temperature), evt.Lead.Score)
		fmt.Fprintf(&b, "👤 %s\n📱 %s\n🏠 %s\n", name, evt.Lead.Phone, evt.Property.Name)
		writeLocation(&b, evt.Property)
		writeFigures(&b, evt.Lead, [3]string{"Ingreso", "Deudas", "Enganche"})
		if appt != nil {
			fmt.Fprintf(&b, "\n📅 CITA: %s\n", slotText(appt))
			if appt.Unverified {
				b.WriteString("⚠️ Disponibilidad sin verificar, confirma con el cliente\n")
			}
		}
		if evt.Lead.Credit() {
			b.WriteString("\n🏦 Cliente requiere financiamiento")
			if evt.Advisor != nil && evt.Advisor.Name != "" {
				fmt.Fprintf(&b, "\n💼 Asesor de apoyo: %s", evt.Advisor.Name)
			}
		} else {
			b.WriteString("\n💵 Pago de contado")
		}
		return fmt.Sprintf("Nuevo lead: %s", name), b.String()
	}
}

func renderCancelled(evt events.Event, role events.Role) (string, string) {
	var b strings.Builder
	b.WriteString("❌ *CITA CANCELADA*\n\n")

	if role == events.RoleClient {
		fmt.Fprintf(&b, "🏠 %s\n📅 %s\n\n", evt.Property.Name, slotText(evt.Appointment))
		if evt.CancelledBy != "" {
			b.WriteString("Tu cita fue cancelada por el equipo. ¿Quieres reagendar?")
		} else {
			b.WriteString("Listo, cancelé tu cita. Cuando quieras reagendar dime qué día te acomoda.")
		}
		if evt.Property.MapsURL != "" {
			fmt.Fprintf(&b, "\n\n📍 Ubicación: %s", evt.Property.MapsURL)
		}
		return "Cita cancelada", b.String()
	}

	fmt.Fprintf(&b, "👤 %s (%s)\n🏠 %s\n📅 %s\n\n", displayName(evt.Lead), evt.Lead.Phone, evt.Property.Name, slotText(evt.Appointment))
	if evt.CancelledBy != "" {
		fmt.Fprintf(&b, "*Cancelada por %s*", evt.CancelledBy)
	} else {
		b.WriteString("*El cliente canceló*")
	}
	return fmt.Sprintf("Cita cancelada: %s", displayName(evt.Lead)), b.String()
}
