package extract

import (
	"regexp"
	"strings"
	"time"
	_ "time/tzdata"
)

// Options tunes the extractors. The zero value uses Mexico City time and the
// default PM threshold.
type Options struct {
	Location    *time.Location
	PMThreshold int
	Properties  []PropertyAlias
}

// PropertyAlias lists the names a catalogue property may be called by.
type PropertyAlias struct {
	ID      string
	Aliases []string
}

var defaultLocation = func() *time.Location {
	loc, err := time.LoadLocation("America/Mexico_City")
	if err != nil {
		return time.FixedZone("CST", -6*60*60)
	}
	return loc
}()

func (o Options) withDefaults() Options {
	if o.Location == nil {
		o.Location = defaultLocation
	}
	if o.PMThreshold <= 0 {
		o.PMThreshold = DefaultPMThreshold
	}
	return o
}

// Slots is everything one message says about the fixed slot set.
type Slots struct {
	Name           string
	PropertyID     string
	Income         *float64
	Debt           *float64
	DownPayment    *float64
	HasNoDebt      bool
	NeedsFinancing *bool
	Appointment    *AppointmentCandidate
	WantsCancel    bool
	Confirms       bool
	Declines       bool
	AsksSchedule   bool
}

// Empty reports whether the message carried no slot at all.
func (s Slots) Empty() bool {
	return s.Name == "" && s.PropertyID == "" && s.Income == nil && s.Debt == nil &&
		s.DownPayment == nil && s.NeedsFinancing == nil && s.Appointment == nil &&
		!s.WantsCancel && !s.Confirms && !s.Declines && !s.AsksSchedule
}

// Parse runs every extractor over one inbound message.
func Parse(text string, now time.Time, opts Options) Slots {
	opts = opts.withDefaults()

	debt := Amount(text, Debt)
	slots := Slots{
		Name:           Name(text),
		PropertyID:     MatchProperty(text, opts.Properties),
		Income:         Amount(text, Income).Ptr(),
		Debt:           debt.Ptr(),
		DownPayment:    Amount(text, DownPayment).Ptr(),
		HasNoDebt:      debt.Negated,
		NeedsFinancing: FinancingIntent(text),
		WantsCancel:    WantsCancel(text),
		Confirms:       Confirms(text),
		Declines:       Declines(text),
	}
	if slot, ok := DateTime(text, now, opts); ok {
		slots.Appointment = slot
	}
	slots.AsksSchedule = !slots.WantsCancel && AsksSchedule(text)
	return slots
}

var (
	namePattern = regexp.MustCompile(`(?i)\b(?:soy|me\s+llamo|mi\s+nombre\s+es)\s+([\p{L}]+)(?:\s+([\p{L}]+))?`)
	nameStop    = map[string]bool{
		"de": true, "del": true, "el": true, "la": true, "un": true, "una": true, "y": true, "e": true,
		"con": true, "me": true, "mi": true, "necesito": true, "quiero": true, "tengo": true, "busco": true,
		"interesado": true, "interesada": true, "cliente": true, "yo": true, "muy": true, "nuevo": true,
		"nueva": true, "gano": true, "ya": true, "no": true, "si": true, "estoy": true, "vendedor": true,
		"asesor": true, "asesora": true, "vendedora": true, "casado": true, "casada": true, "soltero": true,
		"soltera": true, "para": true, "por": true, "que": true, "a": true, "en": true,
	}
)

// Name returns the display name introduced with "soy", "me llamo" or
// "mi nombre es", title-cased, or "" when none is given.
func Name(text string) string {
	m := namePattern.FindStringSubmatch(text)
	if m == nil {
		return ""
	}
	first := m[1]
	if nameStop[Fold(first)] {
		return ""
	}
	parts := []string{titleCase(first)}
	if m[2] != "" && !nameStop[Fold(m[2])] {
		parts = append(parts, titleCase(m[2]))
	}
	return strings.Join(parts, " ")
}

func titleCase(word string) string {
	r := []rune(strings.ToLower(word))
	if len(r) == 0 {
		return ""
	}
	r[0] = []rune(strings.ToUpper(string(r[0])))[0]
	return string(r)
}

// MatchProperty returns the ID of the first catalogue property whose alias
// appears in text as whole words, accent-insensitively.
func MatchProperty(text string, props []PropertyAlias) string {
	if len(props) == 0 {
		return ""
	}
	padded := " " + wordsOnly(normalize(text)) + " "
	for _, p := range props {
		for _, alias := range p.Aliases {
			a := wordsOnly(normalize(alias))
			if a == "" {
				continue
			}
			if strings.Contains(padded, " "+a+" ") {
				return p.ID
			}
		}
	}
	return ""
}

var nonWord = regexp.MustCompile(`[^\p{L}\p{N}]+`)

func wordsOnly(s string) string {
	return strings.TrimSpace(nonWord.ReplaceAllString(s, " "))
}
