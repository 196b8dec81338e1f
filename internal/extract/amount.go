package extract

import (
	"regexp"
	"strconv"
	"strings"
)

// Concept selects which financial figure Amount looks for.
type Concept int

const (
	Income Concept = iota
	Debt
	DownPayment
)

func (c Concept) String() string {
	switch c {
	case Income:
		return "income"
	case Debt:
		return "debt"
	case DownPayment:
		return "down_payment"
	default:
		return "unknown"
	}
}

// AmountResult is the outcome of one extraction. Found=false means the text
// says nothing about the concept, which is not the same as zero.
type AmountResult struct {
	Value   float64
	Found   bool
	Negated bool
}

// Ptr returns the value as a pointer, nil when nothing was found.
func (r AmountResult) Ptr() *float64 {
	if !r.Found {
		return nil
	}
	v := r.Value
	return &v
}

// amountWindow bounds how far past a keyword a figure may appear.
const amountWindow = 40

type conceptRules struct {
	keyword    *regexp.Regexp
	negations  []*regexp.Regexp
	bareSuffix *regexp.Regexp // keywords allowed right after a figure with no connector
}

const numberPattern = `\d{1,3}(?:,\d{3})+(?:\.\d+)?|\d+(?:\.\d+)?`

var (
	numberLiteral = regexp.MustCompile(numberPattern)
	wordAmount    = regexp.MustCompile(`\b(un|medio)\s+millon\b`)
	millionWord   = regexp.MustCompile(`^\s*(?:millones|millon|mdp)\b`)
	thousandWord  = regexp.MustCompile(`^\s*(?:mil|k)\b`)
	clauseBreak   = regexp.MustCompile(`[;\n!?]|[,.](?:\s|$)`)
	timeSuffix    = regexp.MustCompile(`^(?::\d{2}|\s*(?:a\.?\s?m\b|p\.?\s?m\b|hrs?\b|horas\b))`)
	timePrefix    = regexp.MustCompile(`\blas?\s*$`)

	// "<figure> [magnitude] [pesos] de <keyword>", anchored to the keyword.
	connectorForm = regexp.MustCompile(`(` + numberPattern + `)\s*(millones|millon|mdp|mil|k)?\s*(?:pesos\s+)?(?:de|para(?:\s+el)?|en|como)\s+(?:mis?\s+|el\s+|la\s+|los\s+|las\s+)?$`)
	bareForm      = regexp.MustCompile(`(` + numberPattern + `)\s*(millones|millon|mdp|mil|k)?\s*(?:pesos\s+)?$`)
)

var rules = map[Concept]conceptRules{
	Income: {
		keyword: regexp.MustCompile(`\b(?:gano|ganamos|ganando|ingresos?|sueldo|salario|percibo|cobro)\b`),
		negations: []*regexp.Regexp{
			regexp.MustCompile(`\b(?:no|sin|cero)\s+(?:tengo\s+)?(?:ningun\s+)?(?:ingresos?|sueldo|salario)\b`),
			regexp.MustCompile(`\bno\s+(?:estoy\s+)?trabaj(?:o|ando)\b`),
		},
	},
	Debt: {
		keyword: regexp.MustCompile(`\b(?:deudas?|adeudos?|debo|debemos)\b`),
		negations: []*regexp.Regexp{
			regexp.MustCompile(`\b(?:no|sin|cero|nada\s+de)\s+(?:tengo\s+|tenemos\s+)?(?:ningun[oa]?\s+)?(?:deudas?|adeudos?)\b`),
			regexp.MustCompile(`\bno\s+(?:le\s+)?debo\b`),
			regexp.MustCompile(`\b(?:deudas?|adeudos?)\s*:?\s*(?:ninguna?|nada|cero)\b`),
			regexp.MustCompile(`\blibres?\s+de\s+deudas?\b`),
		},
	},
	DownPayment: {
		keyword: regexp.MustCompile(`\b(?:enganche|ahorros?|ahorrad[oa]s?)\b`),
		negations: []*regexp.Regexp{
			regexp.MustCompile(`\b(?:no|sin|cero)\s+(?:tengo\s+|tenemos\s+)?(?:nada\s+de\s+|ningun\s+)?(?:enganche|ahorros?)\b`),
			regexp.MustCompile(`\b(?:enganche|ahorros?)\s*:?\s*(?:ninguno|nada|cero)\b`),
			regexp.MustCompile(`\bno\s+tengo\s+(?:nada\s+)?ahorrado\b`),
		},
		bareSuffix: regexp.MustCompile(`^ahorrad[oa]s?`),
	},
}

// Amount extracts the figure for concept c from free text.
//
// Precedence is fixed: an explicit negation ("no tengo deudas") resolves to
// zero before any number is looked at; otherwise the first figure anchored to
// a keyword wins, either adjacent before it ("200 mil de enganche") or inside
// a short clause-bounded window after it ("gano 40 mil"). Magnitude words are
// tested million-family first.
func Amount(text string, c Concept) AmountResult {
	r, ok := rules[c]
	if !ok {
		return AmountResult{}
	}
	folded := normalize(text)

	for _, neg := range r.negations {
		if neg.MatchString(folded) {
			return AmountResult{Value: 0, Found: true, Negated: true}
		}
	}

	for _, loc := range r.keyword.FindAllStringIndex(folded, -1) {
		if v, ok := figureBefore(folded[:loc[0]], folded[loc[0]:loc[1]], r); ok {
			return AmountResult{Value: v, Found: true}
		}
		if v, ok := figureAfter(folded[loc[1]:]); ok {
			return AmountResult{Value: v, Found: true}
		}
	}
	return AmountResult{}
}

func figureBefore(prefix, keyword string, r conceptRules) (float64, bool) {
	if m := connectorForm.FindStringSubmatch(prefix); m != nil {
		return scale(m[1], m[2])
	}
	if r.bareSuffix != nil && r.bareSuffix.MatchString(keyword) {
		if m := bareForm.FindStringSubmatch(prefix); m != nil {
			return scale(m[1], m[2])
		}
	}
	return 0, false
}

// literalEnd moves cut past the rest of a number literal that starts before
// it, so the window never splits digits.
func literalEnd(s string, cut int) int {
	if cut == 0 || !isDigit(s[cut-1]) {
		return cut
	}
	for cut < len(s) {
		switch {
		case isDigit(s[cut]):
			cut++
		case (s[cut] == ',' || s[cut] == '.') && cut+1 < len(s) && isDigit(s[cut+1]):
			cut += 2
		default:
			return cut
		}
	}
	return cut
}

func figureAfter(rest string) (float64, bool) {
	window := rest
	if len(window) > amountWindow {
		window = window[:literalEnd(rest, amountWindow)]
	}
	if loc := clauseBreak.FindStringIndex(window); loc != nil {
		window = window[:loc[0]]
	}

	best := -1
	var value float64
	for _, loc := range numberLiteral.FindAllStringIndex(window, -1) {
		start, end := loc[0], loc[1]
		if start > 0 && isDigit(window[start-1]) {
			continue
		}
		// "a las 10am" is a clock time, not a figure.
		if timeSuffix.MatchString(window[end:]) || timePrefix.MatchString(window[:start]) {
			continue
		}
		v, ok := scale(window[start:end], magnitude(rest[end:]))
		if !ok {
			continue
		}
		best, value = start, v
		break
	}
	if m := wordAmount.FindStringSubmatchIndex(window); m != nil && (best < 0 || m[0] < best) {
		if window[m[2]:m[3]] == "medio" {
			return 500_000, true
		}
		return 1_000_000, true
	}
	if best < 0 {
		return 0, false
	}
	return value, true
}

// magnitude reads the magnitude word right after a literal. Million-family
// words are checked first.
func magnitude(after string) string {
	if m := millionWord.FindString(after); m != "" {
		return strings.TrimSpace(m)
	}
	if m := thousandWord.FindString(after); m != "" {
		return strings.TrimSpace(m)
	}
	return ""
}

func scale(literal, mag string) (float64, bool) {
	v, err := strconv.ParseFloat(strings.ReplaceAll(literal, ",", ""), 64)
	if err != nil || v < 0 {
		return 0, false
	}
	switch mag {
	case "millones", "millon", "mdp":
		v *= 1_000_000
	case "mil", "k":
		v *= 1_000
	}
	return v, true
}

func isDigit(b byte) bool {
	return b >= '0' && b <= '9'
}
