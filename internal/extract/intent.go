package extract

import (
	"regexp"
	"strings"
)

var (
	cashIntent = []*regexp.Regexp{
		regexp.MustCompile(`\b(?:de\s+)?contado\b`),
		regexp.MustCompile(`\befectivo\b`),
		regexp.MustCompile(`\brecursos\s+propios\b`),
		regexp.MustCompile(`\b(?:no|sin)\s+(?:necesito|necesitamos|quiero|queremos|requiero|ocupo)?\s*(?:un\s+|ningun\s+)?(?:credito|financiamiento|hipoteca|prestamo)\b`),
	}
	creditIntent = []*regexp.Regexp{
		regexp.MustCompile(`\b(?:si|necesito|necesitamos|quiero|queremos|requiero|ocupo|me\s+interesa|busco|con|solicitar|tramitar)\b.*\b(?:credito|hipoteca|financiamiento|prestamo)\b`),
		regexp.MustCompile(`\b(?:infonavit|fovissste|cofinavit|hipotecario|bancario)\b`),
		regexp.MustCompile(`\b(?:ya\s+tengo|tengo\s+aprobado|cuento\s+con|me\s+aprobaron)\b.*\b(?:credito|hipoteca|financiamiento|prestamo)\b`),
	}

	cancelVerb   = regexp.MustCompile(`\b(?:cancelar|cancela|cancelo|cancelen|cancelame|cancelalo|cancelala|anular|anula|anulen)\b`)
	cancelObject = regexp.MustCompile(`\b(?:cita|visita|recorrido)\b`)
	scheduleAsk  = regexp.MustCompile(`\b(?:mi\s+cita|mi\s+visita|cuando\s+es\s+(?:la|mi)\s+(?:cita|visita)|a\s+que\s+hora\s+es\s+(?:la|mi)\s+(?:cita|visita))\b`)
)

// yesWords are replies accepted as confirming a pending question.
var yesWords = map[string]bool{
	"si": true, "see": true, "sep": true, "ok": true, "oc": true, "okey": true, "okay": true,
	"dale": true, "va": true, "confirmo": true, "perfecto": true, "exacto": true, "correcto": true,
	"simon": true, "sisas": true, "claro": true, "adelante": true, "vale": true, "afirmativo": true,
	"esta bien": true, "de acuerdo": true, "me parece": true, "asi es": true,
}

var noWords = map[string]bool{
	"no": true, "nel": true, "nop": true, "negativo": true, "mejor no": true, "no gracias": true,
}

// FinancingIntent returns true for credit, false for cash, nil when the text
// says neither. Cash patterns are checked first so "no necesito crédito" is
// not read as a credit request.
func FinancingIntent(text string) *bool {
	folded := normalize(text)
	for _, re := range cashIntent {
		if re.MatchString(folded) {
			v := false
			return &v
		}
	}
	for _, re := range creditIntent {
		if re.MatchString(folded) {
			v := true
			return &v
		}
	}
	return nil
}

// WantsCancel reports a request to cancel a visit.
func WantsCancel(text string) bool {
	folded := normalize(text)
	return cancelVerb.MatchString(folded) && cancelObject.MatchString(folded)
}

// AsksSchedule reports a question about the lead's own appointment.
func AsksSchedule(text string) bool {
	return scheduleAsk.MatchString(normalize(text))
}

// Confirms reports whether the message opens with an affirmative reply.
func Confirms(text string) bool {
	return leadingPhraseIn(text, yesWords)
}

// Declines reports whether the message opens with a negative reply.
func Declines(text string) bool {
	return leadingPhraseIn(text, noWords)
}

var fillerWords = map[string]bool{
	"gracias": true, "muchas": true, "por": true, "favor": true, "porfa": true, "senorita": true,
	"sara": true, "esta": true, "bien": true, "perfecto": true, "entonces": true, "claro": true,
	"asi": true, "es": true, "si": true, "ok": true,
}

// leadingPhraseIn matches a reply that opens with a phrase from set and is
// either bare ("sí gracias") or sets the phrase off with punctuation
// ("sí, a las 5"). "no tengo deudas" is therefore not a refusal.
func leadingPhraseIn(text string, set map[string]bool) bool {
	folded := normalize(text)
	words := strings.Fields(wordsOnly(folded))
	if len(words) == 0 {
		return false
	}
	phrase, n := "", 0
	switch {
	case len(words) >= 2 && set[words[0]+" "+words[1]]:
		phrase, n = words[0]+" "+words[1], 2
	case set[words[0]]:
		phrase, n = words[0], 1
	default:
		return false
	}
	bare := true
	for _, w := range words[n:] {
		if !fillerWords[w] {
			bare = false
			break
		}
	}
	if bare {
		return true
	}
	rest := strings.TrimPrefix(strings.TrimLeft(folded, "¡¿ "), phrase)
	return strings.HasPrefix(rest, ",") || strings.HasPrefix(rest, ".") || strings.HasPrefix(rest, "!")
}
