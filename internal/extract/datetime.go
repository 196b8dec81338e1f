package extract

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// DefaultPMThreshold is the hour below which a bare clock time ("a las 5")
// is read as afternoon. Viewings skew to the afternoon, but the reading is a
// guess, so every candidate produced this way carries MeridiemAssumed.
const DefaultPMThreshold = 8

// AppointmentCandidate is a resolved date and time for a requested visit.
type AppointmentCandidate struct {
	Start           time.Time `json:"start"`
	Date            string    `json:"date"` // YYYY-MM-DD in the business timezone
	Time            string    `json:"time"` // HH:MM in the business timezone
	RawDateText     string    `json:"raw_date_text"`
	RawTimeText     string    `json:"raw_time_text"`
	MeridiemAssumed bool      `json:"meridiem_assumed"`
	DateConflict    bool      `json:"date_conflict,omitempty"`
}

// Ambiguous reports whether the caller should confirm before committing.
func (c *AppointmentCandidate) Ambiguous() bool {
	return c != nil && (c.MeridiemAssumed || c.DateConflict)
}

// Describe renders the candidate for humans, e.g. "jueves 12/06 a las 17:00".
func (c *AppointmentCandidate) Describe() string {
	if c == nil {
		return ""
	}
	return fmt.Sprintf("%s %s a las %s", weekdayNames[c.Start.Weekday()], c.Start.Format("02/01"), c.Time)
}

var weekdayNames = map[time.Weekday]string{
	time.Sunday:    "domingo",
	time.Monday:    "lunes",
	time.Tuesday:   "martes",
	time.Wednesday: "miércoles",
	time.Thursday:  "jueves",
	time.Friday:    "viernes",
	time.Saturday:  "sábado",
}

var (
	dayAfterTomorrow = regexp.MustCompile(`\bpasado\s+manana\b`)
	today            = regexp.MustCompile(`\bhoy\b`)
	tomorrow         = regexp.MustCompile(`\b(la\s+|pasado\s+)?manana\b`)
	weekdayToken     = regexp.MustCompile(`\b(lunes|martes|miercoles|jueves|viernes|sabado|domingo)\b`)

	clockToken = regexp.MustCompile(`(\ba\s+las?\s+|\blas?\s+)?\b(\d{1,2})(?::([0-5]\d))?(?:\s*(a\.?\s?m\b\.?|p\.?\s?m\b\.?|de\s+la\s+(?:manana|tarde|noche)|del\s+mediodia|hrs?\b|horas\b))?`)
)

var weekdayByName = map[string]time.Weekday{
	"domingo":   time.Sunday,
	"lunes":     time.Monday,
	"martes":    time.Tuesday,
	"miercoles": time.Wednesday,
	"jueves":    time.Thursday,
	"viernes":   time.Friday,
	"sabado":    time.Saturday,
}

// DateTime resolves a relative date and a clock time found in text against
// now, in the business timezone from opts. Both parts are required; nothing
// is defaulted.
func DateTime(text string, now time.Time, opts Options) (*AppointmentCandidate, bool) {
	opts = opts.withDefaults()
	folded := normalize(text)

	offset, rawDate, conflict, ok := resolveDate(folded, now.In(opts.Location))
	if !ok {
		return nil, false
	}
	hour, minute, rawTime, assumed, ok := resolveClock(folded, opts.PMThreshold)
	if !ok {
		return nil, false
	}

	local := now.In(opts.Location)
	y, m, d := local.Date()
	start := time.Date(y, m, d+offset, hour, minute, 0, 0, opts.Location)

	return &AppointmentCandidate{
		Start:           start,
		Date:            start.Format("2006-01-02"),
		Time:            start.Format("15:04"),
		RawDateText:     rawDate,
		RawTimeText:     rawTime,
		MeridiemAssumed: assumed,
		DateConflict:    conflict,
	}, true
}

type dateToken struct {
	pos    int
	offset int
	raw    string
}

// resolveDate returns the day offset from today for the last date token the
// client mentioned, since earlier ones are usually being ruled out ("hoy no
// puedo, mañana"). conflict is set when the tokens name different days.
// "pasado mañana" is not "mañana"; "la mañana" means morning, not tomorrow.
// A weekday that equals today resolves to today.
func resolveDate(folded string, local time.Time) (offset int, raw string, conflict, ok bool) {
	var found []dateToken
	for _, idx := range dayAfterTomorrow.FindAllStringIndex(folded, -1) {
		found = append(found, dateToken{idx[0], 2, folded[idx[0]:idx[1]]})
	}
	for _, idx := range today.FindAllStringIndex(folded, -1) {
		found = append(found, dateToken{idx[0], 0, folded[idx[0]:idx[1]]})
	}
	for _, idx := range tomorrow.FindAllStringSubmatchIndex(folded, -1) {
		if idx[2] < 0 {
			found = append(found, dateToken{idx[0], 1, folded[idx[0]:idx[1]]})
		}
	}
	for _, idx := range weekdayToken.FindAllStringSubmatchIndex(folded, -1) {
		target := weekdayByName[folded[idx[2]:idx[3]]]
		found = append(found, dateToken{idx[0], (int(target) - int(local.Weekday()) + 7) % 7, folded[idx[0]:idx[1]]})
	}
	if len(found) == 0 {
		return 0, "", false, false
	}

	last := found[0]
	for _, tok := range found[1:] {
		if tok.offset != last.offset {
			conflict = true
		}
		if tok.pos > last.pos {
			last = tok
		}
	}
	return last.offset, last.raw, conflict, true
}

// resolveClock finds the first usable clock token. Bare numbers are only
// treated as times when anchored by "a las", a ":MM" part, or a meridiem
// marker, so amounts elsewhere in the message are never read as hours.
func resolveClock(folded string, pmThreshold int) (hour, minute int, raw string, assumed bool, ok bool) {
	for _, idx := range clockToken.FindAllStringSubmatchIndex(folded, -1) {
		start, end := idx[0], idx[1]
		digitsStart, digitsEnd := idx[4], idx[5]
		if digitsStart > 0 && (isDigit(folded[digitsStart-1]) || folded[digitsStart-1] == ',' || folded[digitsStart-1] == '.') {
			continue
		}
		if digitsEnd < len(folded) && (isDigit(folded[digitsEnd]) || (folded[digitsEnd] == ',' && digitsEnd+1 < len(folded) && isDigit(folded[digitsEnd+1]))) {
			continue
		}

		anchor := group(folded, idx, 1)
		minutes := group(folded, idx, 3)
		marker := strings.TrimSpace(group(folded, idx, 4))
		if anchor == "" && minutes == "" && (marker == "" || strings.HasPrefix(marker, "h")) {
			continue
		}
		// "40 mil" style figures never carry an anchor or marker, but "a las 5 mil" is not a time either.
		if thousandWord.MatchString(folded[end:]) || millionWord.MatchString(folded[end:]) {
			continue
		}

		h, err := strconv.Atoi(folded[digitsStart:digitsEnd])
		if err != nil {
			continue
		}
		mnt := 0
		if minutes != "" {
			mnt, _ = strconv.Atoi(minutes)
		}

		switch meridiem(marker) {
		case "am":
			if h < 1 || h > 12 {
				continue
			}
			if h == 12 {
				h = 0
			}
		case "pm":
			if h < 1 || h > 12 {
				continue
			}
			if h != 12 {
				h += 12
			}
		default:
			if h > 23 {
				continue
			}
			if h < pmThreshold && h != 0 {
				h += 12
				assumed = true
			}
		}
		return h, mnt, strings.TrimSpace(folded[start:end]), assumed, true
	}
	return 0, 0, "", false, false
}

func meridiem(marker string) string {
	switch {
	case marker == "":
		return ""
	case strings.HasPrefix(marker, "a"), strings.HasSuffix(marker, "manana"):
		return "am"
	case strings.HasPrefix(marker, "p"), strings.HasSuffix(marker, "tarde"), strings.HasSuffix(marker, "noche"), strings.HasSuffix(marker, "mediodia"):
		return "pm"
	default:
		return ""
	}
}

func group(s string, idx []int, n int) string {
	if idx[2*n] < 0 {
		return ""
	}
	return s[idx[2*n]:idx[2*n+1]]
}
