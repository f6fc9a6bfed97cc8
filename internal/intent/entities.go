package intent

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Entities holds whatever ExtractEntities could find. Empty fields mean "not mentioned".
type Entities struct {
	Date    string `json:"date,omitempty"` // 2006-01-02
	Time    string `json:"time,omitempty"` // 15:04
	Ordinal int    `json:"ordinal,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

// Empty reports whether nothing was extracted.
func (e Entities) Empty() bool {
	return e == Entities{}
}

var (
	absoluteDateRe = regexp.MustCompile(`\b(\d{1,2})[/-](\d{1,2})(?:[/-](\d{4}|\d{2}))?\b`)
	clockTimeRe    = regexp.MustCompile(`\b(\d{1,2}):(\d{2})\s*(am|pm)?\b`)
	meridiemTimeRe = regexp.MustCompile(`\b(\d{1,2})\s*(am|pm)\b`)
	atHourRe       = regexp.MustCompile(`\bat\s+(\d{1,2})\b`)
	ordinalWordRe  = regexp.MustCompile(`\b(first|second|third|fourth|fifth)\s+(?:appointment|one)\b`)
	ordinalNumRe   = regexp.MustCompile(`\bappointment\s*(?:#|number\s*|no\.?\s*)?(\d{1,2})\b`)
	reasonRe       = regexp.MustCompile(`(?i)(?:\bbecause\b|\breason is\b|\breason:)\s*(.+)$`)
)

var ordinalWords = map[string]int{"first": 1, "second": 2, "third": 3, "fourth": 4, "fifth": 5}

// ExtractEntities pulls a date, time, appointment ordinal and reason out of
// text. Relative dates are resolved against now in now's location. It never
// fails: anything that does not parse is left empty.
func ExtractEntities(text string, now time.Time) Entities {
	var out Entities
	lower := strings.ToLower(text)

	out.Date = extractDate(lower, now)
	out.Time = extractTime(lower)
	out.Ordinal = extractOrdinal(lower)
	if m := reasonRe.FindStringSubmatch(text); m != nil {
		out.Reason = strings.TrimSpace(strings.TrimRight(m[1], " .!"))
	}
	return out
}

func extractDate(lower string, now time.Time) string {
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	switch {
	case strings.Contains(lower, "day after tomorrow"):
		return today.AddDate(0, 0, 2).Format("2006-01-02")
	case strings.Contains(lower, "tomorrow"):
		return today.AddDate(0, 0, 1).Format("2006-01-02")
	case strings.Contains(lower, "today"):
		return today.Format("2006-01-02")
	}

	for _, m := range absoluteDateRe.FindAllStringSubmatch(lower, -1) {
		day, _ := strconv.Atoi(m[1])
		month, _ := strconv.Atoi(m[2])
		year := now.Year()
		explicitYear := m[3] != ""
		if explicitYear {
			year, _ = strconv.Atoi(m[3])
			if len(m[3]) == 2 {
				year += 2000
			}
		}
		d, ok := calendarDate(year, month, day, now.Location())
		if !ok {
			continue
		}
		// A yearless date that already passed means next year's.
		if !explicitYear && d.Before(today) {
			if next, ok := calendarDate(year+1, month, day, now.Location()); ok {
				d = next
			}
		}
		return d.Format("2006-01-02")
	}
	return ""
}

func calendarDate(year, month, day int, loc *time.Location) (time.Time, bool) {
	if month < 1 || month > 12 || day < 1 || day > 31 {
		return time.Time{}, false
	}
	d := time.Date(year, time.Month(month), day, 0, 0, 0, 0, loc)
	if d.Day() != day || int(d.Month()) != month {
		return time.Time{}, false
	}
	return d, true
}

func extractTime(lower string) string {
	if m := clockTimeRe.FindStringSubmatch(lower); m != nil {
		h, _ := strconv.Atoi(m[1])
		minute, _ := strconv.Atoi(m[2])
		if m[3] != "" {
			var ok bool
			if h, ok = to24Hour(h, m[3]); !ok {
				return ""
			}
		}
		if h > 23 || minute > 59 {
			return ""
		}
		return formatClock(h, minute)
	}
	if m := meridiemTimeRe.FindStringSubmatch(lower); m != nil {
		h, _ := strconv.Atoi(m[1])
		if h, ok := to24Hour(h, m[2]); ok {
			return formatClock(h, 0)
		}
		return ""
	}
	if m := atHourRe.FindStringSubmatch(lower); m != nil {
		h, _ := strconv.Atoi(m[1])
		if h <= 23 {
			return formatClock(h, 0)
		}
	}
	return ""
}

// to24Hour converts a 12-hour clock value: 12am is midnight, 12pm stays noon.
func to24Hour(h int, meridiem string) (int, bool) {
	if h < 1 || h > 12 {
		return 0, false
	}
	switch meridiem {
	case "am":
		if h == 12 {
			return 0, true
		}
		return h, true
	case "pm":
		if h == 12 {
			return 12, true
		}
		return h + 12, true
	}
	return h, true
}

func formatClock(h, m int) string {
	return time.Date(2000, 1, 1, h, m, 0, 0, time.UTC).Format("15:04")
}

func extractOrdinal(lower string) int {
	if m := ordinalWordRe.FindStringSubmatch(lower); m != nil {
		return ordinalWords[m[1]]
	}
	if m := ordinalNumRe.FindStringSubmatch(lower); m != nil {
		n, _ := strconv.Atoi(m[1])
		if n > 0 {
			return n
		}
	}
	return 0
}
