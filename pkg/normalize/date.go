package normalize

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// monthNames maps Dutch, English, and German month names and their
// three-letter abbreviations to month numbers.
var monthNames = map[string]time.Month{
	// Dutch
	"januari": 1, "februari": 2, "maart": 3, "april": 4, "mei": 5,
	"juni": 6, "juli": 7, "augustus": 8, "september": 9, "oktober": 10,
	"november": 11, "december": 12,
	"jan": 1, "feb": 2, "mrt": 3, "apr": 4, "jun": 6, "jul": 7,
	"aug": 8, "sep": 9, "sept": 9, "okt": 10, "nov": 11, "dec": 12,
	// English
	"january": 1, "february": 2, "march": 3, "may": 5, "june": 6,
	"july": 7, "august": 8, "october": 10,
	"mar": 3, "oct": 10,
	// German (juni, juli, august, september, november match Dutch)
	"januar": 1, "februar": 2, "märz": 3, "marz": 3,
	"dezember": 12, "dez": 12, "mai": 5,
}

// weekdayPrefixes are stripped before parsing: "za 12 april" → "12 april".
var weekdayPrefixes = []string{
	"maandag", "dinsdag", "woensdag", "donderdag", "vrijdag", "zaterdag", "zondag",
	"monday", "tuesday", "wednesday", "thursday", "friday", "saturday", "sunday",
	"montag", "dienstag", "mittwoch", "donnerstag", "freitag", "samstag", "sonntag",
	"ma", "di", "wo", "do", "vr", "za", "zo",
	"mon", "tue", "wed", "thu", "fri", "sat", "sun",
}

var (
	isoRe      = regexp.MustCompile(`(\d{4})-(\d{2})-(\d{2})`)
	europeanRe = regexp.MustCompile(`\b(\d{1,2})[/\-.](\d{1,2})[/\-.](\d{4})\b`)
	textualRe  = regexp.MustCompile(`\b(\d{1,2})\s+([\p{L}]+)\.?\s*(\d{4})?\b`)
)

// relativeDays maps relative keywords to day offsets.
var relativeDays = map[string]int{
	"vandaag": 0, "today": 0, "heute": 0,
	"morgen": 1, "tomorrow": 1,
	"overmorgen": 2, "day after tomorrow": 2, "übermorgen": 2,
}

// ParseDate normalizes a raw date string to YYYY-MM-DD. now anchors
// relative keywords and supplies the year for year-less forms. Dates whose
// year is outside years are rejected; an empty years set means
// [current, current+1]. Returns "" when no valid date is found —
// impossible calendar dates like "31 februari" included.
func ParseDate(raw string, now time.Time, years map[int]bool) string {
	s := strings.ToLower(strings.TrimSpace(raw))
	if s == "" {
		return ""
	}
	if len(years) == 0 {
		years = map[int]bool{now.Year(): true, now.Year() + 1: true}
	}

	// Relative keywords, longest match first.
	for kw, offset := range relativeDays {
		if strings.Contains(s, kw) {
			// "morgen" is a substring of "overmorgen" and of the German
			// word for morning; prefer the longer keyword.
			if kw == "morgen" && strings.Contains(s, "overmorgen") {
				continue
			}
			d := now.AddDate(0, 0, offset)
			return d.Format("2006-01-02")
		}
	}

	s = stripWeekday(s)

	if m := isoRe.FindStringSubmatch(s); m != nil {
		return buildDate(atoi(m[1]), atoi(m[2]), atoi(m[3]), years)
	}
	if m := europeanRe.FindStringSubmatch(s); m != nil {
		// Day first; continental convention.
		return buildDate(atoi(m[3]), atoi(m[2]), atoi(m[1]), years)
	}
	if m := textualRe.FindStringSubmatch(s); m != nil {
		month, ok := monthNames[strings.TrimSuffix(m[2], ".")]
		if !ok {
			return ""
		}
		year := now.Year()
		if m[3] != "" {
			year = atoi(m[3])
		} else if time.Month(month) < now.Month() {
			// Year-less date before the current month rolls forward.
			year++
		}
		return buildDate(year, int(month), atoi(m[1]), years)
	}
	return ""
}

// buildDate validates the calendar triple and the year window. Round-trip
// formatting catches impossible dates: time.Date normalizes "31 February"
// to March, which no longer matches.
func buildDate(year, month, day int, years map[int]bool) string {
	if !years[year] || month < 1 || month > 12 || day < 1 || day > 31 {
		return ""
	}
	d := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	formatted := d.Format("2006-01-02")
	if formatted != fmt.Sprintf("%04d-%02d-%02d", year, month, day) {
		return ""
	}
	return formatted
}

func stripWeekday(s string) string {
	for _, wd := range weekdayPrefixes {
		for _, sep := range []string{" ", ". ", ", "} {
			if strings.HasPrefix(s, wd+sep) {
				return strings.TrimSpace(s[len(wd)+len(sep):])
			}
		}
	}
	return s
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

// AssembleTimestamp builds the stored UTC timestamp preserving wall-clock
// time: date and time are interpreted as UTC regardless of the venue's
// zone, so DST never shifts the displayed hour. TBD times yield midnight
// with known=false.
func AssembleTimestamp(date, eventTime string) (ts time.Time, known bool, err error) {
	d, err := time.Parse("2006-01-02", date)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("invalid event date %q: %w", date, err)
	}
	if eventTime == "" || eventTime == TimeTBD {
		return d, false, nil
	}
	t, err := time.Parse("15:04", eventTime)
	if err != nil {
		return d, false, nil
	}
	return time.Date(d.Year(), d.Month(), d.Day(), t.Hour(), t.Minute(), 0, 0, time.UTC), true, nil
}
