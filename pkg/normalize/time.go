package normalize

import (
	"fmt"
	"regexp"
	"strconv"
)

// TimeTBD is the stored marker for events with an unknown start time.
// Never fabricate a midday default; downstream consumers render it as
// "time to be announced".
const TimeTBD = "TBD"

// timePatterns is the extraction ladder, most to least specific. Each
// pattern captures hour and minute; minute may be an empty group.
var timePatterns = []*regexp.Regexp{
	// "aanvang 20:30", "aanvang: 20.30"
	regexp.MustCompile(`(?i)aanvang:?\s*(\d{1,2})[:.](\d{2})`),
	// "vanaf 19:00"
	regexp.MustCompile(`(?i)vanaf\s*(\d{1,2})[:.](\d{2})`),
	// "doors open 19:30", "deuren open 19:30"
	regexp.MustCompile(`(?i)(?:doors|deuren)\s+open:?\s*(\d{1,2})[:.](\d{2})`),
	// "starts at 8:00"
	regexp.MustCompile(`(?i)starts?\s+at\s*(\d{1,2})[:.](\d{2})`),
	// "om 20:15"
	regexp.MustCompile(`(?i)\bom\s+(\d{1,2})[:.](\d{2})`),
	// "20:30 uur", "20.30 uhr"
	regexp.MustCompile(`(?i)(\d{1,2})[:.](\d{2})\s*(?:uur|uhr)`),
	// "20 uur" without minutes
	regexp.MustCompile(`(?i)\b(\d{1,2})\s*(?:uur|uhr)\b()`),
	// range "20:00 - 23:00": start wins
	regexp.MustCompile(`(\d{1,2})[:.](\d{2})\s*[-–—]\s*\d{1,2}[:.]\d{2}`),
	// bare "20:30"
	regexp.MustCompile(`\b(\d{1,2})[:.](\d{2})\b`),
}

// isoClockRe captures the clock component of an ISO-8601 datetime like
// "2026-04-12T20:00:00+02:00".
var isoClockRe = regexp.MustCompile(`\d{4}-\d{2}-\d{2}[T ](\d{2}):(\d{2})`)

// ClockFromISO returns the HH:MM component of an ISO datetime, or ""
// when the value is date-only or not ISO at all. A midnight clock counts
// as date-only: feeds and structured data emit T00:00:00 for events
// whose start time is not announced.
func ClockFromISO(raw string) string {
	m := isoClockRe.FindStringSubmatch(raw)
	if m == nil {
		return ""
	}
	hour, _ := strconv.Atoi(m[1])
	minute, _ := strconv.Atoi(m[2])
	if hour == 0 && minute == 0 {
		return ""
	}
	if hour > 23 || minute > 59 {
		return ""
	}
	return fmt.Sprintf("%02d:%02d", hour, minute)
}

// ExtractTime runs the regex ladder over the given texts (card HTML,
// description, raw time field) and returns a 24-hour HH:MM, or TBD when
// nothing parses. "24:00" and other impossible clock values are invalid.
func ExtractTime(texts ...string) string {
	for _, pattern := range timePatterns {
		for _, text := range texts {
			if text == "" {
				continue
			}
			m := pattern.FindStringSubmatch(text)
			if m == nil {
				continue
			}
			hour, _ := strconv.Atoi(m[1])
			minute := 0
			if len(m) > 2 && m[2] != "" {
				minute, _ = strconv.Atoi(m[2])
			}
			if hour > 23 || minute > 59 {
				continue
			}
			return fmt.Sprintf("%02d:%02d", hour, minute)
		}
	}
	return TimeTBD
}
