package enrich

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// normalizeKey lowercases, strips diacritics, maps punctuation to spaces,
// and collapses whitespace, so "Café Olofspoort," and "cafe olofspoort"
// share a cache entry.
func normalizeKey(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	stripped, _, err := transform.String(t, strings.ToLower(s))
	if err != nil {
		stripped = strings.ToLower(s)
	}

	var b strings.Builder
	for _, r := range stripped {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		default:
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// cacheKeys returns the lookup variants for a venue query, most to least
// specific: venue+city+country, venue+country, city+country, and the
// city-stripped venue name ("Stadhuis Haarlem" → "stadhuis" when city is
// Haarlem), which catches venues that embed their city in the name.
func cacheKeys(venue, city, country string) []string {
	v := normalizeKey(venue)
	c := normalizeKey(city)
	co := normalizeKey(country)

	var keys []string
	add := func(parts ...string) {
		joined := strings.Join(nonEmpty(parts), "|")
		if joined == "" {
			return
		}
		for _, k := range keys {
			if k == joined {
				return
			}
		}
		keys = append(keys, joined)
	}

	add(v, c, co)
	add(v, co)
	add(c, co)

	if v != "" && c != "" && strings.Contains(v, c) {
		stripped := strings.Join(strings.Fields(strings.ReplaceAll(v, c, " ")), " ")
		if stripped != "" {
			add(stripped, c, co)
		}
	}
	return keys
}

func nonEmpty(parts []string) []string {
	out := parts[:0]
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
