package normalize

import (
	"regexp"
	"strings"
)

// listingHeadingRe matches listing-page headings that extraction sometimes
// mistakes for events: "Concerten in Amsterdam", "Events in Utrecht",
// "Agenda voor Rotterdam", "What's on in Leiden".
var listingHeadingRe = regexp.MustCompile(
	`(?i)^(evenementen|events|concerten|concerts|agenda|activiteiten|uitagenda|what'?s on)\b.*\b(in|voor|rond|bij|near)\s+\p{Lu}`)

// navTitleRe matches navigation and chrome text.
var navTitleRe = regexp.MustCompile(
	`(?i)^(home|menu|contact|over ons|about|login|inloggen|zoeken|search|cookies?|privacy|nieuwsbrief|newsletter|volgende|vorige|next|previous|lees meer|read more|meer info)$`)

// commentPatterns flag user-comment scaffolding scraped off detail pages.
var commentPatterns = []string{
	"reactie", "reacties", "comment", "comments", "reageer", "reply",
	"geplaatst door", "posted by",
}

// IsProbableEvent rejects cards whose title looks like navigation, a
// comment thread, or a listing-page heading rather than a single event.
func IsProbableEvent(title, description string) bool {
	t := strings.TrimSpace(title)
	if len(t) < 3 || len(t) > 300 {
		return false
	}
	if navTitleRe.MatchString(t) {
		return false
	}
	if listingHeadingRe.MatchString(t) {
		return false
	}

	lower := strings.ToLower(t)
	for _, pattern := range commentPatterns {
		if strings.HasPrefix(lower, pattern) {
			return false
		}
	}
	descLower := strings.ToLower(description)
	for _, pattern := range commentPatterns {
		if strings.HasPrefix(descLower, pattern) {
			return false
		}
	}

	// A title that is only digits or punctuation is pagination debris.
	if !hasLettersRe.MatchString(t) {
		return false
	}
	return true
}

var hasLettersRe = regexp.MustCompile(`\p{L}{2}`)
