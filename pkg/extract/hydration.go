package extract

import (
	"context"
	"encoding/json"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/stadspuls/harvester/pkg/models"
)

// HydrationStrategy mines the state blobs SPA frameworks embed in the
// page: Next.js __NEXT_DATA__, Nuxt/Redux window globals. The blob is
// scanned for objects that look like events: a title-ish field next to a
// date-ish field.
type HydrationStrategy struct{}

func (s *HydrationStrategy) Method() models.ParsingMethod { return models.MethodHydration }

// hydrationScanDepth bounds recursion into state blobs, which nest far
// deeper than JSON-LD ever does.
const hydrationScanDepth = 12

var windowStateRe = regexp.MustCompile(
	`window\.(?:__INITIAL_STATE__|__NUXT__|__PRELOADED_STATE__|__APOLLO_STATE__)\s*=\s*(\{)`)

func (s *HydrationStrategy) Extract(_ context.Context, page *Page) ([]models.RawEventCard, error) {
	doc, err := page.Doc()
	if err != nil {
		return nil, err
	}

	var blobs []string
	doc.Find(`script#__NEXT_DATA__`).Each(func(_ int, sel *goquery.Selection) {
		blobs = append(blobs, sel.Text())
	})
	doc.Find("script").Each(func(_ int, sel *goquery.Selection) {
		text := sel.Text()
		loc := windowStateRe.FindStringSubmatchIndex(text)
		if loc == nil {
			return
		}
		if blob := balancedJSON(text[loc[2]:]); blob != "" {
			blobs = append(blobs, blob)
		}
	})

	var cards []models.RawEventCard
	for _, blob := range blobs {
		var node any
		if err := json.Unmarshal([]byte(blob), &node); err != nil {
			continue
		}
		scanHydration(node, hydrationScanDepth, &cards)
	}
	return cards, nil
}

// balancedJSON returns the brace-balanced prefix of s starting at the
// opening brace, skipping string contents.
func balancedJSON(s string) string {
	depth := 0
	inString := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			switch c {
			case '\\':
				i++
			case '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[:i+1]
			}
		}
	}
	return ""
}

var (
	titleKeys = []string{"title", "name", "eventName"}
	dateKeys  = []string{"startDate", "start_date", "date", "eventDate", "start", "datetime"}
)

// scanHydration walks a decoded blob and collects event-shaped objects.
func scanHydration(node any, depth int, cards *[]models.RawEventCard) {
	if depth <= 0 {
		return
	}
	switch n := node.(type) {
	case []any:
		for _, item := range n {
			scanHydration(item, depth-1, cards)
		}
	case map[string]any:
		if card, ok := hydrationCard(n); ok {
			*cards = append(*cards, card)
			return // fields of a matched event are not themselves events
		}
		for _, val := range n {
			scanHydration(val, depth-1, cards)
		}
	}
}

func hydrationCard(obj map[string]any) (models.RawEventCard, bool) {
	title := firstString(obj, titleKeys)
	date := firstString(obj, dateKeys)
	if title == "" || date == "" {
		return models.RawEventCard{}, false
	}
	// Guard against page-level metadata objects that happen to carry a
	// title and a date (articles, breadcrumbs).
	if looksLikeDate(title) {
		return models.RawEventCard{}, false
	}
	return models.RawEventCard{
		Title:       title,
		Date:        date,
		Description: firstString(obj, []string{"description", "summary", "excerpt"}),
		Location:    firstString(obj, []string{"location", "venue", "venueName", "locationName"}),
		DetailURL:   firstString(obj, []string{"url", "link", "slug", "permalink"}),
		ImageURL:    firstString(obj, []string{"image", "imageUrl", "image_url", "thumbnail"}),
	}, true
}

func firstString(obj map[string]any, keys []string) string {
	for _, key := range keys {
		switch v := obj[key].(type) {
		case string:
			if s := collapseSpace(v); s != "" {
				return s
			}
		case map[string]any:
			// {location: {name: "Paradiso"}} and similar nesting.
			if s := firstString(v, []string{"name", "title", "url"}); s != "" {
				return s
			}
		}
	}
	return ""
}

var dateLikeRe = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}`)

func looksLikeDate(s string) bool {
	return dateLikeRe.MatchString(strings.TrimSpace(s))
}
