package extract

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/stadspuls/harvester/pkg/models"
)

// defaultGraphDepth bounds @graph / nested-node traversal so circular or
// absurdly deep structured data always terminates.
const defaultGraphDepth = 6

// JSONLDStrategy extracts schema.org Event nodes from embedded JSON-LD.
// A node counts as a complete card iff it has a title and a start date.
type JSONLDStrategy struct {
	MaxGraphDepth int
}

func (s *JSONLDStrategy) Method() models.ParsingMethod { return models.MethodJSONLD }

func (s *JSONLDStrategy) Extract(_ context.Context, page *Page) ([]models.RawEventCard, error) {
	doc, err := page.Doc()
	if err != nil {
		return nil, err
	}

	depth := s.MaxGraphDepth
	if depth <= 0 {
		depth = defaultGraphDepth
	}

	var cards []models.RawEventCard
	doc.Find(`script[type="application/ld+json"]`).Each(func(_ int, sel *goquery.Selection) {
		var node any
		if err := json.Unmarshal([]byte(sel.Text()), &node); err != nil {
			return // malformed blob, skip the script, keep the rest
		}
		walkLD(node, depth, func(obj map[string]any) {
			if card, ok := eventCard(obj); ok {
				cards = append(cards, card)
			}
		})
	})
	return cards, nil
}

// walkLD visits every object in a JSON-LD value, descending into arrays,
// @graph, and nested values up to the depth bound.
func walkLD(node any, depth int, visit func(map[string]any)) {
	if depth <= 0 {
		return
	}
	switch n := node.(type) {
	case []any:
		for _, item := range n {
			walkLD(item, depth-1, visit)
		}
	case map[string]any:
		visit(n)
		if graph, ok := n["@graph"]; ok {
			walkLD(graph, depth-1, visit)
		}
		for key, val := range n {
			if key == "@graph" {
				continue
			}
			switch val.(type) {
			case map[string]any, []any:
				walkLD(val, depth-1, visit)
			}
		}
	}
}

// eventCard converts a schema.org node into a card if it is an Event with
// title and start date.
func eventCard(obj map[string]any) (models.RawEventCard, bool) {
	if !isEventType(obj["@type"]) {
		return models.RawEventCard{}, false
	}
	title := ldString(obj["name"])
	start := ldString(obj["startDate"])
	if title == "" || start == "" {
		return models.RawEventCard{}, false
	}

	card := models.RawEventCard{
		Title:       title,
		Date:        start,
		Description: ldString(obj["description"]),
		DetailURL:   ldString(obj["url"]),
		ImageURL:    ldImage(obj["image"]),
	}

	if loc, ok := obj["location"].(map[string]any); ok {
		card.Location = ldString(loc["name"])
		if addr := ldAddress(loc["address"]); addr != "" {
			if card.Location != "" {
				card.Location += ", " + addr
			} else {
				card.Location = addr
			}
		}
	}
	if offers, ok := obj["offers"].(map[string]any); ok {
		card.PriceRaw = ldString(offers["price"])
		card.TicketsURL = ldString(offers["url"])
	}
	if org, ok := obj["organizer"].(map[string]any); ok {
		card.Organizer = ldString(org["name"])
	}
	if perf, ok := obj["performer"].(map[string]any); ok {
		card.Performer = ldString(perf["name"])
	}
	return card, true
}

// isEventType matches "Event" and subtypes like "MusicEvent", whether the
// @type is a string or an array.
func isEventType(t any) bool {
	switch v := t.(type) {
	case string:
		return strings.HasSuffix(v, "Event")
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok && strings.HasSuffix(s, "Event") {
				return true
			}
		}
	}
	return false
}

// ldString coerces string-or-object-or-array values to a plain string.
func ldString(v any) string {
	switch s := v.(type) {
	case string:
		return collapseSpace(s)
	case []any:
		if len(s) > 0 {
			return ldString(s[0])
		}
	case map[string]any:
		return ldString(s["name"])
	}
	return ""
}

// ldImage handles image as URL string, ImageObject, or array of either.
func ldImage(v any) string {
	switch img := v.(type) {
	case string:
		return strings.TrimSpace(img)
	case map[string]any:
		return ldString(img["url"])
	case []any:
		if len(img) > 0 {
			return ldImage(img[0])
		}
	}
	return ""
}

// ldAddress flattens a PostalAddress node.
func ldAddress(v any) string {
	switch addr := v.(type) {
	case string:
		return collapseSpace(addr)
	case map[string]any:
		parts := []string{}
		for _, key := range []string{"streetAddress", "postalCode", "addressLocality"} {
			if s := ldString(addr[key]); s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, " ")
	}
	return ""
}
