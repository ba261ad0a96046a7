package extract

import (
	"context"
	"encoding/json"

	"github.com/PuerkitoBio/goquery"

	"github.com/stadspuls/harvester/pkg/models"
)

// DOMStrategy walks generic event-card selectors: the source's configured
// selectors first, then a built-in list that covers the common agenda
// markup patterns. Output is untrusted and may need AI polish downstream.
type DOMStrategy struct{}

func (s *DOMStrategy) Method() models.ParsingMethod { return models.MethodDOM }

// genericCardSelectors cover the markup most agenda sites converge on.
var genericCardSelectors = []string{
	"article.event",
	".event-card",
	".event-item",
	"li.event",
	".agenda-item",
	".agenda__item",
	`[itemtype*="Event"]`,
	".calendar-event",
	"article[class*='event']",
	"div[class*='event-list'] > div",
}

func (s *DOMStrategy) Extract(_ context.Context, page *Page) ([]models.RawEventCard, error) {
	doc, err := page.Doc()
	if err != nil {
		return nil, err
	}

	selectors := configuredSelectors(page.Source)
	selectors = append(selectors, genericCardSelectors...)

	for _, selector := range selectors {
		matches := doc.Find(selector)
		if matches.Length() == 0 {
			continue
		}
		var cards []models.RawEventCard
		matches.Each(func(_ int, item *goquery.Selection) {
			if card, ok := heuristicCard(item); ok {
				cards = append(cards, card)
			}
		})
		if len(cards) > 0 {
			return cards, nil
		}
	}
	return nil, nil
}

// configuredSelectors decodes the source's dom_selectors JSON, a plain
// array of container selectors.
func configuredSelectors(source *models.Source) []string {
	if len(source.DOMSelectors) == 0 {
		return nil
	}
	var selectors []string
	if err := json.Unmarshal(source.DOMSelectors, &selectors); err != nil {
		return nil
	}
	return selectors
}

// heuristicCard pulls the usual suspects out of one card container.
func heuristicCard(item *goquery.Selection) (models.RawEventCard, bool) {
	title := firstText(item, "h1, h2, h3, h4, .title, [class*='title'], a")
	date := cardDate(item)
	if title == "" || date == "" {
		return models.RawEventCard{}, false
	}

	card := models.RawEventCard{
		Title:       title,
		Date:        date,
		Location:    firstText(item, ".location, .venue, [class*='location'], [class*='venue']"),
		Description: firstText(item, "p, .description, [class*='description'], [class*='excerpt']"),
		DetailURL:   selectHref(item, ""),
		ImageURL:    selectImageSrc(item, ""),
	}
	if html, err := goquery.OuterHtml(item); err == nil {
		card.RawHTML = truncate(html, maxCardHTMLBytes)
	}
	return card, true
}

func firstText(scope *goquery.Selection, selector string) string {
	return collapseSpace(scope.Find(selector).First().Text())
}

// cardDate prefers machine-readable <time datetime> over visible text.
func cardDate(item *goquery.Selection) string {
	timeEl := item.Find("time").First()
	if dt, ok := timeEl.Attr("datetime"); ok && dt != "" {
		return dt
	}
	if txt := collapseSpace(timeEl.Text()); txt != "" {
		return txt
	}
	return firstText(item, ".date, [class*='date'], [class*='datum']")
}
