package extract

import (
	"context"

	"github.com/PuerkitoBio/goquery"

	"github.com/stadspuls/harvester/pkg/models"
)

// MicrodataStrategy extracts schema.org microdata items, with an Open
// Graph / meta-tag fallback that can at most describe the page's single
// headline event.
type MicrodataStrategy struct{}

func (s *MicrodataStrategy) Method() models.ParsingMethod { return models.MethodMicrodata }

func (s *MicrodataStrategy) Extract(_ context.Context, page *Page) ([]models.RawEventCard, error) {
	doc, err := page.Doc()
	if err != nil {
		return nil, err
	}

	var cards []models.RawEventCard
	doc.Find(`[itemtype*="Event"]`).Each(func(_ int, item *goquery.Selection) {
		card := models.RawEventCard{
			Title:       itemprop(item, "name"),
			Date:        itempropDate(item, "startDate"),
			Description: itemprop(item, "description"),
			Location:    itemprop(item, "location"),
			DetailURL:   itempropAttr(item, "url", "href"),
			ImageURL:    itempropAttr(item, "image", "src"),
		}
		if card.Title != "" && card.Date != "" {
			if html, err := goquery.OuterHtml(item); err == nil {
				card.RawHTML = truncate(html, maxCardHTMLBytes)
			}
			cards = append(cards, card)
		}
	})
	if len(cards) > 0 {
		return cards, nil
	}

	// OG fallback: an event-typed page describes exactly one event.
	if metaContent(doc, "og:type") == "event" || metaContent(doc, "event:start_time") != "" {
		card := models.RawEventCard{
			Title:       metaContent(doc, "og:title"),
			Date:        metaContent(doc, "event:start_time"),
			Description: metaContent(doc, "og:description"),
			DetailURL:   metaContent(doc, "og:url"),
			ImageURL:    metaContent(doc, "og:image"),
			Location:    metaContent(doc, "og:site_name"),
		}
		if card.Title != "" && card.Date != "" {
			cards = append(cards, card)
		}
	}
	return cards, nil
}

func itemprop(scope *goquery.Selection, prop string) string {
	sel := scope.Find(`[itemprop="` + prop + `"]`).First()
	if content, ok := sel.Attr("content"); ok && content != "" {
		return collapseSpace(content)
	}
	return collapseSpace(sel.Text())
}

func itempropDate(scope *goquery.Selection, prop string) string {
	sel := scope.Find(`[itemprop="` + prop + `"]`).First()
	for _, attr := range []string{"datetime", "content"} {
		if v, ok := sel.Attr(attr); ok && v != "" {
			return v
		}
	}
	return collapseSpace(sel.Text())
}

func itempropAttr(scope *goquery.Selection, prop, attr string) string {
	sel := scope.Find(`[itemprop="` + prop + `"]`).First()
	for _, a := range []string{attr, "content"} {
		if v, ok := sel.Attr(a); ok && v != "" {
			return v
		}
	}
	return ""
}

func metaContent(doc *goquery.Document, property string) string {
	sel := doc.Find(`meta[property="` + property + `"], meta[name="` + property + `"]`).First()
	content, _ := sel.Attr("content")
	return collapseSpace(content)
}
