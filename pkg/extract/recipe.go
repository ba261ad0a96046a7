package extract

import (
	"context"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/stadspuls/harvester/pkg/models"
)

// RecipeStrategy applies a source's stored selector recipe. This is the
// trusted fast path: a healed recipe encodes exactly where this site puts
// its event cards.
type RecipeStrategy struct{}

func (s *RecipeStrategy) Method() models.ParsingMethod { return models.MethodRecipe }

func (s *RecipeStrategy) Extract(_ context.Context, page *Page) ([]models.RawEventCard, error) {
	recipe := page.Source.Recipe
	if recipe.Empty() {
		return nil, nil
	}
	doc, err := page.Doc()
	if err != nil {
		return nil, err
	}

	scope := doc.Selection
	if recipe.Container != "" {
		if container := doc.Find(recipe.Container); container.Length() > 0 {
			scope = container
		}
	}

	var cards []models.RawEventCard
	scope.Find(recipe.Item).Each(func(_ int, item *goquery.Selection) {
		card := models.RawEventCard{
			Title:       selectText(item, recipe.Title),
			Date:        selectDateText(item, recipe.Date),
			Time:        selectText(item, recipe.Time),
			Location:    selectText(item, recipe.Location),
			Description: selectText(item, recipe.Description),
			DetailURL:   selectHref(item, recipe.Link),
			ImageURL:    selectImageSrc(item, recipe.Image),
		}
		if card.RawHTML == "" {
			if html, err := goquery.OuterHtml(item); err == nil {
				card.RawHTML = truncate(html, maxCardHTMLBytes)
			}
		}
		if card.Title != "" && card.Date != "" {
			cards = append(cards, card)
		}
	})
	return cards, nil
}

// maxCardHTMLBytes bounds the per-card markup snippet carried downstream.
const maxCardHTMLBytes = 8 * 1024

func truncate(s string, max int) string {
	if len(s) > max {
		return s[:max]
	}
	return s
}

// selectText returns the collapsed text of the first match, or the item's
// own text when the selector is empty.
func selectText(item *goquery.Selection, selector string) string {
	if selector == "" {
		return ""
	}
	return collapseSpace(item.Find(selector).First().Text())
}

// selectDateText prefers a machine-readable datetime attribute over the
// visible text.
func selectDateText(item *goquery.Selection, selector string) string {
	if selector == "" {
		return ""
	}
	sel := item.Find(selector).First()
	if dt, ok := sel.Attr("datetime"); ok && dt != "" {
		return dt
	}
	if dt, ok := sel.Attr("content"); ok && dt != "" {
		return dt
	}
	return collapseSpace(sel.Text())
}

// selectHref finds a link target under the selector, falling back to the
// item itself being (or containing) an anchor.
func selectHref(item *goquery.Selection, selector string) string {
	sel := item
	if selector != "" {
		sel = item.Find(selector).First()
	}
	if href, ok := sel.Attr("href"); ok {
		return href
	}
	if href, ok := sel.Find("a[href]").First().Attr("href"); ok {
		return href
	}
	if goquery.NodeName(item) == "a" {
		if href, ok := item.Attr("href"); ok {
			return href
		}
	}
	return ""
}

// selectImageSrc finds an image URL, preferring lazy-load attributes that
// hold the real source.
func selectImageSrc(item *goquery.Selection, selector string) string {
	sel := item.Find("img").First()
	if selector != "" {
		sel = item.Find(selector).First()
	}
	for _, attr := range []string{"data-src", "data-lazy-src", "srcset", "src"} {
		if v, ok := sel.Attr(attr); ok && v != "" {
			if attr == "srcset" {
				// First candidate of the srcset.
				if i := strings.IndexAny(v, " ,"); i > 0 {
					return v[:i]
				}
			}
			return v
		}
	}
	return ""
}
