package extract

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// nextLinkTexts are the localized labels agenda sites put on their "next
// page" link. Matching is case-insensitive on the trimmed link text.
var nextLinkTexts = []string{
	"volgende", "volgende pagina", "next", "next page", "weiter", "vorwärts",
	"meer", "more", "»", "›", ">",
}

// nextLinkSelectors match by markup rather than text.
var nextLinkSelectors = []string{
	`link[rel="next"]`,
	`a[rel="next"]`,
	"a.next",
	"a.pagination-next",
	".pagination .next a",
	"li.next a",
	`a[aria-label="Next"]`,
	`a[aria-label="Volgende"]`,
}

// FindNextPage returns the absolute URL of the next listing page, or ""
// when the page has no discoverable pagination. Depth bounding is the
// caller's job; this only finds the link.
func FindNextPage(doc *goquery.Document, baseURL string) string {
	for _, selector := range nextLinkSelectors {
		if href, ok := doc.Find(selector).First().Attr("href"); ok && usableHref(href) {
			return absoluteURL(baseURL, href)
		}
	}

	var found string
	doc.Find("a[href]").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		text := strings.ToLower(collapseSpace(sel.Text()))
		for _, label := range nextLinkTexts {
			if text == label {
				if href, ok := sel.Attr("href"); ok && usableHref(href) {
					found = absoluteURL(baseURL, href)
					return false
				}
			}
		}
		return true
	})
	return found
}

func usableHref(href string) bool {
	href = strings.TrimSpace(href)
	return href != "" && href != "#" && !strings.HasPrefix(href, "javascript:")
}
