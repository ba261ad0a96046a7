package extract

import (
	"context"
	"encoding/xml"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/stadspuls/harvester/pkg/models"
)

// FeedStrategy probes a source's syndication feeds. Runs only for sources
// with feed discovery enabled; each probe goes through the session fetch
// function so it inherits rate limiting and failover state.
type FeedStrategy struct {
	Fetch FetchFunc
}

func (s *FeedStrategy) Method() models.ParsingMethod { return models.MethodFeed }

// feedProbePaths are tried relative to the site root, in order. The
// sitemap goes last: it cannot carry events itself but often points at a
// feed the other probes miss.
var feedProbePaths = []string{
	"/feed", "/rss", "/rss.xml", "/feed.xml", "/atom.xml", "/events/feed", "/agenda/feed",
	"/sitemap.xml",
}

// maxSitemapFeeds bounds how many feed-looking sitemap entries one
// sitemap may add to the probe list.
const maxSitemapFeeds = 5

func (s *FeedStrategy) Extract(ctx context.Context, page *Page) ([]models.RawEventCard, error) {
	if !page.Source.FeedDiscovery || s.Fetch == nil {
		return nil, nil
	}

	// The page may advertise its feed explicitly.
	candidates := []string{}
	if doc, err := page.Doc(); err == nil {
		doc.Find(`link[rel="alternate"][type*="rss"], link[rel="alternate"][type*="atom"]`).
			Each(func(_ int, sel *goquery.Selection) {
				if href, ok := sel.Attr("href"); ok && href != "" {
					candidates = append(candidates, absoluteURL(page.URL, href))
				}
			})
	}

	for _, path := range feedProbePaths {
		candidates = append(candidates, absoluteURL(page.URL, path))
	}

	seen := make(map[string]bool)
	for i := 0; i < len(candidates); i++ {
		candidate := candidates[i]
		if seen[candidate] {
			continue
		}
		seen[candidate] = true
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		body, status, err := s.Fetch(ctx, candidate)
		if err != nil || status >= 400 {
			continue
		}
		if cards := parseFeed(body); len(cards) > 0 {
			return cards, nil
		}
		// A sitemap can point at the feed; follow feed-looking entries.
		candidates = append(candidates, feedLocsFromSitemap(body)...)
	}
	return nil, nil
}

// sitemapDoc covers both urlset and sitemapindex shapes.
type sitemapDoc struct {
	XMLName xml.Name
	URLs    []sitemapLoc `xml:"url"`
	Nested  []sitemapLoc `xml:"sitemap"`
}

type sitemapLoc struct {
	Loc string `xml:"loc"`
}

// feedLocsFromSitemap returns the feed-looking URLs of a sitemap payload,
// or nil when the body is not a sitemap.
func feedLocsFromSitemap(body []byte) []string {
	var doc sitemapDoc
	if err := xml.Unmarshal(body, &doc); err != nil {
		return nil
	}
	if doc.XMLName.Local != "urlset" && doc.XMLName.Local != "sitemapindex" {
		return nil
	}

	var locs []string
	for _, entry := range append(doc.URLs, doc.Nested...) {
		if len(locs) >= maxSitemapFeeds {
			break
		}
		loc := strings.TrimSpace(entry.Loc)
		lower := strings.ToLower(loc)
		if loc == "" {
			continue
		}
		if strings.Contains(lower, "feed") || strings.Contains(lower, "rss") ||
			strings.Contains(lower, "atom") {
			locs = append(locs, loc)
		}
	}
	return locs
}

// rssDoc covers both RSS 2.0 and Atom shapes; unknown elements are ignored.
type rssDoc struct {
	XMLName xml.Name
	Channel struct {
		Items []rssItem `xml:"item"`
	} `xml:"channel"`
	Entries []atomEntry `xml:"entry"`
}

type rssItem struct {
	Title       string `xml:"title"`
	Link        string `xml:"link"`
	Description string `xml:"description"`
	PubDate     string `xml:"pubDate"`
	Date        string `xml:"date"` // dc:date
	StartDate   string `xml:"startdate"`
	Location    string `xml:"location"`
	Enclosure   struct {
		URL string `xml:"url,attr"`
	} `xml:"enclosure"`
}

type atomEntry struct {
	Title   string `xml:"title"`
	Summary string `xml:"summary"`
	Updated string `xml:"updated"`
	Link    struct {
		Href string `xml:"href,attr"`
	} `xml:"link"`
}

// parseFeed decodes an RSS or Atom payload into cards. Event feeds carry
// the event date either in a dedicated element or in the title; the raw
// string goes through the normalizer either way.
func parseFeed(body []byte) []models.RawEventCard {
	head := strings.TrimSpace(string(body[:min(len(body), 256)]))
	if !strings.HasPrefix(head, "<?xml") && !strings.HasPrefix(head, "<rss") &&
		!strings.HasPrefix(head, "<feed") {
		return nil
	}

	var doc rssDoc
	if err := xml.Unmarshal(body, &doc); err != nil {
		return nil
	}

	var cards []models.RawEventCard
	for _, item := range doc.Channel.Items {
		date := item.StartDate
		if date == "" {
			date = item.Date
		}
		if date == "" {
			date = item.PubDate
		}
		card := models.RawEventCard{
			Title:       collapseSpace(item.Title),
			Date:        collapseSpace(date),
			Description: collapseSpace(item.Description),
			Location:    collapseSpace(item.Location),
			DetailURL:   strings.TrimSpace(item.Link),
			ImageURL:    strings.TrimSpace(item.Enclosure.URL),
		}
		if card.Title != "" && card.Date != "" {
			cards = append(cards, card)
		}
	}
	for _, entry := range doc.Entries {
		card := models.RawEventCard{
			Title:       collapseSpace(entry.Title),
			Date:        collapseSpace(entry.Updated),
			Description: collapseSpace(entry.Summary),
			DetailURL:   strings.TrimSpace(entry.Link.Href),
		}
		if card.Title != "" && card.Date != "" {
			cards = append(cards, card)
		}
	}
	return cards
}
