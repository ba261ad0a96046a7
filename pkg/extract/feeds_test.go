package extract

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const rssFixture = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0"><channel>
<title>Agenda Voorbeeld</title>
<item>
	<title>Lentefestival</title>
	<link>https://agenda.example.nl/lentefestival</link>
	<description>Muziek en eten in het park.</description>
	<pubDate>Sat, 21 Mar 2026 10:00:00 +0100</pubDate>
</item>
<item>
	<title>Zonder link</title>
	<pubDate>Sun, 22 Mar 2026 10:00:00 +0100</pubDate>
</item>
</channel></rss>`

func TestFeedStrategyProbes(t *testing.T) {
	var probed []string
	fetch := func(_ context.Context, url string) ([]byte, int, error) {
		probed = append(probed, url)
		if url == "https://agenda.example.nl/feed" {
			return []byte(rssFixture), 200, nil
		}
		return nil, 404, nil
	}

	page := testPage("<html><body></body></html>")
	page.Source.FeedDiscovery = true

	s := &FeedStrategy{Fetch: fetch}
	cards, err := s.Extract(context.Background(), page)
	require.NoError(t, err)
	require.Len(t, cards, 2)
	assert.Equal(t, "Lentefestival", cards[0].Title)
	assert.Equal(t, "Sat, 21 Mar 2026 10:00:00 +0100", cards[0].Date)
	assert.Contains(t, probed, "https://agenda.example.nl/feed")
}

func TestFeedStrategyAdvertisedLinkFirst(t *testing.T) {
	fetch := func(_ context.Context, url string) ([]byte, int, error) {
		if url == "https://agenda.example.nl/custom.rss" {
			return []byte(rssFixture), 200, nil
		}
		return nil, 404, nil
	}

	page := testPage(`<html><head>
	<link rel="alternate" type="application/rss+xml" href="/custom.rss">
	</head></html>`)
	page.Source.FeedDiscovery = true

	s := &FeedStrategy{Fetch: fetch}
	cards, err := s.Extract(context.Background(), page)
	require.NoError(t, err)
	assert.Len(t, cards, 2)
}

func TestFeedStrategySitemapLeadsToFeed(t *testing.T) {
	sitemap := `<?xml version="1.0" encoding="UTF-8"?>
<urlset xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">
<url><loc>https://agenda.example.nl/over-ons</loc></url>
<url><loc>https://agenda.example.nl/evenementen/rss-export</loc></url>
</urlset>`

	var probed []string
	fetch := func(_ context.Context, url string) ([]byte, int, error) {
		probed = append(probed, url)
		switch url {
		case "https://agenda.example.nl/sitemap.xml":
			return []byte(sitemap), 200, nil
		case "https://agenda.example.nl/evenementen/rss-export":
			return []byte(rssFixture), 200, nil
		}
		return nil, 404, nil
	}

	page := testPage("<html><body></body></html>")
	page.Source.FeedDiscovery = true

	s := &FeedStrategy{Fetch: fetch}
	cards, err := s.Extract(context.Background(), page)
	require.NoError(t, err)
	assert.Len(t, cards, 2)
	assert.Contains(t, probed, "https://agenda.example.nl/sitemap.xml")
	assert.Contains(t, probed, "https://agenda.example.nl/evenementen/rss-export",
		"feed-looking sitemap entries are followed")
	assert.NotContains(t, probed, "https://agenda.example.nl/over-ons",
		"non-feed sitemap entries are not")
}

func TestFeedLocsFromSitemap(t *testing.T) {
	index := `<?xml version="1.0"?>
<sitemapindex xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">
<sitemap><loc>https://agenda.example.nl/feed-sitemap.xml</loc></sitemap>
<sitemap><loc>https://agenda.example.nl/page-sitemap.xml</loc></sitemap>
</sitemapindex>`
	locs := feedLocsFromSitemap([]byte(index))
	assert.Equal(t, []string{"https://agenda.example.nl/feed-sitemap.xml"}, locs)

	assert.Nil(t, feedLocsFromSitemap([]byte(rssFixture)), "an RSS body is not a sitemap")
	assert.Nil(t, feedLocsFromSitemap([]byte("<html></html>")))
}

func TestFeedStrategyDisabled(t *testing.T) {
	called := false
	fetch := func(context.Context, string) ([]byte, int, error) {
		called = true
		return nil, 404, nil
	}

	page := testPage("<html></html>") // FeedDiscovery defaults false
	s := &FeedStrategy{Fetch: fetch}
	cards, err := s.Extract(context.Background(), page)
	require.NoError(t, err)
	assert.Empty(t, cards)
	assert.False(t, called, "feed probing must be opt-in per source")
}

func TestParseFeedRejectsHTML(t *testing.T) {
	assert.Empty(t, parseFeed([]byte("<html><body>niet een feed</body></html>")))
	assert.Empty(t, parseFeed([]byte("")))
}

func TestParseFeedAtom(t *testing.T) {
	atom := `<?xml version="1.0"?>
<feed xmlns="http://www.w3.org/2005/Atom">
<entry><title>Atoomavond</title><updated>2026-04-04T19:00:00Z</updated>
<link href="https://agenda.example.nl/atoom"/></entry>
</feed>`
	cards := parseFeed([]byte(atom))
	require.Len(t, cards, 1)
	assert.Equal(t, "Atoomavond", cards[0].Title)
}
