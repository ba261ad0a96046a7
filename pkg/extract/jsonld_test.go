package extract

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONLDIncompleteNodesSkipped(t *testing.T) {
	page := testPage(`<html><head><script type="application/ld+json">
	[
		{"@type": "Event", "name": "Zonder datum"},
		{"@type": "Event", "startDate": "2026-03-01"},
		{"@type": "TheaterEvent", "name": "Hamlet", "startDate": "2026-03-01T19:30"}
	]
	</script></head></html>`)

	s := &JSONLDStrategy{}
	cards, err := s.Extract(context.Background(), page)
	require.NoError(t, err)
	require.Len(t, cards, 1, "complete iff title and start date are present")
	assert.Equal(t, "Hamlet", cards[0].Title)
}

func TestJSONLDMalformedBlobSkipped(t *testing.T) {
	page := testPage(`<html><head>
	<script type="application/ld+json">{not json at all</script>
	<script type="application/ld+json">{"@type":"Event","name":"Geldig","startDate":"2026-01-05"}</script>
	</head></html>`)

	s := &JSONLDStrategy{}
	cards, err := s.Extract(context.Background(), page)
	require.NoError(t, err)
	require.Len(t, cards, 1)
	assert.Equal(t, "Geldig", cards[0].Title)
}

func TestJSONLDDeepGraphTerminates(t *testing.T) {
	// Build nesting far past the traversal bound; extraction must return,
	// not recurse forever, and drop the too-deep node.
	inner := `{"@type":"Event","name":"Diep","startDate":"2026-06-06"}`
	blob := inner
	for i := 0; i < 50; i++ {
		blob = fmt.Sprintf(`{"@graph":[%s]}`, blob)
	}
	page := testPage(`<html><head><script type="application/ld+json">` + blob + `</script></head></html>`)

	s := &JSONLDStrategy{MaxGraphDepth: 6}
	cards, err := s.Extract(context.Background(), page)
	require.NoError(t, err)
	assert.Empty(t, cards)
}

func TestJSONLDTypeArray(t *testing.T) {
	page := testPage(`<html><head><script type="application/ld+json">
	{"@type": ["Thing", "MusicEvent"], "name": "Concert", "startDate": "2026-02-02"}
	</script></head></html>`)

	s := &JSONLDStrategy{}
	cards, err := s.Extract(context.Background(), page)
	require.NoError(t, err)
	require.Len(t, cards, 1)
}

func TestMicrodataItems(t *testing.T) {
	page := testPage(`<html><body>
	<div itemscope itemtype="https://schema.org/Event">
		<span itemprop="name">Stadswandeling</span>
		<time itemprop="startDate" datetime="2026-05-09T14:00">9 mei</time>
		<span itemprop="location">Centrum</span>
	</div></body></html>`)

	s := &MicrodataStrategy{}
	cards, err := s.Extract(context.Background(), page)
	require.NoError(t, err)
	require.Len(t, cards, 1)
	assert.Equal(t, "Stadswandeling", cards[0].Title)
	assert.Equal(t, "2026-05-09T14:00", cards[0].Date)
	assert.Equal(t, "Centrum", cards[0].Location)
}

func TestHydrationNextData(t *testing.T) {
	page := testPage(`<html><body><script id="__NEXT_DATA__" type="application/json">
	{"props":{"pageProps":{"events":[
		{"title":"Nachtmarkt","startDate":"2026-08-01","venue":{"name":"Westergas"}},
		{"title":"Filmavond","date":"2026-08-02"}
	]}}}
	</script></body></html>`)

	s := &HydrationStrategy{}
	cards, err := s.Extract(context.Background(), page)
	require.NoError(t, err)
	require.Len(t, cards, 2)
	assert.Equal(t, "Nachtmarkt", cards[0].Title)
	assert.Equal(t, "Westergas", cards[0].Location)
}

func TestHydrationWindowState(t *testing.T) {
	page := testPage(`<html><body><script>
	window.__INITIAL_STATE__ = {"agenda":{"items":[{"name":"Pubquiz","eventDate":"2026-09-12"}]}};
	</script></body></html>`)

	s := &HydrationStrategy{}
	cards, err := s.Extract(context.Background(), page)
	require.NoError(t, err)
	require.Len(t, cards, 1)
	assert.Equal(t, "Pubquiz", cards[0].Title)
}

func TestBalancedJSON(t *testing.T) {
	assert.Equal(t, `{"a":{"b":1}}`, balancedJSON(`{"a":{"b":1}};console.log("x")`))
	assert.Equal(t, `{"s":"}"}`, balancedJSON(`{"s":"}"};rest`), "braces inside strings are skipped")
	assert.Empty(t, balancedJSON(`{"never":`), "unterminated blob yields nothing")
}
