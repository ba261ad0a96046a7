package pipeline

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stadspuls/harvester/pkg/models"
	"github.com/stadspuls/harvester/pkg/normalize"
)

const listingWithCardsHTML = `<html><head>
<link rel="next" href="/events?page=2">
<script type="application/ld+json">
{"@graph":[
  {"@type":"MusicEvent","name":"Voorjaarsconcert","startDate":"2026-09-12",
   "url":"https://agenda.example.nl/e/voorjaarsconcert",
   "location":{"@type":"Place","name":"Paradiso"}},
  {"@type":"Event","name":"Buurtborrel Westerpark","startDate":"2026-09-19",
   "description":"Maandelijkse borrel voor de buurt, iedereen is welkom in het park.",
   "location":{"@type":"Place","name":"Westerpark"}}
]}
</script></head><body></body></html>`

const detailPageHTML = `<html><head>
<script type="application/ld+json">
{"@type":"MusicEvent","name":"Voorjaarsconcert","startDate":"2026-09-12",
 "description":"Het jaarlijkse voorjaarsconcert met het stadsorkest en gasten.",
 "location":{"@type":"Place","name":"Paradiso"}}
</script></head><body></body></html>`

func newTestExtractExecutor(sources *fakeSources, q *fakeQueue, ins *fakeInsights, healer *fakeHealer) *ExtractExecutor {
	cfg := testExtractConfig()
	e := &ExtractExecutor{
		cfg:      cfg,
		healCfg:  testHealingConfig(),
		sources:  sources,
		queue:    q,
		insights: ins,
		norm:     normalize.NewNormalizer(cfg),
		sessions: sessionsFor(&fakeSession{}),
	}
	if healer != nil {
		e.healer = healer
	}
	return e
}

func TestExtractListingFansOut(t *testing.T) {
	sources := &fakeSources{source: testSource()}
	q := &fakeQueue{}
	ins := &fakeInsights{}
	e := newTestExtractExecutor(sources, q, ins, nil)

	result := e.Process(context.Background(), withHTML(listingItem(), listingWithCardsHTML))
	require.Nil(t, result.Err)
	assert.Equal(t, models.StageEnriching, result.Next)
	assert.Nil(t, result.Fields, "the listing item itself carries no card")

	// Card with a detail URL becomes an awaiting_fetch item; pagination
	// mints a deeper discovered item.
	require.Len(t, q.enqueued, 2)
	assert.Equal(t, models.StageAwaitingFetch, q.enqueued[0].Stage)
	assert.Equal(t, "https://agenda.example.nl/e/voorjaarsconcert", q.enqueued[0].DetailURL)
	assert.Equal(t, models.StageDiscovered, q.enqueued[1].Stage)
	assert.Equal(t, "https://agenda.example.nl/events?page=2", q.enqueued[1].SourceURL)
	assert.Equal(t, 1, q.enqueued[1].PaginationDepth)

	// Card without a detail URL is enqueued fully extracted.
	require.Len(t, q.extracted, 1)
	assert.Equal(t, "Buurtborrel Westerpark", q.extracted[0].Title)
	assert.Equal(t, "2026-09-19", q.extracted[0].EventDate)

	assert.Equal(t, 1, sources.successes)
	assert.Equal(t, 2, sources.lastExtract)
	require.Len(t, ins.insights, 1)
	assert.Equal(t, string(models.MethodJSONLD), ins.insights[0].WinningStrategy)
	assert.Equal(t, 2, ins.insights[0].EventsFound)
}

func TestExtractDetailCarriesOwnCard(t *testing.T) {
	sources := &fakeSources{source: testSource()}
	q := &fakeQueue{}
	e := newTestExtractExecutor(sources, q, &fakeInsights{}, nil)

	item := withHTML(detailItem("https://agenda.example.nl/e/voorjaarsconcert"), detailPageHTML)
	result := e.Process(context.Background(), item)
	require.Nil(t, result.Err)
	assert.Equal(t, models.StageEnriching, result.Next)
	assert.Empty(t, q.enqueued, "detail items never fan out")

	require.NotNil(t, result.Fields)
	var card models.RawEventCard
	require.NoError(t, json.Unmarshal(result.Fields.ExtractedData, &card))
	assert.Equal(t, "Voorjaarsconcert", card.Title)
	assert.Equal(t, "2026-09-12", card.EventDate)
	assert.Equal(t, "Paradiso", card.VenueName)

	require.NotNil(t, result.Fields.ContentHash)
	assert.Equal(t, models.ContentHash("Voorjaarsconcert", "2026-09-12"), *result.Fields.ContentHash)
}

func TestExtractNoEventsRecordsFailure(t *testing.T) {
	sources := &fakeSources{source: testSource()}
	e := newTestExtractExecutor(sources, &fakeQueue{}, &fakeInsights{}, nil)

	empty := `<html><body><p>Geen evenementen gevonden.</p></body></html>`
	result := e.Process(context.Background(), withHTML(listingItem(), empty))
	require.NotNil(t, result.Err)
	assert.Equal(t, models.FailurePermanent, result.Level)
	assert.Equal(t, 1, sources.failures)
	assert.Equal(t, testHealingConfig().QuarantineThreshold, sources.quarantineAt)
}

func TestExtractRepeatedMissesRequestHealing(t *testing.T) {
	sources := &fakeSources{source: testSource()}
	healer := &fakeHealer{}
	e := newTestExtractExecutor(sources, &fakeQueue{}, &fakeInsights{}, healer)

	empty := `<html><body></body></html>`
	for i := 0; i < 3; i++ {
		e.Process(context.Background(), withHTML(listingItem(), empty))
	}
	assert.Equal(t, []string{"src-1"}, healer.requests,
		"healing fires once the failure threshold is crossed")
}

func TestExtractMissingPayloadIsPermanent(t *testing.T) {
	e := newTestExtractExecutor(&fakeSources{source: testSource()}, &fakeQueue{}, &fakeInsights{}, nil)
	result := e.Process(context.Background(), listingItem())
	require.NotNil(t, result.Err)
	assert.ErrorIs(t, result.Err, errNoPayload)
	assert.Equal(t, models.FailurePermanent, result.Level)
}

func TestExtractPaginationDepthBound(t *testing.T) {
	sources := &fakeSources{source: testSource()}
	q := &fakeQueue{}
	e := newTestExtractExecutor(sources, q, &fakeInsights{}, nil)

	item := withHTML(listingItem(), listingWithCardsHTML)
	item.PaginationDepth = testExtractConfig().MaxPaginationDepth
	result := e.Process(context.Background(), item)
	require.Nil(t, result.Err)

	for _, in := range q.enqueued {
		assert.NotEqual(t, models.StageDiscovered, in.Stage,
			"no pagination item at max depth")
	}
}
