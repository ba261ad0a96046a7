package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stadspuls/harvester/pkg/models"
)

const listingHTML = `<html><body><div class="agenda">
<article><h2>Voorjaarsconcert</h2><time datetime="2026-09-12">12 september</time></article>
</div></body></html>`

func TestFetchAdvancesWithPayload(t *testing.T) {
	sources := &fakeSources{source: testSource()}
	session := &fakeSession{body: []byte(listingHTML)}
	e := newFetchExecutorWith(models.StageDiscovered, sources, sessionsFor(session))

	result := e.Process(context.Background(), listingItem())
	require.Nil(t, result.Err)
	assert.Equal(t, models.StageExtracting, result.Next)

	require.NotNil(t, result.Fields)
	require.NotNil(t, result.Fields.RawHTML)
	assert.Equal(t, listingHTML, *result.Fields.RawHTML)

	sum := sha256.Sum256([]byte(listingHTML))
	require.NotNil(t, result.Fields.PayloadHash)
	assert.Equal(t, hex.EncodeToString(sum[:]), *result.Fields.PayloadHash)

	require.NotNil(t, result.Fields.CleanedMarkdown)
	assert.Contains(t, *result.Fields.CleanedMarkdown, "Voorjaarsconcert")

	assert.Equal(t, []string{"https://agenda.example.nl/events"}, session.fetched)
	assert.Equal(t, *result.Fields.PayloadHash, sources.payloadHash,
		"listing roots store their payload hash on the source")
}

func TestFetchUnchangedListingShortCircuits(t *testing.T) {
	sum := sha256.Sum256([]byte(listingHTML))
	hash := hex.EncodeToString(sum[:])
	src := testSource()
	src.LastPayloadHash = &hash

	e := newFetchExecutorWith(models.StageDiscovered,
		&fakeSources{source: src}, sessionsFor(&fakeSession{body: []byte(listingHTML)}))

	result := e.Process(context.Background(), listingItem())
	require.NotNil(t, result.Err)
	assert.ErrorIs(t, result.Err, errPayloadUnchanged)
	assert.Equal(t, models.FailurePermanent, result.Level)
}

func TestFetchDetailItemSkipsHashCheck(t *testing.T) {
	sum := sha256.Sum256([]byte(listingHTML))
	hash := hex.EncodeToString(sum[:])
	src := testSource()
	src.LastPayloadHash = &hash

	sources := &fakeSources{source: src}
	e := newFetchExecutorWith(models.StageAwaitingFetch,
		sources, sessionsFor(&fakeSession{body: []byte(listingHTML)}))

	result := e.Process(context.Background(), detailItem("https://agenda.example.nl/e/1"))
	require.Nil(t, result.Err, "detail pages never short-circuit on the listing hash")
	assert.Equal(t, models.StageExtracting, result.Next)
	assert.Empty(t, sources.payloadHash, "detail pages do not touch the source hash")
}

func TestFetchErrorStatusLevels(t *testing.T) {
	tests := []struct {
		status int
		level  models.FailureLevel
	}{
		{404, models.FailurePermanent},
		{410, models.FailurePermanent},
		{429, models.FailureTransient},
		{500, models.FailureTransient},
		{503, models.FailureTransient},
	}
	for _, tt := range tests {
		e := newFetchExecutorWith(models.StageDiscovered,
			&fakeSources{source: testSource()},
			sessionsFor(&fakeSession{status: tt.status, body: []byte("nope")}))
		result := e.Process(context.Background(), listingItem())
		require.NotNil(t, result.Err, "status %d", tt.status)
		assert.Equal(t, tt.level, result.Level, "status %d", tt.status)
	}
}

func TestFetchMissingSourceIsPermanent(t *testing.T) {
	e := newFetchExecutorWith(models.StageDiscovered, &fakeSources{}, sessionsFor(&fakeSession{}))
	result := e.Process(context.Background(), listingItem())
	require.NotNil(t, result.Err)
	assert.Equal(t, models.FailurePermanent, result.Level)
}

func TestFetchTruncatesOversizedPayload(t *testing.T) {
	huge := "<html><body>" + strings.Repeat("x", models.MaxRawHTMLBytes) + "</body></html>"
	e := newFetchExecutorWith(models.StageDiscovered,
		&fakeSources{source: testSource()}, sessionsFor(&fakeSession{body: []byte(huge)}))

	result := e.Process(context.Background(), listingItem())
	require.Nil(t, result.Err)
	assert.Len(t, *result.Fields.RawHTML, models.MaxRawHTMLBytes)
}
