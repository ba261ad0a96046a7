package heal

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stadspuls/harvester/pkg/config"
	"github.com/stadspuls/harvester/pkg/models"
	"github.com/stadspuls/harvester/pkg/store"
)

// snapshotHTML is a listing whose markup moved from .event to .agenda-item.
const snapshotHTML = `<html><body><div class="agenda">
<div class="agenda-item"><h3>Voorjaarsconcert</h3><time datetime="2026-09-12">12 sep</time></div>
<div class="agenda-item"><h3>Buurtborrel</h3><time datetime="2026-09-19">19 sep</time></div>
<div class="agenda-item"><h3>Filmavond</h3><time datetime="2026-09-26">26 sep</time></div>
</div></body></html>`

type fakeSources struct {
	source  *models.Source
	applied *models.ExtractionRecipe
}

func (f *fakeSources) Get(_ context.Context, id string) (*models.Source, error) {
	if f.source == nil || f.source.ID != id {
		return nil, store.ErrNotFound
	}
	cp := *f.source
	return &cp, nil
}

func (f *fakeSources) ApplyRecipe(_ context.Context, _ string, recipe *models.ExtractionRecipe) error {
	f.applied = recipe
	return nil
}

type fakeLog struct {
	attempts []store.HealingAttempt
}

func (f *fakeLog) Log(_ context.Context, attempt *store.HealingAttempt, _ *models.ExtractionRecipe) error {
	f.attempts = append(f.attempts, *attempt)
	return nil
}

type fakeFetcher struct {
	html string
	err  error
}

func (f *fakeFetcher) Snapshot(_ context.Context, _ *models.Source) (string, error) {
	return f.html, f.err
}

type fakeClient struct {
	response string
	err      error
	prompts  []string
}

func (f *fakeClient) Complete(_ context.Context, p string) (string, error) { return f.response, f.err }

func (f *fakeClient) CompleteJSON(_ context.Context, p string) (string, error) {
	f.prompts = append(f.prompts, p)
	return f.response, f.err
}

func (f *fakeClient) Embed(context.Context, []string) ([][]float32, error) { return nil, nil }

func decayedSource() *models.Source {
	return &models.Source{
		ID:                  "src-1",
		Name:                "Agenda Amsterdam",
		URL:                 "https://agenda.example.nl/events",
		ConsecutiveFailures: 4,
		Recipe: &models.ExtractionRecipe{
			Item:  ".event",
			Title: "h3",
			Date:  "time",
		},
	}
}

func testHealingConfig() *config.HealingConfig {
	return &config.HealingConfig{
		FailureThreshold:    3,
		QuarantineThreshold: 10,
		MinMatches:          3,
		TruncateBytes:       64 * 1024,
	}
}

func goodProposal() string {
	payload, _ := json.Marshal(map[string]any{
		"item":       ".agenda-item",
		"title":      "h3",
		"date":       "time",
		"confidence": 0.9,
		"reasoning":  "items moved to .agenda-item",
	})
	return string(payload)
}

func newTestHealer(sources *fakeSources, log *fakeLog, client *fakeClient) *Healer {
	return NewHealer(testHealingConfig(), sources, log, client, &fakeFetcher{html: snapshotHTML}, nil)
}

func TestHealSourceAppliesBetterRecipe(t *testing.T) {
	sources := &fakeSources{source: decayedSource()}
	log := &fakeLog{}
	client := &fakeClient{response: goodProposal()}

	attempt, err := newTestHealer(sources, log, client).HealSource(context.Background(), "src-1")
	require.NoError(t, err)
	assert.True(t, attempt.Accepted)
	assert.Equal(t, 0, attempt.OldMatches, "old .event selector no longer matches")
	assert.Equal(t, 3, attempt.NewMatches)

	require.NotNil(t, sources.applied)
	assert.Equal(t, ".agenda-item", sources.applied.Item)
	require.Len(t, log.attempts, 1)

	// The prompt carries both the old recipe and the snapshot.
	require.Len(t, client.prompts, 1)
	assert.Contains(t, client.prompts[0], `".event"`)
	assert.Contains(t, client.prompts[0], "agenda-item")
}

func TestHealSourceRejectsBelowFloor(t *testing.T) {
	payload, _ := json.Marshal(map[string]any{
		"item": ".missing", "title": "h3", "date": "time", "confidence": 0.4,
	})
	sources := &fakeSources{source: decayedSource()}
	log := &fakeLog{}

	attempt, err := newTestHealer(sources, log, &fakeClient{response: string(payload)}).
		HealSource(context.Background(), "src-1")
	assert.ErrorIs(t, err, ErrRejected)
	assert.False(t, attempt.Accepted)
	assert.Nil(t, sources.applied, "rejected recipes are never applied")
	require.Len(t, log.attempts, 1, "rejected attempts are still logged")
}

func TestHealSourceRejectsNoImprovement(t *testing.T) {
	// The old recipe already matches everything; same-count proposals
	// must not churn the stored recipe.
	src := decayedSource()
	src.Recipe.Item = ".agenda-item"
	sources := &fakeSources{source: src}

	_, err := newTestHealer(sources, &fakeLog{}, &fakeClient{response: goodProposal()}).
		HealSource(context.Background(), "src-1")
	assert.ErrorIs(t, err, ErrRejected)
	assert.Nil(t, sources.applied)
}

func TestHealSourceNotEligible(t *testing.T) {
	healthy := decayedSource()
	healthy.ConsecutiveFailures = 1
	_, err := newTestHealer(&fakeSources{source: healthy}, &fakeLog{}, &fakeClient{}).
		HealSource(context.Background(), "src-1")
	assert.ErrorIs(t, err, ErrNotEligible)

	quarantined := decayedSource()
	quarantined.Quarantined = true
	_, err = newTestHealer(&fakeSources{source: quarantined}, &fakeLog{}, &fakeClient{}).
		HealSource(context.Background(), "src-1")
	assert.ErrorIs(t, err, ErrNotEligible)
}

func TestHealSourceFencedModelOutput(t *testing.T) {
	sources := &fakeSources{source: decayedSource()}
	fenced := "```json\n" + goodProposal() + "\n```"

	attempt, err := newTestHealer(sources, &fakeLog{}, &fakeClient{response: fenced}).
		HealSource(context.Background(), "src-1")
	require.NoError(t, err)
	assert.True(t, attempt.Accepted)
}

func TestHealSourceIncompleteProposal(t *testing.T) {
	sources := &fakeSources{source: decayedSource()}
	_, err := newTestHealer(sources, &fakeLog{}, &fakeClient{response: `{"item":".x"}`}).
		HealSource(context.Background(), "src-1")
	assert.Error(t, err)
	assert.Nil(t, sources.applied)
}

func TestCountMatches(t *testing.T) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(snapshotHTML))
	require.NoError(t, err)

	assert.Equal(t, 3, CountMatches(doc, &models.ExtractionRecipe{Item: ".agenda-item", Title: "h3", Date: "time"}))
	assert.Equal(t, 0, CountMatches(doc, &models.ExtractionRecipe{Item: ".event", Title: "h3", Date: "time"}))
	assert.Equal(t, 0, CountMatches(doc, nil))
	assert.Equal(t, 3, CountMatches(doc, &models.ExtractionRecipe{
		Container: ".agenda", Item: ".agenda-item", Title: "h3", Date: "time",
	}))
}
