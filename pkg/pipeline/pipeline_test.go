package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/stadspuls/harvester/pkg/config"
	"github.com/stadspuls/harvester/pkg/fetch"
	"github.com/stadspuls/harvester/pkg/models"
	"github.com/stadspuls/harvester/pkg/queue"
	"github.com/stadspuls/harvester/pkg/store"
)

// fakeSources is an in-memory sourceStore.
type fakeSources struct {
	source       *models.Source
	payloadHash  string
	successes    int
	lastExtract  int
	failures     int
	quarantineAt int
}

func (f *fakeSources) Get(_ context.Context, id string) (*models.Source, error) {
	if f.source == nil || f.source.ID != id {
		return nil, store.ErrNotFound
	}
	cp := *f.source
	return &cp, nil
}

func (f *fakeSources) UpdatePayloadHash(_ context.Context, _, hash string) error {
	f.payloadHash = hash
	return nil
}

func (f *fakeSources) RecordSuccess(_ context.Context, _ string, n int) error {
	f.successes++
	f.lastExtract = n
	return nil
}

func (f *fakeSources) RecordFailure(_ context.Context, _ string, quarantineAt int) (int, error) {
	f.failures++
	f.quarantineAt = quarantineAt
	return f.failures, nil
}

// fakeSession is a scripted pageFetcher.
type fakeSession struct {
	body    []byte
	status  int
	err     error
	dynamic bool
	fetched []string
}

func (f *fakeSession) Fetch(_ context.Context, url string) (*fetch.Result, error) {
	f.fetched = append(f.fetched, url)
	if f.err != nil {
		return nil, f.err
	}
	status := f.status
	if status == 0 {
		status = 200
	}
	return &fetch.Result{URL: url, FinalURL: url, StatusCode: status, Body: f.body, Dynamic: f.dynamic}, nil
}

func (f *fakeSession) Dynamic() bool { return f.dynamic }

func sessionsFor(s *fakeSession) sessionFactory {
	return func(*models.Source) pageFetcher { return s }
}

// fakeQueue records minted follow-up items.
type fakeQueue struct {
	enqueued  []queue.EnqueueInput
	extracted []models.RawEventCard
	err       error
}

func (f *fakeQueue) Enqueue(_ context.Context, in queue.EnqueueInput) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.enqueued = append(f.enqueued, in)
	return "new-id", nil
}

func (f *fakeQueue) EnqueueExtracted(_ context.Context, _ queue.EnqueueInput, card json.RawMessage, _ string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	var c models.RawEventCard
	if err := json.Unmarshal(card, &c); err != nil {
		return "", err
	}
	f.extracted = append(f.extracted, c)
	return "new-id", nil
}

// fakeInsights records insight rows.
type fakeInsights struct {
	insights []store.ScrapeInsight
	counts   []map[string]int
}

func (f *fakeInsights) Record(_ context.Context, insight *store.ScrapeInsight, counts map[string]int) error {
	f.insights = append(f.insights, *insight)
	f.counts = append(f.counts, counts)
	return nil
}

// fakeHealer records healing requests.
type fakeHealer struct {
	requests []string
}

func (f *fakeHealer) Request(sourceID string) { f.requests = append(f.requests, sourceID) }

// fakeGeocoder is a scripted geoResolver.
type fakeGeocoder struct {
	coords models.Coordinates
	found  bool
	err    error
	calls  int
}

func (f *fakeGeocoder) Resolve(_ context.Context, _, _, _, _ string) (models.Coordinates, bool, error) {
	f.calls++
	return f.coords, f.found, f.err
}

func testSource() *models.Source {
	return &models.Source{
		ID:      "src-1",
		Name:    "Agenda Amsterdam",
		URL:     "https://agenda.example.nl/events",
		City:    "Amsterdam",
		Country: "nl",
		Enabled: true,
		Tier:    models.TierRegional,
	}
}

func testExtractConfig() *config.ExtractConfig {
	return &config.ExtractConfig{
		MinCards:           1,
		TargetYears:        []int{2026, 2027},
		MaxPaginationDepth: 3,
		MaxGraphDepth:      6,
		AITruncateBytes:    16 * 1024,
	}
}

func testHealingConfig() *config.HealingConfig {
	return &config.HealingConfig{
		FailureThreshold:    3,
		QuarantineThreshold: 10,
		MinMatches:          3,
	}
}

func listingItem() *models.QueueItem {
	return &models.QueueItem{
		ID:        "item-1",
		SourceID:  "src-1",
		SourceURL: "https://agenda.example.nl/events",
		Stage:     models.StageDiscovered,
		CreatedAt: time.Now(),
	}
}

func detailItem(url string) *models.QueueItem {
	item := listingItem()
	item.DetailURL = url
	item.Stage = models.StageAwaitingFetch
	return item
}

func withHTML(item *models.QueueItem, html string) *models.QueueItem {
	item.RawHTML = &html
	return item
}

var errProviderDown = errors.New("provider down")
