package coordinator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stadspuls/harvester/pkg/config"
	"github.com/stadspuls/harvester/pkg/models"
	"github.com/stadspuls/harvester/pkg/queue"
)

type fakeScheduler struct {
	due       []models.Source
	limit     int
	scheduled map[string]time.Time
}

func (f *fakeScheduler) DueForScraping(_ context.Context, _ time.Time, limit int) ([]models.Source, error) {
	f.limit = limit
	if len(f.due) > limit {
		return f.due[:limit], nil
	}
	return f.due, nil
}

func (f *fakeScheduler) MarkScheduled(_ context.Context, id string, next time.Time) error {
	if f.scheduled == nil {
		f.scheduled = make(map[string]time.Time)
	}
	f.scheduled[id] = next
	return nil
}

type fakeWorkQueue struct {
	depths   map[models.Stage]int
	enqueued []queue.EnqueueInput
	dupFrom  int // inputs at or past this index report "already in flight"
}

func (f *fakeWorkQueue) Enqueue(_ context.Context, in queue.EnqueueInput) (string, error) {
	f.enqueued = append(f.enqueued, in)
	if f.dupFrom > 0 && len(f.enqueued) > f.dupFrom {
		return "", nil
	}
	return "item-id", nil
}

func (f *fakeWorkQueue) CountByStage(context.Context) (map[models.Stage]int, error) {
	if f.depths == nil {
		return map[models.Stage]int{}, nil
	}
	return f.depths, nil
}

func testCoordinatorConfig() *config.CoordinatorConfig {
	return &config.CoordinatorConfig{
		Interval:              time.Minute,
		BatchSize:             10,
		ScrapeInterval:        6 * time.Hour,
		BackpressureThreshold: 500,
	}
}

func dueSources() []models.Source {
	return []models.Source{
		{ID: "src-metro", URL: "https://metro.example.nl/agenda", Tier: models.TierMetropolis},
		{ID: "src-local", URL: "https://local.example.nl/agenda", Tier: models.TierLocal},
	}
}

func newTestCoordinator(s *fakeScheduler, q *fakeWorkQueue) *Coordinator {
	c := NewCoordinator(testCoordinatorConfig(), s, q, nil)
	c.now = func() time.Time { return time.Date(2026, 8, 24, 9, 0, 0, 0, time.UTC) }
	return c
}

func TestRunOnceMintsListingItems(t *testing.T) {
	scheduler := &fakeScheduler{due: dueSources()}
	q := &fakeWorkQueue{}

	report, err := newTestCoordinator(scheduler, q).RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, report.SourcesDue)
	assert.Equal(t, 2, report.ItemsMinted)
	assert.False(t, report.Backpressured)

	require.Len(t, q.enqueued, 2)
	assert.Equal(t, models.StageDiscovered, q.enqueued[0].Stage)
	assert.Equal(t, "https://metro.example.nl/agenda", q.enqueued[0].SourceURL)
	assert.Equal(t, 3, q.enqueued[0].Priority, "metropolis sources carry top priority")
	assert.Equal(t, 0, q.enqueued[1].Priority)

	next := scheduler.scheduled["src-metro"]
	assert.Equal(t, time.Date(2026, 8, 24, 15, 0, 0, 0, time.UTC), next,
		"next scrape lands one scrape interval out")
}

func TestRunOnceBackpressureHalvesBatch(t *testing.T) {
	scheduler := &fakeScheduler{due: dueSources()}
	q := &fakeWorkQueue{depths: map[models.Stage]int{models.StageReadyToPersist: 900}}

	report, err := newTestCoordinator(scheduler, q).RunOnce(context.Background())
	require.NoError(t, err)
	assert.True(t, report.Backpressured)
	assert.Equal(t, 5, scheduler.limit, "batch of 10 halves under backpressure")
}

func TestRunOnceBackpressureNeverStopsMinting(t *testing.T) {
	cfg := testCoordinatorConfig()
	cfg.BatchSize = 1
	scheduler := &fakeScheduler{due: dueSources()}
	q := &fakeWorkQueue{depths: map[models.Stage]int{models.StageReadyToPersist: 900}}

	c := NewCoordinator(cfg, scheduler, q, nil)
	_, err := c.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, scheduler.limit, "halving a batch of 1 still mints 1")
}

func TestRunOnceCountsOnlyFreshMints(t *testing.T) {
	scheduler := &fakeScheduler{due: dueSources()}
	q := &fakeWorkQueue{dupFrom: 1}

	report, err := newTestCoordinator(scheduler, q).RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.ItemsMinted, "in-flight duplicates are not counted")
	require.Len(t, scheduler.scheduled, 2, "even duplicated sources advance their schedule")
}
