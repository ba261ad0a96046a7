package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stadspuls/harvester/pkg/models"
	"github.com/stadspuls/harvester/pkg/normalize"
	"github.com/stadspuls/harvester/pkg/persist"
)

type fakePersister struct {
	outcome *persist.Outcome
	err     error
	seen    []*models.Event
}

func (f *fakePersister) Persist(_ context.Context, e *models.Event) (*persist.Outcome, error) {
	f.seen = append(f.seen, e)
	if f.err != nil {
		return nil, f.err
	}
	if f.outcome != nil {
		return f.outcome, nil
	}
	e.ID = "ev-new"
	return &persist.Outcome{Event: e, Result: models.InsertResultInserted}, nil
}

func newTestPersistExecutor(p *fakePersister) *PersistExecutor {
	return &PersistExecutor{persister: p, norm: normalize.NewNormalizer(testExtractConfig())}
}

func readyItem(card *models.RawEventCard) *models.QueueItem {
	item := enrichingItem(card)
	item.Stage = models.StageReadyToPersist
	return item
}

func TestPersistIndexesWithoutCard(t *testing.T) {
	e := newTestPersistExecutor(&fakePersister{})
	result := e.Process(context.Background(), readyItem(nil))
	require.Nil(t, result.Err)
	assert.Equal(t, models.StageIndexed, result.Next)
	assert.Nil(t, result.Fields)
}

func TestPersistInsertRecordsEventID(t *testing.T) {
	p := &fakePersister{}
	e := newTestPersistExecutor(p)

	result := e.Process(context.Background(), readyItem(testCard()))
	require.Nil(t, result.Err)
	assert.Equal(t, models.StageIndexed, result.Next)
	require.NotNil(t, result.Fields.EventID)
	assert.Equal(t, "ev-new", *result.Fields.EventID)
	assert.Nil(t, result.Fields.DuplicateOf)

	require.Len(t, p.seen, 1)
	assert.Equal(t, "Voorjaarsconcert", p.seen[0].Title)
	assert.Equal(t, "src-1", p.seen[0].SourceID)
	assert.True(t, p.seen[0].TimeKnown)
}

func TestPersistMergeRecordsDuplicateOf(t *testing.T) {
	golden := &models.Event{ID: "ev-golden"}
	p := &fakePersister{outcome: &persist.Outcome{
		Event:       golden,
		Result:      models.InsertResultMerged,
		DuplicateOf: "ev-golden",
	}}
	e := newTestPersistExecutor(p)

	result := e.Process(context.Background(), readyItem(testCard()))
	require.Nil(t, result.Err)
	require.NotNil(t, result.Fields.DuplicateOf)
	assert.Equal(t, "ev-golden", *result.Fields.DuplicateOf)
	assert.Equal(t, "ev-golden", *result.Fields.EventID)
}

func TestPersistAppliesItemCoordinates(t *testing.T) {
	p := &fakePersister{}
	e := newTestPersistExecutor(p)

	item := readyItem(testCard())
	lat, lng := 52.3622, 4.8832
	item.Latitude, item.Longitude = &lat, &lng

	result := e.Process(context.Background(), item)
	require.Nil(t, result.Err)
	require.Len(t, p.seen, 1)
	assert.InDelta(t, 52.3622, *p.seen[0].Latitude, 1e-6)
}

func TestPersistUnassemblableCardIsPermanent(t *testing.T) {
	card := testCard()
	card.EventDate = "geen datum"
	e := newTestPersistExecutor(&fakePersister{})

	result := e.Process(context.Background(), readyItem(card))
	require.NotNil(t, result.Err)
	assert.Equal(t, models.FailurePermanent, result.Level)
}

func TestPersistStoreErrorIsTransient(t *testing.T) {
	e := newTestPersistExecutor(&fakePersister{err: errProviderDown})
	result := e.Process(context.Background(), readyItem(testCard()))
	require.NotNil(t, result.Err)
	assert.Equal(t, models.FailureTransient, result.Level)
}
