package persist

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stadspuls/harvester/pkg/models"
	"github.com/stadspuls/harvester/pkg/store"
)

// fakeEventStore is an in-memory eventStore keyed on both identities.
type fakeEventStore struct {
	byHash        map[string]*models.Event
	byFingerprint map[string]*models.Event
	inserts       int
	updates       int

	// raceOnce makes the next Insert report a duplicate race and plant
	// the racing winner, simulating a concurrent worker.
	raceOnce   bool
	raceWinner *models.Event
}

func newFakeEventStore() *fakeEventStore {
	return &fakeEventStore{
		byHash:        make(map[string]*models.Event),
		byFingerprint: make(map[string]*models.Event),
	}
}

func (f *fakeEventStore) GetByContentHash(_ context.Context, hash string) (*models.Event, error) {
	if e, ok := f.byHash[hash]; ok {
		return e, nil
	}
	return nil, store.ErrNotFound
}

func (f *fakeEventStore) GetByFingerprint(_ context.Context, fp string) (*models.Event, error) {
	if e, ok := f.byFingerprint[fp]; ok {
		return e, nil
	}
	return nil, store.ErrNotFound
}

func (f *fakeEventStore) Insert(_ context.Context, e *models.Event) (models.InsertResult, error) {
	if f.raceOnce {
		f.raceOnce = false
		f.put(f.raceWinner)
		return models.InsertResultDuplicateRace, nil
	}
	f.inserts++
	f.put(e)
	return models.InsertResultInserted, nil
}

func (f *fakeEventStore) Update(_ context.Context, e *models.Event) error {
	f.updates++
	f.put(e)
	return nil
}

func (f *fakeEventStore) put(e *models.Event) {
	f.byHash[e.ContentHash] = e
	f.byFingerprint[e.EventFingerprint] = e
}

type fakeVectorizer struct {
	calls int
	err   error
}

func (f *fakeVectorizer) Embed(_ context.Context, event *models.Event) error {
	f.calls++
	if f.err != nil {
		return f.err
	}
	event.Embedding = make([]float32, models.EmbeddingDim)
	return nil
}

func candidateEvent(title, date, sourceID string) *models.Event {
	return &models.Event{
		SourceID:         sourceID,
		Title:            title,
		Description:      "Het jaarlijkse voorjaarsconcert met het stadsorkest.",
		EventDate:        time.Date(2026, 4, 12, 20, 0, 0, 0, time.UTC),
		EventTime:        "20:00",
		TimeKnown:        true,
		ContentHash:      models.ContentHash(title, date),
		EventFingerprint: models.EventFingerprint(title, date, sourceID),
	}
}

func TestPersistInsertsNewEvent(t *testing.T) {
	st := newFakeEventStore()
	vec := &fakeVectorizer{}
	p := newPersisterWith(st, vec)

	outcome, err := p.Persist(context.Background(), candidateEvent("Voorjaarsconcert", "2026-04-12", "src-a"))
	require.NoError(t, err)
	assert.Equal(t, models.InsertResultInserted, outcome.Result)
	assert.NotEmpty(t, outcome.Event.ID)
	assert.Empty(t, outcome.DuplicateOf)
	assert.Equal(t, 1, st.inserts)
	assert.Equal(t, 1, vec.calls)
	assert.Len(t, outcome.Event.Embedding, models.EmbeddingDim)
}

func TestPersistEmbedFailureStillInserts(t *testing.T) {
	st := newFakeEventStore()
	vec := &fakeVectorizer{err: errors.New("provider down")}
	p := newPersisterWith(st, vec)

	outcome, err := p.Persist(context.Background(), candidateEvent("Voorjaarsconcert", "2026-04-12", "src-a"))
	require.NoError(t, err)
	assert.Equal(t, models.InsertResultInserted, outcome.Result)
	assert.Nil(t, outcome.Event.Embedding, "the event lands without a vector")
}

func TestPersistMergesCrossSourceDuplicate(t *testing.T) {
	st := newFakeEventStore()
	p := newPersisterWith(st, nil)

	first, err := p.Persist(context.Background(), candidateEvent("Voorjaarsconcert", "2026-04-12", "src-a"))
	require.NoError(t, err)

	// Same title+date from another source: content hashes collide.
	incoming := candidateEvent("Voorjaarsconcert", "2026-04-12", "src-b")
	incoming.VenueName = "Paradiso"
	second, err := p.Persist(context.Background(), incoming)
	require.NoError(t, err)

	assert.Equal(t, models.InsertResultMerged, second.Result)
	assert.Equal(t, first.Event.ID, second.Event.ID)
	assert.Equal(t, first.Event.ID, second.DuplicateOf)
	assert.Equal(t, "Paradiso", second.Event.VenueName, "merge filled the empty venue")
	assert.Equal(t, 1, st.inserts)
	assert.Equal(t, 1, st.updates)
}

func TestPersistMergeAdoptsLearnedTime(t *testing.T) {
	st := newFakeEventStore()
	p := newPersisterWith(st, nil)

	vague := candidateEvent("Voorjaarsconcert", "2026-04-12", "src-a")
	vague.EventDate = time.Date(2026, 4, 12, 0, 0, 0, 0, time.UTC)
	vague.EventTime = "TBD"
	vague.TimeKnown = false
	_, err := p.Persist(context.Background(), vague)
	require.NoError(t, err)

	outcome, err := p.Persist(context.Background(), candidateEvent("Voorjaarsconcert", "2026-04-12", "src-b"))
	require.NoError(t, err)
	require.Equal(t, models.InsertResultMerged, outcome.Result)

	stored := st.byHash[outcome.Event.ContentHash]
	assert.True(t, stored.TimeKnown, "the merge must persist the time it learned")
	assert.Equal(t, "20:00", stored.EventTime)
	assert.Equal(t, time.Date(2026, 4, 12, 20, 0, 0, 0, time.UTC), stored.EventDate)
}

func TestPersistRerunMergesOnFingerprint(t *testing.T) {
	st := newFakeEventStore()
	p := newPersisterWith(st, nil)

	first, err := p.Persist(context.Background(), candidateEvent("Voorjaarsconcert", "2026-04-12", "src-a"))
	require.NoError(t, err)

	second, err := p.Persist(context.Background(), candidateEvent("Voorjaarsconcert", "2026-04-12", "src-a"))
	require.NoError(t, err)
	assert.Equal(t, models.InsertResultMerged, second.Result)
	assert.Equal(t, first.Event.ID, second.DuplicateOf)
}

func TestPersistDuplicateRaceDegradesToMerge(t *testing.T) {
	st := newFakeEventStore()
	winner := candidateEvent("Voorjaarsconcert", "2026-04-12", "src-a")
	winner.ID = "winner-id"
	st.raceOnce = true
	st.raceWinner = winner

	p := newPersisterWith(st, nil)
	outcome, err := p.Persist(context.Background(), candidateEvent("Voorjaarsconcert", "2026-04-12", "src-a"))
	require.NoError(t, err)

	assert.Equal(t, models.InsertResultMerged, outcome.Result)
	assert.Equal(t, "winner-id", outcome.Event.ID)
	assert.Equal(t, "winner-id", outcome.DuplicateOf)
	assert.Equal(t, 0, st.inserts, "our insert lost the race")
	assert.Equal(t, 1, st.updates)
}

func TestPersistReembedsOnMaterialDescriptionChange(t *testing.T) {
	st := newFakeEventStore()
	vec := &fakeVectorizer{}
	p := newPersisterWith(st, vec)

	_, err := p.Persist(context.Background(), candidateEvent("Voorjaarsconcert", "2026-04-12", "src-a"))
	require.NoError(t, err)
	require.Equal(t, 1, vec.calls)

	richer := candidateEvent("Voorjaarsconcert", "2026-04-12", "src-b")
	richer.Description = "Het jaarlijkse voorjaarsconcert met het stadsorkest, dit keer met gastoptredens van het jeugdorkest en een borrel na afloop in de foyer van het gebouw."
	outcome, err := p.Persist(context.Background(), richer)
	require.NoError(t, err)

	assert.Equal(t, models.InsertResultMerged, outcome.Result)
	assert.Equal(t, 2, vec.calls, "a materially new description re-embeds the golden record")
}

func TestPersistHealedStampsGoldenRecord(t *testing.T) {
	st := newFakeEventStore()
	p := newPersisterWith(st, nil)

	_, err := p.Persist(context.Background(), candidateEvent("Voorjaarsconcert", "2026-04-12", "src-a"))
	require.NoError(t, err)

	outcome, err := p.PersistHealed(context.Background(), candidateEvent("Voorjaarsconcert", "2026-04-12", "src-a"))
	require.NoError(t, err)
	assert.NotNil(t, outcome.Event.LastHealedAt)
}
