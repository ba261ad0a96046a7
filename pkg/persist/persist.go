// Package persist writes normalized events into the canonical store:
// dedupe lookup, golden-record merge, embed, insert. A concurrent insert
// losing the fingerprint race degrades to a merge, never to an error.
package persist

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/stadspuls/harvester/pkg/dedup"
	"github.com/stadspuls/harvester/pkg/models"
	"github.com/stadspuls/harvester/pkg/store"
)

// eventStore is the slice of store.EventStore the persister needs.
type eventStore interface {
	GetByContentHash(ctx context.Context, hash string) (*models.Event, error)
	GetByFingerprint(ctx context.Context, fingerprint string) (*models.Event, error)
	Insert(ctx context.Context, e *models.Event) (models.InsertResult, error)
	Update(ctx context.Context, e *models.Event) error
}

// vectorizer computes an event's embedding in place. Failures are
// non-fatal; the re-embed sweep picks the event up later.
type vectorizer interface {
	Embed(ctx context.Context, event *models.Event) error
}

// Outcome reports how one candidate event landed in the store.
type Outcome struct {
	// Event is the canonical record: the freshly inserted one, or the
	// golden record the candidate was merged into.
	Event  *models.Event
	Result models.InsertResult

	// DuplicateOf is set on merges to the golden record's ID.
	DuplicateOf string
}

// Persister lands candidate events in the canonical event store.
type Persister struct {
	events eventStore
	embed  vectorizer
	now    func() time.Time
}

// NewPersister creates a Persister. embed may be nil when embedding is
// disabled.
func NewPersister(events *store.EventStore, embed vectorizer) *Persister {
	return &Persister{events: events, embed: embed, now: time.Now}
}

func newPersisterWith(events eventStore, embed vectorizer) *Persister {
	return &Persister{events: events, embed: embed, now: time.Now}
}

// Persist lands one candidate: merge into an existing record when either
// identity matches, insert otherwise. healed marks candidates arriving
// through the healing path.
func (p *Persister) Persist(ctx context.Context, candidate *models.Event) (*Outcome, error) {
	return p.persist(ctx, candidate, false)
}

// PersistHealed is Persist for re-extracted candidates; merges stamp
// last_healed_at on the golden record.
func (p *Persister) PersistHealed(ctx context.Context, candidate *models.Event) (*Outcome, error) {
	return p.persist(ctx, candidate, true)
}

func (p *Persister) persist(ctx context.Context, candidate *models.Event, healed bool) (*Outcome, error) {
	existing, err := p.lookup(ctx, candidate)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return p.merge(ctx, existing, candidate, healed)
	}

	candidate.ID = uuid.New().String()
	p.vectorize(ctx, candidate)

	result, err := p.events.Insert(ctx, candidate)
	if err != nil {
		return nil, err
	}
	if result == models.InsertResultDuplicateRace {
		// Another worker inserted the same identity between our lookup
		// and insert. Their row is now the golden record.
		winner, err := p.lookup(ctx, candidate)
		if err != nil {
			return nil, err
		}
		if winner == nil {
			return nil, fmt.Errorf("event %s lost insert race but winner not found", candidate.EventFingerprint)
		}
		return p.merge(ctx, winner, candidate, healed)
	}
	return &Outcome{Event: candidate, Result: models.InsertResultInserted}, nil
}

// lookup finds the golden record for a candidate: cross-source content
// hash first, then the within-source fingerprint.
func (p *Persister) lookup(ctx context.Context, candidate *models.Event) (*models.Event, error) {
	existing, err := p.events.GetByContentHash(ctx, candidate.ContentHash)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	existing, err = p.events.GetByFingerprint(ctx, candidate.EventFingerprint)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	return nil, nil
}

func (p *Persister) merge(ctx context.Context, existing, candidate *models.Event, healed bool) (*Outcome, error) {
	result := dedup.Merge(existing, candidate, healed, p.now())
	if result.NeedsReembed {
		existing.Embedding = nil
		p.vectorize(ctx, existing)
	}
	if err := p.events.Update(ctx, existing); err != nil {
		return nil, err
	}
	return &Outcome{
		Event:       existing,
		Result:      models.InsertResultMerged,
		DuplicateOf: existing.ID,
	}, nil
}

// vectorize computes the embedding best-effort. Events persist without a
// vector when the provider is down; the sweep fills them in.
func (p *Persister) vectorize(ctx context.Context, event *models.Event) {
	if p.embed == nil {
		return
	}
	if err := p.embed.Embed(ctx, event); err != nil {
		slog.Warn("Persisting event without embedding", "event_id", event.ID, "error", err)
	}
}
