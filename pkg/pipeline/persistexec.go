package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/stadspuls/harvester/pkg/config"
	"github.com/stadspuls/harvester/pkg/metrics"
	"github.com/stadspuls/harvester/pkg/models"
	"github.com/stadspuls/harvester/pkg/normalize"
	"github.com/stadspuls/harvester/pkg/persist"
	"github.com/stadspuls/harvester/pkg/queue"
)

// eventPersister is the slice of persist.Persister the executor needs.
type eventPersister interface {
	Persist(ctx context.Context, candidate *models.Event) (*persist.Outcome, error)
}

// PersistExecutor lands ready cards in the canonical event store and
// closes out their queue items.
type PersistExecutor struct {
	persister eventPersister
	norm      *normalize.Normalizer
}

// NewPersistExecutor wires the persist stage.
func NewPersistExecutor(cfg *config.ExtractConfig, persister *persist.Persister) *PersistExecutor {
	return &PersistExecutor{persister: persister, norm: normalize.NewNormalizer(cfg)}
}

// Stage implements queue.StageExecutor.
func (e *PersistExecutor) Stage() models.Stage { return models.StageReadyToPersist }

// Process builds the canonical event from the item's card and lands it.
// Items without a card (listing pass-throughs) index immediately.
func (e *PersistExecutor) Process(ctx context.Context, item *models.QueueItem) *queue.ItemResult {
	card, err := item.DecodeExtracted()
	if err != nil {
		return queue.Fail(models.FailurePermanent, fmt.Errorf("corrupt extracted payload: %w", err))
	}
	if card == nil {
		return queue.Advance(models.StageIndexed, nil)
	}

	event, err := e.norm.BuildEvent(card, item.SourceID)
	if err != nil {
		return queue.Fail(models.FailurePermanent, fmt.Errorf("failed to assemble event %q: %w", card.Title, err))
	}
	if coords := item.Coordinates(); coords.Valid() {
		event.Latitude = item.Latitude
		event.Longitude = item.Longitude
		event.QualityScore = normalize.QualityScore(event, time.Now())
	}

	outcome, err := e.persister.Persist(ctx, event)
	if err != nil {
		return queue.Fail(models.FailureTransient, fmt.Errorf("failed to persist %q: %w", card.Title, err))
	}
	metrics.EventsPersisted.WithLabelValues(outcome.Result.String()).Inc()

	fields := &queue.UpdateFields{EventID: &outcome.Event.ID}
	if outcome.DuplicateOf != "" {
		fields.DuplicateOf = &outcome.DuplicateOf
	}
	return queue.Advance(models.StageIndexed, fields)
}
