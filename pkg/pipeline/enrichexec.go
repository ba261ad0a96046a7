package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/stadspuls/harvester/pkg/enrich"
	"github.com/stadspuls/harvester/pkg/metrics"
	"github.com/stadspuls/harvester/pkg/models"
	"github.com/stadspuls/harvester/pkg/queue"
	"github.com/stadspuls/harvester/pkg/store"
)

// geoResolver is the slice of enrich.Geocoder the executor needs.
type geoResolver interface {
	Resolve(ctx context.Context, venue, city, country, html string) (models.Coordinates, bool, error)
}

// imageRelocator is the slice of enrich.ImageRelocator the executor needs.
type imageRelocator interface {
	Relocate(ctx context.Context, imageURL string) string
}

// EnrichExecutor resolves coordinates and relocates images for one card.
// It serves both the enriching stage and the geo_incomplete retry lane;
// the lane decides what a geocoder outage does to the item.
type EnrichExecutor struct {
	stage    models.Stage
	sources  sourceStore
	geocoder geoResolver
	images   imageRelocator
}

// NewEnrichExecutor wires the enrichment stage. geocoder and images may
// be nil, disabling the respective enrichment.
func NewEnrichExecutor(stage models.Stage, sources *store.SourceStore, geocoder *enrich.Geocoder, images *enrich.ImageRelocator) *EnrichExecutor {
	e := &EnrichExecutor{stage: stage, sources: sources}
	if geocoder != nil {
		e.geocoder = geocoder
	}
	if images != nil {
		e.images = images
	}
	return e
}

// Stage implements queue.StageExecutor.
func (e *EnrichExecutor) Stage() models.Stage { return e.stage }

// Process enriches the item's card. Items without a card (listing
// pass-throughs) advance untouched.
func (e *EnrichExecutor) Process(ctx context.Context, item *models.QueueItem) *queue.ItemResult {
	card, err := item.DecodeExtracted()
	if err != nil {
		return queue.Fail(models.FailurePermanent, fmt.Errorf("corrupt extracted payload: %w", err))
	}
	if card == nil {
		return queue.Advance(models.StageReadyToPersist, nil)
	}

	source, err := e.sources.Get(ctx, item.SourceID)
	if errors.Is(err, store.ErrNotFound) {
		return queue.Fail(models.FailurePermanent, fmt.Errorf("source %s does not exist", item.SourceID))
	}
	if err != nil {
		return queue.Fail(models.FailureTransient, err)
	}

	if e.images != nil && card.ImageURL != "" {
		card.ImageURL = e.images.Relocate(ctx, card.ImageURL)
	}

	fields, result := e.resolveCoordinates(ctx, item, card, source)
	if result != nil {
		return result
	}

	payload, err := json.Marshal(card)
	if err != nil {
		return queue.Fail(models.FailurePermanent, fmt.Errorf("failed to encode card %q: %w", card.Title, err))
	}
	fields.ExtractedData = payload
	return queue.Advance(models.StageReadyToPersist, fields)
}

// resolveCoordinates runs the geocoder ladder. A non-nil second return
// short-circuits Process with a lateral move or a failure.
func (e *EnrichExecutor) resolveCoordinates(ctx context.Context, item *models.QueueItem, card *models.RawEventCard, source *models.Source) (*queue.UpdateFields, *queue.ItemResult) {
	fields := &queue.UpdateFields{}

	// The retry lane may already carry coordinates from a partial pass.
	if item.Coordinates().Valid() {
		return fields, nil
	}
	if e.geocoder == nil {
		return fields, nil
	}

	html := ""
	if item.RawHTML != nil {
		html = *item.RawHTML
	}

	coords, found, err := e.geocoder.Resolve(ctx, card.VenueName, source.City, source.Country, html)
	if err != nil {
		metrics.GeocodeResults.WithLabelValues("error").Inc()
		if e.stage == models.StageEnriching {
			// Providers are down or rate-limited: park the item in the
			// retry lane instead of burning its attempt budget.
			slog.Info("Geocoding unavailable, parking item",
				"item_id", item.ID, "venue", card.VenueName, "error", err)
			payload, merr := json.Marshal(card)
			if merr != nil {
				return nil, queue.Fail(models.FailurePermanent, merr)
			}
			return nil, queue.Advance(models.StageGeoIncomplete, &queue.UpdateFields{ExtractedData: payload})
		}
		return nil, queue.Fail(models.FailureTransient, fmt.Errorf("geocoding %q: %w", card.VenueName, err))
	}
	if found {
		metrics.GeocodeResults.WithLabelValues("hit").Inc()
		fields.Latitude = &coords.Lat
		fields.Longitude = &coords.Lng
		return fields, nil
	}

	// A clean miss is final: the event persists without coordinates.
	metrics.GeocodeResults.WithLabelValues("miss").Inc()
	return fields, nil
}
