package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/stadspuls/harvester/pkg/config"
	"github.com/stadspuls/harvester/pkg/extract"
	"github.com/stadspuls/harvester/pkg/metrics"
	"github.com/stadspuls/harvester/pkg/models"
	"github.com/stadspuls/harvester/pkg/normalize"
	"github.com/stadspuls/harvester/pkg/queue"
	"github.com/stadspuls/harvester/pkg/store"
)

// errNoPayload terminates items that reached extracting without a stored
// page, which only happens after manual queue surgery.
var errNoPayload = errors.New("no fetched payload on item")

// insightRecorder is the slice of store.InsightStore the executor needs.
type insightRecorder interface {
	Record(ctx context.Context, insight *store.ScrapeInsight, counts map[string]int) error
}

// ExtractExecutor runs the strategy waterfall over a fetched page,
// normalizes the cards, and fans the results out: detail items carry
// their own card forward, listing items mint follow-up work.
type ExtractExecutor struct {
	cfg      *config.ExtractConfig
	healCfg  *config.HealingConfig
	sources  sourceStore
	queue    enqueuer
	insights insightRecorder
	norm     *normalize.Normalizer
	sessions sessionFactory
	ai       extract.Strategy
	healer   healNotifier
}

// NewExtractExecutor wires the extraction stage. ai and healer may be
// nil, disabling the AI fallback and healing requests respectively.
func NewExtractExecutor(
	cfg *config.ExtractConfig, healCfg *config.HealingConfig,
	sources *store.SourceStore, q *queue.Manager, insights *store.InsightStore,
	fetchers *Fetchers, ai extract.Strategy, healer healNotifier,
) *ExtractExecutor {
	return &ExtractExecutor{
		cfg:      cfg,
		healCfg:  healCfg,
		sources:  sources,
		queue:    q,
		insights: insights,
		norm:     normalize.NewNormalizer(cfg),
		sessions: fetchers.Session,
		ai:       ai,
		healer:   healer,
	}
}

// Stage implements queue.StageExecutor.
func (e *ExtractExecutor) Stage() models.Stage { return models.StageExtracting }

// Process extracts cards from the item's stored page.
func (e *ExtractExecutor) Process(ctx context.Context, item *models.QueueItem) *queue.ItemResult {
	source, err := e.sources.Get(ctx, item.SourceID)
	if errors.Is(err, store.ErrNotFound) {
		return queue.Fail(models.FailurePermanent, fmt.Errorf("source %s does not exist", item.SourceID))
	}
	if err != nil {
		return queue.Fail(models.FailureTransient, err)
	}
	if item.RawHTML == nil || *item.RawHTML == "" {
		return queue.Fail(models.FailurePermanent, errNoPayload)
	}

	sess := e.sessions(source)
	fetchAux := func(ctx context.Context, url string) ([]byte, int, error) {
		res, err := sess.Fetch(ctx, url)
		if err != nil {
			return nil, 0, err
		}
		return res.Body, res.StatusCode, nil
	}

	page := &extract.Page{URL: item.TargetURL(), HTML: *item.RawHTML, Source: source}
	outcome, err := extract.NewWaterfall(e.cfg, fetchAux, e.ai).Run(ctx, page)
	if err != nil {
		return queue.Fail(models.FailureTransient, fmt.Errorf("extraction of %s: %w", item.TargetURL(), err))
	}

	cards := e.normalizeCards(outcome.Cards)
	e.recordInsight(ctx, source.ID, item, outcome, len(cards))

	if len(cards) == 0 {
		e.noteExtractionMiss(ctx, source)
		return queue.Fail(models.FailurePermanent,
			fmt.Errorf("no events extracted from %s (cms=%s)", item.TargetURL(), outcome.CMSLabel))
	}

	metrics.CardsExtracted.WithLabelValues(string(outcome.Winner)).Add(float64(len(cards)))
	if err := e.sources.RecordSuccess(ctx, source.ID, len(cards)); err != nil {
		slog.Warn("Failed to record source success", "source_id", source.ID, "error", err)
	}

	// Detail items carry their own single card forward.
	if item.DetailURL != "" {
		return advanceWithCard(models.StageEnriching, &cards[0])
	}
	return e.fanOutListing(ctx, item, source, outcome, cards)
}

// normalizeCards validates and fills each card, dropping rejects.
func (e *ExtractExecutor) normalizeCards(raw []models.RawEventCard) []models.RawEventCard {
	cards := make([]models.RawEventCard, 0, len(raw))
	for i := range raw {
		card := raw[i]
		if err := e.norm.Normalize(&card); err != nil {
			switch {
			case errors.Is(err, normalize.ErrNotAnEvent):
				metrics.CardsRejected.WithLabelValues("noise").Inc()
			case errors.Is(err, normalize.ErrInvalidDate):
				metrics.CardsRejected.WithLabelValues("date").Inc()
			default:
				metrics.CardsRejected.WithLabelValues("other").Inc()
			}
			continue
		}
		cards = append(cards, card)
	}
	return cards
}

// fanOutListing mints follow-up items for every card on a listing page,
// plus the next pagination page, then advances the listing item itself.
func (e *ExtractExecutor) fanOutListing(ctx context.Context, item *models.QueueItem, source *models.Source, outcome *extract.Outcome, cards []models.RawEventCard) *queue.ItemResult {
	for i := range cards {
		card := &cards[i]
		if card.DetailURL != "" {
			// The detail page is fetched and re-extracted on its own item.
			_, err := e.queue.Enqueue(ctx, queue.EnqueueInput{
				SourceID:  source.ID,
				SourceURL: item.SourceURL,
				DetailURL: card.DetailURL,
				Stage:     models.StageAwaitingFetch,
				Priority:  item.Priority,
			})
			if err != nil {
				return queue.Fail(models.FailureTransient, err)
			}
			continue
		}

		payload, err := json.Marshal(card)
		if err != nil {
			return queue.Fail(models.FailurePermanent, fmt.Errorf("failed to encode card %q: %w", card.Title, err))
		}
		hash := models.ContentHash(card.Title, card.EventDate)
		_, err = e.queue.EnqueueExtracted(ctx, queue.EnqueueInput{
			SourceID:  source.ID,
			SourceURL: item.SourceURL,
			Priority:  item.Priority,
		}, payload, hash)
		if err != nil {
			return queue.Fail(models.FailureTransient, err)
		}
	}

	if outcome.NextPageURL != "" && item.PaginationDepth < e.maxDepth(source) {
		_, err := e.queue.Enqueue(ctx, queue.EnqueueInput{
			SourceID:        source.ID,
			SourceURL:       outcome.NextPageURL,
			Stage:           models.StageDiscovered,
			Priority:        item.Priority,
			PaginationDepth: item.PaginationDepth + 1,
		})
		if err != nil {
			slog.Warn("Failed to enqueue pagination page",
				"source_id", source.ID, "url", outcome.NextPageURL, "error", err)
		}
	}

	// The listing item itself carries no card; it rides through the
	// remaining stages as a pass-through marker.
	return queue.Advance(models.StageEnriching, nil)
}

func (e *ExtractExecutor) maxDepth(source *models.Source) int {
	if source.PaginationDepth > 0 {
		return source.PaginationDepth
	}
	return e.cfg.MaxPaginationDepth
}

// noteExtractionMiss bumps the source failure counter and, past the
// healing threshold, asks the healing engine to regenerate the recipe.
func (e *ExtractExecutor) noteExtractionMiss(ctx context.Context, source *models.Source) {
	failures, err := e.sources.RecordFailure(ctx, source.ID, e.healCfg.QuarantineThreshold)
	if err != nil {
		slog.Warn("Failed to record source failure", "source_id", source.ID, "error", err)
		return
	}
	if e.healer != nil && failures >= e.healCfg.FailureThreshold && failures < e.healCfg.QuarantineThreshold {
		e.healer.Request(source.ID)
	}
}

func (e *ExtractExecutor) recordInsight(ctx context.Context, sourceID string, item *models.QueueItem, outcome *extract.Outcome, eventsFound int) {
	if e.insights == nil {
		return
	}
	counts := make(map[string]int, len(outcome.StrategyCounts))
	for method, n := range outcome.StrategyCounts {
		counts[string(method)] = n
	}
	insight := &store.ScrapeInsight{
		SourceID:        sourceID,
		CMSLabel:        outcome.CMSLabel,
		WinningStrategy: string(outcome.Winner),
		ParseMS:         outcome.ParseDuration.Milliseconds(),
		HTMLBytes:       int64(len(*item.RawHTML)),
		EventsFound:     eventsFound,
	}
	if err := e.insights.Record(ctx, insight, counts); err != nil {
		slog.Warn("Failed to record scrape insight", "source_id", sourceID, "error", err)
	}
}

// advanceWithCard encodes a card into the item's extracted_data payload.
func advanceWithCard(next models.Stage, card *models.RawEventCard) *queue.ItemResult {
	payload, err := json.Marshal(card)
	if err != nil {
		return queue.Fail(models.FailurePermanent, fmt.Errorf("failed to encode card %q: %w", card.Title, err))
	}
	hash := models.ContentHash(card.Title, card.EventDate)
	return queue.Advance(next, &queue.UpdateFields{
		ExtractedData: payload,
		ContentHash:   &hash,
	})
}
