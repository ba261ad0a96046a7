// Package heal implements the self-healing selector engine: when a
// source's recipe stops matching its markup, the healer asks the LLM for
// a fresh selector set and accepts it only if it demonstrably outperforms
// the old one on the same snapshot.
package heal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/stadspuls/harvester/pkg/config"
	"github.com/stadspuls/harvester/pkg/llm"
	"github.com/stadspuls/harvester/pkg/metrics"
	"github.com/stadspuls/harvester/pkg/models"
	"github.com/stadspuls/harvester/pkg/store"
)

// Sentinel errors for healing outcomes.
var (
	// ErrRejected indicates the regenerated recipe failed validation.
	ErrRejected = errors.New("regenerated recipe rejected")

	// ErrNotEligible indicates the source does not currently qualify for
	// healing (healthy, quarantined, or already being healed).
	ErrNotEligible = errors.New("source not eligible for healing")
)

// sourceStore is the slice of store.SourceStore the healer needs.
type sourceStore interface {
	Get(ctx context.Context, id string) (*models.Source, error)
	ApplyRecipe(ctx context.Context, id string, recipe *models.ExtractionRecipe) error
}

// attemptLog is the slice of store.HealingStore the healer needs.
type attemptLog interface {
	Log(ctx context.Context, attempt *store.HealingAttempt, recipe *models.ExtractionRecipe) error
}

// snapshotFetcher retrieves the current listing page for a source.
type snapshotFetcher interface {
	Snapshot(ctx context.Context, source *models.Source) (string, error)
}

// notifier is the nil-safe Slack surface the healer reports through.
type notifier interface {
	HealingApplied(ctx context.Context, sourceName string, newMatches int, confidence float64)
	HealingRejected(ctx context.Context, sourceName, reason string)
}

// Healer regenerates extraction recipes for decaying sources. At most one
// attempt per source is in flight at any time.
type Healer struct {
	cfg      *config.HealingConfig
	sources  sourceStore
	log      attemptLog
	client   llm.Client
	fetcher  snapshotFetcher
	notify   notifier
	requests chan string
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	mu       sync.Mutex
	inFlight map[string]bool
}

// NewHealer wires the healing engine. notify may be nil.
func NewHealer(cfg *config.HealingConfig, sources sourceStore, log attemptLog, client llm.Client, fetcher snapshotFetcher, notify notifier) *Healer {
	return &Healer{
		cfg:      cfg,
		sources:  sources,
		log:      log,
		client:   client,
		fetcher:  fetcher,
		notify:   notify,
		requests: make(chan string, 64),
		stopCh:   make(chan struct{}),
		inFlight: make(map[string]bool),
	}
}

// Request queues a healing attempt for a source. Non-blocking; duplicate
// and overflow requests are dropped.
func (h *Healer) Request(sourceID string) {
	h.mu.Lock()
	busy := h.inFlight[sourceID]
	h.mu.Unlock()
	if busy {
		return
	}
	select {
	case h.requests <- sourceID:
	default:
		slog.Warn("Healing request queue full, dropping request", "source_id", sourceID)
	}
}

// Start launches the background healing loop.
func (h *Healer) Start(ctx context.Context) {
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case <-h.stopCh:
				return
			case sourceID := <-h.requests:
				h.handle(ctx, sourceID)
			}
		}
	}()
}

// Stop shuts the healing loop down and waits for the in-flight attempt.
func (h *Healer) Stop() {
	h.stopOnce.Do(func() { close(h.stopCh) })
	h.wg.Wait()
}

func (h *Healer) handle(ctx context.Context, sourceID string) {
	attempt, err := h.HealSource(ctx, sourceID)
	switch {
	case errors.Is(err, llm.ErrRateLimited):
		// Back off and requeue once the provider cools down.
		slog.Info("Healing rate limited, requeueing", "source_id", sourceID)
		time.AfterFunc(time.Minute, func() { h.Request(sourceID) })
	case errors.Is(err, ErrNotEligible):
		slog.Debug("Healing request skipped", "source_id", sourceID, "reason", err)
	case errors.Is(err, ErrRejected):
		slog.Warn("Healing attempt rejected", "source_id", sourceID)
	case err != nil:
		slog.Error("Healing attempt failed", "source_id", sourceID, "error", err)
	default:
		slog.Info("Healing applied",
			"source_id", sourceID,
			"new_matches", attempt.NewMatches,
			"confidence", attempt.Confidence)
	}
}

// HealSource runs one full healing attempt: snapshot, regenerate,
// validate, apply. The attempt is logged whether or not it is accepted.
func (h *Healer) HealSource(ctx context.Context, sourceID string) (*store.HealingAttempt, error) {
	if !h.acquire(sourceID) {
		return nil, fmt.Errorf("%w: attempt already in flight", ErrNotEligible)
	}
	defer h.release(sourceID)

	source, err := h.sources.Get(ctx, sourceID)
	if err != nil {
		return nil, err
	}
	if source.Quarantined {
		return nil, fmt.Errorf("%w: source is quarantined", ErrNotEligible)
	}
	if source.ConsecutiveFailures < h.cfg.FailureThreshold {
		return nil, fmt.Errorf("%w: %d consecutive failures, threshold is %d",
			ErrNotEligible, source.ConsecutiveFailures, h.cfg.FailureThreshold)
	}

	html, err := h.fetcher.Snapshot(ctx, source)
	if err != nil {
		return nil, fmt.Errorf("failed to snapshot source %s: %w", sourceID, err)
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse snapshot for source %s: %w", sourceID, err)
	}
	oldMatches := CountMatches(doc, source.Recipe)

	proposal, err := h.regenerate(ctx, source, html)
	if err != nil {
		return nil, err
	}

	attempt := &store.HealingAttempt{
		SourceID:   sourceID,
		OldMatches: oldMatches,
		Confidence: proposal.Confidence,
		Reasoning:  proposal.Reasoning,
	}
	attempt.NewMatches = CountMatches(doc, proposal.recipe())

	// Acceptance: the new recipe must beat the old one on the exact same
	// snapshot and clear the absolute floor.
	if attempt.NewMatches <= oldMatches || attempt.NewMatches < h.cfg.MinMatches {
		metrics.HealingAttempts.WithLabelValues("rejected").Inc()
		if err := h.log.Log(ctx, attempt, proposal.recipe()); err != nil {
			slog.Warn("Failed to log rejected healing attempt", "source_id", sourceID, "error", err)
		}
		if h.notify != nil {
			h.notify.HealingRejected(ctx, source.Name,
				fmt.Sprintf("%d matches (old %d, floor %d)", attempt.NewMatches, oldMatches, h.cfg.MinMatches))
		}
		return attempt, ErrRejected
	}

	if err := h.sources.ApplyRecipe(ctx, sourceID, proposal.recipe()); err != nil {
		metrics.HealingAttempts.WithLabelValues("failed").Inc()
		return attempt, err
	}
	attempt.Accepted = true
	metrics.HealingAttempts.WithLabelValues("applied").Inc()
	if err := h.log.Log(ctx, attempt, proposal.recipe()); err != nil {
		slog.Warn("Failed to log healing attempt", "source_id", sourceID, "error", err)
	}
	if h.notify != nil {
		h.notify.HealingApplied(ctx, source.Name, attempt.NewMatches, attempt.Confidence)
	}
	return attempt, nil
}

func (h *Healer) acquire(sourceID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.inFlight[sourceID] {
		return false
	}
	h.inFlight[sourceID] = true
	return true
}

func (h *Healer) release(sourceID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.inFlight, sourceID)
}

// recipeProposal is the JSON shape the model must return.
type recipeProposal struct {
	Container   string  `json:"container"`
	Item        string  `json:"item"`
	Title       string  `json:"title"`
	Date        string  `json:"date"`
	Link        string  `json:"link"`
	Image       string  `json:"image"`
	Description string  `json:"description"`
	Location    string  `json:"location"`
	Time        string  `json:"time"`
	Confidence  float64 `json:"confidence"`
	Reasoning   string  `json:"reasoning"`
}

func (p *recipeProposal) recipe() *models.ExtractionRecipe {
	return &models.ExtractionRecipe{
		Container:   p.Container,
		Item:        p.Item,
		Title:       p.Title,
		Date:        p.Date,
		Link:        p.Link,
		Image:       p.Image,
		Description: p.Description,
		Location:    p.Location,
		Time:        p.Time,
	}
}

const healPromptTemplate = `You repair CSS selector recipes for an event listing scraper.

The previous recipe stopped matching this site's markup. Study the HTML
below and return a new recipe as strict JSON with these keys:
container, item, title, date, link, image, description, location, time,
confidence (0.0-1.0), reasoning (one sentence).

Rules:
- "item" must select one element per event on the page.
- "title" and "date" are required and are relative to the item element.
- Optional keys may be empty strings.
- Return ONLY the JSON object.

Previous recipe:
%s

HTML:
%s`

// regenerate asks the model for a fresh recipe given the page snapshot.
func (h *Healer) regenerate(ctx context.Context, source *models.Source, html string) (*recipeProposal, error) {
	oldRecipe := "(none)"
	if !source.Recipe.Empty() {
		if encoded, err := json.Marshal(source.Recipe); err == nil {
			oldRecipe = string(encoded)
		}
	}

	truncated := html
	if h.cfg.TruncateBytes > 0 && len(truncated) > h.cfg.TruncateBytes {
		truncated = truncated[:h.cfg.TruncateBytes]
	}

	out, err := h.client.CompleteJSON(ctx, fmt.Sprintf(healPromptTemplate, oldRecipe, truncated))
	if err != nil {
		return nil, fmt.Errorf("recipe regeneration for source %s: %w", source.ID, err)
	}

	var proposal recipeProposal
	if err := json.Unmarshal([]byte(llm.StripCodeFence(out)), &proposal); err != nil {
		return nil, fmt.Errorf("model returned unparsable recipe for source %s: %w", source.ID, err)
	}
	if proposal.Item == "" || proposal.Title == "" || proposal.Date == "" {
		return nil, fmt.Errorf("model returned incomplete recipe for source %s: %w", source.ID, ErrRejected)
	}
	return &proposal, nil
}

// CountMatches counts items on the page where the recipe's required
// selectors both produce text. This is the validation metric.
func CountMatches(doc *goquery.Document, recipe *models.ExtractionRecipe) int {
	if recipe.Empty() {
		return 0
	}
	scope := doc.Selection
	if recipe.Container != "" {
		scope = doc.Find(recipe.Container)
	}

	count := 0
	scope.Find(recipe.Item).Each(func(_ int, item *goquery.Selection) {
		title := strings.TrimSpace(item.Find(recipe.Title).First().Text())
		date := selectorText(item, recipe.Date)
		if title != "" && date != "" {
			count++
		}
	})
	return count
}

// selectorText reads text, preferring a datetime attribute when present.
func selectorText(item *goquery.Selection, selector string) string {
	sel := item.Find(selector).First()
	if v, ok := sel.Attr("datetime"); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return strings.TrimSpace(sel.Text())
}
