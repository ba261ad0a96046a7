package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"

	"github.com/stadspuls/harvester/pkg/fetch"
	"github.com/stadspuls/harvester/pkg/metrics"
	"github.com/stadspuls/harvester/pkg/models"
	"github.com/stadspuls/harvester/pkg/queue"
	"github.com/stadspuls/harvester/pkg/store"
)

// errPayloadUnchanged terminates listing items whose page hash matches
// the previous run: there is nothing new to extract.
var errPayloadUnchanged = errors.New("listing payload unchanged since last run")

// sessionFactory mints one fetch session per source run.
type sessionFactory func(source *models.Source) pageFetcher

// FetchExecutor retrieves the page behind a discovered or awaiting_fetch
// item and stores the raw payload plus its markdown rendering.
type FetchExecutor struct {
	stage    models.Stage
	sources  sourceStore
	sessions sessionFactory
}

// NewFetchExecutor builds a fetch executor for one of the two fetch
// stages: discovered (listing roots) or awaiting_fetch (detail pages).
func NewFetchExecutor(stage models.Stage, sources *store.SourceStore, fetchers *Fetchers) *FetchExecutor {
	return &FetchExecutor{stage: stage, sources: sources, sessions: fetchers.Session}
}

func newFetchExecutorWith(stage models.Stage, sources sourceStore, sessions sessionFactory) *FetchExecutor {
	return &FetchExecutor{stage: stage, sources: sources, sessions: sessions}
}

// Stage implements queue.StageExecutor.
func (e *FetchExecutor) Stage() models.Stage { return e.stage }

// Process fetches the item's target URL. Listing roots whose payload
// hash matches the source's previous run terminate early; everything
// else advances to extracting with the payload attached.
func (e *FetchExecutor) Process(ctx context.Context, item *models.QueueItem) *queue.ItemResult {
	source, err := e.sources.Get(ctx, item.SourceID)
	if errors.Is(err, store.ErrNotFound) {
		return queue.Fail(models.FailurePermanent, fmt.Errorf("source %s does not exist", item.SourceID))
	}
	if err != nil {
		return queue.Fail(models.FailureTransient, err)
	}

	sess := e.sessions(source)
	result, err := sess.Fetch(ctx, item.TargetURL())
	if err != nil {
		level := models.FailureTransient
		if !fetch.Transient(err) {
			level = models.FailurePermanent
		}
		return queue.Fail(level, fmt.Errorf("fetch %s: %w", item.TargetURL(), err))
	}
	if sess.Dynamic() && !source.UseProxy && !source.FetchStrategy.Dynamic() {
		metrics.FetchFailovers.Inc()
	}
	if !result.OK() {
		return queue.Fail(fetchFailureLevel(result.StatusCode),
			fmt.Errorf("fetch %s: status %d", item.TargetURL(), result.StatusCode))
	}

	sum := sha256.Sum256(result.Body)
	hash := hex.EncodeToString(sum[:])

	// Listing roots short-circuit when the page has not changed.
	if e.stage == models.StageDiscovered && item.DetailURL == "" {
		if source.LastPayloadHash != nil && *source.LastPayloadHash == hash {
			return queue.Fail(models.FailurePermanent, errPayloadUnchanged)
		}
		if err := e.sources.UpdatePayloadHash(ctx, source.ID, hash); err != nil {
			slog.Warn("Failed to store listing payload hash",
				"source_id", source.ID, "error", err)
		}
	}

	raw := truncateBytes(string(result.Body), models.MaxRawHTMLBytes)
	markdown := renderMarkdown(raw)

	return queue.Advance(models.StageExtracting, &queue.UpdateFields{
		PayloadHash:     &hash,
		RawHTML:         &raw,
		CleanedMarkdown: &markdown,
	})
}

// fetchFailureLevel classifies an HTTP error status. Client errors other
// than the blocking family are permanent; blocks and server errors retry.
func fetchFailureLevel(status int) models.FailureLevel {
	switch status {
	case 403, 407, 408, 429:
		return models.FailureTransient
	}
	if status >= 500 {
		return models.FailureTransient
	}
	return models.FailurePermanent
}

// renderMarkdown converts the raw page to markdown for LLM prompts. A
// conversion failure is not fatal; the raw HTML is still stored.
func renderMarkdown(html string) string {
	markdown, err := htmltomarkdown.ConvertString(html)
	if err != nil {
		slog.Debug("Markdown conversion failed", "error", err)
		return ""
	}
	return truncateBytes(markdown, models.MaxMarkdownBytes)
}

func truncateBytes(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
