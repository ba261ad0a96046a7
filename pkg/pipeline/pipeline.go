// Package pipeline wires the stage executors: the per-stage units of work
// that workers run against claimed queue items. Each executor owns one
// stage transition; the queue worker applies the result.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/stadspuls/harvester/pkg/config"
	"github.com/stadspuls/harvester/pkg/fetch"
	"github.com/stadspuls/harvester/pkg/models"
	"github.com/stadspuls/harvester/pkg/queue"
)

// sourceStore is the slice of store.SourceStore the executors need.
type sourceStore interface {
	Get(ctx context.Context, id string) (*models.Source, error)
	UpdatePayloadHash(ctx context.Context, id, hash string) error
	RecordSuccess(ctx context.Context, id string, eventsExtracted int) error
	RecordFailure(ctx context.Context, id string, quarantineAt int) (int, error)
}

// enqueuer mints follow-up queue items (detail fetches, pagination,
// extracted cards).
type enqueuer interface {
	Enqueue(ctx context.Context, in queue.EnqueueInput) (string, error)
	EnqueueExtracted(ctx context.Context, in queue.EnqueueInput, card json.RawMessage, contentHash string) (string, error)
}

// pageFetcher is one source-scoped fetch session.
type pageFetcher interface {
	Fetch(ctx context.Context, url string) (*fetch.Result, error)
	Dynamic() bool
}

// healNotifier asks the healing engine to look at a decaying source.
// Requests are advisory and must never block.
type healNotifier interface {
	Request(sourceID string)
}

// Fetchers bundles the shared fetch infrastructure. Sessions are minted
// per item so failover state stays scoped to one source run.
type Fetchers struct {
	Cfg     *config.FetchConfig
	Static  *fetch.StaticFetcher
	Dynamic *fetch.DynamicFetcher
	Limiter *fetch.HostLimiter
}

// NewFetchers builds the shared fetch stack from config.
func NewFetchers(cfg *config.FetchConfig) *Fetchers {
	return &Fetchers{
		Cfg:     cfg,
		Static:  fetch.NewStaticFetcher(cfg),
		Dynamic: fetch.NewDynamicFetcher(cfg),
		Limiter: fetch.NewHostLimiter(cfg.DefaultHostDelay),
	}
}

// Session mints a fetch session for one source run.
func (f *Fetchers) Session(source *models.Source) pageFetcher {
	return fetch.NewSession(f.Cfg, f.Static, f.Dynamic, f.Limiter, source)
}

// Snapshot fetches the source's listing root once, for the healing
// engine's before/after validation.
func (f *Fetchers) Snapshot(ctx context.Context, source *models.Source) (string, error) {
	result, err := f.Session(source).Fetch(ctx, source.URL)
	if err != nil {
		return "", err
	}
	if !result.OK() {
		return "", fmt.Errorf("snapshot of %s: status %d", source.URL, result.StatusCode)
	}
	return string(result.Body), nil
}
