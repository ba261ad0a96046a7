// Package cleanup runs the background maintenance sweeps: trimming page
// payloads off terminal queue items, evicting expired geocode cache rows,
// and re-embedding events that were persisted without a vector.
package cleanup

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/stadspuls/harvester/pkg/config"
)

// reembedSweepLimit bounds one re-embed pass so a long provider outage
// does not turn the first healthy sweep into a bulk job.
const reembedSweepLimit = 200

// payloadTrimmer is the slice of queue.Manager the janitor needs.
type payloadTrimmer interface {
	TrimPayloads(ctx context.Context, cutoff time.Time) (int64, error)
}

// cacheEvicter is the slice of store.GeoCacheStore the janitor needs.
type cacheEvicter interface {
	Evict(ctx context.Context) (int64, error)
}

// reembedder is the slice of embedder.Embedder the janitor needs.
type reembedder interface {
	SweepMissing(ctx context.Context, limit int) (int, error)
}

// Janitor runs the periodic maintenance sweeps.
type Janitor struct {
	cfg      *config.RetentionConfig
	queue    payloadTrimmer
	geocache cacheEvicter
	embed    reembedder
	now      func() time.Time
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewJanitor wires the maintenance sweeps. geocache and embed may be nil.
func NewJanitor(cfg *config.RetentionConfig, queue payloadTrimmer, geocache cacheEvicter, embed reembedder) *Janitor {
	return &Janitor{
		cfg:      cfg,
		queue:    queue,
		geocache: geocache,
		embed:    embed,
		now:      time.Now,
		stopCh:   make(chan struct{}),
	}
}

// Start launches the periodic sweep loop.
func (j *Janitor) Start(ctx context.Context) {
	j.wg.Add(1)
	go func() {
		defer j.wg.Done()
		ticker := time.NewTicker(j.cfg.Interval)
		defer ticker.Stop()

		slog.Info("Cleanup janitor started",
			"interval", j.cfg.Interval, "payload_ttl", j.cfg.PayloadTTL)
		for {
			select {
			case <-ctx.Done():
				return
			case <-j.stopCh:
				return
			case <-ticker.C:
				j.RunOnce(ctx)
			}
		}
	}()
}

// Stop shuts the sweep loop down.
func (j *Janitor) Stop() {
	j.stopOnce.Do(func() { close(j.stopCh) })
	j.wg.Wait()
}

// RunOnce executes one full maintenance pass. Sweeps are independent; a
// failing sweep never blocks the others.
func (j *Janitor) RunOnce(ctx context.Context) {
	cutoff := j.now().Add(-j.cfg.PayloadTTL)
	trimmed, err := j.queue.TrimPayloads(ctx, cutoff)
	if err != nil {
		slog.Error("Payload trim sweep failed", "error", err)
	} else if trimmed > 0 {
		slog.Info("Trimmed terminal item payloads", "count", trimmed)
	}

	if j.geocache != nil {
		evicted, err := j.geocache.Evict(ctx)
		if err != nil {
			slog.Error("Geocode cache eviction failed", "error", err)
		} else if evicted > 0 {
			slog.Info("Evicted expired geocode cache rows", "count", evicted)
		}
	}

	if j.embed != nil {
		embedded, err := j.embed.SweepMissing(ctx, reembedSweepLimit)
		if err != nil {
			slog.Error("Re-embed sweep failed", "error", err)
		} else if embedded > 0 {
			slog.Info("Backfilled missing embeddings", "count", embedded)
		}
	}
}
