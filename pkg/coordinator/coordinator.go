// Package coordinator schedules source scrapes: on every tick it picks
// the sources that are due, mints their listing-root queue items, and
// wakes the fetch workers. Backpressure from the persist backlog halves
// the minting rate instead of stopping it.
package coordinator

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/stadspuls/harvester/pkg/config"
	"github.com/stadspuls/harvester/pkg/metrics"
	"github.com/stadspuls/harvester/pkg/models"
	"github.com/stadspuls/harvester/pkg/queue"
)

// sourceScheduler is the slice of store.SourceStore the coordinator needs.
type sourceScheduler interface {
	DueForScraping(ctx context.Context, now time.Time, limit int) ([]models.Source, error)
	MarkScheduled(ctx context.Context, id string, next time.Time) error
}

// workQueue mints items and reports backlog depths.
type workQueue interface {
	Enqueue(ctx context.Context, in queue.EnqueueInput) (string, error)
	CountByStage(ctx context.Context) (map[models.Stage]int, error)
}

// waker wakes stage workers after minting.
type waker interface {
	Nudge(stage models.Stage)
}

// RunReport summarizes one coordinator pass.
type RunReport struct {
	SourcesDue    int  `json:"sources_due"`
	ItemsMinted   int  `json:"items_minted"`
	Backpressured bool `json:"backpressured"`
}

// Coordinator runs the scheduling loop.
type Coordinator struct {
	cfg      *config.CoordinatorConfig
	sources  sourceScheduler
	queue    workQueue
	signal   waker
	now      func() time.Time
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewCoordinator wires the scheduler. signal may be nil.
func NewCoordinator(cfg *config.CoordinatorConfig, sources sourceScheduler, q workQueue, signal *queue.Signal) *Coordinator {
	c := &Coordinator{
		cfg:     cfg,
		sources: sources,
		queue:   q,
		now:     time.Now,
		stopCh:  make(chan struct{}),
	}
	if signal != nil {
		c.signal = signal
	}
	return c
}

// Start launches the periodic scheduling loop.
func (c *Coordinator) Start(ctx context.Context) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(c.cfg.Interval)
		defer ticker.Stop()

		slog.Info("Coordinator started", "interval", c.cfg.Interval, "batch_size", c.cfg.BatchSize)
		for {
			select {
			case <-ctx.Done():
				return
			case <-c.stopCh:
				return
			case <-ticker.C:
				if _, err := c.RunOnce(ctx); err != nil {
					slog.Error("Coordinator pass failed", "error", err)
				}
			}
		}
	}()
}

// Stop shuts the scheduling loop down.
func (c *Coordinator) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
	c.wg.Wait()
}

// RunOnce executes a single scheduling pass. Also the HTTP trigger body.
func (c *Coordinator) RunOnce(ctx context.Context) (*RunReport, error) {
	report := &RunReport{}

	limit := c.cfg.BatchSize
	depths, err := c.queue.CountByStage(ctx)
	if err != nil {
		return nil, err
	}
	for stage, depth := range depths {
		metrics.QueueDepth.WithLabelValues(string(stage)).Set(float64(depth))
	}
	if depths[models.StageReadyToPersist] > c.cfg.BackpressureThreshold {
		// The persister is behind; feed it less, never nothing.
		limit = max(limit/2, 1)
		report.Backpressured = true
		slog.Warn("Persist backlog high, halving source batch",
			"backlog", depths[models.StageReadyToPersist],
			"threshold", c.cfg.BackpressureThreshold)
	}

	now := c.now()
	due, err := c.sources.DueForScraping(ctx, now, limit)
	if err != nil {
		return nil, err
	}
	report.SourcesDue = len(due)

	for i := range due {
		source := &due[i]
		id, err := c.queue.Enqueue(ctx, queue.EnqueueInput{
			SourceID:  source.ID,
			SourceURL: source.URL,
			Stage:     models.StageDiscovered,
			Priority:  source.Tier.SchedulingPriority(),
		})
		if err != nil {
			slog.Error("Failed to mint listing item", "source_id", source.ID, "error", err)
			continue
		}
		if id != "" {
			report.ItemsMinted++
		}
		if err := c.sources.MarkScheduled(ctx, source.ID, now.Add(c.cfg.ScrapeInterval)); err != nil {
			slog.Warn("Failed to advance source schedule", "source_id", source.ID, "error", err)
		}
	}

	if report.ItemsMinted > 0 && c.signal != nil {
		c.signal.Nudge(models.StageDiscovered)
	}
	slog.Debug("Coordinator pass complete",
		"due", report.SourcesDue, "minted", report.ItemsMinted, "backpressured", report.Backpressured)
	return report, nil
}
