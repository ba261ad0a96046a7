package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/stadspuls/harvester/pkg/config"
	"github.com/stadspuls/harvester/pkg/models"
)

// Pool manages the per-stage workers plus the stalled-claim reaper.
type Pool struct {
	podID     string
	manager   *Manager
	cfg       *config.QueueConfig
	signal    *Signal
	executors []StageExecutor
	workers   []*Worker
	stopCh    chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup
	started   bool

	// Reaper state
	mu          sync.Mutex
	lastReap    time.Time
	itemsReaped int
}

// NewPool creates a worker pool for the given stage executors.
func NewPool(podID string, manager *Manager, cfg *config.QueueConfig, signal *Signal, executors []StageExecutor) *Pool {
	return &Pool{
		podID:     podID,
		manager:   manager,
		cfg:       cfg,
		signal:    signal,
		executors: executors,
		stopCh:    make(chan struct{}),
	}
}

// Start releases this pod's stale claims, then spawns the stage workers
// and the reaper. Safe to call multiple times; later calls are no-ops.
func (p *Pool) Start(ctx context.Context) error {
	if p.started {
		slog.Warn("Worker pool already started, ignoring duplicate Start call", "pod_id", p.podID)
		return nil
	}
	p.started = true

	released, err := p.manager.ReleaseOwned(ctx, p.podID)
	if err != nil {
		return fmt.Errorf("startup claim release failed: %w", err)
	}
	if released > 0 {
		slog.Warn("Released claims from previous run", "pod_id", p.podID, "count", released)
	}

	slog.Info("Starting worker pool",
		"pod_id", p.podID,
		"stages", len(p.executors),
		"workers_per_stage", p.cfg.WorkersPerStage)

	for _, executor := range p.executors {
		for i := 0; i < p.cfg.WorkersPerStage; i++ {
			workerID := fmt.Sprintf("%s-%s-%d", p.podID, executor.Stage(), i)
			worker := NewWorker(workerID, p.manager, p.cfg, executor, p.signal)
			p.workers = append(p.workers, worker)
			worker.Start(ctx)
		}
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.runReaper(ctx)
	}()

	slog.Info("Worker pool started", "workers", len(p.workers))
	return nil
}

// Stop signals all workers to stop and waits for in-flight batches.
func (p *Pool) Stop() {
	slog.Info("Stopping worker pool gracefully")
	for _, worker := range p.workers {
		worker.Stop()
	}
	p.stopOnce.Do(func() { close(p.stopCh) })
	p.wg.Wait()
	slog.Info("Worker pool stopped gracefully")
}

// runReaper periodically releases stalled claims. Every pod runs this
// independently; the statement is idempotent.
func (p *Pool) runReaper(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.ReapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-p.cfg.StalledClaimCutoff)
			reaped, err := p.manager.ReapStalled(ctx, cutoff)
			if err != nil {
				slog.Error("Stalled claim reaping failed", "error", err)
				continue
			}
			if reaped > 0 {
				slog.Warn("Reaped stalled claims", "count", reaped)
			}
			p.mu.Lock()
			p.lastReap = time.Now()
			p.itemsReaped += int(reaped)
			p.mu.Unlock()
		}
	}
}

// Health returns the current health status of the pool.
func (p *Pool) Health(ctx context.Context) *PoolHealth {
	depths, err := p.manager.CountByStage(ctx)
	dbReachable := err == nil
	if err != nil {
		slog.Error("Failed to query stage depths for health check", "pod_id", p.podID, "error", err)
	}

	workerStats := make([]WorkerHealth, len(p.workers))
	for i, worker := range p.workers {
		workerStats[i] = worker.Health()
	}

	p.mu.Lock()
	lastReap := p.lastReap
	itemsReaped := p.itemsReaped
	p.mu.Unlock()

	return &PoolHealth{
		IsHealthy:    dbReachable && len(p.workers) > 0,
		DBReachable:  dbReachable,
		PodID:        p.podID,
		TotalWorkers: len(p.workers),
		StageDepths:  depths,
		WorkerStats:  workerStats,
		LastReap:     lastReap,
		ItemsReaped:  itemsReaped,
	}
}

// RunStageOnce claims and processes a single batch for one stage, for the
// HTTP trigger surface. Returns processed and failed counts.
func (p *Pool) RunStageOnce(ctx context.Context, stage models.Stage, workerID string, limit int) (processed, failed int, errs []string) {
	var executor StageExecutor
	for _, e := range p.executors {
		if e.Stage() == stage {
			executor = e
			break
		}
	}
	if executor == nil {
		return 0, 0, []string{fmt.Sprintf("no executor registered for stage %s", stage)}
	}
	if limit <= 0 || limit > p.cfg.BatchSize {
		limit = p.cfg.BatchSize
	}
	if workerID == "" {
		workerID = fmt.Sprintf("%s-http-%s", p.podID, stage)
	}

	items, err := p.manager.ClaimForStage(ctx, stage, workerID, limit)
	if err != nil {
		if err == ErrNoItemsAvailable {
			return 0, 0, nil
		}
		return 0, 0, []string{err.Error()}
	}

	for i := range items {
		item := &items[i]
		result := executor.Process(ctx, item)
		if result == nil || result.Err != nil {
			failed++
			reason := "executor returned nil result"
			level := models.FailureTransient
			if result != nil {
				reason = result.Err.Error()
				level = result.Level
			}
			errs = append(errs, fmt.Sprintf("%s: %s", item.ID, reason))
			if _, ferr := p.manager.RecordFailure(ctx, item.ID, level, reason); ferr != nil {
				errs = append(errs, ferr.Error())
			}
			continue
		}
		if err := p.manager.AdvanceStage(ctx, item.ID, item.Stage, result.Next, result.Fields); err != nil {
			failed++
			errs = append(errs, err.Error())
			continue
		}
		processed++
	}
	return processed, failed, errs
}
