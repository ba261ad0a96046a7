package queue

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/stadspuls/harvester/pkg/config"
	"github.com/stadspuls/harvester/pkg/models"
)

// Worker is a single stage worker that polls for, claims, and processes
// batches of queue items.
type Worker struct {
	id       string
	manager  *Manager
	cfg      *config.QueueConfig
	executor StageExecutor
	signal   *Signal
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	// Health tracking
	mu             sync.RWMutex
	status         WorkerStatus
	itemsProcessed int
	itemsFailed    int
	lastActivity   time.Time
}

// NewWorker creates a stage worker. signal may be nil (no cross-stage
// wake-ups).
func NewWorker(id string, manager *Manager, cfg *config.QueueConfig, executor StageExecutor, signal *Signal) *Worker {
	return &Worker{
		id:           id,
		manager:      manager,
		cfg:          cfg,
		executor:     executor,
		signal:       signal,
		stopCh:       make(chan struct{}),
		status:       WorkerStatusIdle,
		lastActivity: time.Now(),
	}
}

// Start begins the worker polling loop in a goroutine.
func (w *Worker) Start(ctx context.Context) {
	w.wg.Add(1)
	go w.run(ctx)
}

// Stop signals the worker to stop and waits for its in-flight batch.
// It is safe to call Stop multiple times.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
	w.wg.Wait()
}

// Health returns the current worker health snapshot.
func (w *Worker) Health() WorkerHealth {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return WorkerHealth{
		ID:             w.id,
		Stage:          w.executor.Stage(),
		Status:         w.status,
		ItemsProcessed: w.itemsProcessed,
		ItemsFailed:    w.itemsFailed,
		LastActivity:   w.lastActivity,
	}
}

// run is the main worker loop.
func (w *Worker) run(ctx context.Context) {
	defer w.wg.Done()

	log := slog.With("worker_id", w.id, "stage", w.executor.Stage())
	log.Info("Worker started")

	var wake <-chan struct{}
	if w.signal != nil {
		wake = w.signal.Wake(w.executor.Stage())
	}

	for {
		select {
		case <-w.stopCh:
			log.Info("Worker shutting down")
			return
		case <-ctx.Done():
			log.Info("Context cancelled, worker shutting down")
			return
		default:
		}

		full, err := w.claimAndProcess(ctx)
		switch {
		case err == nil && full:
			// Queue likely non-empty: go straight back for more.
			continue
		case errors.Is(err, ErrNoItemsAvailable) || err == nil:
			w.sleep(w.pollInterval(), wake)
		default:
			log.Error("Batch processing error", "error", err)
			w.sleep(time.Second, nil)
		}
	}
}

// sleep waits for the duration, a wake signal, or stop.
func (w *Worker) sleep(d time.Duration, wake <-chan struct{}) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	if wake == nil {
		select {
		case <-w.stopCh:
		case <-timer.C:
		}
		return
	}
	select {
	case <-w.stopCh:
	case <-timer.C:
	case <-wake:
	}
}

// claimAndProcess claims one batch and processes every item at the item
// boundary: a single bad item never fails the batch. Returns whether the
// batch came back full.
func (w *Worker) claimAndProcess(ctx context.Context) (bool, error) {
	items, err := w.manager.ClaimForStage(ctx, w.executor.Stage(), w.id, w.cfg.BatchSize)
	if err != nil {
		return false, err
	}

	log := slog.With("worker_id", w.id, "stage", w.executor.Stage())
	log.Debug("Batch claimed", "count", len(items))

	w.setStatus(WorkerStatusWorking)
	defer w.setStatus(WorkerStatusIdle)

	// Soft deadline for the whole batch; items not reached before it
	// expires stay claimed and are released by the reaper.
	batchCtx, cancel := context.WithTimeout(ctx, w.cfg.BatchDeadline)
	defer cancel()

	for i := range items {
		if batchCtx.Err() != nil {
			log.Warn("Batch deadline exceeded, releasing remainder",
				"remaining", len(items)-i)
			break
		}
		w.processItem(batchCtx, &items[i])
	}

	return len(items) == w.cfg.BatchSize, nil
}

// processItem runs the executor on one item and applies the result.
func (w *Worker) processItem(ctx context.Context, item *models.QueueItem) {
	log := slog.With("worker_id", w.id, "item_id", item.ID, "stage", item.Stage)

	result := w.executor.Process(ctx, item)
	if result == nil {
		result = Fail(models.FailureTransient, errors.New("executor returned nil result"))
	}

	// Result application uses a fresh context: the batch context may have
	// expired while the item itself completed.
	applyCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if result.Err != nil {
		w.countFailure()
		stage, err := w.manager.RecordFailure(applyCtx, item.ID, result.Level, result.Err.Error())
		if err != nil {
			log.Error("Failed to record item failure", "error", err)
			return
		}
		log.Warn("Item failed", "level", result.Level, "new_stage", stage, "reason", result.Err)
		return
	}

	if err := w.manager.AdvanceStage(applyCtx, item.ID, item.Stage, result.Next, result.Fields); err != nil {
		log.Error("Failed to advance item", "next", result.Next, "error", err)
		return
	}
	w.countSuccess()
	log.Debug("Item advanced", "next", result.Next)

	if w.signal != nil && !result.Next.Terminal() {
		w.signal.Nudge(result.Next)
	}
}

// pollInterval returns the poll duration with jitter.
func (w *Worker) pollInterval() time.Duration {
	base := w.cfg.PollInterval
	jitter := w.cfg.PollIntervalJitter
	if jitter <= 0 {
		return base
	}
	// Range: [base - jitter, base + jitter]
	offset := time.Duration(rand.Int64N(int64(2 * jitter)))
	return base - jitter + offset
}

func (w *Worker) setStatus(status WorkerStatus) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.status = status
	w.lastActivity = time.Now()
}

func (w *Worker) countSuccess() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.itemsProcessed++
	w.lastActivity = time.Now()
}

func (w *Worker) countFailure() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.itemsFailed++
	w.lastActivity = time.Now()
}
