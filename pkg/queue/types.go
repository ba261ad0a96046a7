// Package queue implements the staged queue over the harvest_queue table:
// atomic claims, validated stage transitions, retry accounting, stalled
// claim reaping, and the per-stage worker pool. The datastore is the
// broker; workers hold no connections beyond their in-flight batch.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/stadspuls/harvester/pkg/models"
)

// Sentinel errors for queue operations.
var (
	// ErrNoItemsAvailable indicates no claimable items are in the stage.
	ErrNoItemsAvailable = errors.New("no items available")

	// ErrStageConflict indicates an advance against a stage that is not
	// the allowed predecessor, or an item that moved underneath us.
	ErrStageConflict = errors.New("stage conflict")

	// ErrItemNotFound indicates the queue item does not exist.
	ErrItemNotFound = errors.New("queue item not found")
)

// UpdateFields carries the payload columns an advance may write. Nil
// pointers leave the column untouched.
type UpdateFields struct {
	PayloadHash     *string
	RawHTML         *string
	CleanedMarkdown *string
	ExtractedData   json.RawMessage
	ContentHash     *string
	Latitude        *float64
	Longitude       *float64
	DuplicateOf     *string
	EventID         *string
}

// ItemResult is the outcome of processing one claimed item.
//
// When Err is nil the item advances to Next with Fields applied. When Err
// is set the item is failed at the given level; transient failures within
// the attempt budget are retried with backoff.
type ItemResult struct {
	Next   models.Stage
	Fields *UpdateFields

	Err   error
	Level models.FailureLevel
}

// Advance builds a success result.
func Advance(next models.Stage, fields *UpdateFields) *ItemResult {
	return &ItemResult{Next: next, Fields: fields}
}

// Fail builds a failure result.
func Fail(level models.FailureLevel, err error) *ItemResult {
	return &ItemResult{Err: err, Level: level}
}

// StageExecutor processes items of one stage. Implementations own the
// entire per-item work; the worker only claims, applies results, and
// reports.
type StageExecutor interface {
	Stage() models.Stage
	Process(ctx context.Context, item *models.QueueItem) *ItemResult
}

// WorkerStatus represents the current state of a worker.
type WorkerStatus string

// Worker status constants.
const (
	WorkerStatusIdle    WorkerStatus = "idle"
	WorkerStatusWorking WorkerStatus = "working"
)

// WorkerHealth contains health information for a single worker.
type WorkerHealth struct {
	ID             string       `json:"id"`
	Stage          models.Stage `json:"stage"`
	Status         WorkerStatus `json:"status"`
	ItemsProcessed int          `json:"items_processed"`
	ItemsFailed    int          `json:"items_failed"`
	LastActivity   time.Time    `json:"last_activity"`
}

// PoolHealth contains health information for the entire worker pool.
type PoolHealth struct {
	IsHealthy    bool                   `json:"is_healthy"`
	DBReachable  bool                   `json:"db_reachable"`
	PodID        string                 `json:"pod_id"`
	TotalWorkers int                    `json:"total_workers"`
	StageDepths  map[models.Stage]int   `json:"stage_depths"`
	WorkerStats  []WorkerHealth         `json:"worker_stats"`
	LastReap     time.Time              `json:"last_reap"`
	ItemsReaped  int                    `json:"items_reaped"`
}
