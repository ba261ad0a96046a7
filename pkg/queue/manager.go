package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/stadspuls/harvester/pkg/config"
	"github.com/stadspuls/harvester/pkg/models"
)

// Manager exposes the four queue primitives: claim, advance, fail, reap.
// Every operation is a single serializable round trip; there is no
// select-then-update anywhere.
type Manager struct {
	db  *sqlx.DB
	cfg *config.QueueConfig
}

// NewManager creates a queue Manager.
func NewManager(db *sqlx.DB, cfg *config.QueueConfig) *Manager {
	return &Manager{db: db, cfg: cfg}
}

// ClaimForStage atomically claims up to limit items in stage for workerID,
// stamping owner and claim timestamp and incrementing attempts. Selection
// prefers the oldest claim timestamp (creation time if never claimed),
// then highest priority. Rows locked by concurrent claimers are skipped.
func (m *Manager) ClaimForStage(ctx context.Context, stage models.Stage, workerID string, limit int) ([]models.QueueItem, error) {
	var items []models.QueueItem
	err := m.db.SelectContext(ctx, &items, `
		UPDATE harvest_queue q SET
			claim_owner = $1,
			claim_at = now(),
			attempts = attempts + 1,
			updated_at = now()
		FROM (
			SELECT id FROM harvest_queue
			WHERE stage = $2
			  AND claim_owner IS NULL
			  AND (not_before IS NULL OR not_before <= now())
			ORDER BY COALESCE(claim_at, created_at) ASC, priority DESC
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		) c
		WHERE q.id = c.id
		RETURNING q.*`, workerID, stage, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to claim items for stage %s: %w", stage, err)
	}
	if len(items) == 0 {
		return nil, ErrNoItemsAvailable
	}
	return items, nil
}

// AdvanceStage moves an item from its current stage to next, writes the
// payload fields, and clears the claim. The transition must be a legal
// edge and the row must still be in the expected stage; anything else is
// an ErrStageConflict.
func (m *Manager) AdvanceStage(ctx context.Context, itemID string, from, to models.Stage, fields *UpdateFields) error {
	if !models.CanAdvance(from, to) {
		return fmt.Errorf("%w: %s → %s is not a legal transition", ErrStageConflict, from, to)
	}

	set := []string{
		"stage = :to",
		"prior_stage = :from",
		"claim_owner = NULL",
		"claim_at = NULL",
		"not_before = NULL",
		"last_failure_reason = NULL",
		"updated_at = now()",
	}
	args := map[string]any{"id": itemID, "from": from, "to": to}

	if fields != nil {
		for col, val := range fields.columns() {
			set = append(set, fmt.Sprintf("%s = :%s", col, col))
			args[col] = val
		}
	}

	query := fmt.Sprintf(
		`UPDATE harvest_queue SET %s WHERE id = :id AND stage = :from`,
		strings.Join(set, ", "))

	res, err := m.db.NamedExecContext(ctx, query, args)
	if err != nil {
		return fmt.Errorf("failed to advance item %s to %s: %w", itemID, to, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: item %s is no longer in stage %s", ErrStageConflict, itemID, from)
	}
	return nil
}

// columns maps the set optional fields to their column values.
func (f *UpdateFields) columns() map[string]any {
	cols := map[string]any{}
	if f.PayloadHash != nil {
		cols["payload_hash"] = *f.PayloadHash
	}
	if f.RawHTML != nil {
		cols["raw_html"] = *f.RawHTML
	}
	if f.CleanedMarkdown != nil {
		cols["cleaned_markdown"] = *f.CleanedMarkdown
	}
	if f.ExtractedData != nil {
		cols["extracted_data"] = []byte(f.ExtractedData)
	}
	if f.ContentHash != nil {
		cols["content_hash"] = *f.ContentHash
	}
	if f.Latitude != nil {
		cols["latitude"] = *f.Latitude
	}
	if f.Longitude != nil {
		cols["longitude"] = *f.Longitude
	}
	if f.DuplicateOf != nil {
		cols["duplicate_of"] = *f.DuplicateOf
	}
	if f.EventID != nil {
		cols["event_id"] = *f.EventID
	}
	return cols
}

// RecordFailure releases the claim and accounts the failure. Transient
// failures within the attempt budget keep the item in its stage with an
// exponential not-before delay (base × 2^(attempts-1), exponent capped);
// permanent failures and exhausted budgets move the item to failed.
// Returns the resulting stage.
func (m *Manager) RecordFailure(ctx context.Context, itemID string, level models.FailureLevel, reason string) (models.Stage, error) {
	permanent := level == models.FailurePermanent

	var stage models.Stage
	err := m.db.GetContext(ctx, &stage, `
		UPDATE harvest_queue SET
			claim_owner = NULL,
			claim_at = NULL,
			last_failure_reason = $2,
			prior_stage = CASE WHEN ($3 OR attempts >= $4) THEN stage ELSE prior_stage END,
			not_before = CASE WHEN ($3 OR attempts >= $4) THEN NULL
				ELSE now() + make_interval(secs => $5 * power(2, LEAST(attempts, 6) - 1)) END,
			stage = CASE WHEN ($3 OR attempts >= $4) THEN 'failed' ELSE stage END,
			updated_at = now()
		WHERE id = $1
		RETURNING stage`,
		itemID, truncateReason(reason), permanent, m.cfg.MaxAttempts,
		m.cfg.RetryBackoffBase.Seconds())
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrItemNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to record failure for item %s: %w", itemID, err)
	}
	return stage, nil
}

// ReapStalled releases any claim older than cutoff and treats the item as
// a transient failure. Returns the number of items released.
func (m *Manager) ReapStalled(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := m.db.ExecContext(ctx, `
		UPDATE harvest_queue SET
			claim_owner = NULL,
			claim_at = NULL,
			last_failure_reason = 'reaped: claim stalled past cutoff',
			prior_stage = CASE WHEN attempts >= $2 THEN stage ELSE prior_stage END,
			not_before = CASE WHEN attempts >= $2 THEN NULL
				ELSE now() + make_interval(secs => $3) END,
			stage = CASE WHEN attempts >= $2 THEN 'failed' ELSE stage END,
			updated_at = now()
		WHERE claim_owner IS NOT NULL AND claim_at < $1`,
		cutoff, m.cfg.MaxAttempts, m.cfg.RetryBackoffBase.Seconds())
	if err != nil {
		return 0, fmt.Errorf("failed to reap stalled claims: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// ReleaseOwned unclaims every item held by owners with the given prefix.
// Called once at startup so items claimed by a previous crash of this pod
// become immediately claimable again.
func (m *Manager) ReleaseOwned(ctx context.Context, ownerPrefix string) (int64, error) {
	res, err := m.db.ExecContext(ctx, `
		UPDATE harvest_queue SET
			claim_owner = NULL,
			claim_at = NULL,
			last_failure_reason = 'released: pod restarted mid-claim',
			updated_at = now()
		WHERE claim_owner LIKE $1 || '%'`, ownerPrefix)
	if err != nil {
		return 0, fmt.Errorf("failed to release owned claims: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// Retry moves a failed item back to discovered — the one legal backwards
// edge — and resets its attempt budget.
func (m *Manager) Retry(ctx context.Context, itemID string) error {
	res, err := m.db.ExecContext(ctx, `
		UPDATE harvest_queue SET
			stage = 'discovered',
			prior_stage = 'failed',
			attempts = 0,
			not_before = NULL,
			last_failure_reason = NULL,
			updated_at = now()
		WHERE id = $1 AND stage = 'failed'`, itemID)
	if err != nil {
		return fmt.Errorf("failed to retry item %s: %w", itemID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: item %s is not in failed", ErrStageConflict, itemID)
	}
	return nil
}

// EnqueueInput describes a new queue item to mint.
type EnqueueInput struct {
	SourceID        string
	SourceURL       string
	DetailURL       string
	Stage           models.Stage
	Priority        int
	PaginationDepth int
}

// Enqueue mints a queue item unless an identical non-terminal item is
// already in flight for the same source and target URL.
func (m *Manager) Enqueue(ctx context.Context, in EnqueueInput) (string, error) {
	if in.Stage == "" {
		in.Stage = models.StageDiscovered
	}
	id := uuid.New().String()
	res, err := m.db.ExecContext(ctx, `
		INSERT INTO harvest_queue (id, source_id, source_url, detail_url, stage, priority, pagination_depth)
		SELECT $1, $2, $3, $4, $5, $6, $7
		WHERE NOT EXISTS (
			SELECT 1 FROM harvest_queue
			WHERE source_id = $2 AND source_url = $3 AND detail_url = $4
			  AND stage NOT IN ('indexed', 'failed')
		)`,
		id, in.SourceID, in.SourceURL, in.DetailURL, in.Stage, in.Priority, in.PaginationDepth)
	if err != nil {
		return "", fmt.Errorf("failed to enqueue item for source %s: %w", in.SourceID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return "", nil // identical item already in flight
	}
	return id, nil
}

// EnqueueExtracted mints an item directly at enriching, carrying a card
// already extracted from a listing page. Deduplication runs on the
// content hash: a non-terminal item for the same candidate is left alone.
func (m *Manager) EnqueueExtracted(ctx context.Context, in EnqueueInput, card json.RawMessage, contentHash string) (string, error) {
	id := uuid.New().String()
	res, err := m.db.ExecContext(ctx, `
		INSERT INTO harvest_queue (id, source_id, source_url, detail_url, stage, priority, extracted_data, content_hash)
		SELECT $1, $2, $3, $4, 'enriching', $5, $6, $7
		WHERE NOT EXISTS (
			SELECT 1 FROM harvest_queue
			WHERE content_hash = $7 AND stage NOT IN ('indexed', 'failed')
		)`,
		id, in.SourceID, in.SourceURL, in.DetailURL, in.Priority, []byte(card), contentHash)
	if err != nil {
		return "", fmt.Errorf("failed to enqueue extracted card for source %s: %w", in.SourceID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return "", nil // same candidate already in flight
	}
	return id, nil
}

// TrimPayloads drops the stored page payloads from terminal items older
// than cutoff. The rows themselves stay for audit; only the blobs go.
func (m *Manager) TrimPayloads(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := m.db.ExecContext(ctx, `
		UPDATE harvest_queue SET
			raw_html = NULL,
			cleaned_markdown = NULL,
			payload_hash = NULL
		WHERE stage IN ('indexed', 'failed')
		  AND updated_at < $1
		  AND (raw_html IS NOT NULL OR cleaned_markdown IS NOT NULL)`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to trim terminal payloads: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// CountByStage returns the per-stage queue depth.
func (m *Manager) CountByStage(ctx context.Context) (map[models.Stage]int, error) {
	rows := []struct {
		Stage models.Stage `db:"stage"`
		Count int          `db:"count"`
	}{}
	if err := m.db.SelectContext(ctx, &rows, `
		SELECT stage, COUNT(*) AS count FROM harvest_queue GROUP BY stage`); err != nil {
		return nil, fmt.Errorf("failed to count queue depths: %w", err)
	}
	depths := make(map[models.Stage]int, len(rows))
	for _, r := range rows {
		depths[r.Stage] = r.Count
	}
	return depths, nil
}

// Get loads one item by ID.
func (m *Manager) Get(ctx context.Context, itemID string) (*models.QueueItem, error) {
	var item models.QueueItem
	err := m.db.GetContext(ctx, &item, `SELECT * FROM harvest_queue WHERE id = $1`, itemID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrItemNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load item %s: %w", itemID, err)
	}
	return &item, nil
}

func truncateReason(reason string) string {
	const max = 500
	if len(reason) > max {
		return reason[:max]
	}
	return reason
}
