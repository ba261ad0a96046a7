// Package store contains the sqlx repositories for sources, events, the
// geocode cache, insights, and the healing log. The harvest queue has its
// own package because claiming carries locking semantics beyond CRUD.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/stadspuls/harvester/pkg/models"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// SourceStore persists and mutates harvest sources.
type SourceStore struct {
	db *sqlx.DB
}

// NewSourceStore creates a SourceStore.
func NewSourceStore(db *sqlx.DB) *SourceStore {
	return &SourceStore{db: db}
}

// Get loads one source by ID, with its recipe decoded.
func (s *SourceStore) Get(ctx context.Context, id string) (*models.Source, error) {
	var src models.Source
	err := s.db.GetContext(ctx, &src, `SELECT * FROM sources WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load source %s: %w", id, err)
	}
	if err := src.DecodeRecipe(); err != nil {
		return nil, fmt.Errorf("source %s has invalid recipe JSON: %w", id, err)
	}
	return &src, nil
}

// Create inserts a new source.
func (s *SourceStore) Create(ctx context.Context, src *models.Source) error {
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO sources (
			id, name, url, city, country, language, enabled, tier,
			preferred_method, fetch_strategy, rate_limit_ms, feed_discovery,
			pagination_depth, dom_selectors, recipe, reliability_score
		) VALUES (
			:id, :name, :url, :city, :country, :language, :enabled, :tier,
			:preferred_method, :fetch_strategy, :rate_limit_ms, :feed_discovery,
			:pagination_depth, :dom_selectors, :recipe, :reliability_score
		)`, src)
	if err != nil {
		return fmt.Errorf("failed to create source: %w", err)
	}
	return nil
}

// DueForScraping returns schedulable sources ordered by tier priority then
// oldest successful run, limited to limit.
func (s *SourceStore) DueForScraping(ctx context.Context, now time.Time, limit int) ([]models.Source, error) {
	var sources []models.Source
	err := s.db.SelectContext(ctx, &sources, `
		SELECT * FROM sources
		WHERE enabled AND NOT quarantined
		  AND (next_scrape_at IS NULL OR next_scrape_at <= $1)
		ORDER BY
			CASE tier
				WHEN 'metropolis' THEN 3
				WHEN 'regional' THEN 2
				WHEN 'general' THEN 1
				ELSE 0
			END DESC,
			last_successful_scrape ASC NULLS FIRST
		LIMIT $2`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query due sources: %w", err)
	}
	return sources, nil
}

// MarkScheduled advances next_scrape_at after the coordinator mints work.
func (s *SourceStore) MarkScheduled(ctx context.Context, id string, next time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE sources SET next_scrape_at = $2, updated_at = now() WHERE id = $1`,
		id, next)
	if err != nil {
		return fmt.Errorf("failed to mark source %s scheduled: %w", id, err)
	}
	return nil
}

// RecordSuccess resets the consecutive-failure counter and folds a success
// into the reliability EMA. Called on every extracting → enriching
// transition.
func (s *SourceStore) RecordSuccess(ctx context.Context, id string, eventsExtracted int) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE sources SET
			consecutive_failures = 0,
			total_events_extracted = total_events_extracted + $2,
			last_successful_scrape = now(),
			reliability_score = LEAST(1.0, reliability_score * 0.8 + 0.2),
			updated_at = now()
		WHERE id = $1`, id, eventsExtracted)
	if err != nil {
		return fmt.Errorf("failed to record success for source %s: %w", id, err)
	}
	return nil
}

// RecordFailure bumps the consecutive-failure counter, decays reliability,
// and quarantines the source once the counter passes quarantineAt.
// Returns the new counter value.
func (s *SourceStore) RecordFailure(ctx context.Context, id string, quarantineAt int) (int, error) {
	var failures int
	err := s.db.GetContext(ctx, &failures, `
		UPDATE sources SET
			consecutive_failures = consecutive_failures + 1,
			reliability_score = GREATEST(0.0, reliability_score * 0.8),
			quarantined = quarantined OR (consecutive_failures + 1 >= $2),
			updated_at = now()
		WHERE id = $1
		RETURNING consecutive_failures`, id, quarantineAt)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to record failure for source %s: %w", id, err)
	}
	return failures, nil
}

// UpdatePayloadHash stores the hash of the last fetched root payload, used
// to skip unchanged listing pages.
func (s *SourceStore) UpdatePayloadHash(ctx context.Context, id, hash string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE sources SET last_payload_hash = $2, updated_at = now() WHERE id = $1`,
		id, hash)
	return err
}

// ApplyRecipe stores a freshly healed recipe, archiving the current one as
// last_working_recipe and resetting the failure counter.
func (s *SourceStore) ApplyRecipe(ctx context.Context, id string, recipe *models.ExtractionRecipe) error {
	payload, err := json.Marshal(recipe)
	if err != nil {
		return fmt.Errorf("failed to encode recipe: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		UPDATE sources SET
			last_working_recipe = recipe,
			recipe = $2,
			consecutive_failures = 0,
			last_healed_at = now(),
			updated_at = now()
		WHERE id = $1`, id, payload)
	if err != nil {
		return fmt.Errorf("failed to apply recipe to source %s: %w", id, err)
	}
	return nil
}

// RevertRecipe swaps recipe and last_working_recipe (manual revert).
func (s *SourceStore) RevertRecipe(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE sources SET
			recipe = last_working_recipe,
			last_working_recipe = recipe,
			updated_at = now()
		WHERE id = $1 AND last_working_recipe IS NOT NULL`, id)
	if err != nil {
		return fmt.Errorf("failed to revert recipe for source %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("source %s has no archived recipe to revert to: %w", id, ErrNotFound)
	}
	return nil
}

// Unquarantine manually reinstates a source and clears its counter.
func (s *SourceStore) Unquarantine(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE sources SET quarantined = FALSE, consecutive_failures = 0, updated_at = now()
		WHERE id = $1`, id)
	return err
}
