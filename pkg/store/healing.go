package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/stadspuls/harvester/pkg/models"
)

// HealingAttempt is one logged run of the self-healing selector engine.
type HealingAttempt struct {
	ID         string          `db:"id" json:"id"`
	SourceID   string          `db:"source_id" json:"source_id"`
	Accepted   bool            `db:"accepted" json:"accepted"`
	OldMatches int             `db:"old_matches" json:"old_matches"`
	NewMatches int             `db:"new_matches" json:"new_matches"`
	Confidence float64         `db:"confidence" json:"confidence"`
	Reasoning  string          `db:"reasoning" json:"reasoning"`
	Recipe     json.RawMessage `db:"recipe" json:"recipe,omitempty"`
	CreatedAt  time.Time       `db:"created_at" json:"created_at"`
}

// HealingStore persists the healing attempt log.
type HealingStore struct {
	db *sqlx.DB
}

// NewHealingStore creates a HealingStore.
func NewHealingStore(db *sqlx.DB) *HealingStore {
	return &HealingStore{db: db}
}

// Log writes one attempt row.
func (s *HealingStore) Log(ctx context.Context, attempt *HealingAttempt, recipe *models.ExtractionRecipe) error {
	if attempt.ID == "" {
		attempt.ID = uuid.New().String()
	}
	if recipe != nil {
		payload, err := json.Marshal(recipe)
		if err != nil {
			return fmt.Errorf("failed to encode healing recipe: %w", err)
		}
		attempt.Recipe = payload
	}
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO healing_log (
			id, source_id, accepted, old_matches, new_matches,
			confidence, reasoning, recipe
		) VALUES (
			:id, :source_id, :accepted, :old_matches, :new_matches,
			:confidence, :reasoning, :recipe
		)`, attempt)
	if err != nil {
		return fmt.Errorf("failed to log healing attempt: %w", err)
	}
	return nil
}

// History returns recent attempts for a source, newest first.
func (s *HealingStore) History(ctx context.Context, sourceID string, limit int) ([]HealingAttempt, error) {
	var attempts []HealingAttempt
	err := s.db.SelectContext(ctx, &attempts, `
		SELECT * FROM healing_log
		WHERE source_id = $1
		ORDER BY created_at DESC LIMIT $2`, sourceID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query healing history: %w", err)
	}
	return attempts, nil
}
