package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// ScrapeInsight records per-run extraction telemetry for one source. These
// rows feed dashboards and the auto fetch-strategy selector.
type ScrapeInsight struct {
	ID              string          `db:"id" json:"id"`
	SourceID        string          `db:"source_id" json:"source_id"`
	CMSLabel        string          `db:"cms_label" json:"cms_label"`
	WinningStrategy string          `db:"winning_strategy" json:"winning_strategy"`
	StrategyCounts  json.RawMessage `db:"strategy_counts" json:"strategy_counts,omitempty"`
	FetchMS         int64           `db:"fetch_ms" json:"fetch_ms"`
	ParseMS         int64           `db:"parse_ms" json:"parse_ms"`
	HTMLBytes       int64           `db:"html_bytes" json:"html_bytes"`
	EventsFound     int             `db:"events_found" json:"events_found"`
	CreatedAt       time.Time       `db:"created_at" json:"created_at"`
}

// InsightStore persists per-run scrape insights.
type InsightStore struct {
	db *sqlx.DB
}

// NewInsightStore creates an InsightStore.
func NewInsightStore(db *sqlx.DB) *InsightStore {
	return &InsightStore{db: db}
}

// Record writes one insight row. Counts is the per-strategy card count map.
func (s *InsightStore) Record(ctx context.Context, insight *ScrapeInsight, counts map[string]int) error {
	if insight.ID == "" {
		insight.ID = uuid.New().String()
	}
	if counts != nil {
		payload, err := json.Marshal(counts)
		if err != nil {
			return fmt.Errorf("failed to encode strategy counts: %w", err)
		}
		insight.StrategyCounts = payload
	}
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO scrape_insights (
			id, source_id, cms_label, winning_strategy, strategy_counts,
			fetch_ms, parse_ms, html_bytes, events_found
		) VALUES (
			:id, :source_id, :cms_label, :winning_strategy, :strategy_counts,
			:fetch_ms, :parse_ms, :html_bytes, :events_found
		)`, insight)
	if err != nil {
		return fmt.Errorf("failed to record scrape insight: %w", err)
	}
	return nil
}

// RecentWinners returns the winning strategies of the last n runs for a
// source, newest first. The auto strategy selector uses this history.
func (s *InsightStore) RecentWinners(ctx context.Context, sourceID string, n int) ([]string, error) {
	var winners []string
	err := s.db.SelectContext(ctx, &winners, `
		SELECT winning_strategy FROM scrape_insights
		WHERE source_id = $1 AND winning_strategy <> ''
		ORDER BY created_at DESC LIMIT $2`, sourceID, n)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent winners: %w", err)
	}
	return winners, nil
}
