package models

import (
	"encoding/json"
	"time"
)

// Storage caps for payload blobs carried on queue items.
const (
	MaxRawHTMLBytes  = 100 * 1024
	MaxMarkdownBytes = 50 * 1024
)

// FailureLevel classifies a recorded failure.
type FailureLevel string

const (
	FailureTransient FailureLevel = "transient"
	FailurePermanent FailureLevel = "permanent"
)

// QueueItem is one candidate event URL in flight through the pipeline.
// The queue table is the broker: workers claim, do bounded work, and
// advance or record failure.
type QueueItem struct {
	ID        string `db:"id" json:"id"`
	SourceID  string `db:"source_id" json:"source_id"`
	SourceURL string `db:"source_url" json:"source_url"`
	DetailURL string `db:"detail_url" json:"detail_url"`

	Stage      Stage      `db:"stage" json:"stage"`
	PriorStage *Stage     `db:"prior_stage" json:"-"`
	ClaimOwner *string    `db:"claim_owner" json:"claim_owner,omitempty"`
	ClaimAt    *time.Time `db:"claim_at" json:"claim_at,omitempty"`
	Attempts   int        `db:"attempts" json:"attempts"`
	Priority   int        `db:"priority" json:"priority"`
	NotBefore  *time.Time `db:"not_before" json:"not_before,omitempty"`

	PayloadHash     *string         `db:"payload_hash" json:"-"`
	RawHTML         *string         `db:"raw_html" json:"-"`
	CleanedMarkdown *string         `db:"cleaned_markdown" json:"-"`
	ExtractedData   json.RawMessage `db:"extracted_data" json:"-"`
	ContentHash     *string         `db:"content_hash" json:"content_hash,omitempty"`
	Latitude        *float64        `db:"latitude" json:"-"`
	Longitude       *float64        `db:"longitude" json:"-"`
	DuplicateOf     *string         `db:"duplicate_of" json:"duplicate_of,omitempty"`
	EventID         *string         `db:"event_id" json:"event_id,omitempty"`
	PaginationDepth int             `db:"pagination_depth" json:"-"`

	LastFailureReason *string   `db:"last_failure_reason" json:"last_failure_reason,omitempty"`
	CreatedAt         time.Time `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time `db:"updated_at" json:"updated_at"`
}

// Claimed reports whether the item is currently held by a worker. The
// invariant is that owner and claim timestamp are set together or not at
// all.
func (q *QueueItem) Claimed() bool {
	return q.ClaimOwner != nil && q.ClaimAt != nil
}

// TargetURL returns the URL this item's stage operates on: the detail URL
// when one was discovered, otherwise the source listing URL.
func (q *QueueItem) TargetURL() string {
	if q.DetailURL != "" {
		return q.DetailURL
	}
	return q.SourceURL
}

// DecodeExtracted parses the extracted_data payload into a RawEventCard.
func (q *QueueItem) DecodeExtracted() (*RawEventCard, error) {
	if len(q.ExtractedData) == 0 {
		return nil, nil
	}
	var card RawEventCard
	if err := json.Unmarshal(q.ExtractedData, &card); err != nil {
		return nil, err
	}
	return &card, nil
}

// Coordinates returns the item's enrichment point, invalid when absent.
func (q *QueueItem) Coordinates() Coordinates {
	if q.Latitude == nil || q.Longitude == nil {
		return Coordinates{}
	}
	return Coordinates{Lat: *q.Latitude, Lng: *q.Longitude}
}
