package store

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"

	"github.com/stadspuls/harvester/pkg/models"
)

// EventStore persists canonical event records.
type EventStore struct {
	db *sqlx.DB
}

// NewEventStore creates an EventStore.
func NewEventStore(db *sqlx.DB) *EventStore {
	return &EventStore{db: db}
}

// nullVector is a NULL-aware wrapper around pgvector.Vector. Events are
// persisted without a vector when the embedding provider is down.
type nullVector struct {
	Vector pgvector.Vector
	Valid  bool
}

func (v *nullVector) Scan(src any) error {
	if src == nil {
		v.Valid = false
		return nil
	}
	v.Valid = true
	return v.Vector.Scan(src)
}

func (v nullVector) Value() (driver.Value, error) {
	if !v.Valid {
		return nil, nil
	}
	return v.Vector.Value()
}

// eventRow adapts models.Event for sqlx: arrays and the vector need
// driver-specific wrappers.
type eventRow struct {
	models.Event
	TagsArr    pq.StringArray `db:"tags"`
	PersonaArr pq.StringArray `db:"persona_tags"`
	Vector     nullVector     `db:"embedding"`
}

func toRow(e *models.Event) *eventRow {
	row := &eventRow{
		Event:      *e,
		TagsArr:    pq.StringArray(e.Tags),
		PersonaArr: pq.StringArray(e.PersonaTags),
	}
	if len(e.Embedding) > 0 {
		row.Vector = nullVector{Vector: pgvector.NewVector(e.Embedding), Valid: true}
	}
	return row
}

func (r *eventRow) toEvent() *models.Event {
	e := r.Event
	e.Tags = []string(r.TagsArr)
	e.PersonaTags = []string(r.PersonaArr)
	if r.Vector.Valid {
		e.Embedding = r.Vector.Vector.Slice()
	}
	return &e
}

// GetByFingerprint looks an event up by its within-source identity.
func (s *EventStore) GetByFingerprint(ctx context.Context, fingerprint string) (*models.Event, error) {
	return s.getBy(ctx, `SELECT * FROM events WHERE event_fingerprint = $1`, fingerprint)
}

// GetByContentHash looks an event up by its cross-source identity. When
// several sources produced the same title+date, the oldest row is the
// golden record.
func (s *EventStore) GetByContentHash(ctx context.Context, hash string) (*models.Event, error) {
	return s.getBy(ctx, `SELECT * FROM events WHERE content_hash = $1 ORDER BY created_at ASC LIMIT 1`, hash)
}

func (s *EventStore) getBy(ctx context.Context, query, arg string) (*models.Event, error) {
	var row eventRow
	err := s.db.GetContext(ctx, &row, query, arg)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load event: %w", err)
	}
	return row.toEvent(), nil
}

// Insert writes a new event. A unique violation on the fingerprint is
// reported as models.InsertResultDuplicateRace, not as an error: a
// concurrent worker won the insert and the caller should merge instead.
func (s *EventStore) Insert(ctx context.Context, e *models.Event) (models.InsertResult, error) {
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO events (
			id, source_id, title, description, category,
			event_date, event_time, time_known,
			venue_name, venue_address, latitude, longitude,
			image_url, tags, persona_tags,
			price_raw, price_min, price_max, price_currency,
			organizer, performer, tickets_url,
			content_hash, event_fingerprint, embedding, quality_score
		) VALUES (
			:id, :source_id, :title, :description, :category,
			:event_date, :event_time, :time_known,
			:venue_name, :venue_address, :latitude, :longitude,
			:image_url, :tags, :persona_tags,
			:price_raw, :price_min, :price_max, :price_currency,
			:organizer, :performer, :tickets_url,
			:content_hash, :event_fingerprint, :embedding, :quality_score
		)`, toRow(e))
	if isUniqueViolation(err) {
		return models.InsertResultDuplicateRace, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to insert event: %w", err)
	}
	return models.InsertResultInserted, nil
}

// Update rewrites the mergeable fields of an existing event.
func (s *EventStore) Update(ctx context.Context, e *models.Event) error {
	_, err := s.db.NamedExecContext(ctx, `
		UPDATE events SET
			description = :description,
			category = :category,
			event_date = :event_date,
			event_time = :event_time,
			time_known = :time_known,
			venue_name = :venue_name,
			venue_address = :venue_address,
			latitude = :latitude,
			longitude = :longitude,
			image_url = :image_url,
			tags = :tags,
			persona_tags = :persona_tags,
			price_raw = :price_raw,
			price_min = :price_min,
			price_max = :price_max,
			price_currency = :price_currency,
			organizer = :organizer,
			performer = :performer,
			tickets_url = :tickets_url,
			embedding = :embedding,
			quality_score = :quality_score,
			last_healed_at = :last_healed_at,
			updated_at = now()
		WHERE id = :id`, toRow(e))
	if err != nil {
		return fmt.Errorf("failed to update event %s: %w", e.ID, err)
	}
	return nil
}

// SetEmbedding writes just the vector, used by the re-embed sweep.
func (s *EventStore) SetEmbedding(ctx context.Context, id string, embedding []float32) error {
	v := pgvector.NewVector(embedding)
	_, err := s.db.ExecContext(ctx, `
		UPDATE events SET embedding = $2, updated_at = now() WHERE id = $1`, id, v)
	if err != nil {
		return fmt.Errorf("failed to set embedding for event %s: %w", id, err)
	}
	return nil
}

// MissingEmbeddings lists events persisted without a vector, oldest first.
func (s *EventStore) MissingEmbeddings(ctx context.Context, limit int) ([]models.Event, error) {
	var rows []eventRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT * FROM events WHERE embedding IS NULL ORDER BY created_at ASC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query events missing embeddings: %w", err)
	}
	events := make([]models.Event, len(rows))
	for i := range rows {
		events[i] = *rows[i].toEvent()
	}
	return events, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
