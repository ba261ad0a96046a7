package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/stadspuls/harvester/pkg/models"
)

// GeoCacheEntry is one cached geocoding result.
type GeoCacheEntry struct {
	CacheKey  string    `db:"cache_key"`
	Latitude  float64   `db:"latitude"`
	Longitude float64   `db:"longitude"`
	Provider  string    `db:"provider"`
	HitCount  int       `db:"hit_count"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

// Coordinates returns the cached point.
func (e *GeoCacheEntry) Coordinates() models.Coordinates {
	return models.Coordinates{Lat: e.Latitude, Lng: e.Longitude}
}

// GeoCacheStore persists geocoding results keyed by normalized query
// variants. Entries expire after the configured TTL; hits are counted for
// eviction heuristics.
type GeoCacheStore struct {
	db  *sqlx.DB
	ttl time.Duration
}

// NewGeoCacheStore creates a GeoCacheStore with the given entry TTL.
func NewGeoCacheStore(db *sqlx.DB, ttl time.Duration) *GeoCacheStore {
	return &GeoCacheStore{db: db, ttl: ttl}
}

// Lookup returns a non-expired entry for key and increments its hit count.
func (s *GeoCacheStore) Lookup(ctx context.Context, key string) (*GeoCacheEntry, error) {
	var entry GeoCacheEntry
	err := s.db.GetContext(ctx, &entry, `
		UPDATE geocode_cache
		SET hit_count = hit_count + 1
		WHERE cache_key = $1 AND updated_at > $2
		RETURNING *`, key, time.Now().Add(-s.ttl))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("geocode cache lookup failed: %w", err)
	}
	return &entry, nil
}

// Put upserts a geocoding result under key.
func (s *GeoCacheStore) Put(ctx context.Context, key string, coords models.Coordinates, provider string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO geocode_cache (cache_key, latitude, longitude, provider)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (cache_key) DO UPDATE SET
			latitude = EXCLUDED.latitude,
			longitude = EXCLUDED.longitude,
			provider = EXCLUDED.provider,
			updated_at = now()`,
		key, coords.Lat, coords.Lng, provider)
	if err != nil {
		return fmt.Errorf("geocode cache put failed: %w", err)
	}
	return nil
}

// Evict removes entries that expired and were never hit, keeping the table
// bounded.
func (s *GeoCacheStore) Evict(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM geocode_cache
		WHERE updated_at <= $1 AND hit_count = 0`, time.Now().Add(-s.ttl))
	if err != nil {
		return 0, fmt.Errorf("geocode cache eviction failed: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
