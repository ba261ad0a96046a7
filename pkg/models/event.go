package models

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// EmbeddingDim is the fixed width of the stored vector. Providers that
// return fewer dimensions are zero-padded up to this length.
const EmbeddingDim = 1536

// Category is one of the closed event category keys.
type Category string

const (
	CategoryMusic     Category = "MUSIC"
	CategorySocial    Category = "SOCIAL"
	CategoryActive    Category = "ACTIVE"
	CategoryCulture   Category = "CULTURE"
	CategoryFood      Category = "FOOD"
	CategoryNightlife Category = "NIGHTLIFE"
	CategoryFamily    Category = "FAMILY"
	CategoryCivic     Category = "CIVIC"
	CategoryCommunity Category = "COMMUNITY"
)

// Categories is the closed key set, in declaration order.
var Categories = []Category{
	CategoryMusic, CategorySocial, CategoryActive, CategoryCulture,
	CategoryFood, CategoryNightlife, CategoryFamily, CategoryCivic,
	CategoryCommunity,
}

// ValidCategory reports membership in the closed key set.
func ValidCategory(c Category) bool {
	for _, k := range Categories {
		if k == c {
			return true
		}
	}
	return false
}

// Coordinates is a WGS84 point. The zero value means "unknown"; a literal
// (0,0) is never a valid venue location and is rejected everywhere.
type Coordinates struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Valid reports whether the point is within range and not the null island.
func (c Coordinates) Valid() bool {
	if c.Lat == 0 && c.Lng == 0 {
		return false
	}
	return c.Lat >= -90 && c.Lat <= 90 && c.Lng >= -180 && c.Lng <= 180
}

// String renders the point in the wire format used by downstream consumers.
func (c Coordinates) String() string {
	return fmt.Sprintf("POINT(%g %g)", c.Lng, c.Lat)
}

// Price carries the raw scraped price string plus parsed bounds.
type Price struct {
	Raw      string   `json:"raw,omitempty"`
	Min      *float64 `json:"min,omitempty"`
	Max      *float64 `json:"max,omitempty"`
	Currency string   `json:"currency,omitempty"`
}

// Event is the canonical, merged record for one real-world event.
type Event struct {
	ID          string   `db:"id" json:"id"`
	SourceID    string   `db:"source_id" json:"source_id"`
	Title       string   `db:"title" json:"title"`
	Description string   `db:"description" json:"description"`
	Category    Category `db:"category" json:"category"`

	// EventDate preserves the local wall-clock time as UTC so DST shifts
	// never move the stored date.
	EventDate time.Time `db:"event_date" json:"event_date"`
	EventTime string    `db:"event_time" json:"event_time"` // "HH:MM" or "TBD"
	TimeKnown bool      `db:"time_known" json:"time_known"`

	VenueName    string   `db:"venue_name" json:"venue_name"`
	VenueAddress string   `db:"venue_address" json:"venue_address"`
	Latitude     *float64 `db:"latitude" json:"-"`
	Longitude    *float64 `db:"longitude" json:"-"`

	ImageURL    string   `db:"image_url" json:"image_url,omitempty"`
	Tags        []string `db:"-" json:"tags,omitempty"`
	PersonaTags []string `db:"-" json:"persona_tags,omitempty"`

	PriceRaw      string   `db:"price_raw" json:"-"`
	PriceMin      *float64 `db:"price_min" json:"-"`
	PriceMax      *float64 `db:"price_max" json:"-"`
	PriceCurrency string   `db:"price_currency" json:"-"`

	Organizer  string `db:"organizer" json:"organizer,omitempty"`
	Performer  string `db:"performer" json:"performer,omitempty"`
	TicketsURL string `db:"tickets_url" json:"tickets_url,omitempty"`

	ContentHash      string `db:"content_hash" json:"content_hash"`
	EventFingerprint string `db:"event_fingerprint" json:"event_fingerprint"`

	Embedding    []float32 `db:"-" json:"-"`
	QualityScore float64   `db:"quality_score" json:"quality_score"`

	LastHealedAt *time.Time `db:"last_healed_at" json:"last_healed_at,omitempty"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at" json:"updated_at"`
}

// Coordinates returns the stored point, or an invalid zero value when the
// event has not been geocoded.
func (e *Event) Coordinates() Coordinates {
	if e.Latitude == nil || e.Longitude == nil {
		return Coordinates{}
	}
	return Coordinates{Lat: *e.Latitude, Lng: *e.Longitude}
}

// Price assembles the price fields into their wire shape.
func (e *Event) Price() Price {
	return Price{Raw: e.PriceRaw, Min: e.PriceMin, Max: e.PriceMax, Currency: e.PriceCurrency}
}

// ContentHash derives the cross-source identity: sha256(title|date).
// The date is the canonical YYYY-MM-DD form.
func ContentHash(title, eventDate string) string {
	sum := sha256.Sum256([]byte(title + "|" + eventDate))
	return hex.EncodeToString(sum[:])
}

// EventFingerprint derives the within-source identity:
// sha256(title|date|source_id).
func EventFingerprint(title, eventDate, sourceID string) string {
	sum := sha256.Sum256([]byte(title + "|" + eventDate + "|" + sourceID))
	return hex.EncodeToString(sum[:])
}

// InsertResult describes the outcome of persisting an event. A concurrent
// insert racing on the fingerprint is a duplicate, not an error.
type InsertResult int

const (
	InsertResultInserted InsertResult = iota
	InsertResultMerged
	InsertResultDuplicateRace
)

func (r InsertResult) String() string {
	switch r {
	case InsertResultInserted:
		return "inserted"
	case InsertResultMerged:
		return "merged"
	case InsertResultDuplicateRace:
		return "duplicate_race"
	}
	return "unknown"
}
