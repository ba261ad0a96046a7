package enrich

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/stadspuls/harvester/pkg/config"
	"github.com/stadspuls/harvester/pkg/models"
	"github.com/stadspuls/harvester/pkg/store"
)

// Geocoder resolves venue coordinates through the hybrid ladder: page
// coordinates first, then the fuzzy cache, then the provider rotation
// with query degradation. Provider hits are written back to the cache.
type Geocoder struct {
	cfg       *config.GeocodeConfig
	cache     *store.GeoCacheStore
	providers []*providerState
	now       func() time.Time
	sleep     func(context.Context, time.Duration) error
}

// NewGeocoder assembles the geocoder from config. An empty provider set is
// valid: resolution then relies on page coordinates and cache alone.
func NewGeocoder(cfg *config.GeocodeConfig, cache *store.GeoCacheStore) *Geocoder {
	g := &Geocoder{
		cfg:   cfg,
		cache: cache,
		now:   time.Now,
		sleep: sleepCtx,
	}
	for _, pc := range cfg.Providers {
		g.providers = append(g.providers, &providerState{
			provider: NewHTTPProvider(pc, cfg.QueryTimeout),
			minDelay: pc.MinDelay,
		})
	}
	return g
}

// newGeocoderWith injects prebuilt providers, for tests.
func newGeocoderWith(cfg *config.GeocodeConfig, cache *store.GeoCacheStore, providers []Provider) *Geocoder {
	g := &Geocoder{cfg: cfg, cache: cache, now: time.Now, sleep: sleepCtx}
	for _, p := range providers {
		g.providers = append(g.providers, &providerState{provider: p})
	}
	return g
}

// Resolve finds coordinates for a venue. html may carry the event page or
// card snippet for direct coordinate extraction. Returns found=false when
// every rung of the ladder came up empty; err only on transport-level
// trouble worth a retry.
func (g *Geocoder) Resolve(ctx context.Context, venue, city, country, html string) (models.Coordinates, bool, error) {
	if html != "" {
		if c, ok := ExtractCoordinates(html); ok {
			return c, true, nil
		}
	}

	keys := cacheKeys(venue, city, country)
	if g.cache != nil {
		for _, key := range keys {
			entry, err := g.cache.Lookup(ctx, key)
			if err == nil {
				return entry.Coordinates(), true, nil
			}
			if !errors.Is(err, store.ErrNotFound) {
				return models.Coordinates{}, false, err
			}
		}
	}

	if len(g.providers) == 0 {
		return models.Coordinates{}, false, nil
	}

	// Query degradation: full venue query first, then city only.
	queries := buildQueries(venue, city, country)
	var lastErr error
	for _, query := range queries {
		coords, providerName, err := g.query(ctx, query)
		if err == nil {
			if g.cache != nil && len(keys) > 0 {
				if perr := g.cache.Put(ctx, keys[0], coords, providerName); perr != nil {
					slog.Warn("Geocode cache write failed", "key", keys[0], "error", perr)
				}
			}
			return coords, true, nil
		}
		if errors.Is(err, ErrNoMatch) {
			continue
		}
		lastErr = err
	}
	if lastErr != nil {
		return models.Coordinates{}, false, lastErr
	}
	return models.Coordinates{}, false, nil
}

// query runs one degraded query through the provider rotation: up to
// MaxAttempts providers, skipping any in cooldown; when every provider is
// cooling, wait out the shortest remaining cooldown.
func (g *Geocoder) query(ctx context.Context, query string) (models.Coordinates, string, error) {
	attempts := g.cfg.MaxAttempts
	if attempts <= 0 {
		attempts = 3
	}

	var lastErr error = ErrNoMatch
	for attempt := 0; attempt < attempts; attempt++ {
		state := g.pick()
		if state == nil {
			return models.Coordinates{}, "", ErrNoMatch
		}

		now := g.now()
		if wait := state.waitUntil().Sub(now); wait > 0 {
			if err := g.sleep(ctx, wait); err != nil {
				return models.Coordinates{}, "", err
			}
		}
		state.reserve(g.now())

		coords, err := state.provider.Geocode(ctx, query)
		if err == nil {
			return coords, state.provider.Name(), nil
		}
		lastErr = err

		var rle *rateLimitError
		if errors.As(err, &rle) {
			state.coolDown(g.now().Add(rle.retryAfter))
		} else if !errors.Is(err, ErrNoMatch) {
			// Transport or breaker trouble: brief cooldown keeps the
			// rotation from hammering a sick provider.
			state.coolDown(g.now().Add(10 * time.Second))
		}
		if errors.Is(err, ErrNoMatch) {
			// Another provider will not disagree about existence.
			return models.Coordinates{}, "", ErrNoMatch
		}
	}
	return models.Coordinates{}, "", fmt.Errorf("geocode attempts exhausted: %w", lastErr)
}

// pick chooses the provider with the earliest available slot, which both
// round-robins under load and skips cooled-down providers naturally.
func (g *Geocoder) pick() *providerState {
	var best *providerState
	var bestAt time.Time
	for _, state := range g.providers {
		at := state.waitUntil()
		if best == nil || at.Before(bestAt) {
			best, bestAt = state, at
		}
	}
	return best
}

// buildQueries produces the degradation ladder for a venue.
func buildQueries(venue, city, country string) []string {
	var queries []string
	full := joinQuery(venue, city, country)
	if full != "" {
		queries = append(queries, full)
	}
	cityOnly := joinQuery(city, country)
	if cityOnly != "" && cityOnly != full {
		queries = append(queries, cityOnly)
	}
	return queries
}

func joinQuery(parts ...string) string {
	var kept []string
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			kept = append(kept, s)
		}
	}
	return strings.Join(kept, ", ")
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
