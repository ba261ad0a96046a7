package enrich

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/stadspuls/harvester/pkg/config"
	"github.com/stadspuls/harvester/pkg/models"
)

// ErrNoMatch indicates the provider answered but found nothing for the
// query; the caller degrades the query and tries again.
var ErrNoMatch = errors.New("geocode query matched nothing")

// rateLimitError carries the provider's Retry-After.
type rateLimitError struct {
	retryAfter time.Duration
}

func (e *rateLimitError) Error() string {
	return fmt.Sprintf("geocode provider rate limited, retry after %s", e.retryAfter)
}

// Provider resolves a free-text query to coordinates.
type Provider interface {
	Name() string
	Geocode(ctx context.Context, query string) (models.Coordinates, error)
}

// httpProvider is a Nominatim-style JSON geocoding backend wrapped in a
// circuit breaker.
type httpProvider struct {
	cfg     config.GeocodeProviderConfig
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
}

// NewHTTPProvider builds a provider from config.
func NewHTTPProvider(cfg config.GeocodeProviderConfig, timeout time.Duration) Provider {
	return &httpProvider{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "geocode-" + cfg.Name,
			Timeout: 60 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		}),
	}
}

func (p *httpProvider) Name() string { return p.cfg.Name }

func (p *httpProvider) Geocode(ctx context.Context, query string) (models.Coordinates, error) {
	out, err := p.breaker.Execute(func() (any, error) {
		return p.geocode(ctx, query)
	})
	if err != nil {
		return models.Coordinates{}, err
	}
	return out.(models.Coordinates), nil
}

func (p *httpProvider) geocode(ctx context.Context, query string) (models.Coordinates, error) {
	q := url.Values{}
	q.Set("q", query)
	q.Set("format", "json")
	q.Set("limit", "1")
	if p.cfg.Key != "" {
		q.Set("key", p.cfg.Key)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.cfg.URL+"?"+q.Encode(), nil)
	if err != nil {
		return models.Coordinates{}, fmt.Errorf("invalid geocode request: %w", err)
	}
	req.Header.Set("User-Agent", "stadspuls-harvester")

	resp, err := p.client.Do(req)
	if err != nil {
		return models.Coordinates{}, fmt.Errorf("geocode provider %s: %w", p.cfg.Name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return models.Coordinates{}, &rateLimitError{retryAfter: retryAfterOf(resp)}
	}
	if resp.StatusCode != http.StatusOK {
		return models.Coordinates{}, fmt.Errorf("geocode provider %s returned %d", p.cfg.Name, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return models.Coordinates{}, fmt.Errorf("geocode provider %s: %w", p.cfg.Name, err)
	}

	var results []struct {
		Lat string `json:"lat"`
		Lon string `json:"lon"`
	}
	if err := json.Unmarshal(body, &results); err != nil {
		return models.Coordinates{}, fmt.Errorf("geocode provider %s returned invalid JSON: %w", p.cfg.Name, err)
	}
	if len(results) == 0 {
		return models.Coordinates{}, ErrNoMatch
	}

	lat, latOK := parseCoord(results[0].Lat)
	lng, lngOK := parseCoord(results[0].Lon)
	c := models.Coordinates{Lat: lat, Lng: lng}
	if !latOK || !lngOK || !c.Valid() {
		return models.Coordinates{}, ErrNoMatch
	}
	return c, nil
}

// retryAfterOf parses the Retry-After header, defaulting to one minute.
func retryAfterOf(resp *http.Response) time.Duration {
	if v := resp.Header.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return time.Minute
}

// providerState tracks per-provider pacing inside the rotation.
type providerState struct {
	provider Provider
	minDelay time.Duration

	mu        sync.Mutex
	nextSlot  time.Time
	coolUntil time.Time
}

// waitUntil returns the later of the provider's pacing slot and cooldown.
func (s *providerState) waitUntil() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.coolUntil.After(s.nextSlot) {
		return s.coolUntil
	}
	return s.nextSlot
}

func (s *providerState) reserve(now time.Time) {
	s.mu.Lock()
	s.nextSlot = now.Add(s.minDelay)
	s.mu.Unlock()
}

func (s *providerState) coolDown(until time.Time) {
	s.mu.Lock()
	if until.After(s.coolUntil) {
		s.coolUntil = until
	}
	s.mu.Unlock()
}
