package models

import (
	"encoding/json"
	"time"
)

// SourceTier classifies a source by reach. Tier drives scheduling priority:
// metropolis > regional > general > local.
type SourceTier string

const (
	TierMetropolis SourceTier = "metropolis"
	TierRegional   SourceTier = "regional"
	TierLocal      SourceTier = "local"
	TierGeneral    SourceTier = "general"
)

// SchedulingPriority returns the coordinator ordering weight for a tier.
// Higher is scheduled first.
func (t SourceTier) SchedulingPriority() int {
	switch t {
	case TierMetropolis:
		return 3
	case TierRegional:
		return 2
	case TierGeneral:
		return 1
	case TierLocal:
		return 0
	}
	return 0
}

// FetchStrategy names how a source's pages are retrieved.
type FetchStrategy string

const (
	StrategyAuto        FetchStrategy = "auto"
	StrategyStatic      FetchStrategy = "static"
	StrategyPuppeteer   FetchStrategy = "puppeteer"
	StrategyPlaywright  FetchStrategy = "playwright"
	StrategyScrapingBee FetchStrategy = "scrapingbee"
)

// Dynamic reports whether the strategy requires a rendering service.
func (s FetchStrategy) Dynamic() bool {
	switch s {
	case StrategyPuppeteer, StrategyPlaywright, StrategyScrapingBee:
		return true
	}
	return false
}

// ExtractionRecipe is a stored selector set for deterministic extraction
// from one site. Regenerated by the healing engine when it decays.
type ExtractionRecipe struct {
	Container   string `json:"container"`
	Item        string `json:"item"`
	Title       string `json:"title"`
	Date        string `json:"date"`
	Link        string `json:"link,omitempty"`
	Image       string `json:"image,omitempty"`
	Description string `json:"description,omitempty"`
	Location    string `json:"location,omitempty"`
	Time        string `json:"time,omitempty"`
}

// Empty reports whether the recipe carries no usable item selector.
func (r *ExtractionRecipe) Empty() bool {
	return r == nil || r.Item == ""
}

// Source is one website to harvest. Sources are never deleted; a source
// that fails beyond the healing budget is quarantined instead.
type Source struct {
	ID                  string            `db:"id" json:"id"`
	Name                string            `db:"name" json:"name"`
	URL                 string            `db:"url" json:"url"`
	City                string            `db:"city" json:"city"`
	Country             string            `db:"country" json:"country"`
	Language            string            `db:"language" json:"language"`
	Enabled             bool              `db:"enabled" json:"enabled"`
	Tier                SourceTier        `db:"tier" json:"tier"`
	PreferredMethod     string            `db:"preferred_method" json:"preferred_method"`
	FetchStrategy       FetchStrategy     `db:"fetch_strategy" json:"fetch_strategy"`
	UseProxy            bool              `db:"use_proxy" json:"use_proxy"`
	RateLimitMS         int               `db:"rate_limit_ms" json:"rate_limit_ms"`
	FeedDiscovery       bool              `db:"feed_discovery" json:"feed_discovery"`
	PaginationDepth     int               `db:"pagination_depth" json:"pagination_depth"`
	DOMSelectors        json.RawMessage   `db:"dom_selectors" json:"dom_selectors,omitempty"`
	Recipe              *ExtractionRecipe `db:"-" json:"recipe,omitempty"`
	RecipeJSON          json.RawMessage   `db:"recipe" json:"-"`
	LastWorkingRecipe   json.RawMessage   `db:"last_working_recipe" json:"-"`
	LastPayloadHash     *string           `db:"last_payload_hash" json:"last_payload_hash,omitempty"`
	ConsecutiveFailures int               `db:"consecutive_failures" json:"consecutive_failures"`
	Quarantined         bool              `db:"quarantined" json:"quarantined"`
	TotalEvents         int64             `db:"total_events_extracted" json:"total_events_extracted"`
	ReliabilityScore    float64           `db:"reliability_score" json:"reliability_score"`
	LastSuccessfulRun   *time.Time        `db:"last_successful_scrape" json:"last_successful_scrape,omitempty"`
	NextScrapeAt        *time.Time        `db:"next_scrape_at" json:"next_scrape_at,omitempty"`
	LastHealedAt        *time.Time        `db:"last_healed_at" json:"last_healed_at,omitempty"`
	CreatedAt           time.Time         `db:"created_at" json:"created_at"`
	UpdatedAt           time.Time         `db:"updated_at" json:"updated_at"`
}

// DecodeRecipe parses the stored recipe JSON, if any, into s.Recipe.
func (s *Source) DecodeRecipe() error {
	if len(s.RecipeJSON) == 0 || string(s.RecipeJSON) == "null" {
		s.Recipe = nil
		return nil
	}
	var r ExtractionRecipe
	if err := json.Unmarshal(s.RecipeJSON, &r); err != nil {
		return err
	}
	s.Recipe = &r
	return nil
}

// Schedulable reports whether the coordinator may mint work for the source.
func (s *Source) Schedulable(now time.Time) bool {
	if !s.Enabled || s.Quarantined {
		return false
	}
	return s.NextScrapeAt == nil || !s.NextScrapeAt.After(now)
}
