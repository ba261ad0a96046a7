// Package config loads, merges, and validates the harvester configuration
// from a YAML config directory plus environment variables.
package config

import "time"

// Config is the fully resolved runtime configuration.
type Config struct {
	Queue       *QueueConfig       `yaml:"queue"`
	Fetch       *FetchConfig       `yaml:"fetch"`
	Extract     *ExtractConfig     `yaml:"extract"`
	Geocode     *GeocodeConfig     `yaml:"geocode"`
	Images      *ImagesConfig      `yaml:"images"`
	LLM         *LLMConfig         `yaml:"llm"`
	Slack       *SlackConfig       `yaml:"slack"`
	Coordinator *CoordinatorConfig `yaml:"coordinator"`
	Healing     *HealingConfig     `yaml:"healing"`
	Retention   *RetentionConfig   `yaml:"retention"`
}

// FetchConfig controls page retrieval and the static → dynamic failover
// ladder.
type FetchConfig struct {
	StaticTimeout  time.Duration `yaml:"static_timeout"`
	DynamicTimeout time.Duration `yaml:"dynamic_timeout"`

	// RetryBaseDelay doubles per attempt, capped at RetryMaxDelay.
	RetryBaseDelay   time.Duration `yaml:"retry_base_delay"`
	RetryMaxDelay    time.Duration `yaml:"retry_max_delay"`
	RetryMaxAttempts int           `yaml:"retry_max_attempts"`

	// FailoverThreshold is the in-session transient failure count that
	// triggers the one-way switch to the dynamic fetcher.
	FailoverThreshold int `yaml:"failover_threshold"`

	// DefaultHostDelay is the per-host minimum inter-request delay used
	// when a source declares none. Jitter of ±20% is always applied.
	DefaultHostDelay time.Duration `yaml:"default_host_delay"`

	UserAgent string `yaml:"user_agent"`

	// RendererURL is the endpoint of the dynamic rendering service
	// (scrapingbee-style HTTP API). Empty disables dynamic failover.
	RendererURL string `yaml:"renderer_url"`
	RendererKey string `yaml:"renderer_key"`
}

// ExtractConfig controls the extraction waterfall.
type ExtractConfig struct {
	// MinCards is the card count a strategy must produce to win.
	MinCards int `yaml:"min_cards"`

	// TargetYears constrains accepted event dates. Empty means
	// [current, current+1].
	TargetYears []int `yaml:"target_years"`

	// MaxPaginationDepth bounds pagination recursion per source run.
	MaxPaginationDepth int `yaml:"max_pagination_depth"`

	// MaxGraphDepth bounds JSON-LD @graph traversal.
	MaxGraphDepth int `yaml:"max_graph_depth"`

	// AITruncateBytes caps HTML handed to the AI fallback prompt.
	AITruncateBytes int `yaml:"ai_truncate_bytes"`
}

// GeocodeProviderConfig describes one geocoding backend in the round-robin.
type GeocodeProviderConfig struct {
	Name     string        `yaml:"name"`
	URL      string        `yaml:"url"`
	Key      string        `yaml:"key"`
	MinDelay time.Duration `yaml:"min_delay"`
}

// GeocodeConfig controls the hybrid geocoder.
type GeocodeConfig struct {
	Providers    []GeocodeProviderConfig `yaml:"providers"`
	CacheTTL     time.Duration           `yaml:"cache_ttl"`
	MaxAttempts  int                     `yaml:"max_attempts"`
	QueryTimeout time.Duration           `yaml:"query_timeout"`
}

// ImagesConfig controls image relocation to object storage.
type ImagesConfig struct {
	Bucket          string        `yaml:"bucket"`
	KeyPrefix       string        `yaml:"key_prefix"`
	Endpoint        string        `yaml:"endpoint"`
	Region          string        `yaml:"region"`
	DownloadTimeout time.Duration `yaml:"download_timeout"`
	MaxBytes        int64         `yaml:"max_bytes"`
}

// LLMConfig points at an OpenAI-compatible provider used for AI extraction,
// selector healing, and embeddings.
type LLMConfig struct {
	BaseURL        string        `yaml:"base_url"`
	APIKeyEnv      string        `yaml:"api_key_env"`
	Model          string        `yaml:"model"`
	EmbeddingModel string        `yaml:"embedding_model"`
	Timeout        time.Duration `yaml:"timeout"`
	MaxTokens      int           `yaml:"max_tokens"`
	Temperature    float64       `yaml:"temperature"`
}

// SlackConfig controls error/fatal notifications. A missing webhook
// disables Slack entirely; the pipeline runs without it.
type SlackConfig struct {
	Enabled       bool   `yaml:"enabled"`
	WebhookURLEnv string `yaml:"webhook_url_env"`
	Channel       string `yaml:"channel"`
}

// CoordinatorConfig controls source scheduling and job minting.
type CoordinatorConfig struct {
	Interval       time.Duration `yaml:"interval"`
	BatchSize      int           `yaml:"batch_size"`
	ScrapeInterval time.Duration `yaml:"scrape_interval"`

	// BackpressureThreshold halves minting when the ready_to_persist
	// backlog exceeds it.
	BackpressureThreshold int `yaml:"backpressure_threshold"`
}

// HealingConfig controls the self-healing selector engine.
type HealingConfig struct {
	// FailureThreshold is the consecutive-failure count that triggers a
	// healing attempt.
	FailureThreshold int `yaml:"failure_threshold"`

	// QuarantineThreshold is the consecutive-failure count beyond which
	// the source is quarantined instead of healed again.
	QuarantineThreshold int `yaml:"quarantine_threshold"`

	// MinMatches is the minimum item-selector match count a regenerated
	// recipe must produce to be accepted.
	MinMatches int `yaml:"min_matches"`

	TruncateBytes int `yaml:"truncate_bytes"`
}

// RetentionConfig controls payload cleanup on indexed items.
type RetentionConfig struct {
	// PayloadTTL is how long raw_html / cleaned_markdown stay on indexed
	// or failed items before being trimmed.
	PayloadTTL time.Duration `yaml:"payload_ttl"`

	Interval time.Duration `yaml:"interval"`
}
