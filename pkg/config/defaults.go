package config

import "time"

// Default returns the built-in configuration. User YAML is merged on top
// of these values.
func Default() *Config {
	return &Config{
		Queue: DefaultQueueConfig(),
		Fetch: &FetchConfig{
			StaticTimeout:     15 * time.Second,
			DynamicTimeout:    30 * time.Second,
			RetryBaseDelay:    1 * time.Second,
			RetryMaxDelay:     10 * time.Second,
			RetryMaxAttempts:  3,
			FailoverThreshold: 3,
			DefaultHostDelay:  200 * time.Millisecond,
			UserAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64) " +
				"AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
		},
		Extract: &ExtractConfig{
			MinCards:           1,
			MaxPaginationDepth: 1,
			MaxGraphDepth:      5,
			AITruncateBytes:    48 * 1024,
		},
		Geocode: &GeocodeConfig{
			CacheTTL:     180 * 24 * time.Hour,
			MaxAttempts:  3,
			QueryTimeout: 10 * time.Second,
		},
		Images: &ImagesConfig{
			KeyPrefix:       "events/",
			Region:          "eu-west-1",
			DownloadTimeout: 15 * time.Second,
			MaxBytes:        8 * 1024 * 1024,
		},
		LLM: &LLMConfig{
			APIKeyEnv:      "LLM_API_KEY",
			Model:          "gpt-4o-mini",
			EmbeddingModel: "text-embedding-3-small",
			Timeout:        30 * time.Second,
			MaxTokens:      4096,
			Temperature:    0.1,
		},
		Slack: &SlackConfig{
			WebhookURLEnv: "SLACK_WEBHOOK_URL",
		},
		Coordinator: &CoordinatorConfig{
			Interval:              5 * time.Minute,
			BatchSize:             25,
			ScrapeInterval:        24 * time.Hour,
			BackpressureThreshold: 500,
		},
		Healing: &HealingConfig{
			FailureThreshold:    3,
			QuarantineThreshold: 10,
			MinMatches:          3,
			TruncateBytes:       32 * 1024,
		},
		Retention: &RetentionConfig{
			PayloadTTL: 7 * 24 * time.Hour,
			Interval:   6 * time.Hour,
		},
	}
}
