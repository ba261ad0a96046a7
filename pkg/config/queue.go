package config

import "time"

// QueueConfig contains stage queue and worker pool configuration.
type QueueConfig struct {
	// WorkersPerStage is the number of worker goroutines per pipeline
	// stage in this process.
	WorkersPerStage int `yaml:"workers_per_stage"`

	// BatchSize is the maximum number of items one worker claims at once.
	BatchSize int `yaml:"batch_size"`

	// MaxAttempts is the transient-failure budget per item before it
	// moves to the failed terminal stage.
	MaxAttempts int `yaml:"max_attempts"`

	// RetryBackoffBase is the base for the exponential not-before delay
	// applied when a transient failure restores the prior stage.
	RetryBackoffBase time.Duration `yaml:"retry_backoff_base"`

	// PollInterval is the base interval for checking claimable items.
	PollInterval time.Duration `yaml:"poll_interval"`

	// PollIntervalJitter randomizes the poll interval:
	// PollInterval ± PollIntervalJitter.
	PollIntervalJitter time.Duration `yaml:"poll_interval_jitter"`

	// BatchDeadline is the soft deadline for one claimed batch; items
	// not reached by then are released for the reaper.
	BatchDeadline time.Duration `yaml:"batch_deadline"`

	// StalledClaimCutoff is how old a claim may be before the reaper
	// treats the item as stalled.
	StalledClaimCutoff time.Duration `yaml:"stalled_claim_cutoff"`

	// ReapInterval is how often the stalled-claim reaper runs.
	ReapInterval time.Duration `yaml:"reap_interval"`

	// GracefulShutdownTimeout is the max wait for in-flight batches on
	// shutdown.
	GracefulShutdownTimeout time.Duration `yaml:"graceful_shutdown_timeout"`
}

// DefaultQueueConfig returns the built-in queue defaults.
func DefaultQueueConfig() *QueueConfig {
	return &QueueConfig{
		WorkersPerStage:         2,
		BatchSize:               10,
		MaxAttempts:             3,
		RetryBackoffBase:        30 * time.Second,
		PollInterval:            1 * time.Second,
		PollIntervalJitter:      500 * time.Millisecond,
		BatchDeadline:           60 * time.Second,
		StalledClaimCutoff:      5 * time.Minute,
		ReapInterval:            1 * time.Minute,
		GracefulShutdownTimeout: 2 * time.Minute,
	}
}
