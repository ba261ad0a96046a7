package config

import "errors"

// Validate checks the resolved configuration for structural problems.
// It returns the first error found, section by section.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("configuration is nil")
	}

	if err := validateQueue(cfg.Queue); err != nil {
		return err
	}
	if err := validateFetch(cfg.Fetch); err != nil {
		return err
	}
	if err := validateExtract(cfg.Extract); err != nil {
		return err
	}
	if err := validateGeocode(cfg.Geocode); err != nil {
		return err
	}
	if err := validateHealing(cfg.Healing); err != nil {
		return err
	}
	if err := validateCoordinator(cfg.Coordinator); err != nil {
		return err
	}
	return nil
}

func validateQueue(q *QueueConfig) error {
	if q == nil {
		return NewValidationError("queue", "", "queue configuration is nil")
	}
	if q.WorkersPerStage < 1 || q.WorkersPerStage > 50 {
		return NewValidationError("queue", "workers_per_stage", "must be between 1 and 50, got %d", q.WorkersPerStage)
	}
	if q.BatchSize < 1 || q.BatchSize > 200 {
		return NewValidationError("queue", "batch_size", "must be between 1 and 200, got %d", q.BatchSize)
	}
	if q.MaxAttempts < 1 {
		return NewValidationError("queue", "max_attempts", "must be at least 1, got %d", q.MaxAttempts)
	}
	if q.PollInterval <= 0 {
		return NewValidationError("queue", "poll_interval", "must be positive")
	}
	if q.StalledClaimCutoff <= q.BatchDeadline {
		return NewValidationError("queue", "stalled_claim_cutoff",
			"must exceed batch_deadline (%v), got %v", q.BatchDeadline, q.StalledClaimCutoff)
	}
	return nil
}

func validateFetch(f *FetchConfig) error {
	if f == nil {
		return NewValidationError("fetch", "", "fetch configuration is nil")
	}
	if f.StaticTimeout <= 0 || f.DynamicTimeout <= 0 {
		return NewValidationError("fetch", "timeouts", "must be positive")
	}
	if f.RetryMaxAttempts < 1 {
		return NewValidationError("fetch", "retry_max_attempts", "must be at least 1, got %d", f.RetryMaxAttempts)
	}
	if f.FailoverThreshold < 1 {
		return NewValidationError("fetch", "failover_threshold", "must be at least 1, got %d", f.FailoverThreshold)
	}
	if f.DefaultHostDelay < 0 {
		return NewValidationError("fetch", "default_host_delay", "must not be negative")
	}
	return nil
}

func validateExtract(e *ExtractConfig) error {
	if e == nil {
		return NewValidationError("extract", "", "extract configuration is nil")
	}
	if e.MinCards < 1 {
		return NewValidationError("extract", "min_cards", "must be at least 1, got %d", e.MinCards)
	}
	if e.MaxPaginationDepth < 0 {
		return NewValidationError("extract", "max_pagination_depth", "must not be negative")
	}
	if e.MaxGraphDepth < 1 {
		return NewValidationError("extract", "max_graph_depth", "must be at least 1, got %d", e.MaxGraphDepth)
	}
	return nil
}

func validateGeocode(g *GeocodeConfig) error {
	if g == nil {
		return NewValidationError("geocode", "", "geocode configuration is nil")
	}
	// Zero providers is valid: the pipeline runs with HTML extraction and
	// cache only, routing misses to geo_incomplete.
	for _, p := range g.Providers {
		if p.Name == "" {
			return NewValidationError("geocode", "providers", "provider name is required")
		}
		if p.URL == "" {
			return NewValidationError("geocode", "providers", "provider %q: url is required", p.Name)
		}
	}
	if g.MaxAttempts < 1 {
		return NewValidationError("geocode", "max_attempts", "must be at least 1, got %d", g.MaxAttempts)
	}
	return nil
}

func validateHealing(h *HealingConfig) error {
	if h == nil {
		return NewValidationError("healing", "", "healing configuration is nil")
	}
	if h.FailureThreshold < 1 {
		return NewValidationError("healing", "failure_threshold", "must be at least 1, got %d", h.FailureThreshold)
	}
	if h.QuarantineThreshold <= h.FailureThreshold {
		return NewValidationError("healing", "quarantine_threshold",
			"must exceed failure_threshold (%d), got %d", h.FailureThreshold, h.QuarantineThreshold)
	}
	if h.MinMatches < 1 {
		return NewValidationError("healing", "min_matches", "must be at least 1, got %d", h.MinMatches)
	}
	return nil
}

func validateCoordinator(c *CoordinatorConfig) error {
	if c == nil {
		return NewValidationError("coordinator", "", "coordinator configuration is nil")
	}
	if c.Interval <= 0 {
		return NewValidationError("coordinator", "interval", "must be positive")
	}
	if c.BatchSize < 1 {
		return NewValidationError("coordinator", "batch_size", "must be at least 1, got %d", c.BatchSize)
	}
	return nil
}
