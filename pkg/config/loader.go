package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// ConfigFileName is the main configuration file inside the config dir.
const ConfigFileName = "harvester.yaml"

// Initialize loads, merges, and validates configuration from configDir.
// This is the primary entry point for configuration loading.
//
// Steps performed:
//  1. Read harvester.yaml (optional — defaults apply when absent)
//  2. Expand environment variables in the raw YAML
//  3. Parse YAML into the user Config
//  4. Merge user config over built-in defaults
//  5. Validate the result
func Initialize(ctx context.Context, configDir string) (*Config, error) {
	log := slog.With("config_dir", configDir)
	log.Info("Initializing configuration")

	cfg, err := load(ctx, configDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidationFailed, err)
	}

	log.Info("Configuration initialized",
		"workers_per_stage", cfg.Queue.WorkersPerStage,
		"batch_size", cfg.Queue.BatchSize,
		"geocode_providers", len(cfg.Geocode.Providers),
		"slack_enabled", cfg.Slack.Enabled)

	return cfg, nil
}

func load(_ context.Context, configDir string) (*Config, error) {
	cfg := Default()

	path := filepath.Join(configDir, ConfigFileName)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			slog.Warn("No config file found, running on defaults", "path", path)
			return cfg, nil
		}
		return nil, &LoadError{File: ConfigFileName, Err: err}
	}

	data = ExpandEnv(data)

	var user Config
	if err := yaml.Unmarshal(data, &user); err != nil {
		return nil, &LoadError{File: ConfigFileName, Err: fmt.Errorf("%w: %w", ErrInvalidYAML, err)}
	}

	if err := mergeConfig(cfg, &user); err != nil {
		return nil, &LoadError{File: ConfigFileName, Err: err}
	}
	return cfg, nil
}

// mergeConfig overlays non-zero user values onto the defaults, section by
// section so a partially specified section keeps its remaining defaults.
func mergeConfig(base, user *Config) error {
	sections := []struct {
		name string
		dst  any
		src  any
	}{
		{"queue", base.Queue, user.Queue},
		{"fetch", base.Fetch, user.Fetch},
		{"extract", base.Extract, user.Extract},
		{"geocode", base.Geocode, user.Geocode},
		{"images", base.Images, user.Images},
		{"llm", base.LLM, user.LLM},
		{"slack", base.Slack, user.Slack},
		{"coordinator", base.Coordinator, user.Coordinator},
		{"healing", base.Healing, user.Healing},
		{"retention", base.Retention, user.Retention},
	}
	for _, s := range sections {
		if isNil(s.src) {
			continue
		}
		if err := mergo.Merge(s.dst, s.src, mergo.WithOverride); err != nil {
			return fmt.Errorf("failed to merge %s config: %w", s.name, err)
		}
	}
	return nil
}

func isNil(v any) bool {
	switch t := v.(type) {
	case *QueueConfig:
		return t == nil
	case *FetchConfig:
		return t == nil
	case *ExtractConfig:
		return t == nil
	case *GeocodeConfig:
		return t == nil
	case *ImagesConfig:
		return t == nil
	case *LLMConfig:
		return t == nil
	case *SlackConfig:
		return t == nil
	case *CoordinatorConfig:
		return t == nil
	case *HealingConfig:
		return t == nil
	case *RetentionConfig:
		return t == nil
	}
	return v == nil
}

// LLMAPIKey resolves the provider key from the configured env var.
func (c *Config) LLMAPIKey() string {
	if c.LLM == nil {
		return ""
	}
	return c.LLM.APIKey()
}

// APIKey resolves the provider key from the configured env var.
func (c *LLMConfig) APIKey() string {
	if c.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(c.APIKeyEnv)
}

// SlackWebhookURL resolves the webhook from the configured env var.
func (c *Config) SlackWebhookURL() string {
	if c.Slack == nil || c.Slack.WebhookURLEnv == "" {
		return ""
	}
	return os.Getenv(c.Slack.WebhookURLEnv)
}
