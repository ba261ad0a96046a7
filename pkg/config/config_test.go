package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultQueueConfig(t *testing.T) {
	cfg := DefaultQueueConfig()

	assert.Equal(t, 2, cfg.WorkersPerStage)
	assert.Equal(t, 10, cfg.BatchSize)
	assert.Equal(t, 3, cfg.MaxAttempts)
	assert.Equal(t, 1*time.Second, cfg.PollInterval)
	assert.Equal(t, 60*time.Second, cfg.BatchDeadline)
	assert.Equal(t, 5*time.Minute, cfg.StalledClaimCutoff)
}

func TestDefaultsValidate(t *testing.T) {
	assert.NoError(t, Validate(Default()))
}

func TestInitializeMissingDirUsesDefaults(t *testing.T) {
	cfg, err := Initialize(context.Background(), t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, 15*time.Second, cfg.Fetch.StaticTimeout)
	assert.Equal(t, 1, cfg.Extract.MinCards)
	assert.Equal(t, 180*24*time.Hour, cfg.Geocode.CacheTTL)
}

func TestInitializeMergesUserYAML(t *testing.T) {
	dir := t.TempDir()
	yaml := `
queue:
  workers_per_stage: 4
fetch:
  static_timeout: 5s
geocode:
  providers:
    - name: nominatim
      url: https://nominatim.example.org/search
      min_delay: 1s
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, ConfigFileName), []byte(yaml), 0o600))

	cfg, err := Initialize(context.Background(), dir)
	require.NoError(t, err)

	// Overridden values
	assert.Equal(t, 4, cfg.Queue.WorkersPerStage)
	assert.Equal(t, 5*time.Second, cfg.Fetch.StaticTimeout)
	require.Len(t, cfg.Geocode.Providers, 1)
	assert.Equal(t, "nominatim", cfg.Geocode.Providers[0].Name)

	// Untouched defaults in partially specified sections survive
	assert.Equal(t, 10, cfg.Queue.BatchSize)
	assert.Equal(t, 30*time.Second, cfg.Fetch.DynamicTimeout)
}

func TestInitializeEnvExpansion(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("TEST_RENDERER_URL", "https://render.example.org")
	yaml := "fetch:\n  renderer_url: \"{{.TEST_RENDERER_URL}}\"\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, ConfigFileName), []byte(yaml), 0o600))

	cfg, err := Initialize(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, "https://render.example.org", cfg.Fetch.RendererURL)
}

func TestValidateRejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{
			name:   "workers out of range",
			mutate: func(c *Config) { c.Queue.WorkersPerStage = 0 },
			errMsg: "workers_per_stage",
		},
		{
			name:   "batch size out of range",
			mutate: func(c *Config) { c.Queue.BatchSize = 500 },
			errMsg: "batch_size",
		},
		{
			name:   "stalled cutoff below deadline",
			mutate: func(c *Config) { c.Queue.StalledClaimCutoff = time.Second },
			errMsg: "stalled_claim_cutoff",
		},
		{
			name:   "min cards zero",
			mutate: func(c *Config) { c.Extract.MinCards = 0 },
			errMsg: "min_cards",
		},
		{
			name: "provider without url",
			mutate: func(c *Config) {
				c.Geocode.Providers = []GeocodeProviderConfig{{Name: "broken"}}
			},
			errMsg: "url is required",
		},
		{
			name:   "quarantine below failure threshold",
			mutate: func(c *Config) { c.Healing.QuarantineThreshold = 2 },
			errMsg: "quarantine_threshold",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := Validate(cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestExpandEnvLeavesDollarAlone(t *testing.T) {
	in := []byte("pattern: ^event.*$\n")
	assert.Equal(t, in, ExpandEnv(in))
}
