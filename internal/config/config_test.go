package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadConfig(t *testing.T) {
	configContent := `
app:
  name: "marketpulse-test"
  version: "1.0.0"
  env: "test"

server:
  port: 9090
  host: "localhost"

scheduler:
  max_concurrent_fetches: 5
  tick_interval: 15s
  task_timeout_minutes: 4

quality:
  history_retention_hours: 12
  statistics_window_minutes: 30
  alert_channels: ["log"]
`

	path := writeTempConfig(t, configContent)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "marketpulse-test", cfg.App.Name)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 5, cfg.Scheduler.MaxConcurrentFetches)
	assert.Equal(t, 15*time.Second, cfg.Scheduler.TickInterval)
	assert.Equal(t, 12, cfg.Quality.HistoryRetentionHours)

	// Defaults survive partial config
	assert.Equal(t, 2.0, cfg.Scheduler.CacheExtensionFactor)
	assert.Equal(t, 48, cfg.Scheduler.EmergencyCacheHours)
	assert.True(t, cfg.Quality.EnableAlerts)
	assert.Equal(t, 1.1, cfg.Quality.QualityImprovementFactor)
}

func TestLoadConfigWithEnvironmentOverride(t *testing.T) {
	t.Setenv("MARKETPULSE_SERVER_PORT", "7070")
	t.Setenv("MARKETPULSE_REDIS_ADDR", "redis.internal:6379")

	path := writeTempConfig(t, `
server:
  port: 8080
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, "redis.internal:6379", cfg.Cache.Addr)
	assert.True(t, cfg.Cache.Enabled)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name        string
		mutate      func(*Config)
		expectError bool
	}{
		{
			name:        "defaults are valid",
			mutate:      func(c *Config) {},
			expectError: false,
		},
		{
			name:        "zero concurrent fetches",
			mutate:      func(c *Config) { c.Scheduler.MaxConcurrentFetches = 0 },
			expectError: true,
		},
		{
			name:        "negative task timeout",
			mutate:      func(c *Config) { c.Scheduler.TaskTimeoutMinutes = -1 },
			expectError: true,
		},
		{
			name:        "unknown alert channel",
			mutate:      func(c *Config) { c.Quality.AlertChannels = []string{"carrier_pigeon"} },
			expectError: true,
		},
		{
			name:        "webhook enabled without url",
			mutate:      func(c *Config) { c.Alerts.Webhook.Enabled = true },
			expectError: true,
		},
		{
			name: "webhook enabled with url",
			mutate: func(c *Config) {
				c.Alerts.Webhook.Enabled = true
				c.Alerts.Webhook.URL = "https://hooks.example.com/T000/B000"
			},
			expectError: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.expectError {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
