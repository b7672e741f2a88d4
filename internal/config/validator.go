package config

import (
	"fmt"
	"strings"
)

// Validate checks the configuration for values that would misbehave at runtime
func (c *Config) Validate() error {
	var errs []string

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server: invalid port %d", c.Server.Port))
	}

	if c.Scheduler.MaxConcurrentFetches <= 0 {
		errs = append(errs, "scheduler: max_concurrent_fetches must be positive")
	}
	if c.Scheduler.TickInterval <= 0 {
		errs = append(errs, "scheduler: tick_interval must be positive")
	}
	if c.Scheduler.TaskTimeoutMinutes <= 0 {
		errs = append(errs, "scheduler: task_timeout_minutes must be positive")
	}
	if c.Scheduler.CacheExtensionFactor < 1.0 {
		errs = append(errs, "scheduler: cache_extension_factor must be >= 1.0")
	}

	if c.Quality.HistoryRetentionHours <= 0 {
		errs = append(errs, "quality: history_retention_hours must be positive")
	}
	if c.Quality.StatisticsWindowMinutes <= 0 {
		errs = append(errs, "quality: statistics_window_minutes must be positive")
	}
	if c.Quality.QualityImprovementFactor < 1.0 {
		errs = append(errs, "quality: quality_improvement_factor must be >= 1.0")
	}
	for _, ch := range c.Quality.AlertChannels {
		switch ch {
		case "log", "webhook":
		default:
			errs = append(errs, fmt.Sprintf("quality: unknown alert channel %q", ch))
		}
	}

	if c.Alerts.Webhook.Enabled && c.Alerts.Webhook.URL == "" {
		errs = append(errs, "alerts: webhook enabled without url")
	}

	if c.Cache.Enabled && c.Cache.Addr == "" {
		errs = append(errs, "cache: redis enabled without addr")
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(errs, "; "))
	}
	return nil
}
