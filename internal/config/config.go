package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"marketpulse/internal/logger"
)

// Config represents the application configuration
type Config struct {
	App       AppConfig       `yaml:"app"`
	Server    ServerConfig    `yaml:"server"`
	Logging   logger.Config   `yaml:"logging"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Quality   QualityConfig   `yaml:"quality"`
	Alerts    AlertsConfig    `yaml:"alerts"`
	Cache     CacheConfig     `yaml:"cache"`
}

// AppConfig represents application metadata
type AppConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
	Env     string `yaml:"env"`
}

// ServerConfig represents the reporting API server configuration
type ServerConfig struct {
	Port         int           `yaml:"port"`
	Host         string        `yaml:"host"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// SchedulerConfig represents global scheduler options
type SchedulerConfig struct {
	MaxConcurrentFetches       int           `yaml:"max_concurrent_fetches"`
	TickInterval               time.Duration `yaml:"tick_interval"`
	TaskTimeoutMinutes         int           `yaml:"task_timeout_minutes"`
	HealthCheckIntervalSeconds int           `yaml:"health_check_interval_seconds"`
	CacheExtensionFactor       float64       `yaml:"cache_extension_factor"`
	EmergencyCacheHours        int           `yaml:"emergency_cache_hours"`
}

// QualityConfig represents quality monitor options
type QualityConfig struct {
	HistoryRetentionHours    int               `yaml:"history_retention_hours"`
	StatisticsWindowMinutes  int               `yaml:"statistics_window_minutes"`
	EnableAlerts             bool              `yaml:"enable_alerts"`
	AlertChannels            []string          `yaml:"alert_channels"`
	GracefulDegradation      bool              `yaml:"graceful_degradation"`
	PartialDataAcceptance    bool              `yaml:"partial_data_acceptance"`
	QualityImprovementFactor float64           `yaml:"quality_improvement_factor"`
	Thresholds               *ThresholdsConfig `yaml:"thresholds"`
}

// ThresholdsConfig overrides the built-in classification boundaries
type ThresholdsConfig struct {
	DefaultRatioWarning  float64 `yaml:"default_ratio_warning"`
	DefaultRatioDegraded float64 `yaml:"default_ratio_degraded"`
	DefaultRatioFailed   float64 `yaml:"default_ratio_failed"`

	QualityScoreWarning  float64 `yaml:"quality_score_warning"`
	QualityScoreDegraded float64 `yaml:"quality_score_degraded"`
	QualityScoreFailed   float64 `yaml:"quality_score_failed"`

	SuccessRateWarning  float64 `yaml:"success_rate_warning"`
	SuccessRateDegraded float64 `yaml:"success_rate_degraded"`
	SuccessRateFailed   float64 `yaml:"success_rate_failed"`

	ConsecutiveFailuresEmergency int `yaml:"consecutive_failures_emergency"`

	RecoveryObservationMinutes int     `yaml:"recovery_observation_minutes"`
	RecoverySuccessRate        float64 `yaml:"recovery_success_rate"`
	RecoveryDefaultRatio       float64 `yaml:"recovery_default_ratio"`
}

// AlertsConfig represents alert dispatch options
type AlertsConfig struct {
	RetryCount      int           `yaml:"retry_count"`
	RetryInterval   time.Duration `yaml:"retry_interval"`
	Timeout         time.Duration `yaml:"timeout"`
	RateLimit       int           `yaml:"rate_limit"`
	RateLimitWindow time.Duration `yaml:"rate_limit_window"`
	Webhook         WebhookConfig `yaml:"webhook"`
}

// WebhookConfig represents an outbound webhook alert channel
type WebhookConfig struct {
	Enabled bool          `yaml:"enabled"`
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
}

// CacheConfig represents the payload cache backend
type CacheConfig struct {
	Enabled  bool   `yaml:"enabled"` // use redis when true, memory otherwise
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
	MaxSize  int    `yaml:"max_size"` // memory backend item cap
}

// Load loads configuration from a YAML file and applies env overrides
func Load(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.applyEnvOverrides()

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Default returns the built-in configuration defaults
func Default() *Config {
	return &Config{
		App: AppConfig{
			Name:    "marketpulse",
			Version: "dev",
			Env:     "development",
		},
		Server: ServerConfig{
			Port:         8080,
			Host:         "0.0.0.0",
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
		Logging: logger.DefaultConfig,
		Scheduler: SchedulerConfig{
			MaxConcurrentFetches:       3,
			TickInterval:               30 * time.Second,
			TaskTimeoutMinutes:         10,
			HealthCheckIntervalSeconds: 300,
			CacheExtensionFactor:       2.0,
			EmergencyCacheHours:        48,
		},
		Quality: QualityConfig{
			HistoryRetentionHours:    24,
			StatisticsWindowMinutes:  60,
			EnableAlerts:             true,
			AlertChannels:            []string{"log"},
			GracefulDegradation:      true,
			PartialDataAcceptance:    true,
			QualityImprovementFactor: 1.1,
		},
		Alerts: AlertsConfig{
			RetryCount:      3,
			RetryInterval:   30 * time.Second,
			Timeout:         10 * time.Second,
			RateLimit:       100,
			RateLimitWindow: time.Minute,
		},
		Cache: CacheConfig{
			Enabled:  false,
			Addr:     "localhost:6379",
			PoolSize: 10,
			MaxSize:  10000,
		},
	}
}

// applyEnvOverrides overrides selected fields from MARKETPULSE_* variables
func (c *Config) applyEnvOverrides() {
	if v := envString("SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}
	if v := envString("SERVER_HOST"); v != "" {
		c.Server.Host = v
	}
	if v := envString("LOG_LEVEL"); v != "" {
		c.Logging.Level = logger.LogLevel(strings.ToLower(v))
	}
	if v := envString("REDIS_ADDR"); v != "" {
		c.Cache.Addr = v
		c.Cache.Enabled = true
	}
	if v := envString("REDIS_PASSWORD"); v != "" {
		c.Cache.Password = v
	}
	if v := envString("WEBHOOK_URL"); v != "" {
		c.Alerts.Webhook.URL = v
		c.Alerts.Webhook.Enabled = true
	}
	if v := envString("ENV"); v != "" {
		c.App.Env = v
	}
}

func envString(key string) string {
	return os.Getenv("MARKETPULSE_" + key)
}
