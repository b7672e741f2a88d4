package scheduler

import (
	"context"
	"time"
)

// ScheduleType selects how a task's next run is computed
type ScheduleType string

const (
	ScheduleInterval ScheduleType = "interval"
	ScheduleCron     ScheduleType = "cron"
	ScheduleAdaptive ScheduleType = "adaptive"
)

// ScheduleConfig is the per-task schedule configuration
type ScheduleConfig struct {
	// SourceType groups fetchers for quality lookups (price_data, technical,
	// external, market)
	SourceType string       `yaml:"source_type" json:"source_type"`
	Type       ScheduleType `yaml:"type" json:"type"`

	IntervalMinutes    int    `yaml:"interval_minutes" json:"interval_minutes"`
	AdaptiveMinMinutes int    `yaml:"adaptive_min_minutes" json:"adaptive_min_minutes"`
	AdaptiveMaxMinutes int    `yaml:"adaptive_max_minutes" json:"adaptive_max_minutes"`
	CronExpr           string `yaml:"cron_expr" json:"cron_expr"`

	// Lower value means higher priority
	Priority int  `yaml:"priority" json:"priority"`
	Enabled  bool `yaml:"enabled" json:"enabled"`

	QualityBasedAdjustment  bool    `yaml:"quality_based_adjustment" json:"quality_based_adjustment"`
	HighQualityExtendFactor float64 `yaml:"high_quality_extend_factor" json:"high_quality_extend_factor"`
	LowQualityReduceFactor  float64 `yaml:"low_quality_reduce_factor" json:"low_quality_reduce_factor"`

	MarketHoursAdjustment bool    `yaml:"market_hours_adjustment" json:"market_hours_adjustment"`
	MarketHoursFactor     float64 `yaml:"market_hours_factor" json:"market_hours_factor"`
	OffHoursFactor        float64 `yaml:"off_hours_factor" json:"off_hours_factor"`
}

// applyDefaults fills the adjustment factors left at zero
func (c *ScheduleConfig) applyDefaults() {
	if c.HighQualityExtendFactor == 0 {
		c.HighQualityExtendFactor = 1.5
	}
	if c.LowQualityReduceFactor == 0 {
		c.LowQualityReduceFactor = 0.5
	}
	if c.MarketHoursFactor == 0 {
		c.MarketHoursFactor = 0.5
	}
	if c.OffHoursFactor == 0 {
		c.OffHoursFactor = 2.0
	}
}

// ScheduledTask is the runtime state of one registered fetch task. It is
// owned and mutated exclusively by the Scheduler.
type ScheduledTask struct {
	ID        string
	FetcherID string
	Config    ScheduleConfig

	NextRun             time.Time
	LastRun             time.Time
	LastSuccess         time.Time
	ConsecutiveFailures int
	TotalRuns           int64
	SuccessfulRuns      int64
	Enabled             bool
}

// SuccessRate returns the task's all-time success ratio, 0 before any run
func (t *ScheduledTask) SuccessRate() float64 {
	if t.TotalRuns == 0 {
		return 0
	}
	return float64(t.SuccessfulRuns) / float64(t.TotalRuns)
}

// TaskView is a read-only snapshot for the reporting surface
type TaskView struct {
	ID                  string    `json:"id"`
	FetcherID           string    `json:"fetcher_id"`
	SourceType          string    `json:"source_type"`
	Type                string    `json:"type"`
	Priority            int       `json:"priority"`
	Enabled             bool      `json:"enabled"`
	NextRun             time.Time `json:"next_run"`
	LastRun             time.Time `json:"last_run"`
	LastSuccess         time.Time `json:"last_success"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	TotalRuns           int64     `json:"total_runs"`
	SuccessfulRuns      int64     `json:"successful_runs"`
	SuccessRate         float64   `json:"success_rate"`
}

// Stats aggregates scheduler activity for the reporting surface
type Stats struct {
	TotalTasks     int       `json:"total_tasks"`
	EnabledTasks   int       `json:"enabled_tasks"`
	TotalRuns      int64     `json:"total_runs"`
	SuccessfulRuns int64     `json:"successful_runs"`
	FailedRuns     int64     `json:"failed_runs"`
	LastTick       time.Time `json:"last_tick"`
	Running        bool      `json:"running"`
}

// Dataset is the payload returned by a fetcher. A nil or empty dataset
// counts as a failed fetch.
type Dataset struct {
	Values       map[string]interface{} `json:"values"`
	QualityScore float64                `json:"quality_score"`
	DefaultRatio float64                `json:"default_ratio"`
	FetchedAt    time.Time              `json:"fetched_at"`
}

// Empty reports whether the dataset carries no usable values
func (d *Dataset) Empty() bool {
	return d == nil || len(d.Values) == 0
}

// Fetcher retrieves one source's payload. Implementations may block on I/O
// and must honor context cancellation.
type Fetcher interface {
	GetData(ctx context.Context) (*Dataset, error)
	CacheInfo() map[string]interface{}
	ResetCache()
}
