package scheduler

import (
	"time"

	"github.com/robfig/cron/v3"

	"marketpulse/internal/quality"
)

// Market hours window: weekdays 09:00-15:00 local time
const (
	marketOpenHour  = 9
	marketCloseHour = 15
)

// IntervalCalculator computes the next run time for a schedule, folding in
// the quality monitor's latest reading for the fetcher's source type.
type IntervalCalculator struct {
	quality *quality.Monitor
	now     func() time.Time
}

// NewIntervalCalculator creates an interval calculator
func NewIntervalCalculator(monitor *quality.Monitor) *IntervalCalculator {
	return &IntervalCalculator{
		quality: monitor,
		now:     time.Now,
	}
}

// NextRunTime computes the next run for a schedule config
func (ic *IntervalCalculator) NextRunTime(cfg *ScheduleConfig) time.Time {
	now := ic.now()

	switch cfg.Type {
	case ScheduleAdaptive:
		// Documented simplification: midpoint of the adaptive bounds. A
		// success-rate-weighted interpolation would slot in here.
		midpoint := float64(cfg.AdaptiveMinMinutes+cfg.AdaptiveMaxMinutes) / 2.0
		return now.Add(time.Duration(midpoint * float64(time.Minute)))

	case ScheduleCron:
		if cfg.CronExpr != "" {
			if sched, err := cron.ParseStandard(cfg.CronExpr); err == nil {
				return sched.Next(now)
			}
		}
		// Placeholder without an expression: top of the next hour
		return now.Truncate(time.Hour).Add(time.Hour)

	default:
		return ic.nextIntervalRun(cfg, now)
	}
}

func (ic *IntervalCalculator) nextIntervalRun(cfg *ScheduleConfig, now time.Time) time.Time {
	base := float64(cfg.IntervalMinutes)

	if cfg.QualityBasedAdjustment && ic.quality != nil {
		if score, ok := ic.quality.LatestScoreForType(cfg.SourceType); ok {
			switch {
			case score >= 0.9:
				base *= cfg.HighQualityExtendFactor
			case score < 0.6:
				base *= cfg.LowQualityReduceFactor
			}
		}
	}

	if cfg.MarketHoursAdjustment {
		if isMarketHours(now) {
			base *= cfg.MarketHoursFactor
		} else {
			base *= cfg.OffHoursFactor
		}
	}

	return now.Add(time.Duration(base * float64(time.Minute)))
}

// isMarketHours reports whether t falls inside the weekday trading window
func isMarketHours(t time.Time) bool {
	switch t.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	return t.Hour() >= marketOpenHour && t.Hour() < marketCloseHour
}
