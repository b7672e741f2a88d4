package quality

import (
	"time"
)

// Status represents a composite data quality verdict for one source
type Status string

const (
	StatusHealthy       Status = "healthy"
	StatusWarning       Status = "warning"
	StatusDegraded      Status = "degraded"
	StatusFailed        Status = "failed"
	StatusEmergencyStop Status = "emergency_stop"
)

// statusRank orders statuses by severity
var statusRank = map[Status]int{
	StatusHealthy:       0,
	StatusWarning:       1,
	StatusDegraded:      2,
	StatusFailed:        3,
	StatusEmergencyStop: 4,
}

// Rank returns the severity rank of the status (0=healthy .. 4=emergency_stop)
func (s Status) Rank() int {
	return statusRank[s]
}

// worseOf returns the more severe of two statuses
func worseOf(a, b Status) Status {
	if statusRank[b] > statusRank[a] {
		return b
	}
	return a
}

// Metrics is an immutable snapshot of one recording for one source
type Metrics struct {
	Timestamp    time.Time     `json:"timestamp"`
	SourceType   string        `json:"source_type"`
	SourceName   string        `json:"source_name"`
	QualityScore float64       `json:"quality_score"`
	DefaultRatio float64       `json:"default_ratio"`
	SuccessRate  float64       `json:"success_rate"`
	Latency      time.Duration `json:"latency"`
	ErrorCount   int           `json:"error_count"`
	Status       Status        `json:"status"`
}

// Thresholds holds the classification boundaries per tier and dimension
type Thresholds struct {
	DefaultRatioWarning  float64
	DefaultRatioDegraded float64
	DefaultRatioFailed   float64

	QualityScoreWarning  float64
	QualityScoreDegraded float64
	QualityScoreFailed   float64

	SuccessRateWarning  float64
	SuccessRateDegraded float64
	SuccessRateFailed   float64

	ConsecutiveFailuresEmergency int

	RecoveryObservationMinutes int
	RecoverySuccessRate        float64
	RecoveryDefaultRatio       float64
}

// DefaultThresholds returns the built-in classification boundaries
func DefaultThresholds() Thresholds {
	return Thresholds{
		DefaultRatioWarning:  0.20,
		DefaultRatioDegraded: 0.30,
		DefaultRatioFailed:   0.50,

		QualityScoreWarning:  0.80,
		QualityScoreDegraded: 0.70,
		QualityScoreFailed:   0.50,

		SuccessRateWarning:  0.90,
		SuccessRateDegraded: 0.80,
		SuccessRateFailed:   0.70,

		ConsecutiveFailuresEmergency: 10,

		RecoveryObservationMinutes: 30,
		RecoverySuccessRate:        0.85,
		RecoveryDefaultRatio:       0.15,
	}
}

// classify returns the worst verdict across the three dimensions
func (t Thresholds) classify(defaultRatio, qualityScore, successRate float64) Status {
	status := StatusHealthy

	switch {
	case defaultRatio >= t.DefaultRatioFailed:
		status = worseOf(status, StatusFailed)
	case defaultRatio >= t.DefaultRatioDegraded:
		status = worseOf(status, StatusDegraded)
	case defaultRatio >= t.DefaultRatioWarning:
		status = worseOf(status, StatusWarning)
	}

	switch {
	case qualityScore < t.QualityScoreFailed:
		status = worseOf(status, StatusFailed)
	case qualityScore < t.QualityScoreDegraded:
		status = worseOf(status, StatusDegraded)
	case qualityScore < t.QualityScoreWarning:
		status = worseOf(status, StatusWarning)
	}

	switch {
	case successRate < t.SuccessRateFailed:
		status = worseOf(status, StatusFailed)
	case successRate < t.SuccessRateDegraded:
		status = worseOf(status, StatusDegraded)
	case successRate < t.SuccessRateWarning:
		status = worseOf(status, StatusWarning)
	}

	return status
}

// AlertSeverity is the notification severity attached to alerts
type AlertSeverity string

const (
	AlertSeverityInfo     AlertSeverity = "info"
	AlertSeverityWarning  AlertSeverity = "warning"
	AlertSeverityError    AlertSeverity = "error"
	AlertSeverityCritical AlertSeverity = "critical"
)

// alertSeverityFor maps a quality status to its alert severity
func alertSeverityFor(status Status) AlertSeverity {
	switch status {
	case StatusEmergencyStop:
		return AlertSeverityCritical
	case StatusFailed:
		return AlertSeverityError
	case StatusDegraded, StatusWarning:
		return AlertSeverityWarning
	default:
		return AlertSeverityInfo
	}
}

// Alert is a raised quality alert
type Alert struct {
	ID         string        `json:"id"`
	Timestamp  time.Time     `json:"timestamp"`
	SourceType string        `json:"source_type"`
	SourceName string        `json:"source_name"`
	Severity   AlertSeverity `json:"severity"`
	Message    string        `json:"message"`
	Metrics    *Metrics      `json:"metrics,omitempty"`
	Resolved   bool          `json:"resolved"`
}

// Notifier dispatches raised alerts to the configured channels
type Notifier interface {
	Notify(alert *Alert)
}

// SourceSummary is the per-source entry of the quality summary
type SourceSummary struct {
	SourceType          string    `json:"source_type"`
	SourceName          string    `json:"source_name"`
	LastStatus          Status    `json:"last_status"`
	QualityScore        float64   `json:"quality_score"`
	DefaultRatio        float64   `json:"default_ratio"`
	SuccessRate         float64   `json:"success_rate"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	TotalRecords        int64     `json:"total_records"`
	LastUpdate          time.Time `json:"last_update"`
}

// Summary is the top-level quality summary for the reporting surface
type Summary struct {
	EmergencyStopActive bool                     `json:"emergency_stop_active"`
	EmergencySources    []string                 `json:"emergency_sources"`
	Sources             map[string]SourceSummary `json:"sources"`
	GeneratedAt         time.Time                `json:"generated_at"`
}

// WindowStats are rolling aggregates over the statistics window
type WindowStats struct {
	MeanQualityScore float64   `json:"mean_quality_score"`
	MeanDefaultRatio float64   `json:"mean_default_ratio"`
	MeanSuccessRate  float64   `json:"mean_success_rate"`
	SampleCount      int       `json:"sample_count"`
	WindowStart      time.Time `json:"window_start"`
}

// Report is the detailed quality report for the reporting surface
type Report struct {
	Summary      Summary                `json:"summary"`
	WindowStats  map[string]WindowStats `json:"window_stats"`
	ActiveAlerts []*Alert               `json:"active_alerts"`
	Thresholds   Thresholds             `json:"thresholds"`
	GeneratedAt  time.Time              `json:"generated_at"`
}
