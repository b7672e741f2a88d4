package quality

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"marketpulse/internal/config"
	"marketpulse/internal/logger"
	"marketpulse/internal/monitoring"
)

// Monitor classifies per-source data quality, raises alerts and tracks the
// process-wide emergency stop state. Safe for concurrent use.
type Monitor struct {
	mu sync.RWMutex

	cfg        config.QualityConfig
	thresholds Thresholds
	log        logger.Logger
	notifier   Notifier
	metrics    *monitoring.Metrics

	counters    map[string]*sourceCounters
	history     map[string][]*Metrics
	latest      map[string]*Metrics
	windowStats map[string]WindowStats
	alerts      []*Alert

	emergencyActive  bool
	emergencySources map[string]struct{}
	recoverySources  map[string]struct{}

	// trailing recorded scores across all sources, for AdjustedThreshold
	recentScores []float64
}

type sourceCounters struct {
	total               int64
	successful          int64
	consecutiveFailures int
}

const (
	maxAlertHistory    = 1000
	recentScoreWindow  = 30
	minRecoverySamples = 3
)

// NewMonitor creates a quality monitor
func NewMonitor(cfg config.QualityConfig, log logger.Logger, notifier Notifier, metrics *monitoring.Metrics) *Monitor {
	return &Monitor{
		cfg:              cfg,
		thresholds:       thresholdsFromConfig(cfg.Thresholds),
		log:              log,
		notifier:         notifier,
		metrics:          metrics,
		counters:         make(map[string]*sourceCounters),
		history:          make(map[string][]*Metrics),
		latest:           make(map[string]*Metrics),
		windowStats:      make(map[string]WindowStats),
		emergencySources: make(map[string]struct{}),
		recoverySources:  make(map[string]struct{}),
	}
}

// thresholdsFromConfig applies configured overrides on top of the defaults
func thresholdsFromConfig(tc *config.ThresholdsConfig) Thresholds {
	t := DefaultThresholds()
	if tc == nil {
		return t
	}
	if tc.DefaultRatioWarning > 0 {
		t.DefaultRatioWarning = tc.DefaultRatioWarning
	}
	if tc.DefaultRatioDegraded > 0 {
		t.DefaultRatioDegraded = tc.DefaultRatioDegraded
	}
	if tc.DefaultRatioFailed > 0 {
		t.DefaultRatioFailed = tc.DefaultRatioFailed
	}
	if tc.QualityScoreWarning > 0 {
		t.QualityScoreWarning = tc.QualityScoreWarning
	}
	if tc.QualityScoreDegraded > 0 {
		t.QualityScoreDegraded = tc.QualityScoreDegraded
	}
	if tc.QualityScoreFailed > 0 {
		t.QualityScoreFailed = tc.QualityScoreFailed
	}
	if tc.SuccessRateWarning > 0 {
		t.SuccessRateWarning = tc.SuccessRateWarning
	}
	if tc.SuccessRateDegraded > 0 {
		t.SuccessRateDegraded = tc.SuccessRateDegraded
	}
	if tc.SuccessRateFailed > 0 {
		t.SuccessRateFailed = tc.SuccessRateFailed
	}
	if tc.ConsecutiveFailuresEmergency > 0 {
		t.ConsecutiveFailuresEmergency = tc.ConsecutiveFailuresEmergency
	}
	if tc.RecoveryObservationMinutes > 0 {
		t.RecoveryObservationMinutes = tc.RecoveryObservationMinutes
	}
	if tc.RecoverySuccessRate > 0 {
		t.RecoverySuccessRate = tc.RecoverySuccessRate
	}
	if tc.RecoveryDefaultRatio > 0 {
		t.RecoveryDefaultRatio = tc.RecoveryDefaultRatio
	}
	return t
}

func sourceKey(sourceType, sourceName string) string {
	return sourceType + ":" + sourceName
}

// RecordMetrics ingests one execution outcome for a source and returns the
// classified snapshot. A panic while recording is converted into a synthetic
// worst-case snapshot so downstream consumers never see missing data.
func (m *Monitor) RecordMetrics(sourceType, sourceName string, qualityScore, defaultRatio float64, success bool, latency time.Duration, errorCount int) (snapshot *Metrics) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("quality recording panicked, recording synthetic failure",
				"source", sourceKey(sourceType, sourceName), "panic", fmt.Sprintf("%v", r))
			snapshot = m.recordSynthetic(sourceType, sourceName, latency, errorCount)
		}
	}()

	return m.record(sourceType, sourceName, qualityScore, defaultRatio, success, latency, errorCount)
}

func (m *Monitor) record(sourceType, sourceName string, qualityScore, defaultRatio float64, success bool, latency time.Duration, errorCount int) *Metrics {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := sourceKey(sourceType, sourceName)
	now := time.Now()

	c := m.counters[key]
	if c == nil {
		c = &sourceCounters{}
		m.counters[key] = c
	}
	c.total++
	if success {
		c.successful++
		c.consecutiveFailures = 0
	} else {
		c.consecutiveFailures++
	}
	successRate := float64(c.successful) / float64(c.total)

	status := m.thresholds.classify(defaultRatio, qualityScore, successRate)
	if c.consecutiveFailures >= m.thresholds.ConsecutiveFailuresEmergency {
		status = StatusEmergencyStop
	} else if m.emergencyActive {
		if _, stopped := m.emergencySources[key]; stopped {
			status = StatusEmergencyStop
		}
	}

	snapshot := &Metrics{
		Timestamp:    now,
		SourceType:   sourceType,
		SourceName:   sourceName,
		QualityScore: qualityScore,
		DefaultRatio: defaultRatio,
		SuccessRate:  successRate,
		Latency:      latency,
		ErrorCount:   errorCount,
		Status:       status,
	}

	m.history[key] = append(m.history[key], snapshot)
	m.latest[key] = snapshot
	m.refreshWindowStats(key, now)

	m.recentScores = append(m.recentScores, qualityScore)
	if len(m.recentScores) > recentScoreWindow {
		m.recentScores = m.recentScores[len(m.recentScores)-recentScoreWindow:]
	}

	if status == StatusHealthy {
		m.resolveAlertsLocked(key)
	} else {
		m.raiseAlertLocked(snapshot)
	}

	if status == StatusEmergencyStop {
		m.emergencyActive = true
		m.emergencySources[key] = struct{}{}
		// A fresh stop resets recovery alert dedup so a later recovery
		// notifies again.
		delete(m.recoverySources, key)
	}

	m.checkRecoveryLocked(key, now)
	m.pruneHistoryLocked(now)

	if m.metrics != nil {
		m.metrics.SetQualityScore(sourceType, sourceName, qualityScore, status.Rank())
		m.metrics.SetEmergencyStop(m.emergencyActive)
	}

	return snapshot
}

// recordSynthetic records a worst-case snapshot after a recording failure
func (m *Monitor) recordSynthetic(sourceType, sourceName string, latency time.Duration, errorCount int) *Metrics {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := sourceKey(sourceType, sourceName)
	now := time.Now()

	c := m.counters[key]
	if c == nil {
		c = &sourceCounters{}
		m.counters[key] = c
	}

	successRate := 0.0
	if c.total > 0 {
		successRate = float64(c.successful) / float64(c.total)
	}

	snapshot := &Metrics{
		Timestamp:    now,
		SourceType:   sourceType,
		SourceName:   sourceName,
		QualityScore: 0,
		DefaultRatio: 1.0,
		SuccessRate:  successRate,
		Latency:      latency,
		ErrorCount:   errorCount,
		Status:       StatusFailed,
	}

	m.history[key] = append(m.history[key], snapshot)
	m.latest[key] = snapshot

	return snapshot
}

// raiseAlertLocked raises one alert unless an unresolved alert with the same
// source and severity already exists. Caller holds the lock.
func (m *Monitor) raiseAlertLocked(snapshot *Metrics) {
	if !m.cfg.EnableAlerts {
		return
	}

	severity := alertSeverityFor(snapshot.Status)
	key := sourceKey(snapshot.SourceType, snapshot.SourceName)

	for _, a := range m.alerts {
		if !a.Resolved && a.Severity == severity && sourceKey(a.SourceType, a.SourceName) == key {
			return
		}
	}

	alert := &Alert{
		ID:         uuid.New().String(),
		Timestamp:  snapshot.Timestamp,
		SourceType: snapshot.SourceType,
		SourceName: snapshot.SourceName,
		Severity:   severity,
		Message: fmt.Sprintf("%s quality is %s (score=%.2f default_ratio=%.2f success_rate=%.2f)",
			key, snapshot.Status, snapshot.QualityScore, snapshot.DefaultRatio, snapshot.SuccessRate),
		Metrics: snapshot,
	}
	m.appendAlertLocked(alert)
}

// raiseRecoveryAlertLocked raises the one-time info alert after recovery
func (m *Monitor) raiseRecoveryAlertLocked(key string, stats WindowStats) {
	if !m.cfg.EnableAlerts {
		return
	}

	latest := m.latest[key]
	alert := &Alert{
		ID:         uuid.New().String(),
		Timestamp:  time.Now(),
		SourceType: latest.SourceType,
		SourceName: latest.SourceName,
		Severity:   AlertSeverityInfo,
		Message: fmt.Sprintf("%s recovered from emergency stop (mean_success_rate=%.2f mean_default_ratio=%.2f over %d samples)",
			key, stats.MeanSuccessRate, stats.MeanDefaultRatio, stats.SampleCount),
	}
	m.appendAlertLocked(alert)
}

func (m *Monitor) appendAlertLocked(alert *Alert) {
	m.alerts = append(m.alerts, alert)
	if len(m.alerts) > maxAlertHistory {
		m.alerts = m.alerts[len(m.alerts)-maxAlertHistory:]
	}

	if m.metrics != nil {
		m.metrics.RecordAlert(string(alert.Severity))
	}

	if m.notifier != nil {
		go m.notifier.Notify(alert)
	}
}

// resolveAlertsLocked marks all unresolved alerts for a source resolved
func (m *Monitor) resolveAlertsLocked(key string) {
	for _, a := range m.alerts {
		if !a.Resolved && sourceKey(a.SourceType, a.SourceName) == key && a.Severity != AlertSeverityInfo {
			a.Resolved = true
		}
	}
}

// checkRecoveryLocked clears a source's emergency stop once enough qualifying
// samples land inside the observation window
func (m *Monitor) checkRecoveryLocked(key string, now time.Time) {
	if _, stopped := m.emergencySources[key]; !stopped {
		return
	}

	cutoff := now.Add(-time.Duration(m.thresholds.RecoveryObservationMinutes) * time.Minute)
	var sumSuccess, sumRatio float64
	var n int
	for _, s := range m.history[key] {
		if s.Timestamp.Before(cutoff) {
			continue
		}
		sumSuccess += s.SuccessRate
		sumRatio += s.DefaultRatio
		n++
	}

	if n < minRecoverySamples {
		return
	}

	stats := WindowStats{
		MeanSuccessRate:  sumSuccess / float64(n),
		MeanDefaultRatio: sumRatio / float64(n),
		SampleCount:      n,
		WindowStart:      cutoff,
	}

	if stats.MeanSuccessRate < m.thresholds.RecoverySuccessRate ||
		stats.MeanDefaultRatio > m.thresholds.RecoveryDefaultRatio {
		return
	}

	delete(m.emergencySources, key)
	if len(m.emergencySources) == 0 {
		m.emergencyActive = false
	}
	m.resolveAlertsLocked(key)

	if _, seen := m.recoverySources[key]; !seen {
		m.recoverySources[key] = struct{}{}
		m.raiseRecoveryAlertLocked(key, stats)
		m.log.Info("source recovered from emergency stop",
			"source", key,
			"mean_success_rate", stats.MeanSuccessRate,
			"mean_default_ratio", stats.MeanDefaultRatio)
	}

	if m.metrics != nil {
		m.metrics.SetEmergencyStop(m.emergencyActive)
	}
}

// refreshWindowStats recomputes rolling aggregates for one source
func (m *Monitor) refreshWindowStats(key string, now time.Time) {
	cutoff := now.Add(-time.Duration(m.cfg.StatisticsWindowMinutes) * time.Minute)

	var sumScore, sumRatio, sumSuccess float64
	var n int
	for _, s := range m.history[key] {
		if s.Timestamp.Before(cutoff) {
			continue
		}
		sumScore += s.QualityScore
		sumRatio += s.DefaultRatio
		sumSuccess += s.SuccessRate
		n++
	}

	if n == 0 {
		delete(m.windowStats, key)
		return
	}

	m.windowStats[key] = WindowStats{
		MeanQualityScore: sumScore / float64(n),
		MeanDefaultRatio: sumRatio / float64(n),
		MeanSuccessRate:  sumSuccess / float64(n),
		SampleCount:      n,
		WindowStart:      cutoff,
	}
}

// pruneHistoryLocked drops snapshots older than the retention horizon
func (m *Monitor) pruneHistoryLocked(now time.Time) {
	cutoff := now.Add(-time.Duration(m.cfg.HistoryRetentionHours) * time.Hour)
	for key, snapshots := range m.history {
		idx := 0
		for idx < len(snapshots) && snapshots[idx].Timestamp.Before(cutoff) {
			idx++
		}
		if idx > 0 {
			m.history[key] = snapshots[idx:]
		}
	}
}

// ShouldAllowTrading reports whether downstream trading decisions may rely on
// this source right now
func (m *Monitor) ShouldAllowTrading(sourceType, sourceName string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.emergencyActive {
		return false
	}
	key := sourceKey(sourceType, sourceName)
	if _, stopped := m.emergencySources[key]; stopped {
		return false
	}
	if latest, ok := m.latest[key]; ok {
		if latest.Status == StatusFailed || latest.Status == StatusEmergencyStop {
			return false
		}
	}
	return true
}

// EmergencyStopActive reports the process-wide emergency stop flag
func (m *Monitor) EmergencyStopActive() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.emergencyActive
}

// EmergencySources returns the currently stopped source keys, sorted
func (m *Monitor) EmergencySources() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.emergencySourcesLocked()
}

func (m *Monitor) emergencySourcesLocked() []string {
	keys := make([]string, 0, len(m.emergencySources))
	for key := range m.emergencySources {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// LatestMetrics returns the latest snapshot for a source, or nil
func (m *Monitor) LatestMetrics(sourceType, sourceName string) *Metrics {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if latest, ok := m.latest[sourceKey(sourceType, sourceName)]; ok {
		copied := *latest
		return &copied
	}
	return nil
}

// LatestScoreForType returns the most recent quality score recorded for any
// source of the given type
func (m *Monitor) LatestScoreForType(sourceType string) (float64, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var best *Metrics
	for _, s := range m.latest {
		if s.SourceType != sourceType {
			continue
		}
		if best == nil || s.Timestamp.After(best.Timestamp) {
			best = s
		}
	}
	if best == nil {
		return 0, false
	}
	return best.QualityScore, true
}

// GetQualitySummary returns a copy of the current per-source state
func (m *Monitor) GetQualitySummary() Summary {
	m.mu.RLock()
	defer m.mu.RUnlock()

	summary := Summary{
		EmergencyStopActive: m.emergencyActive,
		EmergencySources:    m.emergencySourcesLocked(),
		Sources:             make(map[string]SourceSummary, len(m.latest)),
		GeneratedAt:         time.Now(),
	}

	for key, s := range m.latest {
		c := m.counters[key]
		entry := SourceSummary{
			SourceType:   s.SourceType,
			SourceName:   s.SourceName,
			LastStatus:   s.Status,
			QualityScore: s.QualityScore,
			DefaultRatio: s.DefaultRatio,
			SuccessRate:  s.SuccessRate,
			LastUpdate:   s.Timestamp,
		}
		if c != nil {
			entry.ConsecutiveFailures = c.consecutiveFailures
			entry.TotalRecords = c.total
		}
		summary.Sources[key] = entry
	}

	return summary
}

// GetQualityReport returns the detailed quality report
func (m *Monitor) GetQualityReport() Report {
	summary := m.GetQualitySummary()

	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := make(map[string]WindowStats, len(m.windowStats))
	for key, ws := range m.windowStats {
		stats[key] = ws
	}

	return Report{
		Summary:      summary,
		WindowStats:  stats,
		ActiveAlerts: m.activeAlertsLocked(),
		Thresholds:   m.thresholds,
		GeneratedAt:  time.Now(),
	}
}

// GetActiveAlerts returns copies of all unresolved alerts
func (m *Monitor) GetActiveAlerts() []*Alert {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.activeAlertsLocked()
}

func (m *Monitor) activeAlertsLocked() []*Alert {
	var active []*Alert
	for _, a := range m.alerts {
		if !a.Resolved {
			copied := *a
			active = append(active, &copied)
		}
	}
	return active
}

// GetAlerts returns up to limit most recent alerts, newest last
func (m *Monitor) GetAlerts(limit int) []*Alert {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if limit <= 0 || limit > len(m.alerts) {
		limit = len(m.alerts)
	}

	result := make([]*Alert, limit)
	for i, a := range m.alerts[len(m.alerts)-limit:] {
		copied := *a
		result[i] = &copied
	}
	return result
}
