package monitoring

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	fetchesTotal      *prometheus.CounterVec
	fetchDuration     *prometheus.HistogramVec
	tasksEnabled      prometheus.Gauge
	qualityScore      *prometheus.GaugeVec
	sourceStatus      *prometheus.GaugeVec
	emergencyStop     prometheus.Gauge
	alertsTotal       *prometheus.CounterVec
	cacheHitsTotal    *prometheus.CounterVec
	httpRequestsTotal *prometheus.CounterVec
	alertDispatches   *prometheus.CounterVec
}

// NewMetrics creates and registers Prometheus metrics on a private registry
func NewMetrics() *Metrics {
	m := &Metrics{
		fetchesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "marketpulse_fetches_total",
				Help: "Total number of fetch executions",
			},
			[]string{"fetcher", "result"},
		),
		fetchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "marketpulse_fetch_duration_seconds",
				Help:    "Fetch execution duration in seconds",
				Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
			},
			[]string{"fetcher"},
		),
		tasksEnabled: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "marketpulse_tasks_enabled",
				Help: "Number of currently enabled scheduled tasks",
			},
		),
		qualityScore: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "marketpulse_quality_score",
				Help: "Latest quality score per data source",
			},
			[]string{"source_type", "source_name"},
		),
		sourceStatus: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "marketpulse_source_status",
				Help: "Latest quality status per data source (0=healthy .. 4=emergency_stop)",
			},
			[]string{"source_type", "source_name"},
		),
		emergencyStop: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "marketpulse_emergency_stop_active",
				Help: "Whether the global emergency stop is active",
			},
		),
		alertsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "marketpulse_quality_alerts_total",
				Help: "Total number of quality alerts raised",
			},
			[]string{"severity"},
		),
		cacheHitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "marketpulse_cache_requests_total",
				Help: "Payload cache requests by outcome",
			},
			[]string{"outcome"},
		),
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "marketpulse_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status"},
		),
		alertDispatches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "marketpulse_alert_dispatches_total",
				Help: "Alert channel dispatch attempts by outcome",
			},
			[]string{"channel", "result"},
		),
	}

	prometheus.MustRegister(
		m.fetchesTotal,
		m.fetchDuration,
		m.tasksEnabled,
		m.qualityScore,
		m.sourceStatus,
		m.emergencyStop,
		m.alertsTotal,
		m.cacheHitsTotal,
		m.httpRequestsTotal,
		m.alertDispatches,
	)

	return m
}

// RecordFetch records one fetch execution outcome
func (m *Metrics) RecordFetch(fetcher string, success bool, duration time.Duration) {
	result := "success"
	if !success {
		result = "failure"
	}
	m.fetchesTotal.WithLabelValues(fetcher, result).Inc()
	m.fetchDuration.WithLabelValues(fetcher).Observe(duration.Seconds())
}

// SetEnabledTasks updates the enabled task gauge
func (m *Metrics) SetEnabledTasks(n int) {
	m.tasksEnabled.Set(float64(n))
}

// SetQualityScore updates the per-source quality gauges
func (m *Metrics) SetQualityScore(sourceType, sourceName string, score float64, statusRank int) {
	m.qualityScore.WithLabelValues(sourceType, sourceName).Set(score)
	m.sourceStatus.WithLabelValues(sourceType, sourceName).Set(float64(statusRank))
}

// SetEmergencyStop updates the emergency stop gauge
func (m *Metrics) SetEmergencyStop(active bool) {
	if active {
		m.emergencyStop.Set(1)
	} else {
		m.emergencyStop.Set(0)
	}
}

// RecordAlert counts one raised alert
func (m *Metrics) RecordAlert(severity string) {
	m.alertsTotal.WithLabelValues(severity).Inc()
}

// RecordAlertDispatch counts one alert channel dispatch attempt
func (m *Metrics) RecordAlertDispatch(channel string, success bool) {
	result := "success"
	if !success {
		result = "failure"
	}
	m.alertDispatches.WithLabelValues(channel, result).Inc()
}

// RecordCacheRequest counts a payload cache hit or miss
func (m *Metrics) RecordCacheRequest(hit bool) {
	outcome := "hit"
	if !hit {
		outcome = "miss"
	}
	m.cacheHitsTotal.WithLabelValues(outcome).Inc()
}

// PrometheusMiddleware returns a gin middleware that records HTTP metrics
func (m *Metrics) PrometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		m.httpRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			strconv.Itoa(c.Writer.Status()),
		).Inc()
	}
}

// PrometheusHandler returns the /metrics handler
func PrometheusHandler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}
