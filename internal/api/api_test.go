package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketpulse/internal/cache"
	"marketpulse/internal/config"
	"marketpulse/internal/logger"
	"marketpulse/internal/quality"
	"marketpulse/internal/scheduler"
	"marketpulse/internal/testutils"
)

type nopFetcher struct{}

func (nopFetcher) GetData(ctx context.Context) (*scheduler.Dataset, error) {
	return &scheduler.Dataset{Values: map[string]interface{}{"BTCUSDT": 65000.0}, QualityScore: 0.95}, nil
}
func (nopFetcher) CacheInfo() map[string]interface{} { return nil }
func (nopFetcher) ResetCache()                       {}

func newTestServer(t *testing.T) (*Server, *quality.Monitor, *scheduler.Scheduler) {
	t.Helper()

	cfg := config.Default()
	cfg.App.Env = "test"

	monitor := quality.NewMonitor(cfg.Quality, logger.Nop(), nil, nil)
	store := cache.NewMemoryStore(100)
	t.Cleanup(func() { _ = store.Close() })

	sched := scheduler.New(cfg.Scheduler, logger.Nop(), monitor, store, nil)
	server := NewServer(cfg, logger.Nop(), sched, monitor, store, nil)
	return server, monitor, sched
}

func doRequest(t *testing.T, server *Server, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	return testutils.DoJSONRequest(t, server.Router(), method, path, nil, nil)
}

func TestHealthEndpoint(t *testing.T) {
	server, _, _ := newTestServer(t)

	rec := doRequest(t, server, http.MethodGet, "/health")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, false, body["emergency_stop_active"])
}

func TestSchedulerTasksEndpoint(t *testing.T) {
	server, _, sched := newTestServer(t)

	_, err := sched.Register("binance", nopFetcher{}, scheduler.ScheduleConfig{
		SourceType:      "price_data",
		Type:            scheduler.ScheduleInterval,
		IntervalMinutes: 60,
		Priority:        1,
		Enabled:         true,
	})
	require.NoError(t, err)

	rec := doRequest(t, server, http.MethodGet, "/api/v1/scheduler/tasks")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Tasks []scheduler.TaskView `json:"tasks"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Tasks, 1)
	assert.Equal(t, "binance", body.Tasks[0].FetcherID)
}

func TestSchedulerStatsEndpoint(t *testing.T) {
	server, _, _ := newTestServer(t)

	rec := doRequest(t, server, http.MethodGet, "/api/v1/scheduler/stats")
	require.Equal(t, http.StatusOK, rec.Code)

	var stats scheduler.Stats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, 0, stats.TotalTasks)
	assert.False(t, stats.Running)
}

func TestQualitySummaryEndpoint(t *testing.T) {
	server, monitor, _ := newTestServer(t)

	monitor.RecordMetrics("price_data", "binance", 0.95, 0.02, true, 50*time.Millisecond, 0)

	rec := doRequest(t, server, http.MethodGet, "/api/v1/quality/summary")
	require.Equal(t, http.StatusOK, rec.Code)

	var summary quality.Summary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summary))
	assert.False(t, summary.EmergencyStopActive)
	require.Contains(t, summary.Sources, "price_data:binance")
	assert.Equal(t, quality.StatusHealthy, summary.Sources["price_data:binance"].LastStatus)
}

func TestQualityReportEndpoint(t *testing.T) {
	server, monitor, _ := newTestServer(t)

	testutils.SeedHealthyHistory(monitor, "price_data", "binance", 5)

	rec := doRequest(t, server, http.MethodGet, "/api/v1/quality/report")
	require.Equal(t, http.StatusOK, rec.Code)

	var report quality.Report
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Contains(t, report.WindowStats, "price_data:binance")
}

func TestQualityAlertsEndpoint(t *testing.T) {
	server, monitor, _ := newTestServer(t)

	// A failing record raises an alert
	monitor.RecordMetrics("price_data", "binance", 0.10, 0.90, false, 50*time.Millisecond, 1)

	rec := doRequest(t, server, http.MethodGet, "/api/v1/quality/alerts?active=true")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Alerts []*quality.Alert `json:"alerts"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.NotEmpty(t, body.Alerts)

	rec = doRequest(t, server, http.MethodGet, "/api/v1/quality/alerts?limit=abc")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(t, server, http.MethodGet, "/api/v1/quality/alerts?limit=1")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestForceRefreshEndpoint(t *testing.T) {
	server, _, sched := newTestServer(t)

	taskID, err := sched.Register("binance", nopFetcher{}, scheduler.ScheduleConfig{
		SourceType:      "price_data",
		Type:            scheduler.ScheduleInterval,
		IntervalMinutes: 60,
		Enabled:         true,
	})
	require.NoError(t, err)

	rec := doRequest(t, server, http.MethodPost, "/api/v1/scheduler/tasks/"+taskID+"/refresh")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, server, http.MethodPost, "/api/v1/scheduler/tasks/missing/refresh")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealthReportsEmergencyStop(t *testing.T) {
	server, monitor, _ := newTestServer(t)

	// Drive one source past the consecutive-failure emergency threshold
	for i := 0; i < 10; i++ {
		monitor.RecordMetrics("price_data", "binance", 0.0, 1.0, false, 10*time.Millisecond, 1)
	}
	require.True(t, monitor.EmergencyStopActive())

	rec := doRequest(t, server, http.MethodGet, "/health")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
