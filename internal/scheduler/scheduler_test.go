package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketpulse/internal/cache"
	"marketpulse/internal/config"
	apperrors "marketpulse/internal/errors"
	"marketpulse/internal/logger"
	"marketpulse/internal/quality"
)

type stubFetcher struct {
	mu      sync.Mutex
	dataset *Dataset
	err     error
	calls   int
	resets  int
}

func (f *stubFetcher) GetData(ctx context.Context) (*Dataset, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.dataset, nil
}

func (f *stubFetcher) CacheInfo() map[string]interface{} {
	return map[string]interface{}{"calls": f.callCount()}
}

func (f *stubFetcher) ResetCache() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resets++
}

func (f *stubFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type panicFetcher struct{}

func (panicFetcher) GetData(ctx context.Context) (*Dataset, error) { panic("fetcher exploded") }
func (panicFetcher) CacheInfo() map[string]interface{}             { return nil }
func (panicFetcher) ResetCache()                                   {}

func goodDataset() *Dataset {
	return &Dataset{
		Values:       map[string]interface{}{"BTCUSDT": 65000.0},
		QualityScore: 0.95,
		DefaultRatio: 0.02,
		FetchedAt:    time.Now(),
	}
}

func newTestScheduler(t *testing.T) *Scheduler {
	t.Helper()

	cfg := config.Default()
	monitor := quality.NewMonitor(cfg.Quality, logger.Nop(), nil, nil)
	store := cache.NewMemoryStore(100)
	t.Cleanup(func() { _ = store.Close() })

	return New(cfg.Scheduler, logger.Nop(), monitor, store, nil)
}

func intervalConfig() ScheduleConfig {
	return ScheduleConfig{
		SourceType:      "price_data",
		Type:            ScheduleInterval,
		IntervalMinutes: 60,
		Priority:        1,
		Enabled:         true,
	}
}

func TestRegisterValidation(t *testing.T) {
	s := newTestScheduler(t)

	tests := []struct {
		name string
		cfg  ScheduleConfig
	}{
		{"interval without minutes", ScheduleConfig{Type: ScheduleInterval}},
		{"adaptive with zero min", ScheduleConfig{Type: ScheduleAdaptive, AdaptiveMaxMinutes: 30}},
		{"adaptive max below min", ScheduleConfig{Type: ScheduleAdaptive, AdaptiveMinMinutes: 30, AdaptiveMaxMinutes: 10}},
		{"unknown type", ScheduleConfig{Type: ScheduleType("weekly")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Register("f1", &stubFetcher{}, tt.cfg)
			require.Error(t, err)
			appErr := apperrors.GetAppError(err)
			require.NotNil(t, appErr)
			assert.Equal(t, apperrors.ErrCodeInvalidSchedule, appErr.Code)
		})
	}

	assert.Empty(t, s.GetTasks(), "rejected configs must not reach the registry")
}

func TestRegisterComputesInitialNextRun(t *testing.T) {
	s := newTestScheduler(t)

	before := time.Now()
	taskID, err := s.Register("binance", &stubFetcher{dataset: goodDataset()}, intervalConfig())
	require.NoError(t, err)
	require.NotEmpty(t, taskID)

	tasks := s.GetTasks()
	require.Len(t, tasks, 1)
	assert.Equal(t, "binance", tasks[0].FetcherID)
	assert.True(t, tasks[0].NextRun.After(before.Add(59*time.Minute)))
}

func TestStartStopIdempotent(t *testing.T) {
	s := newTestScheduler(t)
	s.cfg.TickInterval = 10 * time.Millisecond

	require.NoError(t, s.Start())
	require.NoError(t, s.Start(), "second start is a no-op")
	assert.True(t, s.Running())

	s.Stop()
	assert.False(t, s.Running())
	s.Stop() // second stop is a no-op
}

func TestStopWhenNotRunning(t *testing.T) {
	s := newTestScheduler(t)
	s.Stop() // must not panic or block
	assert.False(t, s.Running())
}

func TestExecuteTaskSuccess(t *testing.T) {
	s := newTestScheduler(t)

	fetcher := &stubFetcher{dataset: goodDataset()}
	taskID, err := s.Register("binance", fetcher, intervalConfig())
	require.NoError(t, err)

	s.mu.Lock()
	task := s.tasks[taskID]
	task.NextRun = time.Now().Add(-time.Second)
	s.mu.Unlock()

	s.tick(time.Now())

	assert.Equal(t, 1, fetcher.callCount())

	tasks := s.GetTasks()
	require.Len(t, tasks, 1)
	assert.Equal(t, int64(1), tasks[0].TotalRuns)
	assert.Equal(t, int64(1), tasks[0].SuccessfulRuns)
	assert.Equal(t, 0, tasks[0].ConsecutiveFailures)
	assert.True(t, tasks[0].NextRun.After(time.Now()), "next run is rescheduled after execution")

	// Quality monitor saw the outcome
	metrics := s.quality.LatestMetrics("price_data", "binance")
	require.NotNil(t, metrics)
	assert.Equal(t, quality.StatusHealthy, metrics.Status)

	// Payload landed in the cache
	cached, found := s.CachedPayload(context.Background(), "binance")
	require.True(t, found)
	assert.InDelta(t, 0.95, cached.QualityScore, 1e-9)
}

func TestExecuteTaskFailureRecordsQuality(t *testing.T) {
	s := newTestScheduler(t)

	fetcher := &stubFetcher{err: errors.New("connection refused")}
	taskID, err := s.Register("binance", fetcher, intervalConfig())
	require.NoError(t, err)

	s.mu.Lock()
	s.tasks[taskID].NextRun = time.Now().Add(-time.Second)
	s.mu.Unlock()

	s.tick(time.Now())

	tasks := s.GetTasks()
	require.Len(t, tasks, 1)
	assert.Equal(t, int64(1), tasks[0].TotalRuns)
	assert.Equal(t, int64(0), tasks[0].SuccessfulRuns)
	assert.Equal(t, 1, tasks[0].ConsecutiveFailures)

	metrics := s.quality.LatestMetrics("price_data", "binance")
	require.NotNil(t, metrics)
	assert.Equal(t, quality.StatusFailed, metrics.Status)
	assert.InDelta(t, 1.0, metrics.DefaultRatio, 1e-9)
}

func TestEmptyDatasetCountsAsFailure(t *testing.T) {
	s := newTestScheduler(t)

	fetcher := &stubFetcher{dataset: &Dataset{QualityScore: 0.9}}
	taskID, err := s.Register("binance", fetcher, intervalConfig())
	require.NoError(t, err)

	s.mu.Lock()
	task := s.tasks[taskID]
	task.NextRun = time.Now().Add(-time.Second)
	s.mu.Unlock()

	s.tick(time.Now())

	tasks := s.GetTasks()
	assert.Equal(t, int64(0), tasks[0].SuccessfulRuns)
	assert.Equal(t, 1, tasks[0].ConsecutiveFailures)
}

func TestFetcherPanicContained(t *testing.T) {
	s := newTestScheduler(t)

	taskID, err := s.Register("flaky", panicFetcher{}, intervalConfig())
	require.NoError(t, err)

	s.mu.Lock()
	s.tasks[taskID].NextRun = time.Now().Add(-time.Second)
	s.mu.Unlock()

	require.NotPanics(t, func() { s.tick(time.Now()) })

	tasks := s.GetTasks()
	assert.Equal(t, 1, tasks[0].ConsecutiveFailures)
}

func TestAutoDisableAfterThreeFailures(t *testing.T) {
	s := newTestScheduler(t)

	fetcher := &stubFetcher{err: errors.New("down")}
	taskID, err := s.Register("binance", fetcher, intervalConfig())
	require.NoError(t, err)

	for i := 0; i < disableFailureThreshold; i++ {
		s.mu.Lock()
		s.tasks[taskID].NextRun = time.Now().Add(-time.Second)
		s.mu.Unlock()
		s.tick(time.Now())
	}

	tasks := s.GetTasks()
	require.Len(t, tasks, 1)
	assert.False(t, tasks[0].Enabled)
	assert.Equal(t, disableFailureThreshold, tasks[0].ConsecutiveFailures)

	// A disabled task is skipped even when overdue
	calls := fetcher.callCount()
	s.mu.Lock()
	s.tasks[taskID].NextRun = time.Now().Add(-time.Second)
	s.mu.Unlock()
	s.tick(time.Now())
	assert.Equal(t, calls, fetcher.callCount())
}

func TestHealthCheckDoesNotReEnableBelowProbation(t *testing.T) {
	s := newTestScheduler(t)

	taskID, err := s.Register("binance", &stubFetcher{err: errors.New("down")}, intervalConfig())
	require.NoError(t, err)

	// Disabled at the disable threshold: below the probation threshold, the
	// health check leaves it disabled.
	s.mu.Lock()
	task := s.tasks[taskID]
	task.Enabled = false
	task.ConsecutiveFailures = disableFailureThreshold
	s.mu.Unlock()

	s.healthCheck(time.Now())

	tasks := s.GetTasks()
	assert.False(t, tasks[0].Enabled)
	assert.Equal(t, disableFailureThreshold, tasks[0].ConsecutiveFailures)
}

func TestHealthCheckReEnablesOnProbation(t *testing.T) {
	s := newTestScheduler(t)

	taskID, err := s.Register("binance", &stubFetcher{err: errors.New("down")}, intervalConfig())
	require.NoError(t, err)

	s.mu.Lock()
	task := s.tasks[taskID]
	task.Enabled = false
	task.ConsecutiveFailures = probationFailureThreshold
	s.mu.Unlock()

	now := time.Now()
	s.healthCheck(now)

	tasks := s.GetTasks()
	require.Len(t, tasks, 1)
	assert.True(t, tasks[0].Enabled)
	assert.Equal(t, 0, tasks[0].ConsecutiveFailures)
	assert.WithinDuration(t, now.Add(probationDelay), tasks[0].NextRun, time.Second)
}

func TestTickRespectsConcurrencyCapAndPriority(t *testing.T) {
	s := newTestScheduler(t)
	s.cfg.MaxConcurrentFetches = 2

	fetchers := make(map[string]*stubFetcher)
	for _, reg := range []struct {
		id       string
		priority int
	}{
		{"low", 9},
		{"high", 1},
		{"mid", 5},
	} {
		f := &stubFetcher{dataset: goodDataset()}
		fetchers[reg.id] = f
		cfg := intervalConfig()
		cfg.Priority = reg.priority
		taskID, err := s.Register(reg.id, f, cfg)
		require.NoError(t, err)
		s.mu.Lock()
		s.tasks[taskID].NextRun = time.Now().Add(-time.Second)
		s.mu.Unlock()
	}

	s.tick(time.Now())

	assert.Equal(t, 1, fetchers["high"].callCount())
	assert.Equal(t, 1, fetchers["mid"].callCount())
	assert.Equal(t, 0, fetchers["low"].callCount(), "lowest priority waits for the next tick")
}

func TestForceRefresh(t *testing.T) {
	s := newTestScheduler(t)

	fetcher := &stubFetcher{dataset: goodDataset()}
	taskID, err := s.Register("binance", fetcher, intervalConfig())
	require.NoError(t, err)

	require.NoError(t, s.ForceRefresh(taskID))
	assert.Equal(t, 1, fetcher.resets)

	tasks := s.GetTasks()
	assert.False(t, tasks[0].NextRun.After(time.Now()), "force refresh makes the task due")

	err = s.ForceRefresh("no-such-task")
	require.Error(t, err)
	appErr := apperrors.GetAppError(err)
	require.NotNil(t, appErr)
	assert.Equal(t, apperrors.ErrCodeTaskNotFound, appErr.Code)
}

func TestGetStats(t *testing.T) {
	s := newTestScheduler(t)

	_, err := s.Register("ok", &stubFetcher{dataset: goodDataset()}, intervalConfig())
	require.NoError(t, err)
	_, err = s.Register("bad", &stubFetcher{err: errors.New("down")}, intervalConfig())
	require.NoError(t, err)

	s.mu.Lock()
	for _, task := range s.tasks {
		task.NextRun = time.Now().Add(-time.Second)
	}
	s.mu.Unlock()

	s.tick(time.Now())

	stats := s.GetStats()
	assert.Equal(t, 2, stats.TotalTasks)
	assert.Equal(t, int64(2), stats.TotalRuns)
	assert.Equal(t, int64(1), stats.SuccessfulRuns)
	assert.Equal(t, int64(1), stats.FailedRuns)
	assert.False(t, stats.LastTick.IsZero())
}

func TestGetCacheStats(t *testing.T) {
	s := newTestScheduler(t)

	_, err := s.Register("binance", &stubFetcher{dataset: goodDataset()}, intervalConfig())
	require.NoError(t, err)

	stats := s.GetCacheStats()
	require.Contains(t, stats, "store")
	fetchers, ok := stats["fetchers"].(map[string]interface{})
	require.True(t, ok)
	assert.Contains(t, fetchers, "binance")
}
