package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"marketpulse/internal/cache"
	"marketpulse/internal/config"
	apperrors "marketpulse/internal/errors"
	"marketpulse/internal/logger"
	"marketpulse/internal/monitoring"
	"marketpulse/internal/quality"
)

const (
	// A task is auto-disabled after this many consecutive failures
	disableFailureThreshold = 3
	// A disabled task is re-enabled on probation once its failure count
	// reaches this value during a health check. Intentionally above the
	// disable threshold.
	probationFailureThreshold = 5
	probationDelay            = 5 * time.Minute

	stopJoinTimeout  = 5 * time.Second
	loopErrorBackoff = 60 * time.Second
)

// Scheduler owns the task registry, drives the polling loop, executes due
// fetch tasks and reports their outcomes to the quality monitor.
type Scheduler struct {
	cfg       config.SchedulerConfig
	log       logger.Logger
	quality   *quality.Monitor
	intervals *IntervalCalculator
	store     cache.Store
	metrics   *monitoring.Metrics

	mu       sync.RWMutex
	tasks    map[string]*ScheduledTask
	fetchers map[string]Fetcher

	running         bool
	ctx             context.Context
	cancel          context.CancelFunc
	loopDone        chan struct{}
	lastTick        time.Time
	lastHealthCheck time.Time

	totalRuns      int64
	successfulRuns int64
	failedRuns     int64
}

// New creates a scheduler
func New(cfg config.SchedulerConfig, log logger.Logger, monitor *quality.Monitor, store cache.Store, metrics *monitoring.Metrics) *Scheduler {
	return &Scheduler{
		cfg:       cfg,
		log:       log,
		quality:   monitor,
		intervals: NewIntervalCalculator(monitor),
		store:     store,
		metrics:   metrics,
		tasks:     make(map[string]*ScheduledTask),
		fetchers:  make(map[string]Fetcher),
	}
}

// Register adds a fetch task and computes its initial next run. The config
// is validated; a rejected config never reaches the registry.
func (s *Scheduler) Register(fetcherID string, fetcher Fetcher, cfg ScheduleConfig) (string, error) {
	if err := validateConfig(&cfg); err != nil {
		return "", err
	}
	cfg.applyDefaults()

	task := &ScheduledTask{
		ID:        uuid.New().String(),
		FetcherID: fetcherID,
		Config:    cfg,
		Enabled:   cfg.Enabled,
		NextRun:   s.intervals.NextRunTime(&cfg),
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.tasks[task.ID] = task
	s.fetchers[task.ID] = fetcher

	s.log.Info("registered fetch task",
		"task_id", task.ID,
		"fetcher_id", fetcherID,
		"type", string(cfg.Type),
		"priority", cfg.Priority,
		"next_run", task.NextRun.Format(time.RFC3339))

	return task.ID, nil
}

func validateConfig(cfg *ScheduleConfig) error {
	switch cfg.Type {
	case ScheduleInterval:
		if cfg.IntervalMinutes <= 0 {
			return apperrors.NewAppErrorWithDetails(apperrors.ErrCodeInvalidSchedule,
				"interval schedule requires a positive interval",
				fmt.Sprintf("interval_minutes=%d", cfg.IntervalMinutes), nil)
		}
	case ScheduleAdaptive:
		if cfg.AdaptiveMinMinutes <= 0 || cfg.AdaptiveMaxMinutes < cfg.AdaptiveMinMinutes {
			return apperrors.NewAppErrorWithDetails(apperrors.ErrCodeInvalidSchedule,
				"adaptive schedule requires 0 < min <= max",
				fmt.Sprintf("min=%d max=%d", cfg.AdaptiveMinMinutes, cfg.AdaptiveMaxMinutes), nil)
		}
	case ScheduleCron:
		// An empty expression falls back to the top-of-hour placeholder
	default:
		return apperrors.NewAppErrorWithDetails(apperrors.ErrCodeInvalidSchedule,
			"unknown schedule type", string(cfg.Type), nil)
	}
	return nil
}

// Start launches the background polling loop. Calling Start on a running
// scheduler is a no-op.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		s.log.Warn("scheduler already running, ignoring start")
		return nil
	}

	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.loopDone = make(chan struct{})
	s.running = true
	s.lastHealthCheck = time.Now()

	go s.loop()

	s.log.Info("scheduler started",
		"tick_interval", s.cfg.TickInterval.String(),
		"max_concurrent_fetches", s.cfg.MaxConcurrentFetches)
	return nil
}

// Stop signals the loop to exit and waits up to a bounded timeout for it to
// observe the cancellation. Calling Stop on a stopped scheduler is a no-op.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel := s.cancel
	done := s.loopDone
	s.mu.Unlock()

	cancel()

	select {
	case <-done:
		s.log.Info("scheduler stopped")
	case <-time.After(stopJoinTimeout):
		s.log.Warn("scheduler loop did not stop within timeout, returning anyway",
			"timeout", stopJoinTimeout.String())
	}
}

// Running reports whether the loop is active
func (s *Scheduler) Running() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

func (s *Scheduler) loop() {
	defer close(s.loopDone)

	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			if !s.safeTick() {
				// Back off after a tick-level failure, still observing stop
				select {
				case <-s.ctx.Done():
					return
				case <-time.After(loopErrorBackoff):
				}
			}
		}
	}
}

// safeTick runs one tick and converts a panic into a logged failure so the
// loop never dies
func (s *Scheduler) safeTick() (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("scheduler tick panicked", "panic", fmt.Sprintf("%v", r))
			ok = false
		}
	}()

	s.tick(time.Now())
	return true
}

// tick selects due tasks by priority, executes up to the concurrency cap and
// runs the periodic health check
func (s *Scheduler) tick(now time.Time) {
	s.mu.Lock()
	s.lastTick = now

	due := make([]*ScheduledTask, 0, len(s.tasks))
	for _, task := range s.tasks {
		if task.Enabled && !now.Before(task.NextRun) {
			due = append(due, task)
		}
	}
	sort.SliceStable(due, func(i, j int) bool {
		return due[i].Config.Priority < due[j].Config.Priority
	})
	if len(due) > s.cfg.MaxConcurrentFetches {
		due = due[:s.cfg.MaxConcurrentFetches]
	}

	ctx := s.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Unlock()

	for _, task := range due {
		s.executeTask(ctx, task)
	}

	if now.Sub(s.lastHealthCheck) >= time.Duration(s.cfg.HealthCheckIntervalSeconds)*time.Second {
		s.healthCheck(now)
		s.lastHealthCheck = now
	}
}

// executeTask runs one fetch, updates the task's runtime state, reports the
// outcome to the quality monitor and refreshes the payload cache. A fetcher
// panic or error is contained here and recorded as a failure.
func (s *Scheduler) executeTask(ctx context.Context, task *ScheduledTask) {
	s.mu.RLock()
	fetcher := s.fetchers[task.ID]
	s.mu.RUnlock()
	if fetcher == nil {
		return
	}

	start := time.Now()
	dataset, err := s.runFetch(ctx, fetcher)
	latency := time.Since(start)

	success := err == nil && !dataset.Empty()

	s.mu.Lock()
	task.LastRun = start
	task.TotalRuns++
	s.totalRuns++
	if success {
		task.LastSuccess = start
		task.SuccessfulRuns++
		task.ConsecutiveFailures = 0
		s.successfulRuns++
	} else {
		task.ConsecutiveFailures++
		s.failedRuns++
		if task.ConsecutiveFailures >= disableFailureThreshold {
			task.Enabled = false
			s.log.Warn("task auto-disabled after consecutive failures",
				"task_id", task.ID,
				"fetcher_id", task.FetcherID,
				"consecutive_failures", task.ConsecutiveFailures)
		}
	}
	task.NextRun = s.intervals.NextRunTime(&task.Config)
	cfg := task.Config
	fetcherID := task.FetcherID
	s.mu.Unlock()

	if err != nil {
		s.log.Warn("fetch failed",
			"fetcher_id", fetcherID, "latency", latency.String(), "error", err.Error())
	}

	// The quality monitor must see every outcome, including failures
	score, ratio, errorCount := 0.0, 1.0, 1
	if success {
		score, ratio, errorCount = dataset.QualityScore, dataset.DefaultRatio, 0
	}
	s.quality.RecordMetrics(cfg.SourceType, fetcherID, score, ratio, success, latency, errorCount)

	if success {
		s.cachePayload(ctx, fetcherID, cfg, dataset)
	}

	if s.metrics != nil {
		s.metrics.RecordFetch(fetcherID, success, latency)
	}
}

// runFetch isolates the fetcher call so one task's panic never affects
// another task's outcome
func (s *Scheduler) runFetch(ctx context.Context, fetcher Fetcher) (dataset *Dataset, err error) {
	defer func() {
		if r := recover(); r != nil {
			dataset = nil
			err = apperrors.NewAppErrorWithDetails(apperrors.ErrCodeFetchFailed,
				"fetcher panicked", fmt.Sprintf("%v", r), nil)
		}
	}()

	fetchCtx, cancelFetch := context.WithTimeout(ctx, time.Duration(s.cfg.TaskTimeoutMinutes)*time.Minute)
	defer cancelFetch()

	dataset, err = fetcher.GetData(fetchCtx)
	if err == nil && fetchCtx.Err() != nil {
		err = apperrors.WrapError(fetchCtx.Err(), apperrors.ErrCodeFetchTimeout, "fetch exceeded task timeout")
	}
	return dataset, err
}

// cachePayload stores the last good payload so degraded periods can be
// served from cache. The TTL stretches to the emergency horizon while the
// global stop is active.
func (s *Scheduler) cachePayload(ctx context.Context, fetcherID string, cfg ScheduleConfig, dataset *Dataset) {
	if s.store == nil {
		return
	}

	payload, err := json.Marshal(dataset)
	if err != nil {
		s.log.Warn("failed to encode payload for cache", "fetcher_id", fetcherID, "error", err.Error())
		return
	}

	baseMinutes := cfg.IntervalMinutes
	if baseMinutes <= 0 {
		baseMinutes = 60
	}
	ttl := time.Duration(float64(baseMinutes)*s.cfg.CacheExtensionFactor) * time.Minute
	if s.quality.EmergencyStopActive() {
		ttl = time.Duration(s.cfg.EmergencyCacheHours) * time.Hour
	}

	if err := s.store.Set(ctx, payloadCacheKey(fetcherID), payload, ttl); err != nil {
		s.log.Warn("failed to cache payload", "fetcher_id", fetcherID, "error", err.Error())
	}
}

func payloadCacheKey(fetcherID string) string {
	return "payload:" + fetcherID
}

// CachedPayload returns the last cached dataset for a fetcher, if present
func (s *Scheduler) CachedPayload(ctx context.Context, fetcherID string) (*Dataset, bool) {
	if s.store == nil {
		return nil, false
	}

	raw, found, err := s.store.Get(ctx, payloadCacheKey(fetcherID))
	if s.metrics != nil {
		s.metrics.RecordCacheRequest(found)
	}
	if err != nil || !found {
		return nil, false
	}

	var dataset Dataset
	if err := json.Unmarshal(raw, &dataset); err != nil {
		return nil, false
	}
	return &dataset, true
}

// ForceRefresh clears a task's fetcher cache and schedules it to run on the
// next tick
func (s *Scheduler) ForceRefresh(taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[taskID]
	if !ok {
		return apperrors.NewAppError(apperrors.ErrCodeTaskNotFound, "unknown task id", nil)
	}

	if fetcher := s.fetchers[taskID]; fetcher != nil {
		fetcher.ResetCache()
	}
	task.NextRun = time.Now()
	return nil
}

// healthCheck re-enables disabled tasks that crossed the probation
// threshold and logs aggregate statistics
func (s *Scheduler) healthCheck(now time.Time) {
	s.mu.Lock()

	enabled := 0
	reEnabled := 0
	for _, task := range s.tasks {
		if !task.Enabled && task.ConsecutiveFailures >= probationFailureThreshold {
			task.Enabled = true
			task.ConsecutiveFailures = 0
			task.NextRun = now.Add(probationDelay)
			reEnabled++
			s.log.Info("task re-enabled on probation",
				"task_id", task.ID,
				"fetcher_id", task.FetcherID,
				"next_run", task.NextRun.Format(time.RFC3339))
		}
		if task.Enabled {
			enabled++
		}
	}

	total, successful := s.totalRuns, s.successfulRuns
	s.mu.Unlock()

	successRate := 0.0
	if total > 0 {
		successRate = float64(successful) / float64(total)
	}

	fields := map[string]interface{}{
		"enabled_tasks": enabled,
		"re_enabled":    reEnabled,
		"total_runs":    total,
		"success_rate":  fmt.Sprintf("%.3f", successRate),
	}
	if s.store != nil {
		stats := s.store.Stats()
		fields["cache_hits"] = stats.Hits
		fields["cache_misses"] = stats.Misses
	}
	s.log.WithFields(fields).Info("scheduler health check")

	if s.metrics != nil {
		s.metrics.SetEnabledTasks(enabled)
	}
}

// GetTasks returns snapshots of all tasks sorted by priority
func (s *Scheduler) GetTasks() []TaskView {
	s.mu.RLock()
	defer s.mu.RUnlock()

	views := make([]TaskView, 0, len(s.tasks))
	for _, task := range s.tasks {
		views = append(views, TaskView{
			ID:                  task.ID,
			FetcherID:           task.FetcherID,
			SourceType:          task.Config.SourceType,
			Type:                string(task.Config.Type),
			Priority:            task.Config.Priority,
			Enabled:             task.Enabled,
			NextRun:             task.NextRun,
			LastRun:             task.LastRun,
			LastSuccess:         task.LastSuccess,
			ConsecutiveFailures: task.ConsecutiveFailures,
			TotalRuns:           task.TotalRuns,
			SuccessfulRuns:      task.SuccessfulRuns,
			SuccessRate:         task.SuccessRate(),
		})
	}
	sort.SliceStable(views, func(i, j int) bool {
		return views[i].Priority < views[j].Priority
	})
	return views
}

// GetStats returns aggregate scheduler statistics
func (s *Scheduler) GetStats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	enabled := 0
	for _, task := range s.tasks {
		if task.Enabled {
			enabled++
		}
	}

	return Stats{
		TotalTasks:     len(s.tasks),
		EnabledTasks:   enabled,
		TotalRuns:      s.totalRuns,
		SuccessfulRuns: s.successfulRuns,
		FailedRuns:     s.failedRuns,
		LastTick:       s.lastTick,
		Running:        s.running,
	}
}

// GetCacheStats combines store statistics with per-fetcher cache metadata
func (s *Scheduler) GetCacheStats() map[string]interface{} {
	result := make(map[string]interface{})

	if s.store != nil {
		result["store"] = s.store.Stats()
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	fetchers := make(map[string]interface{}, len(s.fetchers))
	for taskID, fetcher := range s.fetchers {
		if task, ok := s.tasks[taskID]; ok {
			fetchers[task.FetcherID] = fetcher.CacheInfo()
		}
	}
	result["fetchers"] = fetchers
	return result
}
