package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"marketpulse/internal/config"
	"marketpulse/internal/logger"
	"marketpulse/internal/monitoring"
	"marketpulse/internal/quality"
)

// Channel delivers alerts to one destination
type Channel interface {
	Send(ctx context.Context, alert *quality.Alert) error
	Name() string
	Enabled() bool
}

// Manager fans alerts out to the configured channels. It implements
// quality.Notifier.
type Manager struct {
	cfg      config.AlertsConfig
	log      logger.Logger
	metrics  *monitoring.Metrics
	limiter  *rate.Limiter
	channels map[string]Channel
	mu       sync.RWMutex

	alertCh chan *quality.Alert
	stopCh  chan struct{}
	wg      sync.WaitGroup
	started bool
}

// NewManager creates an alert manager with the log channel registered. The
// log channel is always available; others are added per configuration.
func NewManager(cfg config.AlertsConfig, log logger.Logger, metrics *monitoring.Metrics) *Manager {
	limit := rate.Limit(float64(cfg.RateLimit) / cfg.RateLimitWindow.Seconds())
	if cfg.RateLimit <= 0 || cfg.RateLimitWindow <= 0 {
		limit = rate.Inf
	}

	m := &Manager{
		cfg:      cfg,
		log:      log,
		metrics:  metrics,
		limiter:  rate.NewLimiter(limit, maxInt(cfg.RateLimit, 1)),
		channels: make(map[string]Channel),
		alertCh:  make(chan *quality.Alert, 100),
		stopCh:   make(chan struct{}),
	}

	m.Register(NewLogChannel(log))
	if cfg.Webhook.Enabled {
		m.Register(NewWebhookChannel(cfg.Webhook))
	}

	return m
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// Register adds or replaces a channel
func (m *Manager) Register(ch Channel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.channels[ch.Name()] = ch
}

// Start launches the dispatch worker
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return
	}
	m.started = true

	m.wg.Add(1)
	go m.dispatchLoop()
}

// Stop signals the worker and waits for it to drain
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return
	}
	m.started = false
	m.mu.Unlock()

	close(m.stopCh)
	m.wg.Wait()
}

// Notify enqueues an alert for dispatch; it never blocks the caller
func (m *Manager) Notify(alert *quality.Alert) {
	select {
	case m.alertCh <- alert:
	default:
		m.log.Warn("alert queue full, dropping alert",
			"source", alert.SourceType+":"+alert.SourceName,
			"severity", string(alert.Severity))
	}
}

func (m *Manager) dispatchLoop() {
	defer m.wg.Done()

	for {
		select {
		case <-m.stopCh:
			// Drain whatever is already queued
			for {
				select {
				case alert := <-m.alertCh:
					m.dispatch(alert)
				default:
					return
				}
			}
		case alert := <-m.alertCh:
			m.dispatch(alert)
		}
	}
}

func (m *Manager) dispatch(alert *quality.Alert) {
	if !m.limiter.Allow() {
		m.log.Warn("alert rate limit exceeded, dropping alert",
			"source", alert.SourceType+":"+alert.SourceName)
		return
	}

	m.mu.RLock()
	channels := make([]Channel, 0, len(m.channels))
	for _, ch := range m.channels {
		channels = append(channels, ch)
	}
	m.mu.RUnlock()

	for _, ch := range channels {
		if !ch.Enabled() {
			continue
		}
		m.sendWithRetry(ch, alert)
	}
}

func (m *Manager) sendWithRetry(ch Channel, alert *quality.Alert) {
	for attempt := 0; attempt <= m.cfg.RetryCount; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), m.cfg.Timeout)
		err := ch.Send(ctx, alert)
		cancel()

		if err == nil {
			if m.metrics != nil {
				m.metrics.RecordAlertDispatch(ch.Name(), true)
			}
			return
		}

		m.log.Warn("alert dispatch failed",
			"channel", ch.Name(), "attempt", attempt+1, "error", err.Error())

		if attempt < m.cfg.RetryCount {
			select {
			case <-time.After(m.cfg.RetryInterval):
			case <-m.stopCh:
				return
			}
		}
	}

	if m.metrics != nil {
		m.metrics.RecordAlertDispatch(ch.Name(), false)
	}
}

// LogChannel writes alerts to the process log. Always available.
type LogChannel struct {
	log logger.Logger
}

// NewLogChannel creates the in-process log channel
func NewLogChannel(log logger.Logger) *LogChannel {
	return &LogChannel{log: log}
}

func (c *LogChannel) Name() string  { return "log" }
func (c *LogChannel) Enabled() bool { return true }

func (c *LogChannel) Send(ctx context.Context, alert *quality.Alert) error {
	entry := c.log.WithFields(map[string]interface{}{
		"alert_id":    alert.ID,
		"source_type": alert.SourceType,
		"source_name": alert.SourceName,
		"severity":    string(alert.Severity),
	})

	switch alert.Severity {
	case quality.AlertSeverityCritical, quality.AlertSeverityError:
		entry.Error(alert.Message)
	case quality.AlertSeverityWarning:
		entry.Warn(alert.Message)
	default:
		entry.Info(alert.Message)
	}
	return nil
}

// WebhookChannel posts alerts as Slack-compatible JSON payloads
type WebhookChannel struct {
	cfg    config.WebhookConfig
	client *http.Client
}

// NewWebhookChannel creates a webhook channel from config
func NewWebhookChannel(cfg config.WebhookConfig) *WebhookChannel {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookChannel{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
	}
}

func (c *WebhookChannel) Name() string  { return "webhook" }
func (c *WebhookChannel) Enabled() bool { return c.cfg.Enabled }

func (c *WebhookChannel) Send(ctx context.Context, alert *quality.Alert) error {
	payload := map[string]interface{}{
		"text": fmt.Sprintf("[%s] %s", alert.Severity, alert.Message),
		"attachments": []map[string]interface{}{
			{
				"fields": []map[string]interface{}{
					{"title": "Source", "value": alert.SourceType + ":" + alert.SourceName, "short": true},
					{"title": "Severity", "value": string(alert.Severity), "short": true},
					{"title": "Time", "value": alert.Timestamp.Format(time.RFC3339), "short": true},
				},
			},
		},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}
