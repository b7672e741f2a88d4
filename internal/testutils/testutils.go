package testutils

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketpulse/internal/cache"
	"marketpulse/internal/config"
	"marketpulse/internal/logger"
	"marketpulse/internal/quality"
)

// Suite bundles the shared fixtures most package tests need
type Suite struct {
	T       *testing.T
	Config  *config.Config
	Logger  logger.Logger
	Store   cache.Store
	Monitor *quality.Monitor
	TempDir string

	cleanups []func()
}

// NewSuite builds a suite with an in-memory store and a nop logger
func NewSuite(t *testing.T) *Suite {
	t.Helper()

	tempDir, err := os.MkdirTemp("", "marketpulse_test_*")
	require.NoError(t, err)

	cfg := config.Default()
	store := cache.NewMemoryStore(100)
	log := logger.Nop()

	s := &Suite{
		T:       t,
		Config:  cfg,
		Logger:  log,
		Store:   store,
		Monitor: quality.NewMonitor(cfg.Quality, log, nil, nil),
		TempDir: tempDir,
	}
	s.AddCleanup(func() { os.RemoveAll(tempDir) })
	s.AddCleanup(func() { _ = store.Close() })
	return s
}

// AddCleanup registers a teardown function, run in reverse order
func (s *Suite) AddCleanup(fn func()) {
	s.cleanups = append(s.cleanups, fn)
}

// TearDown runs all registered cleanups
func (s *Suite) TearDown() {
	for i := len(s.cleanups) - 1; i >= 0; i-- {
		s.cleanups[i]()
	}
}

// WriteTempFile creates a file under the suite's temp dir
func (s *Suite) WriteTempFile(name, content string) string {
	s.T.Helper()
	path := s.TempDir + "/" + name
	require.NoError(s.T, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// DoJSONRequest performs an in-process request against a handler and decodes
// the JSON response into out when out is non-nil
func DoJSONRequest(t *testing.T, handler http.Handler, method, path string, body interface{}, out interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if out != nil && rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), out))
	}
	return rec
}

// AssertStatus fails with the response body included, which makes handler
// failures readable
func AssertStatus(t *testing.T, rec *httptest.ResponseRecorder, want int) {
	t.Helper()
	assert.Equal(t, want, rec.Code, "unexpected status, body: %s", rec.Body.String())
}

// RandomSourceName returns a unique source name for isolation between tests
func RandomSourceName(prefix string) string {
	return fmt.Sprintf("%s_%06d", prefix, rand.Intn(1000000))
}

// SeedHealthyHistory records n healthy samples for a source
func SeedHealthyHistory(m *quality.Monitor, sourceType, sourceName string, n int) {
	for i := 0; i < n; i++ {
		m.RecordMetrics(sourceType, sourceName, 0.95, 0.02, true, 20*time.Millisecond, 0)
	}
}

// WaitFor polls cond until it returns true or the timeout elapses
func WaitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}
