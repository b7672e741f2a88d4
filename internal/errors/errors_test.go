package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestNewAppError(t *testing.T) {
	err := NewAppError(ErrCodeInvalidInput, "Test error", nil)

	if err.Code != ErrCodeInvalidInput {
		t.Errorf("Expected code %s, got %s", ErrCodeInvalidInput, err.Code)
	}

	if err.Message != "Test error" {
		t.Errorf("Expected message 'Test error', got %s", err.Message)
	}

	if err.Severity != SeverityLow {
		t.Errorf("Expected severity %s, got %s", SeverityLow, err.Severity)
	}
}

func TestAppErrorSeverity(t *testing.T) {
	tests := []struct {
		code             ErrorCode
		expectedSeverity ErrorSeverity
	}{
		{ErrCodeEmergencyStop, SeverityCritical},
		{ErrCodeInternal, SeverityCritical},
		{ErrCodeFetchFailed, SeverityHigh},
		{ErrCodeQualityRecording, SeverityHigh},
		{ErrCodeCacheOperation, SeverityMedium},
		{ErrCodeInvalidSchedule, SeverityLow},
	}

	for _, test := range tests {
		err := NewAppError(test.code, "Test", nil)

		if err.Severity != test.expectedSeverity {
			t.Errorf("Code %s: expected severity %s, got %s", test.code, test.expectedSeverity, err.Severity)
		}
	}
}

func TestAppErrorWithContext(t *testing.T) {
	err := NewAppError(ErrCodeFetchFailed, "Test error", nil)
	err = err.WithContext("fetcher_id", "price_data")
	err = err.WithContext("attempt", 3)

	if err.Context["fetcher_id"] != "price_data" {
		t.Errorf("Expected context fetcher_id 'price_data', got %v", err.Context["fetcher_id"])
	}

	if err.Context["attempt"] != 3 {
		t.Errorf("Expected context attempt 3, got %v", err.Context["attempt"])
	}
}

func TestAppErrorIsRetryable(t *testing.T) {
	retryableErr := NewAppError(ErrCodeFetchTimeout, "Timeout", nil)
	nonRetryableErr := NewAppError(ErrCodeInvalidSchedule, "Invalid schedule", nil)

	if !retryableErr.IsRetryable() {
		t.Error("Fetch timeout error should be retryable")
	}

	if nonRetryableErr.IsRetryable() {
		t.Error("Invalid schedule error should not be retryable")
	}
}

func TestWrapError(t *testing.T) {
	original := fmt.Errorf("connection refused")
	wrapped := WrapError(original, ErrCodeCacheConnection, "Failed to reach cache")

	if wrapped.Code != ErrCodeCacheConnection {
		t.Errorf("Expected code %s, got %s", ErrCodeCacheConnection, wrapped.Code)
	}

	if !errors.Is(wrapped, original) {
		t.Error("Wrapped error should unwrap to the original")
	}

	// Wrapping an AppError returns it unchanged
	rewrapped := WrapError(wrapped, ErrCodeInternal, "should be ignored")
	if rewrapped != wrapped {
		t.Error("Wrapping an AppError should return it unchanged")
	}

	if WrapError(nil, ErrCodeInternal, "nil") != nil {
		t.Error("Wrapping nil should return nil")
	}
}

func TestErrorMessage(t *testing.T) {
	err := NewAppErrorWithDetails(ErrCodeEmptyDataset, "Fetch returned no rows", "fetcher=market_indices", nil)

	expected := "[EMPTY_DATASET] Fetch returned no rows: fetcher=market_indices"
	if err.Error() != expected {
		t.Errorf("Expected %q, got %q", expected, err.Error())
	}
}

func TestIsAppError(t *testing.T) {
	appErr := NewAppError(ErrCodeNotFound, "missing", nil)
	plainErr := fmt.Errorf("plain")

	if !IsAppError(appErr) {
		t.Error("Expected IsAppError to be true for AppError")
	}

	if IsAppError(plainErr) {
		t.Error("Expected IsAppError to be false for plain error")
	}

	if GetAppError(plainErr) != nil {
		t.Error("Expected GetAppError to return nil for plain error")
	}
}
