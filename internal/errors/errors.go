package errors

import (
	"fmt"
	"time"
)

// ErrorCode identifies a class of application error
type ErrorCode string

const (
	// Generic errors
	ErrCodeInternal     ErrorCode = "INTERNAL_ERROR"
	ErrCodeInvalidInput ErrorCode = "INVALID_INPUT"
	ErrCodeNotFound     ErrorCode = "NOT_FOUND"
	ErrCodeTimeout      ErrorCode = "TIMEOUT"

	// Scheduler errors
	ErrCodeInvalidSchedule  ErrorCode = "INVALID_SCHEDULE"
	ErrCodeSchedulerRunning ErrorCode = "SCHEDULER_ALREADY_RUNNING"
	ErrCodeTaskNotFound     ErrorCode = "TASK_NOT_FOUND"

	// Fetch errors
	ErrCodeFetchFailed  ErrorCode = "FETCH_FAILED"
	ErrCodeFetchTimeout ErrorCode = "FETCH_TIMEOUT"
	ErrCodeEmptyDataset ErrorCode = "EMPTY_DATASET"

	// Quality errors
	ErrCodeEmergencyStop    ErrorCode = "EMERGENCY_STOP_ACTIVE"
	ErrCodeQualityRecording ErrorCode = "QUALITY_RECORDING_ERROR"

	// Cache errors
	ErrCodeCacheConnection ErrorCode = "CACHE_CONNECTION_ERROR"
	ErrCodeCacheOperation  ErrorCode = "CACHE_OPERATION_ERROR"
	ErrCodeCacheMiss       ErrorCode = "CACHE_MISS"

	// Alerting errors
	ErrCodeAlertDispatch ErrorCode = "ALERT_DISPATCH_ERROR"
)

// ErrorSeverity marks how serious an error is
type ErrorSeverity string

const (
	SeverityLow      ErrorSeverity = "low"
	SeverityMedium   ErrorSeverity = "medium"
	SeverityHigh     ErrorSeverity = "high"
	SeverityCritical ErrorSeverity = "critical"
)

// AppError is the application error type carried across package boundaries
type AppError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Severity  ErrorSeverity          `json:"severity"`
	Timestamp time.Time              `json:"timestamp"`
	Context   map[string]interface{} `json:"context,omitempty"`
	Cause     error                  `json:"-"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause
func (e *AppError) Unwrap() error {
	return e.Cause
}

// NewAppError creates a new application error
func NewAppError(code ErrorCode, message string, cause error) *AppError {
	return &AppError{
		Code:      code,
		Message:   message,
		Severity:  getSeverityByCode(code),
		Timestamp: time.Now(),
		Cause:     cause,
	}
}

// NewAppErrorWithDetails creates an application error with a detail string
func NewAppErrorWithDetails(code ErrorCode, message, details string, cause error) *AppError {
	err := NewAppError(code, message, cause)
	err.Details = details
	return err
}

// WithContext attaches a key/value pair to the error
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// getSeverityByCode maps error codes to a default severity
func getSeverityByCode(code ErrorCode) ErrorSeverity {
	switch code {
	case ErrCodeInternal, ErrCodeEmergencyStop:
		return SeverityCritical
	case ErrCodeFetchFailed, ErrCodeFetchTimeout, ErrCodeQualityRecording:
		return SeverityHigh
	case ErrCodeCacheConnection, ErrCodeCacheOperation, ErrCodeAlertDispatch, ErrCodeEmptyDataset:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// IsRetryable reports whether the operation that produced the error can be retried
func (e *AppError) IsRetryable() bool {
	switch e.Code {
	case ErrCodeTimeout, ErrCodeFetchTimeout, ErrCodeFetchFailed,
		ErrCodeCacheConnection, ErrCodeAlertDispatch:
		return true
	default:
		return false
	}
}

// WrapError wraps a standard error into an AppError
func WrapError(err error, code ErrorCode, message string) *AppError {
	if err == nil {
		return nil
	}
	if appErr, ok := err.(*AppError); ok {
		return appErr
	}
	return NewAppError(code, message, err)
}

// IsAppError checks whether err is an AppError
func IsAppError(err error) bool {
	_, ok := err.(*AppError)
	return ok
}

// GetAppError extracts the AppError from err, or nil
func GetAppError(err error) *AppError {
	if appErr, ok := err.(*AppError); ok {
		return appErr
	}
	return nil
}
