package errors

import (
	stderrors "errors"
	"fmt"
	"time"
)

// ErrorCode represents a docwatch error code.
type ErrorCode string

const (
	ErrConfiguration    ErrorCode = "CONFIGURATION"     // fatal at startup
	ErrExtractionFailed ErrorCode = "EXTRACTION_FAILED" // recoverable, gates the pipeline
	ErrIndexingFailed   ErrorCode = "INDEXING_FAILED"   // recoverable, gates the pipeline
	ErrUnexpected       ErrorCode = "UNEXPECTED"        // logged, watcher keeps running
	ErrInvalidRequest   ErrorCode = "INVALID_REQUEST"   // 400
	ErrNotFound         ErrorCode = "NOT_FOUND"         // 404
	ErrStopTimeout      ErrorCode = "STOP_TIMEOUT"
)

// WatchError represents a structured error with code, captured tool output, and details.
type WatchError struct {
	Code    ErrorCode
	Status  int
	Message string
	// Output holds the combined stdout/stderr of a failed pipeline step.
	Output  string
	Details map[string]any
	Err     error
}

// Error implements the error interface.
func (e *WatchError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause, if any.
func (e *WatchError) Unwrap() error {
	return e.Err
}

// NewConfiguration creates an error for invalid or missing configuration.
func NewConfiguration(msg string) *WatchError {
	return &WatchError{
		Code:    ErrConfiguration,
		Status:  400,
		Message: msg,
	}
}

// NewConfigurationf creates a configuration error from a format string.
func NewConfigurationf(format string, args ...any) *WatchError {
	return NewConfiguration(fmt.Sprintf(format, args...))
}

// NewExtractionFailed creates an error for a failed extraction step.
func NewExtractionFailed(output string, cause error) *WatchError {
	return newStepError(ErrExtractionFailed, "extract", output, cause)
}

// NewIndexingFailed creates an error for a failed indexing step.
func NewIndexingFailed(output string, cause error) *WatchError {
	return newStepError(ErrIndexingFailed, "index", output, cause)
}

func newStepError(code ErrorCode, step, output string, cause error) *WatchError {
	msg := step + " step failed"
	if cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, cause)
	}
	return &WatchError{
		Code:    code,
		Status:  500,
		Message: msg,
		Output:  output,
		Details: map[string]any{"step": step},
		Err:     cause,
	}
}

// NewUnexpected wraps an error that is not attributable to the pipeline tools.
func NewUnexpected(err error) *WatchError {
	msg := "unexpected error"
	if err != nil {
		msg = err.Error()
	}
	return &WatchError{
		Code:    ErrUnexpected,
		Status:  500,
		Message: msg,
		Err:     err,
	}
}

// NewInvalidRequest creates a 400 error for invalid request parameters.
func NewInvalidRequest(msg string) *WatchError {
	return &WatchError{
		Code:    ErrInvalidRequest,
		Status:  400,
		Message: msg,
	}
}

// NewNotFound creates a 404 error for a missing run record.
func NewNotFound(identifier string) *WatchError {
	return &WatchError{
		Code:    ErrNotFound,
		Status:  404,
		Message: fmt.Sprintf("run not found: %s", identifier),
		Details: map[string]any{"identifier": identifier},
	}
}

// NewStopTimeout reports that an in-flight run outlived the shutdown bound.
func NewStopTimeout(timeout time.Duration) *WatchError {
	return &WatchError{
		Code:    ErrStopTimeout,
		Status:  500,
		Message: fmt.Sprintf("pipeline still running after %s", timeout),
	}
}

// Is checks if err, or any error it wraps, is a WatchError with the given code.
func Is(err error, code ErrorCode) bool {
	var wErr *WatchError
	if stderrors.As(err, &wErr) {
		return wErr.Code == code
	}
	return false
}

// As is a convenience wrapper around errors.As for *WatchError.
func As(err error) (*WatchError, bool) {
	var wErr *WatchError
	if stderrors.As(err, &wErr) {
		return wErr, true
	}
	return nil, false
}
