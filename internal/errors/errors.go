// Package errors provides the tagged-result error discipline used across
// the pipeline: every component returns one of a fixed set of error
// Codes, never a panic, so the orchestrator can classify and degrade.
package errors

import (
	"fmt"
	"runtime"
	"time"
)

// Code names one of the error kinds the core distinguishes.
type Code string

const (
	CodeCircuitOpen       Code = "CIRCUIT_OPEN"
	CodeBackendTransient  Code = "BACKEND_TRANSIENT"
	CodeBackendRateLimit  Code = "BACKEND_RATE_LIMIT"
	CodeBackendAntiBot    Code = "BACKEND_ANTI_BOT"
	CodeClassifierError   Code = "CLASSIFIER_ERROR"
	CodeFusionError       Code = "FUSION_ERROR"
	CodeCacheError        Code = "CACHE_ERROR"
	CodeMetricsError      Code = "METRICS_ERROR"
	CodeOrchestratorFatal Code = "ORCHESTRATOR_FATAL"
	CodeValidation        Code = "VALIDATION_ERROR"
	CodeAuthentication    Code = "AUTH_ERROR"
	CodeInternal          Code = "INTERNAL_ERROR"
)

// AppError is the application-wide error type. It carries enough context
// to log a failure before the orchestrator drops it per the component's
// degrade-on-failure policy.
type AppError struct {
	Code      Code        `json:"code"`
	Message   string      `json:"message"`
	Details   interface{} `json:"details,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	File      string      `json:"file,omitempty"`
	Line      int         `json:"line,omitempty"`
	Cause     error       `json:"-"`
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap lets errors.Is/errors.As see through to Cause.
func (e *AppError) Unwrap() error {
	return e.Cause
}

// Is reports equality by Code when target is itself an *AppError.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// New creates an AppError with caller file/line captured.
func New(code Code, message string) *AppError {
	_, file, line, _ := runtime.Caller(1)
	return &AppError{Code: code, Message: message, Timestamp: time.Now(), File: file, Line: line}
}

// NewWithDetails creates an AppError with an attached details payload.
func NewWithDetails(code Code, message string, details interface{}) *AppError {
	_, file, line, _ := runtime.Caller(1)
	return &AppError{Code: code, Message: message, Details: details, Timestamp: time.Now(), File: file, Line: line}
}

// Wrap creates an AppError wrapping an existing error.
func Wrap(code Code, message string, err error) *AppError {
	_, file, line, _ := runtime.Caller(1)
	return &AppError{Code: code, Message: message, Timestamp: time.Now(), File: file, Line: line, Cause: err}
}

// WrapWithDetails wraps an error and attaches details.
func WrapWithDetails(code Code, message string, details interface{}, err error) *AppError {
	_, file, line, _ := runtime.Caller(1)
	return &AppError{Code: code, Message: message, Details: details, Timestamp: time.Now(), File: file, Line: line, Cause: err}
}

// WithDetails attaches details to an existing AppError and returns it.
func (e *AppError) WithDetails(details interface{}) *AppError {
	e.Details = details
	return e
}

// CodeOf extracts the Code from err if it is, or wraps, an *AppError.
func CodeOf(err error) (Code, bool) {
	type causer interface{ Unwrap() error }
	for err != nil {
		if ae, ok := err.(*AppError); ok {
			return ae.Code, true
		}
		c, ok := err.(causer)
		if !ok {
			return "", false
		}
		err = c.Unwrap()
	}
	return "", false
}

// Transient reports whether the error kind is expected to self-resolve and
// should therefore skip-and-continue rather than abort a request.
func Transient(code Code) bool {
	switch code {
	case CodeCircuitOpen, CodeBackendTransient, CodeBackendRateLimit, CodeBackendAntiBot:
		return true
	default:
		return false
	}
}
