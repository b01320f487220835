// Package errors provides error classification and structured error reporting
// for the OHLCV collector and forecaster. Every unit of work (one symbol, one
// snapshot file) is handled catch-log-continue, so the main job of this package
// is to attach enough context to a failure for the log line to be useful.
package errors

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"net/http"
	"strings"
	"time"
)

// ErrorType represents the classification of an error
type ErrorType string

const (
	ErrorTypeNetwork     ErrorType = "network"      // Network connectivity issues
	ErrorTypeTimeout     ErrorType = "timeout"      // Request timeout or cancellation
	ErrorTypeRateLimit   ErrorType = "rate_limit"   // Rate limiting from the exchange
	ErrorTypeServerError ErrorType = "server_error" // HTTP 5xx errors
	ErrorTypeBadRequest  ErrorType = "bad_request"  // HTTP 4xx errors (except 404 and 429)
	ErrorTypeNotFound    ErrorType = "not_found"    // Unknown market or missing resource
	ErrorTypeParse       ErrorType = "parse"        // Malformed payload or file contents
	ErrorTypeIO          ErrorType = "io"           // Local file system failures
	ErrorTypeNoData      ErrorType = "no_data"      // Nothing to work with
	ErrorTypeUnknown     ErrorType = "unknown"      // Unclassified errors
)

// Sentinel errors shared across packages.
var (
	// ErrNoData signals that no snapshot data exists for a symbol. It is
	// distinct from an empty series so callers can tell "nothing collected"
	// from "collected but sparse".
	ErrNoData = errors.New("no data")

	// ErrInsufficientData signals that a series is too short to fit a model.
	ErrInsufficientData = errors.New("insufficient data")

	// ErrEmptyResponse signals that the exchange returned no bars.
	ErrEmptyResponse = errors.New("empty response from exchange")
)

// StatusCoder is implemented by errors that carry an HTTP status code.
type StatusCoder interface {
	HTTPStatus() int
}

// ParseError marks a failure to decode exchange payloads or snapshot rows.
type ParseError struct {
	Source string // file path or endpoint
	Line   int    // 1-based line, 0 when not applicable
	Err    error
}

// Error implements the error interface
func (e *ParseError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("parse %s line %d: %v", e.Source, e.Line, e.Err)
	}
	return fmt.Sprintf("parse %s: %v", e.Source, e.Err)
}

// Unwrap returns the underlying error
func (e *ParseError) Unwrap() error {
	return e.Err
}

// ClassifiedError represents an error with metadata for handling decisions
type ClassifiedError struct {
	Err       error                  `json:"error"`
	Type      ErrorType              `json:"type"`
	Retryable bool                   `json:"retryable"`
	Component string                 `json:"component"`
	Operation string                 `json:"operation"`
	Context   map[string]interface{} `json:"context"`
	Timestamp time.Time              `json:"timestamp"`
}

// Error implements the error interface
func (ce *ClassifiedError) Error() string {
	return fmt.Sprintf("[%s/%s] %s: %v", ce.Component, ce.Type, ce.Operation, ce.Err)
}

// Unwrap returns the underlying error
func (ce *ClassifiedError) Unwrap() error {
	return ce.Err
}

// Is checks if the error is of the specified type
func (ce *ClassifiedError) Is(target error) bool {
	if t, ok := target.(*ClassifiedError); ok {
		return ce.Type == t.Type
	}
	return false
}

// With attaches a context value and returns the same error for chaining.
func (ce *ClassifiedError) With(key string, value interface{}) *ClassifiedError {
	if ce.Context == nil {
		ce.Context = make(map[string]interface{})
	}
	ce.Context[key] = value
	return ce
}

// LogAttrs flattens the error into slog key/value pairs.
func (ce *ClassifiedError) LogAttrs() []any {
	attrs := []any{
		"error", ce.Err.Error(),
		"error_type", string(ce.Type),
		"retryable", ce.Retryable,
		"component", ce.Component,
		"operation", ce.Operation,
	}
	for k, v := range ce.Context {
		attrs = append(attrs, k, v)
	}
	return attrs
}

// Classify analyzes an error and returns a ClassifiedError with retry metadata.
// An error that is already classified is returned unchanged.
func Classify(err error, component, operation string) *ClassifiedError {
	if err == nil {
		return nil
	}

	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce
	}

	errorType := classifyErrorType(err)
	return &ClassifiedError{
		Err:       err,
		Type:      errorType,
		Retryable: isRetryable(errorType),
		Component: component,
		Operation: operation,
		Context:   make(map[string]interface{}),
		Timestamp: time.Now(),
	}
}

// TypeOf returns the classification of err without building a ClassifiedError.
func TypeOf(err error) ErrorType {
	if err == nil {
		return ""
	}
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Type
	}
	return classifyErrorType(err)
}

// IsRetryable reports whether an error is worth another attempt.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Retryable
	}
	return isRetryable(classifyErrorType(err))
}

// classifyErrorType determines the error type from typed errors first and
// falls back to message patterns.
func classifyErrorType(err error) ErrorType {
	switch {
	case errors.Is(err, ErrNoData), errors.Is(err, ErrInsufficientData), errors.Is(err, ErrEmptyResponse):
		return ErrorTypeNoData
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return ErrorTypeTimeout
	}

	var sc StatusCoder
	if errors.As(err, &sc) {
		return classifyStatus(sc.HTTPStatus())
	}

	var pe *ParseError
	if errors.As(err, &pe) {
		return ErrorTypeParse
	}

	var pathErr *fs.PathError
	if errors.As(err, &pathErr) {
		return ErrorTypeIO
	}

	if isTimeoutError(err) {
		return ErrorTypeTimeout
	}
	if isNetworkError(err) {
		return ErrorTypeNetwork
	}

	errStr := strings.ToLower(err.Error())
	switch {
	case strings.Contains(errStr, "rate limit"), strings.Contains(errStr, "too many requests"):
		return ErrorTypeRateLimit
	case strings.Contains(errStr, "malformed"), strings.Contains(errStr, "parse"), strings.Contains(errStr, "invalid character"):
		return ErrorTypeParse
	case strings.Contains(errStr, "server error"), strings.Contains(errStr, "service unavailable"):
		return ErrorTypeServerError
	}

	return ErrorTypeUnknown
}

func classifyStatus(code int) ErrorType {
	switch {
	case code == http.StatusTooManyRequests:
		return ErrorTypeRateLimit
	case code == http.StatusNotFound:
		return ErrorTypeNotFound
	case code >= 500:
		return ErrorTypeServerError
	case code >= 400:
		return ErrorTypeBadRequest
	default:
		return ErrorTypeUnknown
	}
}

// isNetworkError checks if the error is network-related
func isNetworkError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	errStr := strings.ToLower(err.Error())
	networkPatterns := []string{
		"connection refused",
		"connection reset",
		"no route to host",
		"network unreachable",
		"no such host",
	}

	for _, pattern := range networkPatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}

	return false
}

// isTimeoutError checks if the error is timeout-related
func isTimeoutError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "deadline exceeded")
}

// isRetryable determines if an error type should be retried
func isRetryable(errorType ErrorType) bool {
	switch errorType {
	case ErrorTypeNetwork, ErrorTypeTimeout, ErrorTypeRateLimit, ErrorTypeServerError:
		return true
	default:
		return false
	}
}
