// SPDX-License-Identifier: Apache-2.0
// Package errors provides typed error handling with rich context for the
// ai-town observability core.
package errors

import (
	"encoding/json"
	"fmt"
)

// ErrorCode classifies core errors for monitoring and recovery.
type ErrorCode string

const (
	// CodeInternal indicates an internal system error.
	CodeInternal ErrorCode = "INTERNAL_ERROR"

	// CodeInvalidInput indicates the input was invalid.
	CodeInvalidInput ErrorCode = "INVALID_INPUT"

	// CodeNotFound indicates a resource was not found.
	CodeNotFound ErrorCode = "NOT_FOUND"

	// CodeTimeout indicates an operation exceeded its time limit.
	CodeTimeout ErrorCode = "TIMEOUT"

	// CodeProbeTimeout indicates a health probe exceeded its deadline.
	CodeProbeTimeout ErrorCode = "PROBE_TIMEOUT"

	// CodeProbeFailure indicates a health probe returned an error.
	CodeProbeFailure ErrorCode = "PROBE_FAILURE"

	// CodeThresholdBreach indicates a metric crossed a warning or
	// critical threshold.
	CodeThresholdBreach ErrorCode = "THRESHOLD_BREACH"

	// CodeRuleCondition indicates an alert rule condition could not be
	// evaluated (malformed condition, metric not found).
	CodeRuleCondition ErrorCode = "RULE_CONDITION"

	// CodeCircuitOpen indicates an operation was short-circuited by an
	// open circuit breaker.
	CodeCircuitOpen ErrorCode = "CIRCUIT_OPEN"

	// CodeRetryExhausted indicates all retry attempts failed.
	CodeRetryExhausted ErrorCode = "RETRY_EXHAUSTED"

	// CodeNotificationFailure indicates a notification channel failed to
	// deliver an alert.
	CodeNotificationFailure ErrorCode = "NOTIFICATION_FAILURE"
)

// TownError is a typed error with rich context for observability.
// It implements the error interface and can be unwrapped with errors.As().
type TownError struct {
	Code        ErrorCode
	Message     string
	Err         error
	Context     map[string]interface{}
	Recoverable bool
	StatusCode  int // For HTTP responses
}

// Error implements the error interface.
func (e *TownError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap implements errors.Unwrap for error chain traversal.
func (e *TownError) Unwrap() error {
	return e.Err
}

// MarshalJSON implements json.Marshaler for structured logging.
func (e *TownError) MarshalJSON() ([]byte, error) {
	payload := struct {
		Message     string                 `json:"message"`
		Code        string                 `json:"code"`
		Err         string                 `json:"error,omitempty"`
		Context     map[string]interface{} `json:"context,omitempty"`
		Recoverable bool                   `json:"recoverable"`
	}{
		Message:     e.Message,
		Code:        string(e.Code),
		Context:     e.Context,
		Recoverable: e.Recoverable,
	}
	if e.Err != nil {
		payload.Err = e.Err.Error()
	}
	return json.Marshal(payload)
}

// New creates a new TownError with the given code, message, and cause.
func New(code ErrorCode, msg string, cause error) *TownError {
	return &TownError{
		Code:       code,
		Message:    msg,
		Err:        cause,
		Context:    make(map[string]interface{}),
		StatusCode: codeToStatusCode(code),
	}
}

// WithContext adds a key-value pair to the error context.
// Returns the error for method chaining.
func (e *TownError) WithContext(key string, value interface{}) *TownError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithRecoverable sets whether the error can be recovered from.
// Returns the error for method chaining.
func (e *TownError) WithRecoverable(recoverable bool) *TownError {
	e.Recoverable = recoverable
	return e
}

// AsTownError attempts to convert an error to a TownError.
// Returns the error as TownError if it is one, or wraps it otherwise.
func AsTownError(err error) *TownError {
	if err == nil {
		return nil
	}
	if te, ok := err.(*TownError); ok {
		return te
	}
	return New(CodeInternal, "wrapped error", err)
}

// CodeOf returns the ErrorCode of err, or CodeInternal for plain errors.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ""
	}
	if te, ok := err.(*TownError); ok {
		return te.Code
	}
	return CodeInternal
}

// RecoverableString returns "true" or "false" as a string for observability.
func (e *TownError) RecoverableString() string {
	if e.Recoverable {
		return "true"
	}
	return "false"
}

// codeToStatusCode maps error codes to HTTP status codes.
func codeToStatusCode(code ErrorCode) int {
	switch code {
	case CodeNotFound:
		return 404
	case CodeInvalidInput:
		return 400
	case CodeTimeout, CodeProbeTimeout:
		return 408
	case CodeCircuitOpen:
		return 503
	default:
		return 500
	}
}
