// Package engine implements the Scheduler / Engine Loop and the
// Error & Cancellation taxonomy/retry policy that wraps every
// handler invocation.
package engine

import (
	"fmt"
	"strings"
)

// Code is a machine-readable error taxonomy kind.
type Code string

const (
	CodeValidation      Code = "VALIDATION"
	CodeConfiguration   Code = "CONFIGURATION"
	CodeInputResolution Code = "INPUT_RESOLUTION"
	CodeHandler         Code = "HANDLER"
	CodeExternalService Code = "EXTERNAL_SERVICE"
	CodeTimeout         Code = "TIMEOUT"
	CodeCancelled       Code = "CANCELLED"
	CodeInternal        Code = "INTERNAL"
)

// retryable reports whether a Code is retried with backoff: ExternalService
// and Timeout errors are retried, other kinds are not.
func (c Code) retryable() bool {
	return c == CodeExternalService || c == CodeTimeout
}

// Error is a structured, typed engine failure that flows from handlers
// through the scheduler to the event stream without losing its code,
// retryability, or node context.
type Error struct {
	Code    Code
	Message string
	NodeID  string
	Attempt int
	Details map[string]any
	Cause   error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	msg := strings.TrimSpace(e.Message)
	switch {
	case e.NodeID != "" && msg != "":
		return fmt.Sprintf("%s: node %q: %s", e.Code, e.NodeID, msg)
	case msg != "":
		return fmt.Sprintf("%s: %s", e.Code, msg)
	default:
		return string(e.Code)
	}
}

// Unwrap exposes the wrapped cause for errors.Is/errors.As.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Retryable reports whether this error's Code is eligible for backoff retry.
func (e *Error) Retryable() bool {
	return e != nil && e.Code.retryable()
}

// NewError constructs an *Error, defaulting an empty message to the cause's
// message if one is given.
func NewError(code Code, message, nodeID string, cause error) *Error {
	msg := strings.TrimSpace(message)
	if msg == "" && cause != nil {
		msg = cause.Error()
	}
	return &Error{Code: code, Message: msg, NodeID: nodeID, Cause: cause}
}

// WithDetails attaches structured details and returns the error for chaining.
func (e *Error) WithDetails(details map[string]any) *Error {
	if e == nil || len(details) == 0 {
		return e
	}
	if e.Details == nil {
		e.Details = make(map[string]any, len(details))
	}
	for k, v := range details {
		e.Details[k] = v
	}
	return e
}
