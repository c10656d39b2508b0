// Package errors provides structured error handling for the pipecheck harness.
// Every fatal or recoverable condition raised while binding, accepting,
// exchanging or joining carries a code, a category from the harness error
// taxonomy, and the phase it occurred in.
package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"time"
)

// Category classifies an error according to how the harness reacts to it
type Category string

const (
	// CategoryTransient errors are retried silently (name already in use)
	CategoryTransient Category = "transient"
	// CategorySetup errors abort the run before any exchange happens
	CategorySetup Category = "setup"
	// CategoryConnection errors forfeit a single accept slot
	CategoryConnection Category = "connection"
	// CategoryProtocol errors are I/O failures or payload mismatches during an exchange
	CategoryProtocol Category = "protocol"
	// CategoryTask errors describe how a spawned task terminated
	CategoryTask Category = "task"
	// CategoryConfig errors come from invalid run configuration
	CategoryConfig Category = "config"
)

// Severity indicates how critical an error is
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// Context records where an error occurred
type Context struct {
	RunID     string    `json:"run_id,omitempty"`
	Phase     string    `json:"phase,omitempty"`
	Component string    `json:"component,omitempty"`
	Endpoint  string    `json:"endpoint,omitempty"`
	TaskIndex int       `json:"task_index,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// HarnessError is implemented by every error produced by this module
type HarnessError interface {
	error

	// Code returns the harness error code
	Code() int

	// Message returns the human-readable message without the cause
	Message() string

	// Category returns the taxonomy category
	Category() Category

	// Severity returns the severity level
	Severity() Severity

	// Context returns where the error occurred
	Context() *Context

	// WithContext returns a copy carrying ctx
	WithContext(ctx *Context) HarnessError

	// Unwrap returns the underlying cause
	Unwrap() error
}

type baseError struct {
	code     int
	message  string
	category Category
	severity Severity
	context  *Context
	cause    error
}

// Error implements the error interface. The message reads like a context
// chain: "Listener bind failed: listen unix ...: address already in use".
func (e *baseError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s", e.message, e.cause.Error())
	}
	return e.message
}

func (e *baseError) Code() int          { return e.code }
func (e *baseError) Message() string    { return e.message }
func (e *baseError) Category() Category { return e.category }
func (e *baseError) Severity() Severity { return e.severity }
func (e *baseError) Context() *Context  { return e.context }
func (e *baseError) Unwrap() error      { return e.cause }

// WithContext returns a new error with the provided context
func (e *baseError) WithContext(ctx *Context) HarnessError {
	newErr := *e
	if ctx != nil && ctx.Timestamp.IsZero() {
		c := *ctx
		c.Timestamp = e.context.Timestamp
		ctx = &c
	}
	newErr.context = ctx
	return &newErr
}

// MarshalJSON implements json.Marshaler
func (e *baseError) MarshalJSON() ([]byte, error) {
	out := map[string]interface{}{
		"code":     e.code,
		"name":     CodeName(e.code),
		"message":  e.message,
		"category": string(e.category),
		"severity": string(e.severity),
	}
	if e.context != nil {
		out["context"] = e.context
	}
	if e.cause != nil {
		out["cause"] = e.cause.Error()
	}
	return json.Marshal(out)
}

// New creates an error for a registered code
func New(code int, message string) HarnessError {
	return Wrap(nil, code, message)
}

// Wrap wraps cause with a registered code. The category and severity come
// from the code registry.
func Wrap(cause error, code int, message string) HarnessError {
	info := lookup(code)
	return &baseError{
		code:     code,
		message:  message,
		category: info.Category,
		severity: info.Severity,
		cause:    cause,
		context:  &Context{Timestamp: time.Now()},
	}
}

// Wrapf wraps cause with a formatted message
func Wrapf(cause error, code int, format string, args ...interface{}) HarnessError {
	return Wrap(cause, code, fmt.Sprintf(format, args...))
}

// AsHarnessError finds the outermost HarnessError in err's chain
func AsHarnessError(err error) (HarnessError, bool) {
	var he HarnessError
	if err == nil || !stderrors.As(err, &he) {
		return nil, false
	}
	return he, true
}

// IsCode reports whether any HarnessError in err's chain has the given code
func IsCode(err error, code int) bool {
	for err != nil {
		if he, ok := err.(HarnessError); ok && he.Code() == code {
			return true
		}
		err = stderrors.Unwrap(err)
	}
	return false
}

// IsCategory reports whether the outermost HarnessError has the given category
func IsCategory(err error, category Category) bool {
	if he, ok := AsHarnessError(err); ok {
		return he.Category() == category
	}
	return false
}
