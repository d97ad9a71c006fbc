// Package errs provides structured error types and helpers for MarketLens.
package errs

import (
	"errors"
	"strconv"
	"strings"
)

// Code identifies an error category within the aggregation pipeline.
type Code string

const (
	// CodeInvalid indicates malformed input provided by the caller.
	CodeInvalid Code = "invalid_request"
	// CodeNotFound indicates a missing subject or resource.
	CodeNotFound Code = "not_found"
	// CodeUnavailable indicates an upstream observation source failure.
	CodeUnavailable Code = "unavailable"
	// CodeTimeout indicates an upstream query exceeded its deadline.
	CodeTimeout Code = "timeout"
	// CodeInternal captures uncategorized internal failures.
	CodeInternal Code = "internal"
)

// E captures structured error information produced across the MarketLens stack.
type E struct {
	Domain  string
	Code    Code
	Message string

	cause error
}

// Option configures an error envelope.
type Option func(*E)

// New constructs an error envelope for the domain and error code.
func New(domain string, code Code, opts ...Option) *E {
	e := &E{
		Domain:  strings.TrimSpace(domain),
		Code:    code,
		Message: "",
		cause:   nil,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// WithMessage attaches a human-readable message to the error.
func WithMessage(message string) Option {
	trimmed := strings.TrimSpace(message)
	return func(e *E) {
		e.Message = trimmed
	}
}

// WithCause sets the underlying cause error.
func WithCause(err error) Option {
	return func(e *E) {
		e.cause = err
	}
}

func (e *E) Error() string {
	if e == nil {
		return "<nil>"
	}
	var parts []string

	domain := strings.TrimSpace(e.Domain)
	if domain == "" {
		domain = "unknown"
	}
	parts = append(parts, "domain="+domain)

	code := strings.TrimSpace(string(e.Code))
	if code == "" {
		code = "unknown"
	}
	parts = append(parts, "code="+code)

	if e.Message != "" {
		parts = append(parts, "message="+strconv.Quote(e.Message))
	}
	if e.cause != nil {
		parts = append(parts, "cause="+strconv.Quote(e.cause.Error()))
	}

	return strings.Join(parts, " ")
}

func (e *E) Unwrap() error { return e.cause }

// CodeOf extracts the structured code from err, or CodeInternal when absent.
func CodeOf(err error) Code {
	var envelope *E
	if errors.As(err, &envelope) && envelope != nil {
		return envelope.Code
	}
	return CodeInternal
}

// IsInvalid reports whether err carries CodeInvalid.
func IsInvalid(err error) bool { return hasCode(err, CodeInvalid) }

// IsNotFound reports whether err carries CodeNotFound.
func IsNotFound(err error) bool { return hasCode(err, CodeNotFound) }

// IsUnavailable reports whether err carries CodeUnavailable or CodeTimeout.
func IsUnavailable(err error) bool {
	return hasCode(err, CodeUnavailable) || hasCode(err, CodeTimeout)
}

func hasCode(err error, code Code) bool {
	var envelope *E
	if !errors.As(err, &envelope) || envelope == nil {
		return false
	}
	return envelope.Code == code
}
