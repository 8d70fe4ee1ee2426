package fec

import (
	"errors"
	"fmt"
)

// Category is the normalized failure taxonomy for upstream calls.
type Category string

const (
	// CategoryConfig indicates a missing or rejected API key or a missing
	// committee id. Never retried.
	CategoryConfig Category = "config"

	// CategoryThrottled indicates HTTP 429 from the upstream API.
	CategoryThrottled Category = "throttled"

	// CategoryTransient indicates a timeout, network failure or 5xx.
	CategoryTransient Category = "transient"

	// CategoryBadData indicates a response that does not match the expected shape.
	CategoryBadData Category = "bad_data"

	// CategoryNotFound indicates the requested record does not exist.
	CategoryNotFound Category = "not_found"
)

// Error wraps upstream failures with a normalized category.
type Error struct {
	Category   Category
	Op         string
	StatusCode int
	Message    string
	Err        error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("fec %s [%s]: %s", e.Op, e.Category, e.Message)
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.StatusCode)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Retryable reports whether the failure is worth another attempt.
func (e *Error) Retryable() bool {
	return e.Category == CategoryThrottled || e.Category == CategoryTransient
}

func newError(category Category, op, message string, err error) *Error {
	return &Error{Category: category, Op: op, Message: message, Err: err}
}

// IsRetryable checks if err is an upstream failure worth retrying.
func IsRetryable(err error) bool {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Retryable()
	}
	return false
}

// CategoryOf extracts the category from err, or "" when err is not an
// upstream failure.
func CategoryOf(err error) Category {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Category
	}
	return ""
}

// IsCategory reports whether err is an upstream failure of category c.
func IsCategory(err error, c Category) bool {
	return CategoryOf(err) == c
}
