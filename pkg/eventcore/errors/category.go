// Package errors classifies failures of storage backends and retries the
// transient ones with exponential backoff.
package errors

import (
	"context"
	"errors"
	"fmt"
)

// Category represents how an error should be handled.
type Category int

const (
	// CategoryPermanent indicates retry won't help.
	// Examples: corrupt logs, invalid configuration, encoding failures.
	CategoryPermanent Category = iota

	// CategoryTransient indicates retry will likely help.
	// Examples: network blips to Redis or MongoDB, timeouts.
	CategoryTransient
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategoryTransient:
		return "transient"
	case CategoryPermanent:
		return "permanent"
	default:
		return "unknown"
	}
}

// CategorizedError wraps an error with its category and context.
type CategorizedError struct {
	// Err is the underlying error.
	Err error

	// Category indicates how this error should be handled.
	Category Category

	// Attempts is the number of attempts that have been made.
	Attempts int

	// Context describes what operation was being attempted.
	Context string
}

// Error implements the error interface.
func (e *CategorizedError) Error() string {
	msg := e.Err.Error()
	if e.Context != "" {
		msg = e.Context + ": " + msg
	}
	if e.Attempts > 0 {
		return fmt.Sprintf("%s (%s, attempts: %d)", msg, e.Category, e.Attempts)
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *CategorizedError) Unwrap() error {
	return e.Err
}

// Transient marks err as worth retrying.
func Transient(err error, context string) *CategorizedError {
	return &CategorizedError{Err: err, Category: CategoryTransient, Context: context}
}

// Permanent marks err as not worth retrying.
func Permanent(err error, context string) *CategorizedError {
	return &CategorizedError{Err: err, Category: CategoryPermanent, Context: context}
}

// Categorize determines how an error should be handled.
// Unknown errors are permanent.
func Categorize(err error) Category {
	if err == nil {
		return CategoryPermanent
	}
	var catErr *CategorizedError
	if errors.As(err, &catErr) {
		return catErr.Category
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return CategoryTransient
	}
	return CategoryPermanent
}

// IsRetryable reports whether the error should be retried.
func IsRetryable(err error) bool {
	return Categorize(err) == CategoryTransient
}
