package catalog

import "errors"

// StoreError represents a catalog storage error with a typed code.
//
// Code lets callers distinguish "row doesn't exist" from real storage
// failures without string matching. Wrapped driver errors ride along in
// Message for logging.
type StoreError struct {
	// Code is the error category
	Code ErrorCode

	// Message is a human-readable error description
	Message string

	// Key identifies the row related to the error (if applicable)
	Key string
}

// Error implements the error interface.
func (e *StoreError) Error() string {
	if e.Key != "" {
		return e.Message + ": " + e.Key
	}
	return e.Message
}

// ErrorCode represents the category of a catalog error.
type ErrorCode int

const (
	// ErrCodeNotFound indicates the requested row doesn't exist
	ErrCodeNotFound ErrorCode = iota

	// ErrCodeConflict indicates a transaction lost a commit race and was
	// not retried to completion
	ErrCodeConflict

	// ErrCodeIO indicates an underlying storage failure
	ErrCodeIO
)

// NotFound builds a StoreError for a missing row.
func NotFound(what, key string) *StoreError {
	return &StoreError{Code: ErrCodeNotFound, Message: what + " not found", Key: key}
}

// IsNotFound reports whether err is a StoreError with ErrCodeNotFound.
func IsNotFound(err error) bool {
	var storeErr *StoreError
	if errors.As(err, &storeErr) {
		return storeErr.Code == ErrCodeNotFound
	}
	return false
}
