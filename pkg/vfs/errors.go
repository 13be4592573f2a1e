package vfs

import "errors"

// OpError represents a domain error from namespace and tree operations.
//
// These are business logic errors (path escapes the sandbox, name collision,
// move into own subtree, etc.) as opposed to infrastructure errors (catalog
// failure, disk error). The presentation layer translates OpError codes to
// API error responses; infrastructure errors stay opaque and map to 500s.
type OpError struct {
	// Code is the error category
	Code ErrCode

	// Message is a human-readable error description
	Message string

	// Path is the virtual path related to the error (if applicable)
	Path string
}

// Error implements the error interface.
func (e *OpError) Error() string {
	if e.Path != "" {
		return e.Message + ": " + e.Path
	}
	return e.Message
}

// ErrCode represents the category of a domain error.
type ErrCode int

const (
	// ErrNotAllowed indicates a path outside the user-mutable namespace:
	// escaping the sandbox roots, touching a fixed directory, or joining "..".
	ErrNotAllowed ErrCode = iota

	// ErrTooLong indicates a file name of 255 bytes or more
	ErrTooLong

	// ErrMustBeAbsolute indicates a relative path where an absolute one is required
	ErrMustBeAbsolute

	// ErrBadFileName indicates a name that cannot be a path segment
	// (empty, ".", or containing a separator)
	ErrBadFileName

	// ErrAlreadyExist indicates a sibling with the target name already exists
	ErrAlreadyExist

	// ErrParentNotDir indicates the target parent is not a directory
	ErrParentNotDir

	// ErrRecursived indicates a move of a directory into its own subtree
	ErrRecursived

	// ErrNoParent indicates the referenced parent directory doesn't exist
	ErrNoParent

	// ErrNotFound indicates the referenced node or task doesn't exist
	ErrNotFound

	// ErrAlreadyDeleted indicates a delete of an already soft-deleted node
	ErrAlreadyDeleted

	// ErrNoSlice indicates a finalize with no (or missing) staged slices
	ErrNoSlice

	// ErrHashNotMatch indicates merged upload bytes don't match the claimed hash
	ErrHashNotMatch
)

// IsCode reports whether err is an *OpError carrying the given code.
func IsCode(err error, code ErrCode) bool {
	var opErr *OpError
	if errors.As(err, &opErr) {
		return opErr.Code == code
	}
	return false
}

func opErr(code ErrCode, message, path string) *OpError {
	return &OpError{Code: code, Message: message, Path: path}
}
