package util

import "errors"

// Sentinel errors for common failure modes
var (
	// ErrNotFound indicates a required resource was not found
	ErrNotFound = errors.New("not found")

	// ErrCorrupt indicates a cached file does not match its declared digest
	ErrCorrupt = errors.New("digest mismatch")

	// ErrInvalidConfig indicates invalid configuration
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrPermission indicates a permission error
	ErrPermission = errors.New("permission denied")

	// ErrRetriesExhausted indicates a transient failure outlived its retry budget
	ErrRetriesExhausted = errors.New("max retries exceeded")
)
