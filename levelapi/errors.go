package levelapi

import (
	"errors"
	"strings"
)

// ErrorClass distinguishes fetch failures that confirm absence from transient
// upstream trouble.
type ErrorClass int

const (
	// ErrorClassNotFound indicates the level definitively does not exist.
	ErrorClassNotFound ErrorClass = iota
	// ErrorClassTransient indicates a retryable upstream or network failure.
	ErrorClassTransient
)

// String returns a human-readable name for the error class.
func (ec ErrorClass) String() string {
	switch ec {
	case ErrorClassNotFound:
		return "not_found"
	case ErrorClassTransient:
		return "transient"
	default:
		return "unknown"
	}
}

// ClassifyFetchError sorts a Resolve error into confirmed-absent vs transient.
// The admission pipeline treats both as NotFound, but logging and metrics keep
// the distinction so operators can tell an outage from a deleted level.
func ClassifyFetchError(err error) ErrorClass {
	if errors.Is(err, ErrNotFound) {
		return ErrorClassNotFound
	}
	lower := strings.ToLower(err.Error())
	if strings.Contains(lower, "404") || strings.Contains(lower, "does not exist") {
		return ErrorClassNotFound
	}
	return ErrorClassTransient
}
