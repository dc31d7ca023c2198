package storage

import "errors"

// Common storage errors.
var (
	// ErrNotFound is returned when a record is not found.
	ErrNotFound = errors.New("record not found")

	// ErrLogClosed is returned when appending to a closed log.
	ErrLogClosed = errors.New("log closed")
)
