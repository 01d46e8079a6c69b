package store

import "errors"

var (
	// ErrJobNotFound is returned when no history exists for a job ID.
	ErrJobNotFound = errors.New("job not found in history")

	// ErrInvalidTimestamp is returned when a stored timestamp cannot be parsed.
	ErrInvalidTimestamp = errors.New("invalid stored timestamp")
)
