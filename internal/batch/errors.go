package batch

import "errors"

var (
	// ErrJobTimeout is returned to a caller whose wait outlived its timeout.
	// The job itself keeps running and its outcomes are still recorded.
	ErrJobTimeout = errors.New("timed out waiting for job termination")

	// ErrJobNotFound is returned when a job ID is unknown to the runner.
	ErrJobNotFound = errors.New("job not found")

	// ErrThresholdExceeded is the failure reason for a job with too many
	// errored records.
	ErrThresholdExceeded = errors.New("record error threshold exceeded")
)
