package domain

import (
	"errors"
	"fmt"
)

// JobStatus is the lifecycle state of an evaluation job.
type JobStatus string

const (
	StatusPending   JobStatus = "PENDING"
	StatusRunning   JobStatus = "RUNNING"
	StatusCompleted JobStatus = "COMPLETED"
	StatusFailed    JobStatus = "FAILED"
)

// ErrUnknownStatus is returned when a status code cannot be decoded.
var ErrUnknownStatus = errors.New("unknown job status")

// ParseJobStatus decodes a status code. Returns ErrUnknownStatus on an
// unrecognized code; there is no fallback value.
func ParseJobStatus(code string) (JobStatus, error) {
	switch JobStatus(code) {
	case StatusPending, StatusRunning, StatusCompleted, StatusFailed:
		return JobStatus(code), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownStatus, code)
	}
}

// Terminal reports whether the status admits no further transitions.
func (s JobStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// InFlight reports whether a job in this status blocks a new acquisition
// for the same (user, trade) key.
func (s JobStatus) InFlight() bool {
	return s == StatusPending || s == StatusRunning
}
