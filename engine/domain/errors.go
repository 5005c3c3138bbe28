package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors forming the pipeline error taxonomy.
var (
	// ErrAlreadyRunning rejects a duplicate job request for a
	// (profile, phase) that already has a run in flight. Callers should
	// poll status rather than retry.
	ErrAlreadyRunning = errors.New("job already running")

	// ErrUpstreamFetch marks a scrape failure after the retry budget was
	// exhausted. Partial progress is retained.
	ErrUpstreamFetch = errors.New("upstream fetch failed")

	// ErrAnnotation marks a per-item annotation failure. Non-fatal: the
	// error is recorded on the post and processing continues.
	ErrAnnotation = errors.New("annotation failed")

	// ErrInfrastructure marks a store or auth failure that fails the whole
	// job outright.
	ErrInfrastructure = errors.New("infrastructure failure")

	// ErrInvalidArgument rejects bad request parameters before any
	// external call is made.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrNotFound indicates a missing profile or post record.
	ErrNotFound = errors.New("not found")
)

// JobError wraps a sentinel with the (profile, phase) it occurred in.
type JobError struct {
	Username string
	Phase    string
	Wrapped  error
}

func (e *JobError) Error() string {
	return fmt.Sprintf("%s/%s: %s", e.Username, e.Phase, e.Wrapped)
}

func (e *JobError) Unwrap() error { return e.Wrapped }

// NewJobError wraps err with job context.
func NewJobError(username, phase string, err error) *JobError {
	return &JobError{Username: username, Phase: phase, Wrapped: err}
}
