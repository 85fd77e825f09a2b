package models

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned by stores and the job registry for unknown ids.
	ErrNotFound = errors.New("not found")

	// ErrJobTimeout is the cause attached to a job context whose deadline elapsed.
	ErrJobTimeout = errors.New("job timeout")

	// ErrStopRequested is the cause attached to every job context on shutdown.
	ErrStopRequested = errors.New("stop requested")

	// ErrInvalidInput marks caller mistakes such as missing ids or a payload
	// that is not an object.
	ErrInvalidInput = errors.New("invalid input")

	// ErrInvalidTransition is returned when a registry update would move a job
	// backwards or out of a terminal status.
	ErrInvalidTransition = errors.New("invalid status transition")
)

// AuthError reports a missing or unusable credential bundle.
type AuthError struct {
	Reason string
}

func (e *AuthError) Error() string {
	return "auth: " + e.Reason
}

// RemoteError reports a non-2xx or unparseable response from the remote platform.
type RemoteError struct {
	Op         string
	StatusCode int
	Body       string
	Err        error
}

func (e *RemoteError) Error() string {
	msg := e.Op
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(": http %d", e.StatusCode)
	}
	if e.Body != "" {
		msg += ": " + e.Body
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *RemoteError) Unwrap() error {
	return e.Err
}

// ArchiveError reports a single archive entry that was rejected or could not
// be written. It never fails the job.
type ArchiveError struct {
	Entry  string
	Reason string
}

func (e *ArchiveError) Error() string {
	return fmt.Sprintf("archive entry %q: %s", e.Entry, e.Reason)
}
