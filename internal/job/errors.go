package job

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned for an unknown job ID.
	ErrNotFound = errors.New("job not found")
	// ErrInvalidTransition is returned when a status change would skip or revisit a stage.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrProgressClosed is returned when pushing to a channel after its sentinel.
	ErrProgressClosed = errors.New("progress channel closed")
	// ErrShuttingDown is returned by Create once the manager is closed.
	ErrShuttingDown = errors.New("server is shutting down")
	// ErrEmptyTranscript is recorded when the provider returns no text.
	ErrEmptyTranscript = errors.New("empty transcript")
)

// ValidationError rejects an upload before any job is created.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Reason
}

func transitionError(from, to Status) error {
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}
