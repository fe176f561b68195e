package domain

import (
    "errors"
    "fmt"
)

// ErrInvalidState is returned for an illegal sprint state-machine transition.
var ErrInvalidState = errors.New("invalid state transition")

// ErrSyncInProgress is returned when a pass cannot acquire the department
// lock; callers should retry the whole pass later.
var ErrSyncInProgress = errors.New("sync already in progress for department")

// ValidationError rejects malformed task data before staging. It is never
// partially applied: the whole pass rolls back.
type ValidationError struct {
    TaskID string
    Field  string
    Reason string
}

func (e *ValidationError) Error() string {
    return fmt.Sprintf("validation: task %s field %s: %s", e.TaskID, e.Field, e.Reason)
}

// SourceError wraps an adapter fetch failure. Transient failures are retried
// and then degrade the pass to the remaining sources.
type SourceError struct {
    Source    Source
    Transient bool
    Err       error
}

func (e *SourceError) Error() string {
    return fmt.Sprintf("source %s: %v", e.Source, e.Err)
}

func (e *SourceError) Unwrap() error { return e.Err }

// IsTransient reports whether err is a retryable source failure.
func IsTransient(err error) bool {
    var se *SourceError
    if errors.As(err, &se) { return se.Transient }
    return false
}
