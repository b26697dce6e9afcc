package models

import "errors"

// Sentinel errors forming the service's error taxonomy. Components wrap
// these with fmt.Errorf("pkg: ...: %w", ...) so callers can classify with
// errors.Is while keeping contextual detail.
var (
	// ErrNotFound: the referenced session, task, or user does not exist.
	ErrNotFound = errors.New("not found")

	// ErrStateConflict: a transition's expected-state precondition failed,
	// typically because a concurrent transition won the race.
	ErrStateConflict = errors.New("state conflict")

	// ErrInvalidState: the operation is not valid for the task's current
	// state, e.g. resuming a task that is not interrupted.
	ErrInvalidState = errors.New("invalid state")

	// ErrSessionCapacity: the session already holds the configured maximum
	// number of tasks.
	ErrSessionCapacity = errors.New("session capacity exceeded")

	// ErrDispatchUnavailable: the execution backend rejected or could not
	// accept a job submission.
	ErrDispatchUnavailable = errors.New("dispatch unavailable")

	// ErrStorageUnavailable: the state store could not serve the operation.
	ErrStorageUnavailable = errors.New("storage unavailable")
)

// ErrorKind returns the stable kind tag for an error, or "internal" when the
// error is outside the taxonomy.
func ErrorKind(err error) string {
	switch {
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrStateConflict):
		return "state_conflict"
	case errors.Is(err, ErrInvalidState):
		return "invalid_state"
	case errors.Is(err, ErrSessionCapacity):
		return "session_capacity_exceeded"
	case errors.Is(err, ErrDispatchUnavailable):
		return "dispatch_unavailable"
	case errors.Is(err, ErrStorageUnavailable):
		return "storage_unavailable"
	default:
		return "internal"
	}
}
