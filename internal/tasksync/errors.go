package tasksync

import "errors"

var (
	// ErrCancelled is the cancellation cause of local executions aborted by
	// a cancel request or a server-side cancellation.
	ErrCancelled = errors.New("task cancelled")

	// ErrUnauthorized is returned when the API rejects the access token.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrNotFound is returned when the API does not know the task.
	ErrNotFound = errors.New("task not found")

	// ErrConflict is returned when the task is in a state that does not
	// allow the request, such as cancelling a finished task.
	ErrConflict = errors.New("task state conflict")

	// ErrUnknownTask is returned for operations on untracked task IDs.
	ErrUnknownTask = errors.New("unknown task")
)
