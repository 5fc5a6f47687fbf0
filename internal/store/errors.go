package store

import (
	"errors"
	"fmt"
)

// Sentinels shared by every store implementation. Postgres stores
// produce them through postgres.MapError.
var (
	ErrNotFound = errors.New("entity not found")

	// ErrDuplicate is returned when the user already has a CV with the
	// filename being inserted.
	ErrDuplicate = errors.New("entity already exists")

	// ErrInvalidEntity wraps constraint violations reported by the
	// database.
	ErrInvalidEntity = errors.New("invalid entity")

	ErrUpdateFailed = errors.New("update failed")

	// ErrTransactionFailed wraps begin, commit and rollback failures from
	// RunInTransaction. Errors from the work itself are not wrapped.
	ErrTransactionFailed = errors.New("transaction failed")

	ErrTaskNotFound = fmt.Errorf("%w: task", ErrNotFound)
	ErrCVNotFound   = fmt.Errorf("%w: cv", ErrNotFound)
)

// IsNotFoundError reports whether err is ErrNotFound or one of its
// entity-specific forms.
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrNotFound)
}
