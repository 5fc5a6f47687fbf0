package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/phrazzld/resumate-api/internal/store"
)

// SQLSTATE codes the stores translate.
const (
	uniqueViolationCode     = "23505"
	foreignKeyViolationCode = "23503"
	checkViolationCode      = "23514"
	notNullViolationCode    = "23502"
	queryCanceledCode       = "57014"
)

// MapError translates driver errors into store sentinels. The driver
// error stays wrapped for logging. Errors without a translation are
// returned as is.
func MapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %w", store.ErrNotFound, err)
	}

	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case uniqueViolationCode:
		// cvs_user_filename_key when a concurrent save took the filename first
		return fmt.Errorf("%w (%s): %w", store.ErrDuplicate, pgErr.ConstraintName, err)
	case foreignKeyViolationCode, checkViolationCode:
		return fmt.Errorf("%w: constraint %s: %w", store.ErrInvalidEntity, pgErr.ConstraintName, err)
	case notNullViolationCode:
		return fmt.Errorf("%w: column %s is required: %w", store.ErrInvalidEntity, pgErr.ColumnName, err)
	case queryCanceledCode:
		// statement_timeout or a cancelled request context on the server side
		return fmt.Errorf("%w: %w", context.Canceled, err)
	}
	return err
}

// CheckRowsAffected returns notFound when an UPDATE or DELETE matched no
// row.
func CheckRowsAffected(result sql.Result, notFound error) error {
	if result == nil {
		return errors.New("nil sql result")
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return notFound
	}
	return nil
}
