package postgres_test

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/phrazzld/resumate-api/internal/platform/postgres"
	"github.com/phrazzld/resumate-api/internal/store"
	"github.com/stretchr/testify/assert"
)

func TestMapError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want error
	}{
		{"no rows", sql.ErrNoRows, store.ErrNotFound},
		{"duplicate filename", &pgconn.PgError{Code: "23505", ConstraintName: "cvs_user_filename_key"}, store.ErrDuplicate},
		{"foreign key", &pgconn.PgError{Code: "23503", ConstraintName: "fk"}, store.ErrInvalidEntity},
		{"check", &pgconn.PgError{Code: "23514"}, store.ErrInvalidEntity},
		{"not null", &pgconn.PgError{Code: "23502", ColumnName: "user_id"}, store.ErrInvalidEntity},
		{"statement timeout", &pgconn.PgError{Code: "57014"}, context.Canceled},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := postgres.MapError(tt.err)
			assert.ErrorIs(t, got, tt.want)
			assert.ErrorIs(t, got, tt.err, "driver error stays wrapped")
		})
	}

	assert.Nil(t, postgres.MapError(nil))
	other := errors.New("connection refused")
	assert.Equal(t, other, postgres.MapError(other))
	unmapped := &pgconn.PgError{Code: "40001"}
	assert.Equal(t, error(unmapped), postgres.MapError(unmapped))
}

func TestMapError_DuplicateNamesConstraint(t *testing.T) {
	t.Parallel()

	err := postgres.MapError(&pgconn.PgError{Code: "23505", ConstraintName: "cvs_user_filename_key"})
	assert.Contains(t, err.Error(), "cvs_user_filename_key")
}

func TestCheckRowsAffected(t *testing.T) {
	t.Parallel()

	assert.NoError(t, postgres.CheckRowsAffected(sqlmock.NewResult(0, 1), store.ErrCVNotFound))
	assert.ErrorIs(t, postgres.CheckRowsAffected(sqlmock.NewResult(0, 0), store.ErrCVNotFound), store.ErrCVNotFound)
	assert.Error(t, postgres.CheckRowsAffected(sqlmock.NewErrorResult(errors.New("driver")), store.ErrCVNotFound))
	assert.Error(t, postgres.CheckRowsAffected(nil, store.ErrCVNotFound))
}
