package postgres

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newUsageStoreWithMock(t *testing.T) (*PostgresUsageStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewPostgresUsageStore(db, nil), mock
}

func TestPostgresUsageStore_ChargeAndRefund(t *testing.T) {
	t.Parallel()

	s, mock := newUsageStoreWithMock(t)
	userID, taskID := uuid.New(), uuid.New()

	mock.ExpectExec("INSERT INTO feature_usage").
		WithArgs(sqlmock.AnyArg(), userID, taskID, "cv_import", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, s.ChargeFeature(context.Background(), userID, taskID, "cv_import"))

	mock.ExpectExec("UPDATE feature_usage").
		WithArgs(sqlmock.AnyArg(), taskID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	refunded, err := s.RefundFeatureUsage(context.Background(), taskID)
	require.NoError(t, err)
	assert.True(t, refunded)

	// A second refund finds no unrefunded charge.
	mock.ExpectExec("UPDATE feature_usage").
		WithArgs(sqlmock.AnyArg(), taskID).
		WillReturnResult(sqlmock.NewResult(0, 0))
	refunded, err = s.RefundFeatureUsage(context.Background(), taskID)
	require.NoError(t, err)
	assert.False(t, refunded)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresUsageStore_MatchScoreCounter(t *testing.T) {
	t.Parallel()

	s, mock := newUsageStoreWithMock(t)
	userID := uuid.New()

	mock.ExpectQuery("INSERT INTO users_usage").
		WithArgs(userID).
		WillReturnRows(sqlmock.NewRows([]string{"match_score_count"}).AddRow(3))
	n, err := s.IncrementMatchScoreCount(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	mock.ExpectQuery("UPDATE users_usage").
		WithArgs(userID).
		WillReturnRows(sqlmock.NewRows([]string{"match_score_count"}).AddRow(2))
	n, err = s.DecrementMatchScoreCount(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	mock.ExpectQuery("UPDATE users_usage").
		WithArgs(userID).
		WillReturnRows(sqlmock.NewRows([]string{"match_score_count"}))
	n, err = s.DecrementMatchScoreCount(context.Background(), userID)
	require.NoError(t, err)
	assert.Zero(t, n)

	assert.NoError(t, mock.ExpectationsWereMet())
}
