package task

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReservation(t *testing.T) {
	ctx := context.Background()

	t.Run("commit keeps the increment", func(t *testing.T) {
		usage := newFakeUsage()
		userID := uuid.New()

		res, err := Reserve(ctx, usage, userID)
		require.NoError(t, err)
		count, err := res.Commit()
		require.NoError(t, err)
		require.NoError(t, res.Release(ctx), "release after commit is a no-op")

		assert.Equal(t, 1, count)
		assert.Equal(t, 1, usage.count(userID))
	})

	t.Run("release undoes the increment once", func(t *testing.T) {
		usage := newFakeUsage()
		userID := uuid.New()
		usage.counts[userID] = 4

		res, err := Reserve(ctx, usage, userID)
		require.NoError(t, err)
		assert.Equal(t, 5, usage.count(userID))

		require.NoError(t, res.Release(ctx))
		require.NoError(t, res.Release(ctx))
		assert.Equal(t, 4, usage.count(userID))

		_, err = res.Commit()
		assert.Error(t, err, "a released reservation cannot be committed")
	})

	t.Run("reserve failure", func(t *testing.T) {
		usage := newFakeUsage()
		usage.incErr = errBoom

		_, err := Reserve(ctx, usage, uuid.New())
		assert.ErrorIs(t, err, errBoom)
	})
}
