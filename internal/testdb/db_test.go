package testdb

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetTestDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("RESUMATE_TEST_DB_URL", "")
	assert.Empty(t, GetTestDatabaseURL())
	assert.True(t, ShouldSkipDatabaseTest())

	t.Setenv("RESUMATE_TEST_DB_URL", "postgres://fallback/db")
	assert.Equal(t, "postgres://fallback/db", GetTestDatabaseURL())

	t.Setenv("DATABASE_URL", "postgres://primary/db")
	assert.Equal(t, "postgres://primary/db", GetTestDatabaseURL())
	assert.False(t, ShouldSkipDatabaseTest())
}

func TestGetTestDBWithT_SkipsWithoutDatabase(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("RESUMATE_TEST_DB_URL", "")

	skipped := true
	t.Run("inner", func(t *testing.T) {
		GetTestDBWithT(t)
		skipped = false
	})
	assert.True(t, skipped)
}
