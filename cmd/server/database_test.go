package main

import (
	"testing"

	"github.com/phrazzld/resumate-api/internal/config"
	"github.com/stretchr/testify/assert"
)

func TestPoolSize(t *testing.T) {
	cfg := &config.Config{Task: config.TaskConfig{MaxConcurrent: 4}}
	assert.Equal(t, 12, poolSize(cfg))

	cfg.Database.MaxOpenConns = 3
	assert.Equal(t, 3, poolSize(cfg))
}
