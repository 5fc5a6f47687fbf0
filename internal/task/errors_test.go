package task

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeErrorMessage(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{name: "nil", err: nil, want: GenericFailureMessage},
		{name: "blank", err: errors.New("   "), want: GenericFailureMessage},
		{name: "plain", err: errors.New("template not found"), want: "template not found"},
		{name: "quota", err: errors.New("You exceeded your current quota"), want: QuotaExceededMessage},
		{name: "rate limit", err: errors.New("rate-limit hit"), want: QuotaExceededMessage},
		{name: "http 429", err: errors.New("status 429 from upstream"), want: QuotaExceededMessage},
		{name: "no valid artifacts", err: fmt.Errorf("persist: %w", ErrNoValidArtifacts), want: NoValidCVMessage},
		{name: "shutdown", err: ErrShuttingDown, want: ShutdownMessage},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeErrorMessage(tt.err))
		})
	}
}

func TestIsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancelCause(context.Background())
	assert.False(t, isCancellation(ctx, errBoom))
	assert.True(t, isCancellation(ctx, fmt.Errorf("wrapped: %w", ErrCancelled)))

	cancel(ErrCancelled)
	assert.True(t, isCancellation(ctx, errBoom), "an aborted context wins over the returned error")

	shut, stop := context.WithCancelCause(context.Background())
	stop(ErrShuttingDown)
	assert.False(t, isCancellation(shut, context.Canceled))
	assert.True(t, isShutdown(shut, context.Canceled))
}
