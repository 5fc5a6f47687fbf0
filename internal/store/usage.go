package store

import (
	"context"

	"github.com/google/uuid"
)

// UsageStore defines the interface for feature-usage accounting.
type UsageStore interface {
	// ChargeFeature records one use of feature by userID on behalf of taskID.
	ChargeFeature(ctx context.Context, userID, taskID uuid.UUID, feature string) error

	// RefundFeatureUsage reverses the charge made for taskID. Refunding a
	// task without a charge, or one already refunded, is a no-op that
	// returns false.
	RefundFeatureUsage(ctx context.Context, taskID uuid.UUID) (bool, error)

	// IncrementMatchScoreCount adds one to the user's match-score counter
	// and returns the new value.
	IncrementMatchScoreCount(ctx context.Context, userID uuid.UUID) (int, error)

	// DecrementMatchScoreCount subtracts one (never below zero) and returns
	// the new value.
	DecrementMatchScoreCount(ctx context.Context, userID uuid.UUID) (int, error)
}
