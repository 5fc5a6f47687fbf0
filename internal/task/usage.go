package task

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Feature tags charged when a task is scheduled.
const (
	FeatureCVGeneration = "cv_generation"
	FeatureCVImport     = "cv_import"
	FeatureTemplateCV   = "template_cv"
)

// FeatureCharger records a usage charge for a task at schedule time.
type FeatureCharger interface {
	ChargeFeature(ctx context.Context, userID, taskID uuid.UUID, feature string) error
}

// UsageCounter is the per-user match-score counter.
type UsageCounter interface {
	IncrementMatchScoreCount(ctx context.Context, userID uuid.UUID) (int, error)
	DecrementMatchScoreCount(ctx context.Context, userID uuid.UUID) (int, error)
}

var errReservationSettled = errors.New("usage reservation already settled")

// Reservation is one optimistic increment of a usage counter. It is either
// committed when the work succeeds or released, which undoes the increment,
// when it does not.
type Reservation struct {
	counter UsageCounter
	userID  uuid.UUID
	value   int

	mu      sync.Mutex
	settled bool
}

// Reserve increments the counter and returns the open reservation.
func Reserve(ctx context.Context, counter UsageCounter, userID uuid.UUID) (*Reservation, error) {
	value, err := counter.IncrementMatchScoreCount(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to reserve usage: %w", err)
	}
	return &Reservation{counter: counter, userID: userID, value: value}, nil
}

// Commit makes the increment final and returns the counter value it
// produced.
func (r *Reservation) Commit() (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.settled {
		return 0, errReservationSettled
	}
	r.settled = true
	return r.value, nil
}

// Release undoes the increment. Releasing a settled reservation is a no-op.
func (r *Reservation) Release(ctx context.Context) error {
	r.mu.Lock()
	if r.settled {
		r.mu.Unlock()
		return nil
	}
	r.settled = true
	r.mu.Unlock()

	if _, err := r.counter.DecrementMatchScoreCount(ctx, r.userID); err != nil {
		return fmt.Errorf("failed to release usage: %w", err)
	}
	return nil
}
