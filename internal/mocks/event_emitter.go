package mocks

import (
	"context"
	"sync"

	"github.com/phrazzld/resumate-api/internal/events"
)

// MockEventEmitter implements events.EventEmitter and records every event.
type MockEventEmitter struct {
	EmitEventFn func(ctx context.Context, event *events.TaskRequestEvent) error

	// Err is returned when EmitEventFn is nil.
	Err error

	mu     sync.Mutex
	events []*events.TaskRequestEvent
}

var _ events.EventEmitter = (*MockEventEmitter)(nil)

// EmitEvent implements events.EventEmitter.
func (m *MockEventEmitter) EmitEvent(ctx context.Context, event *events.TaskRequestEvent) error {
	m.mu.Lock()
	m.events = append(m.events, event)
	m.mu.Unlock()

	if m.EmitEventFn != nil {
		return m.EmitEventFn(ctx, event)
	}
	return m.Err
}

// Events returns a copy of the recorded events.
func (m *MockEventEmitter) Events() []*events.TaskRequestEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*events.TaskRequestEvent(nil), m.events...)
}

// Last returns the most recent event, or nil when none was emitted.
func (m *MockEventEmitter) Last() *events.TaskRequestEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.events) == 0 {
		return nil
	}
	return m.events[len(m.events)-1]
}
