package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/phrazzld/resumate-api/internal/platform/logger"
)

// ErrNoHandler is returned when an event is emitted before any handler
// was registered.
var ErrNoHandler = errors.New("no event handler registered")

// InMemoryEventEmitter dispatches events to its handlers in the caller's
// goroutine, in registration order.
type InMemoryEventEmitter struct {
	mu       sync.RWMutex
	handlers []EventHandler
	logger   *slog.Logger
}

var _ EventEmitter = (*InMemoryEventEmitter)(nil)

// NewInMemoryEventEmitter creates an emitter without handlers.
func NewInMemoryEventEmitter(log *slog.Logger) *InMemoryEventEmitter {
	if log == nil {
		log = slog.Default()
	}
	return &InMemoryEventEmitter{
		logger: log.With("component", "event_emitter"),
	}
}

// RegisterHandler adds handler to the dispatch list.
func (e *InMemoryEventEmitter) RegisterHandler(handler EventHandler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers = append(e.handlers, handler)
	e.logger.Debug("registered event handler", "handler_count", len(e.handlers))
}

// EmitEvent validates event and hands it to every handler, even after one
// fails. The handler errors are joined.
func (e *InMemoryEventEmitter) EmitEvent(ctx context.Context, event *TaskRequestEvent) error {
	if err := event.Validate(); err != nil {
		return err
	}

	e.mu.RLock()
	handlers := append([]EventHandler(nil), e.handlers...)
	e.mu.RUnlock()

	log := logger.FromContextOrDefault(ctx, e.logger).With(
		"event_id", event.ID,
		"event_type", event.Type,
	)
	if len(handlers) == 0 {
		log.Error("event emitted without handlers")
		return fmt.Errorf("%w: %s", ErrNoHandler, event.Type)
	}

	var errs []error
	for i, handler := range handlers {
		if err := handler.HandleEvent(ctx, event); err != nil {
			log.Warn("event handler failed", "handler_index", i, "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
