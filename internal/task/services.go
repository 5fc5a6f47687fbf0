package task

import (
	"fmt"
	"sync"
)

// ServiceFactory builds the service a job type depends on.
type ServiceFactory func() (any, error)

type serviceEntry struct {
	factory ServiceFactory
	once    sync.Once
	service any
	err     error
}

// ServiceRegistry maps service tags to lazily constructed services. A
// factory runs at most once, on the first Resolve of its tag, so job types
// that never run never build their dependencies.
type ServiceRegistry struct {
	mu      sync.RWMutex
	entries map[string]*serviceEntry
}

// NewServiceRegistry creates an empty registry.
func NewServiceRegistry() *ServiceRegistry {
	return &ServiceRegistry{entries: make(map[string]*serviceEntry)}
}

// Register binds tag to factory, replacing any previous binding.
func (r *ServiceRegistry) Register(tag string, factory ServiceFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[tag] = &serviceEntry{factory: factory}
}

// RegisterInstance binds tag to an already constructed service.
func (r *ServiceRegistry) RegisterInstance(tag string, service any) {
	r.Register(tag, func() (any, error) { return service, nil })
}

func (r *ServiceRegistry) resolve(tag string) (any, error) {
	r.mu.RLock()
	e, ok := r.entries[tag]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrServiceNotRegistered, tag)
	}
	e.once.Do(func() {
		e.service, e.err = e.factory()
	})
	if e.err != nil {
		return nil, fmt.Errorf("failed to build service %s: %w", tag, e.err)
	}
	return e.service, nil
}

// Resolve returns the service bound to tag as S.
func Resolve[S any](r *ServiceRegistry, tag string) (S, error) {
	var zero S
	svc, err := r.resolve(tag)
	if err != nil {
		return zero, err
	}
	typed, ok := svc.(S)
	if !ok {
		return zero, fmt.Errorf("service %s has unexpected type %T", tag, svc)
	}
	return typed, nil
}
