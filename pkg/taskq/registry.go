package taskq

import (
	"context"
	"fmt"
	"sync"

	"github.com/sigflow/sigflow/pkg/logger"
)

// Registry is a process-wide directory of named task queues.
type Registry struct {
	mu     sync.RWMutex
	queues map[string]*TaskQueue
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		queues: make(map[string]*TaskQueue),
	}
}

// Create creates one queue per name. Creating a name that already exists is a
// no-op, so repeated initialization (test setup, config reload) is safe.
func (r *Registry) Create(names ...string) error {
	for _, name := range names {
		if _, err := r.CreateQueue(name); err != nil {
			return err
		}
	}
	return nil
}

// CreateQueue creates a queue with options, or returns the existing queue of
// the same name (options are ignored in that case).
func (r *Registry) CreateQueue(name string, opts ...Option) (*TaskQueue, error) {
	if name == "" {
		return nil, fmt.Errorf("task queue name cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if q, exists := r.queues[name]; exists {
		return q, nil
	}

	q, err := New(name, opts...)
	if err != nil {
		return nil, err
	}

	r.queues[name] = q
	logger.Debug("created task queue", "queue", name)
	return q, nil
}

// Get returns a non-owning reference to the named queue.
func (r *Registry) Get(name string) (*TaskQueue, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	q, exists := r.queues[name]
	if !exists {
		return nil, &QueueNotFoundError{QueueName: name}
	}
	return q, nil
}

// Has returns true if a queue with the given name exists.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, exists := r.queues[name]
	return exists
}

// Names returns the names of all registered queues.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.queues))
	for name := range r.queues {
		names = append(names, name)
	}
	return names
}

// Stats returns statistics for all registered queues.
func (r *Registry) Stats() map[string]Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := make(map[string]Stats, len(r.queues))
	for name, q := range r.queues {
		stats[name] = q.Stats()
	}
	return stats
}

// Close shuts down every queue and empties the registry.
func (r *Registry) Close(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	for name, q := range r.queues {
		if err := q.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to close queue %s: %w", name, err))
		}
	}

	r.queues = make(map[string]*TaskQueue)

	if len(errs) > 0 {
		return fmt.Errorf("errors closing queues: %v", errs)
	}
	return nil
}

var (
	defaultRegistry     *Registry
	defaultRegistryOnce sync.Once
)

// Default returns the process-wide registry. It outlives every signal that
// references its queues; callers that need deterministic teardown should use
// NewRegistry instead.
func Default() *Registry {
	defaultRegistryOnce.Do(func() {
		defaultRegistry = NewRegistry()
	})
	return defaultRegistry
}
