package producer

import (
	"fmt"
	"sort"
	"sync"

	"testctl/pkg/logging"
)

// Registry tracks registered producers by id.
type Registry struct {
	mu        sync.RWMutex
	producers map[string]Producer
}

// NewRegistry creates an empty producer registry.
func NewRegistry() *Registry {
	return &Registry{
		producers: make(map[string]Producer),
	}
}

// Register adds a producer. Duplicate ids are rejected so two controllers
// can never claim the same diff stream.
func (r *Registry) Register(p Producer) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := p.ID()
	if id == "" {
		return fmt.Errorf("producer id must not be empty")
	}
	if _, exists := r.producers[id]; exists {
		return fmt.Errorf("producer %s already registered", id)
	}
	r.producers[id] = p

	logging.Info("Registry", "Registered producer: %s", id)
	return nil
}

// Unregister removes a producer by id.
func (r *Registry) Unregister(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.producers[id]; !exists {
		return fmt.Errorf("producer %s not found", id)
	}
	delete(r.producers, id)

	logging.Info("Registry", "Unregistered producer: %s", id)
	return nil
}

// Get returns a producer by id.
func (r *Registry) Get(id string) (Producer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.producers[id]
	return p, ok
}

// GetAll returns all registered producers in deterministic id order.
func (r *Registry) GetAll() []Producer {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.producers))
	for id := range r.producers {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	all := make([]Producer, 0, len(ids))
	for _, id := range ids {
		all = append(all, r.producers[id])
	}
	return all
}

// Len returns the number of registered producers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.producers)
}
