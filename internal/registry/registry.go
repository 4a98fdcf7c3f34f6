// Package registry owns the mapping from a logical service name to one or
// more callable backend instances.
package registry

import (
	"sort"
	"sync"

	"github.com/fundview/gateway/internal/domain"
	"github.com/fundview/gateway/pkg/logger"
)

// Registry is an in-memory, name-keyed store of service bindings. A name with
// zero instances is equivalent to "not registered".
type Registry struct {
	mu       sync.RWMutex
	bindings map[string][]domain.Service
	logger   *logger.Logger
}

// New creates an empty registry
func New(log *logger.Logger) *Registry {
	return &Registry{
		bindings: make(map[string][]domain.Service),
		logger:   log.ComponentLogger("registry"),
	}
}

// RegisterService binds a single instance under name. It returns false
// without mutation when the name is already bound or invalid.
func (r *Registry) RegisterService(name string, instance domain.Service) bool {
	if name == "" || instance == nil {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.bindings[name]) > 0 {
		r.logger.WithField("service", name).Warn("Service already registered")
		return false
	}

	r.bindings[name] = []domain.Service{instance}
	r.logger.WithField("service", name).Info("Registered service")
	return true
}

// RegisterInstance appends an instance to the pool for name, creating the
// binding if absent. This is the multi-instance path for load balancing and
// never rejects a duplicate name.
func (r *Registry) RegisterInstance(name string, instance domain.Service) bool {
	if name == "" || instance == nil {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.bindings[name] = append(r.bindings[name], instance)
	r.logger.WithField("service", name).
		WithField("pool_size", len(r.bindings[name])).
		Info("Registered service instance")
	return true
}

// Unregister removes the entire binding for name. It returns false when the
// name is unknown.
func (r *Registry) Unregister(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.bindings[name]; !exists {
		return false
	}

	delete(r.bindings, name)
	r.logger.WithField("service", name).Info("Unregistered service")
	return true
}

// Get returns the first instance bound to name, or nil when unknown.
func (r *Registry) Get(name string) domain.Service {
	r.mu.RLock()
	defer r.mu.RUnlock()

	instances := r.bindings[name]
	if len(instances) == 0 {
		return nil
	}
	return instances[0]
}

// Instances returns a snapshot of the pool for name, in registration order.
// The returned slice is owned by the caller; later registrations or reloads
// never mutate it.
func (r *Registry) Instances(name string) []domain.Service {
	r.mu.RLock()
	defer r.mu.RUnlock()

	instances := r.bindings[name]
	if len(instances) == 0 {
		return nil
	}

	snapshot := make([]domain.Service, len(instances))
	copy(snapshot, instances)
	return snapshot
}

// Replace atomically swaps the entire pool for name with a single new
// instance. It returns false when the name is not already registered.
func (r *Registry) Replace(name string, instance domain.Service) bool {
	if instance == nil {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.bindings[name]) == 0 {
		return false
	}

	r.bindings[name] = []domain.Service{instance}
	r.logger.WithField("service", name).Info("Reloaded service instance")
	return true
}

// IsRegistered reports whether name is bound to at least one instance.
func (r *Registry) IsRegistered(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.bindings[name]) > 0
}

// Names returns the sorted set of registered service names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.bindings))
	for name := range r.bindings {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of registered services.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.bindings)
}

// Clear removes every binding. Used by gateway shutdown to release all
// registered instances.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.bindings = make(map[string][]domain.Service)
	r.logger.Info("Cleared all service bindings")
}
