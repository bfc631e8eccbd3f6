package call

import "sync"

// Registry is the process-wide map of tenant ID to active leg. It
// enforces the one-call-per-tenant invariant: Register on a present
// key fails, and every leg passes through exactly one
// Register/Unregister cycle.
type Registry struct {
	mu   sync.Mutex
	legs map[string]*Leg
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{legs: make(map[string]*Leg)}
}

// Register claims the tenant's call slot for the leg. Returns
// ErrAlreadyInCall if the tenant already has a registered leg.
func (r *Registry) Register(tenantID string, leg *Leg) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.legs[tenantID]; ok {
		return ErrAlreadyInCall
	}
	r.legs[tenantID] = leg
	return nil
}

// Lookup returns the tenant's active leg, or nil.
func (r *Registry) Lookup(tenantID string) *Leg {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.legs[tenantID]
}

// Unregister releases the tenant's call slot. Idempotent.
func (r *Registry) Unregister(tenantID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.legs, tenantID)
}

// Len returns the number of registered legs.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.legs)
}

// Snapshot returns the registered legs at this instant. The slice is
// owned by the caller; the legs keep changing underneath it.
func (r *Registry) Snapshot() []*Leg {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Leg, 0, len(r.legs))
	for _, leg := range r.legs {
		out = append(out, leg)
	}
	return out
}
