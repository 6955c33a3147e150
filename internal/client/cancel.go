package client

import (
	"context"
	"sync"
)

// CancelRegistry maps in-flight request identities to cancellation handles.
// Reusing a key while one is still registered overwrites the old handle (last
// registration wins, consistent with a map keyed by request identity).
type CancelRegistry struct {
	mu      sync.Mutex
	handles map[string]context.CancelFunc
}

// NewCancelRegistry creates an empty registry.
func NewCancelRegistry() *CancelRegistry {
	return &CancelRegistry{
		handles: make(map[string]context.CancelFunc),
	}
}

// Register stores the cancellation handle for an in-flight attempt.
func (r *CancelRegistry) Register(id string, cancel context.CancelFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handles[id] = cancel
}

// Remove deletes the mapping without aborting the attempt. Called when an
// attempt completes on its own.
func (r *CancelRegistry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.handles, id)
}

// Cancel aborts the handle registered under id and removes the mapping.
// No-op if id is absent, so cancelling an already-completed request is safe.
func (r *CancelRegistry) Cancel(id string) {
	r.mu.Lock()
	cancel, ok := r.handles[id]
	if ok {
		delete(r.handles, id)
	}
	r.mu.Unlock()

	if ok {
		cancel()
	}
}

// CancelAll aborts and removes every registered handle.
func (r *CancelRegistry) CancelAll() {
	r.mu.Lock()
	cancels := make([]context.CancelFunc, 0, len(r.handles))
	for id, cancel := range r.handles {
		cancels = append(cancels, cancel)
		delete(r.handles, id)
	}
	r.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
}

// Len returns the number of in-flight handles.
func (r *CancelRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.handles)
}
