package worker

import (
	"context"
	"sync"
)

// Registry tracks the cancel functions of running jobs so an API call can
// stop a crawl that a worker is executing.
type Registry struct {
	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{cancels: make(map[string]context.CancelFunc)}
}

// Register records cancel for jobID. The returned func removes the entry.
func (r *Registry) Register(jobID string, cancel context.CancelFunc) func() {
	r.mu.Lock()
	r.cancels[jobID] = cancel
	r.mu.Unlock()
	return func() {
		r.mu.Lock()
		delete(r.cancels, jobID)
		r.mu.Unlock()
	}
}

// Cancel stops a running job. It reports false when no worker holds jobID.
func (r *Registry) Cancel(jobID string) bool {
	r.mu.Lock()
	cancel, ok := r.cancels[jobID]
	r.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

// Running returns the number of registered jobs.
func (r *Registry) Running() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.cancels)
}
