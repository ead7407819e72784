package pending

import (
	"errors"
	"sync"
)

var (
	// ErrAlreadyRegistered is returned when a request id is already in flight
	ErrAlreadyRegistered = errors.New("request id already registered")
	// ErrEmptyID is returned for a blank request id
	ErrEmptyID = errors.New("request id is required")
)

// Registry maps in-flight request ids to the function that aborts them.
// It is safe for concurrent use.
type Registry struct {
	mu       sync.Mutex
	handles  map[string]func()
	onChange func(size int)
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{handles: make(map[string]func())}
}

// OnChange installs a callback invoked with the registry size after every
// mutation. Used to feed the pending requests gauge.
func (r *Registry) OnChange(fn func(size int)) {
	r.mu.Lock()
	r.onChange = fn
	r.mu.Unlock()
}

// Register stores cancel under requestID. Two handles never share an id.
func (r *Registry) Register(requestID string, cancel func()) error {
	if requestID == "" {
		return ErrEmptyID
	}
	if cancel == nil {
		return errors.New("cancel handle is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.handles[requestID]; exists {
		return ErrAlreadyRegistered
	}
	r.handles[requestID] = cancel
	r.notifyLocked()
	return nil
}

// Cancel signals the handle registered under requestID and removes it.
// It reports whether a handle existed.
func (r *Registry) Cancel(requestID string) bool {
	r.mu.Lock()
	cancel, exists := r.handles[requestID]
	if exists {
		delete(r.handles, requestID)
		r.notifyLocked()
	}
	r.mu.Unlock()

	if !exists {
		return false
	}
	cancel()
	return true
}

// Release removes requestID without signaling it. Releasing an unknown
// id is a no-op.
func (r *Registry) Release(requestID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.handles[requestID]; !exists {
		return
	}
	delete(r.handles, requestID)
	r.notifyLocked()
}

// Has reports whether requestID is in flight
func (r *Registry) Has(requestID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, exists := r.handles[requestID]
	return exists
}

// Len returns the number of in-flight requests
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.handles)
}

func (r *Registry) notifyLocked() {
	if r.onChange != nil {
		r.onChange(len(r.handles))
	}
}
