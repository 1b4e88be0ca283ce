package broker

import (
	"errors"
	"sync"
)

// ErrInvalidID rejects empty execution identifiers.
var ErrInvalidID = errors.New("invalid execution id")

// Registry is the process-wide map from execution id to live channel. It is
// the one piece of shared mutable state in the subsystem: the run-start path
// and the subscribe path can race on the same id, so every mutation is
// serialized behind a single mutex. All operations are O(1) map accesses;
// callers never hold the lock across other work.
type Registry struct {
	mu       sync.Mutex
	capacity int
	channels map[string]*Channel
}

// NewRegistry creates an empty registry. capacity bounds each consumer's
// event queue on channels it creates.
func NewRegistry(capacity int) *Registry {
	if capacity <= 0 {
		capacity = 128
	}
	return &Registry{
		capacity: capacity,
		channels: make(map[string]*Channel),
	}
}

// GetOrCreate returns the channel for executionID, creating it if absent.
// Exactly one channel is ever created per id, regardless of concurrent
// callers. The channel removes itself from the registry once it is terminal
// and its last consumer has detached, in either order.
func (r *Registry) GetOrCreate(executionID string) (*Channel, error) {
	if executionID == "" {
		return nil, ErrInvalidID
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if ch, ok := r.channels[executionID]; ok {
		return ch, nil
	}
	ch := newChannel(executionID, r.capacity)
	ch.onDrained = func() { r.Remove(executionID) }
	r.channels[executionID] = ch
	return ch, nil
}

// Get returns the live channel for executionID, if any.
func (r *Registry) Get(executionID string) (*Channel, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch, ok := r.channels[executionID]
	return ch, ok
}

// Remove drops the registry entry for executionID. Removing an unknown id
// is a no-op.
func (r *Registry) Remove(executionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.channels, executionID)
}

// Len returns the number of live channels.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.channels)
}

// snapshot returns the current channels without holding the lock during
// iteration, so callers can publish while new subscriptions proceed.
func (r *Registry) snapshot() []*Channel {
	r.mu.Lock()
	defer r.mu.Unlock()
	chs := make([]*Channel, 0, len(r.channels))
	for _, ch := range r.channels {
		chs = append(chs, ch)
	}
	return chs
}
