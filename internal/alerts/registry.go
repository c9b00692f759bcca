// Package alerts delivers over-budget alert events to connected subscribers.
//
// The Registry tracks which channels are live for each owner; connection
// handlers add and remove channels, and the Publisher only reads from it.
package alerts

import (
	"sync"

	"budgetwatch/internal/core"
)

// Channel is a live connection that alert events can be pushed to.
// Send must not block.
type Channel interface {
	Send(ev core.AlertEvent) bool
}

// Registry maps owner id to the set of connected channels.
type Registry struct {
	mu       sync.RWMutex
	channels map[string]map[Channel]struct{}
}

func NewRegistry() *Registry {
	return &Registry{channels: make(map[string]map[Channel]struct{})}
}

// Register adds ch for owner and returns a function that removes it.
func (r *Registry) Register(owner string, ch Channel) (unregister func()) {
	r.mu.Lock()
	set, ok := r.channels[owner]
	if !ok {
		set = make(map[Channel]struct{})
		r.channels[owner] = set
	}
	set[ch] = struct{}{}
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { r.remove(owner, ch) })
	}
}

func (r *Registry) remove(owner string, ch Channel) {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.channels[owner]
	if !ok {
		return
	}
	delete(set, ch)
	if len(set) == 0 {
		delete(r.channels, owner)
	}
}

// Channels returns a snapshot of the channels registered for owner.
func (r *Registry) Channels(owner string) []Channel {
	r.mu.RLock()
	defer r.mu.RUnlock()
	set := r.channels[owner]
	if len(set) == 0 {
		return nil
	}
	out := make([]Channel, 0, len(set))
	for ch := range set {
		out = append(out, ch)
	}
	return out
}

// Count returns the number of connected channels across all owners.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, set := range r.channels {
		n += len(set)
	}
	return n
}

// BufferedChannel is a Channel backed by a buffered Go channel. When the
// buffer is full the event is dropped.
type BufferedChannel struct {
	events chan core.AlertEvent
}

func NewBufferedChannel(size int) *BufferedChannel {
	if size <= 0 {
		size = 16
	}
	return &BufferedChannel{events: make(chan core.AlertEvent, size)}
}

func (c *BufferedChannel) Send(ev core.AlertEvent) bool {
	select {
	case c.events <- ev:
		return true
	default:
		return false
	}
}

// Events is drained by the connection writer.
func (c *BufferedChannel) Events() <-chan core.AlertEvent {
	return c.events
}
