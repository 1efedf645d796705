package signaling

import (
	"encoding/json"
	"sync"
)

// Handler receives the raw payload of one event. Payloads are passed through
// untouched; decoding is the subscriber's business.
type Handler func(payload json.RawMessage)

type handlerEntry struct {
	id uint64
	fn Handler
}

// registry routes incoming envelopes to subscribers. Dispatch happens on a
// single goroutine, so handlers for one client never run concurrently.
type registry struct {
	mu       sync.Mutex
	nextID   uint64
	handlers map[string][]handlerEntry
}

func (r *registry) add(event string, fn Handler) func() {
	event = canonical(event)

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.handlers == nil {
		r.handlers = make(map[string][]handlerEntry)
	}
	r.nextID++
	id := r.nextID
	r.handlers[event] = append(r.handlers[event], handlerEntry{id: id, fn: fn})

	var once sync.Once
	return func() {
		once.Do(func() { r.remove(event, id) })
	}
}

func (r *registry) remove(event string, id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries := r.handlers[event]
	for i, e := range entries {
		if e.id == id {
			r.handlers[event] = append(entries[:i:i], entries[i+1:]...)
			break
		}
	}
	if len(r.handlers[event]) == 0 {
		delete(r.handlers, event)
	}
}

func (r *registry) count(event string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.handlers[canonical(event)])
}

// dispatch calls every handler for env.Event in registration order. The list is
// copied first so handlers may subscribe or unsubscribe while running.
func (r *registry) dispatch(env *Envelope) {
	r.mu.Lock()
	entries := append([]handlerEntry(nil), r.handlers[env.Event]...)
	r.mu.Unlock()

	for _, e := range entries {
		e.fn(env.Payload)
	}
}
