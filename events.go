package sio

import "sync"

// EventHandler handles socket.io events.
type EventHandler func(args ...interface{})

// Reserved event names never produce wire packets; emitting one only
// fires local listeners.
var socketReservedEvents = map[string]bool{
	"error":          true,
	"connect":        true,
	"disconnect":     true,
	"newListener":    true,
	"removeListener": true,
}

var namespaceReservedEvents = map[string]bool{
	"connect":     true,
	"connection":  true,
	"newListener": true,
}

// emitter is the local listener registry shared by Socket and
// Namespace.
type emitter struct {
	mu       sync.RWMutex
	handlers map[string][]EventHandler
}

// On registers an event handler.
func (e *emitter) On(event string, handler EventHandler) {
	e.emitLocal("newListener", event)

	e.mu.Lock()
	if e.handlers == nil {
		e.handlers = make(map[string][]EventHandler)
	}
	e.handlers[event] = append(e.handlers[event], handler)
	e.mu.Unlock()
}

// Off removes all handlers for an event.
func (e *emitter) Off(event string) {
	e.mu.Lock()
	delete(e.handlers, event)
	e.mu.Unlock()

	e.emitLocal("removeListener", event)
}

func (e *emitter) listenerCount(event string) int {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return len(e.handlers[event])
}

// emitLocal delivers an event to local listeners in registration order,
// on the caller's goroutine.
func (e *emitter) emitLocal(event string, args ...interface{}) {
	e.mu.RLock()
	handlers := append([]EventHandler(nil), e.handlers[event]...)
	e.mu.RUnlock()

	for _, handler := range handlers {
		handler(args...)
	}
}
