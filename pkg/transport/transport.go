// Package transport models the cross-window message channel: opaque string
// payloads tagged with the sender's origin and window identity.
package transport

import "sync"

// AnyOrigin is the wildcard target origin.
const AnyOrigin = "*"

// Window is a message destination. ID identifies the window for
// source-identity checks.
type Window interface {
	ID() string
	PostMessage(data, targetOrigin string) error
}

// Event is a single delivered message.
type Event struct {
	Data   string
	Origin string
	Source Window
}

// Handler receives delivered events.
type Handler func(Event)

// SameWindow reports whether a and b identify the same window.
func SameWindow(a, b Window) bool {
	if a == nil || b == nil {
		return false
	}
	return a.ID() == b.ID()
}

// Mux fans one window's events out to several handlers, like multiple
// message listeners on the same window.
type Mux struct {
	mu       sync.Mutex
	handlers []Handler
}

// Add registers h. Handlers run in registration order.
func (m *Mux) Add(h Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers = append(m.handlers, h)
}

// Handle delivers ev to every registered handler.
func (m *Mux) Handle(ev Event) {
	m.mu.Lock()
	handlers := append([]Handler(nil), m.handlers...)
	m.mu.Unlock()
	for _, h := range handlers {
		h(ev)
	}
}
