package transport

import (
	"sync"

	"github.com/pkg/errors"
)

// ErrClosed is returned when posting to or from a closed endpoint.
var ErrClosed = errors.New("window closed")

// Bus is an in-process message bus. Posts are queued and delivered by
// Drain, so a handler that replies never re-enters the sender.
type Bus struct {
	mu    sync.Mutex
	queue []delivery
}

type delivery struct {
	to    *Endpoint
	event Event
}

// NewBus returns an empty bus.
func NewBus() *Bus {
	return &Bus{}
}

// Open registers a window with the given identity and origin.
func (b *Bus) Open(id, origin string) *Endpoint {
	return &Endpoint{bus: b, id: id, origin: origin}
}

// Drain delivers queued messages until the queue is empty and returns the
// number delivered. Messages posted by handlers are delivered in the same
// call.
func (b *Bus) Drain() int {
	delivered := 0
	for {
		b.mu.Lock()
		if len(b.queue) == 0 {
			b.mu.Unlock()
			return delivered
		}
		next := b.queue[0]
		b.queue = b.queue[1:]
		b.mu.Unlock()

		if h := next.to.handler(); h != nil {
			h(next.event)
			delivered++
		}
	}
}

// Pending returns the number of queued messages.
func (b *Bus) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queue)
}

func (b *Bus) enqueue(d delivery) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.queue = append(b.queue, d)
}

// Endpoint is one window attached to a Bus.
type Endpoint struct {
	bus    *Bus
	id     string
	mu     sync.Mutex
	origin string
	listen Handler
	closed bool
}

// ID returns the window identity.
func (e *Endpoint) ID() string { return e.id }

// Origin returns the origin of the document currently loaded.
func (e *Endpoint) Origin() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.origin
}

// Listen installs the message handler, replacing any previous one.
func (e *Endpoint) Listen(h Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.listen = h
}

// Load simulates a navigation: the origin changes and the old handler is
// discarded. The window identity is preserved.
func (e *Endpoint) Load(origin string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.origin = origin
	e.listen = nil
	e.closed = false
}

// Close marks the window closed. Queued messages are still delivered but
// further posts fail.
func (e *Endpoint) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	e.listen = nil
}

// Closed reports whether Close was called.
func (e *Endpoint) Closed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

// Ref returns a handle through which from can post messages to e.
func (e *Endpoint) Ref(from *Endpoint) Window {
	return ref{from: from, to: e}
}

func (e *Endpoint) handler() Handler {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.listen
}

type ref struct {
	from *Endpoint
	to   *Endpoint
}

func (r ref) ID() string { return r.to.id }

// PostMessage queues data for the target window. A target origin that
// does not match the loaded document drops the message, as browsers do.
func (r ref) PostMessage(data, targetOrigin string) error {
	if r.from.Closed() || r.to.Closed() {
		return ErrClosed
	}
	if targetOrigin != AnyOrigin && targetOrigin != r.to.Origin() {
		return nil
	}
	r.to.bus.enqueue(delivery{
		to: r.to,
		event: Event{
			Data:   data,
			Origin: r.from.Origin(),
			Source: ref{from: r.to, to: r.from},
		},
	})
	return nil
}
