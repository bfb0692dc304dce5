package router

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/rickgao/projectlink/internal/event"
)

// Handler receives the payload of a dispatched event. Handlers of the same
// event share one payload and must not modify it.
type Handler func(data event.Payload)

// Option configures a Router.
type Option func(*Router)

// WithEmptyHook sets a callback invoked when the last handler for an
// event is removed, so a bridged transport listener can be released.
func WithEmptyHook(fn func(event.Event)) Option {
	return func(r *Router) {
		r.onEmpty = fn
	}
}

// Stats contains runtime statistics.
type Stats struct {
	Dispatched int64
	Unhandled  int64
	Panics     int64
	Released   int64 // events whose last handler was removed
	Events     int
	Handlers   int
}

// Router is a typed publish/subscribe registry.
type Router struct {
	logger  *slog.Logger
	onEmpty func(event.Event)

	mu       sync.Mutex
	handlers map[event.Event][]*entry
	nextID   uint64

	dispatched atomic.Int64
	unhandled  atomic.Int64
	panics     atomic.Int64
	released   atomic.Int64
}

type entry struct {
	id      uint64
	fn      Handler
	once    bool
	removed atomic.Bool
}

// Subscription identifies one registered handler.
type Subscription struct {
	r     *Router
	event event.Event
	id    uint64
}

// Event returns the event the subscription is registered for.
func (s Subscription) Event() event.Event {
	return s.event
}

// Unsubscribe removes the handler. Calling it more than once is a no-op.
func (s Subscription) Unsubscribe() {
	if s.r != nil {
		s.r.Off(s)
	}
}

// New creates an empty Router.
func New(logger *slog.Logger, opts ...Option) *Router {
	if logger == nil {
		logger = slog.Default()
	}

	r := &Router{
		logger:   logger,
		handlers: make(map[event.Event][]*entry),
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// On registers h for ev. Handlers run in registration order.
func (r *Router) On(ev event.Event, h Handler) Subscription {
	return r.add(ev, h, false)
}

// Once registers h for the next dispatch of ev only.
func (r *Router) Once(ev event.Event, h Handler) Subscription {
	return r.add(ev, h, true)
}

func (r *Router) add(ev event.Event, h Handler, once bool) Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	e := &entry{id: r.nextID, fn: h, once: once}
	r.handlers[ev] = append(r.handlers[ev], e)

	return Subscription{r: r, event: ev, id: e.id}
}

// Off removes the handler identified by sub.
func (r *Router) Off(sub Subscription) {
	r.mu.Lock()
	emptied := r.removeLocked(sub.event, sub.id)
	r.mu.Unlock()

	if !emptied {
		return
	}
	r.released.Add(1)
	if r.onEmpty != nil {
		r.onEmpty(sub.event)
	}
}

// removeLocked drops handler id and reports whether ev has no handlers left.
func (r *Router) removeLocked(ev event.Event, id uint64) bool {
	list, ok := r.handlers[ev]
	if !ok {
		return false
	}

	for i, e := range list {
		if e.id != id {
			continue
		}
		e.removed.Store(true)
		list = append(list[:i:i], list[i+1:]...)
		if len(list) == 0 {
			delete(r.handlers, ev)
			return true
		}
		r.handlers[ev] = list
		return false
	}
	return false
}

// Dispatch delivers data to every handler registered for ev at the time of
// the call. A handler unsubscribed by an earlier handler in the same
// dispatch is skipped; the rest still run.
func (r *Router) Dispatch(ev event.Event, data event.Payload) {
	r.mu.Lock()
	list := r.handlers[ev]
	snapshot := make([]*entry, len(list))
	copy(snapshot, list)
	r.mu.Unlock()

	r.dispatched.Add(1)

	if len(snapshot) == 0 {
		r.unhandled.Add(1)
		r.logger.Debug("no handlers for event", "event", ev)
		return
	}

	for _, e := range snapshot {
		if e.removed.Load() {
			continue
		}
		if e.once {
			r.Off(Subscription{r: r, event: ev, id: e.id})
		}
		r.invoke(ev, e, data)
	}
}

// invoke runs one handler, containing any panic.
func (r *Router) invoke(ev event.Event, e *entry, data event.Payload) {
	defer func() {
		if rec := recover(); rec != nil {
			r.panics.Add(1)
			r.logger.Error("event handler panicked",
				"event", ev,
				"handler_id", e.id,
				"panic", rec,
			)
		}
	}()
	e.fn(data)
}

// HandlerCount returns the number of handlers registered for ev.
func (r *Router) HandlerCount(ev event.Event) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.handlers[ev])
}

// Events returns every event with at least one handler.
func (r *Router) Events() []event.Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]event.Event, 0, len(r.handlers))
	for ev := range r.handlers {
		out = append(out, ev)
	}
	return out
}

// Stats returns current router statistics.
func (r *Router) Stats() Stats {
	r.mu.Lock()
	events := len(r.handlers)
	handlers := 0
	for _, list := range r.handlers {
		handlers += len(list)
	}
	r.mu.Unlock()

	return Stats{
		Dispatched: r.dispatched.Load(),
		Unhandled:  r.unhandled.Load(),
		Panics:     r.panics.Load(),
		Released:   r.released.Load(),
		Events:     events,
		Handlers:   handlers,
	}
}
