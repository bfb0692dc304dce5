package router

import (
	"sync"

	"github.com/rickgao/projectlink/internal/event"
)

type posted struct {
	event event.Event
	data  event.Payload
}

// Serial dispatches to a Router on a background goroutine, in the order
// Post was called. Post never waits for a handler, so a handler may block
// on traffic that arrives through the same connection. The goroutine exits
// when the backlog is empty and is started again by the next Post.
type Serial struct {
	r *Router

	mu      sync.Mutex
	backlog []posted
	running bool
	idle    chan struct{} // closed when the backlog drains
}

// NewSerial creates a Serial dispatching to r.
func NewSerial(r *Router) *Serial {
	idle := make(chan struct{})
	close(idle)
	return &Serial{r: r, idle: idle}
}

// Post queues ev for dispatch.
func (s *Serial) Post(ev event.Event, data event.Payload) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.backlog = append(s.backlog, posted{event: ev, data: data})
	if !s.running {
		s.running = true
		s.idle = make(chan struct{})
		go s.drain(s.idle)
	}
}

func (s *Serial) drain(idle chan struct{}) {
	for {
		s.mu.Lock()
		if len(s.backlog) == 0 {
			s.running = false
			s.backlog = nil
			s.mu.Unlock()
			close(idle)
			return
		}
		p := s.backlog[0]
		s.backlog[0] = posted{}
		s.backlog = s.backlog[1:]
		s.mu.Unlock()

		s.r.Dispatch(p.event, p.data)
	}
}

// Pending returns the number of posted events not yet dispatched.
func (s *Serial) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.backlog)
}

// Idle returns a channel that is closed once everything posted so far has
// been dispatched.
func (s *Serial) Idle() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.idle
}
