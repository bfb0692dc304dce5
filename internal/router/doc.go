// Package router implements the Event Router component.
//
// The Event Router:
//   - Keeps an ordered handler list per event tag
//   - Dispatches each inbound event exactly once, in transport order
//   - Isolates handlers: a panic is logged and the next handler still runs
//   - Drops an event's registry entry when its last handler unsubscribes
//
// Serial wraps a Router so dispatch runs on its own goroutine, keeping the
// transport reader free while handlers work.
package router
