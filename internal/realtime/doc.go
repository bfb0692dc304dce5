// Package realtime is the client facade presentation code talks to.
//
// A Client wires together:
//   - the Connection Manager, which keeps one WebSocket session alive
//   - the Event Router, which delivers inbound events to subscribers
//   - the Room Manager, which replays joined rooms after a reconnect
//   - the Message Queue, which holds emits made while offline
//   - the Request Correlator, which pairs an emit with its response
//
// On every successful connect the client rejoins its rooms, flushes the
// queue, and only then dispatches the local connect event. Emits made
// before that point are queued behind the backlog.
//
// Subscribers run on a dedicated dispatch goroutine in arrival order, so a
// handler may call EmitAndWait: its response is matched on the read
// goroutine without waiting for the handler to return.
package realtime
